package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"dialwatch/internal/calls"
	"dialwatch/internal/config"
	"dialwatch/internal/enrich"
	"dialwatch/internal/logging"
	"dialwatch/internal/snapshot"
	"dialwatch/internal/store"
	"dialwatch/internal/stream"
	"dialwatch/internal/tracker"
)

var (
	// ErrNotTracked is returned for operations on campaigns the engine does
	// not track and has no archived snapshot for.
	ErrNotTracked = errors.New("campaign is not tracked")
	// ErrNoSnapshot is returned when a tracked campaign has not completed its
	// first poll cycle.
	ErrNoSnapshot = errors.New("no snapshot available yet")
)

// Archive persists and recalls terminal snapshots. *store.Store satisfies it.
type Archive interface {
	SaveTerminal(ctx context.Context, snap *snapshot.Campaign) error
	Get(ctx context.Context, campaignID string) (*snapshot.Campaign, error)
}

// Options carries the tunables the engine hands to its sessions.
type Options struct {
	Tracker              tracker.Config
	SubscriberBuffer     int
	MaxEnrichmentFetches int
}

// OptionsFromConfig maps the configuration file onto engine options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Tracker: tracker.Config{
			PollInterval:     time.Duration(cfg.Tracker.PollInterval) * time.Second,
			RetryBudget:      cfg.Tracker.StatusRetryBudget,
			RateLimitBackoff: time.Duration(cfg.Tracker.RateLimitBackoff) * time.Second,
		},
		SubscriberBuffer:     cfg.Tracker.SubscriberBuffer,
		MaxEnrichmentFetches: cfg.Vendor.MaxEnrichmentFetches,
	}
}

// CampaignInfo summarizes one tracked or archived campaign.
type CampaignInfo struct {
	CampaignID string          `json:"campaign_id"`
	Name       string          `json:"name"`
	State      tracker.State   `json:"state"`
	Degraded   bool            `json:"degraded,omitempty"`
	Counts     snapshot.Counts `json:"counts"`
	ComputedAt time.Time       `json:"computed_at"`
}

// Engine owns campaign tracking: it starts and stops per-campaign poll
// sessions, shares one enrichment cache and stream hub across them, and
// answers synchronous snapshot queries with an archive fallback for campaigns
// that finished earlier.
type Engine struct {
	opts     Options
	api      calls.API
	merger   *snapshot.Merger
	hub      *stream.Hub
	archive  Archive
	notifier tracker.Notifier
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*tracker.Session
	closed   bool
}

// New constructs an engine. archive and notifier may be nil.
func New(opts Options, api calls.API, archive Archive, notifier tracker.Notifier, logger *slog.Logger) *Engine {
	cache := enrich.NewCache(api, logger)
	return &Engine{
		opts:     opts,
		api:      api,
		merger:   snapshot.NewMerger(cache, logger, opts.MaxEnrichmentFetches),
		hub:      stream.NewHub(opts.SubscriberBuffer, logger),
		archive:  archive,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "engine"),
		sessions: make(map[string]*tracker.Session),
	}
}

// StartTracking begins polling a campaign. Starting an already-tracked
// campaign is a no-op.
func (e *Engine) StartTracking(ctx context.Context, campaignID string) error {
	campaignID = strings.TrimSpace(campaignID)
	if campaignID == "" {
		return errors.New("campaign id is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New("engine is closed")
	}
	if _, ok := e.sessions[campaignID]; ok {
		return nil
	}

	session := tracker.New(campaignID, e.opts.Tracker, tracker.Deps{
		Fetcher:  e.api,
		Merger:   e.merger,
		Hub:      e.hub,
		Archive:  e.archive,
		Notifier: e.notifier,
		Logger:   e.logger,
	})
	e.sessions[campaignID] = session
	// Sessions outlive the caller; an HTTP track request's context is
	// canceled as soon as the handler returns, so the session runs detached
	// and ends only through StopTracking or Close.
	session.Start(context.WithoutCancel(ctx))

	e.logger.Info("tracking campaign", logging.String(logging.FieldCampaignID, campaignID))
	return nil
}

// StopTracking cancels a campaign's session. Streams that have not seen a
// terminal event close without one, and the campaign is forgotten.
func (e *Engine) StopTracking(campaignID string) error {
	e.mu.Lock()
	session, ok := e.sessions[campaignID]
	if ok {
		delete(e.sessions, campaignID)
	}
	e.mu.Unlock()
	if !ok {
		return ErrNotTracked
	}

	session.Stop()
	// A finished session keeps its terminal snapshot in the hub for late
	// subscribers; explicit untracking evicts that too.
	e.hub.CloseCampaign(campaignID)
	e.logger.Info("stopped tracking campaign", logging.String(logging.FieldCampaignID, campaignID))
	return nil
}

// Subscribe attaches a live event stream to a tracked campaign.
func (e *Engine) Subscribe(campaignID string) (*stream.Subscription, error) {
	e.mu.Lock()
	_, ok := e.sessions[campaignID]
	e.mu.Unlock()
	if !ok {
		return nil, ErrNotTracked
	}

	sub, err := e.hub.Subscribe(campaignID)
	if errors.Is(err, stream.ErrUnknownCampaign) {
		return nil, ErrNotTracked
	}
	return sub, err
}

// Snapshot answers the synchronous snapshot query: the live merged view for a
// tracked campaign, falling back to the archive for campaigns that finished in
// an earlier run or were already untracked.
func (e *Engine) Snapshot(ctx context.Context, campaignID string) (*snapshot.Campaign, error) {
	e.mu.Lock()
	session, tracked := e.sessions[campaignID]
	e.mu.Unlock()

	if tracked {
		if snap := session.Snapshot(); snap != nil {
			return snap, nil
		}
		return nil, ErrNoSnapshot
	}

	if e.archive == nil {
		return nil, ErrNotTracked
	}
	snap, err := e.archive.Get(ctx, campaignID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotTracked
	}
	return snap, err
}

// Refresh requests an immediate poll cycle for a tracked campaign.
func (e *Engine) Refresh(campaignID string) error {
	e.mu.Lock()
	session, ok := e.sessions[campaignID]
	e.mu.Unlock()
	if !ok {
		return ErrNotTracked
	}
	session.Poke()
	return nil
}

// Tracked summarizes every tracked campaign, sorted by campaign id.
func (e *Engine) Tracked() []CampaignInfo {
	e.mu.Lock()
	sessions := make([]*tracker.Session, 0, len(e.sessions))
	for _, session := range e.sessions {
		sessions = append(sessions, session)
	}
	e.mu.Unlock()

	infos := make([]CampaignInfo, 0, len(sessions))
	for _, session := range sessions {
		info := CampaignInfo{
			CampaignID: session.CampaignID(),
			State:      session.State(),
		}
		if snap := session.Snapshot(); snap != nil {
			info.Name = snap.Name
			info.Degraded = snap.Degraded
			info.Counts = snap.CountRecipients()
			info.ComputedAt = snap.ComputedAt
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].CampaignID < infos[j].CampaignID })
	return infos
}

// Close stops every session. Streams without a terminal event close without
// one.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	sessions := make([]*tracker.Session, 0, len(e.sessions))
	for id, session := range e.sessions {
		sessions = append(sessions, session)
		delete(e.sessions, id)
	}
	e.mu.Unlock()

	for _, session := range sessions {
		session.Stop()
	}
	e.logger.Info("engine closed", logging.Int("sessions", len(sessions)))
}
