package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"dialwatch/internal/calls"
	"dialwatch/internal/logging"
	"dialwatch/internal/snapshot"
	"dialwatch/internal/stream"
)

// State is the session lifecycle.
type State string

const (
	StateStarting State = "starting"
	StatePolling  State = "polling"
	StateDraining State = "draining"
	StateStopped  State = "stopped"
)

// StatusFetcher fetches the vendor's authoritative batch status.
type StatusFetcher interface {
	FetchBatchStatus(ctx context.Context, campaignID string) (*calls.BatchStatus, error)
}

// Archiver persists terminal snapshots.
type Archiver interface {
	SaveTerminal(ctx context.Context, snap *snapshot.Campaign) error
}

// Notifier receives campaign lifecycle notifications. Delivery failures are
// logged, never propagated.
type Notifier interface {
	CampaignCompleted(ctx context.Context, snap *snapshot.Campaign) error
	CampaignDegraded(ctx context.Context, snap *snapshot.Campaign, reason string) error
}

// Config controls a session's polling behavior.
type Config struct {
	// PollInterval is the delay between successful status cycles.
	PollInterval time.Duration
	// RetryBudget is the number of consecutive status failures tolerated
	// before the campaign is force-finished with a degraded snapshot.
	RetryBudget int
	// RateLimitBackoff replaces PollInterval after a rate-limited response.
	RateLimitBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.RetryBudget <= 0 {
		c.RetryBudget = 5
	}
	if c.RateLimitBackoff <= 0 {
		c.RateLimitBackoff = 30 * time.Second
	}
	return c
}

// Deps are the collaborators a session drives.
type Deps struct {
	Fetcher  StatusFetcher
	Merger   *snapshot.Merger
	Hub      *stream.Hub
	Archive  Archiver
	Notifier Notifier
	Logger   *slog.Logger
}

// Session tracks one campaign: it polls vendor status on an interval, merges
// each response into the previous snapshot, publishes diffs to the hub, and
// finishes the stream exactly once, either cleanly when every recipient
// settles or degraded when the retry budget runs out.
type Session struct {
	campaignID string
	cfg        Config
	deps       Deps
	logger     *slog.Logger

	mu       sync.Mutex
	state    State
	prev     *snapshot.Campaign
	failures int
	terminal bool

	poke     chan struct{}
	done     chan struct{}
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// New constructs a session for one campaign. Start must be called before the
// session does anything.
func New(campaignID string, cfg Config, deps Deps) *Session {
	return &Session{
		campaignID: campaignID,
		cfg:        cfg.withDefaults(),
		deps:       deps,
		logger: logging.NewComponentLogger(deps.Logger, "tracker").With(
			logging.String(logging.FieldCampaignID, campaignID)),
		state: StateStarting,
		poke:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// CampaignID returns the campaign this session tracks.
func (s *Session) CampaignID() string { return s.campaignID }

// Start registers the campaign's stream and begins polling. The first cycle
// runs immediately.
func (s *Session) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.deps.Hub.Register(s.campaignID)
	go s.run(runCtx)
}

// Stop cancels tracking. If the campaign has not finished, subscriber streams
// are closed without a terminal event. Stop blocks until the poll loop exits.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		<-s.done
		s.mu.Lock()
		terminal := s.terminal
		s.mu.Unlock()
		if !terminal {
			s.deps.Hub.CloseCampaign(s.campaignID)
		}
	})
}

// Poke requests an immediate poll cycle instead of waiting out the interval.
func (s *Session) Poke() {
	select {
	case s.poke <- struct{}{}:
	default:
	}
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns a copy of the latest merged snapshot, or nil before the
// first successful cycle.
func (s *Session) Snapshot() *snapshot.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prev.Clone()
}

// Done is closed when the poll loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.setState(StateStopped)
	defer func() {
		s.mu.Lock()
		last := s.prev
		s.mu.Unlock()
		s.deps.Merger.ReleaseEnrichment(last)
	}()
	s.setState(StatePolling)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-s.poke:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		delay, finished := s.cycle(ctx)
		if finished {
			return
		}
		timer.Reset(delay)
	}
}

// cycle runs one poll. It returns the delay before the next cycle, or
// finished=true when the session is done (terminal, degraded, or canceled).
func (s *Session) cycle(ctx context.Context) (time.Duration, bool) {
	status, err := s.deps.Fetcher.FetchBatchStatus(ctx, s.campaignID)
	if err != nil {
		if ctx.Err() != nil {
			return 0, true
		}
		return s.handleFetchFailure(ctx, err)
	}

	s.mu.Lock()
	s.failures = 0
	prev := s.prev
	s.mu.Unlock()

	next, diff := s.deps.Merger.Merge(ctx, prev, status)
	if ctx.Err() != nil {
		return 0, true
	}

	s.mu.Lock()
	s.prev = next
	s.mu.Unlock()

	if len(diff) > 0 {
		s.deps.Hub.Publish(s.campaignID, diff, next)
	}

	if next.OverallState == snapshot.StateCompleted {
		s.finish(ctx, next)
		return 0, true
	}
	return s.cfg.PollInterval, false
}

func (s *Session) handleFetchFailure(ctx context.Context, err error) (time.Duration, bool) {
	s.mu.Lock()
	s.failures++
	failures := s.failures
	s.mu.Unlock()

	s.logger.Warn("status fetch failed",
		logging.Int("consecutive_failures", failures),
		logging.Int("retry_budget", s.cfg.RetryBudget),
		logging.Error(err),
	)
	s.deps.Hub.PublishError(s.campaignID, fmt.Sprintf("status fetch failed: %v", err))

	if failures >= s.cfg.RetryBudget {
		s.degrade(ctx, failures, err)
		return 0, true
	}
	if calls.IsRateLimited(err) {
		s.logger.Info("vendor rate limited; backing off",
			logging.Duration("backoff", s.cfg.RateLimitBackoff))
		return s.cfg.RateLimitBackoff, false
	}
	return s.cfg.PollInterval, false
}

// finish publishes the terminal snapshot exactly once, archives it, and
// notifies.
func (s *Session) finish(ctx context.Context, snap *snapshot.Campaign) {
	s.setState(StateDraining)
	s.markTerminal()
	s.deps.Hub.PublishTerminal(s.campaignID, snap)

	counts := snap.CountRecipients()
	s.logger.Info("campaign finished",
		logging.Int("recipients", counts.Total),
		logging.Int("completed", counts.Completed),
		logging.Int("failed", counts.Failed),
		logging.Int("enriched", counts.Enriched),
	)

	if s.deps.Archive != nil {
		if err := s.deps.Archive.SaveTerminal(ctx, snap); err != nil {
			s.logger.Error("failed to archive terminal snapshot", logging.Error(err))
		}
	}
	if s.deps.Notifier != nil {
		if err := s.deps.Notifier.CampaignCompleted(ctx, snap); err != nil {
			s.logger.Warn("completion notification failed", logging.Error(err))
		}
	}
}

// degrade force-finishes the campaign after the retry budget is exhausted.
// The last known snapshot ships as the terminal one, flagged degraded.
func (s *Session) degrade(ctx context.Context, failures int, cause error) {
	s.setState(StateDraining)

	reason := fmt.Sprintf("status polling failed %d consecutive times: %v", failures, cause)

	s.mu.Lock()
	snap := s.prev.Clone()
	if snap == nil {
		snap = &snapshot.Campaign{CampaignID: s.campaignID}
	}
	snap.OverallState = snapshot.StateCompleted
	snap.Degraded = true
	snap.DegradedReason = reason
	snap.ComputedAt = time.Now().UTC()
	// The degraded snapshot is the campaign's final view; synchronous
	// queries must agree with the stream and the archive.
	s.prev = snap
	s.mu.Unlock()

	s.markTerminal()
	s.logger.Error("retry budget exhausted; finishing campaign degraded",
		logging.Int("consecutive_failures", failures),
		logging.Error(cause),
	)
	s.deps.Hub.PublishTerminal(s.campaignID, snap)

	if s.deps.Archive != nil {
		if err := s.deps.Archive.SaveTerminal(ctx, snap); err != nil {
			s.logger.Error("failed to archive degraded snapshot", logging.Error(err))
		}
	}
	if s.deps.Notifier != nil {
		if err := s.deps.Notifier.CampaignDegraded(ctx, snap, reason); err != nil {
			s.logger.Warn("degradation notification failed", logging.Error(err))
		}
	}
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) markTerminal() {
	s.mu.Lock()
	s.terminal = true
	s.mu.Unlock()
}
