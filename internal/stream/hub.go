package stream

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"dialwatch/internal/logging"
	"dialwatch/internal/snapshot"
)

// EventKind identifies the type of a stream event.
type EventKind string

const (
	// EventConnected is the first event on every subscription and carries the
	// full current snapshot.
	EventConnected EventKind = "connected"
	// EventStatusUpdate carries the recipients that changed this cycle.
	EventStatusUpdate EventKind = "status-update"
	// EventBatchCompleted is the terminal event; the stream closes after it.
	EventBatchCompleted EventKind = "batch-completed"
	// EventError reports a non-fatal processing fault.
	EventError EventKind = "error"
)

// Event is one entry in a campaign's push stream.
type Event struct {
	Kind       EventKind            `json:"kind"`
	CampaignID string               `json:"campaign_id"`
	Sequence   uint64               `json:"seq"`
	Timestamp  time.Time            `json:"ts"`
	Snapshot   *snapshot.Campaign   `json:"snapshot,omitempty"`
	Diff       []snapshot.Recipient `json:"diff,omitempty"`
	Message    string               `json:"message,omitempty"`
}

// ErrUnknownCampaign is returned when subscribing to a campaign the hub does
// not carry.
var ErrUnknownCampaign = errors.New("campaign not registered with hub")

// Subscription is one live subscriber's view of a campaign stream.
type Subscription struct {
	ID         uuid.UUID
	CampaignID string
	events     chan Event
	hub        *Hub
}

// Events returns the subscriber's event channel. It is closed after the
// terminal event, after Close, or when the subscriber falls too far behind.
func (s *Subscription) Events() <-chan Event { return s.events }

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.hub.unsubscribe(s)
}

type campaignStream struct {
	seq      uint64
	latest   *snapshot.Campaign
	terminal bool
	subs     map[uuid.UUID]*Subscription
}

// Hub fans campaign events out to live subscribers. All mutation happens
// under one mutex so a subscriber joining mid-campaign atomically receives
// the current snapshot followed by every later diff in publish order.
type Hub struct {
	logger *slog.Logger
	buffer int

	mu        sync.Mutex
	campaigns map[string]*campaignStream
}

// NewHub constructs a hub. buffer is the per-subscriber channel depth before
// a slow consumer is dropped.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	// A subscription needs room for at least connected + terminal.
	if buffer < 2 {
		buffer = 32
	}
	return &Hub{
		logger:    logging.NewComponentLogger(logger, "stream"),
		buffer:    buffer,
		campaigns: make(map[string]*campaignStream),
	}
}

// Register creates the stream for a campaign. Idempotent.
func (h *Hub) Register(campaignID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.campaigns[campaignID]; !ok {
		h.campaigns[campaignID] = &campaignStream{subs: make(map[uuid.UUID]*Subscription)}
	}
}

// Subscribe attaches a new subscriber. The first delivered event is always
// connected with the current snapshot; for an already-terminal campaign the
// terminal event follows immediately and the channel closes.
func (h *Hub) Subscribe(campaignID string) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.campaigns[campaignID]
	if !ok {
		return nil, ErrUnknownCampaign
	}

	sub := &Subscription{
		ID:         uuid.New(),
		CampaignID: campaignID,
		events:     make(chan Event, h.buffer),
		hub:        h,
	}

	sub.events <- Event{
		Kind:       EventConnected,
		CampaignID: campaignID,
		Sequence:   c.seq,
		Timestamp:  time.Now().UTC(),
		Snapshot:   c.latest.Clone(),
	}

	if c.terminal {
		sub.events <- Event{
			Kind:       EventBatchCompleted,
			CampaignID: campaignID,
			Sequence:   c.seq,
			Timestamp:  time.Now().UTC(),
			Snapshot:   c.latest.Clone(),
		}
		close(sub.events)
		return sub, nil
	}

	c.subs[sub.ID] = sub
	return sub, nil
}

// Publish delivers a status-update diff and records the new latest snapshot.
func (h *Hub) Publish(campaignID string, diff []snapshot.Recipient, snap *snapshot.Campaign) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.campaigns[campaignID]
	if !ok || c.terminal {
		return
	}
	c.latest = snap
	c.seq++
	h.broadcastLocked(c, Event{
		Kind:       EventStatusUpdate,
		CampaignID: campaignID,
		Sequence:   c.seq,
		Timestamp:  time.Now().UTC(),
		Diff:       diff,
	})
}

// PublishError reports a non-fatal fault to subscribers without closing the
// stream.
func (h *Hub) PublishError(campaignID, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.campaigns[campaignID]
	if !ok || c.terminal {
		return
	}
	c.seq++
	h.broadcastLocked(c, Event{
		Kind:       EventError,
		CampaignID: campaignID,
		Sequence:   c.seq,
		Timestamp:  time.Now().UTC(),
		Message:    message,
	})
}

// PublishTerminal delivers the terminal snapshot, closes every subscription,
// and keeps the final snapshot available for late subscribers.
func (h *Hub) PublishTerminal(campaignID string, snap *snapshot.Campaign) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.campaigns[campaignID]
	if !ok || c.terminal {
		return
	}
	c.latest = snap
	c.terminal = true
	c.seq++
	evt := Event{
		Kind:       EventBatchCompleted,
		CampaignID: campaignID,
		Sequence:   c.seq,
		Timestamp:  time.Now().UTC(),
		Snapshot:   snap.Clone(),
	}
	for id, sub := range c.subs {
		select {
		case sub.events <- evt:
		default:
			h.logger.Warn("subscriber too slow for terminal event",
				logging.String(logging.FieldCampaignID, campaignID),
				logging.String(logging.FieldSubscriberID, id.String()),
			)
		}
		close(sub.events)
		delete(c.subs, id)
	}
}

// CloseCampaign tears the stream down without a terminal event (explicit
// stop-tracking). Subscribers' channels are closed and the campaign forgotten.
func (h *Hub) CloseCampaign(campaignID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.campaigns[campaignID]
	if !ok {
		return
	}
	for id, sub := range c.subs {
		close(sub.events)
		delete(c.subs, id)
	}
	delete(h.campaigns, campaignID)
}

// Latest returns the most recently published snapshot for a campaign.
func (h *Hub) Latest(campaignID string) (*snapshot.Campaign, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.campaigns[campaignID]
	if !ok || c.latest == nil {
		return nil, false
	}
	return c.latest.Clone(), true
}

// SubscriberCount reports live subscribers for a campaign.
func (h *Hub) SubscriberCount(campaignID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.campaigns[campaignID]; ok {
		return len(c.subs)
	}
	return 0
}

// broadcastLocked sends evt to every subscriber, dropping any whose buffer is
// full so one slow consumer cannot stall the rest.
func (h *Hub) broadcastLocked(c *campaignStream, evt Event) {
	for id, sub := range c.subs {
		select {
		case sub.events <- evt:
		default:
			h.logger.Warn("dropping slow subscriber",
				logging.String(logging.FieldCampaignID, evt.CampaignID),
				logging.String(logging.FieldSubscriberID, id.String()),
				logging.Uint64("seq", evt.Sequence),
			)
			close(sub.events)
			delete(c.subs, id)
		}
	}
}

func (h *Hub) unsubscribe(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.campaigns[s.CampaignID]
	if !ok {
		return
	}
	if _, registered := c.subs[s.ID]; registered {
		delete(c.subs, s.ID)
		close(s.events)
	}
}
