package snapshot

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"dialwatch/internal/calls"
	"dialwatch/internal/enrich"
	"dialwatch/internal/logging"
)

// Merger combines fresh vendor status lists with cached enrichment into
// consistent campaign snapshots. Merges are monotonic: a field observed once
// is never removed from a later snapshot, and a recipient seen in a terminal
// state never regresses.
type Merger struct {
	cache       *enrich.Cache
	logger      *slog.Logger
	maxInFlight int
}

// NewMerger constructs a merger. maxInFlight bounds concurrent enrichment
// fetches within one merge.
func NewMerger(cache *enrich.Cache, logger *slog.Logger, maxInFlight int) *Merger {
	if maxInFlight <= 0 {
		maxInFlight = 4
	}
	return &Merger{
		cache:       cache,
		logger:      logging.NewComponentLogger(logger, "merger"),
		maxInFlight: maxInFlight,
	}
}

// ReleaseEnrichment evicts the cached enrichment for a campaign whose
// tracking session has ended. The terminal snapshot keeps its own copy, so
// nothing observable is lost.
func (m *Merger) ReleaseEnrichment(snap *Campaign) {
	if snap == nil {
		return
	}
	ids := make([]string, 0, len(snap.Recipients))
	for _, rec := range snap.Recipients {
		if rec.ConversationID != "" {
			ids = append(ids, rec.ConversationID)
		}
	}
	m.cache.Evict(ids...)
}

// Merge produces the next snapshot from the previous one and a fresh vendor
// status list, plus the list of recipients whose observable fields changed.
// Enrichment failures are recorded as pending on the affected recipient and
// never fail the merge.
func (m *Merger) Merge(ctx context.Context, prev *Campaign, status *calls.BatchStatus) (*Campaign, []Recipient) {
	prevByID := make(map[string]Recipient)
	if prev != nil {
		for _, rec := range prev.Recipients {
			prevByID[rec.RecipientID] = rec
		}
	}

	next := &Campaign{
		CampaignID:   status.CampaignID,
		Name:         status.Name,
		AgentID:      status.AgentID,
		OverallState: StateRunning,
		Recipients:   make([]Recipient, 0, len(status.Recipients)),
		ComputedAt:   time.Now().UTC(),
	}
	if prev != nil {
		if next.Name == "" {
			next.Name = prev.Name
		}
		if next.AgentID == "" {
			next.AgentID = prev.AgentID
		}
	}

	seen := make(map[string]struct{}, len(status.Recipients))
	for _, fresh := range status.Recipients {
		seen[fresh.RecipientID] = struct{}{}
		next.Recipients = append(next.Recipients, m.mergeRecipient(status.CampaignID, prevByID, fresh))
	}

	// Recipients the vendor stopped reporting stay in the snapshot; dropping
	// them would violate monotonicity.
	if prev != nil {
		for _, rec := range prev.Recipients {
			if _, ok := seen[rec.RecipientID]; ok {
				continue
			}
			m.logger.Warn("vendor payload dropped a known recipient; keeping last observed state",
				logging.String(logging.FieldCampaignID, status.CampaignID),
				logging.String(logging.FieldRecipientID, rec.RecipientID),
				logging.String(logging.FieldEventType, "recipient_missing"),
			)
			next.Recipients = append(next.Recipients, rec)
		}
	}

	m.enrichCompleted(ctx, next)

	if campaignSettled(next) {
		next.OverallState = StateCompleted
	}

	return next, diffRecipients(prev, next)
}

func (m *Merger) mergeRecipient(campaignID string, prevByID map[string]Recipient, fresh calls.RecipientStatus) Recipient {
	rec := Recipient{
		RecipientID:    fresh.RecipientID,
		PhoneNumber:    fresh.PhoneNumber,
		State:          fresh.State,
		ConversationID: fresh.ConversationID,
	}

	old, existed := prevByID[fresh.RecipientID]
	if !existed {
		return rec
	}

	// Terminal vendor data is immutable truth: never let a later payload
	// regress an observed terminal or in-progress state.
	if old.State.Terminal() && fresh.State != old.State {
		m.logInconsistency(campaignID, old, fresh)
		rec.State = old.State
	} else if fresh.State.Rank() < old.State.Rank() {
		m.logInconsistency(campaignID, old, fresh)
		rec.State = old.State
	}

	if rec.ConversationID == "" {
		rec.ConversationID = old.ConversationID
	}
	if rec.PhoneNumber == "" {
		rec.PhoneNumber = old.PhoneNumber
	}
	rec.Enrichment = old.Enrichment
	return rec
}

func (m *Merger) logInconsistency(campaignID string, old Recipient, fresh calls.RecipientStatus) {
	m.logger.Warn("vendor reported a state regression; preserving observed state",
		logging.String(logging.FieldCampaignID, campaignID),
		logging.String(logging.FieldRecipientID, old.RecipientID),
		logging.String("observed_state", string(old.State)),
		logging.String("reported_state", string(fresh.State)),
		logging.String(logging.FieldEventType, "state_regression"),
	)
}

// enrichCompleted fetches missing enrichment for completed recipients,
// bounded by maxInFlight concurrent vendor calls. Each goroutine writes a
// distinct index, so no locking is needed on the recipient slice.
func (m *Merger) enrichCompleted(ctx context.Context, next *Campaign) {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(m.maxInFlight)

	for i := range next.Recipients {
		rec := &next.Recipients[i]
		if rec.State != calls.RecipientCompleted || rec.ConversationID == "" || rec.Enrichment != nil {
			continue
		}
		group.Go(func() error {
			conv, err := m.cache.Ensure(groupCtx, rec.ConversationID)
			if err != nil {
				rec.EnrichmentPending = true
				m.logger.Warn("enrichment unavailable this cycle; will retry",
					logging.String(logging.FieldCampaignID, next.CampaignID),
					logging.String(logging.FieldConversationID, rec.ConversationID),
					logging.Error(err),
				)
				return nil
			}
			rec.Enrichment = &Enrichment{
				DurationSeconds: conv.DurationSeconds,
				Summary:         conv.Summary,
				Transcript:      conv.Transcript,
				Audio:           conv.Audio,
			}
			rec.EnrichmentPending = false
			return nil
		})
	}
	_ = group.Wait()
}

// campaignSettled reports whether every recipient is terminal and no
// enrichment fetch remains outstanding.
func campaignSettled(c *Campaign) bool {
	if len(c.Recipients) == 0 {
		return false
	}
	for _, rec := range c.Recipients {
		if !rec.State.Terminal() {
			return false
		}
		if rec.State == calls.RecipientCompleted && rec.ConversationID != "" && rec.Enrichment == nil {
			return false
		}
	}
	return true
}

func diffRecipients(prev, next *Campaign) []Recipient {
	if next == nil {
		return nil
	}
	if prev == nil {
		return append([]Recipient(nil), next.Recipients...)
	}
	prevByID := make(map[string]Recipient, len(prev.Recipients))
	for _, rec := range prev.Recipients {
		prevByID[rec.RecipientID] = rec
	}

	var diff []Recipient
	for _, rec := range next.Recipients {
		old, ok := prevByID[rec.RecipientID]
		if !ok || recipientChanged(old, rec) {
			diff = append(diff, rec)
		}
	}
	return diff
}

func recipientChanged(old, rec Recipient) bool {
	if old.State != rec.State || old.ConversationID != rec.ConversationID {
		return true
	}
	if (old.Enrichment == nil) != (rec.Enrichment == nil) {
		return true
	}
	if old.EnrichmentPending != rec.EnrichmentPending {
		return true
	}
	return false
}
