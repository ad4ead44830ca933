package snapshot

import (
	"time"

	"dialwatch/internal/calls"
)

// OverallState is the campaign-level lifecycle.
type OverallState string

const (
	StateRunning   OverallState = "running"
	StateCompleted OverallState = "completed"
)

// Enrichment carries the post-call artifacts merged onto a completed recipient.
type Enrichment struct {
	DurationSeconds int                    `json:"duration_seconds"`
	Summary         string                 `json:"summary"`
	Transcript      []calls.TranscriptTurn `json:"transcript"`
	Audio           *calls.AudioArtifact   `json:"audio,omitempty"`
}

// Recipient is one destination's merged view: vendor status plus enrichment.
type Recipient struct {
	RecipientID       string               `json:"recipient_id"`
	PhoneNumber       string               `json:"phone_number"`
	State             calls.RecipientState `json:"state"`
	ConversationID    string               `json:"conversation_id,omitempty"`
	Enrichment        *Enrichment          `json:"enrichment,omitempty"`
	EnrichmentPending bool                 `json:"enrichment_pending,omitempty"`
}

// Campaign is the merged point-in-time view of one campaign.
type Campaign struct {
	CampaignID     string       `json:"campaign_id"`
	Name           string       `json:"name"`
	AgentID        string       `json:"agent_id"`
	OverallState   OverallState `json:"overall_state"`
	Degraded       bool         `json:"degraded,omitempty"`
	DegradedReason string       `json:"degraded_reason,omitempty"`
	Recipients     []Recipient  `json:"recipients"`
	ComputedAt     time.Time    `json:"computed_at"`
}

// Clone returns a deep copy so publishers can hand snapshots to subscribers
// without sharing mutable state.
func (c *Campaign) Clone() *Campaign {
	if c == nil {
		return nil
	}
	out := *c
	out.Recipients = make([]Recipient, len(c.Recipients))
	for i, rec := range c.Recipients {
		out.Recipients[i] = rec.clone()
	}
	return &out
}

func (r Recipient) clone() Recipient {
	out := r
	if r.Enrichment != nil {
		enr := *r.Enrichment
		enr.Transcript = append([]calls.TranscriptTurn(nil), r.Enrichment.Transcript...)
		if r.Enrichment.Audio != nil {
			audio := *r.Enrichment.Audio
			enr.Audio = &audio
		}
		out.Enrichment = &enr
	}
	return out
}

// Counts summarizes recipient states for status reporting.
type Counts struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Enriched   int `json:"enriched"`
}

// CountRecipients tallies recipient states across the snapshot.
func (c *Campaign) CountRecipients() Counts {
	var counts Counts
	if c == nil {
		return counts
	}
	counts.Total = len(c.Recipients)
	for _, rec := range c.Recipients {
		switch rec.State {
		case calls.RecipientPending:
			counts.Pending++
		case calls.RecipientInProgress:
			counts.InProgress++
		case calls.RecipientCompleted:
			counts.Completed++
		case calls.RecipientFailed:
			counts.Failed++
		}
		if rec.Enrichment != nil {
			counts.Enriched++
		}
	}
	return counts
}
