package calls

import (
	"strings"
	"time"
)

// RecipientState represents the vendor-reported lifecycle of one recipient.
type RecipientState string

const (
	RecipientPending    RecipientState = "pending"
	RecipientInProgress RecipientState = "in_progress"
	RecipientCompleted  RecipientState = "completed"
	RecipientFailed     RecipientState = "failed"
)

// Terminal reports whether the state is final for a recipient.
func (s RecipientState) Terminal() bool {
	return s == RecipientCompleted || s == RecipientFailed
}

// Rank orders states by lifecycle progress. Terminal states share the top
// rank because the vendor never moves between them.
func (s RecipientState) Rank() int {
	switch s {
	case RecipientPending:
		return 0
	case RecipientInProgress:
		return 1
	case RecipientCompleted, RecipientFailed:
		return 2
	default:
		return -1
	}
}

// ParseRecipientState maps raw vendor state strings onto the known set.
// Unrecognized values are reported verbatim so callers can log them.
func ParseRecipientState(raw string) (RecipientState, bool) {
	state := RecipientState(strings.ToLower(strings.TrimSpace(raw)))
	switch state {
	case RecipientPending, RecipientInProgress, RecipientCompleted, RecipientFailed:
		return state, true
	default:
		return state, false
	}
}

// RecipientStatus is one destination's vendor-reported status within a batch.
type RecipientStatus struct {
	RecipientID    string         `json:"recipient_id"`
	PhoneNumber    string         `json:"phone_number"`
	State          RecipientState `json:"state"`
	ConversationID string         `json:"conversation_id,omitempty"`
}

// BatchStatus is the vendor's authoritative view of one campaign.
type BatchStatus struct {
	CampaignID string            `json:"campaign_id"`
	Name       string            `json:"name"`
	AgentID    string            `json:"agent_id"`
	Recipients []RecipientStatus `json:"recipients"`
}

// TranscriptTurn is a single turn in a conversation transcript.
type TranscriptTurn struct {
	Speaker       string  `json:"speaker"`
	Message       string  `json:"message"`
	OffsetSeconds float64 `json:"offset_seconds"`
}

// AudioArtifact describes a call recording the vendor uploaded to durable storage.
type AudioArtifact struct {
	URL         string    `json:"url"`
	SizeBytes   int64     `json:"size_bytes"`
	ContentType string    `json:"content_type"`
	FileName    string    `json:"file_name"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// Conversation holds the post-call artifacts for one finished conversation.
// Vendor data for a finished conversation never changes, so a successfully
// fetched Conversation is treated as immutable.
type Conversation struct {
	ConversationID  string           `json:"conversation_id"`
	DurationSeconds int              `json:"duration_seconds"`
	Summary         string           `json:"summary"`
	Transcript      []TranscriptTurn `json:"transcript"`
	Audio           *AudioArtifact   `json:"audio,omitempty"`
}
