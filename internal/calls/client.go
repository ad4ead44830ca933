package calls

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// API defines the vendor operations the engine consumes.
type API interface {
	FetchBatchStatus(ctx context.Context, campaignID string) (*BatchStatus, error)
	FetchConversation(ctx context.Context, conversationID string) (*Conversation, error)
}

// Client provides access to the vendor's batch calling API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ API = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// New creates a vendor API client.
func New(baseURL, apiKey string, timeout time.Duration, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("vendor base url required")
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("vendor api key required")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// FetchBatchStatus returns the vendor's current view of one campaign.
func (c *Client) FetchBatchStatus(ctx context.Context, campaignID string) (*BatchStatus, error) {
	campaignID = strings.TrimSpace(campaignID)
	if campaignID == "" {
		return nil, errors.New("campaign id must not be empty")
	}

	var payload batchStatusPayload
	op := "fetch batch status"
	if err := c.getJSON(ctx, op, "/v1/batches/"+url.PathEscape(campaignID), &payload); err != nil {
		return nil, err
	}

	status := &BatchStatus{
		CampaignID: payload.ID,
		Name:       payload.Name,
		AgentID:    payload.AgentID,
		Recipients: make([]RecipientStatus, 0, len(payload.Recipients)),
	}
	if status.CampaignID == "" {
		status.CampaignID = campaignID
	}
	for _, rec := range payload.Recipients {
		state, _ := ParseRecipientState(rec.Status)
		status.Recipients = append(status.Recipients, RecipientStatus{
			RecipientID:    rec.ID,
			PhoneNumber:    rec.PhoneNumber,
			State:          state,
			ConversationID: rec.ConversationID,
		})
	}
	return status, nil
}

// FetchConversation returns the transcript, summary, and audio metadata for a
// finished conversation.
func (c *Client) FetchConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, errors.New("conversation id must not be empty")
	}

	var payload conversationPayload
	op := "fetch conversation"
	if err := c.getJSON(ctx, op, "/v1/conversations/"+url.PathEscape(conversationID), &payload); err != nil {
		return nil, err
	}

	conv := &Conversation{
		ConversationID:  payload.ID,
		DurationSeconds: payload.DurationSeconds,
		Summary:         payload.Summary,
		Transcript:      make([]TranscriptTurn, 0, len(payload.Transcript)),
	}
	if conv.ConversationID == "" {
		conv.ConversationID = conversationID
	}
	for _, turn := range payload.Transcript {
		conv.Transcript = append(conv.Transcript, TranscriptTurn{
			Speaker:       turn.Speaker,
			Message:       turn.Message,
			OffsetSeconds: turn.OffsetSeconds,
		})
	}
	if payload.Audio != nil {
		conv.Audio = &AudioArtifact{
			URL:         payload.Audio.URL,
			SizeBytes:   payload.Audio.SizeBytes,
			ContentType: payload.Audio.ContentType,
			FileName:    payload.Audio.FileName,
			UploadedAt:  payload.Audio.UploadedAt,
		}
	}
	return conv, nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Kind: classifyTransport(err), Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &TransportError{Kind: classifyStatus(resp.StatusCode), Op: op, Status: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransportError{Kind: KindUnknown, Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// Wire payloads mirror the vendor's response shapes.

type batchStatusPayload struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	AgentID    string             `json:"agent_id"`
	Recipients []recipientPayload `json:"recipients"`
}

type recipientPayload struct {
	ID             string `json:"id"`
	PhoneNumber    string `json:"phone_number"`
	Status         string `json:"status"`
	ConversationID string `json:"conversation_id"`
}

type conversationPayload struct {
	ID              string        `json:"id"`
	DurationSeconds int           `json:"duration_seconds"`
	Summary         string        `json:"summary"`
	Transcript      []turnPayload `json:"transcript"`
	Audio           *audioPayload `json:"audio"`
}

type turnPayload struct {
	Speaker       string  `json:"speaker"`
	Message       string  `json:"message"`
	OffsetSeconds float64 `json:"offset_seconds"`
}

type audioPayload struct {
	URL         string    `json:"url"`
	SizeBytes   int64     `json:"size_bytes"`
	ContentType string    `json:"content_type"`
	FileName    string    `json:"file_name"`
	UploadedAt  time.Time `json:"uploaded_at"`
}
