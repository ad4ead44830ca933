package snapshot_test

import (
	"context"
	"sync"
	"testing"

	"dialwatch/internal/calls"
	"dialwatch/internal/enrich"
	"dialwatch/internal/snapshot"
)

type stubFetcher struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls map[string]int
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{fail: make(map[string]bool), calls: make(map[string]int)}
}

func (s *stubFetcher) FetchConversation(ctx context.Context, id string) (*calls.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[id]++
	if s.fail[id] {
		return nil, &calls.TransportError{Kind: calls.KindUnavailable, Op: "fetch conversation"}
	}
	return &calls.Conversation{
		ConversationID:  id,
		DurationSeconds: 42,
		Summary:         "summary for " + id,
		Transcript:      []calls.TranscriptTurn{{Speaker: "agent", Message: "hello"}},
	}, nil
}

func (s *stubFetcher) count(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

func newMerger(fetcher *stubFetcher) *snapshot.Merger {
	cache := enrich.NewCache(fetcher, nil)
	return snapshot.NewMerger(cache, nil, 2)
}

func batch(recipients ...calls.RecipientStatus) *calls.BatchStatus {
	return &calls.BatchStatus{
		CampaignID: "cmp-1",
		Name:       "Renewals",
		AgentID:    "agent-9",
		Recipients: recipients,
	}
}

func TestFirstMergeReportsAllRecipientsAsDiff(t *testing.T) {
	merger := newMerger(newStubFetcher())
	snap, diff := merger.Merge(context.Background(), nil, batch(
		calls.RecipientStatus{RecipientID: "r1", PhoneNumber: "+1", State: calls.RecipientPending},
		calls.RecipientStatus{RecipientID: "r2", PhoneNumber: "+2", State: calls.RecipientPending},
	))

	if snap.OverallState != snapshot.StateRunning {
		t.Errorf("overall state = %v, want running", snap.OverallState)
	}
	if len(diff) != 2 {
		t.Errorf("diff = %d recipients, want 2", len(diff))
	}
	if snap.Name != "Renewals" || snap.AgentID != "agent-9" {
		t.Errorf("campaign header not carried: %+v", snap)
	}
}

func TestCompletedRecipientsGetEnriched(t *testing.T) {
	merger := newMerger(newStubFetcher())
	snap, _ := merger.Merge(context.Background(), nil, batch(
		calls.RecipientStatus{RecipientID: "r1", State: calls.RecipientCompleted, ConversationID: "conv-1"},
		calls.RecipientStatus{RecipientID: "r2", State: calls.RecipientFailed},
	))

	if snap.OverallState != snapshot.StateCompleted {
		t.Errorf("overall state = %v, want completed", snap.OverallState)
	}
	rec := snap.Recipients[0]
	if rec.Enrichment == nil || rec.Enrichment.Summary != "summary for conv-1" {
		t.Errorf("recipient not enriched: %+v", rec)
	}
}

func TestEnrichmentFailureIsPendingNotFatal(t *testing.T) {
	fetcher := newStubFetcher()
	fetcher.fail["conv-1"] = true
	merger := newMerger(fetcher)

	snap, _ := merger.Merge(context.Background(), nil, batch(
		calls.RecipientStatus{RecipientID: "r1", State: calls.RecipientCompleted, ConversationID: "conv-1"},
	))

	rec := snap.Recipients[0]
	if rec.Enrichment != nil || !rec.EnrichmentPending {
		t.Fatalf("expected pending enrichment, got %+v", rec)
	}
	if snap.OverallState != snapshot.StateRunning {
		t.Errorf("campaign with outstanding enrichment must stay running, got %v", snap.OverallState)
	}

	// Next cycle the fetch succeeds and the campaign settles.
	fetcher.fail["conv-1"] = false
	next, diff := merger.Merge(context.Background(), snap, batch(
		calls.RecipientStatus{RecipientID: "r1", State: calls.RecipientCompleted, ConversationID: "conv-1"},
	))
	if next.Recipients[0].Enrichment == nil {
		t.Fatal("expected enrichment on retry")
	}
	if next.OverallState != snapshot.StateCompleted {
		t.Errorf("overall state = %v, want completed", next.OverallState)
	}
	if len(diff) != 1 {
		t.Errorf("diff = %d, want 1 (enrichment arrived)", len(diff))
	}
}

func TestScenarioThreeRecipientsTwoEnrichedThenThird(t *testing.T) {
	fetcher := newStubFetcher()
	fetcher.fail["conv-3"] = true
	merger := newMerger(fetcher)

	cycle1 := batch(
		calls.RecipientStatus{RecipientID: "r1", State: calls.RecipientCompleted, ConversationID: "conv-1"},
		calls.RecipientStatus{RecipientID: "r2", State: calls.RecipientCompleted, ConversationID: "conv-2"},
		calls.RecipientStatus{RecipientID: "r3", State: calls.RecipientCompleted, ConversationID: "conv-3"},
	)
	snap, _ := merger.Merge(context.Background(), nil, cycle1)

	counts := snap.CountRecipients()
	if counts.Enriched != 2 {
		t.Fatalf("enriched = %d, want 2", counts.Enriched)
	}
	if snap.OverallState != snapshot.StateRunning {
		t.Fatalf("overall state = %v, want running", snap.OverallState)
	}

	fetcher.fail["conv-3"] = false
	next, _ := merger.Merge(context.Background(), snap, cycle1)
	if next.CountRecipients().Enriched != 3 {
		t.Fatalf("enriched after retry = %d, want 3", next.CountRecipients().Enriched)
	}
	if next.OverallState != snapshot.StateCompleted {
		t.Errorf("overall state = %v, want completed", next.OverallState)
	}
	// conv-1 and conv-2 must not be refetched.
	if fetcher.count("conv-1") != 1 || fetcher.count("conv-2") != 1 {
		t.Errorf("cached conversations were refetched: conv-1=%d conv-2=%d",
			fetcher.count("conv-1"), fetcher.count("conv-2"))
	}
}

func TestTerminalStateNeverRegresses(t *testing.T) {
	merger := newMerger(newStubFetcher())
	first, _ := merger.Merge(context.Background(), nil, batch(
		calls.RecipientStatus{RecipientID: "r1", State: calls.RecipientCompleted, ConversationID: "conv-1"},
	))

	// Vendor payload claims the recipient went back to pending and lost its
	// conversation id; the merger must preserve the observed terminal state.
	next, diff := merger.Merge(context.Background(), first, batch(
		calls.RecipientStatus{RecipientID: "r1", State: calls.RecipientPending},
	))

	rec := next.Recipients[0]
	if rec.State != calls.RecipientCompleted {
		t.Errorf("state regressed to %v", rec.State)
	}
	if rec.ConversationID != "conv-1" {
		t.Errorf("conversation id dropped: %q", rec.ConversationID)
	}
	if rec.Enrichment == nil {
		t.Error("enrichment dropped on regression")
	}
	if len(diff) != 0 {
		t.Errorf("regression should not produce a diff, got %d", len(diff))
	}
}

func TestInProgressDoesNotRegressToPending(t *testing.T) {
	merger := newMerger(newStubFetcher())
	first, _ := merger.Merge(context.Background(), nil, batch(
		calls.RecipientStatus{RecipientID: "r1", State: calls.RecipientInProgress},
	))
	next, _ := merger.Merge(context.Background(), first, batch(
		calls.RecipientStatus{RecipientID: "r1", State: calls.RecipientPending},
	))
	if next.Recipients[0].State != calls.RecipientInProgress {
		t.Errorf("state regressed to %v", next.Recipients[0].State)
	}
}

func TestDroppedRecipientIsRetained(t *testing.T) {
	merger := newMerger(newStubFetcher())
	first, _ := merger.Merge(context.Background(), nil, batch(
		calls.RecipientStatus{RecipientID: "r1", State: calls.RecipientCompleted, ConversationID: "conv-1"},
		calls.RecipientStatus{RecipientID: "r2", State: calls.RecipientPending},
	))
	next, _ := merger.Merge(context.Background(), first, batch(
		calls.RecipientStatus{RecipientID: "r2", State: calls.RecipientInProgress},
	))
	if len(next.Recipients) != 2 {
		t.Fatalf("recipients = %d, want 2 (dropped recipient retained)", len(next.Recipients))
	}
}

func TestDiffOnlyReportsChangedRecipients(t *testing.T) {
	merger := newMerger(newStubFetcher())
	first, _ := merger.Merge(context.Background(), nil, batch(
		calls.RecipientStatus{RecipientID: "r1", State: calls.RecipientPending},
		calls.RecipientStatus{RecipientID: "r2", State: calls.RecipientPending},
	))
	_, diff := merger.Merge(context.Background(), first, batch(
		calls.RecipientStatus{RecipientID: "r1", State: calls.RecipientInProgress},
		calls.RecipientStatus{RecipientID: "r2", State: calls.RecipientPending},
	))
	if len(diff) != 1 || diff[0].RecipientID != "r1" {
		t.Fatalf("unexpected diff: %+v", diff)
	}
}

func TestEmptyCampaignStaysRunning(t *testing.T) {
	merger := newMerger(newStubFetcher())
	snap, _ := merger.Merge(context.Background(), nil, batch())
	if snap.OverallState != snapshot.StateRunning {
		t.Errorf("empty campaign should stay running, got %v", snap.OverallState)
	}
}

func TestCloneIsDeep(t *testing.T) {
	merger := newMerger(newStubFetcher())
	snap, _ := merger.Merge(context.Background(), nil, batch(
		calls.RecipientStatus{RecipientID: "r1", State: calls.RecipientCompleted, ConversationID: "conv-1"},
	))
	clone := snap.Clone()
	clone.Recipients[0].Enrichment.Summary = "mutated"
	if snap.Recipients[0].Enrichment.Summary == "mutated" {
		t.Error("clone shares enrichment with original")
	}
}
