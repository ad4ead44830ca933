package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"dialwatch/internal/calls"
	"dialwatch/internal/snapshot"
	"dialwatch/internal/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func terminalSnapshot(id string) *snapshot.Campaign {
	return &snapshot.Campaign{
		CampaignID:   id,
		Name:         "Renewals",
		AgentID:      "agent-9",
		OverallState: snapshot.StateCompleted,
		Recipients: []snapshot.Recipient{
			{
				RecipientID:    "r1",
				PhoneNumber:    "+15550001",
				State:          calls.RecipientCompleted,
				ConversationID: "conv-1",
				Enrichment: &snapshot.Enrichment{
					DurationSeconds: 61,
					Summary:         "confirmed",
					Transcript:      []calls.TranscriptTurn{{Speaker: "agent", Message: "hi"}},
				},
			},
			{RecipientID: "r2", PhoneNumber: "+15550002", State: calls.RecipientFailed},
		},
		ComputedAt: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestSaveAndGetRoundtrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	if err := s.SaveTerminal(ctx, terminalSnapshot("cmp-1")); err != nil {
		t.Fatalf("SaveTerminal: %v", err)
	}

	got, err := s.Get(ctx, "cmp-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "Renewals" || got.OverallState != snapshot.StateCompleted {
		t.Errorf("unexpected snapshot header: %+v", got)
	}
	if len(got.Recipients) != 2 {
		t.Fatalf("recipients = %d, want 2", len(got.Recipients))
	}
	enr := got.Recipients[0].Enrichment
	if enr == nil || enr.Summary != "confirmed" || len(enr.Transcript) != 1 {
		t.Errorf("enrichment lost in roundtrip: %+v", enr)
	}
	if !got.ComputedAt.Equal(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("computed_at = %v", got.ComputedAt)
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s := openStore(t)
	_, err := s.Get(context.Background(), "cmp-none")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveTerminalUpserts(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	first := terminalSnapshot("cmp-1")
	if err := s.SaveTerminal(ctx, first); err != nil {
		t.Fatalf("SaveTerminal: %v", err)
	}

	second := terminalSnapshot("cmp-1")
	second.Degraded = true
	second.DegradedReason = "status polling exhausted retries"
	if err := s.SaveTerminal(ctx, second); err != nil {
		t.Fatalf("SaveTerminal upsert: %v", err)
	}

	got, err := s.Get(ctx, "cmp-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Degraded || got.DegradedReason == "" {
		t.Errorf("upsert did not replace degraded flags: %+v", got)
	}
}

func TestListRecentOrdersNewestFirst(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	for _, id := range []string{"cmp-a", "cmp-b", "cmp-c"} {
		if err := s.SaveTerminal(ctx, terminalSnapshot(id)); err != nil {
			t.Fatalf("SaveTerminal(%s): %v", id, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	snaps, err := s.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("len = %d, want 2", len(snaps))
	}
	if snaps[0].CampaignID != "cmp-c" {
		t.Errorf("newest first expected cmp-c, got %s", snaps[0].CampaignID)
	}
}

func TestDeleteRemovesSnapshot(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	if err := s.SaveTerminal(ctx, terminalSnapshot("cmp-1")); err != nil {
		t.Fatalf("SaveTerminal: %v", err)
	}
	if err := s.Delete(ctx, "cmp-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "cmp-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
