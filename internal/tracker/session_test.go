package tracker_test

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"dialwatch/internal/calls"
	"dialwatch/internal/enrich"
	"dialwatch/internal/logging"
	"dialwatch/internal/snapshot"
	"dialwatch/internal/stream"
	"dialwatch/internal/tracker"
)

type statusStep struct {
	status *calls.BatchStatus
	err    error
}

// scriptedFetcher replays a sequence of status responses, repeating the last
// step once the script runs out.
type scriptedFetcher struct {
	mu    sync.Mutex
	steps []statusStep
	idx   int
	calls int
}

func (f *scriptedFetcher) FetchBatchStatus(_ context.Context, _ string) (*calls.BatchStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	step := f.steps[f.idx]
	if f.idx < len(f.steps)-1 {
		f.idx++
	}
	return step.status, step.err
}

type mapFetcher struct {
	mu    sync.Mutex
	convs map[string]*calls.Conversation
}

func (f *mapFetcher) FetchConversation(_ context.Context, id string) (*calls.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.convs[id]
	if !ok {
		return nil, &calls.TransportError{Kind: calls.KindNotFound, Op: "fetch conversation", Status: 404}
	}
	return conv, nil
}

type recordingArchive struct {
	mu    sync.Mutex
	saved []*snapshot.Campaign
}

func (a *recordingArchive) SaveTerminal(_ context.Context, snap *snapshot.Campaign) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.saved = append(a.saved, snap.Clone())
	return nil
}

func (a *recordingArchive) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.saved)
}

type recordingNotifier struct {
	mu        sync.Mutex
	completed int
	degraded  int
	reason    string
}

func (n *recordingNotifier) CampaignCompleted(_ context.Context, _ *snapshot.Campaign) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed++
	return nil
}

func (n *recordingNotifier) CampaignDegraded(_ context.Context, _ *snapshot.Campaign, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.degraded++
	n.reason = reason
	return nil
}

func testDeps(t *testing.T, fetcher tracker.StatusFetcher, convs map[string]*calls.Conversation) (tracker.Deps, *stream.Hub, *recordingArchive, *recordingNotifier) {
	t.Helper()
	logger := logging.NewNop()
	cache := enrich.NewCache(&mapFetcher{convs: convs}, logger)
	hub := stream.NewHub(64, logger)
	archive := &recordingArchive{}
	notifier := &recordingNotifier{}
	return tracker.Deps{
		Fetcher:  fetcher,
		Merger:   snapshot.NewMerger(cache, logger, 4),
		Hub:      hub,
		Archive:  archive,
		Notifier: notifier,
		Logger:   logger,
	}, hub, archive, notifier
}

func status(campaignID string, recipients ...calls.RecipientStatus) *calls.BatchStatus {
	return &calls.BatchStatus{CampaignID: campaignID, Name: "Renewals", AgentID: "agent-1", Recipients: recipients}
}

func collectEvents(t *testing.T, sub *stream.Subscription) []stream.Event {
	t.Helper()
	var events []stream.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case evt, ok := <-sub.Events():
			if !ok {
				return events
			}
			events = append(events, evt)
		case <-timeout:
			t.Fatalf("stream did not close; events so far: %d", len(events))
		}
	}
}

func TestSessionTracksCampaignToCompletion(t *testing.T) {
	convs := map[string]*calls.Conversation{
		"conv-1": {ConversationID: "conv-1", DurationSeconds: 42, Summary: "booked"},
		"conv-2": {ConversationID: "conv-2", DurationSeconds: 31, Summary: "declined"},
		"conv-3": {ConversationID: "conv-3", DurationSeconds: 55, Summary: "rescheduled"},
	}
	fetcher := &scriptedFetcher{steps: []statusStep{
		{status: status("cmp-1",
			calls.RecipientStatus{RecipientID: "r1", State: calls.RecipientPending},
			calls.RecipientStatus{RecipientID: "r2", State: calls.RecipientPending},
			calls.RecipientStatus{RecipientID: "r3", State: calls.RecipientPending},
		)},
		{status: status("cmp-1",
			calls.RecipientStatus{RecipientID: "r1", State: calls.RecipientCompleted, ConversationID: "conv-1"},
			calls.RecipientStatus{RecipientID: "r2", State: calls.RecipientCompleted, ConversationID: "conv-2"},
			calls.RecipientStatus{RecipientID: "r3", State: calls.RecipientInProgress},
		)},
		{status: status("cmp-1",
			calls.RecipientStatus{RecipientID: "r1", State: calls.RecipientCompleted, ConversationID: "conv-1"},
			calls.RecipientStatus{RecipientID: "r2", State: calls.RecipientCompleted, ConversationID: "conv-2"},
			calls.RecipientStatus{RecipientID: "r3", State: calls.RecipientCompleted, ConversationID: "conv-3"},
		)},
	}}
	deps, hub, archive, notifier := testDeps(t, fetcher, convs)

	session := tracker.New("cmp-1", tracker.Config{PollInterval: 2 * time.Millisecond}, deps)
	hub.Register("cmp-1")
	sub, err := hub.Subscribe("cmp-1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	session.Start(context.Background())
	defer session.Stop()

	events := collectEvents(t, sub)

	if len(events) < 2 {
		t.Fatalf("expected at least connected + terminal, got %d events", len(events))
	}
	if events[0].Kind != stream.EventConnected {
		t.Errorf("first event = %s, want connected", events[0].Kind)
	}

	var terminals int
	var lastSeq uint64
	for i, evt := range events {
		if i > 0 && evt.Sequence <= lastSeq {
			t.Errorf("sequence not increasing at event %d: %d after %d", i, evt.Sequence, lastSeq)
		}
		lastSeq = evt.Sequence
		if evt.Kind == stream.EventBatchCompleted {
			terminals++
		}
	}
	if terminals != 1 {
		t.Fatalf("terminal events = %d, want exactly 1", terminals)
	}

	final := events[len(events)-1]
	if final.Kind != stream.EventBatchCompleted {
		t.Fatalf("last event = %s, want batch-completed", final.Kind)
	}
	if final.Snapshot == nil || final.Snapshot.OverallState != snapshot.StateCompleted {
		t.Fatalf("terminal snapshot missing or not completed: %+v", final.Snapshot)
	}
	for _, rec := range final.Snapshot.Recipients {
		if rec.State == calls.RecipientCompleted && rec.Enrichment == nil {
			t.Errorf("recipient %s completed without enrichment", rec.RecipientID)
		}
	}
	if final.Snapshot.Degraded {
		t.Error("clean completion must not be degraded")
	}

	<-session.Done()
	if archive.count() != 1 {
		t.Errorf("archived snapshots = %d, want 1", archive.count())
	}
	if notifier.completed != 1 || notifier.degraded != 0 {
		t.Errorf("notifications completed=%d degraded=%d, want 1/0", notifier.completed, notifier.degraded)
	}
}

func TestSessionDegradesAfterRetryBudget(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []statusStep{
		{err: &calls.TransportError{Kind: calls.KindUnavailable, Op: "fetch batch status", Status: 503}},
	}}
	deps, hub, archive, notifier := testDeps(t, fetcher, nil)

	session := tracker.New("cmp-1", tracker.Config{
		PollInterval: 2 * time.Millisecond,
		RetryBudget:  3,
	}, deps)
	hub.Register("cmp-1")
	sub, err := hub.Subscribe("cmp-1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	session.Start(context.Background())
	defer session.Stop()

	events := collectEvents(t, sub)

	var errs, terminals int
	for _, evt := range events {
		switch evt.Kind {
		case stream.EventError:
			errs++
		case stream.EventBatchCompleted:
			terminals++
		}
	}
	if errs == 0 {
		t.Error("expected error events before degradation")
	}
	if terminals != 1 {
		t.Fatalf("terminal events = %d, want exactly 1", terminals)
	}

	final := events[len(events)-1]
	if final.Kind != stream.EventBatchCompleted {
		t.Fatalf("last event = %s, want batch-completed", final.Kind)
	}
	if final.Snapshot == nil || !final.Snapshot.Degraded || final.Snapshot.DegradedReason == "" {
		t.Fatalf("terminal snapshot not flagged degraded: %+v", final.Snapshot)
	}

	<-session.Done()
	if got := fetcher.callCount(); got != 3 {
		t.Errorf("fetch attempts = %d, want 3", got)
	}
	if archive.count() != 1 {
		t.Errorf("archived snapshots = %d, want 1", archive.count())
	}
	if notifier.degraded != 1 || notifier.completed != 0 {
		t.Errorf("notifications degraded=%d completed=%d, want 1/0", notifier.degraded, notifier.completed)
	}
}

func TestSnapshotReflectsDegradedTerminal(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []statusStep{
		{err: &calls.TransportError{Kind: calls.KindUnavailable, Op: "fetch batch status", Status: 503}},
	}}
	deps, hub, _, _ := testDeps(t, fetcher, nil)

	session := tracker.New("cmp-1", tracker.Config{
		PollInterval: 2 * time.Millisecond,
		RetryBudget:  2,
	}, deps)
	hub.Register("cmp-1")
	session.Start(context.Background())
	defer session.Stop()

	<-session.Done()

	// No poll ever succeeded, but the synchronous view must still agree
	// with the stream's degraded terminal.
	snap := session.Snapshot()
	if snap == nil {
		t.Fatal("Snapshot() = nil after degraded terminal")
	}
	if !snap.Degraded || snap.DegradedReason == "" {
		t.Fatalf("snapshot not flagged degraded: %+v", snap)
	}
	if snap.OverallState != snapshot.StateCompleted {
		t.Errorf("overall state = %s, want %s", snap.OverallState, snapshot.StateCompleted)
	}
	if snap.CampaignID != "cmp-1" {
		t.Errorf("campaign id = %q, want cmp-1", snap.CampaignID)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	terminal := status("cmp-1",
		calls.RecipientStatus{RecipientID: "r1", State: calls.RecipientFailed},
	)
	fetcher := &scriptedFetcher{steps: []statusStep{
		{err: &calls.TransportError{Kind: calls.KindUnavailable, Op: "fetch batch status", Status: 500}},
		{err: &calls.TransportError{Kind: calls.KindUnavailable, Op: "fetch batch status", Status: 500}},
		{status: status("cmp-1", calls.RecipientStatus{RecipientID: "r1", State: calls.RecipientInProgress})},
		{err: &calls.TransportError{Kind: calls.KindUnavailable, Op: "fetch batch status", Status: 500}},
		{err: &calls.TransportError{Kind: calls.KindUnavailable, Op: "fetch batch status", Status: 500}},
		{status: terminal},
	}}
	deps, hub, _, notifier := testDeps(t, fetcher, nil)

	session := tracker.New("cmp-1", tracker.Config{
		PollInterval: 2 * time.Millisecond,
		RetryBudget:  3,
	}, deps)
	hub.Register("cmp-1")
	sub, err := hub.Subscribe("cmp-1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	session.Start(context.Background())
	defer session.Stop()

	events := collectEvents(t, sub)

	final := events[len(events)-1]
	if final.Kind != stream.EventBatchCompleted {
		t.Fatalf("last event = %s, want batch-completed", final.Kind)
	}
	if final.Snapshot.Degraded {
		t.Error("interleaved failures below budget must not degrade the campaign")
	}

	<-session.Done()
	if notifier.degraded != 0 {
		t.Errorf("degraded notifications = %d, want 0", notifier.degraded)
	}
}

func TestTwoSubscribersSeeIdenticalTerminalSnapshot(t *testing.T) {
	convs := map[string]*calls.Conversation{
		"conv-1": {ConversationID: "conv-1", DurationSeconds: 12, Summary: "done"},
	}
	fetcher := &scriptedFetcher{steps: []statusStep{
		{status: status("cmp-1",
			calls.RecipientStatus{RecipientID: "r1", State: calls.RecipientPending},
		)},
		{status: status("cmp-1",
			calls.RecipientStatus{RecipientID: "r1", State: calls.RecipientCompleted, ConversationID: "conv-1"},
		)},
	}}
	deps, hub, _, _ := testDeps(t, fetcher, convs)

	session := tracker.New("cmp-1", tracker.Config{PollInterval: 2 * time.Millisecond}, deps)
	hub.Register("cmp-1")
	subA, err := hub.Subscribe("cmp-1")
	if err != nil {
		t.Fatalf("Subscribe A: %v", err)
	}
	subB, err := hub.Subscribe("cmp-1")
	if err != nil {
		t.Fatalf("Subscribe B: %v", err)
	}
	session.Start(context.Background())
	defer session.Stop()

	eventsA := collectEvents(t, subA)
	eventsB := collectEvents(t, subB)

	finalA := eventsA[len(eventsA)-1]
	finalB := eventsB[len(eventsB)-1]
	if finalA.Kind != stream.EventBatchCompleted || finalB.Kind != stream.EventBatchCompleted {
		t.Fatalf("both streams must end with batch-completed, got %s / %s", finalA.Kind, finalB.Kind)
	}
	if !reflect.DeepEqual(finalA.Snapshot, finalB.Snapshot) {
		t.Errorf("terminal snapshots differ:\nA: %+v\nB: %+v", finalA.Snapshot, finalB.Snapshot)
	}
}

func TestStopClosesStreamWithoutTerminalEvent(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []statusStep{
		{status: status("cmp-1", calls.RecipientStatus{RecipientID: "r1", State: calls.RecipientPending})},
	}}
	deps, hub, archive, _ := testDeps(t, fetcher, nil)

	session := tracker.New("cmp-1", tracker.Config{PollInterval: 2 * time.Millisecond}, deps)
	hub.Register("cmp-1")
	sub, err := hub.Subscribe("cmp-1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	session.Start(context.Background())

	// Let at least one cycle land before stopping.
	deadline := time.Now().Add(2 * time.Second)
	for session.Snapshot() == nil {
		if time.Now().After(deadline) {
			t.Fatal("session never produced a snapshot")
		}
		time.Sleep(time.Millisecond)
	}
	session.Stop()

	events := collectEvents(t, sub)
	for _, evt := range events {
		if evt.Kind == stream.EventBatchCompleted {
			t.Error("stop-tracking must not emit a terminal event")
		}
	}
	if session.State() != tracker.StateStopped {
		t.Errorf("state = %s, want stopped", session.State())
	}
	if archive.count() != 0 {
		t.Errorf("archived snapshots = %d, want 0 after explicit stop", archive.count())
	}
}

func TestPokeTriggersImmediateCycle(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []statusStep{
		{status: status("cmp-1", calls.RecipientStatus{RecipientID: "r1", State: calls.RecipientPending})},
	}}
	deps, _, _, _ := testDeps(t, fetcher, nil)

	session := tracker.New("cmp-1", tracker.Config{PollInterval: time.Hour}, deps)
	session.Start(context.Background())
	defer session.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for session.Snapshot() == nil {
		if time.Now().After(deadline) {
			t.Fatal("first cycle never ran")
		}
		time.Sleep(time.Millisecond)
	}

	before := fetcher.callCount()
	session.Poke()
	deadline = time.Now().Add(2 * time.Second)
	for fetcher.callCount() == before {
		if time.Now().After(deadline) {
			t.Fatal("poke did not trigger a cycle")
		}
		time.Sleep(time.Millisecond)
	}
}

func (f *scriptedFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
