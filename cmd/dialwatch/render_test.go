package main

import (
	"strings"
	"testing"

	"dialwatch/internal/calls"
	"dialwatch/internal/snapshot"
)

func TestStateLabel(t *testing.T) {
	tests := []struct {
		in   calls.RecipientState
		want string
	}{
		{calls.RecipientPending, "Pending"},
		{calls.RecipientInProgress, "In Progress"},
		{calls.RecipientCompleted, "Completed"},
		{calls.RecipientFailed, "Failed"},
	}
	for _, tc := range tests {
		if got := stateLabel(tc.in); got != tc.want {
			t.Errorf("stateLabel(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestOverallLabelMarksDegraded(t *testing.T) {
	snap := &snapshot.Campaign{OverallState: snapshot.StateCompleted, Degraded: true}
	if got := overallLabel(snap); got != "Completed (degraded)" {
		t.Errorf("overallLabel = %q", got)
	}
}

func TestRenderTablePadsShortRows(t *testing.T) {
	out := renderTable(
		[]column{textCol("Campaign"), numCol("Recipients")},
		[][]string{{"cmp-1", "3"}, {"cmp-2"}},
	)
	for _, want := range []string{"Campaign", "Recipients", "cmp-1", "cmp-2"} {
		if !strings.Contains(out, want) {
			t.Errorf("table output missing %q", want)
		}
	}

	if renderTable(nil, nil) != "" {
		t.Error("empty column set should render nothing")
	}
}

func TestEnrichmentSummary(t *testing.T) {
	long := strings.Repeat("a", 60)
	rec := snapshot.Recipient{Enrichment: &snapshot.Enrichment{DurationSeconds: 42, Summary: long}}
	got := enrichmentSummary(rec)
	if !strings.HasPrefix(got, "42s: ") || !strings.HasSuffix(got, "...") {
		t.Errorf("long summary not truncated: %q", got)
	}

	if got := enrichmentSummary(snapshot.Recipient{EnrichmentPending: true}); got != "pending" {
		t.Errorf("pending summary = %q", got)
	}
	if got := enrichmentSummary(snapshot.Recipient{}); got != "-" {
		t.Errorf("empty summary = %q", got)
	}
}
