package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"dialwatch/internal/snapshot"
)

// ErrNotFound is returned when no archived snapshot exists for a campaign.
var ErrNotFound = errors.New("campaign snapshot not found")

// Store archives terminal campaign snapshots in SQLite so the synchronous
// snapshot query keeps answering for recently-completed campaigns and across
// daemon restarts. The live stream remains the source of truth; this is a
// derived read model.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Open initializes or connects to the snapshot archive database in stateDir.
func Open(stateDir string) (*Store, error) {
	dbPath := filepath.Join(stateDir, "campaigns.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the archive database location.
func (s *Store) Path() string { return s.path }

// SaveTerminal upserts a campaign's terminal snapshot.
func (s *Store) SaveTerminal(ctx context.Context, snap *snapshot.Campaign) error {
	if snap == nil {
		return errors.New("snapshot is required")
	}
	recipients, err := json.Marshal(snap.Recipients)
	if err != nil {
		return fmt.Errorf("encode recipients: %w", err)
	}

	degraded := 0
	if snap.Degraded {
		degraded = 1
	}
	return s.execWithRetry(ctx, `
		INSERT INTO campaign_snapshots
			(campaign_id, name, agent_id, overall_state, degraded, degraded_reason, recipients_json, computed_at, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(campaign_id) DO UPDATE SET
			name = excluded.name,
			agent_id = excluded.agent_id,
			overall_state = excluded.overall_state,
			degraded = excluded.degraded,
			degraded_reason = excluded.degraded_reason,
			recipients_json = excluded.recipients_json,
			computed_at = excluded.computed_at,
			stored_at = excluded.stored_at`,
		snap.CampaignID,
		snap.Name,
		snap.AgentID,
		string(snap.OverallState),
		degraded,
		snap.DegradedReason,
		string(recipients),
		snap.ComputedAt.UTC().Format(time.RFC3339Nano),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
}

// Get returns the archived snapshot for a campaign, or ErrNotFound.
func (s *Store) Get(ctx context.Context, campaignID string) (*snapshot.Campaign, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT campaign_id, name, agent_id, overall_state, degraded, degraded_reason, recipients_json, computed_at
		FROM campaign_snapshots WHERE campaign_id = ?`, campaignID)
	return scanSnapshot(row)
}

// ListRecent returns archived snapshots ordered newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]*snapshot.Campaign, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT campaign_id, name, agent_id, overall_state, degraded, degraded_reason, recipients_json, computed_at
		FROM campaign_snapshots ORDER BY stored_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []*snapshot.Campaign
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Delete removes a campaign's archived snapshot.
func (s *Store) Delete(ctx context.Context, campaignID string) error {
	return s.execWithRetry(ctx, "DELETE FROM campaign_snapshots WHERE campaign_id = ?", campaignID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (*snapshot.Campaign, error) {
	var (
		snap           snapshot.Campaign
		state          string
		degraded       int
		recipientsJSON string
		computedAt     string
	)
	err := row.Scan(&snap.CampaignID, &snap.Name, &snap.AgentID, &state, &degraded,
		&snap.DegradedReason, &recipientsJSON, &computedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}

	snap.OverallState = snapshot.OverallState(state)
	snap.Degraded = degraded != 0
	if err := json.Unmarshal([]byte(recipientsJSON), &snap.Recipients); err != nil {
		return nil, fmt.Errorf("decode recipients: %w", err)
	}
	if ts, err := time.Parse(time.RFC3339Nano, computedAt); err == nil {
		snap.ComputedAt = ts
	}
	return &snap, nil
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		_, lastErr = s.db.ExecContext(ctx, query, args...)
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
