package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/gofrs/flock"

	"dialwatch/internal/config"
	"dialwatch/internal/engine"
	"dialwatch/internal/logging"
	"dialwatch/internal/notifications"
	"dialwatch/internal/store"
)

// Daemon coordinates the tracking engine and the local API, and enforces
// single-instance execution via a lock file.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	engine  *engine.Engine
	archive *store.Store
	logPath string

	lockPath string
	lock     *flock.Flock

	api *apiServer

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running       bool
	Tracked       []engine.CampaignInfo
	ArchiveDBPath string
	LockFilePath  string
}

// New constructs a daemon with initialized dependencies. archive may be nil
// when snapshot archival is disabled.
func New(cfg *config.Config, eng *engine.Engine, archive *store.Store, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || eng == nil || logger == nil {
		return nil, errors.New("daemon requires config, engine, and logger")
	}

	lockPath := filepath.Join(cfg.Paths.StateDir, "dialwatchd.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		engine:   eng,
		archive:  archive,
		logPath:  filepath.Join(cfg.Paths.LogDir, "dialwatch.log"),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}

	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the daemon lock and brings the API up.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another dialwatch daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.api.start(d.ctx); err != nil {
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return err
	}

	d.running.Store(true)
	d.logger.Info("dialwatch daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop shuts the API down, stops every tracking session, and releases the
// daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.engine.Close()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("dialwatch daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.archive != nil {
		return d.archive.Close()
	}
	return nil
}

// Engine exposes the tracking engine for API handlers.
func (d *Daemon) Engine() *engine.Engine { return d.engine }

// APIAddr returns the bound API address, or empty before Start.
func (d *Daemon) APIAddr() string {
	if d.api == nil {
		return ""
	}
	return d.api.addr()
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	notifier := notifications.NewService(d.cfg)
	if err := notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	status := Status{
		Running:      d.running.Load(),
		Tracked:      d.engine.Tracked(),
		LockFilePath: d.lockPath,
	}
	if d.archive != nil {
		status.ArchiveDBPath = d.archive.Path()
	}
	return status
}
