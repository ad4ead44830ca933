package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dialwatch/internal/config"
	"dialwatch/internal/engine"
	"dialwatch/internal/logging"
	"dialwatch/internal/snapshot"
)

// statusResponse is the /api/status payload.
type statusResponse struct {
	Running       bool                  `json:"running"`
	Tracked       []engine.CampaignInfo `json:"tracked"`
	ArchiveDBPath string                `json:"archive_db_path,omitempty"`
	LockFilePath  string                `json:"lock_file_path"`
}

// campaignsResponse is the /api/campaigns payload.
type campaignsResponse struct {
	Tracked  []engine.CampaignInfo `json:"tracked"`
	Archived []*snapshot.Campaign  `json:"archived,omitempty"`
}

// webhookPayload is the vendor callback body; only the campaign id is trusted,
// the daemon re-polls instead of ingesting vendor-pushed state.
type webhookPayload struct {
	CampaignID string `json:"campaign_id"`
}

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, errors.New("api bind address is required")
	}

	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", srv.handleStatus)
	mux.HandleFunc("GET /api/campaigns", srv.handleCampaigns)
	mux.HandleFunc("GET /api/campaigns/{id}", srv.handleCampaignSnapshot)
	mux.HandleFunc("POST /api/campaigns/{id}/track", srv.handleTrack)
	mux.HandleFunc("DELETE /api/campaigns/{id}", srv.handleUntrack)
	mux.HandleFunc("POST /api/campaigns/{id}/refresh", srv.handleRefresh)
	mux.HandleFunc("GET /api/campaigns/{id}/events", srv.handleEvents)
	mux.HandleFunc("POST /api/webhooks/vendor", srv.handleVendorWebhook)

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No WriteTimeout: the events endpoint holds its response open for
		// the lifetime of the subscription.
		IdleTimeout: 60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener
	s.server.BaseContext = func(net.Listener) context.Context { return ctx }

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status()
	s.writeJSON(w, http.StatusOK, statusResponse{
		Running:       status.Running,
		Tracked:       status.Tracked,
		ArchiveDBPath: status.ArchiveDBPath,
		LockFilePath:  status.LockFilePath,
	})
}

func (s *apiServer) handleCampaigns(w http.ResponseWriter, r *http.Request) {
	resp := campaignsResponse{Tracked: s.daemon.Engine().Tracked()}

	if parseBool(r.URL.Query().Get("archived")) && s.daemon.archive != nil {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		archived, err := s.daemon.archive.ListRecent(r.Context(), limit)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.Archived = archived
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleCampaignSnapshot(w http.ResponseWriter, r *http.Request) {
	campaignID := r.PathValue("id")
	snap, err := s.daemon.Engine().Snapshot(r.Context(), campaignID)
	switch {
	case errors.Is(err, engine.ErrNotTracked):
		s.writeError(w, http.StatusNotFound, "campaign not tracked")
	case errors.Is(err, engine.ErrNoSnapshot):
		s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "pending first poll"})
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	default:
		s.writeJSON(w, http.StatusOK, snap)
	}
}

func (s *apiServer) handleTrack(w http.ResponseWriter, r *http.Request) {
	campaignID := r.PathValue("id")
	if err := s.daemon.Engine().StartTracking(r.Context(), campaignID); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"campaign_id": campaignID, "status": "tracking"})
}

func (s *apiServer) handleUntrack(w http.ResponseWriter, r *http.Request) {
	campaignID := r.PathValue("id")
	if err := s.daemon.Engine().StopTracking(campaignID); err != nil {
		if errors.Is(err, engine.ErrNotTracked) {
			s.writeError(w, http.StatusNotFound, "campaign not tracked")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"campaign_id": campaignID, "status": "untracked"})
}

func (s *apiServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	campaignID := r.PathValue("id")
	if err := s.daemon.Engine().Refresh(campaignID); err != nil {
		if errors.Is(err, engine.ErrNotTracked) {
			s.writeError(w, http.StatusNotFound, "campaign not tracked")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"campaign_id": campaignID, "status": "refresh scheduled"})
}

// handleEvents streams a campaign's events as server-sent events until the
// campaign finishes or the client disconnects.
func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	campaignID := r.PathValue("id")
	sub, err := s.daemon.Engine().Subscribe(campaignID)
	if err != nil {
		if errors.Is(err, engine.ErrNotTracked) {
			s.writeError(w, http.StatusNotFound, "campaign not tracked")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer sub.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, open := <-sub.Events():
			if !open {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				s.logger.Error("failed to encode stream event", logging.Error(err))
				return
			}
			fmt.Fprintf(w, "event: %s\n", evt.Kind)
			fmt.Fprintf(w, "id: %d\n", evt.Sequence)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// handleVendorWebhook accepts a vendor completion callback and schedules an
// immediate poll for the named campaign.
func (s *apiServer) handleVendorWebhook(w http.ResponseWriter, r *http.Request) {
	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}
	campaignID := strings.TrimSpace(payload.CampaignID)
	if campaignID == "" {
		s.writeError(w, http.StatusBadRequest, "campaign_id is required")
		return
	}
	if err := s.daemon.Engine().Refresh(campaignID); err != nil {
		if errors.Is(err, engine.ErrNotTracked) {
			s.writeError(w, http.StatusNotFound, "campaign not tracked")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"campaign_id": campaignID, "status": "refresh scheduled"})
}

func parseBool(value string) bool {
	return value == "1" || strings.EqualFold(value, "true")
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
