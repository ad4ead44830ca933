package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"syscall"
	"time"

	"dialwatch/internal/engine"
	"dialwatch/internal/snapshot"
	"dialwatch/internal/stream"
)

// ErrSnapshotPending indicates the daemon is tracking the campaign but has not
// completed its first poll cycle.
var ErrSnapshotPending = errors.New("first poll cycle still pending")

type daemonStatus struct {
	Running       bool                  `json:"running"`
	Tracked       []engine.CampaignInfo `json:"tracked"`
	ArchiveDBPath string                `json:"archive_db_path"`
	LockFilePath  string                `json:"lock_file_path"`
}

type campaignList struct {
	Tracked  []engine.CampaignInfo `json:"tracked"`
	Archived []*snapshot.Campaign  `json:"archived"`
}

// apiClient talks to the daemon's local HTTP API.
type apiClient struct {
	base       string
	httpClient *http.Client
}

func newAPIClient(addr string) *apiClient {
	return &apiClient{
		base:       "http://" + strings.TrimSpace(addr),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *apiClient) Status(ctx context.Context) (*daemonStatus, error) {
	var status daemonStatus
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *apiClient) Campaigns(ctx context.Context, archived bool) (*campaignList, error) {
	path := "/api/campaigns"
	if archived {
		path += "?archived=true"
	}
	var list campaignList
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (c *apiClient) Snapshot(ctx context.Context, campaignID string) (*snapshot.Campaign, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/campaigns/"+campaignID, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, wrapConnectError(err, c.base)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var snap snapshot.Campaign
		if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		return &snap, nil
	case http.StatusAccepted:
		return nil, ErrSnapshotPending
	default:
		return nil, decodeAPIError(resp)
	}
}

func (c *apiClient) Track(ctx context.Context, campaignID string) error {
	return c.do(ctx, http.MethodPost, "/api/campaigns/"+campaignID+"/track", nil, nil)
}

func (c *apiClient) Untrack(ctx context.Context, campaignID string) error {
	return c.do(ctx, http.MethodDelete, "/api/campaigns/"+campaignID, nil, nil)
}

func (c *apiClient) Refresh(ctx context.Context, campaignID string) error {
	return c.do(ctx, http.MethodPost, "/api/campaigns/"+campaignID+"/refresh", nil, nil)
}

// Watch streams a campaign's events, invoking fn for each until the stream
// closes, fn returns an error, or ctx is canceled.
func (c *apiClient) Watch(ctx context.Context, campaignID string, fn func(stream.Event) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/campaigns/"+campaignID+"/events", nil)
	if err != nil {
		return err
	}

	// The stream stays open for the campaign's lifetime; no client timeout.
	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return wrapConnectError(err, c.base)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var evt stream.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt); err != nil {
			return fmt.Errorf("decode stream event: %w", err)
		}
		if err := fn(evt); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("read event stream: %w", err)
	}
	return nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return wrapConnectError(err, c.base)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Error != "" {
		return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, payload.Error)
	}
	return fmt.Errorf("daemon returned %d", resp.StatusCode)
}

func wrapConnectError(err error, base string) error {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("connect to daemon at %s: connection refused; start the daemon with `dialwatchd`", base)
	}
	return fmt.Errorf("connect to daemon: %w", err)
}
