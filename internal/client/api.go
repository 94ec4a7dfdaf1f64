package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// API talks to the booth HTTP endpoints.
type API struct {
	base   string
	client *http.Client
}

func NewAPI(baseURL string, timeout time.Duration) *API {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &API{base: strings.TrimRight(baseURL, "/"), client: &http.Client{Timeout: timeout}}
}

// ServerTime implements TimeSource against GET /api/time.
func (a *API) ServerTime(ctx context.Context) (int64, error) {
	var out struct {
		ServerTimeMS int64 `json:"server_time_ms"`
	}
	if err := a.do(ctx, http.MethodGet, "/api/time", nil, "", &out); err != nil {
		return 0, err
	}
	return out.ServerTimeMS, nil
}

func (a *API) CreateRoom(ctx context.Context) (string, error) {
	var out struct {
		RoomID string `json:"room_id"`
	}
	if err := a.do(ctx, http.MethodPost, "/api/room/create", nil, "", &out); err != nil {
		return "", err
	}
	return out.RoomID, nil
}

// UploadAsset stores one capture and returns its asset reference. Failures wrap
// ErrUploadFailed.
func (a *API) UploadAsset(ctx context.Context, sessionID string, peerIndex int, data []byte) (string, error) {
	q := url.Values{}
	q.Set("session_id", sessionID)
	q.Set("peer_index", strconv.Itoa(peerIndex))

	var out struct {
		AssetRef string `json:"asset_ref"`
	}
	ct := http.DetectContentType(data)
	if err := a.do(ctx, http.MethodPost, "/api/assets?"+q.Encode(), bytes.NewReader(data), ct, &out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	return out.AssetRef, nil
}

// JobStatus reads GET /api/stitch/{session_id}.
func (a *API) JobStatus(ctx context.Context, sessionID string) (JobView, error) {
	var out JobView
	err := a.do(ctx, http.MethodGet, "/api/stitch/"+url.PathEscape(sessionID), nil, "", &out)
	return out, err
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

func (a *API) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, a.base+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
