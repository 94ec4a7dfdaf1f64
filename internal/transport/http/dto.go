package http

import (
	"time"

	"github.com/cwrk-planet/booth-service/internal/domain"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type BannerResponse struct {
	Service string `json:"service"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	RoomsActive int    `json:"rooms_active"`
}

type TimeResponse struct {
	ServerTimeMS int64 `json:"server_time_ms"`
}

type CreateRoomResponse struct {
	RoomID string `json:"room_id"`
}

type RoomStatusResponse struct {
	RoomID string `json:"room_id"`
	Peers  int    `json:"peers"`
	Full   bool   `json:"full"`
}

type AssetResponse struct {
	AssetRef string `json:"asset_ref"`
}

type StitchRequest struct {
	SessionID  string `json:"session_id"`
	URLA       string `json:"url_a"`
	URLB       string `json:"url_b"`
	Layout     string `json:"layout"`
	FilterName string `json:"filter_name"`
}

type JobResponse struct {
	SessionID   string     `json:"session_id"`
	Status      string     `json:"status"`
	Layout      string     `json:"layout,omitempty"`
	Filter      string     `json:"filter,omitempty"`
	ResultRef   string     `json:"result_ref,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func jobResponse(j domain.CompositeJob) JobResponse {
	resp := JobResponse{
		SessionID:   j.SessionID,
		Status:      string(j.Status),
		Layout:      string(j.Render.Layout),
		Filter:      string(j.Render.Filter),
		ResultRef:   j.ResultRef,
		Error:       j.Error,
		CompletedAt: j.CompletedAt,
	}
	if !j.CreatedAt.IsZero() {
		created := j.CreatedAt
		resp.CreatedAt = &created
	}
	return resp
}
