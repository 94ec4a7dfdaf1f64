package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/cwrk-planet/booth-service/internal/domain"
	"github.com/cwrk-planet/booth-service/internal/objstore"
	"github.com/cwrk-planet/booth-service/internal/service"

	"github.com/go-chi/chi/v5"
)

const defaultMaxUpload = 20 << 20

type Rooms interface {
	Create() (string, error)
	Status(code string) (domain.RoomStatus, error)
	Len() int
}

type Jobs interface {
	Submit(ctx context.Context, job domain.CompositeJob) (domain.CompositeJob, bool, error)
	Status(ctx context.Context, sessionID string) (domain.CompositeJob, error)
}

type Clock interface {
	AuthorityNow() int64
}

type Handler struct {
	service   string
	rooms     Rooms
	jobs      Jobs
	clock     Clock
	assets    objstore.Store
	maxUpload int64
}

func NewHandler(serviceName string, rooms Rooms, jobs Jobs, clock Clock, assets objstore.Store, maxUpload int64) *Handler {
	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}
	return &Handler{
		service:   serviceName,
		rooms:     rooms,
		jobs:      jobs,
		clock:     clock,
		assets:    assets,
		maxUpload: maxUpload,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors onto HTTP codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound), errors.Is(err, domain.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRoomFull), errors.Is(err, domain.ErrJobExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidLayout), errors.Is(err, domain.ErrInvalidFilter),
		errors.Is(err, domain.ErrInvalidAsset), errors.Is(err, objstore.ErrBadKey):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= 500 {
		slog.Error("handler."+op, slog.Any("err", err))
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

// GET /
func (h *Handler) Banner(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, BannerResponse{Service: h.service, Message: "booth relay is running"})
}

// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", RoomsActive: h.rooms.Len()})
}

// GET /api/time
func (h *Handler) ServerTime(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, TimeResponse{ServerTimeMS: h.clock.AuthorityNow()})
}

// POST /api/room/create
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	code, err := h.rooms.Create()
	if err != nil {
		writeErr(w, "CreateRoom", err)
		return
	}
	writeJSON(w, http.StatusOK, CreateRoomResponse{RoomID: code})
}

// GET /api/room/{id}/status
func (h *Handler) RoomStatus(w http.ResponseWriter, r *http.Request) {
	code := service.NormalizeCode(chi.URLParam(r, "id"))
	if code == "" {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: domain.ErrRoomNotFound.Error()})
		return
	}
	st, err := h.rooms.Status(code)
	if err != nil {
		writeErr(w, "RoomStatus", err)
		return
	}
	writeJSON(w, http.StatusOK, RoomStatusResponse{RoomID: st.ID, Peers: st.Peers, Full: st.Full})
}

// POST /api/assets?session_id=&peer_index=
func (h *Handler) UploadAsset(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID := strings.TrimSpace(q.Get("session_id"))
	if !validSessionID(sessionID) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid session_id"})
		return
	}
	peer, err := strconv.Atoi(q.Get("peer_index"))
	if err != nil || !domain.ValidSlot(peer) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid peer_index"})
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxUpload))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "asset too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "read body failed"})
		return
	}
	if len(data) == 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "empty body"})
		return
	}

	contentType := http.DetectContentType(data)
	ext, ok := imageExt(contentType)
	if !ok {
		writeJSON(w, http.StatusUnsupportedMediaType, ErrorResponse{Error: "unsupported image type " + contentType})
		return
	}

	ref, err := h.assets.Put(r.Context(), objstore.CaptureKey(sessionID, peer, ext), contentType, data)
	if err != nil {
		writeErr(w, "UploadAsset", err)
		return
	}
	slog.Info("asset stored", "session", sessionID, "peer_index", peer, "bytes", len(data))
	writeJSON(w, http.StatusCreated, AssetResponse{AssetRef: ref})
}

// POST /api/stitch
func (h *Handler) SubmitStitch(w http.ResponseWriter, r *http.Request) {
	var req StitchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Error("handler.SubmitStitch.Decode:", slog.Any("err", err))
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
		return
	}
	if !validSessionID(strings.TrimSpace(req.SessionID)) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid session_id"})
		return
	}

	job, _, err := h.jobs.Submit(r.Context(), domain.CompositeJob{
		SessionID: req.SessionID,
		AssetA:    req.URLA,
		AssetB:    req.URLB,
		Render: domain.RenderConfig{
			Layout: domain.Layout(strings.ToLower(strings.TrimSpace(req.Layout))),
			Filter: domain.Filter(strings.ToLower(strings.TrimSpace(req.FilterName))),
		},
	})
	if err != nil {
		writeErr(w, "SubmitStitch", err)
		return
	}
	writeJSON(w, http.StatusAccepted, JobResponse{SessionID: job.SessionID, Status: string(job.Status)})
}

// GET /api/stitch/{session_id}
func (h *Handler) StitchStatus(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Status(r.Context(), chi.URLParam(r, "session_id"))
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			writeJSON(w, http.StatusNotFound, JobResponse{SessionID: chi.URLParam(r, "session_id"), Status: "not_found"})
			return
		}
		writeErr(w, "StitchStatus", err)
		return
	}
	writeJSON(w, http.StatusOK, jobResponse(job))
}

func validSessionID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

func imageExt(contentType string) (string, bool) {
	switch contentType {
	case "image/jpeg":
		return "jpg", true
	case "image/png":
		return "png", true
	case "image/webp":
		return "webp", true
	default:
		return "", false
	}
}
