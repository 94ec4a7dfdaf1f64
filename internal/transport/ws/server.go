package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cwrk-planet/booth-service/internal/domain"
	"github.com/cwrk-planet/booth-service/internal/protocol"
	"github.com/cwrk-planet/booth-service/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Rooms sends JOINED and PARTNER_JOINED itself as part of Join.
type Rooms interface {
	Join(code, peerID string, conn protocol.Sender) (domain.PeerSlot, int, error)
	Leave(code string, index int, conn protocol.Sender) []protocol.Sender
	Partner(code string, index int) (protocol.Sender, bool)
}

type CaptureSvc interface {
	OnCaptureRequest(code, layout, filter string) (domain.CaptureSession, error)
	AuthorityNow() int64
}

type PairingSvc interface {
	Announce(ctx context.Context, code string, ann domain.UploadAnnouncement) (bool, error)
}

type Config struct {
	PingEvery    time.Duration
	WriteWait    time.Duration
	ReadLimit    int64
	AllowOrigins []string
}

type Server struct {
	upgrader websocket.Upgrader
	rooms    Rooms
	capture  CaptureSvc
	pairing  PairingSvc

	pingEvery time.Duration
	writeWait time.Duration
	readLimit int64
}

func NewServer(cfg Config, rooms Rooms, capture CaptureSvc, pairing PairingSvc) *Server {
	if cfg.PingEvery <= 0 {
		cfg.PingEvery = 15 * time.Second
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 5 * time.Second
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 1 << 20
	}
	return &Server{
		rooms:   rooms,
		capture: capture,
		pairing: pairing,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(cfg.AllowOrigins),
		},
		pingEvery: cfg.PingEvery,
		writeWait: cfg.WriteWait,
		readLimit: cfg.ReadLimit,
	}
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// WS endpoint: GET /ws/booth/{id}?peer_id=...
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	code := service.NormalizeCode(chi.URLParam(r, "id"))
	if code == "" {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return
	}
	peerID := strings.TrimSpace(r.URL.Query().Get("peer_id"))
	if peerID == "" {
		peerID = uuid.NewString()
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "room", code, "err", err)
		return
	}
	c := newWsConn(conn, code, peerID, s.writeWait)

	slot, count, err := s.rooms.Join(code, peerID, c)
	if err != nil {
		reason := protocol.ReasonInvalidMessage
		if errors.Is(err, domain.ErrRoomFull) {
			reason = protocol.ReasonRoomFull
		}
		slog.Info("ws join rejected", "room", code, "peer", peerID, "err", err)
		_ = c.Send(protocol.Error(reason))
		c.closeWith(websocket.ClosePolicyViolation, reason)
		return
	}
	log := slog.With("room", code, "peer", peerID, "slot", slot.Index)
	log.Info("ws peer joined", "peers", count)

	ctx := r.Context()
	go s.writeLoop(ctx, c)
	s.readLoop(ctx, c, slot.Index)

	for _, other := range s.rooms.Leave(code, slot.Index, c) {
		if err := other.Send(protocol.PartnerLeft()); err != nil {
			log.Debug("ws notify partner left failed", "err", err)
		}
	}
	log.Info("ws peer left")

	if err := c.Close(); err != nil {
		log.Debug("ws close failed", "err", err)
	}
}

func (s *Server) readLoop(ctx context.Context, c *wsConn, index int) {
	defer func() { _ = c.Close() }()

	c.conn.SetReadLimit(s.readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("ws read failed", "room", c.roomID, "slot", index, "err", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = c.Send(protocol.Error(protocol.ReasonInvalidMessage))
			continue
		}
		s.dispatch(ctx, c, index, msg, data)
	}
}

func (s *Server) dispatch(ctx context.Context, c *wsConn, index int, msg protocol.Message, raw []byte) {
	if kind, ok := protocol.NegotiationKind(string(msg.Type)); ok {
		s.relayNegotiation(c, index, kind, raw)
		return
	}

	switch msg.Type {
	case protocol.TypePing:
		_ = c.Send(protocol.Message{Type: protocol.TypePong})

	case protocol.TypeTimePing:
		_ = c.Send(protocol.Message{
			Type:           protocol.TypeTimePong,
			ClientSendTime: msg.ClientSendTime,
			ServerRecvTime: s.capture.AuthorityNow(),
		})

	case protocol.TypeCaptureRequest:
		_, err := s.capture.OnCaptureRequest(c.roomID, msg.Layout, msg.Filter)
		switch {
		case errors.Is(err, domain.ErrPartnerAbsent):
			_ = c.Send(protocol.Error(protocol.ReasonPartnerAbsent))
		case err != nil:
			slog.Warn("ws capture request failed", "room", c.roomID, "slot", index, "err", err)
		}

	case protocol.TypeStitchReady:
		// the index captured with the session wins over the current slot
		peerIndex := msg.Index()
		if peerIndex < 0 {
			peerIndex = index
		}
		if msg.SessionID == "" || msg.AssetRef == "" || !domain.ValidSlot(peerIndex) {
			_ = c.Send(protocol.Error(protocol.ReasonInvalidMessage))
			return
		}
		if partner, ok := s.rooms.Partner(c.roomID, index); ok {
			_ = partner.Send(protocol.StitchReady(msg.SessionID, peerIndex, msg.AssetRef))
		}
		ann := domain.UploadAnnouncement{SessionID: msg.SessionID, PeerIndex: peerIndex, AssetRef: msg.AssetRef}
		if _, err := s.pairing.Announce(ctx, c.roomID, ann); err != nil {
			slog.Warn("ws stitch announce failed", "room", c.roomID, "session", msg.SessionID, "err", err)
		}

	default:
		slog.Debug("ws unknown message", "room", c.roomID, "slot", index, "type", msg.Type)
	}
}

// relayNegotiation forwards an opaque offer/answer/candidate to the partner.
func (s *Server) relayNegotiation(c *wsConn, index int, kind protocol.Type, raw []byte) {
	partner, ok := s.rooms.Partner(c.roomID, index)
	if !ok {
		return
	}
	out, err := protocol.Retag(raw, kind, index)
	if err != nil {
		_ = c.Send(protocol.Error(protocol.ReasonInvalidMessage))
		return
	}
	if err := partner.SendRaw(out); err != nil {
		slog.Debug("ws negotiation relay failed", "room", c.roomID, "kind", kind, "err", err)
	}
}

func (s *Server) writeLoop(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(s.pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		}
	}
}
