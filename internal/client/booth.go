package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cwrk-planet/booth-service/internal/protocol"

	"github.com/gorilla/websocket"
)

// Capturer grabs one frame when the fire instant arrives.
type Capturer func(ctx context.Context) ([]byte, error)

// Hooks are optional observers of a booth session.
type Hooks struct {
	OnJoined  func(slot, peers int)
	OnPartner func(present bool)
	OnFire    func(sessionID string, localAt time.Time)
	OnResult  func(sessionID string, job JobView, err error)
	// OnDrained runs after each offline queue drain triggered by a join.
	OnDrained func(delivered, pending int, err error)
}

type BoothConfig struct {
	ServerURL string
	Room      string
	Offset    Offset

	API     *API
	Queue   *Queue
	Poller  *Poller
	Capture Capturer
	Hooks   Hooks

	// Now is the local clock; defaults to time.Now.
	Now func() time.Time
}

// Booth runs one participant's side of the relay protocol.
type Booth struct {
	cfg BoothConfig

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu   sync.Mutex
	slot int
	// session is the capture scheduled but not yet announced; abort cancels it.
	session string
	abort   context.CancelFunc

	wg sync.WaitGroup
}

func NewBooth(cfg BoothConfig) *Booth {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Poller == nil && cfg.API != nil {
		cfg.Poller = NewPoller(cfg.API.JobStatus)
	}
	return &Booth{cfg: cfg, slot: -1}
}

// RelayURL converts an http(s) base URL into the booth websocket endpoint.
func RelayURL(serverURL, room string) (string, error) {
	u, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path += "/ws/booth/" + url.PathEscape(room)
	return u.String(), nil
}

// Run connects, drains the offline queue once joined and serves relay messages
// until ctx is done or the connection drops.
func (b *Booth) Run(ctx context.Context) error {
	wsURL, err := RelayURL(b.cfg.ServerURL, b.cfg.Room)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}
	b.conn = conn
	defer b.wg.Wait()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		var msg protocol.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("relay read: %w", err)
		}

		switch msg.Type {
		case protocol.TypeJoined:
			b.mu.Lock()
			b.slot = msg.Index()
			b.mu.Unlock()
			if b.cfg.Hooks.OnJoined != nil {
				b.cfg.Hooks.OnJoined(msg.Index(), msg.PeersCount)
			}
			b.goDrain(ctx)
		case protocol.TypePartnerJoined:
			if b.cfg.Hooks.OnPartner != nil {
				b.cfg.Hooks.OnPartner(true)
			}
		case protocol.TypePartnerLeft:
			if b.cfg.Hooks.OnPartner != nil {
				b.cfg.Hooks.OnPartner(false)
			}
			b.orphan()
		case protocol.TypeFireAt:
			session, fireAt := msg.SessionID, msg.FireAt
			fctx, fcancel := context.WithCancel(ctx)
			b.mu.Lock()
			if b.abort != nil {
				// superseded by the new session
				b.abort()
			}
			b.session, b.abort = session, fcancel
			b.mu.Unlock()

			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				defer fcancel()
				b.fire(fctx, session, fireAt)
			}()
		case protocol.TypeError:
			if msg.Reason == protocol.ReasonRoomFull {
				return ErrRoomFull
			}
			slog.Warn("booth relay error", "reason", msg.Reason)
		}
	}
}

// RequestCapture asks the server to schedule a synchronized capture.
func (b *Booth) RequestCapture(layout, filter string) error {
	return b.send(protocol.CaptureRequest(layout, filter))
}

// Slot is the slot assigned by the last JOINED message, or -1.
func (b *Booth) Slot() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.slot
}

func (b *Booth) send(msg protocol.Message) error {
	if b.conn == nil {
		return errors.New("booth not connected")
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_ = b.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return b.conn.WriteJSON(msg)
}

// fire waits for the local equivalent of the authority fire instant, captures,
// uploads and announces. An upload failure parks the capture in the queue.
func (b *Booth) fire(ctx context.Context, sessionID string, fireAt int64) {
	local := time.UnixMilli(b.cfg.Offset.AuthorityToLocal(fireAt))
	if b.cfg.Hooks.OnFire != nil {
		b.cfg.Hooks.OnFire(sessionID, local)
	}
	timer := time.NewTimer(local.Sub(b.cfg.Now()))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	if b.cfg.Capture == nil {
		b.settle(sessionID)
		return
	}
	data, err := b.cfg.Capture(ctx)
	if err != nil {
		if b.settle(sessionID) {
			slog.Warn("booth capture failed", "session", sessionID, "err", err)
		}
		return
	}
	slot := b.Slot()

	ref, err := b.upload(ctx, sessionID, slot, data)
	if !b.settle(sessionID) {
		return
	}
	if err != nil {
		if b.cfg.Queue == nil {
			b.result(sessionID, JobView{}, err)
			return
		}
		id, qerr := b.cfg.Queue.Enqueue(QueuedUpload{Data: data, Room: b.cfg.Room, SessionID: sessionID, PeerIndex: slot})
		if qerr != nil {
			b.result(sessionID, JobView{}, errors.Join(err, qerr))
			return
		}
		slog.Info("booth capture queued for later upload", "session", sessionID, "id", id)
		return
	}

	if err := b.send(protocol.StitchReady(sessionID, slot, ref)); err != nil {
		slog.Warn("booth announce failed", "session", sessionID, "err", err)
		return
	}
	b.await(ctx, sessionID)
}

// settle marks sessionID as no longer in flight. It reports false when the
// session was orphaned or superseded meanwhile.
func (b *Booth) settle(sessionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session != sessionID {
		return false
	}
	b.session, b.abort = "", nil
	return true
}

// orphan aborts the in-flight session after the partner left and reports
// ErrPartnerDisconnected for it.
func (b *Booth) orphan() {
	b.mu.Lock()
	sessionID, abort := b.session, b.abort
	b.session, b.abort = "", nil
	b.mu.Unlock()
	if abort == nil {
		return
	}
	abort()
	slog.Info("booth session orphaned", "session", sessionID)
	b.result(sessionID, JobView{}, ErrPartnerDisconnected)
}

func (b *Booth) upload(ctx context.Context, sessionID string, slot int, data []byte) (string, error) {
	if b.cfg.API == nil {
		return "", ErrUploadFailed
	}
	return b.cfg.API.UploadAsset(ctx, sessionID, slot, data)
}

func (b *Booth) goDrain(ctx context.Context) {
	if b.cfg.Queue == nil {
		b.drained(0, 0, nil)
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		n, err := b.cfg.Queue.Drain(ctx, func(ctx context.Context, it QueuedUpload) error {
			if it.Room != "" && !strings.EqualFold(it.Room, b.cfg.Room) {
				return ErrSkip
			}
			ref, err := b.upload(ctx, it.SessionID, it.PeerIndex, it.Data)
			if err != nil {
				return err
			}
			return b.send(protocol.StitchReady(it.SessionID, it.PeerIndex, ref))
		})
		pending := b.cfg.Queue.Len()
		if n > 0 || err != nil {
			slog.Info("booth queue drained", "delivered", n, "pending", pending, "err", err)
		}
		b.drained(n, pending, err)
	}()
}

func (b *Booth) drained(delivered, pending int, err error) {
	if b.cfg.Hooks.OnDrained != nil {
		b.cfg.Hooks.OnDrained(delivered, pending, err)
	}
}

func (b *Booth) await(ctx context.Context, sessionID string) {
	if b.cfg.Poller == nil {
		return
	}
	job, err := b.cfg.Poller.Wait(ctx, sessionID)
	b.result(sessionID, job, err)
}

func (b *Booth) result(sessionID string, job JobView, err error) {
	if b.cfg.Hooks.OnResult != nil {
		b.cfg.Hooks.OnResult(sessionID, job, err)
	}
}
