package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cwrk-planet/booth-service/internal/domain"
	"github.com/cwrk-planet/booth-service/internal/protocol"
)

type RegistryConfig struct {
	// EmptyTTL is how long a room with no occupants is kept before it is reclaimed.
	EmptyTTL time.Duration
}

type slot struct {
	domain.PeerSlot
	conn protocol.Sender
}

// room is guarded by its own mutex; rooms never share a lock.
type room struct {
	mu sync.Mutex

	id         string
	createdAt  time.Time
	lastActive time.Time
	emptySince time.Time
	removed    bool

	slots [domain.SlotCount]*slot

	session   *domain.CaptureSession
	announced [domain.SlotCount]*domain.UploadAnnouncement
	submitted string
}

func (rm *room) count() int {
	n := 0
	for _, s := range rm.slots {
		if s != nil {
			n++
		}
	}
	return n
}

func (rm *room) occupants() []protocol.Sender {
	out := make([]protocol.Sender, 0, domain.SlotCount)
	for _, s := range rm.slots {
		if s != nil {
			out = append(out, s.conn)
		}
	}
	return out
}

// Registry owns every room, its membership and its capture state.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*room

	cfg RegistryConfig
	now func() time.Time
}

func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.EmptyTTL <= 0 {
		cfg.EmptyTTL = 10 * time.Minute
	}
	return &Registry{
		rooms: make(map[string]*room),
		cfg:   cfg,
		now:   time.Now,
	}
}

// SetClock replaces the wall clock, used by tests.
func (r *Registry) SetClock(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

// Create mints a fresh room code and registers an empty room under it.
func (r *Registry) Create() (string, error) {
	for i := 0; i < 5; i++ {
		code, err := NewRoomCode()
		if err != nil {
			return "", err
		}
		r.mu.Lock()
		if _, exists := r.rooms[code]; !exists {
			now := r.now()
			r.rooms[code] = &room{id: code, createdAt: now, lastActive: now, emptySince: now}
			r.mu.Unlock()
			return code, nil
		}
		r.mu.Unlock()
	}
	return "", errors.New("could not mint a unique room code")
}

// upsert returns the room for code, creating it when it is unknown.
func (r *Registry) upsert(code string) *room {
	r.mu.RLock()
	rm, ok := r.rooms[code]
	r.mu.RUnlock()
	if ok {
		return rm
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok = r.rooms[code]; ok {
		return rm
	}
	now := r.now()
	rm = &room{id: code, createdAt: now, lastActive: now, emptySince: now}
	r.rooms[code] = rm
	return rm
}

func (r *Registry) lookup(code string) (*room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[code]
	return rm, ok
}

// Join places conn into the lowest free slot of the room, creating the room on
// first use. A third occupant gets domain.ErrRoomFull. JOINED goes to conn and,
// when the room becomes full, PARTNER_JOINED to the other occupant; both are sent
// under the room lock so no peer sees PARTNER_JOINED before its own JOINED.
func (r *Registry) Join(code, peerID string, conn protocol.Sender) (domain.PeerSlot, int, error) {
	for {
		rm := r.upsert(code)
		rm.mu.Lock()
		if rm.removed {
			// lost a race with ExpireIdle, the next upsert builds a fresh room
			rm.mu.Unlock()
			continue
		}

		idx := -1
		for i, s := range rm.slots {
			if s == nil {
				idx = i
				break
			}
		}
		if idx < 0 {
			rm.mu.Unlock()
			return domain.PeerSlot{}, domain.SlotCount, domain.ErrRoomFull
		}

		now := r.now()
		s := &slot{
			PeerSlot: domain.PeerSlot{Index: idx, PeerID: peerID, JoinedAt: now},
			conn:     conn,
		}
		rm.slots[idx] = s
		rm.lastActive = now
		rm.emptySince = time.Time{}
		count := rm.count()

		if err := conn.Send(protocol.Joined(code, peerID, idx, count)); err != nil {
			slog.Debug("registry send joined failed", "room", code, "slot", idx, "err", err)
		}
		if other := rm.slots[1-idx]; count == domain.SlotCount && other != nil {
			if err := other.conn.Send(protocol.PartnerJoined(count)); err != nil {
				slog.Debug("registry notify partner failed", "room", code, "slot", other.Index, "err", err)
			}
		}
		rm.mu.Unlock()

		return s.PeerSlot, count, nil
	}
}

// Leave vacates slot index if conn still holds it and returns the remaining occupants.
func (r *Registry) Leave(code string, index int, conn protocol.Sender) []protocol.Sender {
	if !domain.ValidSlot(index) {
		return nil
	}
	rm, ok := r.lookup(code)
	if !ok {
		return nil
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	s := rm.slots[index]
	if s == nil || s.conn != conn {
		return nil
	}
	rm.slots[index] = nil
	now := r.now()
	rm.lastActive = now
	if rm.count() == 0 {
		rm.emptySince = now
	}

	return rm.occupants()
}

// Partner returns the connection that holds the other slot.
func (r *Registry) Partner(code string, index int) (protocol.Sender, bool) {
	if !domain.ValidSlot(index) {
		return nil, false
	}
	rm, ok := r.lookup(code)
	if !ok {
		return nil, false
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	other := rm.slots[1-index]
	if other == nil {
		return nil, false
	}
	return other.conn, true
}

func (r *Registry) OccupantCount(code string) int {
	rm, ok := r.lookup(code)
	if !ok {
		return 0
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.count()
}

func (r *Registry) Status(code string) (domain.RoomStatus, error) {
	rm, ok := r.lookup(code)
	if !ok {
		return domain.RoomStatus{}, domain.ErrRoomNotFound
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()

	n := rm.count()
	return domain.RoomStatus{
		ID:        rm.id,
		Peers:     n,
		Full:      n >= domain.SlotCount,
		CreatedAt: rm.createdAt,
	}, nil
}

// Len returns the number of live rooms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// withRoom runs fn with the room lock held.
func (r *Registry) withRoom(code string, fn func(rm *room) error) error {
	rm, ok := r.lookup(code)
	if !ok {
		return domain.ErrRoomNotFound
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.removed {
		return domain.ErrRoomNotFound
	}
	return fn(rm)
}

// ExpireIdle removes rooms that have been empty longer than EmptyTTL and returns
// the number reclaimed. A room with an occupant is never reclaimed; dead
// connections leave through Leave once their read deadline lapses.
func (r *Registry) ExpireIdle(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for code, rm := range r.rooms {
		rm.mu.Lock()
		if rm.count() == 0 && now.Sub(rm.emptySince) > r.cfg.EmptyTTL {
			rm.removed = true
			delete(r.rooms, code)
			removed++
		}
		rm.mu.Unlock()
	}
	return removed
}

// Run sweeps idle rooms every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = 10 * time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.ExpireIdle(r.now()); n > 0 {
				slog.Info("registry expired idle rooms", "count", n, "rooms_active", r.Len())
			}
		}
	}
}
