package service

import (
	"log/slog"
	"time"

	"github.com/cwrk-planet/booth-service/internal/domain"
	"github.com/cwrk-planet/booth-service/internal/protocol"

	"github.com/google/uuid"
)

// DefaultLead is the gap between a capture request and the broadcast fire instant.
const DefaultLead = 2000 * time.Millisecond

// Scheduler turns a capture request into one FIRE_AT broadcast.
type Scheduler struct {
	reg      *Registry
	lead     time.Duration
	defaults domain.RenderConfig
	now      func() time.Time
}

func NewScheduler(reg *Registry, lead time.Duration, defaults domain.RenderConfig) *Scheduler {
	if lead <= 0 {
		lead = DefaultLead
	}
	if defaults.Layout == "" {
		defaults.Layout = domain.LayoutHorizontal
	}
	if defaults.Filter == "" {
		defaults.Filter = domain.FilterPolaroid
	}
	return &Scheduler{reg: reg, lead: lead, defaults: defaults, now: time.Now}
}

// SetClock replaces the authority clock, used by tests.
func (s *Scheduler) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// AuthorityNow is the server instant in epoch milliseconds.
func (s *Scheduler) AuthorityNow() int64 {
	return s.now().UnixMilli()
}

// OnCaptureRequest mints a new session for the room and broadcasts its fire
// instant to both occupants. The new session supersedes any earlier one.
// Layout and filter fall back to the configured defaults when empty or unknown.
func (s *Scheduler) OnCaptureRequest(code, layout, filter string) (domain.CaptureSession, error) {
	render := s.renderConfig(layout, filter)

	var session domain.CaptureSession
	err := s.reg.withRoom(code, func(rm *room) error {
		if rm.count() < domain.SlotCount {
			return domain.ErrPartnerAbsent
		}

		now := s.now()
		session = domain.CaptureSession{
			ID:        uuid.NewString(),
			RoomID:    rm.id,
			FireAt:    now.UnixMilli() + s.lead.Milliseconds(),
			Render:    render,
			CreatedAt: now,
		}
		rm.session = &session
		rm.announced = [domain.SlotCount]*domain.UploadAnnouncement{}
		rm.lastActive = now

		msg := protocol.FireAt(session.ID, session.FireAt)
		// sent under the room lock so successive sessions reach peers in order
		for _, c := range rm.occupants() {
			if err := c.Send(msg); err != nil {
				slog.Warn("scheduler fire_at send failed", "room", rm.id, "session", session.ID, "err", err)
			}
		}
		return nil
	})
	if err != nil {
		return domain.CaptureSession{}, err
	}

	slog.Info("scheduler capture scheduled",
		"room", code, "session", session.ID, "fire_at", session.FireAt,
		"layout", render.Layout, "filter", render.Filter)
	return session, nil
}

func (s *Scheduler) renderConfig(layout, filter string) domain.RenderConfig {
	cfg := s.defaults
	if l, err := domain.ParseLayout(layout); err == nil {
		cfg.Layout = l
	}
	if f, err := domain.ParseFilter(filter); err == nil {
		cfg.Filter = f
	}
	return cfg
}
