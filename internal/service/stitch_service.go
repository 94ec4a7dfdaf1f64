package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/cwrk-planet/booth-service/internal/domain"
)

// JobSubmitter accepts a composite job. A second submission for the same session
// must be a no-op that reports domain.ErrJobExists or created=false.
type JobSubmitter interface {
	Submit(ctx context.Context, job domain.CompositeJob) (domain.CompositeJob, bool, error)
}

// Pairing watches upload announcements and submits a composite job once both
// peers have announced an asset for the current session.
type Pairing struct {
	reg    *Registry
	submit JobSubmitter
}

func NewPairing(reg *Registry, submit JobSubmitter) *Pairing {
	return &Pairing{reg: reg, submit: submit}
}

// Announce records ann for the room. It returns true when this announcement
// completed the pair and a job was submitted. Announcements for a superseded or
// unknown session, an invalid slot or an empty asset are dropped.
func (p *Pairing) Announce(ctx context.Context, code string, ann domain.UploadAnnouncement) (bool, error) {
	var (
		job   domain.CompositeJob
		ready bool
	)
	err := p.reg.withRoom(code, func(rm *room) error {
		if rm.session == nil || rm.session.ID != ann.SessionID {
			return nil
		}
		if !domain.ValidSlot(ann.PeerIndex) || ann.AssetRef == "" {
			return nil
		}
		a := ann
		rm.announced[ann.PeerIndex] = &a
		rm.lastActive = p.reg.now()

		if rm.announced[0] == nil || rm.announced[1] == nil || rm.submitted == rm.session.ID {
			return nil
		}
		rm.submitted = rm.session.ID
		ready = true
		job = domain.CompositeJob{
			SessionID: rm.session.ID,
			AssetA:    rm.announced[0].AssetRef,
			AssetB:    rm.announced[1].AssetRef,
			Render:    rm.session.Render,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			return false, nil
		}
		return false, err
	}
	if !ready {
		return false, nil
	}

	_, created, err := p.submit.Submit(ctx, job)
	if errors.Is(err, domain.ErrJobExists) {
		return false, nil
	}
	if err != nil {
		// let a repeated announcement try again
		_ = p.reg.withRoom(code, func(rm *room) error {
			if rm.submitted == job.SessionID {
				rm.submitted = ""
			}
			return nil
		})
		slog.Error("pairing submit failed", "room", code, "session", job.SessionID, "err", err)
		return false, err
	}

	slog.Info("pairing pair complete", "room", code, "session", job.SessionID, "created", created)
	return created, nil
}
