package client

import (
	"context"
	"fmt"
	"time"
)

const (
	DefaultPollInterval    = 1500 * time.Millisecond
	DefaultPollMaxAttempts = 20
)

// JobView is the client side of a composite job status.
type JobView struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	ResultRef string `json:"result_ref,omitempty"`
	Error     string `json:"error,omitempty"`
}

type JobStatusFunc func(ctx context.Context, sessionID string) (JobView, error)

// Poller waits for a composite job by polling at a fixed interval.
type Poller struct {
	Status      JobStatusFunc
	Interval    time.Duration
	MaxAttempts int
}

func NewPoller(status JobStatusFunc) *Poller {
	return &Poller{Status: status, Interval: DefaultPollInterval, MaxAttempts: DefaultPollMaxAttempts}
}

// Wait returns the done job, ErrJobFailed for an error state, or ErrPollTimeout
// once MaxAttempts polls found no terminal state. Transient lookup errors count
// as attempts.
func (p *Poller) Wait(ctx context.Context, sessionID string) (JobView, error) {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultPollMaxAttempts
	}

	var last JobView
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return last, ctx.Err()
			case <-time.After(p.Interval):
			}
		}

		view, err := p.Status(ctx, sessionID)
		if err != nil {
			continue
		}
		last = view
		switch view.Status {
		case "done":
			return view, nil
		case "error":
			return view, fmt.Errorf("%w: %s", ErrJobFailed, view.Error)
		}
	}
	return last, fmt.Errorf("%w: %d attempts", ErrPollTimeout, attempts)
}
