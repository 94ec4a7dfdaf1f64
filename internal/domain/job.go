package domain

import (
	"fmt"
	"strings"
	"time"
)

type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobDone       JobStatus = "done"
	JobError      JobStatus = "error"
)

// Terminal reports whether no further transition is allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobDone || s == JobError
}

// CanTransition enforces queued -> processing -> {done|error}.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobQueued:
		return to == JobProcessing || to == JobError
	case JobProcessing:
		return to == JobDone || to == JobError
	default:
		return false
	}
}

type Layout string

const (
	LayoutHorizontal Layout = "horizontal"
	LayoutVertical   Layout = "vertical"
)

type Filter string

const (
	FilterPolaroid Filter = "polaroid"
	FilterNoir     Filter = "noir"
	FilterWarm     Filter = "warm"
	FilterNone     Filter = "none"
)

func ParseLayout(s string) (Layout, error) {
	switch l := Layout(strings.ToLower(strings.TrimSpace(s))); l {
	case LayoutHorizontal, LayoutVertical:
		return l, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidLayout, s)
	}
}

func ParseFilter(s string) (Filter, error) {
	switch f := Filter(strings.ToLower(strings.TrimSpace(s))); f {
	case FilterPolaroid, FilterNoir, FilterWarm, FilterNone:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidFilter, s)
	}
}

type RenderConfig struct {
	Layout Layout `json:"layout"`
	Filter Filter `json:"filter"`
}

// CompositeJob merges the two captures of one session. SessionID is the primary key.
type CompositeJob struct {
	SessionID   string       `json:"session_id"`
	AssetA      string       `json:"asset_a"`
	AssetB      string       `json:"asset_b"`
	Render      RenderConfig `json:"render"`
	Status      JobStatus    `json:"status"`
	ResultRef   string       `json:"result_ref,omitempty"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}
