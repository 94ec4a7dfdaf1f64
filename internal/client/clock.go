package client

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

const (
	DefaultSyncSamples  = 5
	DefaultSyncInterval = 100 * time.Millisecond
)

// Offset is authority time minus local time, in milliseconds.
type Offset int64

func (o Offset) LocalToAuthority(local int64) int64 {
	return local + int64(o)
}

func (o Offset) AuthorityToLocal(authority int64) int64 {
	return authority - int64(o)
}

// TimeSource returns the authority instant in epoch milliseconds.
type TimeSource interface {
	ServerTime(ctx context.Context) (int64, error)
}

// Estimator derives the clock offset from sequential round trips to a TimeSource.
type Estimator struct {
	Source   TimeSource
	Samples  int
	Interval time.Duration

	// Now is the local clock in epoch milliseconds.
	Now func() int64
}

func NewEstimator(src TimeSource) *Estimator {
	return &Estimator{
		Source:   src,
		Samples:  DefaultSyncSamples,
		Interval: DefaultSyncInterval,
		Now:      func() int64 { return time.Now().UnixMilli() },
	}
}

// EstimateOffset returns the median of the per-sample offsets. Each sample
// assumes symmetric transit: the authority read its clock at the local midpoint.
// Fewer than a majority of successful samples yields ErrSyncUnavailable with a
// zero offset.
func (e *Estimator) EstimateOffset(ctx context.Context) (Offset, error) {
	n := e.Samples
	if n <= 0 {
		n = DefaultSyncSamples
	}
	now := e.Now
	if now == nil {
		now = func() int64 { return time.Now().UnixMilli() }
	}

	offsets := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		if i > 0 && e.Interval > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(e.Interval):
			}
		}

		t0 := now()
		serverT, err := e.Source.ServerTime(ctx)
		t1 := now()
		if err != nil {
			slog.Debug("clock sync sample failed", "sample", i, "err", err)
			continue
		}
		rtt := t1 - t0
		offsets = append(offsets, serverT+rtt/2-t1)
	}

	if len(offsets) <= n/2 {
		return 0, fmt.Errorf("%w: %d of %d samples", ErrSyncUnavailable, len(offsets), n)
	}
	return Offset(Median(offsets)), nil
}

// Median of samples; the lower middle element for even counts.
func Median(samples []int64) int64 {
	if len(samples) == 0 {
		return 0
	}
	s := append([]int64(nil), samples...)
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
	return s[(len(s)-1)/2]
}
