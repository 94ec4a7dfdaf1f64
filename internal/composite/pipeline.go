package composite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cwrk-planet/booth-service/internal/domain"
	"github.com/cwrk-planet/booth-service/internal/objstore"

	"golang.org/x/sync/errgroup"
)

const causeInterrupted = "interrupted"

type Config struct {
	Workers      int
	QueueSize    int
	FetchTimeout time.Duration
	JPEGQuality  int
	Defaults     domain.RenderConfig
}

// ResultStore receives the encoded composite.
type ResultStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// Pipeline renders composite jobs asynchronously. Jobs are never retried: a
// failed job stays in the error state.
type Pipeline struct {
	cfg     Config
	store   Store
	fetch   Fetcher
	results ResultStore
	queue   chan string
	now     func() time.Time
	// jobs created before this instant belong to an earlier process
	born time.Time
}

func NewPipeline(cfg Config, store Store, fetch Fetcher, results ResultStore) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	if cfg.Defaults.Layout == "" {
		cfg.Defaults.Layout = domain.LayoutHorizontal
	}
	if cfg.Defaults.Filter == "" {
		cfg.Defaults.Filter = domain.FilterPolaroid
	}
	return &Pipeline{
		cfg:     cfg,
		store:   store,
		fetch:   fetch,
		results: results,
		queue:   make(chan string, cfg.QueueSize),
		now:     time.Now,
		born:    time.Now(),
	}
}

// Submit registers a queued job and hands it to the workers without blocking.
// created is false when the session already has a job; the call is then a no-op.
func (p *Pipeline) Submit(ctx context.Context, job domain.CompositeJob) (domain.CompositeJob, bool, error) {
	job.SessionID = strings.TrimSpace(job.SessionID)
	if job.SessionID == "" {
		return domain.CompositeJob{}, false, fmt.Errorf("%w: empty session id", domain.ErrInvalidAsset)
	}
	if strings.TrimSpace(job.AssetA) == "" || strings.TrimSpace(job.AssetB) == "" {
		return domain.CompositeJob{}, false, fmt.Errorf("%w: both assets are required", domain.ErrInvalidAsset)
	}
	if job.Render.Layout == "" {
		job.Render.Layout = p.cfg.Defaults.Layout
	}
	if job.Render.Filter == "" {
		job.Render.Filter = p.cfg.Defaults.Filter
	}
	if _, err := domain.ParseLayout(string(job.Render.Layout)); err != nil {
		return domain.CompositeJob{}, false, err
	}
	if _, err := domain.ParseFilter(string(job.Render.Filter)); err != nil {
		return domain.CompositeJob{}, false, err
	}

	job.Status = domain.JobQueued
	job.ResultRef, job.Error, job.CompletedAt = "", "", nil
	job.CreatedAt = p.now()

	if err := p.store.Create(ctx, job); err != nil {
		if errors.Is(err, domain.ErrJobExists) {
			existing, gerr := p.store.Get(ctx, job.SessionID)
			if gerr != nil {
				return domain.CompositeJob{}, false, gerr
			}
			return existing, false, nil
		}
		return domain.CompositeJob{}, false, fmt.Errorf("store.Create: %w", err)
	}

	select {
	case p.queue <- job.SessionID:
	default:
		slog.Warn("pipeline queue full", "session", job.SessionID)
		if failed, err := p.fail(ctx, job.SessionID, "pipeline saturated"); err == nil {
			return failed, true, nil
		}
	}

	slog.Info("pipeline job queued", "session", job.SessionID,
		"layout", job.Render.Layout, "filter", job.Render.Filter)
	return job, true, nil
}

func (p *Pipeline) Status(ctx context.Context, sessionID string) (domain.CompositeJob, error) {
	return p.store.Get(ctx, sessionID)
}

// Run processes queued jobs on cfg.Workers goroutines until ctx is done. Jobs a
// previous process left behind are recovered first: queued ones are enqueued
// again, processing ones fail as interrupted.
func (p *Pipeline) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p.recoverJobs(ctx, p.born)
		return nil
	})
	for i := 0; i < p.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case id := <-p.queue:
					p.process(ctx, worker, id)
				}
			}
		})
	}
	return g.Wait()
}

func (p *Pipeline) recoverJobs(ctx context.Context, before time.Time) {
	jobs, err := p.store.Pending(ctx)
	if err != nil {
		slog.Error("pipeline recovery scan failed", "err", err)
		return
	}

	requeued, interrupted := 0, 0
	for _, job := range jobs {
		if !job.CreatedAt.Before(before) {
			continue
		}
		switch job.Status {
		case domain.JobQueued:
			select {
			case p.queue <- job.SessionID:
				requeued++
			case <-ctx.Done():
				return
			}
		case domain.JobProcessing:
			if _, err := p.fail(context.WithoutCancel(ctx), job.SessionID, causeInterrupted); err != nil {
				slog.Warn("pipeline recovery mark error failed", "session", job.SessionID, "err", err)
				continue
			}
			interrupted++
		}
	}
	if requeued > 0 || interrupted > 0 {
		slog.Info("pipeline recovered jobs", "requeued", requeued, "interrupted", interrupted)
	}
}

func (p *Pipeline) process(ctx context.Context, worker int, sessionID string) {
	start := time.Now()
	job, err := p.store.Transition(ctx, sessionID, Transition{To: domain.JobProcessing, At: p.now()})
	if err != nil {
		slog.Warn("pipeline pick up failed", "session", sessionID, "err", err)
		return
	}

	// terminal transitions must land even when shutdown cancels ctx mid-render
	tctx := context.WithoutCancel(ctx)

	ref, err := p.render(ctx, job)
	if err != nil {
		cause := err.Error()
		if ctx.Err() != nil {
			cause = causeInterrupted
		}
		if _, terr := p.fail(tctx, sessionID, cause); terr != nil {
			slog.Error("pipeline mark error failed", "session", sessionID, "err", terr)
		}
		slog.Warn("pipeline job failed", "session", sessionID, "worker", worker,
			"dur_ms", time.Since(start).Milliseconds(), "err", err)
		return
	}

	if _, err := p.store.Transition(tctx, sessionID, Transition{To: domain.JobDone, ResultRef: ref, At: p.now()}); err != nil {
		slog.Error("pipeline mark done failed", "session", sessionID, "err", err)
		return
	}
	slog.Info("pipeline job done", "session", sessionID, "worker", worker,
		"dur_ms", time.Since(start).Milliseconds(), "result", ref)
}

func (p *Pipeline) render(ctx context.Context, job domain.CompositeJob) (string, error) {
	fctx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()

	var rawA, rawB []byte
	g, gctx := errgroup.WithContext(fctx)
	g.Go(func() (err error) {
		rawA, err = p.fetch.Fetch(gctx, job.AssetA)
		if err != nil {
			return fmt.Errorf("fetch asset a: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		rawB, err = p.fetch.Fetch(gctx, job.AssetB)
		if err != nil {
			return fmt.Errorf("fetch asset b: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return "", err
	}

	imgA, err := Decode(rawA)
	if err != nil {
		return "", fmt.Errorf("asset a: %w", err)
	}
	imgB, err := Decode(rawB)
	if err != nil {
		return "", fmt.Errorf("asset b: %w", err)
	}

	out, err := Encode(Render(imgA, imgB, job.Render), p.cfg.JPEGQuality)
	if err != nil {
		return "", err
	}
	ref, err := p.results.Put(ctx, objstore.ResultKey(job.SessionID), "image/jpeg", out)
	if err != nil {
		return "", fmt.Errorf("store result: %w", err)
	}
	return ref, nil
}

func (p *Pipeline) fail(ctx context.Context, sessionID, cause string) (domain.CompositeJob, error) {
	if cause == "" {
		cause = "unknown failure"
	}
	return p.store.Transition(ctx, sessionID, Transition{To: domain.JobError, Error: cause, At: p.now()})
}
