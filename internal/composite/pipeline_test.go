package composite

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cwrk-planet/booth-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type mapFetcher map[string][]byte

func (m mapFetcher) Fetch(_ context.Context, ref string) ([]byte, error) {
	data, ok := m[ref]
	if !ok {
		return nil, errors.New("unreachable: " + ref)
	}
	return data, nil
}

type memResults struct {
	mu   sync.Mutex
	objs map[string][]byte
}

func (m *memResults) Put(_ context.Context, key, _ string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objs == nil {
		m.objs = map[string][]byte{}
	}
	m.objs[key] = data
	return "mem://" + key, nil
}

func startPipeline(t *testing.T, fetch Fetcher) (*Pipeline, *memResults) {
	t.Helper()
	res := &memResults{}
	p := NewPipeline(Config{Workers: 2}, NewMemoryStore(), fetch, res)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return p, res
}

func waitTerminal(t *testing.T, p *Pipeline, id string) domain.CompositeJob {
	t.Helper()
	var job domain.CompositeJob
	require.Eventually(t, func() bool {
		var err error
		job, err = p.Status(context.Background(), id)
		return err == nil && job.Status.Terminal()
	}, 10*time.Second, 10*time.Millisecond)
	return job
}

func TestPipeline_Done(t *testing.T) {
	fetch := mapFetcher{
		"urlA": pngBytes(t, 64, 48, color.RGBA{200, 10, 10, 255}),
		"urlB": pngBytes(t, 48, 64, color.RGBA{10, 10, 200, 255}),
	}
	p, res := startPipeline(t, fetch)

	job, created, err := p.Submit(context.Background(), domain.CompositeJob{SessionID: "S", AssetA: "urlA", AssetB: "urlB"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.JobQueued, job.Status)
	assert.Equal(t, domain.RenderConfig{Layout: domain.LayoutHorizontal, Filter: domain.FilterPolaroid}, job.Render)

	job = waitTerminal(t, p, "S")
	require.Equal(t, domain.JobDone, job.Status)
	assert.Equal(t, "mem://booth/S/final.jpg", job.ResultRef)
	assert.Empty(t, job.Error)
	require.NotNil(t, job.CompletedAt)

	img, err := Decode(res.objs["booth/S/final.jpg"])
	require.NoError(t, err)
	assert.Equal(t, image.Pt(2*tileSize+dividerWidth+2*borderSide, tileSize+2*borderSide+borderBottom), img.Bounds().Size())
}

func TestPipeline_UnreachableAssetErrors(t *testing.T) {
	p, _ := startPipeline(t, mapFetcher{"urlA": pngBytes(t, 8, 8, color.White)})

	_, _, err := p.Submit(context.Background(), domain.CompositeJob{SessionID: "S", AssetA: "urlA", AssetB: "http://unreachable.invalid/b.jpg"})
	require.NoError(t, err)

	job := waitTerminal(t, p, "S")
	assert.Equal(t, domain.JobError, job.Status)
	assert.NotEmpty(t, job.Error)
	assert.Empty(t, job.ResultRef)

	// terminal states never move again
	time.Sleep(50 * time.Millisecond)
	again, err := p.Status(context.Background(), "S")
	require.NoError(t, err)
	assert.Equal(t, job, again)
}

func TestPipeline_DecodeFailureErrors(t *testing.T) {
	p, _ := startPipeline(t, mapFetcher{"a": []byte("not an image"), "b": pngBytes(t, 4, 4, color.Black)})
	_, _, err := p.Submit(context.Background(), domain.CompositeJob{SessionID: "D", AssetA: "a", AssetB: "b"})
	require.NoError(t, err)

	job := waitTerminal(t, p, "D")
	assert.Equal(t, domain.JobError, job.Status)
	assert.Contains(t, job.Error, "decode")
}

func TestPipeline_SubmitIsIdempotent(t *testing.T) {
	p, _ := startPipeline(t, mapFetcher{"a": pngBytes(t, 4, 4, color.Black), "b": pngBytes(t, 4, 4, color.White)})

	_, created, err := p.Submit(context.Background(), domain.CompositeJob{SessionID: "X", AssetA: "a", AssetB: "b"})
	require.NoError(t, err)
	require.True(t, created)

	again, created, err := p.Submit(context.Background(), domain.CompositeJob{SessionID: "X", AssetA: "other", AssetB: "other"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "a", again.AssetA)
}

func TestPipeline_SubmitValidates(t *testing.T) {
	p := NewPipeline(Config{}, NewMemoryStore(), mapFetcher{}, &memResults{})

	_, _, err := p.Submit(context.Background(), domain.CompositeJob{SessionID: "", AssetA: "a", AssetB: "b"})
	assert.ErrorIs(t, err, domain.ErrInvalidAsset)
	_, _, err = p.Submit(context.Background(), domain.CompositeJob{SessionID: "S", AssetA: "a"})
	assert.ErrorIs(t, err, domain.ErrInvalidAsset)
	_, _, err = p.Submit(context.Background(), domain.CompositeJob{SessionID: "S", AssetA: "a", AssetB: "b",
		Render: domain.RenderConfig{Layout: "diagonal"}})
	assert.ErrorIs(t, err, domain.ErrInvalidLayout)
	_, _, err = p.Submit(context.Background(), domain.CompositeJob{SessionID: "S", AssetA: "a", AssetB: "b",
		Render: domain.RenderConfig{Filter: "sepia"}})
	assert.ErrorIs(t, err, domain.ErrInvalidFilter)
}

func TestPipeline_SaturatedQueueFailsJob(t *testing.T) {
	// no workers are running, so the second job cannot be queued
	p := NewPipeline(Config{QueueSize: 1}, NewMemoryStore(), mapFetcher{}, &memResults{})

	first, _, err := p.Submit(context.Background(), domain.CompositeJob{SessionID: "1", AssetA: "a", AssetB: "b"})
	require.NoError(t, err)
	assert.Equal(t, domain.JobQueued, first.Status)

	second, created, err := p.Submit(context.Background(), domain.CompositeJob{SessionID: "2", AssetA: "a", AssetB: "b"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.JobError, second.Status)
}

func TestMemoryStore_MonotonicTransitions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, domain.CompositeJob{SessionID: "m", Status: domain.JobQueued}))
	assert.ErrorIs(t, s.Create(ctx, domain.CompositeJob{SessionID: "m"}), domain.ErrJobExists)

	_, err := s.Transition(ctx, "m", Transition{To: domain.JobDone})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = s.Transition(ctx, "m", Transition{To: domain.JobProcessing})
	require.NoError(t, err)
	done, err := s.Transition(ctx, "m", Transition{To: domain.JobDone, ResultRef: "r", At: time.Unix(10, 0)})
	require.NoError(t, err)
	assert.Equal(t, "r", done.ResultRef)

	for _, to := range []domain.JobStatus{domain.JobQueued, domain.JobProcessing, domain.JobError, domain.JobDone} {
		_, err := s.Transition(ctx, "m", Transition{To: to})
		assert.ErrorIs(t, err, domain.ErrInvalidTransition, "done -> %s", to)
	}
	_, err = s.Transition(ctx, "nope", Transition{To: domain.JobProcessing})
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	assert.Equal(t, 1, s.Purge(time.Unix(20, 0)))
	_, err = s.Get(ctx, "m")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestSourceFetcher_HTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ok.png" {
			_, _ = w.Write([]byte("png"))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := NewSourceFetcher(nil, time.Second)
	data, err := f.Fetch(context.Background(), srv.URL+"/ok.png")
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))

	_, err = f.Fetch(context.Background(), srv.URL+"/missing.png")
	assert.Error(t, err)
	_, err = f.Fetch(context.Background(), "ftp://host/file")
	assert.ErrorIs(t, err, domain.ErrInvalidAsset)
}

func TestPipeline_RecoversJobsFromPreviousRun(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	earlier := time.Now().Add(-time.Hour)
	render := domain.RenderConfig{Layout: domain.LayoutHorizontal, Filter: domain.FilterNone}

	require.NoError(t, store.Create(ctx, domain.CompositeJob{SessionID: "waiting", AssetA: "urlA", AssetB: "urlB",
		Render: render, Status: domain.JobQueued, CreatedAt: earlier}))
	require.NoError(t, store.Create(ctx, domain.CompositeJob{SessionID: "midway", AssetA: "urlA", AssetB: "urlB",
		Render: render, Status: domain.JobQueued, CreatedAt: earlier}))
	_, err := store.Transition(ctx, "midway", Transition{To: domain.JobProcessing, At: earlier})
	require.NoError(t, err)

	fetch := mapFetcher{
		"urlA": pngBytes(t, 8, 8, color.RGBA{200, 10, 10, 255}),
		"urlB": pngBytes(t, 8, 8, color.RGBA{10, 10, 200, 255}),
	}
	p := NewPipeline(Config{Workers: 1}, store, fetch, &memResults{})
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		_ = p.Run(runCtx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	waiting := waitTerminal(t, p, "waiting")
	assert.Equal(t, domain.JobDone, waiting.Status)

	midway := waitTerminal(t, p, "midway")
	assert.Equal(t, domain.JobError, midway.Status)
	assert.Equal(t, "interrupted", midway.Error)

	pending, err := store.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

type blockingFetcher struct{ started chan struct{} }

func (f blockingFetcher) Fetch(ctx context.Context, _ string) ([]byte, error) {
	select {
	case f.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestPipeline_ShutdownMidRenderMarksInterrupted(t *testing.T) {
	store := NewMemoryStore()
	fetch := blockingFetcher{started: make(chan struct{}, 1)}
	p := NewPipeline(Config{Workers: 1, FetchTimeout: time.Minute}, store, fetch, &memResults{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()

	_, _, err := p.Submit(context.Background(), domain.CompositeJob{SessionID: "S", AssetA: "a", AssetB: "b"})
	require.NoError(t, err)

	select {
	case <-fetch.started:
	case <-time.After(5 * time.Second):
		t.Fatal("render never started")
	}
	cancel()
	<-done

	job, err := store.Get(context.Background(), "S")
	require.NoError(t, err)
	assert.Equal(t, domain.JobError, job.Status)
	assert.Equal(t, "interrupted", job.Error)
}
