package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cwrk-planet/booth-service/internal/domain"
	"github.com/cwrk-planet/booth-service/internal/protocol"
	"github.com/cwrk-planet/booth-service/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type jobRecorder struct {
	mu   sync.Mutex
	jobs []domain.CompositeJob
}

func (j *jobRecorder) Submit(_ context.Context, job domain.CompositeJob) (domain.CompositeJob, bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, prev := range j.jobs {
		if prev.SessionID == job.SessionID {
			return prev, false, domain.ErrJobExists
		}
	}
	j.jobs = append(j.jobs, job)
	return job, true, nil
}

func (j *jobRecorder) all() []domain.CompositeJob {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]domain.CompositeJob(nil), j.jobs...)
}

func startRelay(t *testing.T) (string, *jobRecorder) {
	t.Helper()
	reg := service.NewRegistry(service.RegistryConfig{})
	jobs := &jobRecorder{}
	srv := NewServer(Config{}, reg,
		service.NewScheduler(reg, 0, domain.RenderConfig{}),
		service.NewPairing(reg, jobs))

	r := chi.NewRouter()
	r.Get("/ws/booth/{id}", srv.HandleWS)
	hs := httptest.NewServer(r)
	t.Cleanup(hs.Close)
	return "ws" + strings.TrimPrefix(hs.URL, "http"), jobs
}

func dial(t *testing.T, base, room string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(base+"/ws/booth/"+room, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// next reads messages until one of type want arrives.
func next(t *testing.T, c *websocket.Conn, want protocol.Type) protocol.Message {
	t.Helper()
	raw := nextRaw(t, c, want)
	var m protocol.Message
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func nextRaw(t *testing.T, c *websocket.Conn, want protocol.Type) []byte {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := c.ReadMessage()
		require.NoError(t, err, "waiting for %s", want)
		var m protocol.Message
		require.NoError(t, json.Unmarshal(data, &m))
		if m.Type == want {
			return data
		}
	}
}

func send(t *testing.T, c *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, c.WriteJSON(v))
}

func TestRelay_JoinOrderAndRoomFull(t *testing.T) {
	base, _ := startRelay(t)

	a := dial(t, base, "a3f7b2c1")
	ja := next(t, a, protocol.TypeJoined)
	assert.Equal(t, "A3F7B2C1", ja.RoomID)
	assert.Equal(t, 0, ja.Index())
	assert.Equal(t, 1, ja.PeersCount)
	assert.NotEmpty(t, ja.PeerID)

	b := dial(t, base, "A3F7B2C1")
	jb := next(t, b, protocol.TypeJoined)
	assert.Equal(t, 1, jb.Index())
	assert.Equal(t, 2, jb.PeersCount)
	assert.Equal(t, 2, next(t, a, protocol.TypePartnerJoined).PeersCount)

	c := dial(t, base, "A3F7B2C1")
	e := next(t, c, protocol.TypeError)
	assert.Equal(t, protocol.ReasonRoomFull, e.Reason)
	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := c.ReadMessage()
	assert.Error(t, err)

	require.NoError(t, b.Close())
	next(t, a, protocol.TypePartnerLeft)

	// the freed slot goes to the next joiner
	d := dial(t, base, "A3F7B2C1")
	assert.Equal(t, 1, next(t, d, protocol.TypeJoined).Index())
}

func TestRelay_CaptureNeedsPartner(t *testing.T) {
	base, _ := startRelay(t)
	a := dial(t, base, "SOLO")
	next(t, a, protocol.TypeJoined)

	send(t, a, protocol.CaptureRequest("", ""))
	assert.Equal(t, protocol.ReasonPartnerAbsent, next(t, a, protocol.TypeError).Reason)
}

func TestRelay_CaptureAndPairComplete(t *testing.T) {
	base, jobs := startRelay(t)
	a := dial(t, base, "A3F7B2C1")
	next(t, a, protocol.TypeJoined)
	b := dial(t, base, "A3F7B2C1")
	next(t, b, protocol.TypeJoined)

	send(t, b, protocol.CaptureRequest("vertical", "noir"))
	fa := next(t, a, protocol.TypeFireAt)
	fb := next(t, b, protocol.TypeFireAt)
	assert.Equal(t, fa, fb)
	assert.Greater(t, fa.FireAt, time.Now().UnixMilli())

	send(t, b, protocol.StitchReady(fa.SessionID, 1, "ref-b"))
	relayed := next(t, a, protocol.TypeStitchReady)
	assert.Equal(t, 1, relayed.Index())
	assert.Equal(t, "ref-b", relayed.AssetRef)
	assert.Empty(t, jobs.all())

	send(t, a, protocol.StitchReady(fa.SessionID, 0, "ref-a"))
	next(t, b, protocol.TypeStitchReady)
	send(t, a, protocol.StitchReady(fa.SessionID, 0, "ref-a"))
	next(t, b, protocol.TypeStitchReady)

	require.Eventually(t, func() bool { return len(jobs.all()) == 1 }, 3*time.Second, 10*time.Millisecond)
	job := jobs.all()[0]
	assert.Equal(t, fa.SessionID, job.SessionID)
	assert.Equal(t, "ref-a", job.AssetA)
	assert.Equal(t, "ref-b", job.AssetB)
	assert.Equal(t, domain.RenderConfig{Layout: domain.LayoutVertical, Filter: domain.FilterNoir}, job.Render)
}

func TestRelay_LateAnnouncementAfterPartnerLeft(t *testing.T) {
	base, jobs := startRelay(t)
	a := dial(t, base, "LATE")
	next(t, a, protocol.TypeJoined)
	b := dial(t, base, "LATE")
	next(t, b, protocol.TypeJoined)

	send(t, a, protocol.CaptureRequest("", ""))
	fire := next(t, a, protocol.TypeFireAt)
	next(t, b, protocol.TypeFireAt)

	send(t, a, protocol.StitchReady(fire.SessionID, 0, "ref-a"))
	next(t, b, protocol.TypeStitchReady)
	require.NoError(t, a.Close())
	next(t, b, protocol.TypePartnerLeft)

	send(t, b, protocol.StitchReady(fire.SessionID, 1, "ref-b"))
	require.Eventually(t, func() bool { return len(jobs.all()) == 1 }, 3*time.Second, 10*time.Millisecond)
}

func TestRelay_NegotiationRetaggedToPartner(t *testing.T) {
	base, _ := startRelay(t)
	a := dial(t, base, "NEGO")
	next(t, a, protocol.TypeJoined)
	b := dial(t, base, "NEGO")
	next(t, b, protocol.TypeJoined)

	send(t, a, map[string]any{"type": "ice-candidate", "candidate": "candidate:1 udp", "sdpMid": "0"})
	raw := nextRaw(t, b, protocol.TypeICECandidate)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "ICE_CANDIDATE", got["type"])
	assert.Equal(t, "candidate:1 udp", got["candidate"])
	assert.Equal(t, "0", got["sdpMid"])
	assert.Equal(t, float64(0), got["from"])
}

func TestRelay_PingAndTimePing(t *testing.T) {
	base, _ := startRelay(t)
	a := dial(t, base, "TIME")
	next(t, a, protocol.TypeJoined)

	send(t, a, protocol.Message{Type: protocol.TypePing})
	next(t, a, protocol.TypePong)

	before := time.Now().UnixMilli()
	send(t, a, protocol.Message{Type: protocol.TypeTimePing, ClientSendTime: 12345})
	pong := next(t, a, protocol.TypeTimePong)
	assert.Equal(t, int64(12345), pong.ClientSendTime)
	assert.GreaterOrEqual(t, pong.ServerRecvTime, before)

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, protocol.ReasonInvalidMessage, next(t, a, protocol.TypeError).Reason)
}
