package service

import (
	"context"
	"sync"

	"github.com/cwrk-planet/booth-service/internal/domain"
	"github.com/cwrk-planet/booth-service/internal/protocol"
)

type fakeSender struct {
	mu   sync.Mutex
	msgs []protocol.Message
	raw  [][]byte
}

func (f *fakeSender) Send(msg protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeSender) SendRaw(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw = append(f.raw, data)
	return nil
}

// reset drops what was sent so far, typically the join notices.
func (f *fakeSender) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs, f.raw = nil, nil
}

func (f *fakeSender) messages() []protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Message(nil), f.msgs...)
}

type recordingSubmitter struct {
	mu   sync.Mutex
	jobs map[string]domain.CompositeJob
	n    int
}

func newRecordingSubmitter() *recordingSubmitter {
	return &recordingSubmitter{jobs: make(map[string]domain.CompositeJob)}
}

func (s *recordingSubmitter) Submit(_ context.Context, job domain.CompositeJob) (domain.CompositeJob, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	if existing, ok := s.jobs[job.SessionID]; ok {
		return existing, false, domain.ErrJobExists
	}
	s.jobs[job.SessionID] = job
	return job, true, nil
}

func (s *recordingSubmitter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}
