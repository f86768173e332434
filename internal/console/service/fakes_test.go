package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xela07ax/orchestraguard-console/internal/domain"
	"github.com/xela07ax/orchestraguard-console/internal/realtime"
)

var errBackend = errors.New("backend unavailable")

type fakeStore struct {
	mu sync.Mutex

	fetchLogs    func(ctx context.Context, limit int) ([]domain.AuditLogEntry, error)
	counts       map[domain.Decision]int64
	countErr     error
	activeCount  int64
	policies     []domain.Policy
	policiesErr  error
	inserted     []domain.Policy
	updates      []domain.PolicyUpdate
	updateErr    error
	countCalls   atomic.Int32
	policyFetchN atomic.Int32
}

func (s *fakeStore) FetchAuditLogs(ctx context.Context, limit int) ([]domain.AuditLogEntry, error) {
	return s.fetchLogs(ctx, limit)
}

func (s *fakeStore) CountAuditLogs(_ context.Context, d domain.Decision) (int64, error) {
	s.countCalls.Add(1)
	if s.countErr != nil {
		return 0, s.countErr
	}
	return s.counts[d], nil
}

func (s *fakeStore) FetchActivePolicies(context.Context) ([]domain.Policy, error) {
	s.policyFetchN.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.policiesErr != nil {
		return nil, s.policiesErr
	}
	out := make([]domain.Policy, len(s.policies))
	copy(out, s.policies)
	return out, nil
}

func (s *fakeStore) CountActivePolicies(context.Context) (int64, error) {
	if s.countErr != nil {
		return 0, s.countErr
	}
	return s.activeCount, nil
}

func (s *fakeStore) InsertPolicy(_ context.Context, name string, rules domain.RuleDocument) (*domain.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := domain.Policy{ID: "p-new", Name: name, Rules: rules, IsActive: true, CreatedAt: time.Now()}
	s.inserted = append(s.inserted, p)
	s.policies = append([]domain.Policy{p}, s.policies...)
	return &p, nil
}

func (s *fakeStore) UpdatePolicy(_ context.Context, _ string, upd domain.PolicyUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, upd)
	return s.updateErr
}

type fakeAPI struct {
	metrics    domain.MetricsSnapshot
	metricsErr error
	calls      atomic.Int32

	analyze    *domain.AnalyzeResponse
	analyzeErr error
	intercept  json.RawMessage
}

func (a *fakeAPI) FetchMetrics(context.Context) (domain.MetricsSnapshot, error) {
	a.calls.Add(1)
	return a.metrics, a.metricsErr
}

func (a *fakeAPI) AnalyzePolicy(context.Context, domain.AnalyzeRequest) (*domain.AnalyzeResponse, error) {
	return a.analyze, a.analyzeErr
}

func (a *fakeAPI) Intercept(_ context.Context, payload json.RawMessage) (json.RawMessage, error) {
	if a.intercept != nil {
		return a.intercept, nil
	}
	return payload, nil
}

type fakeStream struct {
	events chan domain.AuditLogEntry
	once   sync.Once
	closed atomic.Bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan domain.AuditLogEntry)}
}

func (s *fakeStream) Events() <-chan domain.AuditLogEntry { return s.events }

func (s *fakeStream) Close() error {
	s.closed.Store(true)
	s.drop()
	return nil
}

// drop имитирует обрыв источника.
func (s *fakeStream) drop() {
	s.once.Do(func() { close(s.events) })
}

type fakeFeed struct {
	mu      sync.Mutex
	streams []*fakeStream
	err     error

	// entered/release задерживают ack, если заданы
	entered chan struct{}
	release chan struct{}
}

func (f *fakeFeed) Subscribe(context.Context) (realtime.Stream, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s := newFakeStream()
	f.streams = append(f.streams, s)
	return s, nil
}

func (f *fakeFeed) last() *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams[len(f.streams)-1]
}

// open: потоки, которые еще не закрыты.
func (f *fakeFeed) open() []*fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fakeStream
	for _, s := range f.streams {
		if !s.closed.Load() {
			out = append(out, s)
		}
	}
	return out
}

type fakeNotifier struct {
	calls atomic.Int32
	err   error
}

func (n *fakeNotifier) NotifyPolicyUpdate(context.Context) error {
	n.calls.Add(1)
	return n.err
}

func entry(id string, d domain.Decision) domain.AuditLogEntry {
	return domain.AuditLogEntry{ID: id, SourceAgent: "agent-x", TargetTool: "email.send", Decision: d, CreatedAt: time.Now()}
}
