package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mmeshcher/easypay-reconciler/internal/gateway"
	"github.com/mmeshcher/easypay-reconciler/internal/model"
)

type stubSource struct {
	docs  []model.Document
	err   error
	calls atomic.Int32
}

func (s *stubSource) ListDocuments(ctx context.Context) ([]model.Document, error) {
	s.calls.Add(1)
	return s.docs, s.err
}

type stubFetcher struct {
	mu      sync.Mutex
	results map[string]map[string]string
	errs    map[string]error
	block   chan struct{}
	started chan struct{}
}

func (f *stubFetcher) DetailsMB(ctx context.Context, doc model.Document) (map[string]string, error) {
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.block != nil {
		<-f.block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[doc.Identifier]; err != nil {
		return nil, err
	}
	return f.results[doc.Identifier], nil
}

type stubMarker struct {
	mu     sync.Mutex
	marked []string
}

func (m *stubMarker) MarkMB(ctx context.Context, doc model.Document, details map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marked = append(m.marked, doc.Identifier)
	return nil
}

func (m *stubMarker) Marked() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.marked...)
}

func TestTick_NoDocuments(t *testing.T) {
	marker := &stubMarker{}
	s := New(&stubSource{}, &stubFetcher{}, marker, Config{}, zaptest.NewLogger(t))

	require.NoError(t, s.Tick(context.Background()))
	assert.Empty(t, marker.Marked())
}

func TestTick_ListFailure(t *testing.T) {
	s := New(&stubSource{err: errors.New("db down")}, &stubFetcher{}, &stubMarker{}, Config{}, zaptest.NewLogger(t))

	err := s.Tick(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestTick_FailureIsolation(t *testing.T) {
	source := &stubSource{docs: []model.Document{
		{Identifier: "a"},
		{Identifier: "b"},
		{Identifier: "c"},
		{Identifier: "d"},
	}}
	fetcher := &stubFetcher{
		results: map[string]map[string]string{
			"a": {"t_key": "ref-a"},
			"d": {"t_key": "ref-d"},
		},
		errs: map[string]error{
			"b": &gateway.GatewayError{Message: "payment not found"},
			"c": errors.New("connection reset"),
		},
	}
	marker := &stubMarker{}
	s := New(source, fetcher, marker, Config{Workers: 3}, zaptest.NewLogger(t))

	require.NoError(t, s.Tick(context.Background()))
	assert.ElementsMatch(t, []string{"a", "d"}, marker.Marked())
}

func TestTick_RequestTimeout(t *testing.T) {
	source := &stubSource{docs: []model.Document{{Identifier: "a"}}}
	var deadline atomic.Bool
	fetcher := fetcherFunc(func(ctx context.Context, doc model.Document) (map[string]string, error) {
		_, ok := ctx.Deadline()
		deadline.Store(ok)
		return map[string]string{"t_key": "x"}, nil
	})
	s := New(source, fetcher, &stubMarker{}, Config{RequestTimeout: time.Second}, zaptest.NewLogger(t))

	require.NoError(t, s.Tick(context.Background()))
	assert.True(t, deadline.Load())
}

type fetcherFunc func(ctx context.Context, doc model.Document) (map[string]string, error)

func (f fetcherFunc) DetailsMB(ctx context.Context, doc model.Document) (map[string]string, error) {
	return f(ctx, doc)
}

func TestStop_BeforeStartAndTwice(t *testing.T) {
	s := New(&stubSource{}, &stubFetcher{}, &stubMarker{}, Config{}, zaptest.NewLogger(t))

	s.Stop()
	assert.False(t, s.Running())

	s.Start(context.Background())
	assert.True(t, s.Running())

	s.Stop()
	s.Stop()
	assert.False(t, s.Running())
}

func TestStartStop_EmptyStore(t *testing.T) {
	source := &stubSource{}
	marker := &stubMarker{}
	s := New(source, &stubFetcher{}, marker, Config{Interval: 10 * time.Millisecond}, zaptest.NewLogger(t))

	s.Start(context.Background())
	require.Eventually(t, func() bool { return source.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
	assert.Empty(t, marker.Marked())
}

func TestStop_WaitsForInFlightTick(t *testing.T) {
	source := &stubSource{docs: []model.Document{{Identifier: "a"}}}
	fetcher := &stubFetcher{
		results: map[string]map[string]string{"a": {"t_key": "ref-a"}},
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	marker := &stubMarker{}
	s := New(source, fetcher, marker, Config{Interval: time.Hour}, zaptest.NewLogger(t))

	s.Start(context.Background())
	select {
	case <-fetcher.started:
	case <-time.After(time.Second):
		t.Fatal("tick did not start")
	}

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while tick in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(fetcher.block)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after tick finished")
	}

	assert.Equal(t, []string{"a"}, marker.Marked())
}

func TestRun_StopsOnCancel(t *testing.T) {
	s := New(&stubSource{}, &stubFetcher{}, &stubMarker{}, Config{Interval: 10 * time.Millisecond}, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	require.Eventually(t, s.Running, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	assert.False(t, s.Running())
}
