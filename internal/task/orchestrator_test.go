package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/sample-paper-api/internal/cache"
	"github.com/phrazzld/sample-paper-api/internal/domain"
	"github.com/phrazzld/sample-paper-api/internal/extraction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orchestratorFixture struct {
	orch      *Orchestrator
	store     *MemoryTaskStore
	queue     *recordingQueue
	extractor *fakeExtractor
	papers    *fakePapers
	cache     *cache.MemoryStore
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()
	f := &orchestratorFixture{
		store:     NewMemoryTaskStore(),
		queue:     &recordingQueue{},
		extractor: &fakeExtractor{},
		papers:    newFakePapers(),
		cache:     cache.NewMemoryStore(),
	}
	orch, err := NewOrchestrator(f.store, f.queue, f.extractor, f.papers, f.cache, OrchestratorConfig{
		ExtractionTimeout: time.Second,
		ResultCacheTTL:    time.Hour,
		MaxPDFBytes:       1 << 20,
		MaxTextBytes:      1 << 10,
	}, testLogger())
	require.NoError(t, err)
	f.orch = orch
	return f
}

// failingCache is a cache.Store whose every call fails.
type failingCache struct{}

func (failingCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("connection refused")
}

func (failingCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("connection refused")
}

func (failingCache) Delete(context.Context, string) error {
	return errors.New("connection refused")
}

// brokenStore fails task creation.
type brokenStore struct {
	*MemoryTaskStore
}

func (brokenStore) CreateIfAbsent(context.Context, NewTask) (*Task, bool, error) {
	return nil, false, errors.New("dial tcp: connection refused")
}

func TestNewOrchestratorValidation(t *testing.T) {
	t.Parallel()

	s, q, e, p, c := NewMemoryTaskStore(), &recordingQueue{}, &fakeExtractor{}, newFakePapers(), cache.NewMemoryStore()
	cfg := OrchestratorConfig{ExtractionTimeout: time.Second}

	tests := []struct {
		name string
		fn   func() (*Orchestrator, error)
	}{
		{"nil store", func() (*Orchestrator, error) { return NewOrchestrator(nil, q, e, p, c, cfg, testLogger()) }},
		{"nil queue", func() (*Orchestrator, error) { return NewOrchestrator(s, nil, e, p, c, cfg, testLogger()) }},
		{"nil extractor", func() (*Orchestrator, error) { return NewOrchestrator(s, q, nil, p, c, cfg, testLogger()) }},
		{"nil papers", func() (*Orchestrator, error) { return NewOrchestrator(s, q, e, nil, c, cfg, testLogger()) }},
		{"nil cache", func() (*Orchestrator, error) { return NewOrchestrator(s, q, e, p, nil, cfg, testLogger()) }},
		{"nil logger", func() (*Orchestrator, error) { return NewOrchestrator(s, q, e, p, c, cfg, nil) }},
		{"zero timeout", func() (*Orchestrator, error) {
			return NewOrchestrator(s, q, e, p, c, OrchestratorConfig{}, testLogger())
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.fn()
			assert.Error(t, err)
		})
	}
}

func TestSubmitRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload []byte
		kind    extraction.InputKind
	}{
		{"empty", nil, extraction.InputKindText},
		{"unknown kind", []byte("text"), extraction.InputKind("docx")},
		{"blank text", []byte(" \n\t "), extraction.InputKindText},
		{"invalid utf8", []byte{0xff, 0xfe, 0xfd}, extraction.InputKindText},
		{"oversized text", make([]byte, 2048), extraction.InputKindText},
		{"not a pdf", []byte("plain words"), extraction.InputKindPDF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newOrchestratorFixture(t)

			id, err := f.orch.Submit(context.Background(), tt.payload, tt.kind)

			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.Equal(t, uuid.Nil, id)
			assert.Empty(t, f.queue.enqueued())
			all, err := f.store.ListByStatus(context.Background(), TaskStatusPending, 0)
			require.NoError(t, err)
			assert.Empty(t, all)
		})
	}
}

func TestSubmitCreatesPendingTask(t *testing.T) {
	t.Parallel()
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	id, err := f.orch.Submit(ctx, []byte("Q1. Define inertia."), extraction.InputKindText)
	require.NoError(t, err)

	snap, err := f.orch.GetStatus(ctx, id.String())
	require.NoError(t, err)
	assert.Equal(t, TaskStatusPending, snap.Status)
	assert.Equal(t, extraction.InputKindText, snap.Kind)
	assert.Nil(t, snap.Result)
	assert.Nil(t, snap.Error)
	assert.Equal(t, []uuid.UUID{id}, f.queue.enqueued())
	assert.Zero(t, f.extractor.calls.Load())
}

func TestSubmitDeduplicatesConcurrentCalls(t *testing.T) {
	t.Parallel()
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	const callers = 20
	ids := make([]uuid.UUID, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := f.orch.Submit(ctx, testPDF, extraction.InputKindPDF)
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	require.Len(t, f.queue.enqueued(), 1)

	// competing workers for the same task: only one claims it
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.orch.Execute(ctx, ids[0]))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.extractor.calls.Load())
	snap, err := f.orch.GetStatus(ctx, ids[0].String())
	require.NoError(t, err)
	assert.Equal(t, TaskStatusCompleted, snap.Status)
}

func TestSubmitIsolatesFingerprints(t *testing.T) {
	t.Parallel()
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	release := make(chan struct{})
	f.extractor.extractFn = func(ctx context.Context, payload []byte, _ extraction.InputKind) (*domain.SamplePaper, error) {
		if string(payload) == "paper A" {
			<-release
		}
		return samplePaper(), nil
	}

	a, err := f.orch.Submit(ctx, []byte("paper A"), extraction.InputKindText)
	require.NoError(t, err)
	b, err := f.orch.Submit(ctx, []byte("paper B"), extraction.InputKindText)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	doneA := make(chan struct{})
	go func() {
		defer close(doneA)
		assert.NoError(t, f.orch.Execute(ctx, a))
	}()

	// B completes while A is still blocked inside the extractor
	require.NoError(t, f.orch.Execute(ctx, b))
	snapB, err := f.orch.GetStatus(ctx, b.String())
	require.NoError(t, err)
	assert.Equal(t, TaskStatusCompleted, snapB.Status)

	snapA, err := f.orch.GetStatus(ctx, a.String())
	require.NoError(t, err)
	assert.Equal(t, TaskStatusProcessing, snapA.Status)

	close(release)
	<-doneA
	snapA, err = f.orch.GetStatus(ctx, a.String())
	require.NoError(t, err)
	assert.Equal(t, TaskStatusCompleted, snapA.Status)
	assert.NotEqual(t, snapA.ResultRef, snapB.ResultRef)
}

func TestPDFLifecycleAndCacheHit(t *testing.T) {
	t.Parallel()
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	f.extractor.extractFn = func(ctx context.Context, payload []byte, kind extraction.InputKind) (*domain.SamplePaper, error) {
		assert.Equal(t, extraction.InputKindPDF, kind)
		assert.Equal(t, testPDF, payload)
		close(entered)
		<-release
		return samplePaper(), nil
	}

	t1, err := f.orch.Submit(ctx, testPDF, extraction.InputKindPDF)
	require.NoError(t, err)

	snap, err := f.orch.GetStatus(ctx, t1.String())
	require.NoError(t, err)
	assert.Equal(t, TaskStatusPending, snap.Status)

	done := make(chan error, 1)
	go func() { done <- f.orch.Execute(ctx, t1) }()
	<-entered

	snap, err = f.orch.GetStatus(ctx, t1.String())
	require.NoError(t, err)
	assert.Equal(t, TaskStatusProcessing, snap.Status)

	close(release)
	require.NoError(t, <-done)

	snap, err = f.orch.GetStatus(ctx, t1.String())
	require.NoError(t, err)
	assert.Equal(t, TaskStatusCompleted, snap.Status)
	require.NotNil(t, snap.Result)
	assert.Equal(t, "Physics Sample Paper", snap.Result.Title)
	assert.Equal(t, snap.Result.ID.String(), snap.ResultRef)
	assert.Nil(t, snap.Error)

	again, err := f.orch.Submit(ctx, testPDF, extraction.InputKindPDF)
	require.NoError(t, err)
	assert.Equal(t, t1, again)
	assert.Equal(t, int32(1), f.extractor.calls.Load())
	assert.Len(t, f.queue.enqueued(), 1)

	snap, err = f.orch.GetStatus(ctx, again.String())
	require.NoError(t, err)
	assert.Equal(t, TaskStatusCompleted, snap.Status)
}

func TestCacheMissAfterCompletionRecomputes(t *testing.T) {
	t.Parallel()
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	t1, err := f.orch.Submit(ctx, []byte("Q1. Define work."), extraction.InputKindText)
	require.NoError(t, err)
	require.NoError(t, f.orch.Execute(ctx, t1))

	require.NoError(t, f.cache.Delete(ctx, resultKeyPrefix+Fingerprint(extraction.InputKindText, []byte("Q1. Define work."))))

	t2, err := f.orch.Submit(ctx, []byte("Q1. Define work."), extraction.InputKindText)
	require.NoError(t, err)
	assert.NotEqual(t, t1, t2)
}

func TestStaleCacheEntryIsIgnored(t *testing.T) {
	t.Parallel()
	f := newOrchestratorFixture(t)
	ctx := context.Background()
	payload := []byte("Q1. Define power.")
	key := resultKeyPrefix + Fingerprint(extraction.InputKindText, payload)

	raw, err := json.Marshal(resultEntry{TaskID: uuid.New(), ResultRef: uuid.NewString()})
	require.NoError(t, err)
	require.NoError(t, f.cache.Set(ctx, key, raw, time.Hour))

	id, err := f.orch.Submit(ctx, payload, extraction.InputKindText)
	require.NoError(t, err)

	snap, err := f.orch.GetStatus(ctx, id.String())
	require.NoError(t, err)
	assert.Equal(t, TaskStatusPending, snap.Status)

	_, found, err := f.cache.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSubmitWithUnavailableCache(t *testing.T) {
	t.Parallel()
	s, q, e, p := NewMemoryTaskStore(), &recordingQueue{}, &fakeExtractor{}, newFakePapers()
	orch, err := NewOrchestrator(s, q, e, p, failingCache{}, OrchestratorConfig{ExtractionTimeout: time.Second}, testLogger())
	require.NoError(t, err)
	ctx := context.Background()

	id, err := orch.Submit(ctx, []byte("Q1. Define speed."), extraction.InputKindText)
	require.NoError(t, err)
	require.NoError(t, orch.Execute(ctx, id))

	snap, err := orch.GetStatus(ctx, id.String())
	require.NoError(t, err)
	assert.Equal(t, TaskStatusCompleted, snap.Status)
	require.NotNil(t, snap.Result)
}

func TestSubmitFailsLoudlyWhenStoreUnavailable(t *testing.T) {
	t.Parallel()
	orch, err := NewOrchestrator(brokenStore{NewMemoryTaskStore()}, &recordingQueue{}, &fakeExtractor{},
		newFakePapers(), cache.NewMemoryStore(), OrchestratorConfig{ExtractionTimeout: time.Second}, testLogger())
	require.NoError(t, err)

	_, err = orch.Submit(context.Background(), []byte("Q1."), extraction.InputKindText)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestSubmitWithFullQueueKeepsTaskPending(t *testing.T) {
	t.Parallel()
	f := newOrchestratorFixture(t)
	f.queue.err = fmt.Errorf("%w: queue capacity 1 reached", ErrQueueFull)
	ctx := context.Background()

	id, err := f.orch.Submit(ctx, []byte("Q1. Define mass."), extraction.InputKindText)
	require.NoError(t, err)

	snap, err := f.orch.GetStatus(ctx, id.String())
	require.NoError(t, err)
	assert.Equal(t, TaskStatusPending, snap.Status)
}

func TestExecuteRecordsFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"timeout", fmt.Errorf("%w: deadline", extraction.ErrUpstreamTimeout), ErrorKindUpstreamTimeout},
		{"unavailable", fmt.Errorf("%w: 503", extraction.ErrUpstreamUnavailable), ErrorKindUpstreamUnavailable},
		{"rejected", fmt.Errorf("%w: safety", extraction.ErrUpstreamRejected), ErrorKindUpstreamRejected},
		{"invalid input", fmt.Errorf("%w: unreadable", extraction.ErrInvalidInput), ErrorKindInvalidInput},
		{"unclassified", errors.New("something odd"), ErrorKindUpstreamUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newOrchestratorFixture(t)
			ctx := context.Background()
			f.extractor.extractFn = func(context.Context, []byte, extraction.InputKind) (*domain.SamplePaper, error) {
				return nil, tt.err
			}

			id, err := f.orch.Submit(ctx, []byte("Q1. Define energy."), extraction.InputKindText)
			require.NoError(t, err)
			require.NoError(t, f.orch.Execute(ctx, id))

			snap, err := f.orch.GetStatus(ctx, id.String())
			require.NoError(t, err)
			assert.Equal(t, TaskStatusFailed, snap.Status)
			require.NotNil(t, snap.Error)
			assert.Equal(t, tt.want, snap.Error.Kind)
			assert.NotEmpty(t, snap.Error.Message)
			assert.Empty(t, snap.ResultRef)
			assert.Nil(t, snap.Result)

			// a failed fingerprint is not cached and can be resubmitted
			retry, err := f.orch.Submit(ctx, []byte("Q1. Define energy."), extraction.InputKindText)
			require.NoError(t, err)
			assert.NotEqual(t, id, retry)
		})
	}
}

func TestExecuteTimesOutSlowExtraction(t *testing.T) {
	t.Parallel()
	f := newOrchestratorFixture(t)
	f.orch.config.ExtractionTimeout = 50 * time.Millisecond
	ctx := context.Background()

	// ignores its context entirely
	block := make(chan struct{})
	defer close(block)
	f.extractor.extractFn = func(context.Context, []byte, extraction.InputKind) (*domain.SamplePaper, error) {
		<-block
		return samplePaper(), nil
	}

	id, err := f.orch.Submit(ctx, []byte("Q1. Define time."), extraction.InputKindText)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, f.orch.Execute(ctx, id))
	assert.Less(t, time.Since(start), time.Second)

	snap, err := f.orch.GetStatus(ctx, id.String())
	require.NoError(t, err)
	assert.Equal(t, TaskStatusFailed, snap.Status)
	require.NotNil(t, snap.Error)
	assert.Equal(t, ErrorKindUpstreamTimeout, snap.Error.Kind)
}

func TestExecuteRejectsInvalidExtractorOutput(t *testing.T) {
	t.Parallel()
	f := newOrchestratorFixture(t)
	ctx := context.Background()
	f.extractor.extractFn = func(context.Context, []byte, extraction.InputKind) (*domain.SamplePaper, error) {
		p := samplePaper()
		p.Sections = nil
		return p, nil
	}

	id, err := f.orch.Submit(ctx, []byte("Q1. Define heat."), extraction.InputKindText)
	require.NoError(t, err)
	require.NoError(t, f.orch.Execute(ctx, id))

	snap, err := f.orch.GetStatus(ctx, id.String())
	require.NoError(t, err)
	assert.Equal(t, TaskStatusFailed, snap.Status)
	assert.Equal(t, ErrorKindUpstreamRejected, snap.Error.Kind)
}

func TestExecuteRecoversExtractorPanic(t *testing.T) {
	t.Parallel()
	f := newOrchestratorFixture(t)
	ctx := context.Background()
	f.extractor.extractFn = func(context.Context, []byte, extraction.InputKind) (*domain.SamplePaper, error) {
		panic("nil map")
	}

	id, err := f.orch.Submit(ctx, []byte("Q1. Define light."), extraction.InputKindText)
	require.NoError(t, err)
	require.NoError(t, f.orch.Execute(ctx, id))

	snap, err := f.orch.GetStatus(ctx, id.String())
	require.NoError(t, err)
	assert.Equal(t, TaskStatusFailed, snap.Status)
	assert.Equal(t, ErrorKindUpstreamUnavailable, snap.Error.Kind)
}

func TestExecuteStoreFailureMarksTaskFailed(t *testing.T) {
	t.Parallel()
	f := newOrchestratorFixture(t)
	ctx := context.Background()
	f.papers.createFn = func(context.Context, *domain.SamplePaper) (*domain.SamplePaper, error) {
		return nil, errors.New("connection reset by peer")
	}

	id, err := f.orch.Submit(ctx, []byte("Q1. Define sound."), extraction.InputKindText)
	require.NoError(t, err)
	require.NoError(t, f.orch.Execute(ctx, id))

	snap, err := f.orch.GetStatus(ctx, id.String())
	require.NoError(t, err)
	assert.Equal(t, TaskStatusFailed, snap.Status)
	assert.Equal(t, ErrorKindStoreUnavailable, snap.Error.Kind)
}

func TestExecuteSkipsTasksNotPending(t *testing.T) {
	t.Parallel()
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	id, err := f.orch.Submit(ctx, []byte("Q1. Define force."), extraction.InputKindText)
	require.NoError(t, err)
	require.NoError(t, f.orch.Execute(ctx, id))
	require.NoError(t, f.orch.Execute(ctx, id))

	assert.Equal(t, int32(1), f.extractor.calls.Load())
	assert.ErrorIs(t, f.orch.Execute(ctx, uuid.New()), ErrNotFound)
}

func TestGetStatusNotFound(t *testing.T) {
	t.Parallel()
	f := newOrchestratorFixture(t)

	_, err := f.orch.GetStatus(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.orch.GetStatus(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetStatusFallsBackToRepository(t *testing.T) {
	t.Parallel()
	f := newOrchestratorFixture(t)
	ctx := context.Background()
	payload := []byte("Q1. Define pressure.")

	id, err := f.orch.Submit(ctx, payload, extraction.InputKindText)
	require.NoError(t, err)
	require.NoError(t, f.orch.Execute(ctx, id))
	require.NoError(t, f.cache.Delete(ctx, resultKeyPrefix+Fingerprint(extraction.InputKindText, payload)))

	snap, err := f.orch.GetStatus(ctx, id.String())
	require.NoError(t, err)
	require.NotNil(t, snap.Result)
	assert.Equal(t, snap.ResultRef, snap.Result.ID.String())

	// the document was deleted after completion: status stays, result is gone
	f.papers.remove(snap.Result.ID)
	snap, err = f.orch.GetStatus(ctx, id.String())
	require.NoError(t, err)
	assert.Equal(t, TaskStatusCompleted, snap.Status)
	assert.Nil(t, snap.Result)
	assert.True(t, snap.ResultUnavailable)
}

func TestGetStatusReadsCurrentDocument(t *testing.T) {
	t.Parallel()
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	id, err := f.orch.Submit(ctx, []byte("Q1. Define momentum."), extraction.InputKindText)
	require.NoError(t, err)
	require.NoError(t, f.orch.Execute(ctx, id))

	snap, err := f.orch.GetStatus(ctx, id.String())
	require.NoError(t, err)
	require.NotNil(t, snap.Result)

	edited := *snap.Result
	edited.Title = "Physics Revised Paper"
	f.papers.put(&edited)

	snap, err = f.orch.GetStatus(ctx, id.String())
	require.NoError(t, err)
	require.NotNil(t, snap.Result)
	assert.Equal(t, "Physics Revised Paper", snap.Result.Title)
	assert.False(t, snap.ResultUnavailable)
}

func TestGetStatusRepositoryFailure(t *testing.T) {
	t.Parallel()
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	id, err := f.orch.Submit(ctx, []byte("Q1. Define impulse."), extraction.InputKindText)
	require.NoError(t, err)
	require.NoError(t, f.orch.Execute(ctx, id))

	f.papers.failGets(errors.New("dial tcp 10.0.0.5:5432: connection refused"))

	_, err = f.orch.GetStatus(ctx, id.String())
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestDeletedDocumentInvalidatesCachedResult(t *testing.T) {
	t.Parallel()
	f := newOrchestratorFixture(t)
	ctx := context.Background()
	payload := []byte("Q1. Define friction.")
	key := resultKeyPrefix + Fingerprint(extraction.InputKindText, payload)

	t1, err := f.orch.Submit(ctx, payload, extraction.InputKindText)
	require.NoError(t, err)
	require.NoError(t, f.orch.Execute(ctx, t1))

	snap, err := f.orch.GetStatus(ctx, t1.String())
	require.NoError(t, err)
	require.NotNil(t, snap.Result)
	f.papers.remove(snap.Result.ID)

	snap, err = f.orch.GetStatus(ctx, t1.String())
	require.NoError(t, err)
	assert.Equal(t, TaskStatusCompleted, snap.Status)
	assert.Nil(t, snap.Result)
	assert.True(t, snap.ResultUnavailable)

	t2, err := f.orch.Submit(ctx, payload, extraction.InputKindText)
	require.NoError(t, err)
	assert.NotEqual(t, t1, t2)
	assert.Equal(t, []uuid.UUID{t1, t2}, f.queue.enqueued())

	_, found, err := f.cache.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, f.orch.Execute(ctx, t2))
	assert.Equal(t, int32(2), f.extractor.calls.Load())
}

// gatedCache blocks Set on extraction results until release is closed,
// either before or after the value is stored.
type gatedCache struct {
	*cache.MemoryStore
	storeFirst bool
	entered    chan struct{}
	release    chan struct{}
	once       sync.Once
}

func (c *gatedCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if !strings.HasPrefix(key, resultKeyPrefix) {
		return c.MemoryStore.Set(ctx, key, value, ttl)
	}
	var err error
	if c.storeFirst {
		err = c.MemoryStore.Set(ctx, key, value, ttl)
	}
	c.once.Do(func() { close(c.entered) })
	<-c.release
	if !c.storeFirst {
		err = c.MemoryStore.Set(ctx, key, value, ttl)
	}
	return err
}

func TestResubmitDuringCompletionJoinsTask(t *testing.T) {
	t.Parallel()

	for _, storeFirst := range []bool{false, true} {
		t.Run(fmt.Sprintf("stored=%t", storeFirst), func(t *testing.T) {
			t.Parallel()
			gc := &gatedCache{
				MemoryStore: cache.NewMemoryStore(),
				storeFirst:  storeFirst,
				entered:     make(chan struct{}),
				release:     make(chan struct{}),
			}
			s, q, e := NewMemoryTaskStore(), &recordingQueue{}, &fakeExtractor{}
			orch, err := NewOrchestrator(s, q, e, newFakePapers(), gc,
				OrchestratorConfig{ExtractionTimeout: time.Second, ResultCacheTTL: time.Hour}, testLogger())
			require.NoError(t, err)
			ctx := context.Background()
			payload := []byte("Q1. Define density.")

			t1, err := orch.Submit(ctx, payload, extraction.InputKindText)
			require.NoError(t, err)

			done := make(chan error, 1)
			go func() { done <- orch.Execute(ctx, t1) }()
			<-gc.entered

			t2, err := orch.Submit(ctx, payload, extraction.InputKindText)
			require.NoError(t, err)
			assert.Equal(t, t1, t2)

			close(gc.release)
			require.NoError(t, <-done)

			t3, err := orch.Submit(ctx, payload, extraction.InputKindText)
			require.NoError(t, err)
			assert.Equal(t, t1, t3)
			assert.Len(t, q.enqueued(), 1)
			assert.Equal(t, int32(1), e.calls.Load())
		})
	}
}

func TestObservedLifecycleIsMonotonic(t *testing.T) {
	t.Parallel()
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	f.extractor.extractFn = func(context.Context, []byte, extraction.InputKind) (*domain.SamplePaper, error) {
		time.Sleep(10 * time.Millisecond)
		return samplePaper(), nil
	}

	id, err := f.orch.Submit(ctx, []byte("Q1. Define density."), extraction.InputKindText)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, f.orch.Execute(ctx, id))
	}()

	rank := map[TaskStatus]int{TaskStatusPending: 0, TaskStatusProcessing: 1, TaskStatusCompleted: 2, TaskStatusFailed: 2}
	last := TaskStatusPending
	for finished := false; !finished; {
		select {
		case <-done:
			finished = true
		default:
		}
		snap, err := f.orch.GetStatus(ctx, id.String())
		require.NoError(t, err)
		require.GreaterOrEqual(t, rank[snap.Status], rank[last], "went from %s to %s", last, snap.Status)
		if last.Terminal() {
			require.Equal(t, last, snap.Status)
		}
		last = snap.Status
	}
	assert.Equal(t, TaskStatusCompleted, last)
}

func TestEndToEndWithRunner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryTaskStore()
	queue := NewTaskQueue(10, testLogger())
	extractor := &fakeExtractor{}

	orch, err := NewOrchestrator(s, queue, extractor, newFakePapers(), cache.NewMemoryStore(), OrchestratorConfig{
		ExtractionTimeout: time.Second,
		ResultCacheTTL:    time.Minute,
	}, testLogger())
	require.NoError(t, err)

	runner, err := NewRunner(s, queue, orch, RunnerConfig{WorkerCount: 2}, testLogger())
	require.NoError(t, err)
	require.NoError(t, runner.Start(ctx))
	defer func() { _ = runner.Stop() }()

	id, err := orch.Submit(ctx, testPDF, extraction.InputKindPDF)
	require.NoError(t, err)

	assert.True(t, waitFor(t, 2*time.Second, func() bool {
		snap, err := orch.GetStatus(ctx, id.String())
		return err == nil && snap.Status == TaskStatusCompleted
	}))

	again, err := orch.Submit(ctx, testPDF, extraction.InputKindPDF)
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Equal(t, int32(1), extractor.calls.Load())
}
