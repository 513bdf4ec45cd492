package task

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/sample-paper-api/internal/domain"
	"github.com/phrazzld/sample-paper-api/internal/extraction"
	"github.com/phrazzld/sample-paper-api/internal/store"
)

var testPDF = []byte("%PDF-1.4\n1 0 obj << /Type /Catalog >> endobj\n%%EOF")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// waitFor polls cond until it holds or the timeout passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func samplePaper() *domain.SamplePaper {
	return &domain.SamplePaper{
		Title:    "Physics Sample Paper",
		Type:     "previous_year",
		Time:     180,
		Marks:    70,
		Params:   domain.PaperParams{Board: "CBSE", Grade: 12, Subject: "Physics"},
		Tags:     []string{"mechanics"},
		Chapters: []string{"Laws of Motion"},
		Sections: []domain.Section{{
			MarksPerQuestion: 1,
			Type:             "mcq",
			Questions: []domain.Question{{
				Question:     "What is the SI unit of force?",
				Answer:       "Newton",
				Type:         "mcq",
				QuestionSlug: "si-unit-force",
				ReferenceID:  "Q1",
			}},
		}},
	}
}

// fakeExtractor counts calls and delegates to extractFn.
type fakeExtractor struct {
	calls     atomic.Int32
	extractFn func(ctx context.Context, payload []byte, kind extraction.InputKind) (*domain.SamplePaper, error)
}

func (f *fakeExtractor) Extract(
	ctx context.Context,
	payload []byte,
	kind extraction.InputKind,
) (*domain.SamplePaper, error) {
	f.calls.Add(1)
	if f.extractFn != nil {
		return f.extractFn(ctx, payload, kind)
	}
	return samplePaper(), nil
}

// fakePapers is an in-memory PaperRepository.
type fakePapers struct {
	mu       sync.Mutex
	papers   map[uuid.UUID]*domain.SamplePaper
	getErr   error
	createFn func(ctx context.Context, paper *domain.SamplePaper) (*domain.SamplePaper, error)
}

func newFakePapers() *fakePapers {
	return &fakePapers{papers: make(map[uuid.UUID]*domain.SamplePaper)}
}

func (f *fakePapers) Create(ctx context.Context, paper *domain.SamplePaper) (*domain.SamplePaper, error) {
	if f.createFn != nil {
		return f.createFn(ctx, paper)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	saved := *paper
	saved.ID = uuid.New()
	f.papers[saved.ID] = &saved
	return &saved, nil
}

func (f *fakePapers) Get(_ context.Context, id uuid.UUID) (*domain.SamplePaper, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	p, ok := f.papers[id]
	if !ok {
		return nil, store.ErrPaperNotFound
	}
	return p, nil
}

func (f *fakePapers) put(p *domain.SamplePaper) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.papers[p.ID] = p
}

func (f *fakePapers) failGets(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getErr = err
}

func (f *fakePapers) remove(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.papers, id)
}

// recordingQueue captures enqueued ids without dispatching them.
type recordingQueue struct {
	mu  sync.Mutex
	ids []uuid.UUID
	err error
}

func (q *recordingQueue) Enqueue(id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, id)
	return nil
}

func (q *recordingQueue) enqueued() []uuid.UUID {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]uuid.UUID(nil), q.ids...)
}
