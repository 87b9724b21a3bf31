package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/warden-core/internal/infrastructure/logging"
)

type memRepository struct {
	mu      sync.Mutex
	entries []AuditLog
	err     error
	ctxErr  error
}

func (m *memRepository) Create(ctx context.Context, log *AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctxErr = ctx.Err()
	if m.err != nil {
		return m.err
	}
	log.ID = "aud-test"
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	m.entries = append(m.entries, *log)
	return nil
}

func (m *memRepository) List(context.Context, Filter) (*ListResult, error) {
	return &ListResult{}, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	topics []string
	err    error
	block  chan struct{}
}

func (p *fakePublisher) PublishJSON(topic string, _ any) error {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return p.err
}

func (p *fakePublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.topics...)
}

type fakePoints struct {
	mu      sync.Mutex
	actions []string
}

func (f *fakePoints) WriteAuthEvent(action, _, _ string, _ time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action)
}

func TestRecorder_StoresAndFansOut(t *testing.T) {
	repo := &memRepository{}
	pub := &fakePublisher{}
	points := &fakePoints{}
	r := NewRecorder(repo, logging.Default(),
		WithPublisher(pub, "token_reuse"),
		WithPointWriter(points),
	)

	r.Record(context.Background(), &AuditLog{Action: "login", EntityType: "user", Source: "auth"})
	r.Record(context.Background(), &AuditLog{Action: "token_reuse", EntityType: "session", Source: "auth"})
	r.Close()

	if len(repo.entries) != 2 {
		t.Fatalf("stored %d entries, want 2", len(repo.entries))
	}
	want := []string{
		"warden/security/event/login",
		"warden/security/event/token_reuse",
		"warden/security/alert/token_reuse",
	}
	got := pub.published()
	if len(got) != len(want) {
		t.Fatalf("published = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("published[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if len(points.actions) != 2 {
		t.Errorf("telemetry points = %v, want 2", points.actions)
	}
}

func TestRecorder_StorageOnly(t *testing.T) {
	repo := &memRepository{}
	r := NewRecorder(repo, nil)

	r.Record(context.Background(), &AuditLog{Action: "logout", EntityType: "session", Source: "auth"})
	r.Close()
	r.Close()

	if len(repo.entries) != 1 {
		t.Errorf("stored %d entries, want 1", len(repo.entries))
	}
}

func TestRecorder_IgnoresCallerCancellation(t *testing.T) {
	repo := &memRepository{}
	r := NewRecorder(repo, nil)
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Record(ctx, &AuditLog{Action: "login", EntityType: "user", Source: "auth"})

	if repo.ctxErr != nil {
		t.Errorf("repository saw cancelled context: %v", repo.ctxErr)
	}
	if len(repo.entries) != 1 {
		t.Error("entry should be stored despite cancellation")
	}
}

func TestRecorder_FailuresDoNotPropagate(t *testing.T) {
	repo := &memRepository{err: errors.New("disk full")}
	pub := &fakePublisher{err: errors.New("broker down")}
	r := NewRecorder(repo, logging.Default(), WithPublisher(pub))

	r.Record(context.Background(), &AuditLog{Action: "login", EntityType: "user", Source: "auth"})
	r.Close()

	if len(pub.published()) != 1 {
		t.Error("fan-out should still run when storage fails")
	}
}

func TestRecorder_FullQueueDropsFanOutOnly(t *testing.T) {
	repo := &memRepository{}
	pub := &fakePublisher{block: make(chan struct{})}
	r := NewRecorder(repo, logging.Default(), WithPublisher(pub), WithQueueSize(1))

	// The worker holds one entry in the blocked publisher and one sits in
	// the queue; everything after that is dropped from fan-out.
	for range 5 {
		r.Record(context.Background(), &AuditLog{Action: "login", EntityType: "user", Source: "auth"})
	}
	close(pub.block)
	r.Close()

	if len(repo.entries) != 5 {
		t.Errorf("stored %d entries, want 5", len(repo.entries))
	}
	if n := len(pub.published()); n < 1 || n > 2 {
		t.Errorf("published %d entries, want 1 or 2", n)
	}
}

func TestRecorder_RecordAfterClose(t *testing.T) {
	repo := &memRepository{}
	pub := &fakePublisher{}
	r := NewRecorder(repo, logging.Default(), WithPublisher(pub))
	r.Close()
	r.Close()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Record(context.Background(), &AuditLog{Action: "logout", EntityType: "session", Source: "auth"})
		}()
	}
	wg.Wait()

	if len(repo.entries) != 8 {
		t.Errorf("stored %d entries after Close, want 8", len(repo.entries))
	}
	if got := pub.published(); len(got) != 0 {
		t.Errorf("published after Close: %v", got)
	}
}
