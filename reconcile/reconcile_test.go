package reconcile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fireflydesigns/meowbot/telemetry"
	"github.com/fireflydesigns/meowbot/testutil"
)

type fakeJoiner struct {
	mu     sync.Mutex
	joined []string
	failOn map[string]bool
}

func (f *fakeJoiner) Join(channel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn[channel] {
		return errors.New("join refused")
	}
	f.joined = append(f.joined, channel)
	return nil
}

func (f *fakeJoiner) joinedChannels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.joined...)
}

type fakeStore struct {
	mu       sync.Mutex
	channels map[string]struct{}
	approved map[string]bool
	global   map[string]bool
	loadErr  error
}

func newFakeStore(channels ...string) *fakeStore {
	s := &fakeStore{
		channels: make(map[string]struct{}),
		approved: make(map[string]bool),
		global:   make(map[string]bool),
	}
	for _, ch := range channels {
		s.channels[ch] = struct{}{}
	}
	return s
}

func (s *fakeStore) LoadAuthorizedChannels(ctx context.Context) (map[string]struct{}, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.channels, nil
}

func (s *fakeStore) SetApproved(ctx context.Context, channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approved[channel] = true
	return nil
}

func (s *fakeStore) SetGlobalAccess(ctx context.Context, channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.global[channel] = true
	return nil
}

func TestRejoinPersisted(t *testing.T) {
	telemetry.Init()
	j := &fakeJoiner{}
	store := newFakeStore("alpha", "beta")
	r := New(j, store, "", 0, 0, WithJoinDelay(time.Millisecond))

	if err := r.RejoinPersisted(context.Background()); err != nil {
		t.Fatalf("RejoinPersisted: %v", err)
	}
	if got := j.joinedChannels(); len(got) != 2 {
		t.Errorf("joined = %v", got)
	}
}

func TestRejoinPersistedSkipsFailures(t *testing.T) {
	telemetry.Init()
	j := &fakeJoiner{failOn: map[string]bool{"broken": true}}
	store := newFakeStore("broken", "healthy")
	r := New(j, store, "", 0, 0, WithJoinDelay(time.Millisecond))

	if err := r.RejoinPersisted(context.Background()); err != nil {
		t.Fatalf("RejoinPersisted: %v", err)
	}
	got := j.joinedChannels()
	if len(got) != 1 || got[0] != "healthy" {
		t.Errorf("joined = %v, want [healthy]", got)
	}
}

func TestRejoinPersistedLoadError(t *testing.T) {
	telemetry.Init()
	store := newFakeStore()
	store.loadErr = errors.New("db down")
	r := New(&fakeJoiner{}, store, "", 0, 0)
	if err := r.RejoinPersisted(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestPollOnceJoinsAndPersists(t *testing.T) {
	telemetry.Init()
	coord := testutil.NewMockCoordinator(t)
	coord.Channels = []map[string]string{
		{"channel": "newstreamer", "display_name": "NewStreamer"},
	}

	j := &fakeJoiner{}
	store := newFakeStore()
	r := New(j, store, coord.URL, 0, 0, WithJoinDelay(time.Millisecond))

	if err := r.pollOnce(context.Background()); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}
	if got := j.joinedChannels(); len(got) != 1 || got[0] != "newstreamer" {
		t.Fatalf("joined = %v", got)
	}
	if !store.approved["newstreamer"] {
		t.Error("approval not persisted")
	}
	if !store.global["newstreamer"] {
		t.Error("global access not persisted")
	}
}

func TestPollOnceRedeliveryIsNoOp(t *testing.T) {
	telemetry.Init()
	coord := testutil.NewMockCoordinator(t)
	coord.Channels = []map[string]string{
		{"channel": "streamer", "display_name": "Streamer"},
	}

	j := &fakeJoiner{}
	r := New(j, newFakeStore(), coord.URL, 0, 0)

	for i := 0; i < 3; i++ {
		if err := r.pollOnce(context.Background()); err != nil {
			t.Fatalf("poll %d: %v", i, err)
		}
	}
	if got := j.joinedChannels(); len(got) != 1 {
		t.Errorf("joined %d times, want 1", len(got))
	}
}

func TestPollOnceCoordinatorError(t *testing.T) {
	telemetry.Init()
	coord := testutil.NewMockCoordinator(t)
	coord.Fail = true

	r := New(&fakeJoiner{}, newFakeStore(), coord.URL, 0, 0)
	if err := r.pollOnce(context.Background()); err == nil {
		t.Fatal("expected error from failing coordinator")
	}
}

func TestJoinFailureRetriedOnRedelivery(t *testing.T) {
	telemetry.Init()
	coord := testutil.NewMockCoordinator(t)
	coord.Channels = []map[string]string{
		{"channel": "flaky", "display_name": "Flaky"},
	}

	j := &fakeJoiner{failOn: map[string]bool{"flaky": true}}
	store := newFakeStore()
	r := New(j, store, coord.URL, 0, 0)

	if err := r.pollOnce(context.Background()); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}
	if store.approved["flaky"] {
		t.Error("failed join must not be persisted as approved")
	}

	// Next delivery succeeds once the transient failure clears.
	j.failOn["flaky"] = false
	if err := r.pollOnce(context.Background()); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}
	if got := j.joinedChannels(); len(got) != 1 || got[0] != "flaky" {
		t.Errorf("joined = %v", got)
	}
	if !store.approved["flaky"] {
		t.Error("approval not persisted after successful retry")
	}
}

func TestProcessJoinFile(t *testing.T) {
	telemetry.Init()
	path := filepath.Join(t.TempDir(), "channels_to_join.txt")
	content := "Alpha\n# a comment\n\nbeta\nalpha\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	j := &fakeJoiner{}
	store := newFakeStore()
	r := New(j, store, "", 0, 0, WithJoinFile(path))

	if err := r.processJoinFile(context.Background()); err != nil {
		t.Fatalf("processJoinFile: %v", err)
	}
	got := j.joinedChannels()
	if len(got) != 2 || got[0] != "alpha" || got[1] != "beta" {
		t.Errorf("joined = %v, want [alpha beta]", got)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("file not truncated: %q", data)
	}
}

func TestProcessJoinFileMissing(t *testing.T) {
	telemetry.Init()
	r := New(&fakeJoiner{}, newFakeStore(), "", 0, 0,
		WithJoinFile(filepath.Join(t.TempDir(), "absent.txt")))
	if err := r.processJoinFile(context.Background()); err != nil {
		t.Errorf("missing file should be a no-op, got %v", err)
	}
}

// The first poll fires on loop entry, not after a full interval, so channels
// authorized before startup are joined promptly.
func TestRunPollsImmediately(t *testing.T) {
	telemetry.Init()
	coord := testutil.NewMockCoordinator(t)
	coord.Channels = []map[string]string{
		{"channel": "earlybird", "display_name": "EarlyBird"},
	}

	j := &fakeJoiner{}
	r := New(j, newFakeStore(), coord.URL, time.Hour, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		if got := j.joinedChannels(); len(got) == 1 && got[0] == "earlybird" {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("channel not joined promptly: %v", j.joinedChannels())
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestRunStopsOnContextCancel(t *testing.T) {
	telemetry.Init()
	coord := testutil.NewMockCoordinator(t)
	r := New(&fakeJoiner{}, newFakeStore(), coord.URL, 10*time.Millisecond, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := r.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run returned %v", err)
	}
}
