package sessions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mcpgate/mcpgate/mcp"
)

func activeSession(t *testing.T, r *Registry) *Session {
	t.Helper()
	sess := r.Create("user-1")
	if err := sess.Initialize(mcp.ImplementationInfo{Name: "client", Version: "1.0"}, mcp.LatestProtocolVersion); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return sess
}

func TestRegistry_CreateGetRemove(t *testing.T) {
	r := NewRegistry()
	sess := r.Create("user-1")
	if sess.ID() == "" {
		t.Fatal("expected non-empty session id")
	}
	if sess.State() != StateUninitialized {
		t.Fatalf("fresh session state = %v", sess.State())
	}

	got, err := r.Get(sess.ID())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != sess {
		t.Fatal("get returned a different session")
	}

	r.Remove(sess.ID())
	if _, err := r.Get(sess.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("want ErrSessionNotFound after removal, got %v", err)
	}
	if sess.State() != StateClosed {
		t.Fatalf("removed session state = %v", sess.State())
	}

	// Idempotent on unknown and already-removed ids.
	r.Remove(sess.ID())
	r.Remove("no-such-id")
}

func TestRegistry_IDsUnique(t *testing.T) {
	r := NewRegistry()
	seen := make(map[string]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := r.Create("user-1").ID()
			mu.Lock()
			if seen[id] {
				t.Errorf("duplicate session id %s", id)
			}
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	if r.Len() != 50 {
		t.Fatalf("want 50 live sessions, got %d", r.Len())
	}
}

func TestSession_HandshakeIrreversible(t *testing.T) {
	r := NewRegistry()
	sess := activeSession(t, r)

	err := sess.Initialize(mcp.ImplementationInfo{Name: "other"}, mcp.LatestProtocolVersion)
	if !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("want ErrAlreadyInitialized, got %v", err)
	}
	if sess.ClientInfo().Name != "client" {
		t.Fatalf("repeat handshake must not change identity, got %q", sess.ClientInfo().Name)
	}

	sess.Close()
	if err := sess.Initialize(mcp.ImplementationInfo{}, ""); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("want ErrSessionClosed, got %v", err)
	}
}

func TestSession_CloseIdempotentWithHooks(t *testing.T) {
	r := NewRegistry()
	sess := activeSession(t, r)

	var hookRuns int
	sess.OnClose(func() { hookRuns++ })

	sess.Close()
	sess.Close()
	if hookRuns != 1 {
		t.Fatalf("close hooks must run once, ran %d times", hookRuns)
	}

	// Registering after close runs immediately.
	sess.OnClose(func() { hookRuns++ })
	if hookRuns != 2 {
		t.Fatalf("post-close hook must run immediately, ran %d times", hookRuns)
	}

	if _, err := sess.Publish([]byte("x")); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("publish on closed session: want ErrSessionClosed, got %v", err)
	}
}

func TestSession_SubscribeDeliversInOrder(t *testing.T) {
	r := NewRegistry()
	sess := activeSession(t, r)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 8)
	done := make(chan error, 1)
	go func() {
		done <- sess.Subscribe(ctx, "", func(eventID string, data []byte) error {
			got <- string(data)
			return nil
		})
	}()

	// Give the subscriber a moment to register before publishing.
	time.Sleep(20 * time.Millisecond)
	for _, m := range []string{"a", "b", "c"} {
		if _, err := sess.Publish([]byte(m)); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	for _, want := range []string{"a", "b", "c"} {
		select {
		case m := <-got:
			if m != want {
				t.Fatalf("out of order: want %q, got %q", want, m)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestSession_SubscribeReplayFromEventID(t *testing.T) {
	r := NewRegistry()
	sess := activeSession(t, r)

	var ids []string
	for _, m := range []string{"a", "b", "c"} {
		id, err := sess.Publish([]byte(m))
		if err != nil {
			t.Fatalf("publish: %v", err)
		}
		ids = append(ids, id)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var replayed []string
	err := sess.Subscribe(ctx, ids[0], func(eventID string, data []byte) error {
		replayed = append(replayed, string(data))
		if len(replayed) == 2 {
			cancel()
		}
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if len(replayed) != 2 || replayed[0] != "b" || replayed[1] != "c" {
		t.Fatalf("want replay [b c], got %v", replayed)
	}
}

func TestSession_SubscribeUnknownEventID(t *testing.T) {
	r := NewRegistry()
	sess := activeSession(t, r)
	err := sess.Subscribe(context.Background(), "999", func(string, []byte) error { return nil })
	if !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("want ErrEventNotFound, got %v", err)
	}
}

func TestSession_CloseReleasesSubscriber(t *testing.T) {
	r := NewRegistry()
	sess := activeSession(t, r)

	done := make(chan error, 1)
	go func() {
		done <- sess.Subscribe(context.Background(), "", func(string, []byte) error { return nil })
	}()

	time.Sleep(20 * time.Millisecond)
	sess.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrSessionClosed) {
			t.Fatalf("want ErrSessionClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber not released on close")
	}
}

func TestSession_SecondSubscriberTakesOverPushChannel(t *testing.T) {
	r := NewRegistry()
	sess := activeSession(t, r)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := make(chan error, 1)
	firstGot := make(chan string, 8)
	go func() {
		first <- sess.Subscribe(ctx, "", func(eventID string, data []byte) error {
			firstGot <- string(data)
			return nil
		})
	}()
	time.Sleep(20 * time.Millisecond)

	secondGot := make(chan string, 8)
	second := make(chan error, 1)
	go func() {
		second <- sess.Subscribe(ctx, "", func(eventID string, data []byte) error {
			secondGot <- string(data)
			return nil
		})
	}()

	// The stale stream ends the moment a newer one binds.
	select {
	case err := <-first:
		if !errors.Is(err, ErrStreamSuperseded) {
			t.Fatalf("want ErrStreamSuperseded, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("first subscriber not released by the takeover")
	}

	if _, err := sess.Publish([]byte("after-takeover")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case m := <-secondGot:
		if m != "after-takeover" {
			t.Fatalf("second subscriber got %q", m)
		}
	case <-time.After(time.Second):
		t.Fatal("second subscriber did not receive the message")
	}

	select {
	case m := <-firstGot:
		t.Fatalf("superseded subscriber must not receive messages, got %q", m)
	default:
	}

	cancel()
	if err := <-second; !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestSessions_Isolation(t *testing.T) {
	r := NewRegistry()
	a := activeSession(t, r)
	b := activeSession(t, r)

	if _, err := a.Publish([]byte("for-a")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	a.Close()

	if b.State() != StateActive {
		t.Fatalf("closing A must not affect B, B state = %v", b.State())
	}
	if _, err := r.Get(b.ID()); err != nil {
		t.Fatalf("B must stay registered: %v", err)
	}
	if _, err := r.Get(a.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("A must be deregistered, got %v", err)
	}
}
