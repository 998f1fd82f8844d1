package graphcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flexinfer/flowreach/internal/reachstore"
)

func change(graphID string, version int64, readers int64, writer bool) LockChange {
	return LockChange{
		GraphID: graphID,
		Version: version,
		State:   reachstore.LockState{Readers: readers, Writer: writer},
	}
}

func TestHubWait(t *testing.T) {
	t.Run("matching transition resolves waiter", func(t *testing.T) {
		h := NewHub()
		defer h.Close()

		done := make(chan struct{})
		var got LockChange
		var err error
		go func() {
			defer close(done)
			got, err = h.Wait(context.Background(), "main", 1, FilterAny, 2*time.Second)
		}()

		waitForWaiters(t, h, "main", 1, 1)
		h.Publish(change("main", 1, 2, false))
		<-done

		if err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
		if got.State.Readers != 2 || got.State.Writer {
			t.Errorf("state = %+v, want {Readers:2 Writer:false}", got.State)
		}
	})

	t.Run("writer-lockable filter skips busy states", func(t *testing.T) {
		h := NewHub()
		defer h.Close()

		done := make(chan struct{})
		var got LockChange
		var err error
		go func() {
			defer close(done)
			got, err = h.Wait(context.Background(), "main", 1, FilterWriterLockable, 2*time.Second)
		}()

		waitForWaiters(t, h, "main", 1, 1)
		h.Publish(change("main", 1, 1, false)) // reader still holds
		h.Publish(change("main", 1, 0, true))  // writer took it
		h.Publish(change("main", 1, 0, false)) // fully released

		<-done
		if err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
		if got.State.Readers != 0 || got.State.Writer {
			t.Errorf("state = %+v, want {Readers:0 Writer:false}", got.State)
		}
	})

	t.Run("no matching transition times out", func(t *testing.T) {
		h := NewHub()
		defer h.Close()

		done := make(chan error, 1)
		go func() {
			_, err := h.Wait(context.Background(), "main", 1, FilterWriterLockable, 50*time.Millisecond)
			done <- err
		}()

		waitForWaiters(t, h, "main", 1, 1)
		h.Publish(change("main", 1, 3, false))

		if err := <-done; !errors.Is(err, ErrWaitTimeout) {
			t.Errorf("Wait() error = %v, want ErrWaitTimeout", err)
		}
	})

	t.Run("different version is not dispatched", func(t *testing.T) {
		h := NewHub()
		defer h.Close()

		done := make(chan error, 1)
		go func() {
			_, err := h.Wait(context.Background(), "main", 2, FilterAny, 50*time.Millisecond)
			done <- err
		}()

		waitForWaiters(t, h, "main", 2, 1)
		h.Publish(change("main", 1, 0, false))

		if err := <-done; !errors.Is(err, ErrWaitTimeout) {
			t.Errorf("Wait() error = %v, want ErrWaitTimeout", err)
		}
	})

	t.Run("cancellation unblocks", func(t *testing.T) {
		h := NewHub()
		defer h.Close()

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			_, err := h.Wait(ctx, "main", 1, FilterAny, 2*time.Second)
			done <- err
		}()

		waitForWaiters(t, h, "main", 1, 1)
		cancel()
		if err := <-done; !errors.Is(err, context.Canceled) {
			t.Errorf("Wait() error = %v, want context.Canceled", err)
		}
	})

	t.Run("closed hub rejects waits", func(t *testing.T) {
		h := NewHub()
		h.Close()
		if _, err := h.Wait(context.Background(), "main", 1, FilterAny, time.Second); !errors.Is(err, ErrNotifierClosed) {
			t.Errorf("Wait() error = %v, want ErrNotifierClosed", err)
		}
	})
}

func TestHubDispatchesEachWaiterOnce(t *testing.T) {
	h := NewHub()
	defer h.Close()

	const n = 3
	done := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := h.Wait(context.Background(), "main", 1, FilterAny, 2*time.Second)
			done <- err
		}()
	}

	waitForWaiters(t, h, "main", 1, n)
	h.Publish(change("main", 1, 0, false))

	for i := 0; i < n; i++ {
		if err := <-done; err != nil {
			t.Errorf("waiter %d error = %v", i, err)
		}
	}
	if got := h.pending("main", 1); got != 0 {
		t.Errorf("pending waiters after dispatch = %d, want 0", got)
	}
}

func TestParseFilter(t *testing.T) {
	tests := []struct {
		name    string
		state   reachstore.LockState
		want    bool
		wantErr bool
	}{
		{name: "", state: reachstore.LockState{Readers: 5, Writer: true}, want: true},
		{name: "any", state: reachstore.LockState{Writer: true}, want: true},
		{name: "reader-lockable", state: reachstore.LockState{Readers: 2}, want: true},
		{name: "reader-lockable", state: reachstore.LockState{Writer: true}, want: false},
		{name: "writer-lockable", state: reachstore.LockState{}, want: true},
		{name: "writer-lockable", state: reachstore.LockState{Readers: 1}, want: false},
		{name: "bogus", wantErr: true},
	}
	for _, tt := range tests {
		f, err := ParseFilter(tt.name)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseFilter(%q) error = nil, want error", tt.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseFilter(%q) error = %v", tt.name, err)
			continue
		}
		if got := f(tt.state); got != tt.want {
			t.Errorf("ParseFilter(%q)(%+v) = %v, want %v", tt.name, tt.state, got, tt.want)
		}
	}
}

// waitForWaiters blocks until n waiters are registered for the key,
// so publishes in tests cannot race ahead of registration.
func waitForWaiters(t *testing.T, h *Hub, graphID string, version int64, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.pending(graphID, version) >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("waiters never registered for %q version %d", graphID, version)
}
