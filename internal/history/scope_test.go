package history

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"
)

func TestScopeReleaseOrder(t *testing.T) {
	scope := NewScope(context.Background())

	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		scope.OnRelease(func() { order = append(order, i) })
	}

	if err := scope.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if want := []int{3, 2, 1}; !reflect.DeepEqual(order, want) {
		t.Errorf("release order = %v, want %v", order, want)
	}
}

func TestScopeReleaseOnce(t *testing.T) {
	scope := NewScope(context.Background())

	calls := 0
	scope.OnRelease(func() { calls++ })

	_ = scope.Release()
	_ = scope.Release()
	scope.Cancel()

	if calls != 1 {
		t.Errorf("handler calls = %d, want 1", calls)
	}
	if !scope.Released() {
		t.Error("Released() = false after Release")
	}
}

func TestScopeReleaseCancelsContext(t *testing.T) {
	scope := NewScope(context.Background())
	if scope.Err() != nil {
		t.Fatalf("Err() = %v before release", scope.Err())
	}

	_ = scope.Release()

	select {
	case <-scope.Done():
	default:
		t.Fatal("context not done after Release")
	}
	if scope.Err() == nil {
		t.Error("Err() = nil after Release")
	}
}

func TestScopeCancel(t *testing.T) {
	scope := NewScope(context.Background())

	calls := 0
	scope.OnRelease(func() { calls++ })
	scope.Cancel()

	if calls != 1 {
		t.Errorf("handler calls = %d, want 1", calls)
	}
	if !errors.Is(scope.Err(), ErrCancelled) {
		t.Errorf("Err() = %v, want ErrCancelled", scope.Err())
	}
}

func TestScopeReleaseWaitsForRunningHandlers(t *testing.T) {
	scope := NewScope(context.Background())

	entered := make(chan struct{})
	proceed := make(chan struct{})
	var finished atomic.Bool
	scope.OnRelease(func() {
		close(entered)
		<-proceed
		finished.Store(true)
	})

	go scope.Cancel()
	<-entered

	returned := make(chan struct{})
	go func() {
		_ = scope.Release()
		close(returned)
	}()

	select {
	case <-returned:
		t.Fatal("Release() returned while a handler was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(proceed)
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Release() did not return after handlers finished")
	}
	if !finished.Load() {
		t.Error("handler had not finished when Release() returned")
	}
}

func TestScopeOnReleaseAfterRelease(t *testing.T) {
	scope := NewScope(context.Background())
	_ = scope.Release()

	calls := 0
	scope.OnRelease(func() { calls++ })

	if calls != 1 {
		t.Errorf("late handler calls = %d, want 1", calls)
	}
}

func TestScopeNilHandler(t *testing.T) {
	scope := NewScope(context.Background())
	scope.OnRelease(nil)
	if err := scope.Release(); err != nil {
		t.Errorf("Release() error = %v", err)
	}
}

func TestScopeParentCancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	scope := NewScope(parent)

	calls := 0
	scope.OnRelease(func() { calls++ })
	cancel()

	<-scope.Done()
	if !errors.Is(scope.Err(), context.Canceled) {
		t.Errorf("Err() = %v, want context.Canceled", scope.Err())
	}
	if calls != 0 {
		t.Error("parent cancellation should not release the scope")
	}
	if scope.Released() {
		t.Error("Released() = true after parent cancellation")
	}
}

func TestScopeHandlerPanic(t *testing.T) {
	scope := NewScope(context.Background())

	ran := false
	scope.OnRelease(func() { ran = true })
	scope.OnRelease(func() { panic("boom") })

	err := scope.Release()
	if err == nil {
		t.Fatal("Release() error = nil, want panic error")
	}

	var panicErr *ReleasePanicError
	if !errors.As(err, &panicErr) {
		t.Fatalf("Release() error = %T, want *ReleasePanicError", err)
	}
	if panicErr.Value != "boom" {
		t.Errorf("panic value = %v, want boom", panicErr.Value)
	}
	if !ran {
		t.Error("handler after a panicking one did not run")
	}
}

func TestNewScopeNilParent(t *testing.T) {
	scope := NewScope(nil)
	if scope.Context() == nil {
		t.Fatal("Context() = nil")
	}
	_ = scope.Release()
}
