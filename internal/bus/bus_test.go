package bus

import "testing"

func TestEmitOrderMatchesSubscriptionOrder(t *testing.T) {
	b := New()
	var order []int
	b.Subscribe(RunStarted, func(any) { order = append(order, 1) })
	b.Subscribe(RunStarted, func(any) { order = append(order, 2) })
	b.Emit(RunStarted, nil)
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("unexpected delivery order: %v", order)
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := New()
	count := 0
	unsub := b.Subscribe(RunStarted, func(any) { count++ })
	unsub()
	unsub() // must not panic
	b.Emit(RunStarted, nil)
	if count != 0 {
		t.Fatalf("expected no delivery after unsubscribe, got %d", count)
	}
}

func TestSubscribeSafeNeverPropagatesPanicOrError(t *testing.T) {
	b := New()
	var gotErr error
	b.SubscribeSafe(RunStarted, func(any) error {
		panic("boom")
	}, func(err error) { gotErr = err })
	b.SubscribeSafe(RunCompleted, func(any) error {
		return errBoom
	}, func(err error) { gotErr = err })

	b.Emit(RunStarted, nil)
	if gotErr == nil {
		t.Fatal("expected onError to capture the panic")
	}
	gotErr = nil
	b.Emit(RunCompleted, nil)
	if gotErr != errBoom {
		t.Fatalf("expected onError to capture errBoom, got %v", gotErr)
	}
}

var errBoom = errorString("boom")

type errorString string

func (e errorString) Error() string { return string(e) }

func TestSubscriberErrorDoesNotStopOtherSubscribers(t *testing.T) {
	b := New()
	secondCalled := false
	b.SubscribeSafe(RunStarted, func(any) error { return errBoom }, func(error) {})
	b.Subscribe(RunStarted, func(any) { secondCalled = true })
	b.Emit(RunStarted, nil)
	if !secondCalled {
		t.Fatal("expected second subscriber to still run after first's error")
	}
}
