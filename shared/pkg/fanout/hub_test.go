package fanout

import "testing"

func TestSubscribeDeliversInitial(t *testing.T) {
	var h Hub[int]
	v := 7
	ch, unsubscribe := h.Subscribe(&v)
	defer unsubscribe()

	if got := <-ch; got != 7 {
		t.Errorf("initial value = %d, want 7", got)
	}
}

func TestPublishKeepsLatest(t *testing.T) {
	var h Hub[int]
	ch, unsubscribe := h.Subscribe(nil)
	defer unsubscribe()

	for i := 1; i <= 5; i++ {
		h.Publish(i)
	}

	if got := <-ch; got != 5 {
		t.Errorf("received %d, want latest value 5", got)
	}
	select {
	case v := <-ch:
		t.Errorf("unexpected extra value %d", v)
	default:
	}
}

func TestCloseKeepsBufferedValue(t *testing.T) {
	var h Hub[string]
	ch, _ := h.Subscribe(nil)

	h.Publish("final")
	h.Close()

	if got, ok := <-ch; !ok || got != "final" {
		t.Errorf("got (%q, %v), want (\"final\", true)", got, ok)
	}
	if _, ok := <-ch; ok {
		t.Errorf("channel should be closed after the buffered value")
	}
}

func TestSubscribeAfterClose(t *testing.T) {
	var h Hub[int]
	h.Close()

	v := 3
	ch, unsubscribe := h.Subscribe(&v)
	unsubscribe()

	if got := <-ch; got != 3 {
		t.Errorf("initial value = %d, want 3", got)
	}
	if _, ok := <-ch; ok {
		t.Errorf("channel from a closed hub should be closed")
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	var h Hub[int]
	_, unsubscribe := h.Subscribe(nil)

	unsubscribe()
	unsubscribe()

	if n := h.Len(); n != 0 {
		t.Errorf("Len() = %d, want 0", n)
	}
	h.Publish(1)
}
