package realtime

import (
	"errors"
	"sync"
	"testing"
)

type fakeConn struct {
	mu     sync.Mutex
	events []Event
	fail   bool
	closed bool
}

func (f *fakeConn) WriteJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("write fail")
	}
	f.events = append(f.events, v.(Event))
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func TestPublishReachesSubscribersOnly(t *testing.T) {
	h := NewHub(nil)
	sub := &fakeConn{}
	other := &fakeConn{}
	h.Add("c1", sub, BookingTopic("b1"))
	h.Add("c2", other, BookingTopic("b2"))

	h.Publish(BookingTopic("b1"), "booking_status", map[string]string{"status": "accepted"})

	if sub.count() != 1 {
		t.Fatalf("subscriber expected 1 event, got %d", sub.count())
	}
	if other.count() != 0 {
		t.Fatalf("non-subscriber received %d events", other.count())
	}
}

func TestDeadSessionEvicted(t *testing.T) {
	h := NewHub(nil)
	bad := &fakeConn{fail: true}
	h.Add("c1", bad, DriverTopic("d1"))

	h.Publish(DriverTopic("d1"), "driver_location", nil)

	h.mu.RLock()
	_, alive := h.sessions["c1"]
	h.mu.RUnlock()
	if alive {
		t.Fatal("failed session should be evicted")
	}
	if !bad.closed {
		t.Fatal("evicted session should be closed")
	}
}

func TestSubscribeAddsTopics(t *testing.T) {
	h := NewHub(nil)
	c := &fakeConn{}
	h.Add("c1", c, DriverTopic("d1"))
	h.Subscribe("c1", BookingTopic("b1"))

	h.Publish(BookingTopic("b1"), "booking_status", nil)
	h.Publish(DriverTopic("d1"), "driver_location", nil)

	if c.count() != 2 {
		t.Fatalf("expected 2 events, got %d", c.count())
	}
}

func TestAddReplacesExistingSession(t *testing.T) {
	h := NewHub(nil)
	first := &fakeConn{}
	second := &fakeConn{}
	h.Add("c1", first, BookingTopic("b1"))
	h.Add("c1", second, BookingTopic("b1"))

	if !first.closed {
		t.Fatal("replaced session should be closed")
	}
	h.Publish(BookingTopic("b1"), "booking_status", nil)
	if first.count() != 0 || second.count() != 1 {
		t.Fatalf("events went to the wrong session: first=%d second=%d", first.count(), second.count())
	}
}

func TestRemoveOfReplacedConnKeepsNewSession(t *testing.T) {
	h := NewHub(nil)
	first := &fakeConn{}
	second := &fakeConn{}
	h.Add("c1", first, BookingTopic("b1"))
	h.Add("c1", second, BookingTopic("b1"))

	// the old connection's reader tears down after the replacement; its
	// removal must not take the new session with it
	h.Remove("c1", first)

	if second.closed {
		t.Fatal("replacement session was closed by the stale removal")
	}
	h.Publish(BookingTopic("b1"), "booking_status", nil)
	if second.count() != 1 {
		t.Fatalf("replacement session expected 1 event, got %d", second.count())
	}
}

func TestRemoveWithoutConnDropsSession(t *testing.T) {
	h := NewHub(nil)
	c := &fakeConn{}
	h.Add("c1", c, BookingTopic("b1"))

	h.Remove("c1", nil)

	if !c.closed {
		t.Fatal("session should be closed")
	}
	h.Publish(BookingTopic("b1"), "booking_status", nil)
	if c.count() != 0 {
		t.Fatalf("removed session received %d events", c.count())
	}
}
