package notify

import "testing"

func TestMultiFanOut(t *testing.T) {
	var first, second []Notification
	m := Multi{
		Func(func(n Notification) { first = append(first, n) }),
		Func(func(n Notification) { second = append(second, n) }),
	}

	m.Notify(Notification{Type: TypeJobCompleted, Title: "done"})
	m.Notify(Notification{Type: TypeAllDone, Title: "all done"})

	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("fan-out counts = %d/%d, want 2/2", len(first), len(second))
	}
	if first[0].Type != TypeJobCompleted || first[1].Type != TypeAllDone {
		t.Errorf("delivery order wrong: %+v", first)
	}
}

func TestEmptyMulti(t *testing.T) {
	var m Multi
	// Must not panic with no receivers.
	m.Notify(Notification{Type: TypeJobFailed})
}
