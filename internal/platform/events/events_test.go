package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestNew(t *testing.T) {
	ev, err := New("queue.enqueued", "queue/2026-10-19", "queue_entry", "abc", map[string]int{"queue_number": 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.ID == "" || ev.Timestamp.IsZero() {
		t.Errorf("expected id and timestamp to be set: %+v", ev)
	}

	var data map[string]int
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if data["queue_number"] != 4 {
		t.Errorf("expected queue_number 4, got %v", data)
	}
}

func TestNew_UnmarshalableData(t *testing.T) {
	if _, err := New("queue.enqueued", "t", "queue_entry", "abc", make(chan int)); err == nil {
		t.Error("expected marshal error")
	}
}

func TestFanout_DeliversToAllAndJoinsErrors(t *testing.T) {
	var got []string
	record := func(name string, err error) Publisher {
		return PublisherFunc(func(_ context.Context, ev Event) error {
			got = append(got, name+":"+ev.Type)
			return err
		})
	}
	boom := errors.New("bus down")

	f := Fanout{record("board", nil), nil, record("bus", boom), record("audit", nil)}
	err := f.Publish(context.Background(), Event{Type: "queue.called"})

	if !errors.Is(err, boom) {
		t.Errorf("expected joined error to contain the bus failure, got %v", err)
	}
	if len(got) != 3 || got[2] != "audit:queue.called" {
		t.Errorf("expected every sink to be called, got %v", got)
	}
}

func TestNop(t *testing.T) {
	if err := (Nop{}).Publish(context.Background(), Event{}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSubject(t *testing.T) {
	if got := Subject("queue.completed"); got != "opd.queue.completed" {
		t.Errorf("expected opd.queue.completed, got %s", got)
	}
}
