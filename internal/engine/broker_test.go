package engine_test

import (
	"testing"

	"github.com/seantiz/depotjobs/internal/engine"
	"github.com/seantiz/depotjobs/internal/model"
)

func snapshot(guid string, status model.Status) model.Snapshot {
	return model.Snapshot{GUID: guid, Status: status}
}

func TestStatusBrokerSingleSubscriber(t *testing.T) {
	b := engine.NewStatusBroker()
	ch, unsub := b.Subscribe("j1")
	defer unsub()

	want := []model.Status{model.StatusQueued, model.StatusStarted, model.StatusFinished}
	for _, s := range want {
		b.Publish("j1", snapshot("j1", s))
	}
	b.Close("j1")

	var got []model.Status
	for snap := range ch {
		got = append(got, snap.Status)
	}

	if len(got) != len(want) {
		t.Fatalf("got %d updates, want %d", len(got), len(want))
	}
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("update[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestStatusBrokerMultipleSubscribers(t *testing.T) {
	b := engine.NewStatusBroker()
	ch1, unsub1 := b.Subscribe("j1")
	defer unsub1()
	ch2, unsub2 := b.Subscribe("j1")
	defer unsub2()

	b.Publish("j1", snapshot("j1", model.StatusStarted))
	b.Close("j1")

	for i, ch := range []<-chan model.Snapshot{ch1, ch2} {
		var got []model.Snapshot
		for snap := range ch {
			got = append(got, snap)
		}
		if len(got) != 1 || got[0].Status != model.StatusStarted {
			t.Errorf("subscriber %d got %v, want one STARTED update", i+1, got)
		}
	}
}

func TestStatusBrokerLateSubscriberGetsClosed(t *testing.T) {
	b := engine.NewStatusBroker()
	b.Publish("j1", snapshot("j1", model.StatusStarted))
	b.Close("j1")

	ch, unsub := b.Subscribe("j1")
	defer unsub()

	if _, ok := <-ch; ok {
		t.Error("late subscriber should get a closed channel")
	}
}

func TestStatusBrokerUnsubscribeStopsDelivery(t *testing.T) {
	b := engine.NewStatusBroker()
	ch, unsub := b.Subscribe("j1")
	unsub()

	b.Publish("j1", snapshot("j1", model.StatusStarted))
	b.Close("j1")

	select {
	case snap, ok := <-ch:
		if ok {
			t.Errorf("got unexpected update %v after unsubscribe", snap)
		}
	default:
	}
}

func TestStatusBrokerSlowSubscriberStillSeesClose(t *testing.T) {
	b := engine.NewStatusBroker()
	ch, unsub := b.Subscribe("j1")
	defer unsub()

	for range 100 {
		b.Publish("j1", snapshot("j1", model.StatusStarted))
	}
	b.Close("j1")

	n := 0
	for range ch {
		n++
	}
	if n == 0 || n >= 100 {
		t.Errorf("got %d updates, want some dropped but not all", n)
	}
}

func TestStatusBrokerForget(t *testing.T) {
	b := engine.NewStatusBroker()
	ch, _ := b.Subscribe("j1")
	b.Close("j2")
	if got := b.Topics(); got != 2 {
		t.Fatalf("Topics() = %d, want 2", got)
	}

	b.Forget("j1")
	b.Forget("j2")
	b.Forget("unknown")

	if _, ok := <-ch; ok {
		t.Error("Forget should close remaining subscribers")
	}
	if got := b.Topics(); got != 0 {
		t.Errorf("Topics() = %d, want 0", got)
	}
}
