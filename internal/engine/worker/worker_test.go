package worker

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestPool_Limit(t *testing.T) {
	p := NewPool(1)

	release := make(chan struct{})
	started := make(chan struct{})
	if !p.TryGo(func() error {
		close(started)
		<-release
		return nil
	}) {
		t.Fatal("expected first task to be accepted")
	}
	<-started

	if p.TryGo(func() error { return nil }) {
		t.Error("expected pool at capacity to refuse a task")
	}

	close(release)
	if err := p.Wait(); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	if !p.TryGo(func() error { return nil }) {
		t.Error("expected drained pool to accept a task")
	}
	p.Wait()
}

func TestPool_Unbounded(t *testing.T) {
	p := NewPool(0)
	var count atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)
	block := func() error {
		count.Add(1)
		wg.Wait()
		return nil
	}
	for i := 0; i < 8; i++ {
		if !p.TryGo(block) {
			t.Fatalf("task %d refused by unbounded pool", i)
		}
	}
	wg.Done()
	p.Wait()
	if count.Load() != 8 {
		t.Errorf("expected 8 tasks to run, got %d", count.Load())
	}
}

func TestInlineAndSaturated(t *testing.T) {
	ran := false
	if !(Inline{}).TryGo(func() error { ran = true; return nil }) || !ran {
		t.Error("expected Inline to run the task before returning")
	}

	ran = false
	if (Saturated{}).TryGo(func() error { ran = true; return nil }) || ran {
		t.Error("expected Saturated to refuse the task")
	}
}

func TestWorkers_Wait(t *testing.T) {
	w := NewWorkers(4, 4)
	var count atomic.Int32
	for i := 0; i < 2; i++ {
		w.Fetch.TryGo(func() error { count.Add(1); return nil })
		w.Decode.TryGo(func() error { count.Add(1); return nil })
	}
	w.Wait()
	if count.Load() != 4 {
		t.Errorf("expected 4 tasks after Wait, got %d", count.Load())
	}

	InlineWorkers().Wait()
}
