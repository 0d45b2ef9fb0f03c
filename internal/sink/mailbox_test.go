package sink

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Meeting-BaaS/realtime-meeting-transcription/internal/protocol"
)

func envelope(text string) protocol.TranscriptEnvelope {
	return protocol.NewTranscriptEnvelope(text, true, 0, 0)
}

func TestMailboxDeliversInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []string

	mb := NewMailbox("bot-1", 8, testLogger(), testMetrics(), func(e protocol.TranscriptEnvelope) error {
		mu.Lock()
		got = append(got, e.Data.Text)
		mu.Unlock()
		return nil
	})

	for i := 0; i < 5; i++ {
		if err := mb.Deliver(envelope(fmt.Sprintf("msg-%d", i))); err != nil {
			t.Fatalf("Deliver() failed: %v", err)
		}
	}

	mb.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 5 {
		t.Fatalf("expected 5 deliveries, got %d", len(got))
	}
	for i, text := range got {
		if want := fmt.Sprintf("msg-%d", i); text != want {
			t.Errorf("delivery %d = %s, want %s", i, text, want)
		}
	}
}

func TestMailboxDropsOldestWhenFull(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	var mu sync.Mutex
	var got []string

	mb := NewMailbox("bot-1", 2, testLogger(), testMetrics(), func(e protocol.TranscriptEnvelope) error {
		entered <- struct{}{}
		<-release

		mu.Lock()
		got = append(got, e.Data.Text)
		mu.Unlock()
		return nil
	})

	// The pump takes msg-0 and blocks inside deliver.
	mb.Deliver(envelope("msg-0"))
	<-entered

	// The queue (capacity 2) now fills with msg-1 and msg-2; msg-3 evicts
	// the oldest queued envelope.
	mb.Deliver(envelope("msg-1"))
	mb.Deliver(envelope("msg-2"))
	mb.Deliver(envelope("msg-3"))

	go func() {
		for range entered {
		}
	}()
	close(release)

	mb.Close()
	close(entered)

	mu.Lock()
	defer mu.Unlock()
	want := []string{"msg-0", "msg-2", "msg-3"}
	if len(got) != len(want) {
		t.Fatalf("deliveries = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delivery %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestMailboxDeliverAfterClose(t *testing.T) {
	mb := NewMailbox("bot-1", 4, testLogger(), testMetrics(), func(e protocol.TranscriptEnvelope) error {
		return nil
	})
	mb.Close()

	// Must not panic or block.
	if err := mb.Deliver(envelope("late")); err != nil {
		t.Errorf("Deliver() after close returned error: %v", err)
	}
}

func TestMailboxDeliveryErrorKeepsPumping(t *testing.T) {
	var mu sync.Mutex
	var got []string

	calls := 0
	mb := NewMailbox("bot-1", 8, testLogger(), testMetrics(), func(e protocol.TranscriptEnvelope) error {
		calls++
		if calls == 1 {
			return fmt.Errorf("transient socket error")
		}
		mu.Lock()
		got = append(got, e.Data.Text)
		mu.Unlock()
		return nil
	})

	mb.Deliver(envelope("lost"))
	mb.Deliver(envelope("kept"))

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for delivery after error")
		case <-time.After(5 * time.Millisecond):
		}
	}

	mb.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "kept" {
		t.Errorf("deliveries = %v, want [kept]", got)
	}
}
