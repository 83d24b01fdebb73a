package bus

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/AtharvJoshigit/valuablehelper/pkg/models"
)

func TestCommandBus_FIFOOrder(t *testing.T) {
	cb := NewCommandBus()

	for i := 0; i < 5; i++ {
		ev := models.NewUserMessageEvent("chat", fmt.Sprintf("msg-%d", i), "test")
		if err := cb.Send(ev); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}

	if cb.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", cb.Len())
	}

	for i := 0; i < 5; i++ {
		ev, err := cb.Receive(context.Background())
		if err != nil {
			t.Fatalf("Receive() error = %v", err)
		}
		want := fmt.Sprintf("msg-%d", i)
		if ev.Text() != want {
			t.Errorf("Receive() #%d text = %q, want %q", i, ev.Text(), want)
		}
	}

	if cb.Len() != 0 {
		t.Errorf("Len() = %d after drain, want 0", cb.Len())
	}
}

func TestCommandBus_ReceiveBlocksUntilSend(t *testing.T) {
	cb := NewCommandBus()

	got := make(chan *models.Event, 1)
	go func() {
		ev, err := cb.Receive(context.Background())
		if err != nil {
			t.Errorf("Receive() error = %v", err)
			return
		}
		got <- ev
	}()

	time.Sleep(20 * time.Millisecond)
	if err := cb.Send(models.NewUserApprovalEvent("chat", true, "test")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case ev := <-got:
		if ev.Type != models.EventUserApproval {
			t.Errorf("received type = %q, want %q", ev.Type, models.EventUserApproval)
		}
	case <-time.After(time.Second):
		t.Fatal("Receive() did not wake after Send")
	}
}

func TestCommandBus_ReceiveHonorsContext(t *testing.T) {
	cb := NewCommandBus()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := cb.Receive(ctx)
	if err != context.DeadlineExceeded {
		t.Errorf("Receive() error = %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestCommandBus_CloseDrainsThenErrors(t *testing.T) {
	cb := NewCommandBus()

	if err := cb.Send(models.NewUserMessageEvent("chat", "last words", "test")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	cb.Close()

	if err := cb.Send(models.NewUserMessageEvent("chat", "too late", "test")); err != ErrClosed {
		t.Errorf("Send() after Close error = %v, want %v", err, ErrClosed)
	}

	ev, err := cb.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive() error = %v, want queued event", err)
	}
	if ev.Text() != "last words" {
		t.Errorf("Receive() text = %q, want %q", ev.Text(), "last words")
	}

	if _, err := cb.Receive(context.Background()); err != ErrClosed {
		t.Errorf("Receive() on drained closed bus error = %v, want %v", err, ErrClosed)
	}
}

func TestCommandBus_ConcurrentSenders(t *testing.T) {
	cb := NewCommandBus()

	const senders = 8
	const perSender = 25
	for i := 0; i < senders; i++ {
		go func(n int) {
			for j := 0; j < perSender; j++ {
				_ = cb.Send(models.NewEvent(models.EventUserMessage, map[string]any{
					"sender": n,
				}))
			}
		}(i)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for i := 0; i < senders*perSender; i++ {
		if _, err := cb.Receive(ctx); err != nil {
			t.Fatalf("Receive() #%d error = %v", i, err)
		}
	}
}
