package domain

import (
	"errors"
	"testing"
)

func TestNewMessage(t *testing.T) {
	t.Parallel()

	msg, err := NewMessage(MessageChannelSMS, "+15551230000", "your table is ready")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if msg.ID.String() == "" {
		t.Error("Expected non-empty message ID")
	}

	if msg.DeliveryStatus != DeliveryStatusPending {
		t.Errorf("Expected initial status %s, got %s", DeliveryStatusPending, msg.DeliveryStatus)
	}

	if msg.CreatedAt.IsZero() {
		t.Error("Expected non-zero CreatedAt time")
	}

	if msg.StatusUpdatedAt.IsZero() {
		t.Error("Expected non-zero StatusUpdatedAt time")
	}

	// Empty recipient
	_, err = NewMessage(MessageChannelEmail, "", "body")
	if !errors.Is(err, ErrEmptyMessageRecipient) {
		t.Errorf("Expected error %v, got %v", ErrEmptyMessageRecipient, err)
	}

	// Unknown channel
	_, err = NewMessage(MessageChannel("carrier-pigeon"), "someone", "body")
	if !errors.Is(err, ErrInvalidMessageChannel) {
		t.Errorf("Expected error %v, got %v", ErrInvalidMessageChannel, err)
	}
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	allStatuses := []DeliveryStatus{
		DeliveryStatusPending, DeliveryStatusQueued, DeliveryStatusSending,
		DeliveryStatusSent, DeliveryStatusDelivered, DeliveryStatusFailed,
		DeliveryStatusBounced, DeliveryStatusUndelivered,
	}

	happyPath := map[DeliveryStatus]DeliveryStatus{
		DeliveryStatusPending: DeliveryStatusQueued,
		DeliveryStatusQueued:  DeliveryStatusSending,
		DeliveryStatusSending: DeliveryStatusSent,
		DeliveryStatusSent:    DeliveryStatusDelivered,
	}

	failureStates := map[DeliveryStatus]bool{
		DeliveryStatusFailed:      true,
		DeliveryStatusBounced:     true,
		DeliveryStatusUndelivered: true,
	}

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			want := false
			if IsTerminalDeliveryStatus(from) {
				want = false
			} else if happyPath[from] == to {
				want = true
			} else if failureStates[to] {
				want = true
			}

			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTransitionSources(t *testing.T) {
	t.Parallel()

	sources := TransitionSources(DeliveryStatusFailed)
	if len(sources) != 4 {
		t.Fatalf("Expected 4 source states for failed, got %d: %v", len(sources), sources)
	}
	for _, from := range sources {
		if IsTerminalDeliveryStatus(from) {
			t.Errorf("Terminal state %s must not be a transition source", from)
		}
	}

	if got := TransitionSources(DeliveryStatusPending); len(got) != 0 {
		t.Errorf("Expected no sources for pending, got %v", got)
	}

	if got := TransitionSources(DeliveryStatusDelivered); len(got) != 1 || got[0] != DeliveryStatusSent {
		t.Errorf("Expected delivered to be reachable only from sent, got %v", got)
	}
}

func TestMessageTransitionTo(t *testing.T) {
	t.Parallel()

	t.Run("happy path end to end", func(t *testing.T) {
		t.Parallel()
		msg, err := NewMessage(MessageChannelEmail, "user@example.com", "hello")
		if err != nil {
			t.Fatalf("NewMessage failed: %v", err)
		}

		for _, next := range []DeliveryStatus{
			DeliveryStatusQueued, DeliveryStatusSending,
			DeliveryStatusSent, DeliveryStatusDelivered,
		} {
			before := msg.StatusUpdatedAt
			if err := msg.TransitionTo(next); err != nil {
				t.Fatalf("TransitionTo(%s) failed: %v", next, err)
			}
			if msg.DeliveryStatus != next {
				t.Errorf("Expected status %s, got %s", next, msg.DeliveryStatus)
			}
			if msg.StatusUpdatedAt.Before(before) {
				t.Error("Expected StatusUpdatedAt to advance")
			}
		}
	})

	t.Run("failure reachable mid-flight", func(t *testing.T) {
		t.Parallel()
		msg, _ := NewMessage(MessageChannelSMS, "+15551230000", "hello")
		if err := msg.TransitionTo(DeliveryStatusQueued); err != nil {
			t.Fatalf("TransitionTo(queued) failed: %v", err)
		}
		if err := msg.TransitionTo(DeliveryStatusSending); err != nil {
			t.Fatalf("TransitionTo(sending) failed: %v", err)
		}
		if err := msg.TransitionTo(DeliveryStatusFailed); err != nil {
			t.Errorf("Expected sending -> failed to be allowed, got %v", err)
		}
	})

	t.Run("terminal states absorb", func(t *testing.T) {
		t.Parallel()
		msg, _ := NewMessage(MessageChannelSMS, "+15551230000", "hello")
		msg.DeliveryStatus = DeliveryStatusDelivered

		err := msg.TransitionTo(DeliveryStatusSending)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("Expected ErrInvalidTransition from delivered, got %v", err)
		}
		if msg.DeliveryStatus != DeliveryStatusDelivered {
			t.Errorf("Message mutated on rejected transition: %s", msg.DeliveryStatus)
		}

		msg.DeliveryStatus = DeliveryStatusFailed
		err = msg.TransitionTo(DeliveryStatusQueued)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("Expected ErrInvalidTransition from failed, got %v", err)
		}
	})

	t.Run("skipping states is rejected", func(t *testing.T) {
		t.Parallel()
		msg, _ := NewMessage(MessageChannelSMS, "+15551230000", "hello")

		err := msg.TransitionTo(DeliveryStatusSent)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("Expected pending -> sent to be rejected, got %v", err)
		}
	})

	t.Run("unknown status is rejected", func(t *testing.T) {
		t.Parallel()
		msg, _ := NewMessage(MessageChannelSMS, "+15551230000", "hello")

		err := msg.TransitionTo(DeliveryStatus("teleported"))
		if !errors.Is(err, ErrInvalidDeliveryStatus) {
			t.Errorf("Expected ErrInvalidDeliveryStatus, got %v", err)
		}
	})
}

func TestIsTerminalDeliveryStatus(t *testing.T) {
	t.Parallel()

	terminals := []DeliveryStatus{
		DeliveryStatusDelivered, DeliveryStatusFailed,
		DeliveryStatusBounced, DeliveryStatusUndelivered,
	}
	for _, status := range terminals {
		if !IsTerminalDeliveryStatus(status) {
			t.Errorf("Expected %s to be terminal", status)
		}
	}

	active := []DeliveryStatus{
		DeliveryStatusPending, DeliveryStatusQueued,
		DeliveryStatusSending, DeliveryStatusSent,
	}
	for _, status := range active {
		if IsTerminalDeliveryStatus(status) {
			t.Errorf("Expected %s to be non-terminal", status)
		}
	}
}
