package broadcast

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tollgate-bot/tollgate/internal/apierrors"
)

type fakeSender struct {
	blocked map[int64]bool
	failing map[int64]bool
	sent    []int64
}

func (s *fakeSender) SendText(_ context.Context, destChatID int64, _ string) error {
	if s.blocked[destChatID] {
		return apierrors.Wrap(apierrors.KindGatewayBlocked, "send message", nil)
	}
	if s.failing[destChatID] {
		return apierrors.New(apierrors.KindFatal, "permanent failure")
	}
	s.sent = append(s.sent, destChatID)
	return nil
}

func TestSendClassifiesRecipients(t *testing.T) {
	sender := &fakeSender{
		blocked: map[int64]bool{2: true},
		failing: map[int64]bool{3: true},
	}
	b := New(sender, 1000, zerolog.Nop())

	result, err := b.Send(context.Background(), []int64{1, 2, 3, 4}, "hello")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if result.Sent != 2 {
		t.Errorf("Sent = %d, want 2", result.Sent)
	}
	if len(result.Blocked) != 1 || result.Blocked[0] != 2 {
		t.Errorf("Blocked = %+v, want [2]", result.Blocked)
	}
	if len(result.Failed) != 1 {
		t.Errorf("Failed = %+v, want exactly one entry", result.Failed)
	}
	if _, ok := result.Failed[3]; !ok {
		t.Errorf("Failed missing recipient 3: %+v", result.Failed)
	}
}

func TestSendStopsOnContextCancellation(t *testing.T) {
	sender := &fakeSender{}
	b := New(sender, 1, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := b.Send(ctx, []int64{1, 2, 3}, "hello")
	if err == nil {
		t.Fatal("Send() error = nil, want context.Canceled")
	}
	if result.Sent != 0 {
		t.Errorf("Sent = %d, want 0 after immediate cancellation", result.Sent)
	}
}

func TestNewClampsNonPositiveRate(t *testing.T) {
	b := New(&fakeSender{}, 0, zerolog.Nop())
	if b.ratePerSecond != 1 {
		t.Errorf("ratePerSecond = %d, want 1", b.ratePerSecond)
	}
}
