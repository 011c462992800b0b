package alerting

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	xerrors "GigFlow/internal/errors"
)

type stubNotifier struct {
	channel Channel
	err     error
	seen    []Event
}

func (n *stubNotifier) Channel() Channel { return n.channel }

func (n *stubNotifier) Notify(_ context.Context, event Event) error {
	n.seen = append(n.seen, event)
	return n.err
}

func TestFanoutBroadcastsToAllChannels(t *testing.T) {
	email := &stubNotifier{channel: ChannelEmail}
	slack := &stubNotifier{channel: ChannelSlack}
	dispatcher := NewFanout(email, slack, nil)

	event := Event{
		Code:       xerrors.CodeRetriesExhausted,
		Message:    "escrow keeps failing",
		TaskID:     "task-1",
		Phase:      "PAYMENT_ESCROW",
		Attempts:   3,
		OccurredAt: time.Now(),
	}
	if err := dispatcher.Notify(context.Background(), event); err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	if len(email.seen) != 1 || len(slack.seen) != 1 {
		t.Fatalf("expected every channel to receive the event, got email=%d slack=%d", len(email.seen), len(slack.seen))
	}
	if email.seen[0].TaskID != "task-1" {
		t.Fatalf("unexpected task id: %s", email.seen[0].TaskID)
	}
}

func TestFanoutCollectsChannelErrors(t *testing.T) {
	boom := errors.New("webhook down")
	email := &stubNotifier{channel: ChannelEmail}
	dingtalk := &stubNotifier{channel: ChannelDingTalk, err: boom}
	dispatcher := NewFanout(email, dingtalk)

	err := dispatcher.Notify(context.Background(), Event{TaskID: "task-2"})
	if err == nil {
		t.Fatal("expected an aggregated error")
	}
	if !errors.Is(err, boom) {
		t.Fatalf("aggregated error should wrap the channel failure, got %v", err)
	}
	// 单个渠道失败不阻断其他渠道。
	if len(email.seen) != 1 {
		t.Fatalf("healthy channel should still be notified, got %d events", len(email.seen))
	}
}

type stubEmailSender struct {
	subject string
	content string
	to      []string
}

func (s *stubEmailSender) Send(_ context.Context, subject, content string, to []string) error {
	s.subject = subject
	s.content = content
	s.to = to
	return nil
}

func TestEmailNotifierFormatsEvent(t *testing.T) {
	sender := &stubEmailSender{}
	notifier := &EmailNotifier{Sender: sender, To: []string{"ops@example.com"}, SubjectPrefix: "[gigflow]"}

	err := notifier.Notify(context.Background(), Event{
		Code:       xerrors.CodeRetriesExhausted,
		Message:    "discovery failed 3 times",
		Severity:   xerrors.SeverityCritical,
		TaskID:     "task-3",
		Phase:      "DISCOVERY",
		Attempts:   3,
		Metadata:   map[string]string{"job_id": "job-9"},
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	if !strings.HasPrefix(sender.subject, "[gigflow]") {
		t.Fatalf("subject missing prefix: %s", sender.subject)
	}
	if !strings.Contains(sender.content, "task-3") || !strings.Contains(sender.content, "job-9") {
		t.Fatalf("content missing event fields: %s", sender.content)
	}
	if len(sender.to) != 1 || sender.to[0] != "ops@example.com" {
		t.Fatalf("unexpected recipients: %v", sender.to)
	}
}

func TestEmailNotifierSkipsWhenUnconfigured(t *testing.T) {
	notifier := &EmailNotifier{}
	if err := notifier.Notify(context.Background(), Event{TaskID: "task-4"}); err != nil {
		t.Fatalf("unconfigured notifier should be a no-op, got %v", err)
	}
}
