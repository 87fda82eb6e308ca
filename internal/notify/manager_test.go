package notify

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeNotifier struct {
	mu    sync.Mutex
	sent  []Record
	msgID int64
}

func (f *fakeNotifier) SendNotification(_ context.Context, rec Record) (int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, rec)
	f.msgID++
	return f.msgID, 1000, nil
}

func (f *fakeNotifier) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeSender struct {
	mu    sync.Mutex
	calls []sendKeysCall
	done  chan struct{}
}

type sendKeysCall struct {
	containerID string
	session     string
	window      int
	keys        string
	enter       bool
}

func (f *fakeSender) SendKeys(_ context.Context, containerID, sessionName string, windowIndex int, keys string, enter bool) error {
	f.mu.Lock()
	f.calls = append(f.calls, sendKeysCall{containerID, sessionName, windowIndex, keys, enter})
	f.mu.Unlock()
	if f.done != nil {
		close(f.done)
	}
	return nil
}

func TestCreateBroadcastsAndDefaultsChannels(t *testing.T) {
	broker := NewBroker()
	m := NewManager(broker, nil, nil, time.Minute, nil)

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	rec := m.Create(CreateRequest{Message: "build done", SessionID: "s1"})

	if rec.Status != StatusPending {
		t.Errorf("status = %q, want pending", rec.Status)
	}
	if len(rec.Channels) != 3 {
		t.Errorf("empty channels must default to all three, got %v", rec.Channels)
	}
	if rec.ID == "" || rec.CreatedAt.IsZero() {
		t.Error("id and created_at must be assigned")
	}

	select {
	case ev := <-sub:
		if ev.Name != "notification" {
			t.Errorf("event = %q, want notification", ev.Name)
		}
	case <-time.After(time.Second):
		t.Fatal("no SSE event broadcast")
	}
}

func TestDismissBeforeTimeoutSkipsTelegram(t *testing.T) {
	broker := NewBroker()
	notifier := &fakeNotifier{}
	m := NewManager(broker, notifier, nil, 5*time.Second, nil)

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	m.Create(CreateRequest{
		Message:   "needs input",
		SessionID: "s1",
		Channels:  []string{ChannelWeb, ChannelTelegram},
	})
	<-sub // notification event

	count := m.Dismiss(DismissRequest{SessionID: "s1"})
	if count != 1 {
		t.Fatalf("dismissed %d, want 1", count)
	}

	select {
	case ev := <-sub:
		if ev.Name != "dismiss" {
			t.Errorf("event = %q, want dismiss", ev.Name)
		}
	case <-time.After(time.Second):
		t.Fatal("no dismiss event broadcast")
	}

	recs := m.Records()
	if len(recs) != 1 || recs[0].Status != StatusDismissed {
		t.Fatalf("records = %+v", recs)
	}
	if notifier.sentCount() != 0 {
		t.Error("telegram must not fire after dismissal")
	}
}

func TestTelegramOnlyDeliversImmediately(t *testing.T) {
	broker := NewBroker()
	notifier := &fakeNotifier{}
	m := NewManager(broker, notifier, nil, time.Hour, nil)

	rec := m.Create(CreateRequest{
		Message:  "urgent",
		Channels: []string{ChannelTelegram},
	})

	// Without the web channel nobody can dismiss, so the send happens
	// before Create returns.
	if notifier.sentCount() != 1 {
		t.Fatalf("sent = %d, want 1", notifier.sentCount())
	}

	got, _ := m.Get(rec.ID)
	if got.Status != StatusTelegramSent {
		t.Errorf("status = %q, want telegram_sent", got.Status)
	}
	if got.TelegramMessageID == 0 {
		t.Error("telegram_sent records must carry a message id")
	}
}

func TestDeferredTelegramFiresWhenNotDismissed(t *testing.T) {
	broker := NewBroker()
	notifier := &fakeNotifier{}
	m := NewManager(broker, notifier, nil, 30*time.Millisecond, nil)

	rec := m.Create(CreateRequest{
		Message:  "waiting",
		Channels: []string{ChannelWeb, ChannelTelegram},
	})

	deadline := time.Now().Add(3 * time.Second)
	for notifier.sentCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("deferred telegram never fired")
		}
		time.Sleep(5 * time.Millisecond)
	}

	got, _ := m.Get(rec.ID)
	if got.Status != StatusTelegramSent {
		t.Errorf("status = %q, want telegram_sent", got.Status)
	}
}

func TestDismissFilters(t *testing.T) {
	broker := NewBroker()
	m := NewManager(broker, nil, nil, time.Minute, nil)

	m.Create(CreateRequest{Message: "a", ContainerID: "c1", TmuxSession: "s", TmuxWindow: 1})
	m.Create(CreateRequest{Message: "b", ContainerID: "c1", TmuxSession: "s", TmuxWindow: 2})
	m.Create(CreateRequest{Message: "c", ContainerID: "c2", TmuxSession: "s", TmuxWindow: 1})

	window := 1
	if count := m.Dismiss(DismissRequest{ContainerID: "c1", TmuxWindow: &window}); count != 1 {
		t.Errorf("dismissed %d, want 1", count)
	}

	if count := m.Dismiss(DismissRequest{}); count != 0 {
		t.Errorf("empty filter dismissed %d, want 0", count)
	}

	if count := m.Dismiss(DismissRequest{ContainerID: "c1"}); count != 1 {
		t.Errorf("dismissed %d, want 1 remaining c1 record", count)
	}
}

func TestTelegramReplyRouting(t *testing.T) {
	broker := NewBroker()
	notifier := &fakeNotifier{}
	sender := &fakeSender{done: make(chan struct{})}
	m := NewManager(broker, notifier, sender, time.Hour, nil)

	rec := m.Create(CreateRequest{
		Message:     "question",
		ContainerID: "c1",
		TmuxSession: "s1",
		TmuxWindow:  3,
		Channels:    []string{ChannelTelegram},
	})

	got, _ := m.Get(rec.ID)
	if !m.HandleTelegramReply(got.TelegramMessageID, "yes") {
		t.Fatal("reply did not match any record")
	}

	select {
	case <-sender.done:
	case <-time.After(3 * time.Second):
		t.Fatal("send-keys never invoked")
	}

	sender.mu.Lock()
	call := sender.calls[0]
	sender.mu.Unlock()
	want := sendKeysCall{containerID: "c1", session: "s1", window: 3, keys: "yes", enter: true}
	if call != want {
		t.Errorf("call = %+v, want %+v", call, want)
	}

	got, _ = m.Get(rec.ID)
	if len(got.Responses) != 1 || got.Responses[0] != "yes" {
		t.Errorf("responses = %v, want [yes]", got.Responses)
	}
	if got.Status != StatusTelegramSent {
		t.Error("replies must not change status")
	}
}

func TestHandleTelegramReplyUnknownMessage(t *testing.T) {
	m := NewManager(NewBroker(), nil, nil, time.Minute, nil)
	if m.HandleTelegramReply(999, "nope") {
		t.Error("unknown message id must not match")
	}
}
