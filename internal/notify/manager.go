// pattern: Imperative Shell

package notify

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"tmuxdeck/internal/logging"
)

// Record statuses. The only legal transitions are pending → telegram_sent
// and pending → dismissed.
const (
	StatusPending      = "pending"
	StatusTelegramSent = "telegram_sent"
	StatusDismissed    = "dismissed"
)

// Delivery channels a record may target.
const (
	ChannelWeb      = "web"
	ChannelOS       = "os"
	ChannelTelegram = "telegram"
)

// DefaultTelegramTimeout is how long a record waits for a browser
// dismissal before falling back to Telegram.
const DefaultTelegramTimeout = 60 * time.Second

// Record is one notification, from hook POST to dismissal or Telegram
// handoff.
type Record struct {
	ID               string    `json:"id"`
	Message          string    `json:"message"`
	Title            string    `json:"title"`
	NotificationType string    `json:"notification_type"`
	SessionID        string    `json:"session_id"`
	ContainerID      string    `json:"container_id"`
	TmuxSession      string    `json:"tmux_session"`
	TmuxWindow       int       `json:"tmux_window"`
	CreatedAt        time.Time `json:"created_at"`
	Status           string    `json:"status"`
	Channels         []string  `json:"channels"`

	TelegramMessageID int64    `json:"telegram_message_id,omitempty"`
	TelegramChatID    int64    `json:"telegram_chat_id,omitempty"`
	Responses         []string `json:"responses,omitempty"`

	timer *time.Timer
}

// CreateRequest is the hook POST body.
type CreateRequest struct {
	Message          string   `json:"message"`
	Title            string   `json:"title"`
	NotificationType string   `json:"notification_type"`
	SessionID        string   `json:"session_id"`
	ContainerID      string   `json:"container_id"`
	TmuxSession      string   `json:"tmux_session"`
	TmuxWindow       int      `json:"tmux_window"`
	Channels         []string `json:"channels"`
}

// DismissRequest filters pending records by any non-empty subset of the
// four location fields.
type DismissRequest struct {
	SessionID   string `json:"session_id"`
	ContainerID string `json:"container_id"`
	TmuxSession string `json:"tmux_session"`
	TmuxWindow  *int   `json:"tmux_window"`
}

// Notifier delivers a record to Telegram and returns the sent message and
// chat ids so replies can be routed back.
type Notifier interface {
	SendNotification(ctx context.Context, rec Record) (messageID, chatID int64, err error)
}

// KeySender routes reply text into a tmux pane. The tmux façade satisfies
// this.
type KeySender interface {
	SendKeys(ctx context.Context, containerID, sessionName string, windowIndex int, keys string, enter bool) error
}

// Manager owns the in-memory record store and the delivery timers.
type Manager struct {
	broker   *Broker
	notifier Notifier
	sender   KeySender
	timeout  time.Duration
	logger   *logging.ScopedLogger

	mu      sync.Mutex
	records map[string]*Record
	order   []string
}

// NewManager constructs the fan-out. notifier may be nil (Telegram channel
// requests are then dropped with a log); sender may be nil (replies are
// recorded but not routed).
func NewManager(broker *Broker, notifier Notifier, sender KeySender, timeout time.Duration, logger *logging.ScopedLogger) *Manager {
	if timeout <= 0 {
		timeout = DefaultTelegramTimeout
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	m := &Manager{
		broker:   broker,
		notifier: notifier,
		sender:   sender,
		timeout:  timeout,
		logger:   logger,
		records:  make(map[string]*Record),
	}
	return m
}

// Create registers a record, broadcasts it to SSE subscribers, and — when
// the telegram channel is requested — schedules the deferred delivery.
// Delay is zero when the web channel is absent (nobody can dismiss), in
// which case the Telegram send happens before Create returns.
func (m *Manager) Create(req CreateRequest) *Record {
	channels := req.Channels
	if len(channels) == 0 {
		channels = []string{ChannelWeb, ChannelOS, ChannelTelegram}
	}

	rec := &Record{
		ID:               uuid.NewString(),
		Message:          req.Message,
		Title:            req.Title,
		NotificationType: req.NotificationType,
		SessionID:        req.SessionID,
		ContainerID:      req.ContainerID,
		TmuxSession:      req.TmuxSession,
		TmuxWindow:       req.TmuxWindow,
		CreatedAt:        time.Now().UTC(),
		Status:           StatusPending,
		Channels:         channels,
	}

	m.mu.Lock()
	m.records[rec.ID] = rec
	m.order = append(m.order, rec.ID)
	snapshot := *rec
	m.mu.Unlock()

	m.broker.Publish("notification", snapshot)

	if slices.Contains(channels, ChannelTelegram) && m.notifier != nil {
		if slices.Contains(channels, ChannelWeb) {
			m.mu.Lock()
			rec.timer = time.AfterFunc(m.timeout, func() { m.deliverTelegram(rec.ID) })
			m.mu.Unlock()
		} else {
			m.deliverTelegram(rec.ID)
		}
	} else if slices.Contains(channels, ChannelTelegram) {
		m.logger.Warn("telegram channel requested but no notifier configured", "id", rec.ID)
	}

	return &snapshot
}

// deliverTelegram re-reads the record when the timer fires: an earlier
// dismissal wins and nothing is sent.
func (m *Manager) deliverTelegram(id string) {
	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok || rec.Status != StatusPending {
		m.mu.Unlock()
		return
	}
	snapshot := *rec
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	messageID, chatID, err := m.notifier.SendNotification(ctx, snapshot)
	if err != nil {
		m.logger.Warn("telegram send failed", "id", id, "error", err.Error())
		return
	}

	m.mu.Lock()
	if rec, ok := m.records[id]; ok && rec.Status == StatusPending {
		rec.Status = StatusTelegramSent
		rec.TelegramMessageID = messageID
		rec.TelegramChatID = chatID
		rec.timer = nil
	}
	m.mu.Unlock()

	m.logger.Info("notification forwarded to telegram", "id", id, "message_id", messageID)
}

// Dismiss cancels and dismisses every pending record matching all of the
// request's non-empty filters, then broadcasts the count.
func (m *Manager) Dismiss(req DismissRequest) int {
	count := 0

	m.mu.Lock()
	for _, id := range m.order {
		rec := m.records[id]
		if rec == nil || rec.Status != StatusPending {
			continue
		}
		if !matches(rec, req) {
			continue
		}
		if rec.timer != nil {
			rec.timer.Stop()
			rec.timer = nil
		}
		rec.Status = StatusDismissed
		count++
	}
	m.mu.Unlock()

	if count > 0 {
		m.broker.Publish("dismiss", map[string]int{"count": count})
	}
	return count
}

func matches(rec *Record, req DismissRequest) bool {
	if req.SessionID == "" && req.ContainerID == "" && req.TmuxSession == "" && req.TmuxWindow == nil {
		return false
	}
	if req.SessionID != "" && rec.SessionID != req.SessionID {
		return false
	}
	if req.ContainerID != "" && rec.ContainerID != req.ContainerID {
		return false
	}
	if req.TmuxSession != "" && rec.TmuxSession != req.TmuxSession {
		return false
	}
	if req.TmuxWindow != nil && rec.TmuxWindow != *req.TmuxWindow {
		return false
	}
	return true
}

// HandleTelegramReply routes a reply to a previously forwarded record:
// the text is appended to its responses and typed into the originating
// pane followed by Enter. Status is unchanged.
func (m *Manager) HandleTelegramReply(messageID int64, text string) bool {
	m.mu.Lock()
	var rec *Record
	for _, id := range m.order {
		if r := m.records[id]; r != nil && r.TelegramMessageID == messageID {
			rec = r
			break
		}
	}
	if rec == nil {
		m.mu.Unlock()
		return false
	}
	rec.Responses = append(rec.Responses, text)
	containerID, session, window := rec.ContainerID, rec.TmuxSession, rec.TmuxWindow
	m.mu.Unlock()

	if m.sender != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := m.sender.SendKeys(ctx, containerID, session, window, text, true); err != nil {
				m.logger.Warn("reply routing failed", "message_id", messageID, "error", err.Error())
			}
		}()
	}
	return true
}

// Records returns a snapshot of every record, oldest first.
func (m *Manager) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.order))
	for _, id := range m.order {
		if rec := m.records[id]; rec != nil {
			out = append(out, *rec)
		}
	}
	return out
}

// Get returns a record by id.
func (m *Manager) Get(id string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Broker exposes the SSE broker for the stream endpoint.
func (m *Manager) Broker() *Broker {
	return m.broker
}
