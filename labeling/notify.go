package labeling

import (
	"sync"
	"time"
)

// NotificationLevel is the severity of a user-visible notification.
type NotificationLevel string

const (
	NotifySuccess NotificationLevel = "success"
	NotifyError   NotificationLevel = "error"
	NotifyInfo    NotificationLevel = "info"
)

// Notification is a transient message for the UI.
type Notification struct {
	Level      NotificationLevel `json:"level"`
	Message    string            `json:"message"`
	DocumentID string            `json:"document_id,omitempty"`
	Time       time.Time         `json:"time"`
}

// Notifier receives user-visible notifications.
type Notifier interface {
	Notify(n Notification)
}

// NotificationLog buffers notifications until the UI drains them.
type NotificationLog struct {
	mu    sync.Mutex
	items []Notification
	limit int
}

// NewNotificationLog keeps at most limit undrained notifications (0 = unbounded).
func NewNotificationLog(limit int) *NotificationLog {
	return &NotificationLog{limit: limit}
}

// Notify appends a notification, dropping the oldest one past the limit.
func (l *NotificationLog) Notify(n Notification) {
	if n.Time.IsZero() {
		n.Time = time.Now()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, n)
	if l.limit > 0 && len(l.items) > l.limit {
		l.items = l.items[len(l.items)-l.limit:]
	}
}

// Drain returns and clears the buffered notifications.
func (l *NotificationLog) Drain() []Notification {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.items
	l.items = nil
	if out == nil {
		out = []Notification{}
	}
	return out
}

// Len returns the number of buffered notifications.
func (l *NotificationLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}
