package notify

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Severity int

const (
	Info Severity = iota
	Success
	Error
)

func (s Severity) String() string {
	switch s {
	case Success:
		return "success"
	case Error:
		return "error"
	}
	return "info"
}

// Notification is a transient user-facing message (a toast).
type Notification struct {
	Severity    Severity `json:"-"`
	Level       string   `json:"severity"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
}

func New(severity Severity, title string, description string) Notification {
	return Notification{Severity: severity, Level: severity.String(), Title: title, Description: description}
}

type Notifier interface {
	Notify(notification Notification)
}

// LogNotifier is the terminal rendition of toasts.
type LogNotifier struct{}

func (LogNotifier) Notify(n Notification) {
	var event *zerolog.Event
	switch n.Severity {
	case Error:
		event = log.Error()
	case Success:
		event = log.Info().Bool("success", true)
	default:
		event = log.Info()
	}
	event.Str("description", n.Description).Msg(n.Title)
}

// Multi fans out to all notifiers in order.
type Multi []Notifier

func (m Multi) Notify(n Notification) {
	for _, notifier := range m {
		notifier.Notify(n)
	}
}

// Recorder keeps everything it was told, handy in tests and for the websocket feed.
type Recorder struct {
	mutex         sync.Mutex
	notifications []Notification
}

func (r *Recorder) Notify(n Notification) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.notifications = append(r.notifications, n)
}

func (r *Recorder) All() []Notification {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]Notification(nil), r.notifications...)
}

// Drain returns and forgets everything collected so far.
func (r *Recorder) Drain() []Notification {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	drained := r.notifications
	r.notifications = nil
	return drained
}

func (r *Recorder) Last() (Notification, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if len(r.notifications) == 0 {
		return Notification{}, false
	}
	return r.notifications[len(r.notifications)-1], true
}
