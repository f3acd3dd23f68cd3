// Package notify carries per-job and aggregate completion notifications to
// whatever channels are configured (MQTT, SSE event bus).
package notify

// Notification types emitted by the job queue.
const (
	TypeJobCompleted = "job_completed"
	TypeJobFailed    = "job_failed"
	TypeAllDone      = "all_done"
)

// Notification is one user-facing event. Failure notifications are
// persistent: consumers should not auto-dismiss them.
type Notification struct {
	Type       string `json:"type"`
	Title      string `json:"title"`
	Message    string `json:"message"`
	Action     string `json:"action,omitempty"`
	Persistent bool   `json:"persistent,omitempty"`
}

// Notifier delivers notifications. Implementations must not block the
// caller for long and must swallow their own delivery errors.
type Notifier interface {
	Notify(n Notification)
}

// Func adapts a function to the Notifier interface.
type Func func(n Notification)

func (f Func) Notify(n Notification) { f(n) }

// Multi fans one notification out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(n Notification) {
	for _, sink := range m {
		sink.Notify(n)
	}
}
