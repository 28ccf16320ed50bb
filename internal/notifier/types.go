package notifier

import "time"

type Config struct {
	Workers       int
	QueueSize     int
	RatePerSec    float64
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
	// DedupWindow suppresses a second notification with the same user and
	// tag inside the window; 0 disables it.
	DedupWindow time.Duration
}

// Event is published on the bus for each pipeline outcome.
type Event struct {
	Surface string    `json:"surface"`
	Tag     string    `json:"tag"`
	At      time.Time `json:"at"`
	Attempt int       `json:"attempt,omitempty"`
	Error   string    `json:"error,omitempty"`
}

const (
	EventQueued  = "platform.queued"
	EventSent    = "platform.sent"
	EventFailed  = "platform.failed"
	EventDropped = "platform.dropped"
	EventDeduped = "platform.deduped"
)

// Recorder counts outcomes: "sent", "failed", "dropped", "denied".
type Recorder interface {
	PlatformResult(result string)
}
