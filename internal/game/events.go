package game

import "time"

const (
	EventRoundStart   = "round_start"
	EventRoundRunning = "round_running"
	EventUpdate       = "update"
	EventBetPlaced    = "bet_placed"
	EventCashout      = "cashout"
	EventCrash        = "crash"
	EventSettled      = "round_settled"
)

// Event is one round lifecycle notification.
type Event struct {
	Type        string      `json:"type"`
	RoundNumber int64       `json:"round_number"`
	Data        interface{} `json:"data,omitempty"`
	Timestamp   int64       `json:"timestamp"`
}

// Notifier receives round events. Publish must not block the caller.
type Notifier interface {
	Publish(Event)
}

// Notifiers fans one event out to several sinks.
type Notifiers []Notifier

func (ns Notifiers) Publish(e Event) {
	for _, n := range ns {
		if n != nil {
			n.Publish(e)
		}
	}
}

func newEvent(typ string, round int64, data interface{}, at time.Time) Event {
	return Event{Type: typ, RoundNumber: round, Data: data, Timestamp: at.UnixMilli()}
}
