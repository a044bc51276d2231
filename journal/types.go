package journal

import (
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"
)

var log = logging.Logger("journal")

// DefaultDisabledEvents lists the journal events disabled by default. Every
// event the node emits is currently low volume.
var DefaultDisabledEvents = DisabledEvents{}

// DisabledEvents is the set of event types whose journaling is suppressed.
type DisabledEvents []EventType

// ParseDisabledEvents parses a string of the form: "system1:event1,system1:event2[,...]"
// into a DisabledEvents object, returning an error if the string failed to parse.
//
// It sanitizes strings via strings.TrimSpace.
func ParseDisabledEvents(s string) (DisabledEvents, error) {
	s = strings.TrimSpace(s)
	evts := strings.Split(s, ",")
	ret := make(DisabledEvents, 0, len(evts))
	if len(s) == 0 {
		return ret, nil
	}
	for _, evt := range evts {
		evt = strings.TrimSpace(evt)
		parts := strings.Split(evt, ":")
		if len(parts) != 2 {
			return nil, xerrors.Errorf("invalid event type: %s", evt)
		}
		ret = append(ret, EventType{System: parts[0], Event: parts[1]})
	}
	return ret, nil
}

// EventType represents the signature of an event.
type EventType struct {
	System string
	Event  string

	// enabled stores whether this event type is enabled.
	enabled bool

	// safe is a sentinel marker that's set to true if this EventType was
	// constructed correctly (via Journal#RegisterEventType).
	safe bool
}

func (et EventType) String() string {
	return et.System + ":" + et.Event
}

// Enabled returns whether this event type is enabled in the journaling
// subsystem. Event types are enabled unless disabled when the journal was
// constructed.
func (et EventType) Enabled() bool {
	return et.safe && et.enabled
}

//go:generate go run github.com/golang/mock/mockgen -destination=mockjournal/journal.go -package=mockjournal . Journal

// Journal represents an audit trail of system actions.
//
// Every entry is tagged with a timestamp, a system name, and an event name.
// The supplied data can be any type, as long as it is JSON serializable,
// including structs, map[string]interface{}, or primitive types.
type Journal interface {
	EventTypeRegistry

	// RecordEvent records this event to the journal, if and only if the
	// EventType is enabled. If so, it calls the supplier function to obtain
	// the payload to record.
	RecordEvent(evtType EventType, supplier func() interface{})

	// Close closes this journal for further writing.
	Close() error
}

// Event represents a journal entry.
type Event struct {
	EventType

	Timestamp time.Time
	Data      interface{}
}
