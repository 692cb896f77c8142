package dispatch

import (
	"errors"
	"time"
)

// State 协议状态
// State is a Dispatch Protocol state.
type State int

const (
	Idle State = iota
	NeedDetected
	LabelResolved
	QueryEmitted
	WaitingManual
	WaitingAutomation
	ResultConsumed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case NeedDetected:
		return "need_detected"
	case LabelResolved:
		return "label_resolved"
	case QueryEmitted:
		return "query_emitted"
	case WaitingManual:
		return "waiting_manual"
	case WaitingAutomation:
		return "waiting_automation"
	case ResultConsumed:
		return "result_consumed"
	default:
		return "unknown"
	}
}

// Waiting reports whether the protocol is suspended on a pending request.
func (s State) Waiting() bool {
	return s == WaitingManual || s == WaitingAutomation
}

// Status 请求状态
type Status string

const (
	StatusPending         Status = "pending"
	StatusAutomated       Status = "automated"
	StatusManuallyHandled Status = "manually_handled"
	StatusCancelled       Status = "cancelled"
	StatusAbandoned       Status = "abandoned"
)

// Request is one instrument request raised by the protocol.
type Request struct {
	ID        string
	Label     string // "" when unlabelled
	Query     string // sanitized query body
	Status    Status
	Automated bool
	RaisedAt  time.Time
	Consumed  bool
}

// Result is the outcome bound to a request by Submit.
type Result struct {
	RequestID string
	Label     string
	Raw       string // submitted text as received
	Text      string // payload as persisted, without markers
	Automated bool
}

// Need describes why and what to ask an instrument.
type Need struct {
	Query  string
	Label  string // explicit selection, overrides the default label
	Reason string
}

var (
	// ErrRequestPending is returned by Raise while another request is pending.
	ErrRequestPending = errors.New("an instrument request is already pending")
	// ErrNoPendingRequest is returned by Submit when nothing is waiting for a result.
	ErrNoPendingRequest = errors.New("no pending instrument request")
	// ErrProtocolMismatch is returned when an automated result is not a well-formed result marker.
	ErrProtocolMismatch = errors.New("result does not match the instrument result format")
	// ErrNoInstrument is returned when no label can be resolved and no roster exists.
	ErrNoInstrument = errors.New("no instrument available")
	// ErrEmptyQuery is returned when a need carries no query text.
	ErrEmptyQuery = errors.New("instrument query is empty")
)
