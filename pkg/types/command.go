package types

import "time"

// Settable device fields. These are the device's own JSON keys and double as
// the Field value on a CommandRequest.
const (
	FieldACPort      = "acPortStatus"
	FieldV12Port     = "v12PortStatus"
	FieldUSBPort     = "usbPortStatus"
	FieldBacklight   = "backlight"
	FieldChargeLimit = "chargeLimit"
)

// OutcomeStatus is the terminal state of a dispatched command.
type OutcomeStatus string

const (
	OutcomeApplied  OutcomeStatus = "applied"
	OutcomeRejected OutcomeStatus = "rejected"
	OutcomeTimedOut OutcomeStatus = "timedOut"
)

// RejectReason explains a rejected command.
type RejectReason string

const (
	RejectInvalidValue     RejectReason = "invalidValue"
	RejectTransportFailure RejectReason = "transportFailure"
)

// CommandRequest is a desired settings change on the device. ID correlates
// the request with its outcome; when empty the dispatcher fills one in.
type CommandRequest struct {
	ID    string `json:"id,omitempty"`
	Field string `json:"field"`
	Value int    `json:"value"`
}

// CommandOutcome is the single terminal result of a CommandRequest. Every
// dispatched request resolves to exactly one outcome.
type CommandOutcome struct {
	ID     string        `json:"id"`
	Field  string        `json:"field"`
	Value  int           `json:"value"`
	Status OutcomeStatus `json:"status"`
	Reason RejectReason  `json:"reason,omitempty"`
	Detail string        `json:"detail,omitempty"`
	// Verification polls issued before resolving.
	Polls      int       `json:"polls"`
	ResolvedAt time.Time `json:"resolvedAt"`
}
