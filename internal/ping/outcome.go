package ping

import (
	"time"

	"github.com/energizer-project/craftkeeper/internal/protocol"
)

// Result is the collapsed answer handed to callers that only care whether
// the server is up. Online=false always pairs with Latency=0.
type Result struct {
	Online  bool   `json:"online"`
	Latency uint64 `json:"latency"` // milliseconds
}

// Outcome is the full record of one probe, kept until the outermost
// boundary decides to collapse it into a Result.
type Outcome struct {
	Target    Target
	State     State // StateSucceeded or StateFailed once Run returns
	FailedAt  State // state in which the failure happened
	Latency   time.Duration
	StartedAt time.Time
	Duration  time.Duration // wall time of the whole probe

	StatusBytes int   // size of the drained status JSON
	Echo        int64 // payload returned in the pong
	EchoMatched bool

	Err error // *protocol.Error when State is StateFailed
}

// Online reports whether the probe completed the full sequence.
func (o Outcome) Online() bool {
	return o.State == StateSucceeded && o.Err == nil
}

// Kind returns the failure kind. It is only meaningful when !o.Online().
func (o Outcome) Kind() protocol.ErrorKind {
	return protocol.KindOf(o.Err)
}

// Result collapses the outcome.
func (o Outcome) Result() Result {
	if !o.Online() {
		return Result{}
	}
	return Result{
		Online:  true,
		Latency: uint64(o.Latency.Milliseconds()),
	}
}

// Report is the JSON-friendly diagnostic view of an Outcome.
type Report struct {
	Target      string    `json:"target"`
	Online      bool      `json:"online"`
	LatencyMs   uint64    `json:"latency_ms"`
	State       State     `json:"state"`
	FailedAt    string    `json:"failed_at,omitempty"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	Error       string    `json:"error,omitempty"`
	StatusBytes int       `json:"status_bytes"`
	EchoMatched bool      `json:"echo_matched"`
	DurationMs  int64     `json:"duration_ms"`
	StartedAt   time.Time `json:"started_at"`
}

// Report builds the diagnostic view.
func (o Outcome) Report() Report {
	r := Report{
		Target:      o.Target.String(),
		Online:      o.Online(),
		LatencyMs:   o.Result().Latency,
		State:       o.State,
		StatusBytes: o.StatusBytes,
		EchoMatched: o.EchoMatched,
		DurationMs:  o.Duration.Milliseconds(),
		StartedAt:   o.StartedAt,
	}

	if !r.Online {
		r.FailedAt = o.FailedAt.String()
		r.ErrorKind = o.Kind().String()
		if o.Err != nil {
			r.Error = o.Err.Error()
		}
	}

	return r
}
