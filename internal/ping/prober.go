package ping

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/craftkeeper/internal/protocol"
	"github.com/energizer-project/craftkeeper/internal/util"
)

// Defaults used by the desktop command layer.
const (
	DefaultConnectTimeout = 3 * time.Second
	DefaultOverallTimeout = 5 * time.Second
)

// Dialer opens the byte stream to a target. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Prober runs probes. It holds no per-probe state, so one Prober may be
// shared by any number of concurrent Run calls.
type Prober struct {
	connectTimeout  time.Duration
	overallTimeout  time.Duration
	protocolVersion int32
	dialer          Dialer
	logger          zerolog.Logger
}

// Option configures a Prober.
type Option func(*Prober)

// WithConnectTimeout bounds the TCP connect step.
func WithConnectTimeout(d time.Duration) Option {
	return func(p *Prober) {
		if d > 0 {
			p.connectTimeout = d
		}
	}
}

// WithOverallTimeout bounds the whole probe, connect included.
func WithOverallTimeout(d time.Duration) Option {
	return func(p *Prober) {
		if d > 0 {
			p.overallTimeout = d
		}
	}
}

// WithProtocolVersion overrides the protocol number sent in the handshake.
func WithProtocolVersion(v int32) Option {
	return func(p *Prober) {
		p.protocolVersion = v
	}
}

// WithDialer replaces the default *net.Dialer.
func WithDialer(d Dialer) Option {
	return func(p *Prober) {
		if d != nil {
			p.dialer = d
		}
	}
}

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Prober) {
		p.logger = l
	}
}

// NewProber creates a Prober with the default timeouts and protocol version.
func NewProber(opts ...Option) *Prober {
	p := &Prober{
		connectTimeout:  DefaultConnectTimeout,
		overallTimeout:  DefaultOverallTimeout,
		protocolVersion: protocol.ProtocolVersion,
		dialer:          &net.Dialer{},
		logger:          util.ComponentLogger("prober"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ConnectTimeout returns the configured connect bound.
func (p *Prober) ConnectTimeout() time.Duration { return p.connectTimeout }

// OverallTimeout returns the configured overall bound.
func (p *Prober) OverallTimeout() time.Duration { return p.overallTimeout }

// Probe runs one probe and collapses it to online/offline. It never fails.
func Probe(ctx context.Context, target Target, connectTimeout, overallTimeout time.Duration) Result {
	p := NewProber(WithConnectTimeout(connectTimeout), WithOverallTimeout(overallTimeout))
	return p.Probe(ctx, target)
}

// Probe runs one probe and collapses it to online/offline.
func (p *Prober) Probe(ctx context.Context, target Target) Result {
	return p.Run(ctx, target).Result()
}

// Run executes the full sequence against target and returns the detailed
// outcome. No step is retried; the first failure is final.
func (p *Prober) Run(ctx context.Context, target Target) Outcome {
	out := Outcome{
		Target:    target,
		State:     StateConnecting,
		StartedAt: time.Now(),
	}

	if err := target.Validate(); err != nil {
		return p.finish(out, StateConnecting, &protocol.Error{Kind: protocol.KindConnectRefused, Op: "validate target", Err: err})
	}

	ctx, cancel := context.WithTimeout(ctx, p.overallTimeout)
	defer cancel()

	s := &session{prober: p, target: target, out: &out}
	defer s.close()

	state := StateConnecting
	for state != StatePongReceived {
		step, ok := transitions[state]
		if !ok {
			return p.finish(out, state, &protocol.Error{Kind: protocol.KindIO, Op: "probe", Err: errors.New("no transition from " + state.String())})
		}

		next, err := step(s, ctx)
		if err != nil {
			return p.finish(out, state, timeoutAware(ctx, err))
		}

		state = next
		out.State = state
	}

	out.State = StateSucceeded
	out.Duration = time.Since(out.StartedAt)

	p.logger.Debug().
		Str("target", target.String()).
		Dur("latency", out.Latency).
		Int("status_bytes", out.StatusBytes).
		Bool("echo_matched", out.EchoMatched).
		Msg("probe succeeded")

	return out
}

// finish marks out as failed at state.
func (p *Prober) finish(out Outcome, state State, err error) Outcome {
	out.State = StateFailed
	out.FailedAt = state
	out.Err = err
	out.Latency = 0
	out.Duration = time.Since(out.StartedAt)

	p.logger.Debug().
		Err(err).
		Str("target", out.Target.String()).
		Str("state", state.String()).
		Str("kind", protocol.KindOf(err).String()).
		Msg("probe failed")

	return out
}

// timeoutAware reports failures caused by the overall deadline as
// ErrTimeout, whatever the interrupted step saw.
func timeoutAware(ctx context.Context, err error) error {
	ctxErr := ctx.Err()
	if ctxErr == nil {
		return err
	}

	var pe *protocol.Error
	op := "probe"
	if errors.As(err, &pe) {
		if pe.Kind == protocol.KindTimeout {
			return err
		}
		op = pe.Op
	}

	if errors.Is(ctxErr, context.DeadlineExceeded) {
		return &protocol.Error{Kind: protocol.KindTimeout, Op: op, Err: err}
	}
	return &protocol.Error{Kind: protocol.KindIO, Op: op, Err: ctxErr}
}
