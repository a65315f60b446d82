package ping

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/energizer-project/craftkeeper/internal/protocol"
)

// transition performs the work that leads out of one state and returns the
// state reached.
type transition func(s *session, ctx context.Context) (State, error)

var transitions = map[State]transition{
	StateConnecting:      (*session).connect,
	StateConnected:       (*session).sendHandshake,
	StateHandshakeSent:   (*session).requestStatus,
	StateStatusRequested: (*session).readStatus,
	StateStatusReceived:  (*session).sendPing,
	StatePingSent:        (*session).readPong,
}

// session is the per-probe connection state. It never outlives Run.
type session struct {
	prober *Prober
	target Target
	out    *Outcome

	conn      net.Conn
	rd        *protocol.Reader
	stopWatch func() bool

	start   time.Time
	payload int64
}

// connect dials the target within the connect timeout and bounds the
// connection by the overall deadline.
func (s *session) connect(ctx context.Context) (State, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.prober.connectTimeout)
	defer cancel()

	conn, err := s.prober.dialer.DialContext(dialCtx, "tcp", s.target.String())
	if err != nil {
		kind := protocol.KindConnectRefused
		var ne net.Error
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
			kind = protocol.KindConnectTimeout
		}
		return StateConnecting, &protocol.Error{Kind: kind, Op: "connect", Err: err}
	}

	s.conn = conn
	s.rd = protocol.NewReader(conn)

	// Reads and writes stop at the overall deadline; cancellation closes
	// the socket so a blocked read returns immediately.
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return StateConnecting, protocol.Wrap("set deadline", err)
		}
	}
	s.stopWatch = context.AfterFunc(ctx, func() {
		conn.Close()
	})

	return StateConnected, nil
}

// sendHandshake announces the target and switches the peer to status.
func (s *session) sendHandshake(ctx context.Context) (State, error) {
	handshake := protocol.BuildHandshake(
		s.prober.protocolVersion,
		s.target.Address,
		s.target.Port,
		protocol.NextStateStatus,
	)
	if err := s.write("write handshake", handshake); err != nil {
		return StateConnected, err
	}

	return StateHandshakeSent, nil
}

// requestStatus sends the empty status request.
func (s *session) requestStatus(ctx context.Context) (State, error) {
	if err := s.write("write status request", protocol.BuildStatusRequest()); err != nil {
		return StateHandshakeSent, err
	}
	return StateStatusRequested, nil
}

// readStatus drains the status response so the stream stays aligned. The
// JSON document is not interpreted.
func (s *session) readStatus(ctx context.Context) (State, error) {
	body, err := s.rd.ReadStatusResponse()
	if err != nil {
		return StateStatusRequested, err
	}
	s.out.StatusBytes = len(body)
	return StateStatusReceived, nil
}

// sendPing starts the latency clock and sends the ping.
func (s *session) sendPing(ctx context.Context) (State, error) {
	s.start = time.Now()
	s.payload = s.start.UnixNano()

	if err := s.write("write ping", protocol.BuildPing(s.payload)); err != nil {
		return StateStatusReceived, err
	}
	return StatePingSent, nil
}

// readPong waits for the pong and stops the latency clock. The echoed
// payload is recorded but does not affect success.
func (s *session) readPong(ctx context.Context) (State, error) {
	echo, err := s.rd.ReadPong()
	if err != nil {
		return StatePingSent, err
	}

	s.out.Latency = time.Since(s.start)
	s.out.Echo = echo
	s.out.EchoMatched = echo == s.payload
	return StatePongReceived, nil
}

func (s *session) write(op string, data []byte) error {
	if _, err := s.conn.Write(data); err != nil {
		return protocol.Wrap(op, err)
	}
	return nil
}

func (s *session) close() {
	if s.stopWatch != nil {
		s.stopWatch()
	}
	if s.conn != nil {
		s.conn.Close()
	}
}
