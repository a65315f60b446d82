package ping

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/craftkeeper/internal/ping/pingtest"
	"github.com/energizer-project/craftkeeper/internal/protocol"
)

func targetOf(srv *pingtest.Server) Target {
	return Target{Address: srv.Host(), Port: srv.Port()}
}

func fastProber(opts ...Option) *Prober {
	base := []Option{
		WithConnectTimeout(time.Second),
		WithOverallTimeout(2 * time.Second),
	}
	return NewProber(append(base, opts...)...)
}

// closedPort returns a loopback port nothing listens on.
func closedPort(t *testing.T) uint16 {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	require.NoError(t, ln.Close())
	return port
}

func TestRunHappyPath(t *testing.T) {
	srv := pingtest.NewServer(pingtest.Faithful())
	defer srv.Close()

	out := fastProber().Run(context.Background(), targetOf(srv))

	require.NoError(t, out.Err)
	assert.True(t, out.Online())
	assert.Equal(t, StateSucceeded, out.State)
	assert.Equal(t, len(pingtest.DefaultStatusJSON), out.StatusBytes)
	assert.True(t, out.EchoMatched)
	assert.Less(t, out.Latency, 2*time.Second)

	res := out.Result()
	assert.True(t, res.Online)

	hs := srv.Handshakes()
	require.Len(t, hs, 1)
	assert.Equal(t, protocol.ProtocolVersion, hs[0].ProtocolVersion)
	assert.Equal(t, "127.0.0.1", hs[0].ServerAddress)
	assert.Equal(t, srv.Port(), hs[0].ServerPort)
	assert.Equal(t, protocol.NextStateStatus, hs[0].NextState)
}

func TestRunCustomProtocolVersion(t *testing.T) {
	srv := pingtest.NewServer(pingtest.Faithful())
	defer srv.Close()

	out := fastProber(WithProtocolVersion(47)).Run(context.Background(), targetOf(srv))
	require.True(t, out.Online())

	hs := srv.Handshakes()
	require.Len(t, hs, 1)
	assert.Equal(t, int32(47), hs[0].ProtocolVersion)
}

func TestRunLatencyCoversPongDelay(t *testing.T) {
	b := pingtest.Faithful()
	b.PongDelay = 60 * time.Millisecond
	srv := pingtest.NewServer(b)
	defer srv.Close()

	out := fastProber().Run(context.Background(), targetOf(srv))

	require.True(t, out.Online())
	assert.GreaterOrEqual(t, out.Latency, 60*time.Millisecond)
	assert.GreaterOrEqual(t, out.Result().Latency, uint64(60))
}

func TestRunEchoMismatchIsStillOnline(t *testing.T) {
	b := pingtest.Faithful()
	b.EchoOffset = 1
	srv := pingtest.NewServer(b)
	defer srv.Close()

	out := fastProber().Run(context.Background(), targetOf(srv))

	assert.True(t, out.Online())
	assert.False(t, out.EchoMatched)
}

func TestRunUnreachablePortFailsPromptly(t *testing.T) {
	target := Target{Address: "127.0.0.1", Port: closedPort(t)}

	start := time.Now()
	out := NewProber().Run(context.Background(), target)
	elapsed := time.Since(start)

	assert.False(t, out.Online())
	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, StateConnecting, out.FailedAt)
	assert.Equal(t, protocol.KindConnectRefused, out.Kind())
	assert.Less(t, elapsed, DefaultConnectTimeout)
	assert.Equal(t, Result{}, out.Result())
}

func TestRunSilentServerHitsOverallTimeout(t *testing.T) {
	b := pingtest.Faithful()
	b.Silent = true
	srv := pingtest.NewServer(b)
	defer srv.Close()

	p := NewProber(
		WithConnectTimeout(time.Second),
		WithOverallTimeout(200*time.Millisecond),
	)

	start := time.Now()
	out := p.Run(context.Background(), targetOf(srv))
	elapsed := time.Since(start)

	assert.False(t, out.Online())
	assert.Equal(t, protocol.KindTimeout, out.Kind())
	assert.Equal(t, StateStatusRequested, out.FailedAt)
	assert.Less(t, elapsed, 400*time.Millisecond)
	assert.Equal(t, uint64(0), out.Result().Latency)
}

func TestRunSlowDialHitsConnectTimeout(t *testing.T) {
	blocking := dialFunc(func(ctx context.Context, network, address string) (net.Conn, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	p := NewProber(
		WithDialer(blocking),
		WithConnectTimeout(50*time.Millisecond),
		WithOverallTimeout(time.Second),
	)

	start := time.Now()
	out := p.Run(context.Background(), Target{Address: "192.0.2.1", Port: 25565})

	assert.False(t, out.Online())
	assert.Equal(t, protocol.KindConnectTimeout, out.Kind())
	assert.ErrorIs(t, out.Err, protocol.ErrConnectTimeout)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRunProtocolViolations(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*pingtest.Behavior)
		kind     protocol.ErrorKind
		failedAt State
	}{
		{
			name:     "status packet id 0x05",
			mutate:   func(b *pingtest.Behavior) { b.StatusID = 0x05 },
			kind:     protocol.KindUnexpectedPacket,
			failedAt: StateStatusRequested,
		},
		{
			name:     "pong packet id 0x00",
			mutate:   func(b *pingtest.Behavior) { b.PongID = 0x00 },
			kind:     protocol.KindUnexpectedPacket,
			failedAt: StatePingSent,
		},
		{
			name:     "truncated pong",
			mutate:   func(b *pingtest.Behavior) { b.TruncatePong = true },
			kind:     protocol.KindShortRead,
			failedAt: StatePingSent,
		},
		{
			name:     "endless varint",
			mutate:   func(b *pingtest.Behavior) { b.MalformedStatus = true },
			kind:     protocol.KindMalformedVarInt,
			failedAt: StateStatusRequested,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := pingtest.Faithful()
			tt.mutate(&b)
			srv := pingtest.NewServer(b)
			defer srv.Close()

			out := fastProber().Run(context.Background(), targetOf(srv))

			assert.False(t, out.Online())
			assert.Equal(t, tt.kind, out.Kind(), "err: %v", out.Err)
			assert.Equal(t, tt.failedAt, out.FailedAt)
			assert.Equal(t, Result{}, out.Result())
		})
	}
}

func TestRunPeerHangsUpAfterHandshake(t *testing.T) {
	b := pingtest.Faithful()
	b.CloseAfterHandshake = true
	srv := pingtest.NewServer(b)
	defer srv.Close()

	out := fastProber().Run(context.Background(), targetOf(srv))

	assert.False(t, out.Online())
	assert.Contains(t, []State{StateHandshakeSent, StateStatusRequested}, out.FailedAt)
}

func TestRunHandshakeWriteFailureStopsAtConnected(t *testing.T) {
	hungUp := dialFunc(func(ctx context.Context, network, address string) (net.Conn, error) {
		client, server := net.Pipe()
		server.Close()
		return client, nil
	})

	out := fastProber(WithDialer(hungUp)).Run(context.Background(), Target{Address: "mc.example.net", Port: 25565})

	assert.False(t, out.Online())
	assert.Equal(t, StateConnected, out.FailedAt)
	assert.ErrorIs(t, out.Err, io.ErrClosedPipe)
	var pe *protocol.Error
	require.ErrorAs(t, out.Err, &pe)
	assert.Equal(t, "write handshake", pe.Op)
}

type deadlineRefusingConn struct {
	net.Conn
}

func (deadlineRefusingConn) SetDeadline(time.Time) error {
	return errors.New("deadline not supported")
}

func TestRunSetDeadlineFailureIsReported(t *testing.T) {
	var server net.Conn
	dialer := dialFunc(func(ctx context.Context, network, address string) (net.Conn, error) {
		var client net.Conn
		client, server = net.Pipe()
		return deadlineRefusingConn{Conn: client}, nil
	})

	out := fastProber(WithDialer(dialer)).Run(context.Background(), Target{Address: "mc.example.net", Port: 25565})
	defer server.Close()

	assert.False(t, out.Online())
	assert.Equal(t, StateConnecting, out.FailedAt)
	assert.Equal(t, protocol.KindIO, out.Kind())
	var pe *protocol.Error
	require.ErrorAs(t, out.Err, &pe)
	assert.Equal(t, "set deadline", pe.Op)
}

func TestRunInvalidTarget(t *testing.T) {
	out := fastProber().Run(context.Background(), Target{})

	assert.False(t, out.Online())
	assert.Equal(t, protocol.KindConnectRefused, out.Kind())
	assert.Equal(t, Result{}, out.Result())
}

func TestRunCancelledContext(t *testing.T) {
	srv := pingtest.NewServer(pingtest.Faithful())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := fastProber().Run(ctx, targetOf(srv))
	assert.False(t, out.Online())
	assert.Equal(t, uint64(0), out.Result().Latency)
}

func TestOfflineAlwaysHasZeroLatency(t *testing.T) {
	behaviors := []pingtest.Behavior{
		pingtest.Faithful(),
		func() pingtest.Behavior { b := pingtest.Faithful(); b.StatusID = 0x05; return b }(),
		func() pingtest.Behavior { b := pingtest.Faithful(); b.PongID = 0x07; return b }(),
		func() pingtest.Behavior { b := pingtest.Faithful(); b.TruncatePong = true; return b }(),
		func() pingtest.Behavior {
			b := pingtest.Faithful()
			b.TruncatePong = true
			b.PongDelay = 20 * time.Millisecond
			return b
		}(),
	}

	for _, b := range behaviors {
		srv := pingtest.NewServer(b)
		res := fastProber().Probe(context.Background(), targetOf(srv))
		srv.Close()

		if !res.Online {
			assert.Equal(t, uint64(0), res.Latency)
		}
	}
}

func TestConcurrentProbesShareProber(t *testing.T) {
	srv := pingtest.NewServer(pingtest.Faithful())
	defer srv.Close()

	p := fastProber()
	target := targetOf(srv)

	const n = 16
	results := make([]Result, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = p.Probe(context.Background(), target)
		}(i)
	}
	wg.Wait()

	for i, r := range results {
		assert.True(t, r.Online, "probe %d", i)
	}
	assert.Equal(t, n, srv.Accepted())
}

func TestProbeFunction(t *testing.T) {
	srv := pingtest.NewServer(pingtest.Faithful())
	defer srv.Close()

	res := Probe(context.Background(), targetOf(srv), time.Second, 2*time.Second)
	assert.True(t, res.Online)
}

func TestNewProberDefaults(t *testing.T) {
	p := NewProber()
	assert.Equal(t, 3*time.Second, p.ConnectTimeout())
	assert.Equal(t, 5*time.Second, p.OverallTimeout())

	p = NewProber(WithConnectTimeout(0), WithOverallTimeout(-1))
	assert.Equal(t, DefaultConnectTimeout, p.ConnectTimeout())
	assert.Equal(t, DefaultOverallTimeout, p.OverallTimeout())
}

func TestReportForFailure(t *testing.T) {
	out := fastProber().Run(context.Background(), Target{Address: "127.0.0.1", Port: closedPort(t)})
	r := out.Report()

	assert.False(t, r.Online)
	assert.Equal(t, "connecting", r.FailedAt)
	assert.Equal(t, "connect_refused", r.ErrorKind)
	assert.NotEmpty(t, r.Error)
	assert.Equal(t, uint64(0), r.LatencyMs)
}

type dialFunc func(ctx context.Context, network, address string) (net.Conn, error)

func (f dialFunc) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return f(ctx, network, address)
}
