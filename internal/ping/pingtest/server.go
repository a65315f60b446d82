// Package pingtest provides a loopback responder for the status/ping
// exchange, for use in tests. Its behavior can be bent to produce each
// failure the client has to survive.
package pingtest

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/energizer-project/craftkeeper/internal/protocol"
)

// DefaultStatusJSON is the document returned by a faithful responder.
const DefaultStatusJSON = `{"version":{"name":"1.20.4","protocol":765},"players":{"max":20,"online":3},"description":{"text":"craftkeeper test"}}`

// Behavior controls how the responder answers.
type Behavior struct {
	StatusID   int32  // packet id of the status response
	PongID     int32  // packet id of the pong
	StatusJSON string // status document
	EchoOffset int64  // added to the echoed ping payload

	Silent              bool          // accept, then never send anything
	CloseAfterHandshake bool          // hang up once the handshake arrives
	MalformedStatus     bool          // answer the status request with an endless VarInt
	TruncatePong        bool          // send half a pong payload, then hang up
	PongDelay           time.Duration // wait before answering the ping
}

// Faithful returns a Behavior that implements the exchange correctly.
func Faithful() Behavior {
	return Behavior{
		StatusID:   protocol.PktStatusResponse,
		PongID:     protocol.PktPong,
		StatusJSON: DefaultStatusJSON,
	}
}

// Server is a loopback TCP responder.
type Server struct {
	ln       net.Listener
	behavior Behavior

	mu         sync.Mutex
	conns      map[net.Conn]struct{}
	handshakes []protocol.Handshake
	accepted   int

	wg sync.WaitGroup
}

// NewServer starts a responder on 127.0.0.1 with a random port. It panics
// if the listener cannot be created.
func NewServer(b Behavior) *Server {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic(fmt.Sprintf("pingtest: failed to listen: %v", err))
	}

	s := &Server{
		ln:       ln,
		behavior: b,
		conns:    make(map[net.Conn]struct{}),
	}

	s.wg.Add(1)
	go s.serve()

	return s
}

// Host returns the listener IP.
func (s *Server) Host() string {
	return s.ln.Addr().(*net.TCPAddr).IP.String()
}

// Port returns the listener port.
func (s *Server) Port() uint16 {
	return uint16(s.ln.Addr().(*net.TCPAddr).Port)
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Handshakes returns the handshakes received so far.
func (s *Server) Handshakes() []protocol.Handshake {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Handshake, len(s.handshakes))
	copy(out, s.handshakes)
	return out
}

// Accepted returns the number of connections accepted so far.
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Close stops the listener, drops open connections and waits for handlers.
func (s *Server) Close() {
	s.ln.Close()

	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.accepted++
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.conns, conn)
				s.mu.Unlock()
				conn.Close()
			}()
			s.handle(conn)
		}()
	}
}

func (s *Server) handle(conn net.Conn) {
	b := s.behavior

	if b.Silent {
		io.Copy(io.Discard, conn)
		return
	}

	rd := protocol.NewReader(conn)

	// Handshake
	length, err := rd.ReadVarInt()
	if err != nil || length < 1 || length > protocol.MaxPacketSize {
		return
	}
	payload, err := rd.ReadFull("read handshake", int(length))
	if err != nil {
		return
	}
	hs, err := protocol.ParseHandshake(payload)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.handshakes = append(s.handshakes, hs)
	s.mu.Unlock()

	if b.CloseAfterHandshake {
		return
	}

	// Status request
	if _, err := rd.ReadPacketHeader(protocol.PktStatusRequest); err != nil {
		return
	}

	if b.MalformedStatus {
		conn.Write([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x80})
		io.Copy(io.Discard, conn)
		return
	}

	status := protocol.NewPacketBuilder(b.StatusID).WriteString(b.StatusJSON).BuildFrame()
	if _, err := conn.Write(status); err != nil {
		return
	}

	// Ping
	if _, err := rd.ReadPacketHeader(protocol.PktPing); err != nil {
		return
	}
	raw, err := rd.ReadFull("read ping payload", protocol.PingPayloadSize)
	if err != nil {
		return
	}
	echo := protocol.NewPacketBuilder(b.PongID).WriteBytes(raw).Build()

	if b.PongDelay > 0 {
		time.Sleep(b.PongDelay)
	}

	if b.EchoOffset != 0 {
		var v int64
		for _, c := range raw {
			v = v<<8 | int64(c)
		}
		echo = protocol.NewPacketBuilder(b.PongID).WriteInt64(v + b.EchoOffset).Build()
	}

	if b.TruncatePong {
		frame := protocol.Frame(echo)
		conn.Write(frame[:len(frame)-4])
		return
	}

	conn.Write(protocol.Frame(echo))
}
