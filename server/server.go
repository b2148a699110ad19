// Package server implements a mock mongod: a TCP listener that parses
// legacy wire protocol messages from a client under test and answers
// them through registered autoresponders. Requests nothing recognizes
// are queued for the test to pop, inspect, and reply to.
package server

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"gopkg.in/inconshreveable/log15.v2"

	"github.com/ociule/mockmongo/pkg/threadsafe"
	"github.com/ociule/mockmongo/wire"
)

const DefaultHost = "127.0.0.1"

var (
	// ErrRunning is returned when starting an already running server.
	ErrRunning = errors.New("server already running")

	// ErrStopped is returned when stopping an already stopped server.
	ErrStopped = errors.New("server already stopped")
)

// Responder inspects a request and may answer it. It reports whether
// the request was handled.
type Responder func(r *Request) bool

// Server is one mock mongod. Create it with New, start it with Run on
// an unused port, then register autoresponders. Responders registered
// last are consulted first; requests no responder handles land in the
// server's own queue, consumed via Receives.
type Server struct {
	mtx sync.Mutex

	Logger log15.Logger

	listener net.Listener
	quit     chan struct{}
	wg       sync.WaitGroup

	connMtx sync.Mutex
	conns   map[net.Conn]struct{}

	runningValue atomic.Value // bool
	verboseValue atomic.Value // bool

	respMtx    sync.Mutex
	responders []Responder

	q *threadsafe.Queue[*Request]

	lastRequestID int32
}

// New returns a new instance of Server. It has no side effects; call
// Run to bind a port.
func New() *Server {
	s := &Server{
		Logger: log15.New("app", "mockmongo"),
		conns:  make(map[net.Conn]struct{}),
		q:      threadsafe.NewQueue[*Request](),
	}
	s.runningValue.Store(false)
	s.verboseValue.Store(false)
	return s
}

func (s *Server) running() bool { return s.runningValue.Load().(bool) }
func (s *Server) verbose() bool { return s.verboseValue.Load().(bool) }

// Run binds an OS-assigned port on the loopback interface and starts
// the accept loop. The address is available from HostAndPort afterward.
func (s *Server) Run() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.running() {
		return ErrRunning
	}

	logger := s.Logger.New("fn", "Run")

	l, err := net.Listen("tcp", net.JoinHostPort(DefaultHost, "0"))
	if err != nil {
		logger.Error("error binding listener", "err", err)
		return err
	}

	s.listener = l
	s.quit = make(chan struct{})
	s.runningValue.Store(true)
	logger.Info("mock server listening", "addr", l.Addr().String())

	s.wg.Add(1)
	go s.acceptLoop(l)

	return nil
}

// HostAndPort returns the server's "host:port" address. Valid only
// after Run.
func (s *Server) HostAndPort() string {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.listener == nil {
		panic("mock server has no address before Run")
	}
	return s.listener.Addr().String()
}

// SetVerbose tells the server whether to log wire traffic during normal
// operation.
func (s *Server) SetVerbose(verbose bool) {
	s.verboseValue.Store(verbose)
}

// Autoresponds registers a fallback responder. Responders are consulted
// in reverse registration order; the first to report the request
// handled wins.
func (s *Server) Autoresponds(fn Responder) {
	s.respMtx.Lock()
	defer s.respMtx.Unlock()

	s.responders = append(s.responders, fn)
}

// AutoIsMaster installs an infinite-use responder that answers any
// isMaster handshake with doc.
func (s *Server) AutoIsMaster(doc interface{}) {
	s.Autoresponds(func(r *Request) bool {
		if !r.IsHandshake() {
			return false
		}
		if err := s.Replies(r, wire.ReplyNone, 0, 0, 1, doc); err != nil {
			s.Logger.Error("error sending isMaster reply", "err", err)
		}
		return true
	})
}

// Receives pops a request no responder handled, waiting up to timeout.
// It returns nil if nothing arrives in time. The replica set fixture
// bypasses this queue by funneling requests through a catch-all
// responder instead.
func (s *Server) Receives(timeout time.Duration) *Request {
	r, ok := s.q.Pop(timeout)
	if !ok {
		return nil
	}
	return r
}

// Replies sends an OP_REPLY for a previously received request over the
// connection it arrived on.
func (s *Server) Replies(r *Request, flags wire.ReplyFlags, cursorID int64, startingFrom, numberReturned int32, docs ...interface{}) error {
	buf, err := wire.EncodeReply(
		atomic.AddInt32(&s.lastRequestID, 1),
		r.Message.Header.RequestID,
		flags, cursorID, startingFrom, numberReturned, docs...)
	if err != nil {
		return err
	}

	if s.verbose() {
		s.Logger.Debug(color.GreenString("reply"),
			"to", r.Message.Header.OpCode.String(),
			"cursorId", cursorID,
			"numberReturned", numberReturned)
	}

	r.conn.writeMtx.Lock()
	defer r.conn.writeMtx.Unlock()

	_, err = r.conn.Write(buf)
	return err
}

// Stop closes the listener and every accepted connection and joins the
// serve goroutines.
func (s *Server) Stop() error {
	s.mtx.Lock()
	if !s.running() {
		s.mtx.Unlock()
		return ErrStopped
	}

	logger := s.Logger.New("fn", "Stop", "addr", s.listener.Addr().String())
	logger.Info("stopping mock server")

	close(s.quit)
	s.listener.Close()
	s.runningValue.Store(false)
	s.mtx.Unlock()

	s.connMtx.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connMtx.Unlock()

	s.wg.Wait()
	return nil
}

func (s *Server) acceptLoop(l net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-s.quit:
			default:
				s.Logger.Error("accept error", "err", err)
			}
			return
		}

		s.connMtx.Lock()
		s.conns[conn] = struct{}{}
		s.connMtx.Unlock()

		s.wg.Add(1)
		go s.serveConn(&serverConn{Conn: conn})
	}
}

func (s *Server) serveConn(conn *serverConn) {
	defer s.wg.Done()
	defer func() {
		conn.Close()
		s.connMtx.Lock()
		delete(s.conns, conn.Conn)
		s.connMtx.Unlock()
	}()

	for {
		msg, err := wire.ReadMessage(conn)
		if err != nil {
			if err != io.EOF {
				select {
				case <-s.quit:
				default:
					s.Logger.Debug("error reading from client", "err", err)
				}
			}
			return
		}

		r := &Request{Message: msg, conn: conn, server: s}
		if s.verbose() {
			s.Logger.Debug(color.CyanString("request"), "msg", r.String())
		}
		s.dispatch(r)
	}
}

// dispatch runs the responder chain, most recently registered first.
func (s *Server) dispatch(r *Request) {
	s.respMtx.Lock()
	responders := make([]Responder, len(s.responders))
	copy(responders, s.responders)
	s.respMtx.Unlock()

	for i := len(responders) - 1; i >= 0; i-- {
		if responders[i](r) {
			return
		}
	}

	s.q.Push(r)
}

// serverConn serializes writes so concurrent replies on one connection
// cannot interleave.
type serverConn struct {
	net.Conn
	writeMtx sync.Mutex
}
