package netsrv

import (
	"context"
	"fmt"
	"io"
	"net"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/ardnew/uf2flasher/flasher"
	"github.com/ardnew/uf2flasher/pipe"
	"github.com/ardnew/uf2flasher/pkg"
)

// StatusSource provides the per-port status shown to clients.
type StatusSource interface {
	Snapshot() flasher.Snapshot
}

// Rebooter restarts the appliance. bootsel asks for a restart into update
// mode rather than a plain restart.
type Rebooter func(bootsel bool)

const (
	// DefaultWriteTimeout bounds each write to the TCP client.
	DefaultWriteTimeout = 5 * time.Second

	// DefaultRetryInterval is the pause between attempts to queue a task
	// from an HTTP handler while the usb queue is full.
	DefaultRetryInterval = time.Millisecond

	readSize = 4096
	noDrive  = -1
)

type config struct {
	stdout        io.Reader
	reboot        Rebooter
	pollInterval  time.Duration
	writeTimeout  time.Duration
	retryInterval time.Duration
	pieceLength   int
}

// Option configures a Server.
type Option func(*config)

// WithStdout sets the source of UPDATE_STDOUT and GET /stdout, usually the
// log ring.
func WithStdout(r io.Reader) Option {
	return func(c *config) { c.stdout = r }
}

// WithRebooter sets the handler of reboot requests.
func WithRebooter(fn Rebooter) Option {
	return func(c *config) { c.reboot = fn }
}

// WithPollInterval sets the pause of the network loop when idle. Zero yields
// the processor instead.
func WithPollInterval(d time.Duration) Option {
	return func(c *config) { c.pollInterval = d }
}

// WithWriteTimeout bounds each write to the TCP client. Zero disables the
// bound.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *config) { c.writeTimeout = d }
}

// WithPieceLength sets the size of the byte stream pieces of an HTTP upload.
func WithPieceLength(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.pieceLength = n
		}
	}
}

// Server is the network loop.
type Server struct {
	usb    *pipe.Queue[flasher.USBTask]
	web    *pipe.Queue[flasher.WebTask]
	stream *pipe.Stream
	state  StatusSource
	cfg    config

	// Network loop only.
	client  *client
	pending []flasher.USBTask
	chunks  [ChunkBuffers]flasher.Chunk
	free    []*flasher.Chunk

	// Shared with HTTP handlers.
	drive   atomic.Int32
	session atomic.Uint32
	upload  atomic.Pointer[upload]
	running atomic.Bool
	quit    chan struct{}
}

// New creates a network loop exchanging tasks with the device loop through
// usb and web. stream carries HTTP upload bytes and may be nil when the HTTP
// interface is not served.
func New(usb *pipe.Queue[flasher.USBTask], web *pipe.Queue[flasher.WebTask],
	stream *pipe.Stream, state StatusSource, opts ...Option,
) *Server {
	cfg := config{
		writeTimeout:  DefaultWriteTimeout,
		retryInterval: DefaultRetryInterval,
		pieceLength:   flasher.DefaultStreamPieceLength,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Server{
		usb:    usb,
		web:    web,
		stream: stream,
		state:  state,
		cfg:    cfg,
		free:   make([]*flasher.Chunk, 0, ChunkBuffers),
		quit:   make(chan struct{}),
	}
	for i := range s.chunks {
		s.chunks[i].Buf = make([]byte, MaxPartLength)
		s.free = append(s.free, &s.chunks[i])
	}
	s.drive.Store(noDrive)
	return s
}

// Drive returns the drive announced by the last flash request.
func (s *Server) Drive() (uint8, bool) {
	d := s.drive.Load()
	if d == noDrive {
		return 0, false
	}
	return uint8(d), true
}

// Run is the network loop. It accepts TCP clients from ln, one at a time,
// and executes the web tasks sent by the device loop. It returns ctx.Err()
// once ctx is done, or the error that stopped ln. Run may be called once.
func (s *Server) Run(ctx context.Context, ln net.Listener) error {
	if !s.running.CompareAndSwap(false, true) {
		return pkg.ErrAlreadyRunning
	}
	defer s.running.Store(false)
	defer close(s.quit)

	conns := make(chan net.Conn)
	failed := make(chan error, 1)
	go s.accept(ln, conns, failed)
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	pkg.LogInfo(pkg.ComponentNet, "network loop started", "addr", ln.Addr())
	for {
		select {
		case <-ctx.Done():
			s.disconnect("shutdown")
			return ctx.Err()
		case err := <-failed:
			s.disconnect("listener closed")
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("accept: %w", err)
		case conn := <-conns:
			s.attach(conn)
		default:
		}

		if s.Step() {
			continue
		}
		if s.cfg.pollInterval > 0 {
			time.Sleep(s.cfg.pollInterval)
		} else {
			runtime.Gosched()
		}
	}
}

func (s *Server) accept(ln net.Listener, conns chan<- net.Conn, failed chan<- error) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			failed <- err
			return
		}
		select {
		case conns <- conn:
		case <-s.quit:
			conn.Close()
			return
		}
	}
}

// Step runs one iteration of the network loop and reports whether it made
// progress.
func (s *Server) Step() bool {
	busy := s.flush()
	if s.web.ExecuteOne(s.handle) {
		busy = true
	}
	if s.client != nil && s.service(s.client) {
		busy = true
	}
	return busy
}

// submit queues a task for the device loop. A full queue keeps the task for
// a later iteration.
func (s *Server) submit(t flasher.USBTask) {
	if len(s.pending) == 0 && s.usb.TryEnqueue(t) {
		return
	}
	s.pending = append(s.pending, t)
}

func (s *Server) flush() bool {
	sent := false
	for len(s.pending) > 0 && s.usb.TryEnqueue(s.pending[0]) {
		s.pending[0] = nil
		s.pending = s.pending[1:]
		sent = true
	}
	return sent
}

// enqueue queues a task from an HTTP handler, waiting while the queue is
// full.
func (s *Server) enqueue(ctx context.Context, t flasher.USBTask) error {
	for !s.usb.TryEnqueue(t) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.quit:
			return pkg.ErrStopped
		case <-time.After(s.cfg.retryInterval):
		}
	}
	return nil
}

func (s *Server) handle(t flasher.WebTask) {
	switch t := t.(type) {
	case flasher.ReportFlashRequested:
		s.drive.Store(int32(t.Drive))
		pkg.LogInfo(pkg.ComponentNet, "flash requested", "port", t.Port, "drive", t.Drive)
	case flasher.ReportOpened:
		s.route(t.Session, MsgFlashStart, t)
	case flasher.ReportClosed:
		s.route(t.Session, MsgFlashEnd, t)
	case flasher.ReportWriteError:
		pkg.LogWarn(pkg.ComponentNet, "flash error",
			"op", t.Op, "port", t.Port, "drive", t.Drive, "stage", t.Stage)
		s.route(t.Session, MsgFlashError, t)
	case flasher.ReleaseChunk:
		s.release(t.Chunk)
	case flasher.ReportDeviceError:
		pkg.LogWarn(pkg.ComponentNet, "device error", "port", t.Port, "stage", t.Stage)
	default:
		pkg.LogWarn(pkg.ComponentNet, "unknown task", "task", fmt.Sprintf("%T", t))
	}
}

// route hands a file operation reply to the upload or the client that
// started the operation.
func (s *Server) route(session uint32, ack byte, t flasher.WebTask) {
	if u := s.upload.Load(); u != nil && u.session == session {
		u.deliver(t)
		return
	}
	if c := s.client; c != nil && c.session == session {
		s.send(c, ack)
		return
	}
	pkg.LogDebug(pkg.ComponentNet, "stale reply", "session", session, "task", fmt.Sprintf("%T", t))
}

func (s *Server) release(chunk *flasher.Chunk) {
	if chunk == nil {
		return
	}
	session := chunk.Session
	chunk.Len = 0
	chunk.Session = 0
	s.free = append(s.free, chunk)

	if c := s.client; c != nil && c.session == session {
		c.stalled = false
		s.send(c, MsgFlashPartWritten)
	}
}

func (s *Server) borrow() *flasher.Chunk {
	n := len(s.free)
	if n == 0 {
		return nil
	}
	chunk := s.free[n-1]
	s.free[n-1] = nil
	s.free = s.free[:n-1]
	return chunk
}

// Free returns the number of receive buffers not lent to the device loop.
// It must be called from the network loop.
func (s *Server) Free() int {
	return len(s.free)
}

func (s *Server) statusCodes() []byte {
	if s.state == nil {
		return make([]byte, 0)
	}
	snap := s.state.Snapshot()
	codes := snap.Codes()
	return codes[:]
}

// readStdout drains up to len(p) bytes of buffered output.
func (s *Server) readStdout(p []byte) int {
	if s.cfg.stdout == nil {
		return 0
	}
	n, err := s.cfg.stdout.Read(p)
	if err != nil && err != io.EOF {
		pkg.LogDebug(pkg.ComponentNet, "read stdout", "error", err)
	}
	return n
}

func (s *Server) reboot(bootsel bool) {
	pkg.LogWarn(pkg.ComponentNet, "reboot requested", "bootsel", bootsel)
	if s.cfg.reboot != nil {
		s.cfg.reboot(bootsel)
	}
}
