package netsrv

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/ardnew/uf2flasher/flasher"
	"github.com/ardnew/uf2flasher/mux"
	"github.com/ardnew/uf2flasher/pkg"
)

// client is the connected TCP peer.
type client struct {
	conn    net.Conn
	session uint32
	in      chan []byte
	quit    chan struct{}

	buf     []byte
	stalled bool
	drive   uint8
	total   int64
}

func (s *Server) attach(conn net.Conn) {
	if s.client != nil {
		pkg.LogWarn(pkg.ComponentNet, "reject client", "remote", conn.RemoteAddr(), "reason", "busy")
		conn.Close()
		return
	}
	c := &client{
		conn:    conn,
		session: s.session.Add(1),
		in:      make(chan []byte, 1),
		quit:    make(chan struct{}),
	}
	s.client = c
	go c.read()
	pkg.LogInfo(pkg.ComponentNet, "client connected", "remote", conn.RemoteAddr(), "session", c.session)
}

// read forwards received bytes to the network loop. It stops when the
// connection fails or the loop drops the client.
func (c *client) read() {
	defer close(c.in)
	for {
		b := make([]byte, readSize)
		n, err := c.conn.Read(b)
		if n > 0 {
			select {
			case c.in <- b[:n]:
			case <-c.quit:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				pkg.LogDebug(pkg.ComponentNet, "client read", "error", err)
			}
			return
		}
	}
}

func (s *Server) disconnect(reason string) {
	c := s.client
	if c == nil {
		return
	}
	s.client = nil
	close(c.quit)
	c.conn.Close()
	pkg.LogInfo(pkg.ComponentNet, "client disconnected", "session", c.session, "reason", reason)
}

// service pulls received bytes unless the client is waiting for a receive
// buffer, then decodes every complete message.
func (s *Server) service(c *client) bool {
	busy := false
	if !c.stalled {
		select {
		case b, ok := <-c.in:
			if !ok {
				s.disconnect("closed by peer")
				return true
			}
			c.buf = append(c.buf, b...)
			busy = true
		default:
		}
	}

	consumed := 0
	for s.client == c && consumed < len(c.buf) {
		m, n, err := decode(c.buf[consumed:])
		if err != nil {
			pkg.LogWarn(pkg.ComponentNet, "decode", "session", c.session, "error", err)
			s.send(c, MsgDecodeFailure)
			if n == 0 {
				s.disconnect("framing lost")
				return true
			}
			consumed += n
			continue
		}
		if n == 0 || !s.process(c, m) {
			break
		}
		consumed += n
	}
	if consumed > 0 {
		busy = true
		if s.client == c {
			c.buf = append(c.buf[:0], c.buf[consumed:]...)
		}
	}
	return busy
}

// process executes one message and reports whether it was consumed. A part
// is left in the buffer while no receive buffer is free.
func (s *Server) process(c *client, m message) bool {
	switch m.id {
	case MsgRequestStatus:
		s.sendStatus(c)

	case MsgRequestStdout:
		var text [MaxStdoutLength]byte
		if n := s.readStdout(text[:]); n > 0 {
			s.send(c, appendStdout(nil, text[:n])...)
		}

	case MsgSelectDevice:
		if m.port < 0 {
			s.submit(flasher.ClearAllStatus{})
		} else {
			s.submit(flasher.SelectPort{Port: mux.Port(m.port)})
		}
		s.sendStatus(c)

	case MsgStartFlash:
		drive, ok := s.Drive()
		if !ok {
			pkg.LogWarn(pkg.ComponentNet, "start flash without drive", "session", c.session)
			s.send(c, MsgFlashError)
			break
		}
		c.drive = drive
		c.total = 0
		s.submit(flasher.OpenFile{Drive: drive, Session: c.session})

	case MsgWriteFlashPart:
		chunk := s.borrow()
		if chunk == nil {
			c.stalled = true
			return false
		}
		chunk.Len = copy(chunk.Buf, m.part)
		chunk.Session = c.session
		c.total += int64(chunk.Len)
		s.send(c, MsgFlashPartReceived)
		s.submit(flasher.WriteChunk{Drive: c.drive, Chunk: chunk})

	case MsgEndFlash:
		pkg.LogInfo(pkg.ComponentNet, "end flash", "session", c.session, "bytes", c.total)
		s.submit(flasher.CloseFile{Drive: c.drive, Session: c.session})

	case MsgRebootForFlash, MsgRebootSoft:
		s.disconnect("reboot")
		s.reboot(m.id == MsgRebootForFlash)
	}
	return true
}

func (s *Server) sendStatus(c *client) {
	s.send(c, appendStatus(nil, s.statusCodes())...)
}

// send writes p to the client, dropping the client on failure.
func (s *Server) send(c *client, p ...byte) {
	if s.client != c {
		return
	}
	if s.cfg.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(s.cfg.writeTimeout))
	}
	if _, err := c.conn.Write(p); err != nil {
		pkg.LogWarn(pkg.ComponentNet, "client write", "session", c.session, "error", err)
		s.disconnect("write failed")
	}
}
