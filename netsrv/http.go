package netsrv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/ardnew/uf2flasher/flasher"
	"github.com/ardnew/uf2flasher/mux"
	"github.com/ardnew/uf2flasher/pkg"
)

// DefaultHTTPAddr is the listen address of the HTTP interface.
const DefaultHTTPAddr = ":8080"

const uploadEvents = 4

// statusReply is the body of /status.json and of every action response.
type statusReply struct {
	Status []int  `json:"status"`
	Active int    `json:"active"`
	Bytes  int64  `json:"bytes,omitempty"`
	Error  string `json:"error,omitempty"`
}

// upload is the running POST /flash.
type upload struct {
	session uint32
	events  chan flasher.WebTask
	failed  chan struct{}
}

// deliver is called from the network loop.
func (u *upload) deliver(t flasher.WebTask) {
	if _, ok := t.(flasher.ReportWriteError); ok {
		select {
		case <-u.failed:
		default:
			close(u.failed)
		}
	}
	select {
	case u.events <- t:
	default:
		pkg.LogWarn(pkg.ComponentNet, "upload reply dropped", "session", u.session, "task", fmt.Sprintf("%T", t))
	}
}

func (u *upload) aborted() bool {
	select {
	case <-u.failed:
		return true
	default:
		return false
	}
}

// closed waits for the reply to the CloseFile of the upload.
func (u *upload) closed(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-u.events:
			switch t := t.(type) {
			case flasher.ReportClosed:
				return nil
			case flasher.ReportWriteError:
				if t.Op == pkg.OpClose {
					return fmt.Errorf("%w: port %s %s", pkg.ErrTransfer, t.Port, t.Stage)
				}
			}
		}
	}
}

// Handler returns the HTTP interface:
//
//	GET  /status.json              status of every port
//	GET  /select?active_device=N   select port N, or clear all status if N < 0
//	GET  /stdout                   drain the buffered log output
//	GET  /reboot?bootsel=B         restart, into update mode if B is non-zero
//	POST /flash                    write the request body as the image file
func (s *Server) Handler() http.Handler {
	m := http.NewServeMux()
	m.HandleFunc("GET /status.json", s.serveStatus)
	m.HandleFunc("GET /select", s.serveSelect)
	m.HandleFunc("GET /stdout", s.serveStdout)
	m.HandleFunc("GET /reboot", s.serveReboot)
	m.HandleFunc("POST /flash", s.serveFlash)
	return m
}

func (s *Server) writeStatus(w http.ResponseWriter, code int, bytes int64, err error) {
	reply := statusReply{Active: int(mux.None), Bytes: bytes}
	if s.state != nil {
		snap := s.state.Snapshot()
		codes := snap.Codes()
		reply.Active = int(snap.Active)
		reply.Status = make([]int, len(codes))
		for i, c := range codes {
			reply.Status[i] = int(c)
		}
	}
	if err != nil {
		reply.Error = err.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(&reply); err != nil {
		pkg.LogDebug(pkg.ComponentNet, "write status", "error", err)
	}
}

func (s *Server) serveStatus(w http.ResponseWriter, r *http.Request) {
	s.writeStatus(w, http.StatusOK, 0, nil)
}

func (s *Server) serveSelect(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.URL.Query().Get("active_device"))
	if err != nil || n >= mux.NumPorts {
		s.writeStatus(w, http.StatusBadRequest, 0,
			fmt.Errorf("%w: active_device %q", pkg.ErrInvalidPort, r.URL.Query().Get("active_device")))
		return
	}

	var t flasher.USBTask = flasher.SelectPort{Port: mux.Port(n)}
	if n < 0 {
		t = flasher.ClearAllStatus{}
	}
	if err := s.enqueue(r.Context(), t); err != nil {
		s.writeStatus(w, http.StatusServiceUnavailable, 0, err)
		return
	}
	s.writeStatus(w, http.StatusOK, 0, nil)
}

func (s *Server) serveStdout(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	var buf [MaxStdoutLength]byte
	for {
		n := s.readStdout(buf[:])
		if n == 0 {
			return
		}
		if _, err := w.Write(buf[:n]); err != nil {
			return
		}
	}
}

func (s *Server) serveReboot(w http.ResponseWriter, r *http.Request) {
	if s.cfg.reboot == nil {
		s.writeStatus(w, http.StatusNotImplemented, 0, pkg.ErrNotSupported)
		return
	}
	n, _ := strconv.Atoi(r.URL.Query().Get("bootsel"))
	s.writeStatus(w, http.StatusAccepted, 0, nil)
	s.reboot(n != 0)
}

// serveFlash streams the request body to the drive of the last flash
// request. Only one upload runs at a time.
func (s *Server) serveFlash(w http.ResponseWriter, r *http.Request) {
	if s.stream == nil {
		s.writeStatus(w, http.StatusNotImplemented, 0, pkg.ErrNotSupported)
		return
	}
	u := &upload{
		session: s.session.Add(1),
		events:  make(chan flasher.WebTask, uploadEvents),
		failed:  make(chan struct{}),
	}
	if !s.upload.CompareAndSwap(nil, u) {
		s.writeStatus(w, http.StatusConflict, 0, pkg.ErrBusy)
		return
	}
	defer s.upload.Store(nil)

	drive, ok := s.Drive()
	if !ok {
		s.writeStatus(w, http.StatusConflict, 0, pkg.ErrNoDevice)
		return
	}

	ctx := r.Context()
	pkg.LogInfo(pkg.ComponentNet, "upload started", "session", u.session, "drive", drive, "length", r.ContentLength)
	if err := s.enqueue(ctx, flasher.OpenFile{Drive: drive, Session: u.session}); err != nil {
		s.writeStatus(w, http.StatusServiceUnavailable, 0, err)
		return
	}

	total, err := s.streamBody(ctx, r.Body, drive, u)
	if cerr := s.enqueue(context.WithoutCancel(ctx), flasher.CloseFile{Drive: drive, Session: u.session}); cerr != nil {
		s.writeStatus(w, http.StatusServiceUnavailable, total, cerr)
		return
	}
	if cerr := u.closed(ctx); err == nil {
		err = cerr
	}
	if err != nil {
		pkg.LogWarn(pkg.ComponentNet, "upload failed", "session", u.session, "bytes", total, "error", err)
		s.writeStatus(w, http.StatusBadGateway, total, err)
		return
	}
	pkg.LogInfo(pkg.ComponentNet, "upload finished", "session", u.session, "bytes", total)
	s.writeStatus(w, http.StatusOK, total, nil)
}

// streamBody moves body into the byte stream in pieces, each followed by a
// StreamChunk. A piece in the stream always gets its StreamChunk, even when
// ctx ends, so the device loop stays in step with the stream. Pieces are
// kept below the stream capacity so each one is enqueued whole or not at all.
func (s *Server) streamBody(ctx context.Context, body io.Reader, drive uint8, u *upload) (int64, error) {
	var total int64
	buf := make([]byte, min(s.cfg.pieceLength, s.stream.Cap()-1))
	for {
		if u.aborted() {
			return total, fmt.Errorf("%w: aborted by device", pkg.ErrTransfer)
		}
		n, rerr := io.ReadFull(body, buf)
		if n > 0 {
			if err := s.stream.EnqueueContext(ctx, buf[:n]); err != nil {
				return total, err
			}
			t := flasher.StreamChunk{Drive: drive, Length: n, Session: u.session}
			if err := s.enqueue(context.WithoutCancel(ctx), t); err != nil {
				return total, err
			}
			total += int64(n)
		}
		switch {
		case rerr == nil:
		case errors.Is(rerr, io.EOF), errors.Is(rerr, io.ErrUnexpectedEOF):
			return total, nil
		default:
			return total, rerr
		}
	}
}
