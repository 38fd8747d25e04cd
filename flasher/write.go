package flasher

import (
	"github.com/ardnew/uf2flasher/mux"
	"github.com/ardnew/uf2flasher/pkg"
)

func (c *Controller) openFile(t OpenFile) {
	port := c.mux.Active()
	if port == mux.None {
		pkg.LogWarn(pkg.ComponentFlasher, "open without active port", "drive", t.Drive)
		c.reply(ReportWriteError{Op: pkg.OpOpen, Port: port, Drive: t.Drive, Session: t.Session})
		return
	}
	if stage := c.stage(port); stage.IsError() {
		pkg.LogWarn(pkg.ComponentFlasher, "open refused", "port", port, "stage", stage)
		c.reply(ReportWriteError{Op: pkg.OpOpen, Port: port, Drive: t.Drive, Session: t.Session, Stage: stage})
		return
	}
	c.dropFile()

	f, err := c.fs.Open(t.Drive, c.cfg.fileName)
	if err != nil {
		pkg.LogError(pkg.ComponentFlasher, "open",
			"port", port, "drive", t.Drive, "file", c.cfg.fileName, "error", err)
		c.setStage(port, ErrorOpen)
		c.reply(ReportWriteError{Op: pkg.OpOpen, Port: port, Drive: t.Drive, Session: t.Session, Stage: ErrorOpen})
		return
	}

	c.file = f
	c.fileDrive = t.Drive
	c.written = 0
	c.setStage(port, FileOpen)
	c.reply(ReportOpened{Drive: t.Drive, Session: t.Session})
}

func (c *Controller) writeChunk(t WriteChunk) {
	defer c.reply(ReleaseChunk{Chunk: t.Chunk})
	if t.Chunk == nil {
		return
	}
	c.write(t.Drive, t.Chunk.Session, t.Chunk.Bytes())
}

// streamChunk always drains Length bytes from the stream, even when the
// write is refused, so the stream stays in step with the producer.
func (c *Controller) streamChunk(t StreamChunk) {
	if t.Length <= 0 {
		return
	}
	if c.stream == nil {
		pkg.LogError(pkg.ComponentFlasher, "stream chunk without stream", "len", t.Length)
		return
	}
	if cap(c.piece) < t.Length {
		c.piece = make([]byte, t.Length)
	}
	buf := c.piece[:t.Length]
	c.stream.Dequeue(buf)
	c.write(t.Drive, t.Session, buf)
}

// write appends data to the open file unless the active port is quarantined
// or no file is open on drive, in which case data is dropped.
func (c *Controller) write(drive uint8, session uint32, data []byte) {
	port := c.mux.Active()
	if port == mux.None {
		pkg.LogDebug(pkg.ComponentFlasher, "drop chunk", "reason", "no port", "len", len(data))
		return
	}
	stage := c.stage(port)
	if stage.IsError() || c.file == nil || c.fileDrive != drive {
		pkg.LogDebug(pkg.ComponentFlasher, "drop chunk", "port", port, "stage", stage, "len", len(data))
		return
	}

	if stage != Writing {
		c.setStage(port, Writing)
	}
	if err := c.writeAligned(data); err != nil {
		pkg.LogError(pkg.ComponentFlasher, "write",
			"port", port, "drive", drive, "written", c.written, "error", err)
		c.setStage(port, ErrorWrite)
		c.reply(ReportWriteError{Op: pkg.OpWrite, Port: port, Drive: drive, Session: session, Stage: ErrorWrite})
	}
}

// writeAligned writes data so that every flush unit boundary ends a write
// call. The part of data up to each boundary is written on its own and
// followed by the flush delay, letting the target program its sector before
// more data arrives. A tail short of the next boundary is written as is.
func (c *Controller) writeAligned(data []byte) error {
	unit := int64(c.cfg.flushUnit)
	for len(data) > 0 {
		// A nested Service may have removed the drive.
		if c.file == nil {
			return pkg.ErrNoDevice
		}
		head := int(unit - c.written%unit)
		if head > len(data) {
			n, err := c.file.Write(data)
			c.written += int64(n)
			return err
		}

		n, err := c.file.Write(data[:head])
		c.written += int64(n)
		if err != nil {
			return err
		}
		if c.cfg.flushDelay > 0 {
			c.cfg.sleep(c.cfg.flushDelay)
		}
		data = data[head:]
	}
	return nil
}

func (c *Controller) closeFile(t CloseFile) {
	port := c.mux.Active()
	if port == mux.None {
		c.dropFile()
		c.reply(ReportWriteError{Op: pkg.OpClose, Port: port, Drive: t.Drive, Session: t.Session})
		return
	}

	stage := c.stage(port)
	if c.file == nil {
		if stage == FlashComplete {
			c.reply(ReportClosed{Drive: t.Drive, Session: t.Session})
			return
		}
		c.reply(ReportWriteError{Op: pkg.OpClose, Port: port, Drive: t.Drive, Session: t.Session, Stage: stage})
		return
	}
	if stage.IsError() {
		c.dropFile()
		c.reply(ReportWriteError{Op: pkg.OpClose, Port: port, Drive: t.Drive, Session: t.Session, Stage: stage})
		return
	}

	f := c.file
	c.file = nil
	err := f.Sync()
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		pkg.LogError(pkg.ComponentFlasher, "close", "port", port, "drive", t.Drive, "error", err)
		c.setStage(port, ErrorClose)
		c.reply(ReportWriteError{Op: pkg.OpClose, Port: port, Drive: t.Drive, Session: t.Session, Stage: ErrorClose})
		return
	}

	pkg.LogInfo(pkg.ComponentFlasher, "flash complete", "port", port, "drive", t.Drive, "bytes", c.written)
	c.setStage(port, FlashComplete)
	c.reply(ReportClosed{Drive: t.Drive, Session: t.Session})
}
