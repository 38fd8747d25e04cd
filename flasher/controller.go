package flasher

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ardnew/uf2flasher/diskio"
	"github.com/ardnew/uf2flasher/hal"
	"github.com/ardnew/uf2flasher/mux"
	"github.com/ardnew/uf2flasher/pipe"
	"github.com/ardnew/uf2flasher/pkg"
)

// Controller drives the multiplexer and the lifecycle of the active port.
type Controller struct {
	host   hal.USBHost
	fs     hal.Filesystem
	mux    *mux.Mux
	usb    *pipe.Queue[USBTask]
	web    *pipe.Queue[WebTask]
	stream *pipe.Stream
	cfg    config

	// Guards status and active, which the network loop reads.
	mutex  sync.RWMutex
	status [mux.NumPorts]Status
	active mux.Port

	// Device loop only.
	file      hal.File
	fileDrive uint8
	written   int64
	drive     uint8
	hasDrive  bool
	piece     []byte
	outWeb    []WebTask
	outUSB    []USBTask
	running   atomic.Bool
}

// New creates a controller and installs it as the handler of host.
func New(host hal.USBHost, fs hal.Filesystem, m *mux.Mux, usb *pipe.Queue[USBTask],
	web *pipe.Queue[WebTask], stream *pipe.Stream, opts ...Option,
) *Controller {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &Controller{
		host:   host,
		fs:     fs,
		mux:    m,
		usb:    usb,
		web:    web,
		stream: stream,
		cfg:    cfg,
		active: m.Active(),
		piece:  make([]byte, DefaultStreamPieceLength),
	}
	host.SetHandler(c)
	return c
}

// Status returns a copy of the status of port.
func (c *Controller) Status(port mux.Port) Status {
	if !port.Valid() {
		return Status{}
	}
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.status[port]
}

// Snapshot returns a copy of every port status.
func (c *Controller) Snapshot() Snapshot {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return Snapshot{Active: c.active, Ports: c.status}
}

// ObserveIO records disk activity on the active port. Install it as the
// observer of the disk adapter.
func (c *Controller) ObserveIO(drive uint8, s diskio.State) {
	port := c.mux.Active()
	if port == mux.None {
		return
	}
	c.update(port, func(st *Status) { st.IO = s })
}

// Run is the device loop. Each iteration services the host stack, flushes
// replies that could not be queued earlier, and executes one usb task. It
// returns ctx.Err() after switching every line off.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return pkg.ErrAlreadyRunning
	}
	defer c.running.Store(false)

	pkg.LogInfo(pkg.ComponentFlasher, "device loop started")
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		default:
		}

		if c.Step() {
			continue
		}
		if c.cfg.pollInterval > 0 {
			time.Sleep(c.cfg.pollInterval)
		} else {
			runtime.Gosched()
		}
	}
}

// Step runs one iteration of the device loop and reports whether a task was
// executed.
func (c *Controller) Step() bool {
	c.host.Service()
	c.flush()
	return c.usb.ExecuteOne(c.execute)
}

func (c *Controller) shutdown() {
	c.dropFile()
	if err := c.mux.Off(); err != nil {
		pkg.LogError(pkg.ComponentFlasher, "switch off", "error", err)
	}
	c.setActive(mux.None)
	pkg.LogInfo(pkg.ComponentFlasher, "device loop stopped")
}

func (c *Controller) execute(t USBTask) {
	switch t := t.(type) {
	case SelectPort:
		c.selectPort(t.Port)
	case ClearAllStatus:
		c.clearAll()
	case OpenFile:
		c.openFile(t)
	case WriteChunk:
		c.writeChunk(t)
	case StreamChunk:
		c.streamChunk(t)
	case CloseFile:
		c.closeFile(t)
	case enterBootsel:
		c.enterBootsel(t)
	case forceDetach:
		c.forceDetach(t)
	case restoreData:
		c.restoreData(t)
	default:
		pkg.LogWarn(pkg.ComponentFlasher, "unknown task", "task", fmt.Sprintf("%T", t))
	}
}

// reply queues a notification for the network loop. A full web queue never
// loses a notification: it is kept and retried from the device loop.
func (c *Controller) reply(t WebTask) {
	if len(c.outWeb) == 0 && c.web.TryEnqueue(t) {
		return
	}
	c.outWeb = append(c.outWeb, t)
}

// later queues a task for a later iteration of the device loop.
func (c *Controller) later(t USBTask) {
	if len(c.outUSB) == 0 && c.usb.TryEnqueue(t) {
		return
	}
	c.outUSB = append(c.outUSB, t)
}

func (c *Controller) flush() {
	for len(c.outWeb) > 0 && c.web.TryEnqueue(c.outWeb[0]) {
		c.outWeb[0] = nil
		c.outWeb = c.outWeb[1:]
	}
	for len(c.outUSB) > 0 && c.usb.TryEnqueue(c.outUSB[0]) {
		c.outUSB[0] = nil
		c.outUSB = c.outUSB[1:]
	}
}

func (c *Controller) update(port mux.Port, fn func(*Status)) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	fn(&c.status[port])
}

// setStage changes the stage of port. Entering an error stage or completing
// a flash resets the disk activity.
func (c *Controller) setStage(port mux.Port, stage Stage) {
	var prev Stage
	c.update(port, func(st *Status) {
		prev = st.Stage
		st.Stage = stage
		if stage == FlashComplete || stage.IsError() {
			st.IO = diskio.Idle
		}
	})
	if prev != stage {
		if stage.IsError() {
			pkg.LogWarn(pkg.ComponentFlasher, "stage", "port", port, "from", prev, "to", stage)
		} else {
			pkg.LogInfo(pkg.ComponentFlasher, "stage", "port", port, "from", prev, "to", stage)
		}
	}
}

func (c *Controller) stage(port mux.Port) Stage {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.status[port].Stage
}

func (c *Controller) setActive(port mux.Port) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.active = port
}

func (c *Controller) selectPort(port mux.Port) {
	c.dropFile()
	c.hasDrive = false
	err := c.mux.Select(port, tracker{c})
	c.setActive(c.mux.Active())
	if err != nil {
		pkg.LogError(pkg.ComponentFlasher, "select", "port", port, "error", err)
	}
}

func (c *Controller) clearAll() {
	c.mutex.Lock()
	for i := range c.status {
		c.status[i].Stage = Unknown
		c.status[i].IO = diskio.Idle
	}
	c.mutex.Unlock()
	pkg.LogInfo(pkg.ComponentFlasher, "cleared all status")
}

// dropFile closes an open file without reporting. It is used when the file
// is abandoned by a port switch or shutdown.
func (c *Controller) dropFile() {
	if c.file == nil {
		return
	}
	if err := c.file.Close(); err != nil {
		pkg.LogDebug(pkg.ComponentFlasher, "abandon file", "drive", c.fileDrive, "error", err)
	}
	c.file = nil
}

// tracker exposes the controller to the multiplexer during a port switch.
type tracker struct {
	c *Controller
}

func (t tracker) Service() {
	t.c.host.Service()
}

func (t tracker) Mounted(p mux.Port) bool {
	if !p.Valid() {
		return false
	}
	t.c.mutex.RLock()
	defer t.c.mutex.RUnlock()
	return t.c.status[p].Mounted&MountedAny != 0
}

func (t tracker) Reset(p mux.Port) {
	t.c.mutex.Lock()
	t.c.status[p].Stage = Selected
	t.c.status[p].IO = diskio.Idle
	t.c.active = p
	t.c.mutex.Unlock()
	pkg.LogInfo(pkg.ComponentFlasher, "stage", "port", p, "to", Selected)
}
