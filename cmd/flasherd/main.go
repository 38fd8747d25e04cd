// Command flasherd is the flashing appliance daemon. It switches a 64-port
// USB multiplexer between target boards, reboots each into its
// mass-storage bootloader when asked, and writes the firmware image
// received over TCP or HTTP to the drive it exposes.
//
//	flasherd [-c flasherd.yaml] [-v] [-dump-config]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ardnew/uf2flasher/blockfs"
	"github.com/ardnew/uf2flasher/config"
	"github.com/ardnew/uf2flasher/diskio"
	"github.com/ardnew/uf2flasher/flasher"
	"github.com/ardnew/uf2flasher/mux"
	"github.com/ardnew/uf2flasher/netsrv"
	"github.com/ardnew/uf2flasher/pipe"
	"github.com/ardnew/uf2flasher/pkg"
	"github.com/ardnew/uf2flasher/pkg/prof"
)

// Component identifier for daemon logging.
const componentDaemon pkg.Component = "flasherd"

// Exit codes. A supervisor restarts the daemon on the reboot codes.
const (
	exitOK            = 0
	exitError         = 1
	exitUsage         = 2
	exitReboot        = 3
	exitRebootBootsel = 4
)

const (
	httpOff         = "off"
	shutdownTimeout = 5 * time.Second
)

var (
	configPath = flag.String("c", "", "configuration file (defaults apply when empty)")
	dumpConfig = flag.Bool("dump-config", false, "print the effective configuration and exit")
	verbose    = flag.Bool("v", false, "enable debug logging, overriding log.level")
	cpuProfile = flag.String("cpuprofile", "", "record a CPU profile into this file (profile builds only)")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "flasherd:", err)
		os.Exit(exitUsage)
	}
	if *dumpConfig {
		data, err := config.Marshal(cfg)
		if err != nil {
			fmt.Fprintln(os.Stderr, "flasherd:", err)
			os.Exit(exitError)
		}
		os.Stdout.Write(data)
		return
	}

	ring := setupLogging(cfg, *verbose, os.Stderr)

	if *cpuProfile != "" {
		if !prof.Enabled {
			pkg.LogWarn(componentDaemon, "built without the profile tag, -cpuprofile ignored")
		} else if err := prof.StartCPU(*cpuProfile); err != nil {
			pkg.LogError(componentDaemon, "start cpu profile", "error", err)
			os.Exit(exitError)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, cfg, ring)
	stop()
	prof.StopCPU()
	os.Exit(code)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// setupLogging configures the default logger and tees its output into a
// ring drained by REQUEST_STDOUT and GET /stdout.
func setupLogging(cfg *config.Config, debug bool, w io.Writer) *pkg.Ring {
	level, err := pkg.ParseLogLevel(cfg.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	if debug {
		level = slog.LevelDebug
	}
	pkg.SetLogLevel(level)

	format := pkg.LogFormatText
	if cfg.Log.Format == "json" {
		format = pkg.LogFormatJSON
	}
	ring := pkg.NewRing(cfg.Capacity.LogRing)
	pkg.SetLogFormat(format)
	pkg.SetLogOutput(io.MultiWriter(w, ring))
	return ring
}

// httpHandler is the HTTP interface, with the pprof endpoints in profile
// builds.
func httpHandler(srv *netsrv.Server) http.Handler {
	h := srv.Handler()
	p := prof.Handler()
	if p == nil {
		return h
	}
	m := http.NewServeMux()
	m.Handle("/debug/pprof/", p)
	m.Handle("/", h)
	return m
}

func logClose(err error) {
	pkg.LogWarn(componentDaemon, "close backend", "error", err)
}

// run builds the appliance and runs it until ctx is done, a loop fails or
// a reboot is requested. It returns the process exit code.
func run(ctx context.Context, cfg *config.Config, ring *pkg.Ring) int {
	b, err := openBackend(cfg)
	if err != nil {
		pkg.LogError(componentDaemon, "open backend", "backend", cfg.Backend, "error", err)
		return exitError
	}
	defer b.close()

	m, err := mux.New(b.pins,
		mux.WithSettleDelay(cfg.Timing.Settle()),
		mux.WithUnmountTimeout(cfg.Timing.UnmountTimeout()))
	if err != nil {
		pkg.LogError(componentDaemon, "open multiplexer", "error", err)
		return exitError
	}

	usb := pipe.NewQueue[flasher.USBTask](cfg.Capacity.Tasks)
	web := pipe.NewQueue[flasher.WebTask](cfg.Capacity.Tasks)
	stream := pipe.NewStream(cfg.Capacity.Stream)

	disk := diskio.New(b.host,
		diskio.WithTimeout(cfg.Timing.DiskTimeout()),
		diskio.WithStrictTimeout(cfg.Timing.StrictTimeout))
	ctrl := flasher.New(b.host, blockfs.New(disk), m, usb, web, stream,
		flasher.WithFileName(cfg.Flash.FileName),
		flasher.WithFlushUnit(cfg.Flash.FlushUnit),
		flasher.WithFlushDelay(cfg.Timing.FlushDelay()),
		flasher.WithBootselGrace(cfg.Timing.BootselGrace()),
		flasher.WithRestoreGrace(cfg.Timing.RestoreGrace()),
		flasher.WithPollInterval(cfg.Timing.PollInterval()))
	disk.SetObserver(ctrl.ObserveIO)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var exit atomic.Int32
	fail := func(code int) { exit.CompareAndSwap(exitOK, int32(code)) }
	reboot := func(bootsel bool) {
		if bootsel {
			fail(exitRebootBootsel)
		} else {
			fail(exitReboot)
		}
		cancel()
	}

	srv := netsrv.New(usb, web, stream, ctrl,
		netsrv.WithStdout(ring),
		netsrv.WithRebooter(reboot),
		netsrv.WithPollInterval(cfg.Timing.PollInterval()))

	ln, err := net.Listen("tcp", cfg.Network.TCP)
	if err != nil {
		pkg.LogError(componentDaemon, "listen", "addr", cfg.Network.TCP, "error", err)
		return exitError
	}

	var wg sync.WaitGroup
	spawn := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer cancel()
			err := fn()
			if err == nil || ctx.Err() != nil || errors.Is(err, http.ErrServerClosed) {
				return
			}
			pkg.LogError(componentDaemon, name+" stopped", "error", err)
			fail(exitError)
		}()
	}

	spawn("device loop", func() error { return ctrl.Run(ctx) })
	spawn("network loop", func() error { return srv.Run(ctx, ln) })
	if cfg.Network.HTTP != httpOff {
		hs := &http.Server{
			Addr:              cfg.Network.HTTP,
			Handler:           httpHandler(srv),
			ReadHeaderTimeout: 10 * time.Second,
		}
		stopHTTP := context.AfterFunc(ctx, func() {
			sctx, done := context.WithTimeout(context.Background(), shutdownTimeout)
			defer done()
			if err := hs.Shutdown(sctx); err != nil {
				pkg.LogWarn(componentDaemon, "http shutdown", "error", err)
			}
		})
		defer stopHTTP()
		spawn("http server", hs.ListenAndServe)
		pkg.LogInfo(componentDaemon, "http interface", "addr", cfg.Network.HTTP)
	}

	pkg.LogInfo(componentDaemon, "started", "backend", cfg.Backend, "tcp", ln.Addr())
	wg.Wait()

	code := int(exit.Load())
	pkg.LogInfo(componentDaemon, "stopped", "exit", code)
	return code
}
