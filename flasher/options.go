package flasher

import "time"

// Defaults.
const (
	DefaultFileName          = "image.uf2"
	DefaultFlushUnit         = 8 * 1024
	DefaultFlushDelay        = 15 * time.Millisecond
	DefaultBootselGrace      = 100 * time.Millisecond
	DefaultRestoreGrace      = 100 * time.Millisecond
	DefaultStreamPieceLength = 512
)

type config struct {
	fileName     string
	flushUnit    int
	flushDelay   time.Duration
	bootselGrace time.Duration
	restoreGrace time.Duration
	pollInterval time.Duration
	sleep        func(time.Duration)
	now          func() time.Time
}

func defaultConfig() config {
	return config{
		fileName:     DefaultFileName,
		flushUnit:    DefaultFlushUnit,
		flushDelay:   DefaultFlushDelay,
		bootselGrace: DefaultBootselGrace,
		restoreGrace: DefaultRestoreGrace,
		sleep:        time.Sleep,
		now:          time.Now,
	}
}

// Option configures a Controller.
type Option func(*config)

// WithFileName sets the name of the image file created on each drive.
func WithFileName(name string) Option {
	return func(c *config) {
		if name != "" {
			c.fileName = name
		}
	}
}

// WithFlushUnit sets the write alignment in bytes.
func WithFlushUnit(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.flushUnit = n
		}
	}
}

// WithFlushDelay sets the pause after each write that ends on a flush unit
// boundary. It covers the worst-case sector program time of the target.
func WithFlushDelay(d time.Duration) Option {
	return func(c *config) {
		c.flushDelay = d
	}
}

// WithBootselGrace sets how long after the bootsel line coding the data
// lines are forced off.
func WithBootselGrace(d time.Duration) Option {
	return func(c *config) {
		c.bootselGrace = d
	}
}

// WithRestoreGrace sets how long after a CDC unmount the data lines are
// restored.
func WithRestoreGrace(d time.Duration) Option {
	return func(c *config) {
		c.restoreGrace = d
	}
}

// WithPollInterval makes an idle device loop sleep between iterations
// instead of only yielding.
func WithPollInterval(d time.Duration) Option {
	return func(c *config) {
		c.pollInterval = d
	}
}

// WithSleep replaces time.Sleep for the flush delay.
func WithSleep(fn func(time.Duration)) Option {
	return func(c *config) {
		if fn != nil {
			c.sleep = fn
		}
	}
}
