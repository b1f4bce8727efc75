package voice

import (
	"sync"
	"time"

	"github.com/mbellotti/aura/internal/audio"
)

// CaptureSource is the microphone abstraction. Implementations wrap a
// real input device or, in tests and the probe tool, a canned buffer.
type CaptureSource interface {
	// Start acquires the device at the requested format. A refusal
	// surfaces to callers as a DeviceError.
	Start(sampleRate, channels int) error
	// Read fills p with captured PCM16LE samples and reports how many
	// bytes were written. A short read is not an error.
	Read(p []byte) (int, error)
	Stop() error
}

// capture pulls fixed-interval frames from a source and hands them to
// emit. One capture instance serves one listening span.
type capture struct {
	source   CaptureSource
	interval time.Duration
	frame    int
	emit     func(pcm []byte)
	fail     func(err error)

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func newCapture(source CaptureSource, sampleRate int, interval time.Duration, emit func([]byte), fail func(error)) *capture {
	return &capture{
		source:   source,
		interval: interval,
		frame:    audio.FrameBytes(sampleRate, interval),
		emit:     emit,
		fail:     fail,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (c *capture) run() {
	defer close(c.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	buf := make([]byte, c.frame)
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			n, err := c.source.Read(buf)
			if err != nil {
				// fail may call back into halt; it must not run on
				// this goroutine or halt would wait on itself.
				go c.fail(&DeviceError{Err: err})
				return
			}
			if n == 0 {
				continue
			}
			frame := make([]byte, n)
			copy(frame, buf[:n])
			c.emit(frame)
		}
	}
}

// halt stops the pull loop and releases the device. Safe to call more
// than once and after the loop failed on its own.
func (c *capture) halt() {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
	_ = c.source.Stop()
}
