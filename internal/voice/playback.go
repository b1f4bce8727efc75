package voice

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbellotti/aura/internal/audio"
	"github.com/mbellotti/aura/internal/events"
)

// PlaybackSink is the output-device abstraction. Implementations wrap
// speakers, a browser bridge, or a capture buffer in tests.
type PlaybackSink interface {
	// Start acquires the device at the requested format. A refusal
	// surfaces to callers as a PlaybackError.
	Start(sampleRate, channels int) error
	// Write renders PCM16LE samples. Blocking until rendered is fine.
	Write(pcm []byte) (int, error)
	Stop() error
}

type playItem struct {
	gen     uint64
	payload []byte
}

// playback renders decoded response audio strictly in arrival order.
// Cancel bumps the generation counter so queued and in-flight items
// from before the cancel are discarded without tearing the sink down.
type playback struct {
	sink       PlaybackSink
	sampleRate int
	opusDec    *audio.OpusDecoder
	bus        *events.Bus
	onSpeaking func(bool)
	logf       func(format string, args ...any)

	gen   atomic.Uint64
	items chan playItem

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func newPlayback(sink PlaybackSink, sampleRate int, outputFormat string, bus *events.Bus, onSpeaking func(bool), logf func(string, ...any)) (*playback, error) {
	p := &playback{
		sink:       sink,
		sampleRate: sampleRate,
		bus:        bus,
		onSpeaking: onSpeaking,
		logf:       logf,
		items:      make(chan playItem, 64),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	if outputFormat == audio.FormatOpus {
		dec, err := audio.NewOpusDecoder(sampleRate)
		if err != nil {
			return nil, &PlaybackError{Err: err}
		}
		p.opusDec = dec
	}
	return p, nil
}

// Enqueue accepts one response audio payload. A full queue drops the
// payload rather than blocking the decode path.
func (p *playback) Enqueue(payload []byte) {
	if len(payload) == 0 {
		return
	}
	item := playItem{gen: p.gen.Load(), payload: payload}
	select {
	case p.items <- item:
	default:
		p.logf("voice: playback queue full, dropping %d bytes", len(payload))
	}
}

// Cancel discards queued audio and interrupts the chunk currently being
// rendered. The worker keeps running for later audio.
func (p *playback) Cancel() {
	p.gen.Add(1)
}

func (p *playback) run() {
	defer close(p.done)
	speaking := false

	setSpeaking := func(on bool) {
		if speaking == on {
			return
		}
		speaking = on
		p.onSpeaking(on)
		kind := events.KindSpeechStopped
		if on {
			kind = events.KindSpeechStarted
		}
		p.bus.Publish(events.Event{Kind: kind})
	}

	for {
		select {
		case <-p.stop:
			setSpeaking(false)
			return
		case item := <-p.items:
			if item.gen != p.gen.Load() {
				continue
			}
			p.render(item, setSpeaking)
			// One speaking span per payload: its stop fires before the
			// next payload's start.
			setSpeaking(false)
		}
	}
}

func (p *playback) render(item playItem, setSpeaking func(bool)) {
	pcm, err := p.decode(item.payload)
	if err != nil {
		p.logf("voice: %v", err)
		p.bus.Publish(events.Event{Kind: events.KindError, Code: CodeDecodeError, Detail: err.Error()})
		return
	}

	setSpeaking(true)
	if err := p.sink.Start(p.sampleRate, 1); err != nil {
		perr := &PlaybackError{Err: err}
		p.logf("voice: %v", perr)
		p.bus.Publish(events.Event{Kind: events.KindError, Code: CodePlaybackError, Detail: perr.Error()})
		return
	}

	complete := true
	for _, slice := range audio.ChunkPCM16(pcm, p.sampleRate, 20*time.Millisecond) {
		if item.gen != p.gen.Load() {
			complete = false
			break
		}
		if _, err := p.sink.Write(slice); err != nil {
			perr := &PlaybackError{Err: err}
			p.logf("voice: %v", perr)
			p.bus.Publish(events.Event{Kind: events.KindError, Code: CodePlaybackError, Detail: perr.Error()})
			complete = false
			break
		}
	}
	if complete {
		p.bus.Publish(events.Event{Kind: events.KindAudioPlayed})
	}
}

func (p *playback) decode(payload []byte) ([]byte, error) {
	if p.opusDec == nil {
		if len(payload)%2 != 0 {
			return nil, &DecodeError{Err: errors.New("odd pcm16 payload length")}
		}
		return payload, nil
	}
	pcm, err := p.opusDec.Decode(payload)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return pcm, nil
}

func (p *playback) halt() {
	p.stopOnce.Do(func() {
		p.Cancel()
		close(p.stop)
	})
	<-p.done
	_ = p.sink.Stop()
}
