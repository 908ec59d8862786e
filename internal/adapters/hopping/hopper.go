// Package hopping implements the cooperative channel-hopping task:
// sets a channel, sleeps the dwell interval, advances, repeats.
package hopping

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// Hopper is a ports.ChannelHopper implementation.
type Hopper struct {
	switcher ChannelSwitcher
	delay    time.Duration
	random   bool

	mu           sync.RWMutex
	channels     []int
	currentIndex int
	current      atomic.Int64

	stopOnce sync.Once
	stopChan chan struct{}
	pinChan  chan pinRequest
	resumeCh chan struct{}

	hops       atomic.Uint64
	errorCount int
}

type pinRequest struct {
	channel  int
	duration time.Duration
}

// New builds a Hopper over the given channel list and dwell interval.
// random shuffles the sequence at the start of every full cycle.
func New(channels []int, delay time.Duration, switcher ChannelSwitcher, random bool) *Hopper {
	chans := make([]int, len(channels))
	copy(chans, channels)
	return &Hopper{
		switcher: switcher,
		delay:    delay,
		random:   random,
		channels: chans,
		stopChan: make(chan struct{}),
		pinChan:  make(chan pinRequest, 1),
		resumeCh: make(chan struct{}, 1),
	}
}

// Start runs the hop loop until ctx is cancelled or Stop is called.
// It blocks, so callers invoke it in its own goroutine.
func (h *Hopper) Start(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[hopper] recovered from panic: %v", r)
		}
	}()

	log.Printf("[hopper] starting, dwell=%v channels=%v", h.delay, h.Channels())

	ticker := time.NewTicker(h.delay)
	defer ticker.Stop()

	h.hop(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopChan:
			log.Printf("[hopper] stopped")
			return
		case req := <-h.pinChan:
			h.pinned(ctx, ticker, req)
		case <-ticker.C:
			h.hop(ctx)
		}
	}
}

// pinned handles one pin request: switches to the fixed channel,
// pauses the round-robin ticker, and waits for duration expiry or an
// explicit Resume call. On return the hopper advances to the entry
// *after* the one it was on before the pin, never re-visiting the
// pre-pin channel — this avoids resonating on a single channel.
func (h *Hopper) pinned(ctx context.Context, ticker *time.Ticker, req pinRequest) {
	ticker.Stop()
	defer ticker.Reset(h.delay)

	log.Printf("[hopper] pinned to channel %d for %v", req.channel, req.duration)
	if err := h.switcher.SetChannel(ctx, req.channel); err != nil {
		log.Printf("[hopper] failed to pin channel %d: %v", req.channel, err)
	} else {
		h.current.Store(int64(req.channel))
	}

	var timer <-chan time.Time
	if req.duration > 0 {
		t := time.NewTimer(req.duration)
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-timer:
	case <-h.resumeCh:
	case <-h.stopChan:
		return
	case <-ctx.Done():
		return
	}

	log.Printf("[hopper] resuming hop sequence")
	h.hop(ctx)
}

// Pin pauses round-robin hopping, switches to channel immediately, and
// holds it for duration (0 means indefinitely, until Resume).
func (h *Hopper) Pin(ctx context.Context, channel int, duration time.Duration) error {
	select {
	case h.pinChan <- pinRequest{channel: channel, duration: duration}:
	default:
	}
	return nil
}

// Resume ends an active pin early, equivalent to duration expiry.
func (h *Hopper) Resume() {
	select {
	case h.resumeCh <- struct{}{}:
	default:
	}
}

// Stop ends the hop loop.
func (h *Hopper) Stop() {
	h.stopOnce.Do(func() { close(h.stopChan) })
}

// Current returns the channel most recently set successfully.
func (h *Hopper) Current() int {
	return int(h.current.Load())
}

// Hops returns the number of successful channel switches performed.
func (h *Hopper) Hops() uint64 {
	return h.hops.Load()
}

// Channels returns a copy of the current channel list.
func (h *Hopper) Channels() []int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]int, len(h.channels))
	copy(out, h.channels)
	return out
}

// SetChannels replaces the hop sequence and resets round-robin position.
func (h *Hopper) SetChannels(channels []int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.channels = append([]int(nil), channels...)
	h.currentIndex = 0
}

func (h *Hopper) hop(ctx context.Context) {
	h.mu.Lock()
	if len(h.channels) == 0 {
		h.mu.Unlock()
		return
	}
	if h.currentIndex == 0 && h.random {
		rand.Shuffle(len(h.channels), func(i, j int) {
			h.channels[i], h.channels[j] = h.channels[j], h.channels[i]
		})
	}
	if h.currentIndex >= len(h.channels) {
		h.currentIndex = 0
	}
	ch := h.channels[h.currentIndex]
	h.currentIndex = (h.currentIndex + 1) % len(h.channels)
	h.mu.Unlock()

	if err := h.switcher.SetChannel(ctx, ch); err != nil {
		h.errorCount++
		if h.errorCount == 1 || h.errorCount%10 == 0 {
			log.Printf("[hopper] failed to set channel %d: %v (consecutive errors: %d)", ch, err, h.errorCount)
		}
		return
	}

	if h.errorCount > 0 {
		log.Printf("[hopper] recovered after %d errors", h.errorCount)
		h.errorCount = 0
	}
	h.current.Store(int64(ch))
	h.hops.Add(1)
}
