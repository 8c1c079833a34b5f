package audio

import (
	"sync"

	"go.uber.org/zap"

	"github.com/room4-2/iacfarm/logger"
)

// Handle is the single active playback. Stopping it and the clip ending on
// its own both run the completion callback, exactly once.
type Handle struct {
	id      string
	buf     *Buffer
	stream  Stream
	onEnded func()
	once    sync.Once
	ctrl    *Controller
}

// ID is the message id the clip belongs to.
func (h *Handle) ID() string { return h.id }

// Buffer is the decoded clip.
func (h *Handle) Buffer() *Buffer { return h.buf }

// Done is closed when playback has stopped for any reason.
func (h *Handle) Done() <-chan struct{} { return h.stream.Done() }

// Stop halts playback immediately.
func (h *Handle) Stop() {
	h.stream.Halt()
	h.end()
}

func (h *Handle) end() {
	h.once.Do(func() {
		h.ctrl.release(h)
		if h.onEnded != nil {
			h.onEnded()
		}
	})
}

func (h *Handle) watch() {
	<-h.stream.Done()
	h.end()
}

// Controller owns the one playback slot of a session.
type Controller struct {
	mu      sync.Mutex
	current *Handle
	sink    Sink
	log     *zap.Logger
}

func NewController(sink Sink, log *zap.Logger) *Controller {
	if sink == nil {
		sink = TimerSink{}
	}
	return &Controller{sink: sink, log: logger.OrNop(log)}
}

// Play stops the current clip, then decodes and starts the new one. On any
// failure the error is logged, onEnded still runs and nil is returned.
func (c *Controller) Play(id, encoded string, onEnded func()) *Handle {
	c.Stop()

	buf, err := Decode(encoded)
	if err != nil {
		c.log.Warn("audio_decode_failed", zap.String("message_id", id), zap.Error(err))
		fire(onEnded)
		return nil
	}
	stream, err := c.sink.Start(id, buf)
	if err != nil {
		c.log.Warn("audio_start_failed", zap.String("message_id", id), zap.Error(err))
		fire(onEnded)
		return nil
	}

	h := &Handle{id: id, buf: buf, stream: stream, onEnded: onEnded, ctrl: c}
	c.mu.Lock()
	prev := c.current
	c.current = h
	c.mu.Unlock()
	if prev != nil {
		prev.Stop()
	}

	c.log.Debug("audio_playing", zap.String("message_id", id), zap.Duration("duration", buf.Duration()))
	go h.watch()
	return h
}

// Stop halts the active clip, if any.
func (c *Controller) Stop() {
	c.mu.Lock()
	h := c.current
	c.mu.Unlock()
	if h != nil {
		h.Stop()
	}
}

// Playing returns the message id of the active clip.
func (c *Controller) Playing() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return "", false
	}
	return c.current.id, true
}

func (c *Controller) release(h *Handle) {
	c.mu.Lock()
	if c.current == h {
		c.current = nil
	}
	c.mu.Unlock()
}

func fire(fn func()) {
	if fn != nil {
		fn()
	}
}
