package audio

import (
	"sync"
	"time"
)

// Sink is the host audio output.
type Sink interface {
	// Start begins playing buf and returns the running stream.
	Start(id string, buf *Buffer) (Stream, error)
}

// Stream is one clip being played by a Sink.
type Stream interface {
	// Done is closed when the clip ends on its own or after Halt.
	Done() <-chan struct{}
	// Halt stops output immediately. It is safe to call more than once.
	Halt()
}

// TimerSink plays nothing; a stream simply lasts as long as its buffer.
// It backs clients that render audio themselves and tests.
type TimerSink struct {
	// Scale shortens or stretches clip time; zero means real time.
	Scale float64
}

func (s TimerSink) Start(_ string, buf *Buffer) (Stream, error) {
	d := buf.Duration()
	if s.Scale > 0 {
		d = time.Duration(float64(d) * s.Scale)
	}
	return NewTimedStream(d), nil
}

// TimedStream is a Stream that ends after a fixed duration.
type TimedStream struct {
	done  chan struct{}
	once  sync.Once
	timer *time.Timer
}

func NewTimedStream(d time.Duration) *TimedStream {
	ts := &TimedStream{done: make(chan struct{})}
	ts.timer = time.AfterFunc(d, ts.finish)
	return ts
}

func (ts *TimedStream) Done() <-chan struct{} { return ts.done }

func (ts *TimedStream) Halt() {
	ts.timer.Stop()
	ts.finish()
}

func (ts *TimedStream) finish() {
	ts.once.Do(func() { close(ts.done) })
}
