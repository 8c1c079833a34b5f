package main

import (
	"bytes"
	"fmt"
	"os/exec"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/room4-2/iacfarm/audio"
)

// soxSink plays clips through the sox "play to default device" pipeline.
type soxSink struct {
	bin string
}

// newSink uses sox when it is installed. Without it clips are timed but
// silent so the rest of the chat keeps working.
func newSink(log *zap.Logger) audio.Sink {
	bin, err := exec.LookPath("sox")
	if err != nil {
		log.Warn("sox_not_found_audio_muted")
		return audio.TimerSink{}
	}
	return soxSink{bin: bin}
}

func (s soxSink) Start(_ string, buf *audio.Buffer) (audio.Stream, error) {
	cmd := exec.Command(s.bin, "-q",
		"-t", "raw",
		"-r", strconv.Itoa(buf.SampleRate),
		"-b", "16",
		"-c", strconv.Itoa(buf.Channels),
		"-e", "signed-integer",
		"-",
		"-d",
	)
	cmd.Stdin = bytes.NewReader(buf.Raw)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start sox: %w", err)
	}

	st := &soxStream{cmd: cmd, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(st.done)
	}()
	return st, nil
}

type soxStream struct {
	cmd  *exec.Cmd
	done chan struct{}
	once sync.Once
}

func (s *soxStream) Done() <-chan struct{} { return s.done }

func (s *soxStream) Halt() {
	s.once.Do(func() {
		select {
		case <-s.done:
		default:
			_ = s.cmd.Process.Kill()
		}
	})
}
