package capture

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/isaacberry91/propswipes-sub000/pkg/log"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

const oggMimeType = "audio/ogg"

// oggStream muxes Opus RTP into Ogg pages and hands them to the recorder in
// chunks. The final chunk is delivered synchronously by Stop.
type oggStream struct {
	mu      sync.Mutex
	writer  *oggwriter.OggWriter
	out     *chunkWriter
	paused  bool
	stopped bool
	detach  func()
}

func newOggStream(sink func([]byte), chunkSize int) (*oggStream, error) {
	out := &chunkWriter{sink: sink, size: chunkSize}
	w, err := oggwriter.NewWith(out, opusClockRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("create ogg writer: %w", err)
	}
	return &oggStream{writer: w, out: out}, nil
}

func (s *oggStream) MimeType() string { return oggMimeType }

func (s *oggStream) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
	return nil
}

func (s *oggStream) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	return nil
}

// Stop closes the Ogg writer, which flushes the last buffered chunk.
func (s *oggStream) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	return s.writer.Close()
}

func (s *oggStream) Release() {
	s.mu.Lock()
	s.stopped = true
	detach := s.detach
	s.detach = nil
	s.mu.Unlock()

	if detach != nil {
		detach()
	}
}

func (s *oggStream) writeRTP(pkt *rtp.Packet) {
	if len(pkt.Payload) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused || s.stopped {
		return
	}
	if err := s.writer.WriteRTP(pkt); err != nil {
		l := log.L()
		l.Warn().Err(err).Msg("dropping rtp packet")
		return
	}
	s.out.audio = true
}

// chunkWriter batches Ogg pages. Header pages are held back until audio
// arrives so a clip with no packets yields no bytes at all.
type chunkWriter struct {
	sink  func([]byte)
	size  int
	buf   bytes.Buffer
	audio bool
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	if w.audio && w.buf.Len() >= w.size {
		w.flush()
	}
	return len(p), nil
}

// Close is called by the Ogg writer on Close and delivers the final chunk.
func (w *chunkWriter) Close() error {
	if w.audio && w.buf.Len() > 0 {
		w.flush()
	}
	w.buf.Reset()
	return nil
}

func (w *chunkWriter) flush() {
	chunk := bytes.Clone(w.buf.Bytes())
	w.buf.Reset()
	w.sink(chunk)
}
