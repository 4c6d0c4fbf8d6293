package realtime

import (
	"errors"
	"net/http"
	"sync"
)

// ErrStreamClosed is returned by Write after the stream has been closed.
var ErrStreamClosed = errors.New("stream closed")

// httpStream adapts an http.ResponseWriter to EventStream. Writes flush
// immediately so events reach the client without buffering delay.
type httpStream struct {
	w       http.ResponseWriter
	flusher http.Flusher

	mu        sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once
}

func newHTTPStream(w http.ResponseWriter, flusher http.Flusher) *httpStream {
	return &httpStream{
		w:       w,
		flusher: flusher,
		closed:  make(chan struct{}),
	}
}

func (s *httpStream) Write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.closed:
		return ErrStreamClosed
	default:
	}

	if _, err := s.w.Write(p); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Close marks the stream dead. The underlying HTTP connection is torn down
// by the handler returning, not here.
func (s *httpStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// Done is closed when the stream has been closed (by the registry or the
// handler).
func (s *httpStream) Done() <-chan struct{} {
	return s.closed
}
