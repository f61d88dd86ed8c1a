package proxy

import (
	"io"
	"net/http"
	"sync/atomic"
)

// trackingReader wraps the inbound request body and records whether any
// bytes were consumed. A retry is only safe while nothing has been read,
// since consumed bytes cannot be replayed to another host.
type trackingReader struct {
	body     io.ReadCloser
	consumed atomic.Bool
}

func newTrackingReader(body io.ReadCloser) *trackingReader {
	if body == nil {
		body = http.NoBody
	}
	return &trackingReader{body: body}
}

// Read implements io.Reader.
func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.body.Read(p)
	if n > 0 {
		t.consumed.Store(true)
	}
	return n, err
}

// Close is a no-op. The server closes the original request body; the
// transport closing its per-attempt body must not prevent a retry from
// reading an untouched one.
func (t *trackingReader) Close() error {
	return nil
}

// Consumed reports whether any body bytes were read.
func (t *trackingReader) Consumed() bool {
	return t.consumed.Load()
}
