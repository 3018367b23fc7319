package nfc

import (
	"context"
	"sync"
)

// TagReader is the NFC hardware collaborator.
// Read blocks until a tag is presented or ctx is done. A return of ("", nil)
// means the scan window closed without a tag.
type TagReader interface {
	Read(ctx context.Context) (TagID, error)
	Close() error
}

// ManualReader is a reader fed by Tap, used when no hardware agent is
// attached (development cabinets, the admin panel's "tap" button).
// A tap that arrives between scans is held for the next scan; newer taps
// replace older ones.
type ManualReader struct {
	mu   sync.Mutex
	taps chan TagID
}

// NewManualReader creates an empty manual reader.
func NewManualReader() *ManualReader {
	return &ManualReader{taps: make(chan TagID, 1)}
}

// Tap presents a tag to the reader.
func (r *ManualReader) Tap(tag TagID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	select {
	case <-r.taps:
	default:
	}
	r.taps <- tag
}

// Read implements TagReader.
func (r *ManualReader) Read(ctx context.Context) (TagID, error) {
	select {
	case tag := <-r.taps:
		return tag, nil
	case <-ctx.Done():
		return "", nil
	}
}

// Close implements TagReader.
func (r *ManualReader) Close() error { return nil }
