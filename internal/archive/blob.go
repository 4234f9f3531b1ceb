package archive

import (
	"bytes"
	"io"
	"os"
)

// Blob is one extracted media entry. Small entries are held in memory;
// entries above the spill threshold live in a staged file until the bundle
// is closed.
type Blob struct {
	name string
	size int64
	data []byte // in-memory payload, nil when staged
	path string // staged file path when data is nil
}

// Name returns the entry's base filename as it appeared in the bundle.
func (b *Blob) Name() string { return b.name }

// Size returns the uncompressed entry size in bytes.
func (b *Blob) Size() int64 { return b.size }

// Open returns a reader over the blob content. The caller closes it.
func (b *Blob) Open() (io.ReadCloser, error) {
	if b.data != nil {
		return io.NopCloser(bytes.NewReader(b.data)), nil
	}
	return os.Open(b.path)
}
