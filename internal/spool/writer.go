package spool

import (
	"bufio"
	"compress/gzip"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"
)

// Compression selects the byte-stream encoding applied below framing
// (spec §4.6 step 4).
type Compression int

const (
	Uncompressed Compression = iota
	Gzip
	Zstd
)

const clusterSize = 4096

// ErrResourceExhausted is returned when the spool is at or above its
// configured maximum size (spec error kind resource_exhausted).
type ErrResourceExhausted struct {
	EstimatedBytes int64
	MaxBytes       int64
}

func (e *ErrResourceExhausted) Error() string {
	return fmt.Sprintf("resource_exhausted: spool at %d bytes, max %d", e.EstimatedBytes, e.MaxBytes)
}

// Writer produces framed, optionally compressed records into base/tmp,
// renaming each completed file into base/new (spec §4.6). A Writer is
// safe for concurrent use without an external lock: each WriteBatch
// writes its own file, named from an atomic sequence number, and the
// internal mutex guards only the size-budget state.
type Writer struct {
	baseDir     string
	newDir      string
	tmpDir      string
	maxBytes    int64
	compression Compression
	withDigest  bool

	writerID string // random 64-bit hex, fixed for the writer's lifetime
	seq      uint64

	mu             sync.Mutex
	sizeEstimate   int64
	sizeKnown      bool
	exhaustedUntil bool // sticky until the next explicit Refresh
}

// NewWriter opens (creating if necessary) a spool rooted at baseDir.
func NewWriter(baseDir string, maxBytes int64, compression Compression) (*Writer, error) {
	newDir := filepath.Join(baseDir, "new")
	tmpDir := filepath.Join(baseDir, "tmp")
	if err := os.MkdirAll(newDir, 0o700); err != nil {
		return nil, fmt.Errorf("spool: create new dir: %w", err)
	}
	if err := os.MkdirAll(tmpDir, 0o700); err != nil {
		return nil, fmt.Errorf("spool: create tmp dir: %w", err)
	}

	id, err := randomWriterID()
	if err != nil {
		return nil, fmt.Errorf("spool: generate writer id: %w", err)
	}

	return &Writer{
		baseDir:     baseDir,
		newDir:      newDir,
		tmpDir:      tmpDir,
		maxBytes:    maxBytes,
		compression: compression,
		withDigest:  true,
		writerID:    id,
	}, nil
}

// randomWriterID produces the spool's 16-hex-character writer identity
// (spec §4.6 step 2: "a 64-bit random hex generated once per writer
// instance"). crypto/rand is used in place of a pack dependency since no
// example repo in the retrieval set mints a bare random identifier of this
// specific width; every other spool concern uses the designated
// third-party library.
func randomWriterID() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

// Refresh forgets any cached "over budget" state, forcing the next Write
// to recompute the spool size from disk. Callers invoke this after the
// reader acks files (spec §4.6 step 1: "remember the failure until the
// next flush").
func (w *Writer) Refresh() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sizeKnown = false
	w.exhaustedUntil = false
}

// estimateSize recomputes the spool's on-disk footprint by iterating
// new/, approximating filesystem cluster allocation (spec §4.6 step 1:
// "size ≈ Σ clusters(file) * 4 KiB, with a minimum of one cluster for
// non-empty files").
func (w *Writer) estimateSize() (int64, error) {
	entries, err := os.ReadDir(w.newDir)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		info, err := ent.Info()
		if err != nil {
			continue
		}
		total += clusters(info.Size())
	}
	return total, nil
}

// checkBudget consults the cached estimate, recomputing from disk only
// when it is stale (spec §4.6 step 1).
func (w *Writer) checkBudget() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.exhaustedUntil {
		return &ErrResourceExhausted{EstimatedBytes: w.sizeEstimate, MaxBytes: w.maxBytes}
	}
	if !w.sizeKnown {
		size, err := w.estimateSize()
		if err != nil {
			return fmt.Errorf("spool: estimate size: %w", err)
		}
		w.sizeEstimate = size
		w.sizeKnown = true
	}
	if w.sizeEstimate >= w.maxBytes {
		w.exhaustedUntil = true
		return &ErrResourceExhausted{EstimatedBytes: w.sizeEstimate, MaxBytes: w.maxBytes}
	}
	return nil
}

// WriteBatch writes one or more framed payloads to a single new spool
// file (spec §4.6 steps 2-5): tmp/id_seq is opened O_WRONLY|O_CREAT|O_TRUNC
// mode 0400, frames are streamed through the writer's compression, and on
// success the file is renamed into new/ atomically.
func (w *Writer) WriteBatch(payloads ...[]byte) (path string, err error) {
	if err := w.checkBudget(); err != nil {
		return "", err
	}

	seq := atomic.AddUint64(&w.seq, 1)
	name := fmt.Sprintf("%s_%020d", w.writerID, seq)
	tmpPath := filepath.Join(w.tmpDir, name)
	finalPath := filepath.Join(w.newDir, name)

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o400)
	if err != nil {
		return "", fmt.Errorf("spool: open tmp file: %w", err)
	}

	if werr := w.streamFrames(f, payloads); werr != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", werr
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("spool: close tmp file: %w", err)
	}
	info, statErr := os.Stat(tmpPath)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("spool: rename into place: %w", err)
	}

	w.mu.Lock()
	if w.sizeKnown && statErr == nil {
		w.sizeEstimate += clusters(info.Size())
	}
	w.mu.Unlock()

	return finalPath, nil
}

func clusters(size int64) int64 {
	if size == 0 {
		return 0
	}
	n := size / clusterSize
	if size%clusterSize != 0 || n == 0 {
		n++
	}
	return n * clusterSize
}

func (w *Writer) streamFrames(f *os.File, payloads [][]byte) error {
	bw := bufio.NewWriterSize(f, 64*1024)

	var sink io.Writer
	var closer io.Closer
	switch w.compression {
	case Gzip:
		gz := gzip.NewWriter(bw)
		sink, closer = gz, gz
	case Zstd:
		zw, err := zstd.NewWriter(bw, zstd.WithWindowSize(64*1024))
		if err != nil {
			return fmt.Errorf("spool: create zstd writer: %w", err)
		}
		sink, closer = zw, zw
	default:
		sink = bw
	}

	for _, p := range payloads {
		if err := writeFrame(sink, p, w.withDigest); err != nil {
			if closer != nil {
				closer.Close()
			}
			return fmt.Errorf("spool: write frame: %w", err)
		}
	}
	if closer != nil {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("spool: close compressor: %w", err)
		}
	}
	return bw.Flush()
}
