// Package spool implements the Telemetry Spool (C6): a bounded on-disk
// queue of framed event records, single-writer single-reader, with
// compression and corruption detection (spec §4.6).
package spool

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
)

// frameMagic identifies a spool frame header, little-endian.
const frameMagic uint32 = 0x21544E53

// maxFrameLen bounds a single frame's payload to guard against a corrupt
// varint length driving an unbounded allocation.
const maxFrameLen = 64 << 20

// ErrCorruptionDetected is returned by Parse and ParseFile when a frame's digest or
// magic does not validate (spec error kind corruption_detected).
type ErrCorruptionDetected struct {
	Path string
	Msg  string
}

func (e *ErrCorruptionDetected) Error() string {
	return fmt.Sprintf("corruption_detected: %s: %s", e.Path, e.Msg)
}

// Digest computes the frame integrity digest over payload (spec §4.6: "a
// 64-bit non-cryptographic hash over payload").
func Digest(payload []byte) uint64 {
	return xxhash.Sum64(payload)
}

// writeFrame appends one frame to w: MAGIC(32) || digest(64) || varint(len) || payload.
// digest 0 means "no digest" and must never be produced for a non-empty
// payload by chance; xxhash.Sum64 returning exactly 0 is astronomically
// unlikely and not specially handled, matching the spec's own caveat that a
// writer "MAY write 0 to mean no digest".
func writeFrame(w io.Writer, payload []byte, withDigest bool) error {
	var hdr [4 + 8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], frameMagic)
	var digest uint64
	if withDigest {
		digest = Digest(payload)
	}
	binary.LittleEndian.PutUint64(hdr[4:12], digest)
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}

	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(payload)))
	if _, err := w.Write(lenBuf[:n]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// readFrame reads one frame from r. io.EOF is returned (unwrapped) at a
// clean frame boundary with zero bytes consumed.
func readFrame(r io.ByteReader, path string) (payload []byte, err error) {
	var hdr [4]byte
	for i := range hdr {
		b, err := r.ReadByte()
		if err != nil {
			if i == 0 && err == io.EOF {
				return nil, io.EOF
			}
			return nil, &ErrCorruptionDetected{Path: path, Msg: "truncated magic"}
		}
		hdr[i] = b
	}
	magic := binary.LittleEndian.Uint32(hdr[:])
	if magic != frameMagic {
		return nil, &ErrCorruptionDetected{Path: path, Msg: fmt.Sprintf("bad magic %#x", magic)}
	}

	var digestBuf [8]byte
	for i := range digestBuf {
		b, err := r.ReadByte()
		if err != nil {
			return nil, &ErrCorruptionDetected{Path: path, Msg: "truncated digest"}
		}
		digestBuf[i] = b
	}
	digest := binary.LittleEndian.Uint64(digestBuf[:])

	length, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, &ErrCorruptionDetected{Path: path, Msg: "truncated length"}
	}
	if length > maxFrameLen {
		return nil, &ErrCorruptionDetected{Path: path, Msg: fmt.Sprintf("frame length %d exceeds bound", length)}
	}

	payload = make([]byte, length)
	for i := range payload {
		b, err := r.ReadByte()
		if err != nil {
			return nil, &ErrCorruptionDetected{Path: path, Msg: "truncated payload"}
		}
		payload[i] = b
	}

	if digest != 0 && Digest(payload) != digest {
		return nil, &ErrCorruptionDetected{Path: path, Msg: "digest mismatch"}
	}
	return payload, nil
}
