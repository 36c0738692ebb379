package spool

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

// maxDecompressedBudget caps the bytes a Parse call will read out of a
// compressed stream, guarding against a zip-bomb-style spool file (spec
// §4.6 "Parser": "capped at 250 MiB decompressed budget").
const maxDecompressedBudget = 250 << 20

const (
	zstdMagic = 0x28B52FFD
	gzipMagic = 0x8B1F
)

// ParseFile identifies a spool file's format from its first bytes and
// returns its decoded frame payloads in order (spec §4.6 "Parser"). A
// single corrupt frame stops iteration and is reported as an
// *ErrCorruptionDetected; payloads already decoded are still returned so
// the caller can decide whether to salvage a partial read.
func ParseFile(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f, path)
}

// Parse decodes a spool stream read from r, sniffing its format from the
// first four bytes. An Any-packed protobuf batch (first byte 0x0A) is a
// format this writer never produces and is left unhandled here; frames
// this package writes are always framed-stream (plain, gzip, or zstd).
func Parse(r io.Reader, path string) ([][]byte, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(4)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("spool: peek header: %w", err)
	}

	var src io.Reader = io.LimitReader(br, maxDecompressedBudget)
	if len(head) >= 4 {
		switch {
		case binary.LittleEndian.Uint32(head) == uint32(zstdMagic):
			zr, err := zstd.NewReader(br)
			if err != nil {
				return nil, fmt.Errorf("spool: create zstd reader: %w", err)
			}
			defer zr.Close()
			src = io.LimitReader(zr, maxDecompressedBudget)
		case uint32(head[0])|uint32(head[1])<<8 == gzipMagic:
			gr, err := gzip.NewReader(br)
			if err != nil {
				return nil, fmt.Errorf("spool: create gzip reader: %w", err)
			}
			defer gr.Close()
			src = io.LimitReader(gr, maxDecompressedBudget)
		}
	}

	return decodeFrames(bufio.NewReader(src), path)
}

func decodeFrames(br *bufio.Reader, path string) ([][]byte, error) {
	var out [][]byte
	for {
		payload, err := readFrame(br, path)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, payload)
	}
}
