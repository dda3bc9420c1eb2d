// Copyright 2026 The AmiFUSE Authors
// SPDX-License-Identifier: Apache-2.0

package trace

import (
	"fmt"
	"io"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder configured with Core Deterministic Encoding
// (RFC 8949 §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical record always produces identical
// bytes, which matters when trace files are diffed across runs against
// the same image and handler.
var encMode cbor.EncMode

func init() {
	options := cbor.CoreDetEncOptions()
	mode, err := options.EncMode()
	if err != nil {
		panic("trace: CBOR encoder initialization failed: " + err.Error())
	}
	encMode = mode
}

// Record is one packet call as written to a trace file: the request as
// built by the bridge, the reply fields, and the cycle count the
// emulator actually consumed servicing it.
type Record struct {
	Seq        uint64 `cbor:"seq"`
	Action     int32  `cbor:"action"`
	Args       [7]int32 `cbor:"args"`
	Result1    int32  `cbor:"result1"`
	Result2    int32  `cbor:"result2"`
	CyclesUsed uint64 `cbor:"cycles_used"`
	Err        string `cbor:"err,omitempty"`
}

// Writer appends Records to an underlying stream as a sequence of
// self-delimiting CBOR items (no outer array — items are appended as the
// mount runs, and a trace file is valid to read while still being
// written). Safe for concurrent use; the packet bridge holds the CPU
// lock around each call anyway, but Writer does not assume that.
type Writer struct {
	mu  sync.Mutex
	w   io.Writer
	seq uint64
}

// NewWriter wraps w for sequential CBOR record writes.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write assigns the next sequence number to rec and appends it.
func (tw *Writer) Write(rec Record) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	tw.seq++
	rec.Seq = tw.seq

	data, err := encMode.Marshal(rec)
	if err != nil {
		return fmt.Errorf("trace: encoding record %d: %w", rec.Seq, err)
	}
	if _, err := tw.w.Write(data); err != nil {
		return fmt.Errorf("trace: writing record %d: %w", rec.Seq, err)
	}
	return nil
}

// Reader decodes a stream of Records previously written by Writer.
type Reader struct {
	dec *cbor.Decoder
}

// NewReader wraps r for sequential CBOR record reads.
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: cbor.NewDecoder(r)}
}

// Next decodes the next Record. Returns io.EOF when the stream is
// exhausted.
func (tr *Reader) Next() (Record, error) {
	var rec Record
	if err := tr.dec.Decode(&rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}
