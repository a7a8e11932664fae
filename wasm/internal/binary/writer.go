package binary

import (
	"bytes"
	"encoding/binary"
	"math"
)

// Writer accumulates encoded bytes.
type Writer struct {
	buf bytes.Buffer
}

func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

func (w *Writer) Len() int {
	return w.buf.Len()
}

func (w *Writer) Byte(b byte) {
	w.buf.WriteByte(b)
}

func (w *Writer) WriteBytes(data []byte) {
	w.buf.Write(data)
}

func (w *Writer) WriteU32(v uint32) {
	w.WriteU64(uint64(v))
}

func (w *Writer) WriteU64(v uint64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		w.buf.WriteByte(b)
		if v == 0 {
			return
		}
	}
}

func (w *Writer) WriteS32(v int32) {
	w.WriteS64(int64(v))
}

func (w *Writer) WriteS64(v int64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		done := (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0)
		if !done {
			b |= 0x80
		}
		w.buf.WriteByte(b)
		if done {
			return
		}
	}
}

// WriteName writes a length-prefixed string.
func (w *Writer) WriteName(s string) {
	w.WriteU32(uint32(len(s)))
	w.buf.WriteString(s)
}

func (w *Writer) WriteU32LE(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	w.buf.Write(buf[:])
}

func (w *Writer) WriteF32(v float32) {
	w.WriteU32LE(math.Float32bits(v))
}

func (w *Writer) WriteF64(v float64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
	w.buf.Write(buf[:])
}

// WriteSized writes a length prefix followed by data.
func (w *Writer) WriteSized(data []byte) {
	w.WriteU32(uint32(len(data)))
	w.buf.Write(data)
}
