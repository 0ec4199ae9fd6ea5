package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fmstephe/flib/funsafe"
)

// FrameHeader is the fixed 8-byte prefix of every wire message (spec §6).
type FrameHeader struct {
	Version    uint16
	Opcode     Opcode
	DestRankID uint32
}

const frameHeaderSize = 2 + 2 + 4

// Encoder accumulates a message body as little-endian, field-by-field
// bytes. Every Message.Encode receives one of these rather than building
// its own byte slice, so framing (the length prefix) stays in one place.
type Encoder struct {
	buf []byte
}

func NewEncoder() *Encoder { return &Encoder{buf: make([]byte, 0, 128)} }

func (e *Encoder) Uint8(v uint8)   { e.buf = append(e.buf, v) }
func (e *Encoder) Uint16(v uint16) { e.buf = binary.LittleEndian.AppendUint16(e.buf, v) }
func (e *Encoder) Uint32(v uint32) { e.buf = binary.LittleEndian.AppendUint32(e.buf, v) }
func (e *Encoder) Uint64(v uint64) { e.buf = binary.LittleEndian.AppendUint64(e.buf, v) }
func (e *Encoder) Int32(v int32)   { e.Uint32(uint32(v)) }
func (e *Encoder) Int64(v int64)   { e.Uint64(uint64(v)) }
func (e *Encoder) Bool(v bool) {
	if v {
		e.Uint8(1)
	} else {
		e.Uint8(0)
	}
}

// String writes a 4-byte length prefix followed by the raw bytes, per
// spec §6 ("strings and vectors prefixed by 4-byte / 8-byte counts").
func (e *Encoder) String(s string) {
	e.Uint32(uint32(len(s)))
	e.buf = append(e.buf, funsafe.StringToBytes(s)...)
}

// Bytes writes an 8-byte length prefix followed by the raw bytes (used
// for vectors of fixed-width elements, per spec §6).
func (e *Encoder) Bytes(b []byte) {
	e.Uint64(uint64(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *Encoder) Uint32Slice(vs []uint32) {
	e.Uint64(uint64(len(vs)))
	for _, v := range vs {
		e.Uint32(v)
	}
}

func (e *Encoder) Bytes_() []byte { return e.buf }

// Decoder reads fields back out of a body in the same order Encoder wrote
// them. Err() must be checked after decoding; once an error has occurred
// every subsequent read is a no-op returning the zero value, so callers
// can decode a whole message and check the error once at the end.
type Decoder struct {
	buf []byte
	pos int
	err error
}

func NewDecoder(buf []byte) *Decoder { return &Decoder{buf: buf} }

func (d *Decoder) Err() error { return d.err }

func (d *Decoder) need(n int) bool {
	if d.err != nil {
		return false
	}
	if d.pos+n > len(d.buf) {
		d.err = fmt.Errorf("wire: short buffer: need %d bytes at pos %d, have %d", n, d.pos, len(d.buf))
		return false
	}
	return true
}

func (d *Decoder) Uint8() uint8 {
	if !d.need(1) {
		return 0
	}
	v := d.buf[d.pos]
	d.pos++
	return v
}

func (d *Decoder) Uint16() uint16 {
	if !d.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(d.buf[d.pos:])
	d.pos += 2
	return v
}

func (d *Decoder) Uint32() uint32 {
	if !d.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(d.buf[d.pos:])
	d.pos += 4
	return v
}

func (d *Decoder) Uint64() uint64 {
	if !d.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(d.buf[d.pos:])
	d.pos += 8
	return v
}

func (d *Decoder) Int32() int32 { return int32(d.Uint32()) }
func (d *Decoder) Int64() int64 { return int64(d.Uint64()) }

func (d *Decoder) Bool() bool { return d.Uint8() != 0 }

// String reads a 4-byte-prefixed string. The returned string aliases the
// decoder's backing buffer (funsafe, zero-copy); callers that retain it
// beyond the lifetime of the frame buffer must copy it first.
func (d *Decoder) String() string {
	n := d.Uint32()
	if !d.need(int(n)) {
		return ""
	}
	b := d.buf[d.pos : d.pos+int(n)]
	d.pos += int(n)
	return funsafe.BytesToString(b)
}

// Bytes reads an 8-byte-prefixed byte vector, copied out of the decoder's
// buffer so the caller owns it independently of the frame.
func (d *Decoder) Bytes() []byte {
	n := d.Uint64()
	if !d.need(int(n)) {
		return nil
	}
	out := make([]byte, n)
	copy(out, d.buf[d.pos:d.pos+int(n)])
	d.pos += int(n)
	return out
}

func (d *Decoder) Uint32Slice() []uint32 {
	n := d.Uint64()
	out := make([]uint32, 0, n)
	for i := uint64(0); i < n; i++ {
		out = append(out, d.Uint32())
	}
	return out
}

// WriteFrame writes header+body to w as a single length-prefixed message:
// a 4-byte little-endian total-length prefix (header+body), then the
// header, then the body.
func WriteFrame(w io.Writer, h FrameHeader, body []byte) error {
	total := frameHeaderSize + len(body)
	prefix := make([]byte, 4+frameHeaderSize)
	binary.LittleEndian.PutUint32(prefix[0:4], uint32(total))
	binary.LittleEndian.PutUint16(prefix[4:6], h.Version)
	binary.LittleEndian.PutUint16(prefix[6:8], uint16(h.Opcode))
	binary.LittleEndian.PutUint32(prefix[8:12], h.DestRankID)
	if _, err := w.Write(prefix); err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	_, err := w.Write(body)
	return err
}

// ReadFrame blocks until one full length-prefixed message has arrived on r.
func ReadFrame(r io.Reader) (FrameHeader, []byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return FrameHeader{}, nil, err
	}
	total := binary.LittleEndian.Uint32(lenBuf[:])
	if total < frameHeaderSize {
		return FrameHeader{}, nil, fmt.Errorf("wire: frame length %d smaller than header", total)
	}
	rest := make([]byte, total)
	if _, err := io.ReadFull(r, rest); err != nil {
		return FrameHeader{}, nil, err
	}
	h := FrameHeader{
		Version:    binary.LittleEndian.Uint16(rest[0:2]),
		Opcode:     Opcode(binary.LittleEndian.Uint16(rest[2:4])),
		DestRankID: binary.LittleEndian.Uint32(rest[4:8]),
	}
	body := rest[frameHeaderSize:]
	return h, body, nil
}
