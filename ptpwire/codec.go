/*Package ptpwire implements the little-endian scalar and PTP string codec
used to read and write PTP bulk and PTP/IP containers.

It is a cursor over a caller-provided byte slice; it never grows the slice
and does not bounds-check against the slice's capacity.  That is the caller's
responsibility, same as the camlib C source it is grounded on
(src/packet.c: ptp_read_uint8/ptp_read_string/...).
*/
package ptpwire

import "encoding/binary"

// ErrMalformedArray is returned by Reader.Uint16Array when the encoded count
// exceeds the PTP array sanity limit of 255 elements.
type ErrMalformedArray struct {
	Count uint32
}

func (e *ErrMalformedArray) Error() string {
	return "ptpwire: array count exceeds 255 elements"
}

// maxArrayCount is the sanity limit from camlib's ptp_read_uint16_array:
// "Probably impossible scenario" guard against a corrupt length field.
const maxArrayCount = 0xff

// Reader is a cursor-based little-endian reader over a byte slice.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf for sequential little-endian reads starting at offset 0.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Pos returns the current cursor offset.
func (r *Reader) Pos() int { return r.pos }

// Seek moves the cursor to an absolute offset.
func (r *Reader) Seek(pos int) { r.pos = pos }

// Uint8 reads one byte and advances the cursor.
func (r *Reader) Uint8() uint8 {
	v := r.buf[r.pos]
	r.pos++
	return v
}

// Uint16 reads a little-endian uint16 and advances the cursor by 2.
func (r *Reader) Uint16() uint16 {
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v
}

// Uint32 reads a little-endian uint32 and advances the cursor by 4.
func (r *Reader) Uint32() uint32 {
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v
}

// String reads a PTP string: a one-byte code-unit count N (including the
// terminator), followed by N UTF-16LE code units.  The result is decoded to
// a narrow (non-wide) Go string, truncated at max runes, and the cursor is
// advanced by exactly 1+2*N bytes regardless of truncation.
func (r *Reader) String(max int) string {
	n := int(r.Uint8())
	out := make([]byte, 0, n)
	for i := 0; i < n; i++ {
		lo := r.buf[r.pos]
		r.pos += 2 // PTP strings are UTF-16LE; ASCII range only uses the low byte
		if i >= max {
			continue
		}
		if lo == 0 {
			continue // terminator code unit, not part of the narrow string
		}
		out = append(out, lo)
	}
	return string(out)
}

// Uint16Array reads a PTP array: a uint32 count followed by that many
// uint16 elements.  Counts over 255 are rejected as malformed per camlib's
// ptp_read_uint16_array.  Elements beyond len(buf) are consumed from the
// wire but not stored anywhere; the true element count is always returned.
func (r *Reader) Uint16Array(buf []uint16) (int, error) {
	n := r.Uint32()
	if n > maxArrayCount {
		return 0, &ErrMalformedArray{Count: n}
	}
	for i := 0; i < int(n); i++ {
		if i >= len(buf) {
			r.Uint16()
			continue
		}
		buf[i] = r.Uint16()
	}
	return int(n), nil
}

// Writer is a cursor-based little-endian writer into a byte slice.  The
// caller must ensure buf is large enough; Writer never grows it.
type Writer struct {
	buf []byte
	pos int
}

// NewWriter wraps buf for sequential little-endian writes starting at offset 0.
func NewWriter(buf []byte) *Writer {
	return &Writer{buf: buf}
}

// Pos returns the number of bytes written so far.
func (w *Writer) Pos() int { return w.pos }

// Uint8 writes one byte and advances the cursor.
func (w *Writer) Uint8(v uint8) {
	w.buf[w.pos] = v
	w.pos++
}

// Uint16 writes a little-endian uint16 and advances the cursor by 2.
func (w *Writer) Uint16(v uint16) {
	binary.LittleEndian.PutUint16(w.buf[w.pos:], v)
	w.pos += 2
}

// Uint32 writes a little-endian uint32 and advances the cursor by 4.
func (w *Writer) Uint32(v uint32) {
	binary.LittleEndian.PutUint32(w.buf[w.pos:], v)
	w.pos += 4
}

// Bytes writes a raw byte slice and advances the cursor by its length.
func (w *Writer) Bytes(b []byte) {
	n := copy(w.buf[w.pos:], b)
	w.pos += n
}

// String writes s as a PTP string: a one-byte length prefix (code-unit
// count including the terminator), then each rune's low byte widened to a
// UTF-16LE code unit with a zero high byte, then a zero-valued terminator
// code unit.  s must be ASCII; that is all camlib ever emits.
func (w *Writer) String(s string) {
	w.Uint8(uint8(len(s) + 1))
	for i := 0; i < len(s); i++ {
		w.Uint8(s[i])
		w.Uint8(0)
	}
	w.Uint8(0) // terminator low byte
	w.Uint8(0) // terminator high byte
}

// StringLen returns the on-wire byte length of s when written with String:
// 1 length-prefix byte plus 2 code units per rune plus 2 for the terminator.
func StringLen(s string) int {
	return 1 + 2*(len(s)+1)
}
