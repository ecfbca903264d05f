package compression

// bitReader reads a DEFLATE bitstream from an in-memory buffer. Bits are
// consumed LSB-first within each byte, per RFC 1951 section 3.1.1.
//
// Reading past the end of the buffer is an error, not a stream of zero bits.
// A truncated stream should be reported as corruption at the read site, not
// decoded into garbage that trips some later consistency check.
type bitReader struct {
	data []byte
	// Index of the next byte to pull into the bit buffer.
	pos int
	// Bits that have been pulled out of `data` but not yet consumed. The
	// next bit to hand out is bit 0.
	bitBuffer uint32
	bitCount  int
}

func newBitReader(data []byte) *bitReader {
	return &bitReader{data: data}
}

func (r *bitReader) fill() {
	for r.bitCount <= 24 && r.pos < len(r.data) {
		r.bitBuffer |= uint32(r.data[r.pos]) << r.bitCount
		r.pos++
		r.bitCount += 8
	}
}

// ReadBits returns the next `count` bits as an integer, with the first bit
// read in bit 0. count must be at most 16.
func (r *bitReader) ReadBits(count int) (uint32, error) {
	r.fill()
	if count > r.bitCount {
		return 0, corrupted("unexpected end of stream: wanted %d bits, %d left", count, r.bitCount)
	}

	result := r.bitBuffer & ((1 << count) - 1)
	r.bitBuffer >>= count
	r.bitCount -= count
	return result, nil
}

// AlignToByte discards bits up to the next byte boundary of the underlying
// buffer. Stored blocks begin on a byte boundary.
func (r *bitReader) AlignToByte() {
	skip := r.bitCount & 7
	r.bitBuffer >>= skip
	r.bitCount -= skip
}

// bitWriter accumulates bits LSB-first into a growing byte buffer. It is the
// mirror image of bitReader.
type bitWriter struct {
	data      []byte
	bitBuffer uint32
	bitCount  int
}

// WriteBits appends the low `count` bits of `bits`, LSB first.
func (w *bitWriter) WriteBits(bits uint32, count int) {
	w.bitBuffer |= bits << w.bitCount
	w.bitCount += count

	for w.bitCount >= 8 {
		w.data = append(w.data, byte(w.bitBuffer))
		w.bitBuffer >>= 8
		w.bitCount -= 8
	}
}

// WriteBitsReverse appends the low `count` bits of `bits` in reversed order.
// Canonical Huffman codes are defined MSB-first but the stream packs bits
// LSB-first, so codes get flipped on the way out.
func (w *bitWriter) WriteBitsReverse(bits uint32, count int) {
	var reversed uint32
	for i := 0; i < count; i++ {
		reversed = (reversed << 1) | (bits & 1)
		bits >>= 1
	}
	w.WriteBits(reversed, count)
}

// AlignToByte pads the current byte with zero bits so the next write starts
// on a byte boundary.
func (w *bitWriter) AlignToByte() {
	if w.bitCount > 0 {
		w.data = append(w.data, byte(w.bitBuffer))
		w.bitBuffer = 0
		w.bitCount = 0
	}
}

// WriteByte appends a whole byte. The writer must be byte-aligned.
func (w *bitWriter) WriteByte(value byte) {
	w.WriteBits(uint32(value), 8)
}

// Bytes flushes any partial byte (padded with zero bits) and returns the
// accumulated buffer. The writer should not be used afterwards.
func (w *bitWriter) Bytes() []byte {
	w.AlignToByte()
	return w.data
}
