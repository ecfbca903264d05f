package compression

// A stored block holds at most 65535 bytes of payload behind a 5-byte
// header (1 header byte + LEN + NLEN).
const maxStoredBlockSize = 65535

// deflateStored emits the input as a chain of stored blocks. This never
// shrinks anything -- each block costs five bytes of overhead -- but it is
// valid DEFLATE and is immune to expansion blowups on incompressible data.
func deflateStored(data []byte) []byte {
	// An empty input still needs one (empty) final block.
	output := make([]byte, 0, len(data)+5*(len(data)/maxStoredBlockSize+1))

	pos := 0
	for {
		blockSize := len(data) - pos
		if blockSize > maxStoredBlockSize {
			blockSize = maxStoredBlockSize
		}
		isFinal := pos+blockSize == len(data)

		// BFINAL in bit 0, BTYPE=00 in bits 1-2, then padding to the byte
		// boundary -- a stored block's payload is byte-aligned.
		if isFinal {
			output = append(output, 1)
		} else {
			output = append(output, 0)
		}

		length := uint16(blockSize)
		complement := ^length
		output = append(output,
			byte(length), byte(length>>8),
			byte(complement), byte(complement>>8))
		output = append(output, data[pos:pos+blockSize]...)

		pos += blockSize
		if isFinal {
			return output
		}
	}
}

// lengthCodeFor returns the index into the length tables whose base value
// covers `length`. Caller guarantees 3 <= length <= 258.
func lengthCodeFor(length int) int {
	for code := len(lengthBase) - 1; code > 0; code-- {
		if length >= lengthBase[code] {
			return code
		}
	}
	return 0
}

// distanceCodeFor returns the index into the distance tables whose base
// value covers `distance`. Caller guarantees 1 <= distance <= 32768.
func distanceCodeFor(distance int) int {
	for code := len(distanceBase) - 1; code > 0; code-- {
		if distance >= distanceBase[code] {
			return code
		}
	}
	return 0
}

// deflateFixed compresses the whole input as a single final block using the
// fixed Huffman tables. The level only controls how hard the LZ77 matcher
// works; the emitted code tables are always the RFC's fixed ones. Building
// per-block optimal tables would buy a few percent of ratio and is left
// undone on purpose.
func deflateFixed(data []byte, level int) []byte {
	fixedTables() // make sure the encode tables are populated

	tokens := tokenize(data, level)

	var w bitWriter
	w.WriteBits(1, 1) // BFINAL
	w.WriteBits(blockTypeFixed, 2)

	for _, t := range tokens {
		switch t.kind {
		case tokenLiteral:
			entry := fixedLiteralCodes[t.literal]
			w.WriteBitsReverse(entry.code, int(entry.length))

		case tokenMatch:
			lengthCode := lengthCodeFor(t.length)
			entry := fixedLiteralCodes[257+lengthCode]
			w.WriteBitsReverse(entry.code, int(entry.length))
			if lengthExtraBits[lengthCode] > 0 {
				w.WriteBits(uint32(t.length-lengthBase[lengthCode]), lengthExtraBits[lengthCode])
			}

			distanceCode := distanceCodeFor(t.distance)
			distEntry := fixedDistanceCodes[distanceCode]
			w.WriteBitsReverse(distEntry.code, int(distEntry.length))
			if distanceExtraBits[distanceCode] > 0 {
				w.WriteBits(uint32(t.distance-distanceBase[distanceCode]), distanceExtraBits[distanceCode])
			}
		}
	}

	// End-of-block marker.
	eob := fixedLiteralCodes[256]
	w.WriteBitsReverse(eob.code, int(eob.length))

	return w.Bytes()
}
