package compression

// Block types from the 2-bit BTYPE field of a block header.
const (
	blockTypeStored  = 0
	blockTypeFixed   = 1
	blockTypeDynamic = 2
)

// inflate decodes a raw DEFLATE bitstream (no zlib or gzip framing) into the
// original bytes. Any structural problem -- reserved block type, bad stored
// length check, invalid Huffman code, out-of-range back-reference -- aborts
// with a corruption error and no output.
func inflate(data []byte) ([]byte, error) {
	r := newBitReader(data)
	var output []byte

	for {
		final, err := r.ReadBits(1)
		if err != nil {
			return nil, err
		}
		blockType, err := r.ReadBits(2)
		if err != nil {
			return nil, err
		}

		switch blockType {
		case blockTypeStored:
			output, err = inflateStored(r, output)
		case blockTypeFixed:
			litTree, distTree := fixedTables()
			output, err = inflateCompressed(r, litTree, distTree, output)
		case blockTypeDynamic:
			output, err = inflateDynamic(r, output)
		default:
			return nil, corrupted("reserved block type 3 in block header")
		}
		if err != nil {
			return nil, err
		}

		if final != 0 {
			return output, nil
		}
	}
}

// inflateStored handles a BTYPE=00 block: byte-align, then LEN and its one's
// complement NLEN, then LEN raw bytes.
func inflateStored(r *bitReader, output []byte) ([]byte, error) {
	r.AlignToByte()

	length, err := r.ReadBits(16)
	if err != nil {
		return nil, err
	}
	complement, err := r.ReadBits(16)
	if err != nil {
		return nil, err
	}
	if length^complement != 0xFFFF {
		return nil, corrupted("stored block length check failed: LEN=%04x NLEN=%04x", length, complement)
	}

	for i := 0; i < int(length); i++ {
		value, err := r.ReadBits(8)
		if err != nil {
			return nil, err
		}
		output = append(output, byte(value))
	}
	return output, nil
}

// inflateDynamic reads the code-length preamble of a BTYPE=10 block, builds
// the block's literal/length and distance trees, and decodes its data.
func inflateDynamic(r *bitReader, output []byte) ([]byte, error) {
	hlit, err := r.ReadBits(5)
	if err != nil {
		return nil, err
	}
	hdist, err := r.ReadBits(5)
	if err != nil {
		return nil, err
	}
	hclen, err := r.ReadBits(4)
	if err != nil {
		return nil, err
	}

	numLitCodes := int(hlit) + 257
	numDistCodes := int(hdist) + 1
	numCodeLengthCodes := int(hclen) + 4

	// The code-length alphabet's own lengths arrive three bits each, in a
	// fixed scrambled order; unsent entries default to zero.
	var codeLengthLengths [19]uint8
	for i := 0; i < numCodeLengthCodes; i++ {
		value, err := r.ReadBits(3)
		if err != nil {
			return nil, err
		}
		codeLengthLengths[codeLengthOrder[i]] = uint8(value)
	}

	codeLengthTree, err := buildHuffmanTree(codeLengthLengths[:])
	if err != nil {
		return nil, err
	}

	// Decode the run-length-coded lengths for both alphabets as one array.
	totalLengths := numLitCodes + numDistCodes
	lengths := make([]uint8, 0, totalLengths)

	for len(lengths) < totalLengths {
		symbol, err := codeLengthTree.DecodeSymbol(r)
		if err != nil {
			return nil, err
		}

		switch {
		case symbol < 16:
			lengths = append(lengths, uint8(symbol))
		case symbol == 16:
			if len(lengths) == 0 {
				return nil, corrupted("length repeat code with no previous length")
			}
			repeat, err := r.ReadBits(2)
			if err != nil {
				return nil, err
			}
			previous := lengths[len(lengths)-1]
			for i := 0; i < int(repeat)+3; i++ {
				lengths = append(lengths, previous)
			}
		case symbol == 17:
			repeat, err := r.ReadBits(3)
			if err != nil {
				return nil, err
			}
			for i := 0; i < int(repeat)+3; i++ {
				lengths = append(lengths, 0)
			}
		default: // symbol == 18
			repeat, err := r.ReadBits(7)
			if err != nil {
				return nil, err
			}
			for i := 0; i < int(repeat)+11; i++ {
				lengths = append(lengths, 0)
			}
		}
	}

	if len(lengths) != totalLengths {
		return nil, corrupted("code length repeat overran the %d declared codes", totalLengths)
	}

	litTree, err := buildHuffmanTree(lengths[:numLitCodes])
	if err != nil {
		return nil, err
	}
	distTree, err := buildHuffmanTree(lengths[numLitCodes:])
	if err != nil {
		return nil, err
	}

	return inflateCompressed(r, litTree, distTree, output)
}

// inflateCompressed runs the symbol loop shared by fixed and dynamic blocks:
// literals are appended directly, length codes pull a distance code and turn
// into a copy out of the output's own history.
func inflateCompressed(r *bitReader, litTree, distTree *huffmanTree, output []byte) ([]byte, error) {
	for {
		symbol, err := litTree.DecodeSymbol(r)
		if err != nil {
			return nil, err
		}

		if symbol < 256 {
			output = append(output, byte(symbol))
			continue
		}
		if symbol == 256 {
			return output, nil
		}

		lengthCode := symbol - 257
		if lengthCode >= len(lengthBase) {
			return nil, corrupted("length symbol %d out of range", symbol)
		}
		length := lengthBase[lengthCode]
		if lengthExtraBits[lengthCode] > 0 {
			extra, err := r.ReadBits(lengthExtraBits[lengthCode])
			if err != nil {
				return nil, err
			}
			length += int(extra)
		}

		distanceCode, err := distTree.DecodeSymbol(r)
		if err != nil {
			return nil, err
		}
		if distanceCode >= len(distanceBase) {
			return nil, corrupted("distance symbol %d out of range", distanceCode)
		}
		distance := distanceBase[distanceCode]
		if distanceExtraBits[distanceCode] > 0 {
			extra, err := r.ReadBits(distanceExtraBits[distanceCode])
			if err != nil {
				return nil, err
			}
			distance += int(extra)
		}

		if distance > len(output) {
			return nil, corrupted(
				"back-reference distance %d reaches before start of output (%d bytes so far)",
				distance, len(output))
		}

		// Byte-by-byte on purpose: when distance < length the copy overlaps
		// itself and is defined to read bytes it has just written.
		start := len(output) - distance
		for i := 0; i < length; i++ {
			output = append(output, output[start+i])
		}
	}
}
