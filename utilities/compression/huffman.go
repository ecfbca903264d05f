package compression

import "sync"

// maxCodeLength is the longest Huffman code DEFLATE permits.
const maxCodeLength = 15

// huffmanNode is one node of a decoding trie. Nodes live in a grow-only
// slice owned by the tree; children are identified by index, with 0 meaning
// "no child" (index 0 is always the root, which can never be a child).
type huffmanNode struct {
	// symbol is -1 for internal nodes.
	symbol int16
	left   uint16
	right  uint16
}

// huffmanTree decodes canonical Huffman codes one bit at a time.
//
// A tree is immutable once built, so a single instance can be shared by any
// number of goroutines.
type huffmanTree struct {
	nodes []huffmanNode
}

// canonicalCodes assigns the canonical code values for an array of per-symbol
// code lengths, following RFC 1951 section 3.2.2: count the codes of each
// length, derive the smallest code for each length, then hand out codes to
// symbols in index order. The returned slice is indexed by symbol; entries
// for unused symbols (length 0) are zero.
//
// Codes come back MSB-first, exactly as the RFC defines them.
func canonicalCodes(lengths []uint8) ([]uint32, error) {
	var lengthCounts [maxCodeLength + 1]int
	maxLength := 0

	for _, length := range lengths {
		if length == 0 {
			continue
		}
		if length > maxCodeLength {
			return nil, corrupted("huffman code length %d exceeds limit of %d", length, maxCodeLength)
		}
		lengthCounts[length]++
		if int(length) > maxLength {
			maxLength = int(length)
		}
	}

	var nextCode [maxCodeLength + 1]uint32
	code := uint32(0)
	for length := 1; length <= maxLength; length++ {
		code = (code + uint32(lengthCounts[length-1])) << 1
		nextCode[length] = code
	}

	codes := make([]uint32, len(lengths))
	for symbol, length := range lengths {
		if length == 0 {
			continue
		}
		codes[symbol] = nextCode[length]
		nextCode[length]++
	}
	return codes, nil
}

// buildHuffmanTree constructs a decoding trie from an array of code lengths
// indexed by symbol, where a length of 0 marks an unused symbol.
//
// An array with no used symbols yields an empty tree. That is legal: a
// dynamic block whose data is all literals may declare a single distance
// code of length zero. Decoding from an empty tree fails, which is the
// correct outcome if the stream then references a distance anyway.
func buildHuffmanTree(lengths []uint8) (*huffmanTree, error) {
	codes, err := canonicalCodes(lengths)
	if err != nil {
		return nil, err
	}

	tree := &huffmanTree{nodes: make([]huffmanNode, 1, 2*len(lengths)+1)}
	tree.nodes[0] = huffmanNode{symbol: -1}

	for symbol, length := range lengths {
		if length == 0 {
			continue
		}

		// The trie is walked in the order bits arrive from the stream, which
		// is the reverse of the MSB-first canonical code.
		code := codes[symbol]
		var reversed uint32
		for i := 0; i < int(length); i++ {
			reversed = (reversed << 1) | (code & 1)
			code >>= 1
		}

		nodeIndex := 0
		for i := 0; i < int(length); i++ {
			bit := (reversed >> i) & 1

			var childIndex uint16
			if bit == 0 {
				childIndex = tree.nodes[nodeIndex].left
			} else {
				childIndex = tree.nodes[nodeIndex].right
			}

			if childIndex == 0 {
				tree.nodes = append(tree.nodes, huffmanNode{symbol: -1})
				childIndex = uint16(len(tree.nodes) - 1)
				if bit == 0 {
					tree.nodes[nodeIndex].left = childIndex
				} else {
					tree.nodes[nodeIndex].right = childIndex
				}
			} else if tree.nodes[childIndex].symbol >= 0 {
				return nil, corrupted("oversubscribed huffman code lengths (symbol %d)", symbol)
			}

			if i == int(length)-1 {
				if tree.nodes[childIndex].left != 0 || tree.nodes[childIndex].right != 0 {
					return nil, corrupted("huffman code for symbol %d is a prefix of another code", symbol)
				}
				tree.nodes[childIndex].symbol = int16(symbol)
			}
			nodeIndex = int(childIndex)
		}
	}

	return tree, nil
}

// DecodeSymbol reads bits from `r` until they select a leaf, and returns the
// leaf's symbol. A bit sequence that walks off the trie is corruption.
func (tree *huffmanTree) DecodeSymbol(r *bitReader) (int, error) {
	nodeIndex := 0
	for tree.nodes[nodeIndex].symbol < 0 {
		bit, err := r.ReadBits(1)
		if err != nil {
			return 0, err
		}

		var childIndex uint16
		if bit == 0 {
			childIndex = tree.nodes[nodeIndex].left
		} else {
			childIndex = tree.nodes[nodeIndex].right
		}
		if childIndex == 0 {
			return 0, corrupted("invalid huffman code in stream")
		}
		nodeIndex = int(childIndex)
	}
	return int(tree.nodes[nodeIndex].symbol), nil
}

// fixedLiteralLengths returns the code lengths of the fixed literal/length
// alphabet from RFC 1951 section 3.2.6.
func fixedLiteralLengths() []uint8 {
	lengths := make([]uint8, 288)
	for i := 0; i <= 143; i++ {
		lengths[i] = 8
	}
	for i := 144; i <= 255; i++ {
		lengths[i] = 9
	}
	for i := 256; i <= 279; i++ {
		lengths[i] = 7
	}
	for i := 280; i <= 287; i++ {
		lengths[i] = 8
	}
	return lengths
}

// fixedDistanceLengths returns the code lengths of the fixed distance
// alphabet: five bits for all 32 symbols.
func fixedDistanceLengths() []uint8 {
	lengths := make([]uint8, 32)
	for i := range lengths {
		lengths[i] = 5
	}
	return lengths
}

// huffmanCode is one entry of an encoding table: the MSB-first code value
// and its length in bits.
type huffmanCode struct {
	code   uint32
	length uint8
}

var fixedTablesOnce sync.Once
var fixedLiteralTree *huffmanTree
var fixedDistanceTree *huffmanTree
var fixedLiteralCodes [288]huffmanCode
var fixedDistanceCodes [32]huffmanCode

// fixedTables returns the decode trees and encode tables for the fixed
// Huffman alphabets. They are built on first use and immutable afterwards.
// The lengths are RFC constants, so construction cannot fail.
func fixedTables() (litTree, distTree *huffmanTree) {
	fixedTablesOnce.Do(func() {
		litLengths := fixedLiteralLengths()
		distLengths := fixedDistanceLengths()

		fixedLiteralTree, _ = buildHuffmanTree(litLengths)
		fixedDistanceTree, _ = buildHuffmanTree(distLengths)

		litCodes, _ := canonicalCodes(litLengths)
		for symbol, code := range litCodes {
			fixedLiteralCodes[symbol] = huffmanCode{code: code, length: litLengths[symbol]}
		}
		distCodes, _ := canonicalCodes(distLengths)
		for symbol, code := range distCodes {
			fixedDistanceCodes[symbol] = huffmanCode{code: code, length: distLengths[symbol]}
		}
	})
	return fixedLiteralTree, fixedDistanceTree
}

// Length codes 257-285 map to match lengths via a base value plus 0-5 extra
// bits; distance codes 0-29 work the same way. These tables are verbatim
// from RFC 1951 section 3.2.5.
var lengthBase = [29]int{
	3, 4, 5, 6, 7, 8, 9, 10, 11, 13, 15, 17, 19, 23, 27, 31,
	35, 43, 51, 59, 67, 83, 99, 115, 131, 163, 195, 227, 258,
}

var lengthExtraBits = [29]int{
	0, 0, 0, 0, 0, 0, 0, 0, 1, 1, 1, 1, 2, 2, 2, 2,
	3, 3, 3, 3, 4, 4, 4, 4, 5, 5, 5, 5, 0,
}

var distanceBase = [30]int{
	1, 2, 3, 4, 5, 7, 9, 13, 17, 25, 33, 49, 65, 97, 129, 193,
	257, 385, 513, 769, 1025, 1537, 2049, 3073, 4097, 6145,
	8193, 12289, 16385, 24577,
}

var distanceExtraBits = [30]int{
	0, 0, 0, 0, 1, 1, 2, 2, 3, 3, 4, 4, 5, 5, 6, 6,
	7, 7, 8, 8, 9, 9, 10, 10, 11, 11, 12, 12, 13, 13,
}

// codeLengthOrder is the fixed permutation in which a dynamic block
// transmits the code lengths of its 19-symbol code-length alphabet.
var codeLengthOrder = [19]int{
	16, 17, 18, 0, 8, 7, 9, 6, 10, 5, 11, 4, 12, 3, 13, 2, 14, 1, 15,
}
