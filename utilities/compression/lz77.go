package compression

// LZ77 parameters fixed by the DEFLATE format.
const (
	windowSize     = 32768
	minMatchLength = 3
	maxMatchLength = 258
)

// Match-finder tuning. hashTableSize must be a power of two. The chain walk
// is capped so a pathological input can't make compression quadratic.
const (
	hashTableSize  = 8192
	maxChainLength = 128
	// Levels below hashMatchLevel use a brute-force scan over a short
	// window instead of the hash chains.
	hashMatchLevel   = 6
	bruteForceWindow = 1024
)

// token is a single unit of LZ77 output: either one literal byte, or an
// instruction to copy `length` bytes starting `distance` bytes before the
// current end of the output.
type token struct {
	kind     tokenKind
	literal  byte
	length   int // 3..258
	distance int // 1..32768
}

type tokenKind uint8

const (
	tokenLiteral tokenKind = iota
	tokenMatch
)

func literalToken(value byte) token {
	return token{kind: tokenLiteral, literal: value}
}

func matchToken(length, distance int) token {
	return token{kind: tokenMatch, length: length, distance: distance}
}

// matcher finds back-references in a buffer using hash chains: a head table
// maps the hash of three bytes to the most recent position seen with that
// hash, and prev[] links each position to the previous one sharing its
// hash, newest first.
type matcher struct {
	data []byte
	head [hashTableSize]int
	prev []int
}

func newMatcher(data []byte) *matcher {
	m := &matcher{
		data: data,
		prev: make([]int, len(data)),
	}
	for i := range m.head {
		m.head[i] = -1
	}
	for i := range m.prev {
		m.prev[i] = -1
	}
	return m
}

func hash3(b0, b1, b2 byte) uint32 {
	return ((uint32(b0) << 10) ^ (uint32(b1) << 5) ^ uint32(b2)) & (hashTableSize - 1)
}

// insert records `pos` in the hash chains. Only positions with at least
// three bytes of lookahead are hashable.
func (m *matcher) insert(pos int) {
	if pos+minMatchLength > len(m.data) {
		return
	}
	h := hash3(m.data[pos], m.data[pos+1], m.data[pos+2])
	m.prev[pos] = m.head[h]
	m.head[h] = pos
}

// findMatch walks the hash chain for `pos` and returns the longest match
// found, along with its distance. Chains are walked newest-first, so ties
// resolve to the shortest distance. Returns length 0 if nothing of at least
// minMatchLength exists.
func (m *matcher) findMatch(pos int) (length, distance int) {
	if pos+minMatchLength > len(m.data) {
		return 0, 0
	}

	windowStart := 0
	if pos > windowSize {
		windowStart = pos - windowSize
	}
	maxLength := len(m.data) - pos
	if maxLength > maxMatchLength {
		maxLength = maxMatchLength
	}

	candidate := m.head[hash3(m.data[pos], m.data[pos+1], m.data[pos+2])]
	bestLength := 0
	bestDistance := 0

	for chain := 0; candidate >= windowStart && chain < maxChainLength; chain++ {
		if candidate >= pos {
			break
		}

		// Cheap rejection: a longer match than the current best must agree
		// at the position just past the best length.
		if bestLength == 0 || (bestLength < maxLength && m.data[candidate+bestLength] == m.data[pos+bestLength]) {
			matchLength := 0
			for matchLength < maxLength && m.data[candidate+matchLength] == m.data[pos+matchLength] {
				matchLength++
			}

			if matchLength > bestLength {
				bestLength = matchLength
				bestDistance = pos - candidate
				if matchLength >= maxLength || matchLength >= 128 {
					// Good enough; walking further only finds equal or
					// more distant matches of marginal benefit.
					break
				}
			}
		}

		candidate = m.prev[candidate]
	}

	if bestLength < minMatchLength {
		return 0, 0
	}
	return bestLength, bestDistance
}

// findMatchBruteForce scans the raw window backwards without any hash
// structure. Used by low compression levels; it searches a much shorter
// window, trading ratio for simplicity and speed.
func (m *matcher) findMatchBruteForce(pos int) (length, distance int) {
	if pos+minMatchLength > len(m.data) {
		return 0, 0
	}

	windowStart := 0
	if pos > bruteForceWindow {
		windowStart = pos - bruteForceWindow
	}
	maxLength := len(m.data) - pos
	if maxLength > maxMatchLength {
		maxLength = maxMatchLength
	}

	bestLength := 0
	bestDistance := 0
	for candidate := pos - 1; candidate >= windowStart; candidate-- {
		matchLength := 0
		for matchLength < maxLength && m.data[candidate+matchLength] == m.data[pos+matchLength] {
			matchLength++
		}
		if matchLength > bestLength {
			bestLength = matchLength
			bestDistance = pos - candidate
			if matchLength >= maxLength {
				break
			}
		}
	}

	if bestLength < minMatchLength {
		return 0, 0
	}
	return bestLength, bestDistance
}

// tokenize greedily parses `data` into literals and matches. Greedy means
// no lazy matching: once a match is found the parser takes it and moves on,
// never checking whether waiting one byte would have found a longer one.
//
// Replaying the returned tokens in order reconstructs `data` exactly, at
// any level.
func tokenize(data []byte, level int) []token {
	if len(data) == 0 {
		return nil
	}

	m := newMatcher(data)
	tokens := make([]token, 0, len(data)/4+16)

	pos := 0
	for pos < len(data) {
		var length, distance int
		if level >= hashMatchLevel {
			length, distance = m.findMatch(pos)
		} else {
			length, distance = m.findMatchBruteForce(pos)
		}

		if length >= minMatchLength {
			tokens = append(tokens, matchToken(length, distance))
			// Every position covered by the match still enters the hash
			// chains so later matches can reference into it.
			for i := 0; i < length; i++ {
				m.insert(pos)
				pos++
			}
		} else {
			tokens = append(tokens, literalToken(data[pos]))
			m.insert(pos)
			pos++
		}
	}

	return tokens
}
