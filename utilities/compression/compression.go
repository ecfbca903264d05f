package compression

import (
	"errors"
	"fmt"
	"io"
)

// Compression levels. Level 0 stores the input without compression; levels
// 1-9 trade compression time for ratio. Every level round-trips exactly.
const (
	MinLevel     = 0
	MaxLevel     = 9
	DefaultLevel = 6
)

// ErrCorrupted is wrapped by every error reported for a structurally
// invalid DEFLATE stream. Test with errors.Is.
var ErrCorrupted = errors.New("corrupted DEFLATE stream")

// ErrInvalidLevel is returned when a compression level is outside 0-9.
// Out-of-range levels are rejected, not clamped.
var ErrInvalidLevel = errors.New("compression level must be between 0 and 9")

func corrupted(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrCorrupted, fmt.Sprintf(format, args...))
}

// Compress encodes `data` as a self-contained raw DEFLATE stream (RFC 1951,
// no zlib or gzip framing). Level 0 produces stored blocks; higher levels
// produce a fixed-Huffman block fed by LZ77 matching.
//
// The output decompresses back to `data` byte-for-byte, through Decompress
// or any other conformant inflater.
func Compress(data []byte, level int) ([]byte, error) {
	if level < MinLevel || level > MaxLevel {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidLevel, level)
	}
	if level == 0 {
		return deflateStored(data), nil
	}
	return deflateFixed(data, level), nil
}

// Decompress decodes a raw DEFLATE stream and returns the original bytes.
// Callers holding zlib or gzip data must strip that framing first.
//
// The decoder accepts all three block types, including dynamic-Huffman
// blocks this package's own encoder never emits. On corruption it returns
// an error wrapping [ErrCorrupted] and no partial output.
func Decompress(data []byte) ([]byte, error) {
	return inflate(data)
}

// CompressStream reads all of `input`, compresses it at `level`, and writes
// the result to `output`, returning the number of compressed bytes written.
//
// Despite the signature this is not a streaming interface: the whole input
// is materialized in memory, exactly as with [Compress].
func CompressStream(input io.Reader, output io.Writer, level int) (int64, error) {
	data, err := io.ReadAll(input)
	if err != nil {
		return 0, fmt.Errorf("error reading input: %w", err)
	}

	compressed, err := Compress(data, level)
	if err != nil {
		return 0, err
	}

	n, err := output.Write(compressed)
	if err != nil {
		return int64(n), fmt.Errorf("failed to write to output: %w", err)
	}
	return int64(n), nil
}

// DecompressStream reads a whole DEFLATE stream from `input`, decompresses
// it, and writes the original bytes to `output`, returning the number of
// decompressed bytes written.
func DecompressStream(input io.Reader, output io.Writer) (int64, error) {
	data, err := io.ReadAll(input)
	if err != nil {
		return 0, fmt.Errorf("error reading input: %w", err)
	}

	decompressed, err := Decompress(data)
	if err != nil {
		return 0, err
	}

	n, err := output.Write(decompressed)
	if err != nil {
		return int64(n), fmt.Errorf("failed to write to output: %w", err)
	}
	return int64(n), nil
}
