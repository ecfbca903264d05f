package compression_test

import (
	"bytes"
	"compress/flate"
	"io"
	"math/rand"
	"testing"

	c "github.com/fconvert/fconvert/utilities/compression"
	"github.com/noxer/bytewriter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripTestData struct {
	Name string
	Data []byte
}

func roundTripInputs() []roundTripTestData {
	rng := rand.New(rand.NewSource(0xf0c4))

	random := make([]byte, 8192)
	rng.Read(random)

	windowSized := make([]byte, 32768)
	rng.Read(windowSized)

	// Bigger than the LZ77 window, with long-range repetition so matches
	// actually cross it.
	overWindow := bytes.Repeat([]byte("some moderately repetitive filler text! "), 1800)

	return []roundTripTestData{
		{"empty", []byte{}},
		{"one_byte", []byte{0x42}},
		{"repetitive", bytes.Repeat([]byte{'a'}, 10000)},
		{"text", bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 100)},
		{"random", random},
		{"window_sized", windowSized},
		{"over_window", overWindow},
	}
}

func TestRoundTripAllLevels(t *testing.T) {
	for _, data := range roundTripInputs() {
		t.Run(data.Name, func(tSub *testing.T) {
			for level := c.MinLevel; level <= c.MaxLevel; level++ {
				compressed, err := c.Compress(data.Data, level)
				require.NoError(tSub, err, "level %d", level)

				decompressed, err := c.Decompress(compressed)
				require.NoError(tSub, err, "level %d", level)
				require.Equal(
					tSub, len(data.Data), len(decompressed),
					"level %d: decompressed size is wrong", level)
				require.True(
					tSub, bytes.Equal(data.Data, decompressed),
					"level %d: decompressed data is wrong", level)
			}
		})
	}
}

func TestStoredBlockOutputSize(t *testing.T) {
	// A level 0 stream is the input plus a 5-byte header per 65535-byte
	// chunk.
	sizes := []int{1, 10, 65534, 65535, 65536, 200000}

	for _, size := range sizes {
		data := bytes.Repeat([]byte{0xA5}, size)

		compressed, err := c.Compress(data, 0)
		require.NoError(t, err)

		chunks := (size + 65534) / 65535
		assert.Equal(t, size+5*chunks, len(compressed), "input size %d", size)

		decompressed, err := c.Decompress(compressed)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(data, decompressed), "input size %d", size)
	}
}

func TestStoredEmptyInput(t *testing.T) {
	// Even empty input needs a (final, empty) block.
	compressed, err := c.Compress(nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, len(compressed))

	decompressed, err := c.Decompress(compressed)
	require.NoError(t, err)
	assert.Empty(t, decompressed)
}

// TestDecodeThirdPartyStream verifies interoperability in the decode
// direction: compress/flate's default level emits dynamic-Huffman blocks,
// which this package's encoder never produces but its decoder must accept.
func TestDecodeThirdPartyStream(t *testing.T) {
	original := bytes.Repeat(
		[]byte("dynamic huffman blocks are built from per-block symbol frequencies. "), 300)

	var buffer bytes.Buffer
	flateWriter, err := flate.NewWriter(&buffer, flate.BestCompression)
	require.NoError(t, err)
	_, err = flateWriter.Write(original)
	require.NoError(t, err)
	require.NoError(t, flateWriter.Close())

	decompressed, err := c.Decompress(buffer.Bytes())
	require.NoError(t, err)
	assert.True(t, bytes.Equal(original, decompressed))
}

// TestThirdPartyDecodesOurStream verifies the opposite direction: streams
// from this encoder must be readable by any conformant inflater.
func TestThirdPartyDecodesOurStream(t *testing.T) {
	original := bytes.Repeat([]byte("fixed huffman, but still standard DEFLATE. "), 250)

	for _, level := range []int{0, 1, 6, 9} {
		compressed, err := c.Compress(original, level)
		require.NoError(t, err, "level %d", level)

		flateReader := flate.NewReader(bytes.NewReader(compressed))
		decompressed, err := io.ReadAll(flateReader)
		require.NoError(t, err, "level %d", level)
		require.NoError(t, flateReader.Close(), "level %d", level)

		assert.True(t, bytes.Equal(original, decompressed), "level %d", level)
	}
}

func TestBitFlipsAreNeverSilentlyCorrect(t *testing.T) {
	original := bytes.Repeat([]byte("corruption must be loud, not quiet. "), 40)
	compressed, err := c.Compress(original, c.DefaultLevel)
	require.NoError(t, err)

	sawError := false

	// Skip the last byte: bits past the end-of-block symbol are padding
	// and genuinely don't matter.
	for byteIndex := 0; byteIndex < len(compressed)-1; byteIndex++ {
		for bit := 0; bit < 8; bit++ {
			corrupted := make([]byte, len(compressed))
			copy(corrupted, compressed)
			corrupted[byteIndex] ^= 1 << bit

			decompressed, err := c.Decompress(corrupted)
			if err != nil {
				sawError = true
				continue
			}
			// Not every flip is structurally detectable (extra bits, for
			// one), but a "successful" decode must never reproduce the
			// original bytes.
			assert.False(
				t, bytes.Equal(original, decompressed),
				"flip of byte %d bit %d decoded back to the original", byteIndex, bit)
		}
	}

	assert.True(t, sawError, "no bit flip at all produced a corruption error")
}

func TestDecompressRejectsGarbage(t *testing.T) {
	// BTYPE=11 right out of the gate.
	_, err := c.Decompress([]byte{0x07, 0x00, 0x12, 0x34})
	assert.ErrorIs(t, err, c.ErrCorrupted)
}

func TestDecompressTruncatedStream(t *testing.T) {
	original := bytes.Repeat([]byte("abcdefgh"), 100)
	compressed, err := c.Compress(original, c.DefaultLevel)
	require.NoError(t, err)

	_, err = c.Decompress(compressed[:len(compressed)/2])
	assert.ErrorIs(t, err, c.ErrCorrupted)
}

func TestCompressRejectsBadLevels(t *testing.T) {
	for _, level := range []int{-1, 10, 100} {
		_, err := c.Compress([]byte("data"), level)
		assert.ErrorIs(t, err, c.ErrInvalidLevel, "level %d", level)
	}
}

func TestEndToEndExamples(t *testing.T) {
	// The two canonical smoke tests: a short repetitive string at level 1,
	// and the empty string at every level.
	compressed, err := c.Compress([]byte("aaaaaaaaaa"), 1)
	require.NoError(t, err)
	decompressed, err := c.Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, []byte("aaaaaaaaaa"), decompressed)

	for level := c.MinLevel; level <= c.MaxLevel; level++ {
		compressed, err := c.Compress([]byte{}, level)
		require.NoError(t, err, "level %d", level)
		decompressed, err := c.Decompress(compressed)
		require.NoError(t, err, "level %d", level)
		assert.Empty(t, decompressed, "level %d", level)
	}
}

func TestCompressionActuallyCompresses(t *testing.T) {
	data := bytes.Repeat([]byte{'z'}, 32768)

	compressed, err := c.Compress(data, c.DefaultLevel)
	require.NoError(t, err)
	assert.Less(
		t, len(compressed), len(data)/10,
		"32 KiB of one byte should shrink by at least 10x")
}

func TestStreamWrappers(t *testing.T) {
	sourceData := bytes.Repeat([]byte("stream wrapper round trip data. "), 64)

	compressedBuffer := make([]byte, 4096)
	compressedWriter := bytewriter.New(compressedBuffer)

	compressedSize, err := c.CompressStream(
		bytes.NewReader(sourceData), compressedWriter, c.DefaultLevel)
	require.NoError(t, err, "unexpected error while compressing")
	t.Logf("compressed %d -> %d bytes", len(sourceData), compressedSize)

	decompressedBuffer := make([]byte, len(sourceData))
	decompressedWriter := bytewriter.New(decompressedBuffer)

	n, err := c.DecompressStream(
		bytes.NewReader(compressedBuffer[:compressedSize]), decompressedWriter)
	require.NoError(t, err, "unexpected error while decompressing")
	assert.EqualValues(t, len(sourceData), n, "decompressed size is wrong")
	assert.Equal(t, sourceData, decompressedBuffer, "decompressed data is wrong")
}
