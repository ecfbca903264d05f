package compression

import (
	"bytes"
	"fmt"
)

// Run-length packet codec as used by TGA images (and near-identical cousins
// in other ancient formats). The stream is a sequence of packets, each led
// by a header byte: if bit 7 is set, the low seven bits give a repeat count
// N and one pixel value follows, standing for N+1 copies; if bit 7 is
// clear, N+1 literal pixel values follow. A packet covers at most 128
// pixels, and a "pixel" is pixelSize bytes.

const maxRLEPacketPixels = 128

// pixelRun returns the number of consecutive pixels equal to the pixel at
// `pos`, capped at maxRLEPacketPixels. Operates on whole pixels, never
// partial ones.
func pixelRun(data []byte, pos, pixelSize int) int {
	first := data[pos : pos+pixelSize]
	run := 1
	for run < maxRLEPacketPixels {
		next := pos + run*pixelSize
		if next+pixelSize > len(data) {
			break
		}
		if !bytes.Equal(first, data[next:next+pixelSize]) {
			break
		}
		run++
	}
	return run
}

// PackRLE compresses pixel data into RLE packets. len(data) must be a
// multiple of pixelSize.
//
// Runs of two identical pixels are still emitted as RLE packets; a run of
// two costs the same either way and keeps the encoder simple.
func PackRLE(data []byte, pixelSize int) ([]byte, error) {
	if pixelSize < 1 || pixelSize > 4 {
		return nil, fmt.Errorf("invalid pixel size %d", pixelSize)
	}
	if len(data)%pixelSize != 0 {
		return nil, fmt.Errorf(
			"pixel data length %d is not a multiple of the pixel size %d", len(data), pixelSize)
	}

	var output []byte
	pos := 0
	for pos < len(data) {
		run := pixelRun(data, pos, pixelSize)

		if run >= 2 {
			output = append(output, byte(0x80|(run-1)))
			output = append(output, data[pos:pos+pixelSize]...)
			pos += run * pixelSize
			continue
		}

		// Collect pixels until the next run of >= 2 starts, up to the
		// packet limit, and emit them as one raw packet.
		rawStart := pos
		rawPixels := 0
		for pos < len(data) && rawPixels < maxRLEPacketPixels {
			if pixelRun(data, pos, pixelSize) >= 2 {
				break
			}
			pos += pixelSize
			rawPixels++
		}
		output = append(output, byte(rawPixels-1))
		output = append(output, data[rawStart:pos]...)
	}

	return output, nil
}

// UnpackRLE expands RLE packets back into exactly expectedPixels pixels of
// pixelSize bytes each. A stream that ends mid-packet or disagrees with the
// expected pixel count is an error.
func UnpackRLE(data []byte, pixelSize, expectedPixels int) ([]byte, error) {
	if pixelSize < 1 || pixelSize > 4 {
		return nil, fmt.Errorf("invalid pixel size %d", pixelSize)
	}

	output := make([]byte, 0, expectedPixels*pixelSize)
	pixelsOut := 0
	pos := 0

	for pixelsOut < expectedPixels {
		if pos >= len(data) {
			return nil, fmt.Errorf(
				"RLE stream truncated: have %d of %d pixels", pixelsOut, expectedPixels)
		}

		header := data[pos]
		pos++
		count := int(header&0x7F) + 1

		if pixelsOut+count > expectedPixels {
			return nil, fmt.Errorf(
				"RLE packet of %d pixels overruns image (%d of %d pixels so far)",
				count, pixelsOut, expectedPixels)
		}

		if header&0x80 != 0 {
			if pos+pixelSize > len(data) {
				return nil, fmt.Errorf("RLE stream truncated inside a run packet")
			}
			pixel := data[pos : pos+pixelSize]
			pos += pixelSize
			for i := 0; i < count; i++ {
				output = append(output, pixel...)
			}
		} else {
			byteCount := count * pixelSize
			if pos+byteCount > len(data) {
				return nil, fmt.Errorf("RLE stream truncated inside a raw packet")
			}
			output = append(output, data[pos:pos+byteCount]...)
			pos += byteCount
		}
		pixelsOut += count
	}

	return output, nil
}
