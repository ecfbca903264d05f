package image

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/adler32"
	"hash/crc32"

	"github.com/fconvert/fconvert"
	"github.com/fconvert/fconvert/utilities/compression"
)

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}

// PNG color types from the IHDR chunk.
const (
	pngGrayscale      = 0
	pngTrueColor      = 2
	pngGrayscaleAlpha = 4
	pngTrueColorAlpha = 6
)

// Scanline filter types.
const (
	pngFilterNone    = 0
	pngFilterSub     = 1
	pngFilterUp      = 2
	pngFilterAverage = 3
	pngFilterPaeth   = 4
)

// IsPNG reports whether data starts with the PNG signature.
func IsPNG(data []byte) bool {
	return len(data) >= 8 && bytes.Equal(data[:8], pngSignature)
}

// paethPredictor picks whichever of left, up, and upper-left is closest to
// left + up - upperLeft (RFC 2083 section 6.6).
func paethPredictor(left, up, upperLeft byte) byte {
	p := int(left) + int(up) - int(upperLeft)
	pa := abs(p - int(left))
	pb := abs(p - int(up))
	pc := abs(p - int(upperLeft))
	if pa <= pb && pa <= pc {
		return left
	}
	if pb <= pc {
		return up
	}
	return upperLeft
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// unfilterScanline reverses one row's filter in place. previous is nil for
// the first row.
func unfilterScanline(current, previous []byte, filterType, bytesPerPixel int) error {
	switch filterType {
	case pngFilterNone:

	case pngFilterSub:
		for i := bytesPerPixel; i < len(current); i++ {
			current[i] += current[i-bytesPerPixel]
		}

	case pngFilterUp:
		if previous != nil {
			for i := range current {
				current[i] += previous[i]
			}
		}

	case pngFilterAverage:
		for i := range current {
			var left, up int
			if i >= bytesPerPixel {
				left = int(current[i-bytesPerPixel])
			}
			if previous != nil {
				up = int(previous[i])
			}
			current[i] += byte((left + up) / 2)
		}

	case pngFilterPaeth:
		for i := range current {
			var left, up, upperLeft byte
			if i >= bytesPerPixel {
				left = current[i-bytesPerPixel]
			}
			if previous != nil {
				up = previous[i]
				if i >= bytesPerPixel {
					upperLeft = previous[i-bytesPerPixel]
				}
			}
			current[i] += paethPredictor(left, up, upperLeft)
		}

	default:
		return fconvert.ErrCorruptedFile.WithMessage(
			fmt.Sprintf("bad scanline filter type %d", filterType))
	}
	return nil
}

// pngChunk is one decoded chunk, CRC already verified.
type pngChunk struct {
	chunkType string
	data      []byte
}

// parseChunks walks the chunk stream after the signature, verifying each
// chunk's CRC, and stops after IEND.
func parseChunks(data []byte) ([]pngChunk, error) {
	var chunks []pngChunk
	pos := 8

	for pos+12 <= len(data) {
		length := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		if pos+12+length > len(data) {
			return nil, fconvert.ErrCorruptedFile.WithMessage("PNG chunk runs past end of file")
		}

		chunkType := string(data[pos+4 : pos+8])
		chunkData := data[pos+8 : pos+8+length]

		// The CRC covers the type field and the data, not the length.
		expected := binary.BigEndian.Uint32(data[pos+8+length : pos+12+length])
		if actual := crc32.ChecksumIEEE(data[pos+4 : pos+8+length]); actual != expected {
			return nil, fconvert.ErrCorruptedFile.WithMessage(
				fmt.Sprintf("CRC mismatch in %s chunk", chunkType))
		}

		chunks = append(chunks, pngChunk{chunkType: chunkType, data: chunkData})
		pos += 12 + length

		if chunkType == "IEND" {
			break
		}
	}

	if len(chunks) == 0 || chunks[0].chunkType != "IHDR" {
		return nil, fconvert.ErrCorruptedFile.WithMessage("PNG file does not start with IHDR")
	}
	return chunks, nil
}

// DecodePNG decodes a non-interlaced 8-bit PNG. Grayscale images are
// widened to RGB, grayscale+alpha to RGBA; palette images are not
// supported.
func DecodePNG(data []byte) (*Pixmap, error) {
	if !IsPNG(data) {
		return nil, fconvert.ErrUnknownFormat.WithMessage("not a PNG file")
	}

	chunks, err := parseChunks(data)
	if err != nil {
		return nil, err
	}

	ihdr := chunks[0].data
	if len(ihdr) != 13 {
		return nil, fconvert.ErrCorruptedFile.WithMessage("IHDR chunk must be 13 bytes")
	}

	width := int(binary.BigEndian.Uint32(ihdr[0:4]))
	height := int(binary.BigEndian.Uint32(ihdr[4:8]))
	bitDepth := ihdr[8]
	colorType := ihdr[9]
	interlace := ihdr[12]

	if width <= 0 || height <= 0 {
		return nil, fconvert.ErrCorruptedFile.WithMessage("bad PNG dimensions")
	}
	if bitDepth != 8 {
		return nil, fconvert.ErrNotImplemented.WithMessage(
			fmt.Sprintf("PNG bit depth %d (only 8 is supported)", bitDepth))
	}
	if interlace != 0 {
		return nil, fconvert.ErrNotImplemented.WithMessage("interlaced PNG")
	}

	var samplesPerPixel, outputChannels int
	switch colorType {
	case pngGrayscale:
		samplesPerPixel, outputChannels = 1, 3
	case pngTrueColor:
		samplesPerPixel, outputChannels = 3, 3
	case pngGrayscaleAlpha:
		samplesPerPixel, outputChannels = 2, 4
	case pngTrueColorAlpha:
		samplesPerPixel, outputChannels = 4, 4
	default:
		return nil, fconvert.ErrNotImplemented.WithMessage(
			fmt.Sprintf("PNG color type %d", colorType))
	}

	var idat []byte
	for _, chunk := range chunks[1:] {
		if chunk.chunkType == "IDAT" {
			idat = append(idat, chunk.data...)
		}
	}

	raw, err := unwrapZlib(idat)
	if err != nil {
		return nil, err
	}

	scanlineSize := width * samplesPerPixel
	if len(raw) != height*(scanlineSize+1) {
		return nil, fconvert.ErrCorruptedFile.WithMessage(fmt.Sprintf(
			"decompressed image data is %d bytes, expected %d",
			len(raw), height*(scanlineSize+1)))
	}

	pixmap := NewPixmap(width, height, outputChannels)
	var previous []byte

	for y := 0; y < height; y++ {
		offset := y * (scanlineSize + 1)
		scanline := raw[offset+1 : offset+1+scanlineSize]

		err := unfilterScanline(scanline, previous, int(raw[offset]), samplesPerPixel)
		if err != nil {
			return nil, err
		}
		previous = scanline

		for x := 0; x < width; x++ {
			sample := scanline[x*samplesPerPixel:]
			out := pixmap.Pixels[(y*width+x)*outputChannels:]

			switch colorType {
			case pngGrayscale:
				out[0], out[1], out[2] = sample[0], sample[0], sample[0]
			case pngGrayscaleAlpha:
				out[0], out[1], out[2], out[3] = sample[0], sample[0], sample[0], sample[1]
			default:
				copy(out[:samplesPerPixel], sample[:samplesPerPixel])
			}
		}
	}

	return pixmap, nil
}

// unwrapZlib strips the RFC 1950 wrapper around a DEFLATE stream and
// verifies the Adler-32 trailer.
func unwrapZlib(data []byte) ([]byte, error) {
	if len(data) < 6 {
		return nil, fconvert.ErrCorruptedFile.WithMessage("zlib stream too short")
	}
	if data[0]&0x0F != 8 {
		return nil, fconvert.ErrCorruptedFile.WithMessage("zlib stream is not DEFLATE")
	}
	if data[1]&0x20 != 0 {
		return nil, fconvert.ErrNotImplemented.WithMessage("zlib preset dictionary")
	}

	raw, err := compression.Decompress(data[2 : len(data)-4])
	if err != nil {
		return nil, fconvert.ErrCorruptedFile.Wrap(err)
	}

	expected := binary.BigEndian.Uint32(data[len(data)-4:])
	if actual := adler32.Checksum(raw); actual != expected {
		return nil, fconvert.ErrCorruptedFile.WithMessage("zlib Adler-32 mismatch")
	}
	return raw, nil
}

// wrapZlib compresses raw and adds the RFC 1950 header and Adler-32
// trailer.
func wrapZlib(raw []byte, level int) ([]byte, error) {
	compressed, err := compression.Compress(raw, level)
	if err != nil {
		return nil, err
	}

	output := make([]byte, 0, len(compressed)+6)
	// CMF 0x78: method 8, 32K window. FLG chosen so (CMF<<8|FLG) % 31 == 0.
	output = append(output, 0x78, 0x01)
	output = append(output, compressed...)
	output = binary.BigEndian.AppendUint32(output, adler32.Checksum(raw))
	return output, nil
}

func appendChunk(output, chunkType, data []byte) []byte {
	output = binary.BigEndian.AppendUint32(output, uint32(len(data)))
	start := len(output)
	output = append(output, chunkType...)
	output = append(output, data...)
	return binary.BigEndian.AppendUint32(output, crc32.ChecksumIEEE(output[start:]))
}

// EncodePNG writes an 8-bit truecolor (or truecolor+alpha) PNG. Every
// scanline uses filter type None; the DEFLATE layer does all the work.
func EncodePNG(pixmap *Pixmap, level int) ([]byte, error) {
	if err := pixmap.validate(); err != nil {
		return nil, err
	}

	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], uint32(pixmap.Width))
	binary.BigEndian.PutUint32(ihdr[4:8], uint32(pixmap.Height))
	ihdr[8] = 8
	if pixmap.Channels == 4 {
		ihdr[9] = pngTrueColorAlpha
	} else {
		ihdr[9] = pngTrueColor
	}

	scanlineSize := pixmap.rowSize()
	raw := make([]byte, 0, pixmap.Height*(scanlineSize+1))
	for y := 0; y < pixmap.Height; y++ {
		raw = append(raw, pngFilterNone)
		raw = append(raw, pixmap.Pixels[y*scanlineSize:(y+1)*scanlineSize]...)
	}

	idat, err := wrapZlib(raw, level)
	if err != nil {
		return nil, err
	}

	output := append([]byte(nil), pngSignature...)
	output = appendChunk(output, []byte("IHDR"), ihdr)
	output = appendChunk(output, []byte("IDAT"), idat)
	output = appendChunk(output, []byte("IEND"), nil)
	return output, nil
}
