package image

import (
	"encoding/binary"
	"fmt"

	"github.com/fconvert/fconvert"
)

// Windows BITMAPFILEHEADER (14 bytes) followed by BITMAPINFOHEADER (40
// bytes). Only uncompressed (BI_RGB) 24- and 32-bit images are handled.
const (
	bmpFileHeaderSize = 14
	bmpInfoHeaderSize = 40
	bmpHeaderSize     = bmpFileHeaderSize + bmpInfoHeaderSize

	// 2835 pixels per meter is 72 DPI.
	bmpPixelsPerMeter = 2835
)

// IsBMP reports whether data starts with the "BM" signature.
func IsBMP(data []byte) bool {
	return len(data) >= 2 && data[0] == 'B' && data[1] == 'M'
}

// bmpRowSize returns the padded size of one stored row; BMP rows are
// aligned to four bytes.
func bmpRowSize(width, bitsPerPixel int) int {
	return ((width*bitsPerPixel+7)/8 + 3) &^ 3
}

// DecodeBMP decodes an uncompressed 24- or 32-bit BMP. The stored BGR(A)
// order is swapped to RGB(A), and bottom-up row order (the common case)
// is flipped to top-down.
func DecodeBMP(data []byte) (*Pixmap, error) {
	if len(data) < bmpHeaderSize {
		return nil, fconvert.ErrCorruptedFile.WithMessage("BMP file too small for its headers")
	}
	if !IsBMP(data) {
		return nil, fconvert.ErrUnknownFormat.WithMessage("not a BMP file")
	}

	dataOffset := int(binary.LittleEndian.Uint32(data[10:14]))
	infoHeaderSize := int(binary.LittleEndian.Uint32(data[14:18]))
	width := int(int32(binary.LittleEndian.Uint32(data[18:22])))
	rawHeight := int(int32(binary.LittleEndian.Uint32(data[22:26])))
	planes := binary.LittleEndian.Uint16(data[26:28])
	bitsPerPixel := int(binary.LittleEndian.Uint16(data[28:30]))
	compressionMethod := binary.LittleEndian.Uint32(data[30:34])

	if infoHeaderSize < bmpInfoHeaderSize || planes != 1 || width <= 0 || rawHeight == 0 {
		return nil, fconvert.ErrCorruptedFile.WithMessage("bad BMP info header")
	}
	if bitsPerPixel != 24 && bitsPerPixel != 32 {
		return nil, fconvert.ErrNotImplemented.WithMessage(
			fmt.Sprintf("%d-bit BMP", bitsPerPixel))
	}
	if compressionMethod != 0 {
		return nil, fconvert.ErrNotImplemented.WithMessage(
			fmt.Sprintf("compressed BMP (method %d)", compressionMethod))
	}

	// Negative height means the rows are already stored top-down.
	height := rawHeight
	bottomUp := true
	if height < 0 {
		height = -height
		bottomUp = false
	}

	channels := bitsPerPixel / 8
	rowSize := bmpRowSize(width, bitsPerPixel)
	if dataOffset < bmpHeaderSize || dataOffset+rowSize*height > len(data) {
		return nil, fconvert.ErrCorruptedFile.WithMessage("BMP pixel data runs past end of file")
	}

	pixmap := NewPixmap(width, height, channels)
	for y := 0; y < height; y++ {
		destRow := y
		if bottomUp {
			destRow = height - 1 - y
		}
		src := data[dataOffset+y*rowSize:]
		dest := pixmap.Pixels[destRow*pixmap.rowSize():]

		for x := 0; x < width; x++ {
			dest[x*channels+0] = src[x*channels+2]
			dest[x*channels+1] = src[x*channels+1]
			dest[x*channels+2] = src[x*channels+0]
			if channels == 4 {
				dest[x*4+3] = src[x*4+3]
			}
		}
	}

	return pixmap, nil
}

// EncodeBMP writes a 24-bit uncompressed BMP, dropping the alpha channel
// if the image has one.
func EncodeBMP(pixmap *Pixmap) ([]byte, error) {
	if err := pixmap.validate(); err != nil {
		return nil, err
	}
	flat := pixmap.dropAlpha()

	rowSize := bmpRowSize(flat.Width, 24)
	pixelDataSize := rowSize * flat.Height
	output := make([]byte, bmpHeaderSize+pixelDataSize)

	output[0], output[1] = 'B', 'M'
	binary.LittleEndian.PutUint32(output[2:6], uint32(len(output)))
	binary.LittleEndian.PutUint32(output[10:14], bmpHeaderSize)

	info := output[bmpFileHeaderSize:]
	binary.LittleEndian.PutUint32(info[0:4], bmpInfoHeaderSize)
	binary.LittleEndian.PutUint32(info[4:8], uint32(flat.Width))
	binary.LittleEndian.PutUint32(info[8:12], uint32(flat.Height)) // positive: bottom-up
	binary.LittleEndian.PutUint16(info[12:14], 1)                  // planes
	binary.LittleEndian.PutUint16(info[14:16], 24)
	binary.LittleEndian.PutUint32(info[20:24], uint32(pixelDataSize))
	binary.LittleEndian.PutUint32(info[24:28], bmpPixelsPerMeter)
	binary.LittleEndian.PutUint32(info[28:32], bmpPixelsPerMeter)

	for y := 0; y < flat.Height; y++ {
		src := flat.Pixels[(flat.Height-1-y)*flat.rowSize():]
		dest := output[bmpHeaderSize+y*rowSize:]
		for x := 0; x < flat.Width; x++ {
			dest[x*3+0] = src[x*3+2]
			dest[x*3+1] = src[x*3+1]
			dest[x*3+2] = src[x*3+0]
		}
	}

	return output, nil
}
