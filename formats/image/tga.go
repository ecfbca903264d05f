package image

import (
	"encoding/binary"
	"fmt"

	"github.com/fconvert/fconvert"
	"github.com/fconvert/fconvert/utilities/compression"
)

// TGA image types. Color-mapped images (types 1 and 9) are not handled.
const (
	tgaHeaderSize = 18

	tgaTypeTrueColor    = 2
	tgaTypeGrayscale    = 3
	tgaTypeRLETrueColor = 10
	tgaTypeRLEGrayscale = 11

	// Bit 5 of the image descriptor: origin in the upper-left corner.
	tgaOriginUpper = 0x20
)

// IsTGA applies a plausibility check to the 18-byte header. TGA has no
// magic number, so this can only reject the obviously wrong; callers
// should prefer the file extension.
func IsTGA(data []byte) bool {
	if len(data) < tgaHeaderSize {
		return false
	}
	imageType := data[2]
	pixelDepth := data[16]
	validType := imageType == tgaTypeTrueColor || imageType == tgaTypeGrayscale ||
		imageType == tgaTypeRLETrueColor || imageType == tgaTypeRLEGrayscale
	return validType && (pixelDepth == 8 || pixelDepth == 24 || pixelDepth == 32) &&
		data[1] <= 1
}

// DecodeTGA decodes an uncompressed or RLE-compressed truecolor or
// grayscale TGA. Grayscale is widened to RGB; the stored BGR(A) order is
// swapped to RGB(A).
func DecodeTGA(data []byte) (*Pixmap, error) {
	if len(data) < tgaHeaderSize {
		return nil, fconvert.ErrCorruptedFile.WithMessage("TGA file too small for its header")
	}

	idLength := int(data[0])
	colorMapType := data[1]
	imageType := data[2]
	colorMapLength := int(binary.LittleEndian.Uint16(data[5:7]))
	colorMapEntrySize := int(data[7])
	width := int(binary.LittleEndian.Uint16(data[12:14]))
	height := int(binary.LittleEndian.Uint16(data[14:16]))
	pixelDepth := int(data[16])
	descriptor := data[17]

	switch imageType {
	case tgaTypeTrueColor, tgaTypeGrayscale, tgaTypeRLETrueColor, tgaTypeRLEGrayscale:
	default:
		return nil, fconvert.ErrNotImplemented.WithMessage(
			fmt.Sprintf("TGA image type %d", imageType))
	}
	if pixelDepth != 8 && pixelDepth != 24 && pixelDepth != 32 {
		return nil, fconvert.ErrNotImplemented.WithMessage(
			fmt.Sprintf("%d-bit TGA", pixelDepth))
	}
	if width == 0 || height == 0 {
		return nil, fconvert.ErrCorruptedFile.WithMessage("bad TGA dimensions")
	}

	bytesPerPixel := pixelDepth / 8
	grayscale := imageType == tgaTypeGrayscale || imageType == tgaTypeRLEGrayscale
	compressed := imageType == tgaTypeRLETrueColor || imageType == tgaTypeRLEGrayscale

	dataOffset := tgaHeaderSize + idLength
	if colorMapType == 1 {
		dataOffset += colorMapLength * (colorMapEntrySize / 8)
	}
	if dataOffset >= len(data) {
		return nil, fconvert.ErrCorruptedFile.WithMessage("TGA pixel data is missing")
	}

	pixelCount := width * height
	var raw []byte
	if compressed {
		var err error
		raw, err = compression.UnpackRLE(data[dataOffset:], bytesPerPixel, pixelCount)
		if err != nil {
			return nil, fconvert.ErrCorruptedFile.Wrap(err)
		}
	} else {
		end := dataOffset + pixelCount*bytesPerPixel
		if end > len(data) {
			return nil, fconvert.ErrCorruptedFile.WithMessage("TGA pixel data runs past end of file")
		}
		raw = data[dataOffset:end]
	}

	var pixmap *Pixmap
	if grayscale {
		pixmap = NewPixmap(width, height, 3)
		for i := 0; i < pixelCount; i++ {
			gray := raw[i]
			pixmap.Pixels[i*3+0] = gray
			pixmap.Pixels[i*3+1] = gray
			pixmap.Pixels[i*3+2] = gray
		}
	} else {
		pixmap = NewPixmap(width, height, bytesPerPixel)
		for i := 0; i < pixelCount; i++ {
			pixmap.Pixels[i*bytesPerPixel+0] = raw[i*bytesPerPixel+2]
			pixmap.Pixels[i*bytesPerPixel+1] = raw[i*bytesPerPixel+1]
			pixmap.Pixels[i*bytesPerPixel+2] = raw[i*bytesPerPixel+0]
			if bytesPerPixel == 4 {
				pixmap.Pixels[i*4+3] = raw[i*4+3]
			}
		}
	}

	if descriptor&tgaOriginUpper == 0 {
		pixmap.flipVertical()
	}
	return pixmap, nil
}

// tgaHeader builds the fixed 18-byte header for a top-origin truecolor
// image.
func tgaHeader(pixmap *Pixmap, imageType byte) []byte {
	header := make([]byte, tgaHeaderSize)
	header[2] = imageType
	binary.LittleEndian.PutUint16(header[12:14], uint16(pixmap.Width))
	binary.LittleEndian.PutUint16(header[14:16], uint16(pixmap.Height))
	header[16] = byte(pixmap.Channels * 8)
	header[17] = tgaOriginUpper
	return header
}

// toBGR returns the pixel data with the R and B samples swapped, which is
// the order TGA stores.
func toBGR(pixmap *Pixmap) []byte {
	swapped := make([]byte, len(pixmap.Pixels))
	channels := pixmap.Channels
	for i := 0; i < pixmap.Width*pixmap.Height; i++ {
		swapped[i*channels+0] = pixmap.Pixels[i*channels+2]
		swapped[i*channels+1] = pixmap.Pixels[i*channels+1]
		swapped[i*channels+2] = pixmap.Pixels[i*channels+0]
		if channels == 4 {
			swapped[i*4+3] = pixmap.Pixels[i*4+3]
		}
	}
	return swapped
}

// EncodeTGA writes an uncompressed (type 2) truecolor TGA with the origin
// in the upper-left corner.
func EncodeTGA(pixmap *Pixmap) ([]byte, error) {
	if err := pixmap.validate(); err != nil {
		return nil, err
	}
	if pixmap.Width > 0xFFFF || pixmap.Height > 0xFFFF {
		return nil, fconvert.ErrInvalidArgument.WithMessage("image too large for TGA")
	}
	return append(tgaHeader(pixmap, tgaTypeTrueColor), toBGR(pixmap)...), nil
}

// EncodeTGARLE writes an RLE-compressed (type 10) truecolor TGA.
func EncodeTGARLE(pixmap *Pixmap) ([]byte, error) {
	if err := pixmap.validate(); err != nil {
		return nil, err
	}
	if pixmap.Width > 0xFFFF || pixmap.Height > 0xFFFF {
		return nil, fconvert.ErrInvalidArgument.WithMessage("image too large for TGA")
	}

	packed, err := compression.PackRLE(toBGR(pixmap), pixmap.Channels)
	if err != nil {
		return nil, fconvert.ErrInvalidArgument.Wrap(err)
	}
	return append(tgaHeader(pixmap, tgaTypeRLETrueColor), packed...), nil
}
