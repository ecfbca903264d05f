package image

import (
	"fmt"

	"github.com/fconvert/fconvert"
)

// Converter translates between the raster formats by decoding to a Pixmap
// and re-encoding.
type Converter struct{}

func init() {
	fconvert.DefaultRegistry.Register(Converter{})
}

func (Converter) Category() fconvert.Category {
	return fconvert.CategoryImage
}

var imageFormats = map[string]bool{
	"png": true,
	"bmp": true,
	"tga": true,
}

func (Converter) CanConvert(fromFormat, toFormat string) bool {
	return fromFormat != toFormat && imageFormats[fromFormat] && imageFormats[toFormat]
}

func (c Converter) Convert(
	input []byte, fromFormat, toFormat string, params fconvert.Params,
) ([]byte, error) {
	if !c.CanConvert(fromFormat, toFormat) {
		return nil, fconvert.ErrUnsupportedConversion.WithMessage(
			fmt.Sprintf("%s -> %s", fromFormat, toFormat))
	}

	pixmap, err := Decode(input, fromFormat)
	if err != nil {
		return nil, err
	}
	return Encode(pixmap, toFormat, params.Level)
}

// Decode parses image data in the named format into a Pixmap.
func Decode(input []byte, format string) (*Pixmap, error) {
	switch format {
	case "png":
		return DecodePNG(input)
	case "bmp":
		return DecodeBMP(input)
	case "tga":
		return DecodeTGA(input)
	default:
		return nil, fconvert.ErrUnknownFormat.WithMessage(format)
	}
}

// Encode serializes a Pixmap in the named format. level only matters for
// PNG; TGA output is RLE-compressed when that actually saves space.
func Encode(pixmap *Pixmap, format string, level int) ([]byte, error) {
	switch format {
	case "png":
		return EncodePNG(pixmap, level)

	case "bmp":
		return EncodeBMP(pixmap)

	case "tga":
		packed, err := EncodeTGARLE(pixmap)
		if err != nil {
			return nil, err
		}
		flat, err := EncodeTGA(pixmap)
		if err != nil {
			return nil, err
		}
		if len(packed) < len(flat) {
			return packed, nil
		}
		return flat, nil

	default:
		return nil, fconvert.ErrUnknownFormat.WithMessage(format)
	}
}
