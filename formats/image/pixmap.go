// Package image implements the raster image codecs: PNG (backed by the
// DEFLATE engine in utilities/compression), BMP, and TGA. Every codec
// decodes into and encodes from the same in-memory Pixmap, so conversion
// is decode-then-encode.
package image

import (
	"fmt"

	"github.com/fconvert/fconvert"
)

// Pixmap is a decoded raster image: rows top to bottom, pixels left to
// right, samples in RGB or RGBA order with 8 bits per sample.
type Pixmap struct {
	Width    int
	Height   int
	Channels int // 3 (RGB) or 4 (RGBA)
	Pixels   []byte
}

// NewPixmap allocates a zeroed image of the given dimensions.
func NewPixmap(width, height, channels int) *Pixmap {
	return &Pixmap{
		Width:    width,
		Height:   height,
		Channels: channels,
		Pixels:   make([]byte, width*height*channels),
	}
}

// rowSize returns the number of bytes in one row of pixels.
func (p *Pixmap) rowSize() int {
	return p.Width * p.Channels
}

// validate checks the structural invariants every codec relies on.
func (p *Pixmap) validate() error {
	if p.Width <= 0 || p.Height <= 0 {
		return fconvert.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("bad image dimensions %dx%d", p.Width, p.Height))
	}
	if p.Channels != 3 && p.Channels != 4 {
		return fconvert.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("unsupported channel count %d", p.Channels))
	}
	if len(p.Pixels) != p.Width*p.Height*p.Channels {
		return fconvert.ErrInvalidArgument.WithMessage(fmt.Sprintf(
			"pixel buffer is %d bytes, %dx%dx%d needs %d",
			len(p.Pixels), p.Width, p.Height, p.Channels, p.Width*p.Height*p.Channels))
	}
	return nil
}

// flipVertical reverses the row order in place. BMP and bottom-origin TGA
// files store their rows upside down relative to the Pixmap convention.
func (p *Pixmap) flipVertical() {
	rowSize := p.rowSize()
	scratch := make([]byte, rowSize)
	for y := 0; y < p.Height/2; y++ {
		top := p.Pixels[y*rowSize : (y+1)*rowSize]
		bottom := p.Pixels[(p.Height-1-y)*rowSize : (p.Height-y)*rowSize]
		copy(scratch, top)
		copy(top, bottom)
		copy(bottom, scratch)
	}
}

// dropAlpha returns an RGB copy of the image, discarding the alpha channel
// if there is one.
func (p *Pixmap) dropAlpha() *Pixmap {
	if p.Channels == 3 {
		return p
	}
	flattened := NewPixmap(p.Width, p.Height, 3)
	for i := 0; i < p.Width*p.Height; i++ {
		copy(flattened.Pixels[i*3:i*3+3], p.Pixels[i*4:i*4+3])
	}
	return flattened
}
