// Package fconvert is a multi-format file converter built around a
// from-scratch DEFLATE implementation (utilities/compression). The root
// package holds the pieces every format handler shares: the Converter
// interface, the registry that routes conversions, file-type detection, and
// the error vocabulary.
package fconvert

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Category groups formats by the kind of payload they describe. A converter
// only ever translates within its own category.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryImage
	CategoryArchive
	CategoryFileSystem
)

func (c Category) String() string {
	switch c {
	case CategoryImage:
		return "image"
	case CategoryArchive:
		return "archive"
	case CategoryFileSystem:
		return "file system"
	default:
		return "unknown"
	}
}

// Params carries the knobs a conversion may honor. Converters ignore fields
// that don't apply to them.
type Params struct {
	// Level is the DEFLATE compression level (0-9) for formats that
	// compress their payload.
	Level int
	// Overwrite allows ConvertFile to replace an existing output file.
	Overwrite bool
}

// DefaultParams returns the parameters used when the caller doesn't care.
func DefaultParams() Params {
	return Params{Level: 6}
}

// Converter translates between file formats of one category. Formats are
// identified by their conventional lowercase extension without the dot
// ("png", "tgz", ...).
type Converter interface {
	// Convert transcodes input from one format into another, returning the
	// output file's bytes.
	Convert(input []byte, fromFormat, toFormat string, params Params) ([]byte, error)
	// CanConvert reports whether this converter handles the given pair.
	CanConvert(fromFormat, toFormat string) bool
	// Category returns the format category this converter serves.
	Category() Category
}

// Registry routes a conversion request to the first registered converter
// that claims the format pair.
type Registry struct {
	mutex      sync.RWMutex
	converters []Converter
}

// DefaultRegistry is the registry the format subpackages register
// themselves into from their init functions. Importing a format package is
// what makes its conversions available:
//
//	import _ "github.com/fconvert/fconvert/formats/image"
var DefaultRegistry = &Registry{}

// Register adds a converter to the registry. Converters are consulted in
// registration order.
func (registry *Registry) Register(converter Converter) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	registry.converters = append(registry.converters, converter)
}

func (registry *Registry) findConverter(fromFormat, toFormat string) Converter {
	registry.mutex.RLock()
	defer registry.mutex.RUnlock()
	for _, converter := range registry.converters {
		if converter.CanConvert(fromFormat, toFormat) {
			return converter
		}
	}
	return nil
}

// CanConvert reports whether any registered converter handles the pair.
func (registry *Registry) CanConvert(fromFormat, toFormat string) bool {
	return registry.findConverter(fromFormat, toFormat) != nil
}

// ConvertData converts an in-memory file between two formats.
func (registry *Registry) ConvertData(
	input []byte, fromFormat, toFormat string, params Params,
) ([]byte, error) {
	fromFormat = NormalizeFormat(fromFormat)
	toFormat = NormalizeFormat(toFormat)

	converter := registry.findConverter(fromFormat, toFormat)
	if converter == nil {
		return nil, ErrUnsupportedConversion.WithMessage(
			fmt.Sprintf("%s -> %s", fromFormat, toFormat))
	}

	Log.WithField("from", fromFormat).WithField("to", toFormat).
		Debug("dispatching conversion")
	return converter.Convert(input, fromFormat, toFormat, params)
}

// ConvertFile reads inputPath, converts it to the format implied by
// outputPath's extension, and writes the result. The input format comes
// from content sniffing, falling back to the input path's extension.
func (registry *Registry) ConvertFile(inputPath, outputPath string, params Params) error {
	input, err := os.ReadFile(inputPath)
	if err != nil {
		return ErrIOFailed.Wrap(err)
	}

	fileType := Detect(input, inputPath)
	if fileType.Format == "" {
		return ErrUnknownFormat.WithMessage(inputPath)
	}

	toFormat := FormatFromPath(outputPath)
	if toFormat == "" {
		return ErrUnknownFormat.WithMessage(
			fmt.Sprintf("can't infer output format from %q", outputPath))
	}

	if !params.Overwrite {
		if _, err := os.Stat(outputPath); err == nil {
			return ErrFileExists.WithMessage(outputPath)
		}
	}

	output, err := registry.ConvertData(input, fileType.Format, toFormat, params)
	if err != nil {
		return err
	}

	if err := os.WriteFile(outputPath, output, 0o644); err != nil {
		return ErrIOFailed.Wrap(err)
	}
	return nil
}

// NormalizeFormat lowercases a format name and strips a leading dot, so
// ".PNG" and "png" mean the same thing.
func NormalizeFormat(format string) string {
	return strings.TrimPrefix(strings.ToLower(format), ".")
}

// FormatFromPath returns the normalized format a path's extension implies,
// treating ".tar.gz" as the single format "tgz".
func FormatFromPath(path string) string {
	lower := strings.ToLower(filepath.Base(path))
	if strings.HasSuffix(lower, ".tar.gz") {
		return "tgz"
	}
	return NormalizeFormat(filepath.Ext(lower))
}
