package fconvert

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// ConvertError is the error type shared by everything in this module. Every
// sentinel below is a ConvertError, and derived errors keep their sentinel
// as an ancestor so errors.Is works across any number of WithMessage/Wrap
// layers.
type ConvertError interface {
	error
	WithMessage(message string) ConvertError
	Wrap(err error) ConvertError
}

type baseConvertError string

const rootError = baseConvertError("")

var ErrCorruptedFile = rootError.WithMessage("File is corrupted")
var ErrFileExists = rootError.WithMessage("Output file already exists")
var ErrInvalidArgument = rootError.WithMessage("Invalid argument")
var ErrIOFailed = rootError.WithMessage("Input/output error")
var ErrNotImplemented = rootError.WithMessage("Conversion not implemented")
var ErrUnknownFormat = rootError.WithMessage("Unrecognized file format")
var ErrUnsupportedConversion = rootError.WithMessage("No converter supports this conversion")

func (e baseConvertError) Error() string {
	return string(e)
}

func (e baseConvertError) WithMessage(message string) ConvertError {
	return customConvertError{
		message:       message,
		originalError: e,
	}
}

func (e baseConvertError) Wrap(err error) ConvertError {
	return customConvertError{
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

// -----------------------------------------------------------------------------

type customConvertError struct {
	message       string
	originalError error
}

func (e customConvertError) Error() string {
	return e.message
}

func (e customConvertError) WithMessage(message string) ConvertError {
	return customConvertError{
		message:       fmt.Sprintf("%s: %s", e.message, message),
		originalError: e,
	}
}

func (e customConvertError) Wrap(err error) ConvertError {
	return customConvertError{
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

func (e customConvertError) Unwrap() error {
	return e.originalError
}
