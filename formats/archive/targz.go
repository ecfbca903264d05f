package archive

import (
	"time"

	"github.com/fconvert/fconvert"
)

// WriteTarGz serializes entries into a tar archive and wraps it in a gzip
// member.
func WriteTarGz(entries []TarEntry, level int) ([]byte, error) {
	tarball, err := WriteTar(entries)
	if err != nil {
		return nil, err
	}
	return WriteGzip(tarball, "", time.Time{}, level)
}

// ReadTarGz unwraps a gzip member and parses the tar archive inside it.
func ReadTarGz(data []byte) ([]TarEntry, error) {
	member, err := ReadGzip(data)
	if err != nil {
		return nil, err
	}
	if !IsTar(member.Data) {
		return nil, fconvert.ErrCorruptedFile.WithMessage(
			"gzip member does not contain a tar archive")
	}
	return ReadTar(member.Data)
}
