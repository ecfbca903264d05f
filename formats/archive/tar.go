package archive

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/fconvert/fconvert"
	"github.com/noxer/bytewriter"
)

// POSIX.1-1988 ustar constants.
const (
	tarBlockSize     = 512
	tarMagic         = "ustar\x00"
	tarVersion       = "00"
	TarTypeRegular   = '0'
	TarTypeDirectory = '5'
)

// TarEntry is one file or directory in a TAR archive.
type TarEntry struct {
	Name     string
	Mode     int64
	UID      int
	GID      int
	ModTime  time.Time
	Typeflag byte
	Data     []byte
}

// IsTar reports whether data looks like a ustar archive: the magic sits at
// offset 257 of the first header block.
func IsTar(data []byte) bool {
	return len(data) >= tarBlockSize && bytes.HasPrefix(data[257:], []byte("ustar"))
}

// writeTarField writes a fixed-width, NUL-padded string field.
func writeTarField(w io.Writer, value string, width int) {
	if len(value) > width {
		value = value[:width]
	}
	w.Write([]byte(value))
	w.Write(make([]byte, width-len(value)))
}

// writeTarOctal writes a numeric field as zero-padded octal with a
// terminating NUL, the conservative encoding everything can read.
func writeTarOctal(w io.Writer, value int64, width int) {
	w.Write([]byte(fmt.Sprintf("%0*o\x00", width-1, value)))
}

// tarHeaderBlock serializes one entry's header into a 512-byte block,
// including the checksum.
func tarHeaderBlock(entry TarEntry) ([]byte, error) {
	if len(entry.Name) > 100 {
		return nil, fconvert.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("tar entry name longer than 100 bytes: %q", entry.Name))
	}

	block := make([]byte, tarBlockSize)
	w := bytewriter.New(block)

	writeTarField(w, entry.Name, 100)
	writeTarOctal(w, entry.Mode&0o7777, 8)
	writeTarOctal(w, int64(entry.UID), 8)
	writeTarOctal(w, int64(entry.GID), 8)
	writeTarOctal(w, int64(len(entry.Data)), 12)
	writeTarOctal(w, entry.ModTime.Unix(), 12)
	// Checksum is computed with the field itself set to spaces.
	w.Write([]byte("        "))

	typeflag := entry.Typeflag
	if typeflag == 0 {
		typeflag = TarTypeRegular
	}
	w.Write([]byte{typeflag})

	writeTarField(w, "", 100) // linkname
	writeTarField(w, tarMagic, 6)
	w.Write([]byte(tarVersion))
	writeTarField(w, "", 32)  // uname
	writeTarField(w, "", 32)  // gname
	writeTarOctal(w, 0, 8)    // devmajor
	writeTarOctal(w, 0, 8)    // devminor
	writeTarField(w, "", 155) // prefix

	var checksum int64
	for _, b := range block {
		checksum += int64(b)
	}
	// Six octal digits, NUL, space -- the historical encoding.
	copy(block[148:156], []byte(fmt.Sprintf("%06o\x00 ", checksum)))

	return block, nil
}

// WriteTar serializes entries into a ustar archive terminated by two zero
// blocks.
func WriteTar(entries []TarEntry) ([]byte, error) {
	var output bytes.Buffer

	for _, entry := range entries {
		header, err := tarHeaderBlock(entry)
		if err != nil {
			return nil, err
		}
		output.Write(header)

		output.Write(entry.Data)
		if padding := len(entry.Data) % tarBlockSize; padding != 0 {
			output.Write(make([]byte, tarBlockSize-padding))
		}
	}

	output.Write(make([]byte, 2*tarBlockSize))
	return output.Bytes(), nil
}

// parseTarOctal reads a numeric header field: octal digits, possibly
// space- or NUL-padded on either side.
func parseTarOctal(field []byte) (int64, error) {
	trimmed := strings.Trim(string(field), " \x00")
	if trimmed == "" {
		return 0, nil
	}
	value, err := strconv.ParseInt(trimmed, 8, 64)
	if err != nil {
		return 0, fconvert.ErrCorruptedFile.WithMessage(
			fmt.Sprintf("bad octal field in tar header: %q", field))
	}
	return value, nil
}

func parseTarString(field []byte) string {
	if end := bytes.IndexByte(field, 0); end >= 0 {
		field = field[:end]
	}
	return string(field)
}

// ReadTar parses a ustar archive into its entries. Header checksums are
// verified; an archive that ends without its two zero blocks is accepted,
// since plenty of writers truncate them.
func ReadTar(data []byte) ([]TarEntry, error) {
	var entries []TarEntry
	pos := 0

	for pos+tarBlockSize <= len(data) {
		block := data[pos : pos+tarBlockSize]
		pos += tarBlockSize

		// A zero block marks the end of the archive.
		if bytes.Equal(block, make([]byte, tarBlockSize)) {
			break
		}

		expected, err := parseTarOctal(block[148:156])
		if err != nil {
			return nil, err
		}
		var actual int64
		for i, b := range block {
			if i >= 148 && i < 156 {
				actual += int64(' ')
			} else {
				actual += int64(b)
			}
		}
		if actual != expected {
			return nil, fconvert.ErrCorruptedFile.WithMessage(
				fmt.Sprintf("tar header checksum mismatch at offset %d", pos-tarBlockSize))
		}

		size, err := parseTarOctal(block[124:136])
		if err != nil {
			return nil, err
		}
		mode, err := parseTarOctal(block[100:108])
		if err != nil {
			return nil, err
		}
		uid, err := parseTarOctal(block[108:116])
		if err != nil {
			return nil, err
		}
		gid, err := parseTarOctal(block[116:124])
		if err != nil {
			return nil, err
		}
		mtime, err := parseTarOctal(block[136:148])
		if err != nil {
			return nil, err
		}

		if pos+int(size) > len(data) {
			return nil, fconvert.ErrCorruptedFile.WithMessage(
				fmt.Sprintf("tar entry data runs past end of archive (%d bytes declared)", size))
		}

		entry := TarEntry{
			Name:     parseTarString(block[0:100]),
			Mode:     mode,
			UID:      int(uid),
			GID:      int(gid),
			ModTime:  time.Unix(mtime, 0),
			Typeflag: block[156],
			Data:     append([]byte(nil), data[pos:pos+int(size)]...),
		}
		entries = append(entries, entry)

		pos += int(size)
		if padding := int(size) % tarBlockSize; padding != 0 {
			pos += tarBlockSize - padding
		}
	}

	return entries, nil
}
