// Package archive implements the container formats layered on top of the
// DEFLATE engine: GZIP members, ZIP archives, TAR archives, and their
// tar.gz composition. All of them funnel through
// utilities/compression for the actual compressed payloads.
package archive

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/fconvert/fconvert"
	"github.com/fconvert/fconvert/utilities/compression"
)

// GZIP framing constants from RFC 1952.
const (
	gzipMagic1        = 0x1F
	gzipMagic2        = 0x8B
	gzipMethodDeflate = 8

	gzipFlagText    = 1 << 0
	gzipFlagHCRC    = 1 << 1
	gzipFlagExtra   = 1 << 2
	gzipFlagName    = 1 << 3
	gzipFlagComment = 1 << 4
)

// GzipMember is the content of a single-member gzip file: the compressed
// payload plus the bits of header metadata worth keeping.
type GzipMember struct {
	// Name is the original filename from the FNAME field, if present.
	Name    string
	ModTime time.Time
	Data    []byte
}

// IsGzip reports whether data starts like a DEFLATE-method gzip member.
func IsGzip(data []byte) bool {
	return len(data) >= 10 &&
		data[0] == gzipMagic1 && data[1] == gzipMagic2 && data[2] == gzipMethodDeflate
}

// WriteGzip wraps data in a single gzip member. name, if non-empty, is
// recorded in the FNAME field.
func WriteGzip(data []byte, name string, modTime time.Time, level int) ([]byte, error) {
	compressed, err := compression.Compress(data, level)
	if err != nil {
		return nil, err
	}

	var output bytes.Buffer
	output.WriteByte(gzipMagic1)
	output.WriteByte(gzipMagic2)
	output.WriteByte(gzipMethodDeflate)

	var flags byte
	if name != "" {
		flags |= gzipFlagName
	}
	output.WriteByte(flags)

	var mtime [4]byte
	if !modTime.IsZero() {
		binary.LittleEndian.PutUint32(mtime[:], uint32(modTime.Unix()))
	}
	output.Write(mtime[:])

	// XFL: 2 = slowest/best, 4 = fastest. Anything in between is 0.
	switch {
	case level >= compression.MaxLevel:
		output.WriteByte(2)
	case level <= 1:
		output.WriteByte(4)
	default:
		output.WriteByte(0)
	}
	output.WriteByte(0xFF) // OS: unknown

	if name != "" {
		output.WriteString(name)
		output.WriteByte(0)
	}

	output.Write(compressed)

	var trailer [8]byte
	binary.LittleEndian.PutUint32(trailer[0:4], crc32.ChecksumIEEE(data))
	binary.LittleEndian.PutUint32(trailer[4:8], uint32(len(data)))
	output.Write(trailer[:])

	return output.Bytes(), nil
}

// parseGzipHeader validates the fixed header and skips the optional fields,
// returning the offset of the DEFLATE stream and the FNAME/MTIME metadata.
func parseGzipHeader(data []byte) (payloadStart int, name string, modTime time.Time, err error) {
	if !IsGzip(data) {
		return 0, "", time.Time{}, fconvert.ErrUnknownFormat.WithMessage("not a gzip file")
	}

	flags := data[3]
	if mtime := binary.LittleEndian.Uint32(data[4:8]); mtime != 0 {
		modTime = time.Unix(int64(mtime), 0)
	}
	pos := 10

	if flags&gzipFlagExtra != 0 {
		if pos+2 > len(data) {
			return 0, "", time.Time{}, truncatedGzip()
		}
		extraLength := int(binary.LittleEndian.Uint16(data[pos : pos+2]))
		pos += 2 + extraLength
		if pos > len(data) {
			return 0, "", time.Time{}, truncatedGzip()
		}
	}

	for _, flag := range []byte{gzipFlagName, gzipFlagComment} {
		if flags&flag == 0 {
			continue
		}
		end := bytes.IndexByte(data[pos:], 0)
		if end < 0 {
			return 0, "", time.Time{}, truncatedGzip()
		}
		if flag == gzipFlagName {
			name = string(data[pos : pos+end])
		}
		pos += end + 1
	}

	if flags&gzipFlagHCRC != 0 {
		pos += 2
	}

	if pos >= len(data) {
		return 0, "", time.Time{}, truncatedGzip()
	}
	return pos, name, modTime, nil
}

// ReadGzip unpacks a single-member gzip file and verifies its CRC32 and
// size trailer. Concatenated multi-member files are not supported.
func ReadGzip(data []byte) (GzipMember, error) {
	payloadStart, name, modTime, err := parseGzipHeader(data)
	if err != nil {
		return GzipMember{}, err
	}
	if len(data)-payloadStart < 8 {
		return GzipMember{}, truncatedGzip()
	}

	decompressed, err := compression.Decompress(data[payloadStart : len(data)-8])
	if err != nil {
		return GzipMember{}, fconvert.ErrCorruptedFile.Wrap(err)
	}

	trailer := data[len(data)-8:]
	expectedCRC := binary.LittleEndian.Uint32(trailer[0:4])
	expectedSize := binary.LittleEndian.Uint32(trailer[4:8])

	if actual := crc32.ChecksumIEEE(decompressed); actual != expectedCRC {
		return GzipMember{}, fconvert.ErrCorruptedFile.WithMessage(
			fmt.Sprintf("gzip CRC mismatch: header says %08x, data is %08x", expectedCRC, actual))
	}
	if uint32(len(decompressed)) != expectedSize {
		return GzipMember{}, fconvert.ErrCorruptedFile.WithMessage(
			fmt.Sprintf("gzip size mismatch: header says %d, got %d", expectedSize, len(decompressed)))
	}

	return GzipMember{Name: name, ModTime: modTime, Data: decompressed}, nil
}

func truncatedGzip() error {
	return fconvert.ErrCorruptedFile.WithMessage("gzip header or trailer is truncated")
}
