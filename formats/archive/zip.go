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

// PKZIP record signatures and compression methods.
const (
	zipLocalHeaderSignature   = 0x04034B50
	zipCentralDirSignature    = 0x02014B50
	zipEndCentralDirSignature = 0x06054B50

	zipMethodStore   = 0
	zipMethodDeflate = 8

	zipVersionNeeded = 20 // 2.0: deflate support
)

// ZipEntry is one file stored in a ZIP archive, held uncompressed.
type ZipEntry struct {
	Name    string
	ModTime time.Time
	Data    []byte
}

// IsZip reports whether data starts with a local file header or an empty
// archive's end-of-central-directory record.
func IsZip(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	signature := binary.LittleEndian.Uint32(data[:4])
	return signature == zipLocalHeaderSignature || signature == zipEndCentralDirSignature
}

// dosTimestamp converts a time into the packed MS-DOS date and time fields.
func dosTimestamp(t time.Time) (dosDate, dosTime uint16) {
	if t.IsZero() || t.Year() < 1980 {
		// DOS dates can't express anything earlier.
		return 0x21, 0 // 1980-01-01 00:00:00
	}
	dosDate = uint16((t.Year()-1980)<<9 | int(t.Month())<<5 | t.Day())
	dosTime = uint16(t.Hour()<<11 | t.Minute()<<5 | t.Second()/2)
	return dosDate, dosTime
}

func fromDosTimestamp(dosDate, dosTime uint16) time.Time {
	if dosDate == 0 {
		return time.Time{}
	}
	return time.Date(
		1980+int(dosDate>>9), time.Month((dosDate>>5)&0xF), int(dosDate&0x1F),
		int(dosTime>>11), int((dosTime>>5)&0x3F), int(dosTime&0x1F)*2,
		0, time.Local)
}

type zipCompressedEntry struct {
	entry        ZipEntry
	method       uint16
	crc          uint32
	compressed   []byte
	headerOffset uint32
}

// WriteZip serializes entries into a ZIP archive. Each entry is deflated
// at the given level unless that would expand it, in which case it is
// stored raw -- the standard trick for incompressible payloads.
func WriteZip(entries []ZipEntry, level int) ([]byte, error) {
	var output bytes.Buffer
	compressedEntries := make([]zipCompressedEntry, 0, len(entries))

	for _, entry := range entries {
		record := zipCompressedEntry{
			entry:  entry,
			crc:    crc32.ChecksumIEEE(entry.Data),
			method: zipMethodDeflate,
		}

		compressed, err := compression.Compress(entry.Data, level)
		if err != nil {
			return nil, err
		}
		if len(compressed) >= len(entry.Data) {
			record.method = zipMethodStore
			compressed = entry.Data
		}
		record.compressed = compressed
		record.headerOffset = uint32(output.Len())

		writeZipEntryHeader(&output, zipLocalHeaderSignature, record)
		output.WriteString(entry.Name)
		output.Write(record.compressed)

		compressedEntries = append(compressedEntries, record)
	}

	centralDirStart := output.Len()
	for _, record := range compressedEntries {
		writeZipEntryHeader(&output, zipCentralDirSignature, record)
		output.WriteString(record.entry.Name)
	}
	centralDirSize := output.Len() - centralDirStart

	// End of central directory.
	var eocd [22]byte
	binary.LittleEndian.PutUint32(eocd[0:4], zipEndCentralDirSignature)
	binary.LittleEndian.PutUint16(eocd[8:10], uint16(len(entries)))
	binary.LittleEndian.PutUint16(eocd[10:12], uint16(len(entries)))
	binary.LittleEndian.PutUint32(eocd[12:16], uint32(centralDirSize))
	binary.LittleEndian.PutUint32(eocd[16:20], uint32(centralDirStart))
	output.Write(eocd[:])

	return output.Bytes(), nil
}

// writeZipEntryHeader writes either a local file header or a central
// directory header; they share their core layout, the central form just
// carries extra fields before and after.
func writeZipEntryHeader(output *bytes.Buffer, signature uint32, record zipCompressedEntry) {
	var scratch [4]byte

	u16 := func(value uint16) {
		binary.LittleEndian.PutUint16(scratch[:2], value)
		output.Write(scratch[:2])
	}
	u32 := func(value uint32) {
		binary.LittleEndian.PutUint32(scratch[:4], value)
		output.Write(scratch[:4])
	}

	u32(signature)
	if signature == zipCentralDirSignature {
		u16(zipVersionNeeded) // version made by
	}
	u16(zipVersionNeeded)
	u16(0) // general purpose flags
	u16(record.method)
	dosDate, dosTime := dosTimestamp(record.entry.ModTime)
	u16(dosTime)
	u16(dosDate)
	u32(record.crc)
	u32(uint32(len(record.compressed)))
	u32(uint32(len(record.entry.Data)))
	u16(uint16(len(record.entry.Name)))
	u16(0) // extra field length
	if signature == zipCentralDirSignature {
		u16(0) // comment length
		u16(0) // disk number start
		u16(0) // internal attributes
		u32(0) // external attributes
		u32(record.headerOffset)
	}
}

// findEndOfCentralDir locates the EOCD record, scanning backwards over a
// possible trailing comment.
func findEndOfCentralDir(data []byte) int {
	// EOCD is 22 bytes plus up to 65535 bytes of comment.
	lowest := len(data) - 22 - 65535
	if lowest < 0 {
		lowest = 0
	}
	for pos := len(data) - 22; pos >= lowest; pos-- {
		if binary.LittleEndian.Uint32(data[pos:pos+4]) == zipEndCentralDirSignature {
			return pos
		}
	}
	return -1
}

// ReadZip parses a ZIP archive via its central directory and returns the
// decompressed entries. CRCs are verified. Multi-disk archives and zip64
// are not supported.
func ReadZip(data []byte) ([]ZipEntry, error) {
	if len(data) < 22 {
		return nil, fconvert.ErrCorruptedFile.WithMessage("zip file too small for an EOCD record")
	}

	eocdPos := findEndOfCentralDir(data)
	if eocdPos < 0 {
		return nil, fconvert.ErrCorruptedFile.WithMessage("zip end-of-central-directory record not found")
	}

	entryCount := int(binary.LittleEndian.Uint16(data[eocdPos+10 : eocdPos+12]))
	centralDirStart := int(binary.LittleEndian.Uint32(data[eocdPos+16 : eocdPos+20]))
	if centralDirStart > len(data) {
		return nil, fconvert.ErrCorruptedFile.WithMessage("zip central directory offset out of range")
	}

	entries := make([]ZipEntry, 0, entryCount)
	pos := centralDirStart

	for i := 0; i < entryCount; i++ {
		if pos+46 > len(data) ||
			binary.LittleEndian.Uint32(data[pos:pos+4]) != zipCentralDirSignature {
			return nil, fconvert.ErrCorruptedFile.WithMessage(
				fmt.Sprintf("bad central directory header for entry %d", i))
		}

		header := data[pos:]
		method := binary.LittleEndian.Uint16(header[10:12])
		dosTime := binary.LittleEndian.Uint16(header[12:14])
		dosDate := binary.LittleEndian.Uint16(header[14:16])
		expectedCRC := binary.LittleEndian.Uint32(header[16:20])
		compressedSize := int(binary.LittleEndian.Uint32(header[20:24]))
		uncompressedSize := int(binary.LittleEndian.Uint32(header[24:28]))
		nameLength := int(binary.LittleEndian.Uint16(header[28:30]))
		extraLength := int(binary.LittleEndian.Uint16(header[30:32]))
		commentLength := int(binary.LittleEndian.Uint16(header[32:34]))
		headerOffset := int(binary.LittleEndian.Uint32(header[42:46]))

		if pos+46+nameLength > len(data) {
			return nil, fconvert.ErrCorruptedFile.WithMessage("zip entry name runs past end of file")
		}
		name := string(data[pos+46 : pos+46+nameLength])
		pos += 46 + nameLength + extraLength + commentLength

		payload, err := zipEntryPayload(data, headerOffset, compressedSize)
		if err != nil {
			return nil, err
		}

		var content []byte
		switch method {
		case zipMethodStore:
			content = append([]byte(nil), payload...)
		case zipMethodDeflate:
			content, err = compression.Decompress(payload)
			if err != nil {
				return nil, fconvert.ErrCorruptedFile.Wrap(err)
			}
		default:
			return nil, fconvert.ErrNotImplemented.WithMessage(
				fmt.Sprintf("zip compression method %d", method))
		}

		if len(content) != uncompressedSize {
			return nil, fconvert.ErrCorruptedFile.WithMessage(
				fmt.Sprintf("zip entry %q: declared size %d, got %d", name, uncompressedSize, len(content)))
		}
		if actual := crc32.ChecksumIEEE(content); actual != expectedCRC {
			return nil, fconvert.ErrCorruptedFile.WithMessage(
				fmt.Sprintf("zip entry %q: CRC mismatch", name))
		}

		entries = append(entries, ZipEntry{
			Name:    name,
			ModTime: fromDosTimestamp(dosDate, dosTime),
			Data:    content,
		})
	}

	return entries, nil
}

// zipEntryPayload returns an entry's compressed bytes by walking its local
// file header.
func zipEntryPayload(data []byte, headerOffset, compressedSize int) ([]byte, error) {
	if headerOffset+30 > len(data) ||
		binary.LittleEndian.Uint32(data[headerOffset:headerOffset+4]) != zipLocalHeaderSignature {
		return nil, fconvert.ErrCorruptedFile.WithMessage("zip local file header offset is wrong")
	}

	header := data[headerOffset:]
	nameLength := int(binary.LittleEndian.Uint16(header[26:28]))
	extraLength := int(binary.LittleEndian.Uint16(header[28:30]))

	payloadStart := headerOffset + 30 + nameLength + extraLength
	if payloadStart+compressedSize > len(data) {
		return nil, fconvert.ErrCorruptedFile.WithMessage("zip entry data runs past end of file")
	}
	return data[payloadStart : payloadStart+compressedSize], nil
}
