package fconvert

import (
	"bytes"
	"encoding/binary"
)

// FileType describes a recognized file format.
type FileType struct {
	Category    Category
	Format      string
	MIMEType    string
	Description string
}

// formatsByExtension maps conventional extensions to their format info.
// Extensions are normalized (lowercase, no dot) before lookup.
var formatsByExtension = map[string]FileType{
	"png": {CategoryImage, "png", "image/png", "Portable Network Graphics"},
	"bmp": {CategoryImage, "bmp", "image/bmp", "Bitmap Image"},
	"tga": {CategoryImage, "tga", "image/tga", "Targa Image"},

	"gz":     {CategoryArchive, "gz", "application/gzip", "GZip Compressed File"},
	"zip":    {CategoryArchive, "zip", "application/zip", "ZIP Archive"},
	"tar":    {CategoryArchive, "tar", "application/x-tar", "TAR Archive"},
	"tgz":    {CategoryArchive, "tgz", "application/x-gzip", "TAR.GZ Archive"},
	"tar.gz": {CategoryArchive, "tgz", "application/x-gzip", "TAR.GZ Archive"},

	"img": {CategoryFileSystem, "img", "application/octet-stream", "Raw Disk Image"},
	"ext2": {
		CategoryFileSystem, "ext2", "application/octet-stream", "Ext2 File System Image"},
}

// LookupExtension returns the format info for a file extension, or a zero
// FileType if it isn't recognized.
func LookupExtension(extension string) FileType {
	return formatsByExtension[NormalizeFormat(extension)]
}

// Magic numbers, checked in order. TAR has no magic at offset 0 (its
// "ustar" marker sits at offset 257), so it gets special treatment below.
var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}

func sniff(data []byte) FileType {
	switch {
	case len(data) >= 8 && bytes.Equal(data[:8], pngSignature):
		return formatsByExtension["png"]

	case len(data) >= 3 && data[0] == 0x1F && data[1] == 0x8B && data[2] == 8:
		// GZIP with DEFLATE payload. Whether it's a plain .gz or a .tar.gz
		// is decided by the name, not the content.
		return formatsByExtension["gz"]

	case len(data) >= 4 && (bytes.Equal(data[:4], []byte("PK\x03\x04")) ||
		bytes.Equal(data[:4], []byte("PK\x05\x06"))):
		// Local file header of a regular ZIP, or the end-of-central-
		// directory record of an empty one.
		return formatsByExtension["zip"]

	case len(data) >= 2 && data[0] == 'B' && data[1] == 'M':
		return formatsByExtension["bmp"]

	case len(data) >= 262 && bytes.Equal(data[257:262], []byte("ustar")):
		return formatsByExtension["tar"]

	case len(data) >= 1082 && binary.LittleEndian.Uint16(data[1080:1082]) == 0xEF53:
		// Superblock magic: the superblock lives at offset 1024, its
		// s_magic field 56 bytes in.
		return formatsByExtension["ext2"]
	}
	return FileType{}
}

// Detect identifies a file from its content, falling back to the filename's
// extension for formats without a usable signature (TGA most notably). A
// zero FileType means the file wasn't recognized at all.
func Detect(data []byte, filename string) FileType {
	if fileType := sniff(data); fileType.Format != "" {
		// The extension refines gzip: fox.tar.gz and fox.gz have identical
		// content signatures.
		if fileType.Format == "gz" && FormatFromPath(filename) == "tgz" {
			return formatsByExtension["tgz"]
		}
		return fileType
	}
	if filename != "" {
		if format := FormatFromPath(filename); format != "" {
			return formatsByExtension[format]
		}
	}
	return FileType{}
}
