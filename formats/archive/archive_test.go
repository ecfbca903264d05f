package archive_test

import (
	stdtar "archive/tar"
	stdzip "archive/zip"
	"bytes"
	stdgzip "compress/gzip"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fconvert/fconvert"
	"github.com/fconvert/fconvert/formats/archive"
)

// Timestamps in tests stick to even seconds so the two-second DOS
// granularity in ZIP doesn't bite.
var testModTime = time.Date(2023, time.June, 15, 10, 30, 44, 0, time.Local)

func testEntries() []archive.TarEntry {
	return []archive.TarEntry{
		{
			Name:     "readme.txt",
			Mode:     0o644,
			ModTime:  testModTime,
			Typeflag: archive.TarTypeRegular,
			Data:     []byte("The quick brown fox jumps over the lazy dog.\n"),
		},
		{
			Name:     "data/numbers.bin",
			Mode:     0o600,
			ModTime:  testModTime,
			Typeflag: archive.TarTypeRegular,
			Data:     bytes.Repeat([]byte{0xDE, 0xAD, 0xBE, 0xEF}, 300),
		},
	}
}

func TestGzipRoundTrip(t *testing.T) {
	original := []byte(strings.Repeat("banana banana banana ", 100))

	packed, err := archive.WriteGzip(original, "fruit.txt", testModTime, 6)
	require.NoError(t, err)
	assert.Less(t, len(packed), len(original))

	member, err := archive.ReadGzip(packed)
	require.NoError(t, err)
	assert.Equal(t, original, member.Data)
	assert.Equal(t, "fruit.txt", member.Name)
	assert.Equal(t, testModTime.Unix(), member.ModTime.Unix())
}

func TestGzipNoName(t *testing.T) {
	packed, err := archive.WriteGzip([]byte("payload"), "", time.Time{}, 6)
	require.NoError(t, err)

	member, err := archive.ReadGzip(packed)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), member.Data)
	assert.Empty(t, member.Name)
	assert.True(t, member.ModTime.IsZero())
}

func TestGzipReadableByStdlib(t *testing.T) {
	original := []byte(strings.Repeat("interoperability ", 64))

	packed, err := archive.WriteGzip(original, "interop.txt", testModTime, 9)
	require.NoError(t, err)

	reader, err := stdgzip.NewReader(bytes.NewReader(packed))
	require.NoError(t, err)
	defer reader.Close()

	decoded, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
	assert.Equal(t, "interop.txt", reader.Name)
}

func TestGzipReadsStdlibOutput(t *testing.T) {
	original := []byte(strings.Repeat("written elsewhere ", 64))

	var buffer bytes.Buffer
	writer := stdgzip.NewWriter(&buffer)
	writer.Name = "elsewhere.txt"
	_, err := writer.Write(original)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	member, err := archive.ReadGzip(buffer.Bytes())
	require.NoError(t, err)
	assert.Equal(t, original, member.Data)
	assert.Equal(t, "elsewhere.txt", member.Name)
}

func TestGzipCorruptTrailer(t *testing.T) {
	packed, err := archive.WriteGzip([]byte("checked content"), "", time.Time{}, 6)
	require.NoError(t, err)

	// Flip a bit in the stored CRC.
	packed[len(packed)-6] ^= 0x01

	_, err = archive.ReadGzip(packed)
	require.Error(t, err)
	assert.ErrorIs(t, err, fconvert.ErrCorruptedFile)
}

func TestGzipTruncated(t *testing.T) {
	packed, err := archive.WriteGzip([]byte("soon to be cut short"), "name.txt", time.Time{}, 6)
	require.NoError(t, err)

	for _, size := range []int{0, 5, 9, 12, len(packed) - 4} {
		_, err := archive.ReadGzip(packed[:size])
		assert.Error(t, err, "truncated to %d bytes", size)
	}
}

func TestTarRoundTrip(t *testing.T) {
	entries := testEntries()

	packed, err := archive.WriteTar(entries)
	require.NoError(t, err)
	assert.Zero(t, len(packed)%512)
	assert.True(t, archive.IsTar(packed))

	decoded, err := archive.ReadTar(packed)
	require.NoError(t, err)
	require.Len(t, decoded, len(entries))

	for i, entry := range entries {
		assert.Equal(t, entry.Name, decoded[i].Name)
		assert.Equal(t, entry.Mode, decoded[i].Mode)
		assert.Equal(t, entry.ModTime.Unix(), decoded[i].ModTime.Unix())
		assert.Equal(t, entry.Data, decoded[i].Data)
	}
}

func TestTarDirectoryEntry(t *testing.T) {
	entries := []archive.TarEntry{
		{Name: "dir/", Mode: 0o755, ModTime: testModTime, Typeflag: archive.TarTypeDirectory},
		{Name: "dir/file", Mode: 0o644, ModTime: testModTime,
			Typeflag: archive.TarTypeRegular, Data: []byte("inside")},
	}

	packed, err := archive.WriteTar(entries)
	require.NoError(t, err)

	decoded, err := archive.ReadTar(packed)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.EqualValues(t, archive.TarTypeDirectory, decoded[0].Typeflag)
	assert.Empty(t, decoded[0].Data)
}

func TestTarNameTooLong(t *testing.T) {
	_, err := archive.WriteTar([]archive.TarEntry{{
		Name: strings.Repeat("long/", 25), Typeflag: archive.TarTypeRegular,
	}})
	require.Error(t, err)
	assert.ErrorIs(t, err, fconvert.ErrInvalidArgument)
}

func TestTarReadableByStdlib(t *testing.T) {
	entries := testEntries()

	packed, err := archive.WriteTar(entries)
	require.NoError(t, err)

	reader := stdtar.NewReader(bytes.NewReader(packed))
	for _, entry := range entries {
		header, err := reader.Next()
		require.NoError(t, err)
		assert.Equal(t, entry.Name, header.Name)
		assert.Equal(t, entry.Mode, header.Mode)

		content, err := io.ReadAll(reader)
		require.NoError(t, err)
		assert.Equal(t, entry.Data, content)
	}
	_, err = reader.Next()
	assert.Equal(t, io.EOF, err)
}

func TestTarReadsStdlibOutput(t *testing.T) {
	var buffer bytes.Buffer
	writer := stdtar.NewWriter(&buffer)
	require.NoError(t, writer.WriteHeader(&stdtar.Header{
		Name:    "stdlib.txt",
		Mode:    0o644,
		Size:    11,
		ModTime: testModTime,
		Format:  stdtar.FormatUSTAR,
	}))
	_, err := writer.Write([]byte("from stdlib"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	decoded, err := archive.ReadTar(buffer.Bytes())
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Equal(t, "stdlib.txt", decoded[0].Name)
	assert.Equal(t, []byte("from stdlib"), decoded[0].Data)
}

func TestTarChecksumMismatch(t *testing.T) {
	packed, err := archive.WriteTar(testEntries())
	require.NoError(t, err)

	// Corrupt the first header's mode field.
	packed[101] ^= 0x01

	_, err = archive.ReadTar(packed)
	require.Error(t, err)
	assert.ErrorIs(t, err, fconvert.ErrCorruptedFile)
}

func TestZipRoundTrip(t *testing.T) {
	entries := []archive.ZipEntry{
		{Name: "a.txt", ModTime: testModTime,
			Data: []byte(strings.Repeat("compress me please ", 50))},
		{Name: "b.bin", ModTime: testModTime, Data: []byte{0x00, 0x01, 0x02}},
		{Name: "empty", ModTime: testModTime, Data: nil},
	}

	packed, err := archive.WriteZip(entries, 6)
	require.NoError(t, err)
	assert.True(t, archive.IsZip(packed))

	decoded, err := archive.ReadZip(packed)
	require.NoError(t, err)
	require.Len(t, decoded, len(entries))

	for i, entry := range entries {
		assert.Equal(t, entry.Name, decoded[i].Name)
		assert.Equal(t, entry.ModTime.Unix(), decoded[i].ModTime.Unix())
		if len(entry.Data) == 0 {
			assert.Empty(t, decoded[i].Data)
		} else {
			assert.Equal(t, entry.Data, decoded[i].Data)
		}
	}
}

func TestZipEmptyArchive(t *testing.T) {
	packed, err := archive.WriteZip(nil, 6)
	require.NoError(t, err)
	assert.Len(t, packed, 22)
	assert.True(t, archive.IsZip(packed))

	decoded, err := archive.ReadZip(packed)
	require.NoError(t, err)
	assert.Empty(t, decoded)
}

func TestZipReadableByStdlib(t *testing.T) {
	entries := []archive.ZipEntry{
		{Name: "text.txt", ModTime: testModTime,
			Data: []byte(strings.Repeat("zipzipzip ", 100))},
		{Name: "random.bin", ModTime: testModTime,
			Data: []byte{0x13, 0x37, 0xC0, 0xDE}},
	}

	packed, err := archive.WriteZip(entries, 9)
	require.NoError(t, err)

	reader, err := stdzip.NewReader(bytes.NewReader(packed), int64(len(packed)))
	require.NoError(t, err)
	require.Len(t, reader.File, len(entries))

	for i, file := range reader.File {
		assert.Equal(t, entries[i].Name, file.Name)

		rc, err := file.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		assert.Equal(t, entries[i].Data, content)
	}
}

func TestZipReadsStdlibOutput(t *testing.T) {
	var buffer bytes.Buffer
	writer := stdzip.NewWriter(&buffer)

	stored, err := writer.CreateHeader(&stdzip.FileHeader{
		Name: "stored.txt", Method: stdzip.Store, Modified: testModTime,
	})
	require.NoError(t, err)
	_, err = stored.Write([]byte("stored content"))
	require.NoError(t, err)

	deflated, err := writer.CreateHeader(&stdzip.FileHeader{
		Name: "deflated.txt", Method: stdzip.Deflate, Modified: testModTime,
	})
	require.NoError(t, err)
	_, err = deflated.Write([]byte(strings.Repeat("deflate deflate ", 64)))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	decoded, err := archive.ReadZip(buffer.Bytes())
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.Equal(t, "stored.txt", decoded[0].Name)
	assert.Equal(t, []byte("stored content"), decoded[0].Data)
	assert.Equal(t, "deflated.txt", decoded[1].Name)
	assert.Equal(t, []byte(strings.Repeat("deflate deflate ", 64)), decoded[1].Data)
}

func TestZipCorruptCRC(t *testing.T) {
	packed, err := archive.WriteZip([]archive.ZipEntry{
		{Name: "f", ModTime: testModTime, Data: []byte("crc protected")},
	}, 6)
	require.NoError(t, err)

	// The central directory CRC sits 16 bytes into its header; the header
	// starts right after the single local record and its payload.
	centralDirStart := len(packed) - 22 - 46 - 1
	packed[centralDirStart+16] ^= 0x01

	_, err = archive.ReadZip(packed)
	require.Error(t, err)
	assert.ErrorIs(t, err, fconvert.ErrCorruptedFile)
}

func TestZipGarbage(t *testing.T) {
	_, err := archive.ReadZip([]byte("definitely not a zip archive at all"))
	require.Error(t, err)
	assert.ErrorIs(t, err, fconvert.ErrCorruptedFile)
}

func TestTarGzRoundTrip(t *testing.T) {
	entries := testEntries()

	packed, err := archive.WriteTarGz(entries, 6)
	require.NoError(t, err)
	assert.True(t, archive.IsGzip(packed))

	decoded, err := archive.ReadTarGz(packed)
	require.NoError(t, err)
	require.Len(t, decoded, len(entries))
	for i, entry := range entries {
		assert.Equal(t, entry.Name, decoded[i].Name)
		assert.Equal(t, entry.Data, decoded[i].Data)
	}
}

func TestTarGzNotATarInside(t *testing.T) {
	packed, err := archive.WriteGzip([]byte("just text, no tar"), "", time.Time{}, 6)
	require.NoError(t, err)

	_, err = archive.ReadTarGz(packed)
	require.Error(t, err)
	assert.ErrorIs(t, err, fconvert.ErrCorruptedFile)
}

func TestConverterPairs(t *testing.T) {
	converter := archive.Converter{}
	assert.Equal(t, fconvert.CategoryArchive, converter.Category())

	assert.True(t, converter.CanConvert("zip", "tar"))
	assert.True(t, converter.CanConvert("tar", "tgz"))
	assert.True(t, converter.CanConvert("gz", "zip"))
	assert.False(t, converter.CanConvert("zip", "zip"))
	assert.False(t, converter.CanConvert("zip", "png"))
	assert.False(t, converter.CanConvert("bmp", "tar"))
}

func TestConvertTarToZip(t *testing.T) {
	entries := testEntries()
	tarball, err := archive.WriteTar(entries)
	require.NoError(t, err)

	output, err := archive.Converter{}.Convert(tarball, "tar", "zip", fconvert.DefaultParams())
	require.NoError(t, err)

	decoded, err := archive.ReadZip(output)
	require.NoError(t, err)
	require.Len(t, decoded, len(entries))
	for i, entry := range entries {
		assert.Equal(t, entry.Name, decoded[i].Name)
		assert.Equal(t, entry.Data, decoded[i].Data)
	}
}

func TestConvertZipToTarGz(t *testing.T) {
	zipData, err := archive.WriteZip([]archive.ZipEntry{
		{Name: "one.txt", ModTime: testModTime, Data: []byte("first file")},
		{Name: "two.txt", ModTime: testModTime, Data: []byte("second file")},
	}, 6)
	require.NoError(t, err)

	output, err := archive.Converter{}.Convert(zipData, "zip", "tgz", fconvert.DefaultParams())
	require.NoError(t, err)

	decoded, err := archive.ReadTarGz(output)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.Equal(t, "one.txt", decoded[0].Name)
	assert.Equal(t, []byte("second file"), decoded[1].Data)
}

func TestConvertGzToTar(t *testing.T) {
	gzData, err := archive.WriteGzip([]byte("lonely payload"), "lonely.txt", testModTime, 6)
	require.NoError(t, err)

	output, err := archive.Converter{}.Convert(gzData, "gz", "tar", fconvert.DefaultParams())
	require.NoError(t, err)

	decoded, err := archive.ReadTar(output)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Equal(t, "lonely.txt", decoded[0].Name)
	assert.Equal(t, []byte("lonely payload"), decoded[0].Data)
}

func TestConvertMultiFileToGzFails(t *testing.T) {
	tarball, err := archive.WriteTar(testEntries())
	require.NoError(t, err)

	_, err = archive.Converter{}.Convert(tarball, "tar", "gz", fconvert.DefaultParams())
	require.Error(t, err)
	assert.ErrorIs(t, err, fconvert.ErrUnsupportedConversion)
}

func TestConverterRegistered(t *testing.T) {
	assert.True(t, fconvert.DefaultRegistry.CanConvert("tar", "zip"))
}
