// Package testing holds helpers for tests that need disk image or archive
// fixtures. Fixtures are stored gzip-compressed so a multi-megabyte file
// system image costs almost nothing in the repository.
package testing

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"

	"github.com/fconvert/fconvert/formats/archive"
)

// LoadDiskImage unpacks a gzip-compressed disk image fixture and returns a
// stream over the uncompressed bytes.
//
//   - Writes to the stream do not affect the fixture.
//   - The stream's size is fixed to expectedSize; writing past the end is
//     an error.
func LoadDiskImage(
	t *testing.T, compressedImageBytes []byte, expectedSize uint,
) io.ReadWriteSeeker {
	t.Helper()
	require.Greater(t, len(compressedImageBytes), 0, "compressed image is empty")

	member, err := archive.ReadGzip(compressedImageBytes)
	require.NoError(t, err)
	require.Equal(
		t,
		expectedSize,
		uint(len(member.Data)),
		"uncompressed image is wrong size",
	)

	imageBytes := make([]byte, len(member.Data))
	copy(imageBytes, member.Data)
	return bytesextra.NewReadWriteSeeker(imageBytes)
}

// PackFixture gzip-compresses raw fixture data, the inverse of
// LoadDiskImage for generating fixtures from test builders.
func PackFixture(t *testing.T, raw []byte) []byte {
	t.Helper()

	compressed, err := archive.WriteGzip(raw, "", time.Time{}, 9)
	require.NoError(t, err)
	return compressed
}
