package ext2

import (
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fconvert/fconvert"
	"github.com/fconvert/fconvert/formats/archive"
	fixtures "github.com/fconvert/fconvert/testing"
)

// The test image is a single-group file system built by hand:
//
//	block 1      superblock
//	block 2      group descriptor table
//	block 3      block bitmap
//	block 4      inode bitmap
//	blocks 5-6   inode table (16 inodes of 128 bytes)
//	block 7      root directory
//	block 8      /hello.txt contents
//	block 9      /docs directory
//	block 10     /docs/notes.txt contents
const (
	testBlockSize  = 1024
	testBlockCount = 16
	testInodeCount = 16
	testFileMtime  = 1700000000
)

var (
	helloContents = []byte("hello from ext2\n")
	notesContents = []byte("ext2 keeps notes\n")
)

func putDirEntry(block []byte, offset int, inode uint32, recLen int, fileType byte, name string) {
	binary.LittleEndian.PutUint32(block[offset:], inode)
	binary.LittleEndian.PutUint16(block[offset+4:], uint16(recLen))
	block[offset+6] = byte(len(name))
	block[offset+7] = fileType
	copy(block[offset+8:], name)
}

func putInode(table []byte, number uint32, mode uint16, size uint32, firstBlock uint32) {
	raw := table[(number-1)*128:]
	binary.LittleEndian.PutUint16(raw[0:], mode)
	binary.LittleEndian.PutUint32(raw[4:], size)
	binary.LittleEndian.PutUint32(raw[16:], testFileMtime) // mtime
	binary.LittleEndian.PutUint16(raw[26:], 1)             // links
	binary.LittleEndian.PutUint32(raw[40:], firstBlock)    // block[0]
}

func buildTestImage(t *testing.T) []byte {
	t.Helper()
	data := make([]byte, testBlockCount*testBlockSize)

	// Superblock.
	sb := data[superblockOffset:]
	binary.LittleEndian.PutUint32(sb[0:], testInodeCount)
	binary.LittleEndian.PutUint32(sb[4:], testBlockCount)
	binary.LittleEndian.PutUint32(sb[12:], 5)  // free blocks
	binary.LittleEndian.PutUint32(sb[16:], 2)  // free inodes
	binary.LittleEndian.PutUint32(sb[20:], 1)  // first data block
	binary.LittleEndian.PutUint32(sb[24:], 0)  // log block size -> 1024
	binary.LittleEndian.PutUint32(sb[32:], 16) // blocks per group
	binary.LittleEndian.PutUint32(sb[40:], 16) // inodes per group
	binary.LittleEndian.PutUint16(sb[56:], superblockMagic)
	binary.LittleEndian.PutUint32(sb[76:], 1)   // revision
	binary.LittleEndian.PutUint16(sb[88:], 128) // inode size
	copy(sb[120:], "TESTVOL")

	// Group descriptor.
	gd := data[2*testBlockSize:]
	binary.LittleEndian.PutUint32(gd[0:], 3) // block bitmap
	binary.LittleEndian.PutUint32(gd[4:], 4) // inode bitmap
	binary.LittleEndian.PutUint32(gd[8:], 5) // inode table
	binary.LittleEndian.PutUint16(gd[12:], 5)
	binary.LittleEndian.PutUint16(gd[14:], 2)

	// Bitmaps: blocks 1-10 in use (bits 0-9), inodes 1-14 in use.
	blockBitmap := data[3*testBlockSize:]
	blockBitmap[0] = 0xFF
	blockBitmap[1] = 0x03
	inodeBitmap := data[4*testBlockSize:]
	inodeBitmap[0] = 0xFF
	inodeBitmap[1] = 0x3F

	// Inodes.
	inodeTable := data[5*testBlockSize:]
	putInode(inodeTable, rootInode, S_IFDIR|0o755, testBlockSize, 7)
	putInode(inodeTable, 12, S_IFREG|0o644, uint32(len(helloContents)), 8)
	putInode(inodeTable, 13, S_IFDIR|0o755, testBlockSize, 9)
	putInode(inodeTable, 14, S_IFREG|0o644, uint32(len(notesContents)), 10)

	// Root directory.
	rootDir := data[7*testBlockSize : 8*testBlockSize]
	putDirEntry(rootDir, 0, rootInode, 12, FileTypeDirectory, ".")
	putDirEntry(rootDir, 12, rootInode, 12, FileTypeDirectory, "..")
	putDirEntry(rootDir, 24, 12, 20, FileTypeRegular, "hello.txt")
	putDirEntry(rootDir, 44, 13, testBlockSize-44, FileTypeDirectory, "docs")

	copy(data[8*testBlockSize:], helloContents)

	// The docs directory.
	docsDir := data[9*testBlockSize : 10*testBlockSize]
	putDirEntry(docsDir, 0, 13, 12, FileTypeDirectory, ".")
	putDirEntry(docsDir, 12, rootInode, 12, FileTypeDirectory, "..")
	putDirEntry(docsDir, 24, 14, testBlockSize-24, FileTypeRegular, "notes.txt")

	copy(data[10*testBlockSize:], notesContents)
	return data
}

func TestIsExt2(t *testing.T) {
	data := buildTestImage(t)
	assert.True(t, IsExt2(data))

	data[superblockOffset+56] = 0
	assert.False(t, IsExt2(data))
	assert.False(t, IsExt2(data[:100]))
}

func TestReadImageGeometry(t *testing.T) {
	image, err := ReadImage(buildTestImage(t))
	require.NoError(t, err)

	assert.Equal(t, uint32(testBlockSize), image.BlockSize)
	assert.Equal(t, uint32(testBlockCount), image.BlocksCount)
	assert.Equal(t, uint32(testInodeCount), image.InodesCount)
	assert.Equal(t, uint32(128), image.InodeSize)
	assert.Equal(t, "TESTVOL", image.VolumeName)
}

func TestReadImageNotExt2(t *testing.T) {
	_, err := ReadImage(make([]byte, 4096))
	require.Error(t, err)
	assert.ErrorIs(t, err, fconvert.ErrUnknownFormat)
}

func TestListFiles(t *testing.T) {
	image, err := ReadImage(buildTestImage(t))
	require.NoError(t, err)

	assert.ElementsMatch(t,
		[]string{"hello.txt", "docs/", "docs/notes.txt"},
		image.ListFiles())
}

func TestReadFile(t *testing.T) {
	image, err := ReadImage(buildTestImage(t))
	require.NoError(t, err)

	contents, err := image.ReadFile("hello.txt")
	require.NoError(t, err)
	assert.Equal(t, helloContents, contents)

	contents, err = image.ReadFile("docs/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, notesContents, contents)
}

func TestReadFileErrors(t *testing.T) {
	image, err := ReadImage(buildTestImage(t))
	require.NoError(t, err)

	_, err = image.ReadFile("docs")
	assert.ErrorIs(t, err, fconvert.ErrInvalidArgument)

	_, err = image.ReadFile("no/such/file")
	assert.ErrorIs(t, err, fconvert.ErrInvalidArgument)
}

func TestReadInode(t *testing.T) {
	image, err := ReadImage(buildTestImage(t))
	require.NoError(t, err)

	root, err := image.ReadInode(rootInode)
	require.NoError(t, err)
	assert.True(t, root.IsDirectory())
	assert.False(t, root.IsRegular())

	file, err := image.ReadInode(12)
	require.NoError(t, err)
	assert.True(t, file.IsRegular())
	assert.Equal(t, uint32(len(helloContents)), file.Size)

	_, err = image.ReadInode(0)
	assert.ErrorIs(t, err, fconvert.ErrInvalidArgument)
	_, err = image.ReadInode(testInodeCount + 1)
	assert.ErrorIs(t, err, fconvert.ErrInvalidArgument)
}

func TestUsage(t *testing.T) {
	image, err := ReadImage(buildTestImage(t))
	require.NoError(t, err)

	stats, err := image.Usage()
	require.NoError(t, err)
	assert.Equal(t, uint32(10), stats.UsedBlocks)
	assert.Equal(t, uint32(5), stats.FreeBlocks)
	assert.Equal(t, uint32(14), stats.UsedInodes)
	assert.Equal(t, uint32(2), stats.FreeInodes)
}

func TestVerifyConsistentImage(t *testing.T) {
	image, err := ReadImage(buildTestImage(t))
	require.NoError(t, err)
	assert.NoError(t, image.Verify())
}

func TestVerifyReportsMismatches(t *testing.T) {
	data := buildTestImage(t)
	// Lie about the free block count in the superblock.
	binary.LittleEndian.PutUint32(data[superblockOffset+12:], 9)

	image, err := ReadImage(data)
	require.NoError(t, err)

	err = image.Verify()
	require.Error(t, err)
	// Both the bitmap tally and the group descriptors disagree with it.
	assert.Contains(t, err.Error(), "free blocks")
}

func TestReadImageFromCompressedFixture(t *testing.T) {
	raw := buildTestImage(t)
	stream := fixtures.LoadDiskImage(t, fixtures.PackFixture(t, raw), uint(len(raw)))

	data, err := io.ReadAll(stream)
	require.NoError(t, err)

	image, err := ReadImage(data)
	require.NoError(t, err)
	assert.Equal(t, "TESTVOL", image.VolumeName)
}

func TestConverterToTar(t *testing.T) {
	output, err := Converter{}.Convert(
		buildTestImage(t), "ext2", "tar", fconvert.DefaultParams())
	require.NoError(t, err)

	entries, err := archive.ReadTar(output)
	require.NoError(t, err)

	names := make(map[string][]byte)
	for _, entry := range entries {
		names[entry.Name] = entry.Data
	}
	assert.Contains(t, names, "docs/")
	assert.Equal(t, helloContents, names["hello.txt"])
	assert.Equal(t, notesContents, names["docs/notes.txt"])
}

func TestConverterToZipSkipsDirectories(t *testing.T) {
	output, err := Converter{}.Convert(
		buildTestImage(t), "ext2", "zip", fconvert.DefaultParams())
	require.NoError(t, err)

	entries, err := archive.ReadZip(output)
	require.NoError(t, err)

	names := make([]string, len(entries))
	for i, entry := range entries {
		names[i] = entry.Name
	}
	assert.ElementsMatch(t, []string{"hello.txt", "docs/notes.txt"}, names)
}

func TestConverterPairs(t *testing.T) {
	converter := Converter{}
	assert.Equal(t, fconvert.CategoryFileSystem, converter.Category())
	assert.True(t, converter.CanConvert("ext2", "tar"))
	assert.True(t, converter.CanConvert("img", "tgz"))
	assert.False(t, converter.CanConvert("tar", "ext2"))
	assert.False(t, converter.CanConvert("ext2", "png"))
}
