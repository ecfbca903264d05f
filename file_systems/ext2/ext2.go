// Package ext2 is a read-only reader for ext2 disk images: it walks the
// directory tree, reads file contents through the direct and indirect
// block pointers, and cross-checks the allocation bitmaps against the
// superblock's free counts.
package ext2

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/boljen/go-bitmap"
	"github.com/hashicorp/go-multierror"

	"github.com/fconvert/fconvert"
)

const (
	superblockOffset = 1024
	superblockMagic  = 0xEF53
	rootInode        = 2

	// Revision 0 images have a fixed inode size.
	oldRevisionInodeSize = 128
)

// Inode is the on-disk inode, minus the OS-dependent fields nothing here
// uses.
type Inode struct {
	Mode       uint16
	UID        uint16
	Size       uint32
	Atime      uint32
	Ctime      uint32
	Mtime      uint32
	GID        uint16
	LinksCount uint16
	Block      [15]uint32
}

// IsDirectory reports whether the inode's mode marks it as a directory.
func (inode *Inode) IsDirectory() bool {
	return inode.Mode&S_IFMT == S_IFDIR
}

// IsRegular reports whether the inode's mode marks it as a regular file.
func (inode *Inode) IsRegular() bool {
	return inode.Mode&S_IFMT == S_IFREG
}

// FileEntry is one node of the decoded directory tree.
type FileEntry struct {
	Name      string
	Path      string
	Inode     uint32
	Size      uint64
	Mode      uint16
	ModTime   time.Time
	IsDir     bool
	IsSymlink bool
	Children  []FileEntry
}

// groupDesc is one block group descriptor.
type groupDesc struct {
	blockBitmap     uint32
	inodeBitmap     uint32
	inodeTable      uint32
	freeBlocksCount uint16
	freeInodesCount uint16
}

// Image is a decoded ext2 image. The directory tree under Root is fully
// parsed up front; file contents are read on demand.
type Image struct {
	VolumeName     string
	BlockSize      uint32
	BlocksCount    uint32
	InodesCount    uint32
	BlocksPerGroup uint32
	InodesPerGroup uint32
	InodeSize      uint32
	FreeBlocks     uint32
	FreeInodes     uint32
	FirstDataBlock uint32

	Root FileEntry

	data   []byte
	groups []groupDesc
}

// IsExt2 reports whether data carries the ext2 superblock magic.
func IsExt2(data []byte) bool {
	return len(data) >= superblockOffset+58 &&
		binary.LittleEndian.Uint16(data[superblockOffset+56:superblockOffset+58]) == superblockMagic
}

// ReadImage parses an ext2 disk image: superblock, group descriptors, and
// the full directory tree.
func ReadImage(data []byte) (*Image, error) {
	if !IsExt2(data) {
		return nil, fconvert.ErrUnknownFormat.WithMessage("no ext2 superblock magic")
	}

	sb := data[superblockOffset:]
	image := &Image{
		InodesCount:    binary.LittleEndian.Uint32(sb[0:4]),
		BlocksCount:    binary.LittleEndian.Uint32(sb[4:8]),
		FreeBlocks:     binary.LittleEndian.Uint32(sb[12:16]),
		FreeInodes:     binary.LittleEndian.Uint32(sb[16:20]),
		FirstDataBlock: binary.LittleEndian.Uint32(sb[20:24]),
		BlockSize:      1024 << binary.LittleEndian.Uint32(sb[24:28]),
		BlocksPerGroup: binary.LittleEndian.Uint32(sb[32:36]),
		InodesPerGroup: binary.LittleEndian.Uint32(sb[40:44]),
		data:           data,
	}

	revision := binary.LittleEndian.Uint32(sb[76:80])
	if revision >= 1 {
		image.InodeSize = uint32(binary.LittleEndian.Uint16(sb[88:90]))
	} else {
		image.InodeSize = oldRevisionInodeSize
	}
	image.VolumeName = strings.TrimRight(string(sb[120:136]), "\x00")

	if image.BlocksPerGroup == 0 || image.InodesPerGroup == 0 || image.InodeSize == 0 {
		return nil, fconvert.ErrCorruptedFile.WithMessage("bad ext2 superblock geometry")
	}

	// The group descriptor table starts in the block after the superblock.
	groupCount := (image.BlocksCount + image.BlocksPerGroup - 1) / image.BlocksPerGroup
	tableBlock := image.FirstDataBlock + 1
	table := image.block(tableBlock)
	if table == nil || uint32(len(table)) < groupCount*32 {
		return nil, fconvert.ErrCorruptedFile.WithMessage("ext2 group descriptor table is missing")
	}

	image.groups = make([]groupDesc, groupCount)
	for i := range image.groups {
		desc := table[i*32:]
		image.groups[i] = groupDesc{
			blockBitmap:     binary.LittleEndian.Uint32(desc[0:4]),
			inodeBitmap:     binary.LittleEndian.Uint32(desc[4:8]),
			inodeTable:      binary.LittleEndian.Uint32(desc[8:12]),
			freeBlocksCount: binary.LittleEndian.Uint16(desc[12:14]),
			freeInodesCount: binary.LittleEndian.Uint16(desc[14:16]),
		}
	}

	image.Root = FileEntry{Inode: rootInode, IsDir: true}
	if err := image.parseDirectory(rootInode, &image.Root); err != nil {
		return nil, err
	}
	return image, nil
}

// block returns the contents of one block, or nil if the block number runs
// past the image.
func (image *Image) block(number uint32) []byte {
	if number == 0 {
		return nil
	}
	offset := uint64(number) * uint64(image.BlockSize)
	if offset+uint64(image.BlockSize) > uint64(len(image.data)) {
		return nil
	}
	return image.data[offset : offset+uint64(image.BlockSize)]
}

// ReadInode fetches an inode by number. Inode numbers start at 1.
func (image *Image) ReadInode(number uint32) (Inode, error) {
	if number == 0 || number > image.InodesCount {
		return Inode{}, fconvert.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("inode %d out of range [1, %d]", number, image.InodesCount))
	}

	group := (number - 1) / image.InodesPerGroup
	index := (number - 1) % image.InodesPerGroup
	if group >= uint32(len(image.groups)) {
		return Inode{}, fconvert.ErrCorruptedFile.WithMessage(
			fmt.Sprintf("inode %d points past the last block group", number))
	}

	inodesPerBlock := image.BlockSize / image.InodeSize
	blockData := image.block(image.groups[group].inodeTable + index/inodesPerBlock)
	if blockData == nil {
		return Inode{}, fconvert.ErrCorruptedFile.WithMessage("inode table block out of range")
	}

	raw := blockData[(index%inodesPerBlock)*image.InodeSize:]
	inode := Inode{
		Mode:       binary.LittleEndian.Uint16(raw[0:2]),
		UID:        binary.LittleEndian.Uint16(raw[2:4]),
		Size:       binary.LittleEndian.Uint32(raw[4:8]),
		Atime:      binary.LittleEndian.Uint32(raw[8:12]),
		Ctime:      binary.LittleEndian.Uint32(raw[12:16]),
		Mtime:      binary.LittleEndian.Uint32(raw[16:20]),
		GID:        binary.LittleEndian.Uint16(raw[24:26]),
		LinksCount: binary.LittleEndian.Uint16(raw[26:28]),
	}
	for i := range inode.Block {
		inode.Block[i] = binary.LittleEndian.Uint32(raw[40+i*4 : 44+i*4])
	}
	return inode, nil
}

// inodeBlocks resolves an inode's data block numbers, following the single,
// double, and triple indirect pointers as needed.
func (image *Image) inodeBlocks(inode Inode) []uint32 {
	remaining := (inode.Size + image.BlockSize - 1) / image.BlockSize
	blocks := make([]uint32, 0, remaining)

	for i := 0; i < 12 && remaining > 0; i++ {
		if inode.Block[i] != 0 {
			blocks = append(blocks, inode.Block[i])
			remaining--
		}
	}
	for level, pointer := range inode.Block[12:15] {
		if remaining > 0 && pointer != 0 {
			blocks = image.appendIndirect(pointer, level+1, blocks, &remaining)
		}
	}
	return blocks
}

func (image *Image) appendIndirect(
	pointer uint32, level int, blocks []uint32, remaining *uint32,
) []uint32 {
	blockData := image.block(pointer)
	if blockData == nil {
		return blocks
	}

	for i := 0; uint32(i) < image.BlockSize/4 && *remaining > 0; i++ {
		entry := binary.LittleEndian.Uint32(blockData[i*4 : i*4+4])
		if entry == 0 {
			continue
		}
		if level == 1 {
			blocks = append(blocks, entry)
			*remaining--
		} else {
			blocks = image.appendIndirect(entry, level-1, blocks, remaining)
		}
	}
	return blocks
}

// parseDirectory reads one directory inode's entries and recurses into
// subdirectories, filling in dir.Children.
func (image *Image) parseDirectory(inodeNumber uint32, dir *FileEntry) error {
	inode, err := image.ReadInode(inodeNumber)
	if err != nil {
		return err
	}

	for _, blockNumber := range image.inodeBlocks(inode) {
		blockData := image.block(blockNumber)
		if blockData == nil {
			continue
		}

		offset := uint32(0)
		for offset+8 <= image.BlockSize {
			entryInode := binary.LittleEndian.Uint32(blockData[offset : offset+4])
			recordLength := uint32(binary.LittleEndian.Uint16(blockData[offset+4 : offset+6]))
			nameLength := uint32(blockData[offset+6])
			fileType := blockData[offset+7]

			if recordLength < 8 || offset+recordLength > image.BlockSize {
				break
			}
			if entryInode == 0 {
				offset += recordLength
				continue
			}

			name := string(blockData[offset+8 : offset+8+nameLength])
			offset += recordLength
			if name == "." || name == ".." {
				continue
			}

			entry := FileEntry{
				Name:      name,
				Inode:     entryInode,
				IsDir:     fileType == FileTypeDirectory,
				IsSymlink: fileType == FileTypeSymlink,
			}
			if dir.Path == "" {
				entry.Path = name
			} else {
				entry.Path = dir.Path + "/" + name
			}

			if childInode, err := image.ReadInode(entryInode); err == nil {
				entry.Size = uint64(childInode.Size)
				entry.Mode = childInode.Mode
				entry.ModTime = time.Unix(int64(childInode.Mtime), 0)
				if childInode.IsDirectory() {
					entry.IsDir = true
				}
				if childInode.Mode&S_IFMT == S_IFLNK {
					entry.IsSymlink = true
				}
			}

			if entry.IsDir {
				if err := image.parseDirectory(entry.Inode, &entry); err != nil {
					return err
				}
			}
			dir.Children = append(dir.Children, entry)
		}
	}
	return nil
}

// ListFiles returns every path in the image, directories marked with a
// trailing slash.
func (image *Image) ListFiles() []string {
	var paths []string
	var walk func(entry *FileEntry)
	walk = func(entry *FileEntry) {
		if entry.Path != "" {
			path := entry.Path
			if entry.IsDir {
				path += "/"
			}
			paths = append(paths, path)
		}
		for i := range entry.Children {
			walk(&entry.Children[i])
		}
	}
	walk(&image.Root)
	return paths
}

// find walks the tree for the entry at path.
func (image *Image) find(path string) *FileEntry {
	var search func(entry *FileEntry) *FileEntry
	search = func(entry *FileEntry) *FileEntry {
		if entry.Path == path {
			return entry
		}
		for i := range entry.Children {
			if found := search(&entry.Children[i]); found != nil {
				return found
			}
		}
		return nil
	}
	return search(&image.Root)
}

// ReadFile returns the contents of the regular file at path.
func (image *Image) ReadFile(path string) ([]byte, error) {
	entry := image.find(path)
	if entry == nil || entry.IsDir {
		return nil, fconvert.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("no regular file at %q", path))
	}

	inode, err := image.ReadInode(entry.Inode)
	if err != nil {
		return nil, err
	}

	contents := make([]byte, 0, inode.Size)
	remaining := inode.Size
	for _, blockNumber := range image.inodeBlocks(inode) {
		blockData := image.block(blockNumber)
		if blockData == nil {
			break
		}
		if remaining < image.BlockSize {
			blockData = blockData[:remaining]
		}
		contents = append(contents, blockData...)
		remaining -= uint32(len(blockData))
	}

	if remaining != 0 {
		return nil, fconvert.ErrCorruptedFile.WithMessage(fmt.Sprintf(
			"file %q is missing %d bytes of block data", path, remaining))
	}
	return contents, nil
}

// UsageStats summarizes allocation as counted from the block and inode
// bitmaps.
type UsageStats struct {
	TotalBlocks uint32
	UsedBlocks  uint32
	FreeBlocks  uint32
	TotalInodes uint32
	UsedInodes  uint32
	FreeInodes  uint32
}

// Usage tallies the allocation bitmaps of every block group.
func (image *Image) Usage() (UsageStats, error) {
	stats := UsageStats{
		TotalBlocks: image.BlocksCount,
		TotalInodes: image.InodesCount,
	}

	blocksLeft := image.BlocksCount - image.FirstDataBlock
	inodesLeft := image.InodesCount

	for i, group := range image.groups {
		blockMap := image.block(group.blockBitmap)
		inodeMap := image.block(group.inodeBitmap)
		if blockMap == nil || inodeMap == nil {
			return stats, fconvert.ErrCorruptedFile.WithMessage(
				fmt.Sprintf("allocation bitmaps of group %d are out of range", i))
		}

		stats.UsedBlocks += countSetBits(blockMap, minUint32(blocksLeft, image.BlocksPerGroup))
		stats.UsedInodes += countSetBits(inodeMap, minUint32(inodesLeft, image.InodesPerGroup))
		blocksLeft -= minUint32(blocksLeft, image.BlocksPerGroup)
		inodesLeft -= minUint32(inodesLeft, image.InodesPerGroup)
	}

	stats.FreeBlocks = stats.TotalBlocks - image.FirstDataBlock - stats.UsedBlocks
	stats.FreeInodes = stats.TotalInodes - stats.UsedInodes
	return stats, nil
}

// countSetBits counts set bits among the first `limit` bits of raw.
func countSetBits(raw []byte, limit uint32) uint32 {
	if limit > uint32(len(raw))*8 {
		limit = uint32(len(raw)) * 8
	}
	count := uint32(0)
	for i := uint32(0); i < limit; i++ {
		if bitmap.Get(raw, int(i)) {
			count++
		}
	}
	return count
}

func minUint32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

// Verify cross-checks the bitmap tallies against the free counts the
// superblock and group descriptors claim, reporting every mismatch it
// finds.
func (image *Image) Verify() error {
	stats, err := image.Usage()
	if err != nil {
		return err
	}

	var report *multierror.Error
	if stats.FreeBlocks != image.FreeBlocks {
		report = multierror.Append(report, fmt.Errorf(
			"superblock claims %d free blocks, bitmaps say %d",
			image.FreeBlocks, stats.FreeBlocks))
	}
	if stats.FreeInodes != image.FreeInodes {
		report = multierror.Append(report, fmt.Errorf(
			"superblock claims %d free inodes, bitmaps say %d",
			image.FreeInodes, stats.FreeInodes))
	}

	var groupFreeBlocks, groupFreeInodes uint32
	for _, group := range image.groups {
		groupFreeBlocks += uint32(group.freeBlocksCount)
		groupFreeInodes += uint32(group.freeInodesCount)
	}
	if groupFreeBlocks != image.FreeBlocks {
		report = multierror.Append(report, fmt.Errorf(
			"group descriptors claim %d free blocks, superblock says %d",
			groupFreeBlocks, image.FreeBlocks))
	}
	if groupFreeInodes != image.FreeInodes {
		report = multierror.Append(report, fmt.Errorf(
			"group descriptors claim %d free inodes, superblock says %d",
			groupFreeInodes, image.FreeInodes))
	}

	return report.ErrorOrNil()
}
