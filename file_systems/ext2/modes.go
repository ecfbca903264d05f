package ext2

// Inode mode bits. The file type lives in the top four bits; the rest are
// the usual permission bits.
const (
	S_IXOTH = 0o0001
	S_IWOTH = 0o0002
	S_IROTH = 0o0004
	S_IXGRP = 0o0010
	S_IWGRP = 0o0020
	S_IRGRP = 0o0040
	S_IXUSR = 0o0100
	S_IWUSR = 0o0200
	S_IRUSR = 0o0400
	S_ISVTX = 0o1000
	S_ISGID = 0o2000
	S_ISUID = 0o4000

	S_IFIFO  = 0x1000
	S_IFCHR  = 0x2000
	S_IFDIR  = 0x4000
	S_IFBLK  = 0x6000
	S_IFREG  = 0x8000
	S_IFLNK  = 0xA000
	S_IFSOCK = 0xC000
	S_IFMT   = 0xF000
)

// Directory entry file types.
const (
	FileTypeUnknown = iota
	FileTypeRegular
	FileTypeDirectory
	FileTypeCharDevice
	FileTypeBlockDevice
	FileTypeFIFO
	FileTypeSocket
	FileTypeSymlink
)
