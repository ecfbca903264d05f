package ext2

import (
	"fmt"

	"github.com/fconvert/fconvert"
	"github.com/fconvert/fconvert/formats/archive"
)

// Converter extracts ext2 images into archive formats. The reverse
// direction (building a file system) is not supported.
type Converter struct{}

func init() {
	fconvert.DefaultRegistry.Register(Converter{})
}

func (Converter) Category() fconvert.Category {
	return fconvert.CategoryFileSystem
}

var outputFormats = map[string]bool{
	"tar": true,
	"tgz": true,
	"zip": true,
}

func (Converter) CanConvert(fromFormat, toFormat string) bool {
	return (fromFormat == "ext2" || fromFormat == "img") && outputFormats[toFormat]
}

func (c Converter) Convert(
	input []byte, fromFormat, toFormat string, params fconvert.Params,
) ([]byte, error) {
	if !c.CanConvert(fromFormat, toFormat) {
		return nil, fconvert.ErrUnsupportedConversion.WithMessage(
			fmt.Sprintf("%s -> %s", fromFormat, toFormat))
	}

	image, err := ReadImage(input)
	if err != nil {
		return nil, err
	}

	entries, err := image.archiveEntries()
	if err != nil {
		return nil, err
	}

	switch toFormat {
	case "tar":
		return archive.WriteTar(entries)
	case "tgz":
		return archive.WriteTarGz(entries, params.Level)
	default:
		zipEntries := make([]archive.ZipEntry, 0, len(entries))
		for _, entry := range entries {
			if entry.Typeflag != archive.TarTypeRegular {
				continue
			}
			zipEntries = append(zipEntries, archive.ZipEntry{
				Name:    entry.Name,
				ModTime: entry.ModTime,
				Data:    entry.Data,
			})
		}
		return archive.WriteZip(zipEntries, params.Level)
	}
}

// archiveEntries flattens the directory tree into archive entries,
// directories first so extraction order works out. Symlinks and special
// files are skipped.
func (image *Image) archiveEntries() ([]archive.TarEntry, error) {
	var entries []archive.TarEntry

	var walk func(entry *FileEntry) error
	walk = func(entry *FileEntry) error {
		if entry.Path != "" {
			switch {
			case entry.IsDir:
				entries = append(entries, archive.TarEntry{
					Name:     entry.Path + "/",
					Mode:     int64(entry.Mode &^ S_IFMT),
					ModTime:  entry.ModTime,
					Typeflag: archive.TarTypeDirectory,
				})
			case !entry.IsSymlink:
				contents, err := image.ReadFile(entry.Path)
				if err != nil {
					return err
				}
				entries = append(entries, archive.TarEntry{
					Name:     entry.Path,
					Mode:     int64(entry.Mode &^ S_IFMT),
					ModTime:  entry.ModTime,
					Typeflag: archive.TarTypeRegular,
					Data:     contents,
				})
			}
		}
		for i := range entry.Children {
			if err := walk(&entry.Children[i]); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(&image.Root); err != nil {
		return nil, err
	}
	return entries, nil
}
