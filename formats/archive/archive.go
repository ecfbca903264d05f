package archive

import (
	"fmt"
	"time"

	"github.com/fconvert/fconvert"
)

// Converter translates between the archive formats. Everything passes
// through a common []TarEntry representation, so adding a format means
// writing one reader and one writer.
type Converter struct{}

func init() {
	fconvert.DefaultRegistry.Register(Converter{})
}

func (Converter) Category() fconvert.Category {
	return fconvert.CategoryArchive
}

var archiveFormats = map[string]bool{
	"gz":  true,
	"zip": true,
	"tar": true,
	"tgz": true,
}

func (Converter) CanConvert(fromFormat, toFormat string) bool {
	return fromFormat != toFormat && archiveFormats[fromFormat] && archiveFormats[toFormat]
}

func (c Converter) Convert(
	input []byte, fromFormat, toFormat string, params fconvert.Params,
) ([]byte, error) {
	if !c.CanConvert(fromFormat, toFormat) {
		return nil, fconvert.ErrUnsupportedConversion.WithMessage(
			fmt.Sprintf("%s -> %s", fromFormat, toFormat))
	}

	entries, err := readEntries(input, fromFormat)
	if err != nil {
		return nil, err
	}
	return writeEntries(entries, toFormat, params.Level)
}

// readEntries parses an archive into the common representation. A .gz file
// becomes a one-entry archive named after its FNAME field.
func readEntries(input []byte, format string) ([]TarEntry, error) {
	switch format {
	case "tar":
		return ReadTar(input)

	case "tgz":
		return ReadTarGz(input)

	case "zip":
		zipEntries, err := ReadZip(input)
		if err != nil {
			return nil, err
		}
		entries := make([]TarEntry, len(zipEntries))
		for i, zipEntry := range zipEntries {
			entries[i] = TarEntry{
				Name:     zipEntry.Name,
				Mode:     0o644,
				ModTime:  zipEntry.ModTime,
				Typeflag: TarTypeRegular,
				Data:     zipEntry.Data,
			}
		}
		return entries, nil

	case "gz":
		member, err := ReadGzip(input)
		if err != nil {
			return nil, err
		}
		name := member.Name
		if name == "" {
			name = "file"
		}
		return []TarEntry{{
			Name:     name,
			Mode:     0o644,
			ModTime:  member.ModTime,
			Typeflag: TarTypeRegular,
			Data:     member.Data,
		}}, nil

	default:
		return nil, fconvert.ErrUnknownFormat.WithMessage(format)
	}
}

func writeEntries(entries []TarEntry, format string, level int) ([]byte, error) {
	switch format {
	case "tar":
		return WriteTar(entries)

	case "tgz":
		return WriteTarGz(entries, level)

	case "zip":
		zipEntries := make([]ZipEntry, 0, len(entries))
		for _, entry := range entries {
			if entry.Typeflag != TarTypeRegular && entry.Typeflag != 0 {
				// Directories and special files have no ZIP payload worth
				// carrying over.
				continue
			}
			zipEntries = append(zipEntries, ZipEntry{
				Name:    entry.Name,
				ModTime: entry.ModTime,
				Data:    entry.Data,
			})
		}
		return WriteZip(zipEntries, level)

	case "gz":
		// GZIP holds exactly one payload, so only single-file archives can
		// become one.
		var regular []TarEntry
		for _, entry := range entries {
			if entry.Typeflag == TarTypeRegular || entry.Typeflag == 0 {
				regular = append(regular, entry)
			}
		}
		if len(regular) != 1 {
			return nil, fconvert.ErrUnsupportedConversion.WithMessage(fmt.Sprintf(
				"gzip can hold exactly one file, archive has %d", len(regular)))
		}
		modTime := regular[0].ModTime
		if modTime.Equal(time.Unix(0, 0)) {
			modTime = time.Time{}
		}
		return WriteGzip(regular[0].Data, regular[0].Name, modTime, level)

	default:
		return nil, fconvert.ErrUnknownFormat.WithMessage(format)
	}
}
