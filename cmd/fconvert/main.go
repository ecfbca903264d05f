package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"

	"github.com/fconvert/fconvert"
	"github.com/fconvert/fconvert/batch"
	"github.com/fconvert/fconvert/file_systems/ext2"
	"github.com/fconvert/fconvert/formats/archive"
	_ "github.com/fconvert/fconvert/formats/image"
)

func main() {
	app := cli.App{
		Name:  "fconvert",
		Usage: "Convert between image, archive, and disk image file formats",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to a config file (default: ./fconvert.yaml)",
			},
		},
		Before: setup,
		Commands: []*cli.Command{
			{
				Name:      "convert",
				Usage:     "Convert one file; the output format comes from the output extension",
				Action:    convertFile,
				ArgsUsage: "INPUT  OUTPUT",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "level",
						Usage: "compression level (0-9)",
						Value: 6,
					},
					&cli.BoolFlag{
						Name:  "overwrite",
						Usage: "replace the output file if it exists",
					},
				},
			},
			{
				Name:      "identify",
				Usage:     "Detect and print the format of each file",
				Action:    identifyFiles,
				ArgsUsage: "FILE...",
			},
			{
				Name:      "list",
				Usage:     "List the entries of an archive or ext2 image",
				Action:    listEntries,
				ArgsUsage: "FILE",
			},
			{
				Name:   "batch",
				Usage:  "Convert many files from a CSV manifest or a folder",
				Action: runBatch,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "manifest",
						Usage: "CSV manifest with input,output columns",
					},
					&cli.StringFlag{
						Name:  "input-dir",
						Usage: "convert every supported file in this folder",
					},
					&cli.StringFlag{
						Name:  "output-dir",
						Usage: "where converted files go (folder mode)",
					},
					&cli.StringFlag{
						Name:  "to",
						Usage: "target format (folder mode)",
					},
					&cli.BoolFlag{
						Name:  "recursive",
						Usage: "descend into subfolders (folder mode)",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "number of parallel conversions",
						Value: 4,
					},
					&cli.BoolFlag{
						Name:  "skip-errors",
						Usage: "keep going when individual files fail",
					},
					&cli.BoolFlag{
						Name:  "overwrite",
						Usage: "replace output files that exist",
					},
					&cli.IntFlag{
						Name:  "level",
						Usage: "compression level (0-9)",
						Value: 6,
					},
					&cli.StringFlag{
						Name:  "report",
						Usage: "write a CSV report of the run to this path",
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}

// setup loads the optional config file and configures logging before any
// command runs.
func setup(context *cli.Context) error {
	if configPath := context.String("config"); configPath != "" {
		viper.SetConfigFile(configPath)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("unable to load config file: %w", err)
		}
	} else {
		viper.SetConfigName("fconvert")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		// A missing config file just means defaults.
		_ = viper.ReadInConfig()
	}
	return fconvert.InitLogger()
}

func convertFile(context *cli.Context) error {
	if context.NArg() != 2 {
		return cli.Exit("usage: fconvert convert INPUT OUTPUT", 1)
	}

	params := fconvert.Params{
		Level:     context.Int("level"),
		Overwrite: context.Bool("overwrite"),
	}
	return fconvert.DefaultRegistry.ConvertFile(
		context.Args().Get(0), context.Args().Get(1), params)
}

func identifyFiles(context *cli.Context) error {
	if context.NArg() == 0 {
		return cli.Exit("usage: fconvert identify FILE...", 1)
	}

	for _, path := range context.Args().Slice() {
		data, err := os.ReadFile(path)
		if err != nil {
			return fconvert.ErrIOFailed.Wrap(err)
		}

		fileType := fconvert.Detect(data, path)
		if fileType.Format == "" {
			fmt.Printf("%s: unknown format\n", path)
			continue
		}
		fmt.Printf("%s: %s (%s, %s)\n",
			path, fileType.Description, fileType.MIMEType, fileType.Category)
	}
	return nil
}

func listEntries(context *cli.Context) error {
	if context.NArg() != 1 {
		return cli.Exit("usage: fconvert list FILE", 1)
	}
	path := context.Args().Get(0)

	data, err := os.ReadFile(path)
	if err != nil {
		return fconvert.ErrIOFailed.Wrap(err)
	}

	switch fileType := fconvert.Detect(data, path); fileType.Format {
	case "tar":
		entries, err := archive.ReadTar(data)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			fmt.Printf("%10d  %s\n", len(entry.Data), entry.Name)
		}

	case "tgz":
		entries, err := archive.ReadTarGz(data)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			fmt.Printf("%10d  %s\n", len(entry.Data), entry.Name)
		}

	case "zip":
		entries, err := archive.ReadZip(data)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			fmt.Printf("%10d  %s\n", len(entry.Data), entry.Name)
		}

	case "ext2":
		image, err := ext2.ReadImage(data)
		if err != nil {
			return err
		}
		for _, name := range image.ListFiles() {
			fmt.Println(name)
		}

	default:
		return fconvert.ErrUnsupportedConversion.WithMessage(
			fmt.Sprintf("can't list entries of a %q file", fileType.Format))
	}
	return nil
}

func runBatch(context *cli.Context) error {
	processor := batch.Processor{
		Workers:    context.Int("workers"),
		SkipErrors: context.Bool("skip-errors"),
		Params: fconvert.Params{
			Level:     context.Int("level"),
			Overwrite: context.Bool("overwrite"),
		},
	}

	var results []batch.Result
	var runErr error

	switch {
	case context.String("manifest") != "":
		results, runErr = processor.ProcessManifest(context.String("manifest"))

	case context.String("input-dir") != "":
		outputDir := context.String("output-dir")
		toFormat := context.String("to")
		if outputDir == "" || toFormat == "" {
			return cli.Exit("folder mode needs --output-dir and --to", 1)
		}
		results, runErr = processor.ProcessFolder(
			context.String("input-dir"), outputDir, toFormat, context.Bool("recursive"))

	default:
		return cli.Exit("batch needs either --manifest or --input-dir", 1)
	}

	if reportPath := context.String("report"); reportPath != "" && results != nil {
		report, err := batch.WriteReport(results)
		if err != nil {
			return err
		}
		if err := os.WriteFile(reportPath, report, 0o644); err != nil {
			return fconvert.ErrIOFailed.Wrap(err)
		}
	}

	for _, result := range results {
		status := "ok"
		if !result.Succeeded() {
			status = "FAILED: " + result.Error
		}
		fmt.Printf("%s -> %s  %s\n", result.Input, result.Output, status)
	}
	return runErr
}
