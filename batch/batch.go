// Package batch runs many file conversions through a worker pool. Work
// arrives either as a CSV manifest (one input/output pair per row) or by
// scanning a folder, and every run produces a CSV report of what happened
// to each file.
package batch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gocarina/gocsv"
	"github.com/hashicorp/go-multierror"

	"github.com/fconvert/fconvert"
)

const defaultWorkers = 4

// Job is one row of a batch manifest.
type Job struct {
	Input  string `csv:"input"`
	Output string `csv:"output"`
}

// Result is one row of a batch report.
type Result struct {
	Input  string `csv:"input"`
	Output string `csv:"output"`
	Status string `csv:"status"`
	Error  string `csv:"error"`
}

// Succeeded reports whether the job converted cleanly.
func (r Result) Succeeded() bool {
	return r.Status == "ok"
}

// Processor fans conversion jobs out over a pool of workers.
type Processor struct {
	// Registry routes the conversions; nil means the default registry.
	Registry *fconvert.Registry
	// Workers is the pool size; zero or negative means defaultWorkers.
	Workers int
	// SkipErrors makes a run succeed even when individual jobs fail;
	// failures still show up in the report.
	SkipErrors bool
	Params     fconvert.Params
}

func (p *Processor) registry() *fconvert.Registry {
	if p.Registry != nil {
		return p.Registry
	}
	return fconvert.DefaultRegistry
}

func (p *Processor) workers() int {
	if p.Workers > 0 {
		return p.Workers
	}
	return defaultWorkers
}

// LoadManifest parses a CSV manifest with `input` and `output` columns.
func LoadManifest(data []byte) ([]Job, error) {
	var jobs []Job
	if err := gocsv.UnmarshalBytes(data, &jobs); err != nil {
		return nil, fconvert.ErrInvalidArgument.Wrap(err)
	}
	return jobs, nil
}

// WriteReport serializes results as CSV, one row per job.
func WriteReport(results []Result) ([]byte, error) {
	return gocsv.MarshalBytes(&results)
}

// ProcessJobs converts every job, keeping results in job order. Unless
// SkipErrors is set, a run with any failed job returns an error
// aggregating every failure.
func (p *Processor) ProcessJobs(jobs []Job) ([]Result, error) {
	results := make([]Result, len(jobs))
	indexes := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < p.workers(); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				results[i] = p.processOne(jobs[i])
			}
		}()
	}
	for i := range jobs {
		indexes <- i
	}
	close(indexes)
	wg.Wait()

	var failures *multierror.Error
	failedCount := 0
	for _, result := range results {
		if !result.Succeeded() {
			failedCount++
			failures = multierror.Append(failures, fmt.Errorf(
				"%s: %s", result.Input, result.Error))
		}
	}

	fconvert.Log.WithField("total", len(jobs)).
		WithField("failed", failedCount).
		Info("batch run finished")

	if p.SkipErrors {
		return results, nil
	}
	return results, failures.ErrorOrNil()
}

func (p *Processor) processOne(job Job) Result {
	result := Result{Input: job.Input, Output: job.Output}

	fconvert.Log.WithField("input", job.Input).
		WithField("output", job.Output).
		Debug("converting")

	err := p.registry().ConvertFile(job.Input, job.Output, p.Params)
	if err != nil {
		result.Status = "failed"
		result.Error = err.Error()
		fconvert.Log.WithField("input", job.Input).
			WithField("error", err).
			Warn("conversion failed")
		return result
	}

	result.Status = "ok"
	return result
}

// ProcessManifest loads a CSV manifest from disk and runs it.
func (p *Processor) ProcessManifest(manifestPath string) ([]Result, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fconvert.ErrIOFailed.Wrap(err)
	}
	jobs, err := LoadManifest(data)
	if err != nil {
		return nil, err
	}
	return p.ProcessJobs(jobs)
}

// FolderJobs builds the job list for converting every file in inputDir to
// toFormat, writing the outputs into outputDir with swapped extensions.
// Files whose format can't be converted are skipped.
func (p *Processor) FolderJobs(
	inputDir, outputDir, toFormat string, recursive bool,
) ([]Job, error) {
	var jobs []Job
	toFormat = fconvert.NormalizeFormat(toFormat)

	err := filepath.Walk(inputDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if !recursive && path != inputDir {
				return filepath.SkipDir
			}
			return nil
		}

		fromFormat := fconvert.FormatFromPath(path)
		if fromFormat == "" || !p.registry().CanConvert(fromFormat, toFormat) {
			return nil
		}

		base := filepath.Base(path)
		stem := strings.TrimSuffix(base, filepath.Ext(base))
		jobs = append(jobs, Job{
			Input:  path,
			Output: filepath.Join(outputDir, stem+"."+toFormat),
		})
		return nil
	})
	if err != nil {
		return nil, fconvert.ErrIOFailed.Wrap(err)
	}
	return jobs, nil
}

// ProcessFolder converts every convertible file in a folder.
func (p *Processor) ProcessFolder(
	inputDir, outputDir, toFormat string, recursive bool,
) ([]Result, error) {
	jobs, err := p.FolderJobs(inputDir, outputDir, toFormat, recursive)
	if err != nil {
		return nil, err
	}
	return p.ProcessJobs(jobs)
}
