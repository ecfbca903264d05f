package batch_test

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fconvert/fconvert"
	"github.com/fconvert/fconvert/batch"
	"github.com/fconvert/fconvert/formats/image"
)

// writeTestPNG drops a small valid PNG at path.
func writeTestPNG(t *testing.T, path string) {
	t.Helper()

	pixmap := image.NewPixmap(8, 8, 3)
	for i := range pixmap.Pixels {
		pixmap.Pixels[i] = byte(i * 11)
	}
	encoded, err := image.EncodePNG(pixmap, 6)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, encoded, 0o644))
}

func TestLoadManifest(t *testing.T) {
	manifest := []byte("input,output\na.png,a.bmp\nb.png,b.tga\n")

	jobs, err := batch.LoadManifest(manifest)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, batch.Job{Input: "a.png", Output: "a.bmp"}, jobs[0])
	assert.Equal(t, batch.Job{Input: "b.png", Output: "b.tga"}, jobs[1])
}

func TestLoadManifestBadCSV(t *testing.T) {
	_, err := batch.LoadManifest([]byte("input,output\n\"unterminated"))
	require.Error(t, err)
	assert.ErrorIs(t, err, fconvert.ErrInvalidArgument)
}

func TestWriteReport(t *testing.T) {
	report, err := batch.WriteReport([]batch.Result{
		{Input: "a.png", Output: "a.bmp", Status: "ok"},
		{Input: "b.png", Output: "b.bmp", Status: "failed", Error: "boom"},
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(report)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "input,output,status,error", lines[0])
	assert.Contains(t, lines[2], "boom")
}

func TestProcessJobs(t *testing.T) {
	dir := t.TempDir()
	var jobs []batch.Job
	for i := 0; i < 6; i++ {
		input := filepath.Join(dir, fmt.Sprintf("img%d.png", i))
		writeTestPNG(t, input)
		jobs = append(jobs, batch.Job{
			Input:  input,
			Output: filepath.Join(dir, fmt.Sprintf("img%d.bmp", i)),
		})
	}

	processor := batch.Processor{Workers: 3, Params: fconvert.DefaultParams()}
	results, err := processor.ProcessJobs(jobs)
	require.NoError(t, err)
	require.Len(t, results, len(jobs))

	for i, result := range results {
		assert.True(t, result.Succeeded(), "job %d: %s", i, result.Error)
		assert.Equal(t, jobs[i].Input, result.Input)

		output, err := os.ReadFile(result.Output)
		require.NoError(t, err)
		assert.True(t, len(output) > 0)
	}
}

func TestProcessJobsFailureAggregation(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.png")
	writeTestPNG(t, good)

	jobs := []batch.Job{
		{Input: good, Output: filepath.Join(dir, "good.bmp")},
		{Input: filepath.Join(dir, "missing.png"), Output: filepath.Join(dir, "missing.bmp")},
	}

	processor := batch.Processor{Params: fconvert.DefaultParams()}
	results, err := processor.ProcessJobs(jobs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.png")

	// The good job still ran.
	require.Len(t, results, 2)
	assert.True(t, results[0].Succeeded())
	assert.False(t, results[1].Succeeded())
}

func TestProcessJobsSkipErrors(t *testing.T) {
	dir := t.TempDir()
	jobs := []batch.Job{
		{Input: filepath.Join(dir, "nope.png"), Output: filepath.Join(dir, "nope.bmp")},
	}

	processor := batch.Processor{SkipErrors: true, Params: fconvert.DefaultParams()}
	results, err := processor.ProcessJobs(jobs)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Succeeded())
	assert.NotEmpty(t, results[0].Error)
}

func TestProcessManifest(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "pic.png")
	output := filepath.Join(dir, "pic.tga")
	writeTestPNG(t, input)

	manifestPath := filepath.Join(dir, "manifest.csv")
	manifest := fmt.Sprintf("input,output\n%s,%s\n", input, output)
	require.NoError(t, os.WriteFile(manifestPath, []byte(manifest), 0o644))

	processor := batch.Processor{Params: fconvert.DefaultParams()}
	results, err := processor.ProcessManifest(manifestPath)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Succeeded())

	_, err = os.Stat(output)
	assert.NoError(t, err)
}

func TestFolderJobs(t *testing.T) {
	inputDir := t.TempDir()
	outputDir := t.TempDir()

	writeTestPNG(t, filepath.Join(inputDir, "one.png"))
	writeTestPNG(t, filepath.Join(inputDir, "two.png"))
	// Not convertible to bmp; must be skipped.
	require.NoError(t, os.WriteFile(
		filepath.Join(inputDir, "notes.txt"), []byte("hi"), 0o644))

	nestedDir := filepath.Join(inputDir, "nested")
	require.NoError(t, os.Mkdir(nestedDir, 0o755))
	writeTestPNG(t, filepath.Join(nestedDir, "three.png"))

	processor := batch.Processor{Params: fconvert.DefaultParams()}

	flat, err := processor.FolderJobs(inputDir, outputDir, "bmp", false)
	require.NoError(t, err)
	assert.Len(t, flat, 2)

	recursive, err := processor.FolderJobs(inputDir, outputDir, "bmp", true)
	require.NoError(t, err)
	assert.Len(t, recursive, 3)

	for _, job := range recursive {
		assert.Equal(t, ".bmp", filepath.Ext(job.Output))
		assert.Equal(t, outputDir, filepath.Dir(job.Output))
	}
}

func TestProcessFolder(t *testing.T) {
	inputDir := t.TempDir()
	outputDir := t.TempDir()
	writeTestPNG(t, filepath.Join(inputDir, "a.png"))
	writeTestPNG(t, filepath.Join(inputDir, "b.png"))

	processor := batch.Processor{Params: fconvert.DefaultParams()}
	results, err := processor.ProcessFolder(inputDir, outputDir, "tga", false)
	require.NoError(t, err)
	require.Len(t, results, 2)

	for _, result := range results {
		assert.True(t, result.Succeeded(), result.Error)
	}
}
