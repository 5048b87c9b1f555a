package measurement

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// TimestampFormat denotes the (file system safe) format of the series timestamp
const TimestampFormat = "2006-01-02_15-04-05"

// ErrFileAlreadyExists is returned if a series would overwrite an existing file
var ErrFileAlreadyExists = errors.New("file already exists")

// Sink denotes a secondary destination for persisted series
type Sink interface {
	Save(ctx context.Context, s *Series) error
}

// Paths denotes the files a series was written to
type Paths struct {
	CSV  string `json:"csv"`
	JSON string `json:"json"`
}

// Summary denotes the JSON representation of a series
type Summary struct {
	Subject        string       `json:"subject"`
	Label          string       `json:"label"`
	Timestamp      string       `json:"timestamp"`
	Interval       float64      `json:"interval"`
	FMax           float64      `json:"f_max"`
	DatasetHeaders []string     `json:"datasetHeaders"`
	Dataset        [][2]float64 `json:"dataset"`
}

// FileStore persists series as CSV / JSON below a base directory
type FileStore struct {
	BaseDir string
}

// NewFileStore instantiates a new FileStore
func NewFileStore(baseDir string) *FileStore {
	return &FileStore{BaseDir: baseDir}
}

// PathsFor returns the paths a series is written to: <base>/<subject>/<timestamp>_<label>.{csv,json}
// Path separators in subject and label are escaped, so files always end up directly
// below the subject directory.
func (f *FileStore) PathsFor(s *Series) Paths {
	name := s.StartedAt.Format(TimestampFormat) + "_" + pathElement(s.Label)
	base := filepath.Join(f.BaseDir, pathElement(s.Subject), name)
	return Paths{
		CSV:  base + ".csv",
		JSON: base + ".json",
	}
}

var pathEscaper = strings.NewReplacer("/", "_", "\\", "_")

// pathElement turns a user provided name into a single path element
func pathElement(name string) string {
	name = pathEscaper.Replace(name)
	if name == "" || name == "." || name == ".." {
		return "_"
	}
	return name
}

// Write persists a series. Existing files are never overwritten.
func (f *FileStore) Write(s *Series) (Paths, error) {
	peak, err := s.Peak(ColumnForce)
	if err != nil {
		return Paths{}, fmt.Errorf("failed to evaluate series: %w", err)
	}

	paths := f.PathsFor(s)
	if err := os.MkdirAll(filepath.Dir(paths.CSV), 0o755); err != nil {
		return Paths{}, fmt.Errorf("failed to create measurement directory: %w", err)
	}
	if _, err := os.Stat(paths.JSON); err == nil {
		return Paths{}, fmt.Errorf("%w: %s", ErrFileAlreadyExists, paths.JSON)
	}

	if err := writeExclusive(paths.CSV, func(fh *os.File) error {
		return writeCSV(fh, s)
	}); err != nil {
		return Paths{}, err
	}

	if err := writeExclusive(paths.JSON, func(fh *os.File) error {
		enc := json.NewEncoder(fh)
		enc.SetIndent("", "  ")
		return enc.Encode(newSummary(s, peak))
	}); err != nil {
		_ = os.Remove(paths.CSV)
		return Paths{}, err
	}

	return paths, nil
}

////////////////////////////////////////////////////////////////////////////////

func newSummary(s *Series, peak float64) Summary {
	dataset := make([][2]float64, 0, len(s.Samples))
	for _, sample := range s.Samples {
		dataset = append(dataset, [2]float64{sample.Time, sample.Force})
	}

	return Summary{
		Subject:        s.Subject,
		Label:          s.Label,
		Timestamp:      s.StartedAt.Format(TimestampFormat),
		Interval:       s.Interval.Seconds(),
		FMax:           peak,
		DatasetHeaders: Headers,
		Dataset:        dataset,
	}
}

func writeExclusive(path string, fn func(fh *os.File) error) error {
	fh, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrFileAlreadyExists, path)
		}
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	if err := fn(fh); err != nil {
		_ = fh.Close()
		_ = os.Remove(path)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return fh.Close()
}

func writeCSV(fh *os.File, s *Series) error {
	w := csv.NewWriter(fh)
	if err := w.Write(Headers); err != nil {
		return err
	}
	for _, sample := range s.Samples {
		if err := w.Write([]string{
			strconv.FormatFloat(sample.Time, 'f', -1, 64),
			strconv.FormatFloat(sample.Force, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	w.Flush()

	return w.Error()
}
