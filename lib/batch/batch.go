// Package batch merges the measurement spreadsheets of many capture
// directories into one workbook.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
	"go.uber.org/multierr"
)

const (
	// FinalDir receives the merged workbook and copied files.
	FinalDir = "Final_Process"
	// MergedFile is the merged workbook name.
	MergedFile = "final_merged_measurements.xlsx"
	// IDColumn holds the source directory name of each merged row.
	IDColumn = "ID"

	sheet = "Sheet1"
)

// Result summarises a merge.
type Result struct {
	// IDs are the capture directories processed, in name order.
	IDs []string
	// Sources are the measurement workbooks merged.
	Sources []string
	// Copied are the other files copied into FinalDir.
	Copied []string
	// Rows is the number of data rows merged.
	Rows int
	// Output is the merged workbook path, empty when nothing was merged.
	Output string
}

// Option configures Merge.
type Option func(*merger)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(m *merger) { m.logger = l } }

// WithProgress receives one line per processed item.
func WithProgress(fn func(line string)) Option { return func(m *merger) { m.progress = fn } }

type merger struct {
	logger   zerolog.Logger
	progress func(string)

	columns []string
	rows    []map[string]string
}

// Merge scans the subdirectories of root (except FinalDir), concatenates
// every measurement workbook found beneath them with an ID column naming
// the subdirectory, writes FinalDir/MergedFile and copies the other files
// of each subdirectory into FinalDir. Per-file errors are collected and the
// rest of the work continues.
func Merge(ctx context.Context, root string, opts ...Option) (Result, error) {
	m := &merger{logger: zerolog.Nop(), progress: func(string) {}, columns: []string{IDColumn}}
	for _, opt := range opts {
		opt(m)
	}

	var res Result
	if strings.TrimSpace(root) == "" {
		return res, errors.New("no main directory selected")
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return res, fmt.Errorf("read %s: %w", root, err)
	}
	final := filepath.Join(root, FinalDir)
	if err := os.MkdirAll(final, 0o755); err != nil {
		return res, fmt.Errorf("create %s: %w", final, err)
	}

	var errs error
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, multierr.Append(errs, err)
		}
		if !e.IsDir() || e.Name() == FinalDir {
			continue
		}
		id := e.Name()
		dir := filepath.Join(root, id)
		res.IDs = append(res.IDs, id)
		m.progress("Processing " + id)

		files, err := findMeasurementFiles(dir)
		if err != nil {
			errs = multierr.Append(errs, err)
		}
		for _, f := range files {
			n, err := m.add(id, f)
			if err != nil {
				m.logger.Error().Err(err).Str("file", f).Msg("measurement file skipped")
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", f, err))
				continue
			}
			res.Sources = append(res.Sources, f)
			res.Rows += n
		}
		if len(files) > 0 {
			m.progress("Merged measurement data for " + id)
		}

		copied, err := copyOthers(dir, final)
		errs = multierr.Append(errs, err)
		for _, c := range copied {
			m.progress("Copied " + c + " to " + FinalDir)
		}
		res.Copied = append(res.Copied, copied...)
	}

	if len(m.rows) == 0 {
		m.progress("No measurements files found for merging")
		return res, errs
	}
	out := filepath.Join(final, MergedFile)
	if err := m.write(out); err != nil {
		return res, multierr.Append(errs, err)
	}
	res.Output = out
	m.progress("Final merged measurements saved")
	m.logger.Info().Str("output", out).Int("rows", res.Rows).Int("sources", len(res.Sources)).Msg("batch merged")
	return res, errs
}

// IsMeasurementFile reports whether name is a measurement workbook.
func IsMeasurementFile(name string) bool {
	return strings.Contains(strings.ToLower(name), "measurements") && strings.HasSuffix(name, ".xlsx")
}

func findMeasurementFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsMeasurementFile(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// add appends the rows of one workbook and returns how many it held.
func (m *merger) add(id, path string) (int, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return 0, errors.New("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	header := slices.Clone(rows[0])
	var injected string
	switch {
	case len(header) == 0:
		return 0, errors.New("empty header row")
	case header[0] == "" || strings.HasPrefix(header[0], "Unnamed"):
		header[0] = "Channel"
	case !slices.Contains(header, "Channel"):
		injected = header[0]
	}
	if injected != "" {
		m.addColumn("Channel")
	}
	for _, h := range header {
		m.addColumn(h)
	}

	for _, r := range rows[1:] {
		rec := map[string]string{IDColumn: id}
		if injected != "" {
			rec["Channel"] = injected
		}
		for i, v := range r {
			if i < len(header) && header[i] != "" {
				rec[header[i]] = v
			}
		}
		m.rows = append(m.rows, rec)
	}
	return len(rows) - 1, nil
}

func (m *merger) addColumn(name string) {
	if name != "" && !slices.Contains(m.columns, name) {
		m.columns = append(m.columns, name)
	}
}

func (m *merger) write(path string) (err error) {
	f := excelize.NewFile()
	defer func() { err = multierr.Append(err, f.Close()) }()

	for c, name := range m.columns {
		if err := set(f, c+1, 1, name); err != nil {
			return err
		}
	}
	for r, rec := range m.rows {
		for c, name := range m.columns {
			v, ok := rec[name]
			if !ok || v == "" {
				continue
			}
			var cell any = v
			if name != IDColumn {
				if n, err := strconv.ParseFloat(v, 64); err == nil {
					cell = n
				}
			}
			if err := set(f, c+1, r+2, cell); err != nil {
				return err
			}
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

func set(f *excelize.File, col, row int, v any) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return f.SetCellValue(sheet, cell, v)
}

// copyOthers copies the regular files of dir that are not measurement
// workbooks into dst and returns their names.
func copyOthers(dir, dst string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var (
		copied []string
		errs   error
	)
	for _, e := range entries {
		if !e.Type().IsRegular() || IsMeasurementFile(e.Name()) {
			continue
		}
		if err := copyFile(filepath.Join(dir, e.Name()), filepath.Join(dst, e.Name())); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("copy %s: %w", e.Name(), err))
			continue
		}
		copied = append(copied, e.Name())
	}
	return copied, errs
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, out.Close()) }()
	_, err = io.Copy(out, in)
	return err
}
