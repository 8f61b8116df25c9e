package capture

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/gotmc/scopeseq/lib/scope"
	"github.com/xuri/excelize/v2"
	"go.uber.org/multierr"
)

// SheetName is the worksheet holding measurement rows.
const SheetName = "Measurements"

// Value is one measurement result. OK is false when the scope gave none.
type Value struct {
	V  float64
	OK bool
}

// Row holds the measurements of one channel.
type Row struct {
	Channel int
	Values  []Value
}

// Measure runs names on every channel.
func (c *Capturer) Measure(channels []int, names []string) []Row {
	rows := make([]Row, 0, len(channels))
	for _, ch := range channels {
		row := Row{Channel: ch, Values: make([]Value, len(names))}
		for i, name := range names {
			v, ok := c.facade.Measure(name, ch)
			row.Values[i] = Value{V: v, OK: ok}
		}
		rows = append(rows, row)
	}
	return rows
}

// WriteCSV writes the samples with one time column taken from the first
// waveform and one amplitude column per waveform. Fields are separated by
// ", ". Shorter waveforms leave their trailing cells empty.
func WriteCSV(w io.Writer, waves []scope.Waveform) error {
	if len(waves) == 0 {
		return errors.New("no waveforms to write")
	}
	bw := bufio.NewWriter(w)
	bw.WriteString("Time (s)")
	for _, wv := range waves {
		fmt.Fprintf(bw, ", Channel %d Amplitude (V)", wv.Channel)
	}
	bw.WriteByte('\n')

	for j := range waves[0].Time {
		bw.WriteString(strconv.FormatFloat(waves[0].Time[j], 'g', -1, 64))
		for _, wv := range waves {
			bw.WriteString(", ")
			if j < len(wv.Volts) {
				bw.WriteString(strconv.FormatFloat(wv.Volts[j], 'g', -1, 64))
			}
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// WriteCSVFile writes the samples to path.
func WriteCSVFile(path string, waves []scope.Waveform) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	err = WriteCSV(f, waves)
	return multierr.Append(err, f.Close())
}

// WriteMeasurements writes an XLSX workbook with a "Measurements" sheet: a
// header row "Channel" plus names, then one "Channel k" row per channel.
// Absent results are left blank.
func WriteMeasurements(path string, names []string, rows []Row) (err error) {
	f := excelize.NewFile()
	defer func() { err = multierr.Append(err, f.Close()) }()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return err
	}
	header := append([]string{"Channel"}, names...)
	for i, h := range header {
		if err := setCell(f, i+1, 1, h); err != nil {
			return err
		}
	}
	for r, row := range rows {
		if err := setCell(f, 1, r+2, fmt.Sprintf("Channel %d", row.Channel)); err != nil {
			return err
		}
		for i, v := range row.Values {
			if !v.OK {
				continue
			}
			if err := setCell(f, i+2, r+2, v.V); err != nil {
				return err
			}
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

func setCell(f *excelize.File, col, row int, value any) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return f.SetCellValue(SheetName, cell, value)
}
