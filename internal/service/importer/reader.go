package importer

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/dimchansky/utfbom"
	"github.com/go-gota/gota/dataframe"
	"github.com/xuri/excelize/v2"
)

var (
	ErrUnsupportedFormat = errors.New("invalid file type, upload an Excel (.xlsx, .xls) or .csv file")
	ErrEmptySheet        = errors.New("spreadsheet has no data rows")
)

// SupportedFile reports whether the extension is one ReadRows understands.
func SupportedFile(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xls", ".csv":
		return true
	}
	return false
}

// ReadRows parses the first sheet of a workbook, or a CSV file, into rows
// keyed by the header row.
func ReadRows(filename string, r io.Reader) ([]RawRow, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xls":
		return readWorkbook(r)
	case ".csv":
		return readCSV(r)
	}
	return nil, ErrUnsupportedFormat
}

func readWorkbook(r io.Reader) ([]RawRow, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptySheet
	}

	// raw values keep date cells as serial numbers
	records, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	return toRawRows(records)
}

func readCSV(r io.Reader) ([]RawRow, error) {
	// Trim the Byte Order Marker if it's present
	padded, err := padBlankLines(utfbom.SkipOnly(r))
	if err != nil {
		return nil, err
	}
	df := dataframe.ReadCSV(padded, dataframe.HasHeader(true), dataframe.DetectTypes(false))
	if df.Err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", df.Err)
	}

	records := df.Records()
	for _, rec := range records[1:] {
		for i, v := range rec {
			// gota renders empty and NA cells as NaN
			if v == "NaN" {
				rec[i] = ""
			}
		}
	}
	return toRawRows(records)
}

const maxCSVLine = 1 << 20

// padBlankLines rewrites blank lines between data rows as rows of empty
// cells. The csv reader drops blank lines, which would shift the row numbers
// in import reports. Leading and trailing blank lines and lines inside quoted
// cells are left alone.
func padBlankLines(r io.Reader) (io.Reader, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxCSVLine)

	var (
		out     bytes.Buffer
		empty   string
		header  bool
		inQuote bool
		pending int
	)
	for sc.Scan() {
		line := strings.TrimSuffix(sc.Text(), "\r")
		blank := !inQuote && strings.TrimSpace(line) == ""
		switch {
		case blank && !header:
			continue
		case blank:
			pending++
			continue
		case !header:
			cols, err := csv.NewReader(strings.NewReader(line)).Read()
			if err != nil {
				return nil, fmt.Errorf("failed to read csv header: %w", err)
			}
			empty = `""` + strings.Repeat(",", len(cols)-1)
			header = true
		}
		for ; pending > 0; pending-- {
			out.WriteString(empty)
			out.WriteByte('\n')
		}
		if strings.Count(line, `"`)%2 == 1 {
			inQuote = !inQuote
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	return &out, nil
}

func toRawRows(records [][]string) ([]RawRow, error) {
	if len(records) < 2 {
		return nil, ErrEmptySheet
	}

	headers := records[0]
	rows := make([]RawRow, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(RawRow, len(headers))
		for i, h := range headers {
			h = strings.TrimSpace(h)
			if h == "" {
				continue
			}
			if i < len(rec) {
				row[h] = rec[i]
			} else {
				row[h] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
