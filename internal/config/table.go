// Package config reads and writes the files of a motor installation: the
// per-motor input table, saved session data, motion paths and the YAML
// description of the boxes a tool talks to.
package config

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

var (
	// ErrFileRead means a file exists but is damaged or of another format.
	ErrFileRead = errors.New("file is damaged or incompatible")
	// ErrConfig means a file parsed but describes an invalid installation.
	ErrConfig = errors.New("invalid configuration")
)

// DefaultDelimiter separates the columns of every table file.
const DefaultDelimiter = ';'

// maxFileSize bounds the files read from disk.
const maxFileSize = 1 * 1024 * 1024

// Table is a CSV file with a header row. Every row has as many fields as
// the header.
type Table struct {
	Header []string
	Rows   [][]string
}

// Column returns the index of name in the header, or -1.
func (t Table) Column(name string) int {
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	return -1
}

// Record returns row i keyed by header name.
func (t Table) Record(i int) map[string]string {
	rec := make(map[string]string, len(t.Header))
	for j, h := range t.Header {
		rec[h] = t.Rows[i][j]
	}
	return rec
}

// ReadTable parses delimiter separated data. A file without data rows or
// with ragged rows is ErrFileRead.
func ReadTable(r io.Reader, delimiter rune) (Table, error) {
	cr := csv.NewReader(r)
	cr.Comma = delimiter
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return Table{}, fmt.Errorf("%w: %w", ErrFileRead, err)
	}
	if len(records) < 2 {
		return Table{}, fmt.Errorf("%w: no data rows", ErrFileRead)
	}
	return Table{Header: records[0], Rows: records[1:]}, nil
}

// ReadTableFile opens path and parses it with ReadTable. A missing file is
// reported with an error matching os.ErrNotExist.
func ReadTableFile(path string, delimiter rune) (Table, error) {
	f, err := openBounded(path)
	if err != nil {
		return Table{}, err
	}
	defer f.Close()

	t, err := ReadTable(f, delimiter)
	if err != nil {
		return Table{}, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

func openBounded(path string) (*os.File, error) {
	clean := filepath.Clean(path)
	info, err := os.Stat(clean)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("%s: file too large: %d bytes (max %d)", clean, info.Size(), maxFileSize)
	}
	return os.Open(clean)
}

// WriteTable writes the header and rows.
func WriteTable(w io.Writer, delimiter rune, t Table) error {
	cw := csv.NewWriter(w)
	cw.Comma = delimiter
	if err := cw.Write(t.Header); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return err
	}
	return cw.Error()
}
