package results

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ethpandaops/commitbenchoor/pkg/fsutil"
)

// FileName is the Result Table file inside a results directory.
const FileName = "results.csv"

// ReadCSV loads a table whose first column is the row label.
func ReadCSV(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening results table: %w", err)
	}
	defer func() { _ = f.Close() }()

	t, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	return t, nil
}

// Decode reads a CSV table from r.
func Decode(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("missing header row")
		}

		return nil, fmt.Errorf("reading header: %w", err)
	}

	if len(header) == 0 {
		return nil, fmt.Errorf("empty header row")
	}

	t := NewTable(header[1:]...)
	t.IndexName = header[0]

	// Rows are stored positionally, so every column needs its own name.
	if len(t.columns) != len(header)-1 {
		for i, name := range header[1:] {
			if t.colIndex[name] != i {
				return nil, fmt.Errorf("duplicate column %q", name)
			}
		}
	}

	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("reading row: %w", err)
		}

		if len(record) != len(header) {
			return nil, fmt.Errorf("line %d: expected %d fields, got %d", line, len(header), len(record))
		}

		t.index = append(t.index, record[0])
		t.rows = append(t.rows, append([]string(nil), record[1:]...))
	}

	return t, nil
}

// Encode writes the table as CSV to w.
func (t *Table) Encode(w io.Writer) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(append([]string{t.IndexName}, t.columns...)); err != nil {
		return err
	}

	for i, label := range t.index {
		if err := writer.Write(append([]string{label}, t.rows[i]...)); err != nil {
			return err
		}
	}

	writer.Flush()

	return writer.Error()
}

// WriteCSV replaces the file at path with the table. The file is written to a
// temporary sibling first so readers never observe a partial table.
func (t *Table) WriteCSV(path string, owner *fsutil.Owner) (err error) {
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")

	f, err := fsutil.Create(tmp, owner)
	if err != nil {
		return fmt.Errorf("creating results table: %w", err)
	}

	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	if err = t.Encode(f); err != nil {
		_ = f.Close()

		return fmt.Errorf("writing results table: %w", err)
	}

	if err = f.Close(); err != nil {
		return fmt.Errorf("closing results table: %w", err)
	}

	if err = os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing results table: %w", err)
	}

	return nil
}
