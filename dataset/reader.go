package dataset

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

var ErrUnsupportedFormat = errors.New("unsupported dataset format")

// ReadCSV parses a comma separated file whose first record is the header.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrEmptyTable
	}
	header := records[0]
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	return NewTable(header, records[1:])
}

// ReadXLSX parses the first sheet of a workbook whose first row is the header.
func ReadXLSX(r io.Reader) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyTable
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, ErrEmptyTable
	}
	return NewTable(rows[0], rows[1:])
}

// Parse picks a reader from the file extension of name.
func Parse(name string, data []byte) (*Table, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt":
		return ReadCSV(bytes.NewReader(data))
	case ".xlsx", ".xlsm":
		return ReadXLSX(bytes.NewReader(data))
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
}

// SupportedName reports whether name has an extension Parse can read.
func SupportedName(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt", ".xlsx", ".xlsm":
		return true
	}
	return false
}

// ObjectReader fetches an object body by key.
type ObjectReader interface {
	Download(ctx context.Context, key string) ([]byte, error)
}

// Source loads uploaded datasets from object storage.
type Source struct {
	store  ObjectReader
	keyFor func(name string) string
}

// NewSource reads datasets through store, mapping names to keys with keyFor.
func NewSource(store ObjectReader, keyFor func(name string) string) *Source {
	return &Source{store: store, keyFor: keyFor}
}

// Load downloads and parses the dataset called name.
func (s *Source) Load(ctx context.Context, name string) (*Table, error) {
	data, err := s.store.Download(ctx, s.keyFor(name))
	if err != nil {
		return nil, fmt.Errorf("failed to download dataset %s: %w", name, err)
	}
	t, err := Parse(name, data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse dataset %s: %w", name, err)
	}
	return t, nil
}
