package file

import (
	"fmt"
	"strings"

	"github.com/fghso/camps-dct/internal/resource"
)

// CSVFormat implements Format over a header-required CSV dialect: empty
// cell decodes to null, "T"/"F" decode to bool, a doublequote-sentinel
// wrapped cell always decodes as a string, and any other unquoted token
// is tried as int then float before falling back to string.
type CSVFormat struct{}

func (CSVFormat) Read(data []byte, schema ColumnSchema) ([]resource.Record, ColumnSchema, error) {
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 0 || (len(lines) == 1 && lines[0] == "") {
		return nil, schema, nil
	}

	header := splitCSVLine(lines[0])
	idIdx, statusIdx := -1, -1
	infoIdx := make(map[int]string)
	for i, col := range header {
		switch col {
		case schema.IDColumn:
			idIdx = i
		case schema.StatusColumn:
			statusIdx = i
		default:
			infoIdx[i] = col
		}
	}
	if idIdx == -1 {
		return nil, schema, fmt.Errorf("file: csv: id column %q not found in header", schema.IDColumn)
	}

	if len(schema.InfoColumns) == 0 {
		for _, name := range infoIdx {
			schema.InfoColumns = append(schema.InfoColumns, name)
		}
	}

	var records []resource.Record
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		cells := splitCSVLine(line)

		status := resource.Available
		if statusIdx != -1 && statusIdx < len(cells) {
			st, err := statusFromCell(parseCSVCell(cells[statusIdx]))
			if err != nil {
				return nil, schema, err
			}
			status = st
		}

		var info map[string]any
		for idx, name := range infoIdx {
			if idx >= len(cells) {
				continue
			}
			if info == nil {
				info = make(map[string]any, len(infoIdx))
			}
			info[name] = parseCSVCell(cells[idx])
		}

		records = append(records, resource.Record{
			ID:     parseCSVCell(cells[idIdx]),
			Status: status,
			Info:   info,
		})
	}

	return records, schema, nil
}

func (CSVFormat) Write(records []resource.Record, schema ColumnSchema) ([]byte, error) {
	var b strings.Builder

	header := []string{schema.IDColumn}
	if schema.StatusColumn != "" {
		header = append(header, schema.StatusColumn)
	}
	header = append(header, schema.InfoColumns...)
	b.WriteString(strings.Join(header, ","))
	b.WriteByte('\n')

	for _, r := range records {
		row := []string{formatCSVCell(r.ID)}
		if schema.StatusColumn != "" {
			row = append(row, formatCSVCell(int(r.Status)))
		}
		for _, col := range schema.InfoColumns {
			row = append(row, formatCSVCell(r.Info[col]))
		}
		b.WriteString(strings.Join(row, ","))
		b.WriteByte('\n')
	}

	return []byte(b.String()), nil
}

var _ Format = CSVFormat{}
