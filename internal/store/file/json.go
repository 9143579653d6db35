package file

import (
	"encoding/json"
	"fmt"

	"github.com/fghso/camps-dct/internal/resource"
)

// JSONFormat implements Format over a document shaped like
// {"columns": [...], "resources": [{"id": ..., "status": ..., <info
// columns>: ...}, ...]}.
type JSONFormat struct{}

type jsonDocument struct {
	Columns   []string         `json:"columns"`
	Resources []map[string]any `json:"resources"`
}

func (JSONFormat) Read(data []byte, schema ColumnSchema) ([]resource.Record, ColumnSchema, error) {
	if len(data) == 0 {
		return nil, schema, nil
	}

	var doc jsonDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, schema, fmt.Errorf("file: json: %w", err)
	}

	if len(schema.InfoColumns) == 0 {
		for _, col := range doc.Columns {
			if col != schema.IDColumn && col != schema.StatusColumn {
				schema.InfoColumns = append(schema.InfoColumns, col)
			}
		}
	}

	records := make([]resource.Record, 0, len(doc.Resources))
	for _, row := range doc.Resources {
		id, ok := row[schema.IDColumn]
		if !ok {
			return nil, schema, fmt.Errorf("file: json: resource missing id column %q", schema.IDColumn)
		}

		status := resource.Available
		if schema.StatusColumn != "" {
			if raw, ok := row[schema.StatusColumn]; ok {
				st, err := statusFromCell(raw)
				if err != nil {
					return nil, schema, err
				}
				status = st
			}
		}

		var info map[string]any
		for _, col := range schema.InfoColumns {
			if v, ok := row[col]; ok {
				if info == nil {
					info = make(map[string]any, len(schema.InfoColumns))
				}
				info[col] = v
			}
		}

		records = append(records, resource.Record{ID: id, Status: status, Info: info})
	}

	return records, schema, nil
}

func (JSONFormat) Write(records []resource.Record, schema ColumnSchema) ([]byte, error) {
	columns := []string{schema.IDColumn}
	if schema.StatusColumn != "" {
		columns = append(columns, schema.StatusColumn)
	}
	columns = append(columns, schema.InfoColumns...)

	doc := jsonDocument{Columns: columns, Resources: make([]map[string]any, len(records))}
	for i, r := range records {
		row := map[string]any{schema.IDColumn: r.ID}
		if schema.StatusColumn != "" {
			row[schema.StatusColumn] = int(r.Status)
		}
		for _, col := range schema.InfoColumns {
			if r.Info != nil {
				if v, ok := r.Info[col]; ok {
					row[col] = v
				}
			}
		}
		doc.Resources[i] = row
	}

	return json.MarshalIndent(doc, "", "  ")
}

var _ Format = JSONFormat{}
