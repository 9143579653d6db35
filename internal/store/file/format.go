package file

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fghso/camps-dct/internal/resource"
)

// ColumnSchema names the columns a format reader/writer maps onto
// resource.Record fields. InfoColumns, when nil, means "every column
// that is not IDColumn or StatusColumn" — inferred on first read.
type ColumnSchema struct {
	IDColumn     string
	StatusColumn string
	InfoColumns  []string
}

// Format is the file-format abstraction: a reader that turns file bytes
// into records (and discovers the schema when it isn't fully specified)
// and a writer that serializes records back.
type Format interface {
	Read(data []byte, schema ColumnSchema) ([]resource.Record, ColumnSchema, error)
	Write(records []resource.Record, schema ColumnSchema) ([]byte, error)
}

// quoteSentinel marks a CSV cell that must always decode as a string,
// even if its contents look numeric or boolean — "strings quoted with a
// doublequote sentinel."
const quoteSentinel = '"'

func parseCSVCell(cell string) any {
	if len(cell) >= 2 && cell[0] == quoteSentinel && cell[len(cell)-1] == quoteSentinel {
		return cell[1 : len(cell)-1]
	}
	switch cell {
	case "":
		return nil
	case "T":
		return true
	case "F":
		return false
	}
	if n, err := strconv.Atoi(cell); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(cell, 64); err == nil {
		return f
	}
	return cell
}

func formatCSVCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case bool:
		if val {
			return "T"
		}
		return "F"
	case string:
		return string(quoteSentinel) + val + string(quoteSentinel)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	default:
		return string(quoteSentinel) + fmt.Sprint(val) + string(quoteSentinel)
	}
}

func statusFromCell(v any) (resource.Status, error) {
	switch val := v.(type) {
	case nil:
		return resource.Available, nil
	case int:
		return resource.Status(val), nil
	case float64:
		return resource.Status(int(val)), nil
	case string:
		if st, ok := resource.ParseStatus(val); ok {
			return st, nil
		}
		return 0, fmt.Errorf("file: unrecognized status value %q", val)
	default:
		return 0, fmt.Errorf("file: unrecognized status value %v", val)
	}
}

func splitCSVLine(line string) []string {
	// The sentinel-quoting scheme only protects field content, not
	// separators, so a plain split is sufficient here: no field is ever
	// allowed to contain the delimiter itself.
	return strings.Split(line, ",")
}
