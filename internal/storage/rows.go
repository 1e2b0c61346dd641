package storage

import (
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"findash/internal/models"
)

func scanRows(rows *sql.Rows) ([]models.Row, error) {
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("column types: %w", err)
	}
	columns := make([]string, len(colTypes))
	typeNames := make([]string, len(colTypes))
	for i, ct := range colTypes {
		columns[i] = ct.Name()
		typeNames[i] = strings.ToUpper(ct.DatabaseTypeName())
	}

	out := make([]models.Row, 0)
	for rows.Next() {
		raw := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		values := make([]interface{}, len(columns))
		for i, v := range raw {
			values[i] = normalizeValue(v, typeNames[i])
		}
		// Each row gets its own column slice so later Set calls stay independent.
		cols := make([]string, len(columns))
		copy(cols, columns)
		out = append(out, models.NewRow(cols, values))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// normalizeValue turns driver values into JSON friendly scalars.
func normalizeValue(v interface{}, typeName string) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		return convertBytes(string(val), typeName)
	case time.Time:
		return formatTime(val)
	case float64:
		return finiteOrNil(val)
	case float32:
		return finiteOrNil(float64(val))
	default:
		return val
	}
}

func convertBytes(s, typeName string) interface{} {
	switch {
	case isFloatType(typeName):
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return finiteOrNil(f)
		}
	case strings.Contains(typeName, "INT"):
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
		if u, err := strconv.ParseUint(s, 10, 64); err == nil {
			return u
		}
	}
	return s
}

func isFloatType(typeName string) bool {
	for _, t := range []string{"DECIMAL", "NUMERIC", "FLOAT", "DOUBLE", "REAL"} {
		if strings.Contains(typeName, t) {
			return true
		}
	}
	return false
}

func formatTime(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format("2006-01-02")
	}
	return t.Format("2006-01-02T15:04:05")
}

func finiteOrNil(f float64) interface{} {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}
