package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Row is one database result row. Column order is preserved through JSON encoding.
type Row struct {
	Columns []string
	Values  []interface{}
}

// NewRow builds a row from parallel column/value slices.
func NewRow(columns []string, values []interface{}) Row {
	return Row{Columns: columns, Values: values}
}

// Get returns the value stored under column.
func (r Row) Get(column string) (interface{}, bool) {
	for i, c := range r.Columns {
		if c == column {
			return r.Values[i], true
		}
	}
	return nil, false
}

// Has reports whether the row carries column, even when its value is null.
func (r Row) Has(column string) bool {
	_, ok := r.Get(column)
	return ok
}

// Set replaces the value of column, appending the column when absent.
func (r *Row) Set(column string, value interface{}) {
	for i, c := range r.Columns {
		if c == column {
			r.Values[i] = value
			return
		}
	}
	r.Columns = append(r.Columns, column)
	r.Values = append(r.Values, value)
}

// Project returns a row restricted to the listed columns that exist, in list order.
func (r Row) Project(columns []string) Row {
	out := Row{
		Columns: make([]string, 0, len(columns)),
		Values:  make([]interface{}, 0, len(columns)),
	}
	for _, c := range columns {
		if v, ok := r.Get(c); ok {
			out.Columns = append(out.Columns, c)
			out.Values = append(out.Values, v)
		}
	}
	return out
}

func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r.Columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r.Values[i])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object keeping key order, so cached rows round-trip.
func (r *Row) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("row: expected JSON object, got %v", tok)
	}
	r.Columns = r.Columns[:0]
	r.Values = r.Values[:0]
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		var val interface{}
		if err := dec.Decode(&val); err != nil {
			return err
		}
		if n, ok := val.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				val = i
			} else if f, err := n.Float64(); err == nil {
				val = f
			}
		}
		r.Columns = append(r.Columns, key)
		r.Values = append(r.Values, val)
	}
	_, err = dec.Token()
	return err
}
