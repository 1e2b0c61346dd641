package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOptionListJSONKeepsColumnOrderAndTypes(t *testing.T) {
	in := OptionList{
		Data: []Row{
			NewRow(
				[]string{"z", "a", "n", "f", "big"},
				[]interface{}{"SPY", int64(7), nil, 1.25, int64(9007199254740993)},
			),
		},
		Count: 1,
		Type:  OptionTypeETF,
	}

	encoded, err := json.Marshal(in)
	require.NoError(t, err)
	want := `{"data":[{"z":"SPY","a":7,"n":null,"f":1.25,"big":9007199254740993}],"count":1,"type":"ETF"}`
	require.Equal(t, want, string(encoded))

	var out OptionList
	require.NoError(t, json.Unmarshal(encoded, &out))
	require.Equal(t, 1, out.Count)
	require.Equal(t, OptionTypeETF, out.Type)
	require.Len(t, out.Data, 1)

	got := out.Data[0]
	require.Equal(t, []string{"z", "a", "n", "f", "big"}, got.Columns)
	require.Equal(t, []interface{}{"SPY", int64(7), nil, 1.25, int64(9007199254740993)}, got.Values)

	again, err := json.Marshal(out)
	require.NoError(t, err)
	require.Equal(t, string(encoded), string(again))
}

func TestRowUnmarshalRejectsNonObject(t *testing.T) {
	for _, input := range []string{`[1,2]`, `"text"`, `42`, `true`} {
		var r Row
		require.Error(t, json.Unmarshal([]byte(input), &r), input)
	}
}

func TestRowUnmarshalNullLeavesRowEmpty(t *testing.T) {
	var rows []Row
	require.NoError(t, json.Unmarshal([]byte(`[null,{"x":1}]`), &rows))
	require.Len(t, rows, 2)
	require.Empty(t, rows[0].Columns)
	v, ok := rows[1].Get("x")
	require.True(t, ok)
	require.Equal(t, int64(1), v)
}

func TestRowSetAndProject(t *testing.T) {
	var r Row
	r.Set("a", 1.0)
	r.Set("b", nil)
	r.Set("a", 2.0)
	require.Equal(t, []string{"a", "b"}, r.Columns)
	require.True(t, r.Has("b"))

	p := r.Project([]string{"b", "missing", "a"})
	require.Equal(t, []string{"b", "a"}, p.Columns)
	require.Equal(t, []interface{}{nil, 2.0}, p.Values)
}
