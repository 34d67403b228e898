package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIRObjectUnmarshalJSON(t *testing.T) {
	var obj IRObject
	require.NoError(t, json.Unmarshal([]byte(`{"s":"x","n":3,"b":false,"l":["a"],"o":{"k":null}}`), &obj))

	assert.Equal(t, IRString("x"), obj["s"])
	assert.Equal(t, IRInt(3), obj["n"])
	assert.Equal(t, IRBool(false), obj["b"])
	assert.Equal(t, IRArray{IRString("a")}, obj["l"])
	assert.Equal(t, IRObject{"k": IRNull{}}, obj["o"])
}

func TestIRObjectUnmarshalJSONRejectsFloat(t *testing.T) {
	var obj IRObject
	err := json.Unmarshal([]byte(`{"f":1.5}`), &obj)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats are not allowed")
}

func TestGetStringList(t *testing.T) {
	obj := IRObject{
		"ok":    StringArray([]string{"a", "b"}),
		"mixed": IRArray{IRString("a"), IRInt(1)},
		"str":   IRString("a"),
	}

	got, ok := obj.GetStringList("ok")
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, got)

	_, ok = obj.GetStringList("mixed")
	assert.False(t, ok)
	_, ok = obj.GetStringList("str")
	assert.False(t, ok)
	_, ok = obj.GetStringList("missing")
	assert.False(t, ok)
}

func TestFromAny(t *testing.T) {
	v, err := FromAny(map[string]any{
		"n":    float64(7),
		"num":  json.Number("12"),
		"list": []any{"a", true},
	})
	require.NoError(t, err)
	assert.Equal(t, IRObject{
		"n":    IRInt(7),
		"num":  IRInt(12),
		"list": IRArray{IRString("a"), IRBool(true)},
	}, v)

	_, err = FromAny(map[string]any{"x": nil})
	assert.Error(t, err)
	_, err = FromAny(json.Number("1.0"))
	assert.Error(t, err)
	_, err = FromAny(2.5)
	assert.Error(t, err)
}
