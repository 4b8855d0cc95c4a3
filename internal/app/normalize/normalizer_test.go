package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MENT2022/studio/internal/domain"
)

var at = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestNormalizeMultiFieldTakesPrecedence(t *testing.T) {
	n := New(Config{})

	res := n.Classify([]byte(`{"device_serial":"D1","tftvalue":{"a":"1.5","b":"x"}}`), at)

	require.Equal(t, ShapeStructuredMultiField, res.Shape)
	assert.Equal(t, "D1", res.Sample.SourceID)
	assert.Equal(t, []domain.Field{{Name: "a", Value: 1.5}}, res.Sample.Fields)
	assert.Equal(t, at, res.Sample.CapturedAt)
}

func TestNormalizeMultiFieldKeepsPayloadOrder(t *testing.T) {
	n := New(Config{})

	s, ok := n.Normalize([]byte(`{"device_id":"X","values":{"z":1,"a":2,"m":"3","skip":null}}`), at)

	require.True(t, ok)
	assert.Equal(t, []domain.Field{
		{Name: "z", Value: 1},
		{Name: "a", Value: 2},
		{Name: "m", Value: 3},
	}, s.Fields)
}

func TestNormalizeNumericIdentity(t *testing.T) {
	n := New(Config{})

	s, ok := n.Normalize([]byte(`{"device_id":17,"values":{"t":21.5}}`), at)

	require.True(t, ok)
	assert.Equal(t, "17", s.SourceID)
}

func TestNormalizeCustomKeys(t *testing.T) {
	n := New(Config{IdentityKeys: []string{"unit"}, FieldMapKeys: []string{"ch"}})

	res := n.Classify([]byte(`{"unit":"U9","ch":{"p":"2e3"}}`), at)
	require.Equal(t, ShapeStructuredMultiField, res.Shape)
	assert.Equal(t, "U9", res.Sample.SourceID)
	assert.Equal(t, []domain.Field{{Name: "p", Value: 2000}}, res.Sample.Fields)

	// default keys are replaced, not extended
	res = n.Classify([]byte(`{"device_serial":"D1","tftvalue":{"a":1}}`), at)
	assert.NotEqual(t, ShapeStructuredMultiField, res.Shape)
}

func TestNormalizeMultiFieldWithoutNumbersFallsBackToScalar(t *testing.T) {
	n := New(Config{})

	res := n.Classify([]byte(`{"device_serial":"D1","tftvalue":{"b":"x"},"value":3}`), at)

	require.Equal(t, ShapeScalarJSON, res.Shape)
	assert.Equal(t, "", res.Sample.SourceID)
	assert.Equal(t, []domain.Field{{Name: "value", Value: 3}}, res.Sample.Fields)
}

func TestNormalizeScalar(t *testing.T) {
	n := New(Config{})

	cases := []struct {
		name    string
		payload string
		want    float64
		shape   Shape
	}{
		{name: "bare number", payload: `42`, want: 42, shape: ShapeScalarJSON},
		{name: "negative exponent", payload: `-1.5e-2`, want: -0.015, shape: ShapeScalarJSON},
		{name: "named value wins", payload: `{"temp":1,"value":"7.5"}`, want: 7.5, shape: ShapeScalarJSON},
		{name: "first numeric member", payload: `{"name":"x","temp":21.5,"hum":40}`, want: 21.5, shape: ShapeScalarJSON},
		{name: "non numeric value falls through", payload: `{"value":"n/a","hum":40}`, want: 40, shape: ShapeScalarJSON},
		{name: "raw decimal text", payload: "42.0", want: 42, shape: ShapeScalarJSON},
		{name: "raw text with whitespace", payload: " 3.25\n", want: 3.25, shape: ShapeScalarJSON},
		{name: "raw text not json", payload: "+7", want: 7, shape: ShapeRawNumericText},
		{name: "leading dot", payload: ".5", want: 0.5, shape: ShapeRawNumericText},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := n.Classify([]byte(tc.payload), at)
			require.Equal(t, tc.shape, res.Shape)
			assert.Equal(t, "", res.Sample.SourceID)
			assert.Equal(t, []domain.Field{{Name: "value", Value: tc.want}}, res.Sample.Fields)
		})
	}
}

func TestNormalizeRejects(t *testing.T) {
	n := New(Config{})

	for _, payload := range []string{
		"",
		"hello",
		"NaN",
		"Infinity",
		"-Inf",
		"1e999",
		"0x10",
		"1_000",
		`"12"`,
		`true`,
		`null`,
		`[1,2]`,
		`{}`,
		`{"a":"1"}`,
		`{"value":"NaN"}`,
		`{"device_serial":"D1","tftvalue":{"a":"x"}}`,
		`42 43`,
		`{"value":1`,
	} {
		res := n.Classify([]byte(payload), at)
		assert.Equal(t, ShapeUnrecognized, res.Shape, "payload %q", payload)
		assert.False(t, res.Accepted(), "payload %q", payload)
		assert.Empty(t, res.Sample.Fields, "payload %q", payload)
	}
}

func TestNormalizeNeverReturnsEmptyFields(t *testing.T) {
	n := New(Config{})

	for _, payload := range []string{
		`{"device_serial":"D1","tftvalue":{}}`,
		`{"device_serial":"","tftvalue":{"a":1}}`,
		`{"tftvalue":{"a":"b"}}`,
	} {
		s, ok := n.Normalize([]byte(payload), at)
		if ok {
			assert.NotEmpty(t, s.Fields, "payload %q", payload)
		}
	}
}

func TestDecodeDuplicateKeysKeepFirstPosition(t *testing.T) {
	v, err := decode([]byte(`{"a":1,"b":2,"a":3}`))
	require.NoError(t, err)

	obj, ok := v.(object)
	require.True(t, ok)
	require.Len(t, obj, 2)
	assert.Equal(t, "a", obj[0].key)
	assert.EqualValues(t, "3", obj[0].val)
}

func TestShapeString(t *testing.T) {
	assert.Equal(t, "structured_multi_field", ShapeStructuredMultiField.String())
	assert.Equal(t, "raw_numeric_text", ShapeRawNumericText.String())
	assert.Equal(t, "unrecognized", Shape(99).String())
}
