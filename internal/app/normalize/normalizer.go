// Package normalize classifies raw broker payloads and extracts samples from them.
//
// Payloads are matched against an ordered chain of shapes; the first shape whose
// guard accepts the payload produces the sample:
//
//	StructuredMultiField  {"device_serial":"D1","tftvalue":{"a":"1.5"}}
//	ScalarJSON            42, {"value":7}, {"temp":21.5}
//	RawNumericText        plain text such as " 42.0\n" that is not JSON
//	Unrecognized          anything else; no sample, never an error
package normalize

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/MENT2022/studio/internal/domain"
	"github.com/MENT2022/studio/internal/ports"
)

// ScalarField is the field name used for single-value samples.
const ScalarField = "value"

var (
	DefaultIdentityKeys = []string{"device_serial", "device_id", "deviceId", "sensor_id", "device"}
	DefaultFieldMapKeys = []string{"tftvalue", "values", "fields", "metrics", "readings"}
)

// Shape names the payload variant that produced a sample.
type Shape int

const (
	ShapeUnrecognized Shape = iota
	ShapeStructuredMultiField
	ShapeScalarJSON
	ShapeRawNumericText
)

func (s Shape) String() string {
	switch s {
	case ShapeStructuredMultiField:
		return "structured_multi_field"
	case ShapeScalarJSON:
		return "scalar_json"
	case ShapeRawNumericText:
		return "raw_numeric_text"
	default:
		return "unrecognized"
	}
}

// Config selects which members carry the device identity and the nested field map.
type Config struct {
	IdentityKeys []string `yaml:"identity_keys"`
	FieldMapKeys []string `yaml:"field_map_keys"`
}

// Result is the outcome of Classify. Sample is only meaningful when Shape is
// not ShapeUnrecognized.
type Result struct {
	Shape  Shape
	Sample domain.Sample
}

// Accepted reports whether the payload produced a sample.
func (r Result) Accepted() bool { return r.Shape != ShapeUnrecognized }

type record struct {
	raw     []byte
	value   any
	decoded bool
}

type matcher struct {
	shape Shape
	match func(rec record) (sourceID string, fields []domain.Field, ok bool)
}

type Normalizer struct {
	identityKeys []string
	fieldMapKeys []string
	chain        []matcher
}

func New(cfg Config) *Normalizer {
	n := &Normalizer{
		identityKeys: cfg.IdentityKeys,
		fieldMapKeys: cfg.FieldMapKeys,
	}
	if len(n.identityKeys) == 0 {
		n.identityKeys = DefaultIdentityKeys
	}
	if len(n.fieldMapKeys) == 0 {
		n.fieldMapKeys = DefaultFieldMapKeys
	}
	n.chain = []matcher{
		{shape: ShapeStructuredMultiField, match: n.matchMultiField},
		{shape: ShapeScalarJSON, match: matchScalarJSON},
		{shape: ShapeRawNumericText, match: matchRawText},
	}
	return n
}

// Classify runs the payload through the matcher chain.
func (n *Normalizer) Classify(payload []byte, at time.Time) Result {
	rec := record{raw: payload}
	if v, err := decode(payload); err == nil {
		rec.value = v
		rec.decoded = true
	}

	for _, m := range n.chain {
		sourceID, fields, ok := m.match(rec)
		if !ok {
			continue
		}
		return Result{
			Shape: m.shape,
			Sample: domain.Sample{
				SourceID:   sourceID,
				CapturedAt: at,
				Fields:     fields,
			},
		}
	}
	return Result{Shape: ShapeUnrecognized}
}

func (n *Normalizer) Normalize(payload []byte, at time.Time) (domain.Sample, bool) {
	res := n.Classify(payload, at)
	return res.Sample, res.Accepted()
}

func (n *Normalizer) matchMultiField(rec record) (string, []domain.Field, bool) {
	obj, ok := rec.value.(object)
	if !ok {
		return "", nil, false
	}
	id, ok := n.identity(obj)
	if !ok {
		return "", nil, false
	}
	nested, ok := n.fieldMap(obj)
	if !ok {
		return "", nil, false
	}

	fields := make([]domain.Field, 0, len(nested))
	for _, m := range nested {
		if f, ok := coerce(m.val); ok {
			fields = append(fields, domain.Field{Name: m.key, Value: f})
		}
	}
	if len(fields) == 0 {
		return "", nil, false
	}
	return id, fields, true
}

func (n *Normalizer) identity(obj object) (string, bool) {
	for _, key := range n.identityKeys {
		v, ok := obj.get(key)
		if !ok {
			continue
		}
		switch t := v.(type) {
		case string:
			if id := strings.TrimSpace(t); id != "" {
				return id, true
			}
		case json.Number:
			return t.String(), true
		}
	}
	return "", false
}

func (n *Normalizer) fieldMap(obj object) (object, bool) {
	for _, key := range n.fieldMapKeys {
		v, ok := obj.get(key)
		if !ok {
			continue
		}
		if nested, ok := v.(object); ok && len(nested) > 0 {
			return nested, true
		}
	}
	return nil, false
}

// matchScalarJSON picks, in order: the record itself when it is a number, a
// member named "value", then the first member holding a JSON number.
func matchScalarJSON(rec record) (string, []domain.Field, bool) {
	switch v := rec.value.(type) {
	case json.Number:
		if f, ok := coerce(v); ok {
			return "", scalar(f), true
		}
	case object:
		if raw, ok := v.get(ScalarField); ok {
			if f, ok := coerce(raw); ok {
				return "", scalar(f), true
			}
		}
		for _, m := range v {
			num, ok := m.val.(json.Number)
			if !ok {
				continue
			}
			if f, ok := coerce(num); ok {
				return "", scalar(f), true
			}
		}
	}
	return "", nil, false
}

func matchRawText(rec record) (string, []domain.Field, bool) {
	if f, ok := parseDecimal(strings.TrimSpace(string(rec.raw))); ok {
		return "", scalar(f), true
	}
	return "", nil, false
}

func scalar(v float64) []domain.Field {
	return []domain.Field{{Name: ScalarField, Value: v}}
}

var _ ports.Normalizer = (*Normalizer)(nil)
