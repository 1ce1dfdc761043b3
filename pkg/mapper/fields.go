package mapper

import (
	"fmt"
	"math"
	"time"

	v1 "github.com/pojntfx/tremote/pkg/api/http/v1"
)

// fields reads typed values out of one JSON object and names failures by
// their full path within the response.
type fields struct {
	obj     map[string]v1.Value
	context string
	path    string
}

func (f fields) name(field string) string {
	if f.path == "" {
		return field
	}

	return f.path + "." + field
}

func (f fields) fail(kind error, field, detail string) error {
	return &Error{Kind: kind, Context: f.context, Field: f.name(field), Detail: detail}
}

func (f fields) lookup(field string) (v1.Value, bool) {
	v, ok := f.obj[field]
	if !ok || v.IsNull() {
		return v1.Value{}, false
	}

	return v, true
}

func (f fields) require(field string) (v1.Value, error) {
	v, ok := f.lookup(field)
	if !ok {
		return v1.Value{}, f.fail(ErrMissingField, field, "")
	}

	return v, nil
}

func (f fields) typeError(field string, want string, got v1.Value) error {
	return f.fail(ErrInvalidType, field, fmt.Sprintf("want %s, got %v", want, got.Kind()))
}

// asInt accepts both integer and integral double encodings.
func (f fields) asInt(field string, v v1.Value) (int64, error) {
	if n, ok := v.AsInt(); ok {
		return n, nil
	}

	if d, ok := v.AsDouble(); ok {
		if d != math.Trunc(d) || d < math.MinInt64 || d >= math.MaxInt64 {
			return 0, f.fail(ErrInvalidValue, field, fmt.Sprintf("%v is not an integer", d))
		}

		return int64(d), nil
	}

	return 0, f.typeError(field, "integer", v)
}

func (f fields) asFloat(field string, v v1.Value) (float64, error) {
	if d, ok := v.AsDouble(); ok {
		return d, nil
	}

	if n, ok := v.AsInt(); ok {
		return float64(n), nil
	}

	return 0, f.typeError(field, "number", v)
}

func (f fields) int(field string) (int64, error) {
	v, err := f.require(field)
	if err != nil {
		return 0, err
	}

	return f.asInt(field, v)
}

func (f fields) optInt(field string, fallback int64) (int64, error) {
	v, ok := f.lookup(field)
	if !ok {
		return fallback, nil
	}

	return f.asInt(field, v)
}

func (f fields) float(field string) (float64, error) {
	v, err := f.require(field)
	if err != nil {
		return 0, err
	}

	return f.asFloat(field, v)
}

func (f fields) optFloat(field string, fallback float64) (float64, error) {
	v, ok := f.lookup(field)
	if !ok {
		return fallback, nil
	}

	return f.asFloat(field, v)
}

func (f fields) string(field string) (string, error) {
	v, err := f.require(field)
	if err != nil {
		return "", err
	}

	s, ok := v.AsString()
	if !ok {
		return "", f.typeError(field, "string", v)
	}

	return s, nil
}

func (f fields) optString(field string) (string, error) {
	if _, ok := f.lookup(field); !ok {
		return "", nil
	}

	return f.string(field)
}

func (f fields) optBool(field string) (bool, error) {
	v, ok := f.lookup(field)
	if !ok {
		return false, nil
	}

	b, ok := v.AsBool()
	if !ok {
		return false, f.typeError(field, "bool", v)
	}

	return b, nil
}

func (f fields) array(field string) ([]v1.Value, error) {
	v, err := f.require(field)
	if err != nil {
		return nil, err
	}

	items, ok := v.AsArray()
	if !ok {
		return nil, f.typeError(field, "array", v)
	}

	return items, nil
}

func (f fields) optArray(field string) ([]v1.Value, error) {
	if _, ok := f.lookup(field); !ok {
		return nil, nil
	}

	return f.array(field)
}

func (f fields) object(field string) (fields, error) {
	v, err := f.require(field)
	if err != nil {
		return fields{}, err
	}

	return f.child(f.name(field), field, v)
}

func (f fields) optObject(field string) (fields, bool, error) {
	if _, ok := f.lookup(field); !ok {
		return fields{}, false, nil
	}

	child, err := f.object(field)

	return child, err == nil, err
}

// element wraps items[i] of the array named field.
func (f fields) element(field string, i int, v v1.Value) (fields, error) {
	return f.child(fmt.Sprintf("%s[%d]", f.name(field), i), field, v)
}

func (f fields) child(path, field string, v v1.Value) (fields, error) {
	obj, ok := v.AsObject()
	if !ok {
		return fields{}, f.typeError(field, "object", v)
	}

	return fields{obj: obj, context: f.context, path: path}, nil
}

// percent normalises a progress value: anything above 1 is read as a 0-100
// percentage.
func (f fields) percent(field string, required bool, fallback float64) (float64, error) {
	var (
		p   float64
		err error
	)
	if required {
		p, err = f.float(field)
	} else {
		p, err = f.optFloat(field, fallback)
	}
	if err != nil {
		return 0, err
	}

	if p < 0 {
		return 0, f.fail(ErrInvalidValue, field, fmt.Sprintf("%v is negative", p))
	}

	if p > 1 {
		p = p / 100
	}

	return math.Min(p, 1), nil
}

func (f fields) unixTime(field string) (time.Time, error) {
	secs, err := f.optInt(field, 0)
	if err != nil || secs <= 0 {
		return time.Time{}, err
	}

	return time.Unix(secs, 0).UTC(), nil
}
