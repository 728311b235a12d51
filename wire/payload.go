package wire

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Payload is an ordered mapping of string keys to primitive values: string,
// int64, float64 or bool. Its wire form is a canonical single-line JSON object
// with keys in insertion order and no insignificant whitespace. Parsing never
// evaluates anything; nested objects, arrays, null, NaN/Inf, duplicate keys
// and trailing data are all rejected.
type Payload struct {
	keys   []string
	values map[string]any
}

// NewPayload returns an empty payload.
func NewPayload() *Payload {
	return &Payload{
		values: map[string]any{},
	}
}

// Set stores a value under key, keeping the key's original position if it is
// already present. Integers of any width are stored as int64.
func (p *Payload) Set(key string, value any) error {
	var v any
	switch value := value.(type) {
	case string:
		v = value
	case bool:
		v = value
	case int:
		v = int64(value)
	case int32:
		v = int64(value)
	case int64:
		v = value
	case float64:
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return errors.Wrapf(ErrPayload, "key %q: NaN and Inf are not representable", key)
		}
		v = value
	default:
		return errors.Wrapf(ErrPayload, "key %q: unsupported value type %T", key, value)
	}

	if _, exists := p.values[key]; !exists {
		p.keys = append(p.keys, key)
	}
	p.values[key] = v

	return nil
}

// Get returns the value stored under key.
func (p *Payload) Get(key string) (any, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Keys returns the keys in insertion order. Callers must not modify the slice.
func (p *Payload) Keys() []string {
	return p.keys
}

// Len returns the number of keys.
func (p *Payload) Len() int {
	return len(p.keys)
}

// String returns the string stored under key.
func (p *Payload) String(key string) (string, error) {
	v, ok := p.values[key]
	if !ok {
		return "", errors.Wrapf(ErrPayload, "key %q is missing", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", errors.Wrapf(ErrPayload, "key %q holds %T, not a string", key, v)
	}
	return s, nil
}

// Int returns the integer stored under key.
func (p *Payload) Int(key string) (int64, error) {
	v, ok := p.values[key]
	if !ok {
		return 0, errors.Wrapf(ErrPayload, "key %q is missing", key)
	}
	i, ok := v.(int64)
	if !ok {
		return 0, errors.Wrapf(ErrPayload, "key %q holds %T, not an integer", key, v)
	}
	return i, nil
}

// Float returns the number stored under key, accepting integers too.
func (p *Payload) Float(key string) (float64, error) {
	v, ok := p.values[key]
	if !ok {
		return 0, errors.Wrapf(ErrPayload, "key %q is missing", key)
	}
	switch v := v.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	default:
		return 0, errors.Wrapf(ErrPayload, "key %q holds %T, not a number", key, v)
	}
}

// Bool returns the bool stored under key.
func (p *Payload) Bool(key string) (bool, error) {
	v, ok := p.values[key]
	if !ok {
		return false, errors.Wrapf(ErrPayload, "key %q is missing", key)
	}
	b, ok := v.(bool)
	if !ok {
		return false, errors.Wrapf(ErrPayload, "key %q holds %T, not a bool", key, v)
	}
	return b, nil
}

func (p *Payload) marshal() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range p.keys {
		if i > 0 {
			buf.WriteByte(',')
		}

		keyJSON, err := json.Marshal(key)
		if err != nil {
			return nil, errors.Wrapf(ErrPayload, "key %q: %s", key, err)
		}
		buf.Write(keyJSON)
		buf.WriteByte(':')

		switch v := p.values[key].(type) {
		case string:
			valueJSON, err := json.Marshal(v)
			if err != nil {
				return nil, errors.Wrapf(ErrPayload, "key %q: %s", key, err)
			}
			buf.Write(valueJSON)
		case int64:
			buf.WriteString(strconv.FormatInt(v, 10))
		case float64:
			// Floats always carry a decimal point or exponent so whole-number
			// floats survive a round trip as floats.
			s := strconv.FormatFloat(v, 'g', -1, 64)
			if !strings.ContainsAny(s, ".eE") {
				s += ".0"
			}
			buf.WriteString(s)
		case bool:
			buf.WriteString(strconv.FormatBool(v))
		}
	}
	buf.WriteByte('}')

	return buf.Bytes(), nil
}

func parsePayload(body []byte) (*Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, errors.Wrapf(ErrPayload, "body is not a JSON object: %s", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.Wrap(ErrPayload, "body is not a JSON object")
	}

	p := NewPayload()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, errors.Wrapf(ErrPayload, "reading key: %s", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, errors.Wrap(ErrPayload, "object key is not a string")
		}
		if _, exists := p.values[key]; exists {
			return nil, errors.Wrapf(ErrPayload, "duplicate key %q", key)
		}

		tok, err = dec.Token()
		if err != nil {
			return nil, errors.Wrapf(ErrPayload, "reading value of %q: %s", key, err)
		}

		var value any
		switch v := tok.(type) {
		case string:
			value = v
		case bool:
			value = v
		case json.Number:
			if strings.ContainsAny(v.String(), ".eE") {
				f, err := v.Float64()
				if err != nil {
					return nil, errors.Wrapf(ErrPayload, "key %q: %s", key, err)
				}
				value = f
			} else {
				i, err := v.Int64()
				if err != nil {
					return nil, errors.Wrapf(ErrPayload, "key %q: %s", key, err)
				}
				value = i
			}
		case json.Delim:
			return nil, errors.Wrapf(ErrPayload, "key %q holds a nested structure", key)
		default:
			return nil, errors.Wrapf(ErrPayload, "key %q holds null", key)
		}

		p.keys = append(p.keys, key)
		p.values[key] = value
	}

	if _, err := dec.Token(); err != nil {
		return nil, errors.Wrapf(ErrPayload, "reading end of object: %s", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(ErrPayload, "trailing data after object")
	}

	return p, nil
}
