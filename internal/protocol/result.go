package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// ErrMalformedResult is returned when worker stdout is not a JSON array.
var ErrMalformedResult = errors.New("worker output is not a JSON array")

// Bound caps the number of records returned for a task.
type Bound struct {
	N       int
	Bounded bool
}

// Unbounded leaves decoded results untouched.
var Unbounded = Bound{}

// Limit returns a bound of n records. Negative n is unbounded.
func Limit(n int) Bound {
	if n < 0 {
		return Unbounded
	}
	return Bound{N: n, Bounded: true}
}

func (b Bound) String() string {
	if !b.Bounded {
		return "unbounded"
	}
	return strconv.Itoa(b.N)
}

// ParseBound interprets a loosely typed maxResults value. Anything that is
// not a finite, non-negative number is unbounded; fractions truncate.
func ParseBound(v any) Bound {
	switch n := v.(type) {
	case nil, bool:
		return Unbounded
	case json.Number:
		return boundFromString(n.String())
	case string:
		return boundFromString(n)
	case float64:
		return boundFromFloat(n)
	case float32:
		return boundFromFloat(float64(n))
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return boundFromFloat(float64(rv.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if rv.Uint() > math.MaxInt32 {
			return Limit(math.MaxInt32)
		}
		return Limit(int(rv.Uint()))
	case reflect.Pointer:
		if rv.IsNil() {
			return Unbounded
		}
		return ParseBound(rv.Elem().Interface())
	}
	return Unbounded
}

func boundFromString(s string) Bound {
	s = strings.TrimSpace(s)
	if s == "" {
		return Unbounded
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Unbounded
	}
	return boundFromFloat(f)
}

func boundFromFloat(f float64) Bound {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return Unbounded
	}
	if f > math.MaxInt32 {
		return Limit(math.MaxInt32)
	}
	return Limit(int(f))
}

// ParseResult decodes worker stdout as a JSON array of records and applies
// the bound. Empty output yields (nil, nil) without a decode attempt.
func ParseResult(raw []byte, bound Bound) ([]json.RawMessage, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, ErrMalformedResult
	}

	var records []json.RawMessage
	if err := json.Unmarshal(trimmed, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResult, err)
	}
	if records == nil {
		records = []json.RawMessage{}
	}

	if bound.Bounded && bound.N < len(records) {
		records = records[:bound.N]
	}
	return records, nil
}
