package sqlstore

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/conduit-lang/objgraph/internal/orm/schema"
)

// toDB converts a canonical attribute value to a driver value
func toDB(t schema.ScalarType, v any) (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	if t == schema.TypeJSON {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode json value: %w", err)
		}
		return string(b), nil
	}
	if ts, ok := v.(time.Time); ok {
		return ts.UTC(), nil
	}
	return v, nil
}

// fromDB converts a scanned driver value to the canonical attribute value
func fromDB(t schema.ScalarType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}

	switch t {
	case schema.TypeString, schema.TypeText:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case schema.TypeInt:
		switch n := v.(type) {
		case int64:
			return n, nil
		case int32:
			return int64(n), nil
		case float64:
			return int64(n), nil
		case string:
			return strconv.ParseInt(n, 10, 64)
		}
	case schema.TypeFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case string:
			return strconv.ParseFloat(n, 64)
		}
	case schema.TypeBool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case int64:
			return b != 0, nil
		case string:
			return strconv.ParseBool(b)
		}
	case schema.TypeTimestamp:
		switch ts := v.(type) {
		case time.Time:
			return ts.UTC(), nil
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, ts)
			if err != nil {
				return nil, err
			}
			return parsed.UTC(), nil
		}
	case schema.TypeJSON:
		if s, ok := v.(string); ok {
			dec := json.NewDecoder(strings.NewReader(s))
			dec.UseNumber()
			var out any
			if err := dec.Decode(&out); err != nil {
				return nil, fmt.Errorf("failed to decode json value: %w", err)
			}
			return out, nil
		}
		return v, nil
	}
	return nil, fmt.Errorf("cannot convert %T to %s", v, t)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case []byte:
		i, err := strconv.ParseInt(string(n), 10, 64)
		return i, err == nil
	}
	return 0, false
}
