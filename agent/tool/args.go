package tool

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	contractx "github.com/tanpawarit/healthguard-agent/agent/contract"
)

// Args holds arguments that already passed Coerce, so accessors never fail on
// type.
type Args map[string]any

func (a Args) Has(key string) bool {
	_, ok := a[key]
	return ok
}

func (a Args) String(key string) string {
	s, _ := a[key].(string)
	return s
}

func (a Args) Float(key string) (float64, bool) {
	f, ok := a[key].(float64)
	return f, ok
}

func (a Args) Int(key string) (int, bool) {
	i, ok := a[key].(int)
	return i, ok
}

// Coerce validates raw against params: unknown names and missing required
// values are rejected and each value is converted to its declared type.
func Coerce(tool string, params map[string]*schema.ParameterInfo, raw map[string]any) (Args, error) {
	out := make(Args, len(raw))

	var unknown []string
	for name := range raw {
		if _, ok := params[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: tool=%s does not accept %s (accepted: %s)",
			contractx.ErrInvalidArguments, tool, strings.Join(unknown, ", "), strings.Join(paramNames(params), ", "))
	}

	for _, name := range paramNames(params) {
		p := params[name]
		v, present := raw[name]
		if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
			present = false
		}
		if !present || v == nil {
			if p.Required {
				return nil, fmt.Errorf("%w: tool=%s requires %q", contractx.ErrInvalidArguments, tool, name)
			}
			continue
		}

		cv, err := coerceValue(p, v)
		if err != nil {
			return nil, fmt.Errorf("%w: tool=%s argument %q %v", contractx.ErrInvalidArguments, tool, name, err)
		}
		out[name] = cv
	}
	return out, nil
}

func coerceValue(p *schema.ParameterInfo, v any) (any, error) {
	switch p.Type {
	case schema.String:
		s, err := toString(v)
		if err != nil {
			return nil, err
		}
		if len(p.Enum) > 0 {
			for _, e := range p.Enum {
				if strings.EqualFold(e, s) {
					return e, nil
				}
			}
			return nil, fmt.Errorf("must be one of %s", strings.Join(p.Enum, ", "))
		}
		return s, nil
	case schema.Number:
		return toFloat(v)
	case schema.Integer:
		f, err := toFloat(v)
		if err != nil {
			return nil, err
		}
		if f != math.Trunc(f) {
			return nil, fmt.Errorf("must be a whole number, got %v", f)
		}
		i := int(f)
		if len(p.Enum) > 0 && !containsString(p.Enum, strconv.Itoa(i)) {
			return nil, fmt.Errorf("must be one of %s", strings.Join(p.Enum, ", "))
		}
		return i, nil
	case schema.Boolean:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(strings.TrimSpace(b))
			if err != nil {
				return nil, fmt.Errorf("must be true or false")
			}
			return parsed, nil
		}
		return nil, fmt.Errorf("must be true or false, got %T", v)
	case schema.Array:
		items, ok := v.([]any)
		if !ok {
			if s, isStr := v.(string); isStr {
				items = splitList(s)
			} else {
				return nil, fmt.Errorf("must be a list, got %T", v)
			}
		}
		if p.ElemInfo == nil {
			return items, nil
		}
		out := make([]any, 0, len(items))
		for _, item := range items {
			cv, err := coerceValue(p.ElemInfo, item)
			if err != nil {
				return nil, err
			}
			out = append(out, cv)
		}
		return out, nil
	default:
		return v, nil
	}
}

func toString(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s), nil
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(s), nil
	case json.Number:
		return s.String(), nil
	default:
		return "", fmt.Errorf("must be a string, got %T", v)
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("must be a number, got %q", n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("must be a number, got %T", v)
	}
}

func splitList(s string) []any {
	var out []any
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func paramNames(params map[string]*schema.ParameterInfo) []string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTime reads a timestamp argument. A bare "15:04" refers to today in loc.
func ParseTime(value string, now time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	value = strings.TrimSpace(value)
	if strings.EqualFold(value, "now") {
		return now.UTC(), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t.UTC(), nil
		}
	}
	if t, err := time.Parse("15:04", value); err == nil {
		local := now.In(loc)
		return time.Date(local.Year(), local.Month(), local.Day(), t.Hour(), t.Minute(), 0, 0, loc).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: cannot parse time %q, use RFC3339 such as 2006-01-02T15:04:05Z", contractx.ErrInvalidArguments, value)
}

// timeArg returns the parsed time of key, or fallback when key is absent.
func timeArg(args Args, key string, now, fallback time.Time, loc *time.Location) (time.Time, error) {
	if !args.Has(key) {
		return fallback, nil
	}
	t, err := ParseTime(args.String(key), now, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w (argument %q)", err, key)
	}
	return t, nil
}

func stringList(args Args, key string) []string {
	items, _ := args[key].([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
