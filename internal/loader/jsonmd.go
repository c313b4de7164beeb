package loader

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const maxHeadingDepth = 6

// DefaultSkipKeys lists the presentation-only fields of the portal exports.
var DefaultSkipKeys = []string{
	"icon", "image", "url", "link", "date", "created_at", "updated_at", "thumbnail",
}

var skipKeyPatterns = []string{"_icon", "_image", "_url", "http"}

var skipScalarValues = map[string]struct{}{"null": {}, "none": {}, "0": {}}

type field struct {
	Key   string
	Value any
}

// object is a JSON object that remembers its key order.
type object []field

func (o object) get(key string) (any, bool) {
	for _, f := range o {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// decodeOrdered parses data into object, []any, string, json.Number, bool
// or nil.
func decodeOrdered(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := readValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unexpected data after top-level value")
	}
	return v, nil
}

func readValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}

	switch delim {
	case '{':
		obj := object{}
		for dec.More() {
			kt, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, ok := kt.(string)
			if !ok {
				return nil, fmt.Errorf("object key is %T", kt)
			}
			v, err := readValue(dec)
			if err != nil {
				return nil, err
			}
			obj = append(obj, field{Key: key, Value: v})
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return obj, nil
	case '[':
		arr := []any{}
		for dec.More() {
			v, err := readValue(dec)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return arr, nil
	}
	return nil, fmt.Errorf("unexpected delimiter %q", delim)
}

// Converter renders decoded JSON as markdown-shaped text.
type Converter struct {
	skipKeys map[string]struct{}
}

// NewConverter uses DefaultSkipKeys when skipKeys is empty.
func NewConverter(skipKeys []string) *Converter {
	if len(skipKeys) == 0 {
		skipKeys = DefaultSkipKeys
	}
	set := make(map[string]struct{}, len(skipKeys))
	for _, k := range skipKeys {
		set[strings.ToLower(strings.TrimSpace(k))] = struct{}{}
	}
	return &Converter{skipKeys: set}
}

// ConvertJSON decodes data and renders it.
func (c *Converter) ConvertJSON(data []byte) (string, any, error) {
	v, err := decodeOrdered(data)
	if err != nil {
		return "", nil, err
	}
	return c.Convert(v), v, nil
}

func (c *Converter) Convert(v any) string {
	var lines []string
	c.walk(&lines, v, 1)
	return strings.Join(lines, "\n")
}

func (c *Converter) walk(lines *[]string, v any, depth int) {
	switch t := v.(type) {
	case object:
		caser := cases.Title(language.Und)
		for _, f := range t {
			if c.skipKey(f.Key) {
				continue
			}
			switch f.Value.(type) {
			case object, []any:
				var sub []string
				c.walk(&sub, f.Value, depth+1)
				if len(sub) == 0 {
					continue
				}
				*lines = append(*lines, heading(depth)+" "+displayKey(caser, f.Key))
				*lines = append(*lines, sub...)
			default:
				if s, ok := scalarText(f.Value); ok {
					*lines = append(*lines, "- **"+displayKey(caser, f.Key)+"**: "+s)
				}
			}
		}
	case []any:
		for _, item := range t {
			switch item.(type) {
			case object, []any:
				c.walk(lines, item, depth)
			default:
				if s, ok := scalarText(item); ok {
					*lines = append(*lines, "- "+s)
				}
			}
		}
	default:
		if s, ok := scalarText(v); ok {
			*lines = append(*lines, s)
		}
	}
}

func (c *Converter) skipKey(key string) bool {
	lower := strings.ToLower(key)
	if _, ok := c.skipKeys[lower]; ok {
		return true
	}
	for _, p := range skipKeyPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func heading(depth int) string {
	return strings.Repeat("#", min(depth, maxHeadingDepth))
}

func displayKey(caser cases.Caser, key string) string {
	return caser.String(strings.TrimSpace(strings.ReplaceAll(key, "_", " ")))
}

// scalarText returns the rendered scalar and false when the value is skipped.
func scalarText(v any) (string, bool) {
	var s string
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		s = strings.TrimSpace(t)
	case json.Number:
		s = t.String()
	case bool:
		s = strconv.FormatBool(t)
	default:
		s = strings.TrimSpace(fmt.Sprint(t))
	}
	if s == "" {
		return "", false
	}
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return "", false
	}
	if _, skip := skipScalarValues[lower]; skip {
		return "", false
	}
	return s, true
}
