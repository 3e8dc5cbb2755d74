package parser

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// scalar accepts a JSON string, number, bool or null. The panel is not consistent about
// quoting, and some fields are the literal string "null".
type scalar struct {
	raw     string
	number  bool
	present bool
}

func (s *scalar) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	s.present = true
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		s.raw = ""
	case data[0] == '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		s.raw = strings.TrimSpace(v)
	case data[0] == '{' || data[0] == '[':
		// keep the text so the caller can report it
		s.raw = string(data)
	case bytes.Equal(data, []byte("true")):
		s.raw = "1"
	case bytes.Equal(data, []byte("false")):
		s.raw = "0"
	default:
		s.raw = string(data)
		s.number = true
	}
	return nil
}

// null reports whether the field is absent, JSON null, empty or the string "null".
func (s scalar) null() bool {
	return !s.present || s.raw == "" || strings.EqualFold(s.raw, "null")
}

func (s scalar) isOne() bool {
	if s.null() {
		return false
	}
	n, err := strconv.Atoi(s.raw)
	return err == nil && n == 1
}
