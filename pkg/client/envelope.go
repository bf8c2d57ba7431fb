package client

import (
	"bytes"
	"fmt"
	"strconv"

	json "github.com/goccy/go-json"
)

// record is one entry of the Cuantificar response envelope. The API
// serializes the activity identifier and the count inconsistently (numbers
// in some deployments, numeric strings in others), so both fields decode
// through tolerant wrappers. Anything outside those shapes is a parse
// failure and feeds the retry path.
type record struct {
	ID    flexString `json:"AE"`
	Name  string     `json:"Nombre"`
	Total *flexInt   `json:"Total"`
}

// flexInt decodes a JSON number or a quoted numeric string.
type flexInt struct {
	Value int
}

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := string(bytes.TrimSpace(data))
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "" || s == "null" {
		return fmt.Errorf("empty count value")
	}

	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("count %q is not an integer", s)
	}
	f.Value = v
	return nil
}

// flexString decodes a JSON string or bare number as a string.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	s := string(bytes.TrimSpace(data))
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "null" {
		s = ""
	}
	*f = flexString(s)
	return nil
}

// parseEnvelope decodes the Cuantificar body: a JSON array of records,
// each carrying a Total count. Every record must declare its count; an
// empty array is a legitimate zero result.
func parseEnvelope(body []byte) ([]record, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: expected JSON array", ErrMalformedResponse)
	}

	var records []record
	if err := json.Unmarshal(trimmed, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	for i := range records {
		if records[i].Total == nil {
			return nil, fmt.Errorf("%w: record %d missing Total field", ErrMalformedResponse, i)
		}
	}

	return records, nil
}
