package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Accepted input layouts for publish window timestamps. Layouts without a zone
// are interpreted in the location passed to ParseTime.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTime parses the timestamp formats sent by browser forms and older clients.
func ParseTime(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", value)
}

// jsonTime writes RFC3339 and reads any layout ParseTime accepts, so
// collections saved by older clients ("2038-01-19 00:00:00", datetime-local
// strings) still load. Zone-less values are read in local time.
type jsonTime time.Time

func (t jsonTime) MarshalJSON() ([]byte, error) {
	return time.Time(t).MarshalJSON()
}

func (t *jsonTime) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = jsonTime{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	if strings.TrimSpace(s) == "" {
		*t = jsonTime{}
		return nil
	}
	parsed, err := ParseTime(s, time.Local)
	if err != nil {
		return err
	}
	*t = jsonTime(parsed)
	return nil
}
