package model

import (
	"encoding/json"
	"time"
)

// OpenEnded is the default end of a publish window when the caller supplies none.
var OpenEnded = time.Date(2038, time.January, 19, 0, 0, 0, 0, time.UTC)

// Record is the publishable entity shared by every resource type. Type specific
// content (context, description, hyperlink, videoLink, ...) lives in Fields and is
// serialized flat next to the core attributes.
type Record struct {
	ID         string
	Title      string
	Image      *string
	TimeOn     time.Time
	TimeOff    time.Time
	Enable     bool
	AutoEnable bool
	Pinned     bool
	Priority   int
	CreatedAt  time.Time
	EditTime   time.Time
	Fields     map[string]string
}

type recordJSON struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Image      *string  `json:"image"`
	TimeOn     jsonTime `json:"timeOn"`
	TimeOff    jsonTime `json:"timeOff"`
	Enable     bool     `json:"enable"`
	AutoEnable bool     `json:"autoEnable"`
	Pinned     bool     `json:"pinned"`
	Priority   int      `json:"priority"`
	CreatedAt  jsonTime `json:"createdAt"`
	EditTime   jsonTime `json:"editTime"`
}

var coreKeys = map[string]struct{}{
	"id": {}, "title": {}, "image": {}, "timeOn": {}, "timeOff": {}, "enable": {},
	"autoEnable": {}, "pinned": {}, "priority": {}, "createdAt": {}, "editTime": {},
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (r Record) Clone() Record {
	out := r
	if r.Image != nil {
		img := *r.Image
		out.Image = &img
	}
	if r.Fields != nil {
		out.Fields = make(map[string]string, len(r.Fields))
		for k, v := range r.Fields {
			out.Fields[k] = v
		}
	}
	return out
}

// Field returns a type specific value, or "" when unset.
func (r Record) Field(name string) string {
	return r.Fields[name]
}

func (r Record) MarshalJSON() ([]byte, error) {
	core, err := json.Marshal(r.core())
	if err != nil {
		return nil, err
	}
	if len(r.Fields) == 0 {
		return core, nil
	}

	merged := make(map[string]json.RawMessage, len(coreKeys)+len(r.Fields))
	for k, v := range r.Fields {
		if _, reserved := coreKeys[k]; reserved {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		merged[k] = raw
	}
	var coreMap map[string]json.RawMessage
	if err := json.Unmarshal(core, &coreMap); err != nil {
		return nil, err
	}
	for k, v := range coreMap {
		merged[k] = v
	}
	return json.Marshal(merged)
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var core recordJSON
	if err := json.Unmarshal(data, &core); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}

	*r = Record{
		ID:         core.ID,
		Title:      core.Title,
		Image:      core.Image,
		TimeOn:     time.Time(core.TimeOn),
		TimeOff:    time.Time(core.TimeOff),
		Enable:     core.Enable,
		AutoEnable: core.AutoEnable,
		Pinned:     core.Pinned,
		Priority:   core.Priority,
		CreatedAt:  time.Time(core.CreatedAt),
		EditTime:   time.Time(core.EditTime),
	}
	// An empty end means the window never closes.
	if r.TimeOff.IsZero() {
		r.TimeOff = OpenEnded
	}
	for k, raw := range all {
		if _, reserved := coreKeys[k]; reserved {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			// Non-string extras are not part of the record shape.
			continue
		}
		if r.Fields == nil {
			r.Fields = make(map[string]string)
		}
		r.Fields[k] = s
	}
	return nil
}

func (r Record) core() recordJSON {
	return recordJSON{
		ID:         r.ID,
		Title:      r.Title,
		Image:      r.Image,
		TimeOn:     jsonTime(r.TimeOn),
		TimeOff:    jsonTime(r.TimeOff),
		Enable:     r.Enable,
		AutoEnable: r.AutoEnable,
		Pinned:     r.Pinned,
		Priority:   r.Priority,
		CreatedAt:  jsonTime(r.CreatedAt),
		EditTime:   jsonTime(r.EditTime),
	}
}
