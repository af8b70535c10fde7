package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

// OptionMetadata is the structured payload of an option. At most one variant
// is set and which one is allowed depends on the poll type.
type OptionMetadata struct {
	DateTime *DateTimeMetadata `json:"dateTime,omitempty"`
	Venue    *VenueMetadata    `json:"venue,omitempty"`
}

type DateTimeMetadata struct {
	Date        string      `json:"date"`
	AllDay      bool        `json:"allDay"`
	TimeEnabled bool        `json:"timeEnabled"`
	TimeSlots   []TimeRange `json:"timeSlots,omitempty"`
	DisplayDate string      `json:"displayDate,omitempty"`
	DisplayTime string      `json:"displayTime,omitempty"`
}

type VenueMetadata struct {
	PlaceID   string   `json:"placeId,omitempty"`
	Name      string   `json:"name"`
	Address   string   `json:"address,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// TimeRange is a slot on the 24-hour clock in "HH:MM" form.
type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// ClockTime is minutes since midnight.
type ClockTime int

func (c ClockTime) Hour() int   { return int(c) / 60 }
func (c ClockTime) Minute() int { return int(c) % 60 }

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

// ParseClockTime parses "HH:MM"; field names the input for error reporting.
func ParseClockTime(field, s string) (ClockTime, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, NewValidationError(field, "expected HH:MM, got "+strconv.Quote(s))
	}
	h, ok := twoDigits(parts[0])
	if !ok {
		return 0, NewValidationError(field, "hour must be two digits")
	}
	m, ok := twoDigits(parts[1])
	if !ok {
		return 0, NewValidationError(field, "minute must be two digits")
	}
	if h < 0 || h > 23 {
		return 0, NewValidationError(field, "hour must be between 0 and 23")
	}
	if m < 0 || m > 59 {
		return 0, NewValidationError(field, "minute must be between 0 and 59")
	}
	return ClockTime(h*60 + m), nil
}

func twoDigits(s string) (int, bool) {
	if len(s) != 2 || s[0] < '0' || s[0] > '9' || s[1] < '0' || s[1] > '9' {
		return 0, false
	}
	return int(s[0]-'0')*10 + int(s[1]-'0'), true
}

// ParseDate accepts a plain calendar date or an RFC 3339 timestamp and
// returns midnight UTC of that calendar day.
func ParseDate(field, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, NewValidationError(field, "date is required")
	}
	if d, err := time.Parse(DateLayout, s); err == nil {
		return d, nil
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	return time.Time{}, NewValidationError(field, "unparseable date "+strconv.Quote(s))
}

type parsedRange struct {
	start, end ClockTime
}

func parseRanges(field string, ranges []TimeRange) ([]parsedRange, error) {
	var errs ValidationErrors
	parsed := make([]parsedRange, 0, len(ranges))
	for i, r := range ranges {
		prefix := fmt.Sprintf("%s[%d]", field, i)
		start, err := ParseClockTime(prefix+".start", r.Start)
		if err != nil {
			errs = append(errs, err.(*ValidationError))
			continue
		}
		end, err := ParseClockTime(prefix+".end", r.End)
		if err != nil {
			errs = append(errs, err.(*ValidationError))
			continue
		}
		if end <= start {
			errs = append(errs, NewValidationError(prefix+".end", "must be after start"))
			continue
		}
		parsed = append(parsed, parsedRange{start: start, end: end})
	}
	if len(errs) > 0 {
		return nil, errs
	}
	sort.SliceStable(parsed, func(i, j int) bool {
		if parsed[i].start != parsed[j].start {
			return parsed[i].start < parsed[j].start
		}
		return parsed[i].end < parsed[j].end
	})
	return parsed, nil
}

func formatRanges(parsed []parsedRange) []TimeRange {
	out := make([]TimeRange, len(parsed))
	for i, p := range parsed {
		out[i] = TimeRange{Start: p.start.String(), End: p.end.String()}
	}
	return out
}

// MergeTimeRanges sorts ranges by start and folds every adjacent or
// overlapping pair into one range spanning the earliest start and latest end.
func MergeTimeRanges(ranges []TimeRange) ([]TimeRange, error) {
	parsed, err := parseRanges("time_slots", ranges)
	if err != nil {
		return nil, err
	}
	if len(parsed) == 0 {
		return nil, nil
	}
	merged := []parsedRange{parsed[0]}
	for _, r := range parsed[1:] {
		last := &merged[len(merged)-1]
		if r.start <= last.end {
			if r.end > last.end {
				last.end = r.end
			}
			continue
		}
		merged = append(merged, r)
	}
	return formatRanges(merged), nil
}

// Normalize validates the metadata and rewrites it into canonical form:
// ISO date, zero-padded sorted slots and filled display strings. Overlapping
// slots are rejected; callers that want them folded call MergeOverlapping first.
func (m *DateTimeMetadata) Normalize() error {
	date, err := ParseDate("metadata.date", m.Date)
	if err != nil {
		return err
	}
	m.Date = date.Format(DateLayout)

	if !m.TimeEnabled {
		if len(m.TimeSlots) > 0 {
			return NewValidationError("metadata.time_slots", "must be empty when time is not enabled")
		}
		m.TimeSlots = nil
	} else {
		if m.AllDay {
			return NewValidationError("metadata.all_day", "cannot be set together with time slots")
		}
		if len(m.TimeSlots) == 0 {
			return NewValidationError("metadata.time_slots", "at least one time slot is required when time is enabled")
		}
		parsed, err := parseRanges("metadata.time_slots", m.TimeSlots)
		if err != nil {
			return err
		}
		for i := 1; i < len(parsed); i++ {
			if parsed[i].start < parsed[i-1].end {
				return NewValidationError(
					fmt.Sprintf("metadata.time_slots[%d]", i),
					fmt.Sprintf("overlaps %s-%s", parsed[i-1].start, parsed[i-1].end),
				)
			}
		}
		m.TimeSlots = formatRanges(parsed)
	}

	if m.DisplayDate == "" {
		m.DisplayDate = date.Format("Monday, January 2, 2006")
	}
	if m.DisplayTime == "" {
		switch {
		case m.TimeEnabled:
			slots := make([]string, len(m.TimeSlots))
			for i, s := range m.TimeSlots {
				slots[i] = s.Start + "-" + s.End
			}
			m.DisplayTime = strings.Join(slots, ", ")
		case m.AllDay:
			m.DisplayTime = "All day"
		}
	}
	return nil
}

// MergeOverlapping folds overlapping slots in place.
func (m *DateTimeMetadata) MergeOverlapping() error {
	if len(m.TimeSlots) == 0 {
		return nil
	}
	merged, err := MergeTimeRanges(m.TimeSlots)
	if err != nil {
		return err
	}
	m.TimeSlots = merged
	return nil
}

// CalendarDate returns the validated date at midnight UTC.
func (m *DateTimeMetadata) CalendarDate() (time.Time, error) {
	return ParseDate("metadata.date", m.Date)
}

// FirstSlot returns the earliest slot when time is enabled.
func (m *DateTimeMetadata) FirstSlot() (start, end ClockTime, ok bool, err error) {
	if !m.TimeEnabled || len(m.TimeSlots) == 0 {
		return 0, 0, false, nil
	}
	parsed, err := parseRanges("metadata.time_slots", m.TimeSlots)
	if err != nil {
		return 0, 0, false, err
	}
	return parsed[0].start, parsed[0].end, true, nil
}

// Normalize checks that the variant matches the poll type and validates it.
func (m *OptionMetadata) Normalize(pollType PollType) error {
	switch pollType {
	case PollTypeDateSelection:
		if m.Venue != nil {
			return NewValidationError("metadata.venue", "not allowed for date selection polls")
		}
		if m.DateTime == nil {
			return NewValidationError("metadata.date", "date is required for date selection polls")
		}
		return m.DateTime.Normalize()
	case PollTypeVenueSelection:
		if m.DateTime != nil {
			return NewValidationError("metadata.date_time", "not allowed for venue selection polls")
		}
		if m.Venue != nil && strings.TrimSpace(m.Venue.Name) == "" {
			return NewValidationError("metadata.venue.name", "venue name is required")
		}
		return nil
	default:
		if m.DateTime != nil || m.Venue != nil {
			return NewValidationError("metadata", "poll type "+strconv.Quote(string(pollType))+" takes no structured metadata")
		}
		return nil
	}
}

func (m OptionMetadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

func (m *OptionMetadata) Scan(src interface{}) error {
	data, err := jsonBytes(src)
	if err != nil || data == nil {
		*m = OptionMetadata{}
		return err
	}
	return json.Unmarshal(data, m)
}

// ExternalData is loosely typed enrichment from an outside lookup.
type ExternalData map[string]interface{}

func (d ExternalData) Value() (driver.Value, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(d)
}

func (d *ExternalData) Scan(src interface{}) error {
	data, err := jsonBytes(src)
	if err != nil || data == nil {
		*d = nil
		return err
	}
	return json.Unmarshal(data, d)
}

func jsonBytes(src interface{}) ([]byte, error) {
	switch v := src.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported json column type %T", src)
	}
}
