// Package model holds the small domain value types the core shares:
// timestamps in their various wire forms, prescription types, and the
// insured-person identifier.
package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GermanTimezone is the civil timezone used for date-only values
// entered by practices.
const GermanTimezone = "Europe/Berlin"

// dbSuuidMagic is the offset used by the database's gen_suuid:
// epoch('1536-10-22T22:30:00.000+00:00'), in seconds (negated).
const dbSuuidMagic = int64(13670213400)

// Timestamp is an instant in UTC with microsecond precision. The zero
// value is the Unix epoch.
type Timestamp struct {
	t time.Time
}

// Now returns the current instant.
func Now() Timestamp { return Timestamp{t: time.Now().UTC()} }

// FromTime wraps a time.Time.
func FromTime(t time.Time) Timestamp { return Timestamp{t: t.UTC()} }

// FromUnix converts seconds since the epoch.
func FromUnix(sec int64) Timestamp { return Timestamp{t: time.Unix(sec, 0).UTC()} }

// Time returns the underlying time.Time in UTC.
func (ts Timestamp) Time() time.Time { return ts.t }

// Unix returns seconds since the epoch.
func (ts Timestamp) Unix() int64 { return ts.t.Unix() }

// Before reports temporal ordering.
func (ts Timestamp) Before(other Timestamp) bool { return ts.t.Before(other.t) }

// After reports temporal ordering.
func (ts Timestamp) After(other Timestamp) bool { return ts.t.After(other.t) }

// Equal reports equality at microsecond precision.
func (ts Timestamp) Equal(other Timestamp) bool {
	return ts.t.Truncate(time.Microsecond).Equal(other.t.Truncate(time.Microsecond))
}

// ParseXsDateTime parses xs:dateTime; the timezone designator is
// mandatory.
func ParseXsDateTime(value string) (Timestamp, error) {
	for _, layout := range []string{
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02T15:04:05.999999999Z07:00",
	} {
		if t, err := time.Parse(layout, value); err == nil {
			return FromTime(t), nil
		}
	}
	return Timestamp{}, fmt.Errorf("model: invalid xs:dateTime: %q", value)
}

// ParseXsDate parses xs:date, interpreting the day in the given civil
// timezone (the German timezone for practice-entered dates).
func ParseXsDate(value, timezone string) (Timestamp, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return Timestamp{}, fmt.Errorf("model: unknown timezone %q: %w", timezone, err)
	}
	t, err := time.ParseInLocation("2006-01-02", value, loc)
	if err != nil || t.Format("2006-01-02") != value {
		return Timestamp{}, fmt.Errorf("model: invalid xs:date: %q", value)
	}
	return FromTime(t), nil
}

// ParseGermanDate parses an xs:date in the German timezone.
func ParseGermanDate(value string) (Timestamp, error) {
	return ParseXsDate(value, GermanTimezone)
}

// ParseXsTime parses xs:time as a time on 1970-01-01 UTC.
func ParseXsTime(value string) (Timestamp, error) {
	for _, layout := range []string{"15:04:05", "15:04:05.999999999"} {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return FromTime(time.Date(1970, 1, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)), nil
		}
	}
	return Timestamp{}, fmt.Errorf("model: invalid xs:time: %q", value)
}

// ParseFhirDateTime accepts the FHIR dateTime forms: year, year-month,
// date, or full dateTime with timezone. Partial forms resolve in the
// fallback timezone.
func ParseFhirDateTime(value, fallbackTimezone string) (Timestamp, error) {
	switch {
	case len(value) == 4:
		return ParseXsDate(value+"-01-01", fallbackTimezone)
	case len(value) == 7:
		if _, err := time.Parse("2006-01", value); err != nil {
			return Timestamp{}, fmt.Errorf("model: invalid FHIR dateTime: %q", value)
		}
		return ParseXsDate(value+"-01", fallbackTimezone)
	case len(value) == 10:
		return ParseXsDate(value, fallbackTimezone)
	default:
		return ParseXsDateTime(value)
	}
}

// ParseDtmDateTime parses the HL7 DTM form %Y%m%d%H%M%S; shorter
// prefixes down to a bare year are accepted and zero-filled.
func ParseDtmDateTime(value string) (Timestamp, error) {
	if len(value) < 4 || len(value) > 14 || len(value)%2 != 0 {
		return Timestamp{}, fmt.Errorf("model: invalid DTM value: %q", value)
	}
	padded := value + "00000101000000"[len(value):]
	t, err := time.ParseInLocation("20060102150405", padded, time.UTC)
	if err != nil {
		return Timestamp{}, fmt.Errorf("model: invalid DTM value: %q", value)
	}
	return FromTime(t), nil
}

// FromDatabaseSUuid decodes the legacy database SUUID form: the first
// 16 hex digits of the UUID, read as microseconds since
// 1536-10-22T22:30:00Z (the gen_suuid magic). SUUIDs are only ever read,
// never produced.
func FromDatabaseSUuid(suuid string) (Timestamp, error) {
	if _, err := uuid.Parse(suuid); err != nil {
		return Timestamp{}, fmt.Errorf("model: invalid uuid format: %w", err)
	}
	hexval := strings.ReplaceAll(suuid, "-", "")[:16]
	intval, err := strconv.ParseInt(hexval, 16, 64)
	if err != nil || intval <= 0 {
		return Timestamp{}, fmt.Errorf("model: error converting hex to integer")
	}
	microsSinceEpoch := intval - dbSuuidMagic*1_000_000
	return FromTime(time.Unix(microsSinceEpoch/1_000_000, (microsSinceEpoch%1_000_000)*1_000)), nil
}

// ToXsDateTime renders with microsecond precision in UTC.
func (ts Timestamp) ToXsDateTime() string {
	return ts.t.Format("2006-01-02T15:04:05.000000Z07:00")
}

// ToXsDateTimeWithoutFractionalSeconds renders whole seconds in UTC.
func (ts Timestamp) ToXsDateTimeWithoutFractionalSeconds() string {
	return ts.t.Format("2006-01-02T15:04:05Z07:00")
}

// ToXsDate renders the civil date in the given timezone.
func (ts Timestamp) ToXsDate(timezone string) (string, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return "", fmt.Errorf("model: unknown timezone %q: %w", timezone, err)
	}
	return ts.t.In(loc).Format("2006-01-02"), nil
}

// ToGermanDate renders dd.mm.yyyy in the German timezone.
func (ts Timestamp) ToGermanDate() (string, error) {
	loc, err := time.LoadLocation(GermanTimezone)
	if err != nil {
		return "", err
	}
	return ts.t.In(loc).Format("02.01.2006"), nil
}

// String renders the xs:dateTime form.
func (ts Timestamp) String() string { return ts.ToXsDateTime() }
