package model

import (
	"testing"
	"time"
)

func TestParseXsDateTime(t *testing.T) {
	ts, err := ParseXsDateTime("2024-05-17T10:30:00+02:00")
	if err != nil {
		t.Fatalf("ParseXsDateTime: %v", err)
	}
	if got := ts.Time().UTC().Hour(); got != 8 {
		t.Errorf("UTC hour = %d; want 8", got)
	}
	if _, err := ParseXsDateTime("2024-05-17T10:30:00"); err == nil {
		t.Error("missing timezone must be rejected")
	}
}

func TestParseXsDate(t *testing.T) {
	if _, err := ParseGermanDate("2024-02-29"); err != nil {
		t.Errorf("leap day 2024 must parse: %v", err)
	}
	if _, err := ParseGermanDate("2023-02-29"); err == nil {
		t.Error("2023-02-29 must be rejected")
	}
}

func TestParseFhirDateTimePartials(t *testing.T) {
	for _, value := range []string{"2024", "2024-05", "2024-05-17", "2024-05-17T10:30:00Z"} {
		if _, err := ParseFhirDateTime(value, GermanTimezone); err != nil {
			t.Errorf("ParseFhirDateTime(%q): %v", value, err)
		}
	}
	if _, err := ParseFhirDateTime("2024-13", GermanTimezone); err == nil {
		t.Error("invalid month must be rejected")
	}
}

func TestParseDtmDateTime(t *testing.T) {
	ts, err := ParseDtmDateTime("20240517103000")
	if err != nil {
		t.Fatalf("ParseDtmDateTime: %v", err)
	}
	want := time.Date(2024, 5, 17, 10, 30, 0, 0, time.UTC)
	if !ts.Time().Equal(want) {
		t.Errorf("DTM = %v; want %v", ts.Time(), want)
	}
	if _, err := ParseDtmDateTime("2024051710300"); err == nil {
		t.Error("odd-length DTM must be rejected")
	}
	// bare year zero-fills to January 1st
	ts, err = ParseDtmDateTime("2024")
	if err != nil {
		t.Fatalf("ParseDtmDateTime(year): %v", err)
	}
	if ts.Time().Month() != time.January || ts.Time().Day() != 1 {
		t.Errorf("year-only DTM = %v", ts.Time())
	}
}

func TestFromDatabaseSUuid(t *testing.T) {
	// 0x01ee5... style prefixes decode to an instant after 1970; build
	// one from a known timestamp: micros = t + magic
	target := time.Date(2023, 8, 1, 12, 0, 0, 0, time.UTC)
	micros := target.UnixMicro() + dbSuuidMagic*1_000_000
	suuid := formatSUuid(micros)
	ts, err := FromDatabaseSUuid(suuid)
	if err != nil {
		t.Fatalf("FromDatabaseSUuid(%s): %v", suuid, err)
	}
	if !ts.Time().Equal(target) {
		t.Errorf("SUUID decode = %v; want %v", ts.Time(), target)
	}
	if _, err := FromDatabaseSUuid("not-a-uuid"); err == nil {
		t.Error("invalid uuid must be rejected")
	}
}

// formatSUuid renders the first 16 hex digits as a v4-shaped UUID.
func formatSUuid(micros int64) string {
	hexDigits := "0123456789abcdef"
	buf := make([]byte, 16)
	v := uint64(micros)
	for i := 15; i >= 0; i-- {
		buf[i] = hexDigits[v&0xf]
		v >>= 4
	}
	s := string(buf)
	return s[:8] + "-" + s[8:12] + "-" + s[12:16] + "-8000-000000000000"
}

func TestRenderers(t *testing.T) {
	ts := FromTime(time.Date(2024, 5, 17, 8, 30, 0, 0, time.UTC))
	if got := ts.ToXsDateTimeWithoutFractionalSeconds(); got != "2024-05-17T08:30:00Z" {
		t.Errorf("ToXsDateTimeWithoutFractionalSeconds = %q", got)
	}
	date, err := ts.ToGermanDate()
	if err != nil {
		t.Fatalf("ToGermanDate: %v", err)
	}
	if date != "17.05.2024" {
		t.Errorf("ToGermanDate = %q", date)
	}
}

func TestKvnr(t *testing.T) {
	// checksum computed per the doubling rule used by the card system
	valid := Kvnr(withCheckDigit("X11046577"))
	if err := valid.Validate(); err != nil {
		t.Errorf("valid KVNR rejected: %v", err)
	}
	bad := []Kvnr{"X1104657", "x110465770", "X11046577a", "X110465771"}
	for _, k := range bad {
		if k == valid {
			continue
		}
		if err := k.Validate(); err == nil {
			t.Errorf("KVNR %q must be rejected", k)
		}
	}
}

func withCheckDigit(prefix string) string {
	for d := 0; d <= 9; d++ {
		candidate := prefix + string(rune('0'+d))
		if checkDigit(candidate) == d {
			return candidate
		}
	}
	return prefix + "0"
}

func TestPrescriptionType(t *testing.T) {
	pt, err := ParsePrescriptionType(160)
	if err != nil {
		t.Fatalf("ParsePrescriptionType: %v", err)
	}
	if pt.IsPkv() || pt.IsDirectAssignment() {
		t.Error("160 is neither PKV nor direct assignment")
	}
	if pt.Display() != "Muster 16 (Apothekenpflichtige Arzneimittel)" {
		t.Errorf("Display = %q", pt.Display())
	}
	pkv, _ := ParsePrescriptionType(209)
	if !pkv.IsPkv() || !pkv.IsDirectAssignment() {
		t.Error("209 is PKV direct assignment")
	}
	if _, err := ParsePrescriptionType(1); err == nil {
		t.Error("unknown flow type must be rejected")
	}
}
