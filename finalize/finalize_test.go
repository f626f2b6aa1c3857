package finalize

import (
	"testing"
	"time"

	"github.com/rotisserie/eris"

	"github.com/jalad-shrimali/cdr-trace/cdr"
)

func TestParseTime(t *testing.T) {
	want := time.Date(2023, 3, 7, 9, 5, 0, 0, time.UTC)
	for _, v := range []string{
		"2023-03-07 09:05:00",
		"2023/03/07 09:05:00",
		" 2023-03-07 09:05 ",
		"2023-3-7 09:05:00",
		"2023-03-07T09:05:00",
		"2023-03-07T09:05:00Z",
		"2023-03-07 17:05:00+08:00",
		"20230307090500",
	} {
		got, err := ParseTime(v)
		if err != nil {
			t.Fatalf("%q: %v", v, err)
		}
		if !got.Equal(want) {
			t.Fatalf("%q: got %v want %v", v, got, want)
		}
	}
}

func TestParseTimeReadsWrittenForm(t *testing.T) {
	zone := time.FixedZone("", 8*3600)
	for _, in := range []time.Time{
		time.Date(2023, 1, 1, 10, 0, 0, 0, zone),
		time.Date(2023, 1, 1, 10, 0, 0, 750_000_000, time.UTC),
		time.Date(2023, 1, 1, 10, 0, 0, 1, zone),
	} {
		text := cdr.FormatTime(cdr.When(in))
		got, err := ParseTime(text)
		if err != nil {
			t.Fatalf("%q: %v", text, err)
		}
		if !got.Equal(in) {
			t.Fatalf("%q: got %v want %v", text, got, in)
		}
	}
}

func TestParseTimeSerial(t *testing.T) {
	got, err := ParseTime("45000.5")
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2023, 3, 15, 12, 0, 0, 0, time.UTC)
	if d := got.Sub(want); d > time.Second || d < -time.Second {
		t.Fatalf("unexpected serial conversion %v", got)
	}
}

func TestParseTimeRejects(t *testing.T) {
	for _, v := range []string{"yesterday", "2023-13-40 10:00:00", "-3", ""} {
		if _, err := ParseTime(v); !eris.Is(err, ErrTimestamp) {
			t.Fatalf("%q: expected ErrTimestamp, got %v", v, err)
		}
	}
}

func TestCategory(t *testing.T) {
	cases := []struct {
		res  *cdr.Resolution
		want string
		ok   bool
	}{
		{nil, "", false},
		{&cdr.Resolution{Code: 0}, cdr.CategoryNone, true},
		{&cdr.Resolution{Code: 10000}, cdr.CategoryParameterError, true},
		{&cdr.Resolution{Code: 10001}, cdr.CategoryNoResult, true},
		{&cdr.Resolution{Failed: true}, cdr.CategoryRequestFailed, true},
		{&cdr.Resolution{Code: 42}, cdr.CategoryRequestFailed, true},
	}
	for _, tc := range cases {
		got := Category(tc.res)
		if got.Valid != tc.ok || got.String != tc.want {
			t.Fatalf("%+v: got %+v", tc.res, got)
		}
	}
}

func cleaned(times ...string) *cdr.Cleaned {
	rows := make([]cdr.Row, len(times))
	for i, ts := range times {
		row := make(cdr.Row, len(cdr.RequiredColumns))
		if ts != "" {
			row[1] = cdr.Text(ts)
		}
		rows[i] = row
	}
	return cdr.NewCleaned(cdr.RequiredColumns, rows)
}

func TestFinalize(t *testing.T) {
	c := cleaned("2023-01-01 10:00:00", "2023-01-01 11:00:00", "", "2023-01-01 12:00:00")
	merged := []*cdr.Resolution{
		{Code: 0, Lat: 30.5, Lon: 114.25, Radius: 0, Address: "somewhere"},
		{Code: 10001, Lat: 0, Lon: 0, Address: ""},
		nil,
		{Failed: true, Err: "timeout"},
	}
	f, sum, err := Finalize(c, merged)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if len(f.Rows) != 4 {
		t.Fatalf("row count changed: %d", len(f.Rows))
	}

	r0 := f.Rows[0]
	if !r0.Lat.Valid || r0.Lat.Float64 != 30.5 || r0.Radius.Valid || r0.Address.String != "somewhere" {
		t.Fatalf("row 0: %+v", r0)
	}
	if r0.Captured.Time.Hour() != 10 {
		t.Fatalf("row 0 time: %v", r0.Captured)
	}

	r1 := f.Rows[1]
	if r1.Category.String != cdr.CategoryNoResult || r1.Lat.Valid || r1.Lon.Valid || r1.Address.Valid {
		t.Fatalf("row 1 zero sentinels should be missing: %+v", r1)
	}

	r2 := f.Rows[2]
	if r2.Category.Valid || r2.Captured.Valid {
		t.Fatalf("row 2 should have no category and no time: %+v", r2)
	}

	if f.Rows[3].Category.String != cdr.CategoryRequestFailed {
		t.Fatalf("row 3: %+v", f.Rows[3])
	}

	if sum.Unresolved != 1 || sum.Categories[cdr.CategoryNone] != 1 ||
		sum.Categories[cdr.CategoryNoResult] != 1 || sum.Categories[cdr.CategoryRequestFailed] != 1 ||
		sum.Categories[cdr.CategoryParameterError] != 0 {
		t.Fatalf("unexpected summary %+v", sum)
	}
}

func TestFinalizeBadTimestampFailsBatch(t *testing.T) {
	c := cleaned("2023-01-01 10:00:00", "not a time")
	_, _, err := Finalize(c, make([]*cdr.Resolution, 2))
	if !eris.Is(err, ErrTimestamp) {
		t.Fatalf("expected ErrTimestamp, got %v", err)
	}
}
