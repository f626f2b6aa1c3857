package loader

import (
	"bytes"
	"io"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"

	"github.com/jalad-shrimali/cdr-trace/detect"
)

const sample = "*己方号码,*截获时间,呼叫类型,对方号码,己方位置区,己方小区\n" +
	"13800000000,2023-01-01 10:00:00,主叫,13900000000,100,200\n" +
	"13800000000,2023-01-01 11:00:00,被叫,13900000001,100\n"

func TestKind(t *testing.T) {
	cases := map[string]FileKind{
		"a.csv":        Delimited,
		"A.CSV":        Delimited,
		"b.xlsx":       Spreadsheet,
		"legacy.xls":   Unknown,
		"notes.pdf":    Unknown,
		"no-extension": Unknown,
	}
	for name, want := range cases {
		if got := Kind(name); got != want {
			t.Errorf("Kind(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestLoadCSVPadsShortRows(t *testing.T) {
	tbl, err := Load(strings.NewReader(sample), "calls.csv")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(tbl.Header) != 6 || tbl.Header[0] != "*己方号码" {
		t.Fatalf("unexpected header %v", tbl.Header)
	}
	if len(tbl.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(tbl.Rows))
	}
	if len(tbl.Rows[1]) != 6 || tbl.Rows[1][5] != "" {
		t.Fatalf("short row not padded: %v", tbl.Rows[1])
	}
}

func TestLoadCSVGBK(t *testing.T) {
	enc, err := io.ReadAll(transform.NewReader(strings.NewReader(sample), simplifiedchinese.GBK.NewEncoder()))
	if err != nil {
		t.Fatal(err)
	}
	tbl, err := LoadCSV(bytes.NewReader(enc), detect.GBK)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tbl.Header[2] != "呼叫类型" || tbl.Rows[0][2] != "主叫" {
		t.Fatalf("GBK text not decoded: %v / %v", tbl.Header, tbl.Rows[0])
	}
}

func TestLoadSheetReadsFirstSheet(t *testing.T) {
	x := excelize.NewFile()
	first := x.GetSheetName(0)
	rows := [][]string{
		{"己方号码", "截获时间", "呼叫类型", "对方号码", "己方位置区", "己方小区"},
		{"13800000000", "2023-01-01 10:00:00", "主叫", "13900000000", "100", "200"},
	}
	for r, row := range rows {
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+1)
			if err := x.SetCellStr(first, cell, v); err != nil {
				t.Fatal(err)
			}
		}
	}
	if _, err := x.NewSheet("other"); err != nil {
		t.Fatal(err)
	}
	_ = x.SetCellStr("other", "A1", "ignored")
	buf, err := x.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}

	tbl, err := Load(buf, "calls.xlsx")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(tbl.Rows) != 1 || tbl.Rows[0][4] != "100" {
		t.Fatalf("unexpected rows %v", tbl.Rows)
	}
}

func TestLoadSheetKeepsDateCellsRaw(t *testing.T) {
	x := excelize.NewFile()
	sheet := x.GetSheetName(0)
	for c, h := range []string{"己方号码", "截获时间", "呼叫类型", "对方号码", "己方位置区", "己方小区"} {
		cell, _ := excelize.CoordinatesToCellName(c+1, 1)
		if err := x.SetCellStr(sheet, cell, h); err != nil {
			t.Fatal(err)
		}
	}
	want := time.Date(2023, 1, 1, 10, 0, 30, 0, time.UTC)
	if err := x.SetCellValue(sheet, "A2", 13800000000); err != nil {
		t.Fatal(err)
	}
	if err := x.SetCellValue(sheet, "B2", want); err != nil {
		t.Fatal(err)
	}
	buf, err := x.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}

	tbl, err := Load(buf, "calls.xlsx")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tbl.Rows[0][0] != "13800000000" {
		t.Fatalf("number cell %q", tbl.Rows[0][0])
	}
	serial, err := strconv.ParseFloat(tbl.Rows[0][1], 64)
	if err != nil {
		t.Fatalf("date cell should load as a serial, got %q", tbl.Rows[0][1])
	}
	got, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		t.Fatal(err)
	}
	if d := got.Sub(want); d > time.Second || d < -time.Second {
		t.Fatalf("serial %v is %v, want %v", serial, got, want)
	}
}

func TestLoadRejectsUnsupported(t *testing.T) {
	_, err := Load(strings.NewReader("x"), "calls.xls")
	if !eris.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestLoadEmptyIsMalformed(t *testing.T) {
	_, err := Load(strings.NewReader("\n\n"), "calls.csv")
	if !eris.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	_, err = Load(strings.NewReader("not a zip"), "calls.xlsx")
	if !eris.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for bad workbook, got %v", err)
	}
}
