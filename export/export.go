// Package export writes the Final table out (processed CSV, xlsx report)
// and reads processed CSV files back without resolving them again.
package export

import (
	"database/sql"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"golang.org/x/text/transform"

	"github.com/jalad-shrimali/cdr-trace/cdr"
	"github.com/jalad-shrimali/cdr-trace/clean"
	"github.com/jalad-shrimali/cdr-trace/detect"
	"github.com/jalad-shrimali/cdr-trace/finalize"
)

var ErrBadCategory = eris.New("unknown error category")

// Marker is appended to the stem of every exported file.
const Marker = "-processed"

var stripExt = []string{".csv", ".xlsx", ".xlsm", ".xls"}

/* ──────────── naming ──────────── */

func stem(name string) string {
	base := strings.TrimSpace(filepath.Base(name))
	ext := filepath.Ext(base)
	for _, e := range stripExt {
		if strings.EqualFold(ext, e) {
			return strings.TrimSpace(strings.TrimSuffix(base, ext))
		}
	}
	return strings.TrimSpace(base)
}

// source drops the marker from an already processed name so exports of a
// reloaded file keep the name they were loaded under.
func source(name string) string { return strings.TrimSuffix(stem(name), Marker) }

// ProcessedName maps an input file name to its export name.
func ProcessedName(name string) string { return source(name) + Marker + ".csv" }

// WorkbookName is ProcessedName with an xlsx extension.
func WorkbookName(name string) string { return source(name) + Marker + ".xlsx" }

// IsProcessed reports whether name was produced by this tool.
func IsProcessed(name string) bool { return strings.HasSuffix(stem(name), Marker) }

/* ──────────── text form of one row ──────────── */

func num(f sql.NullFloat64) string {
	if !f.Valid {
		return ""
	}
	return strconv.FormatFloat(f.Float64, 'f', -1, 64)
}

func str(s sql.NullString) string {
	if !s.Valid {
		return ""
	}
	return s.String
}

// Header is the cleaned columns followed by the result columns.
func Header(f *cdr.Final) []string {
	return append(append([]string(nil), f.Columns...), cdr.ResultColumns...)
}

func record(f *cdr.Final, r int) []string {
	row := f.Rows[r]
	ti := f.Index(cdr.ColCaptureTime)
	out := make([]string, 0, len(f.Columns)+len(cdr.ResultColumns))
	for i, v := range row.Fields {
		if i == ti && row.Captured.Valid {
			out = append(out, cdr.FormatTime(row.Captured))
			continue
		}
		out = append(out, str(v))
	}
	return append(out, str(row.Category), num(row.Lat), num(row.Lon), num(row.Radius), str(row.Address))
}

/* ──────────── processed CSV ──────────── */

// WriteCSV writes f as UTF-8 CSV with a header row.
func WriteCSV(w io.Writer, f *cdr.Final) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header(f)); err != nil {
		return eris.Wrap(err, "write header")
	}
	for r := range f.Rows {
		if err := cw.Write(record(f, r)); err != nil {
			return eris.Wrapf(err, "write row %d", r+1)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "flush csv")
	}
	return nil
}

// processed is one line of a processed file.
type processed struct {
	OwnNumber       string `csv:"己方号码"`
	CaptureTime     string `csv:"截获时间"`
	CallType        string `csv:"呼叫类型"`
	Counterpart     string `csv:"对方号码"`
	LocationArea    string `csv:"己方位置区"`
	CellID          string `csv:"己方小区"`
	SIM             string `csv:"己方卡号"`
	Device          string `csv:"己方机身码"`
	Duration        string `csv:"时长"`
	OwnName         string `csv:"己方姓名"`
	CounterpartName string `csv:"对方姓名"`

	Category string   `csv:"错误"`
	Lat      *float64 `csv:"纬度"`
	Lon      *float64 `csv:"经度"`
	Radius   *float64 `csv:"精度半径"`
	Address  string   `csv:"地址"`
}

func (p *processed) field(col string) string {
	switch col {
	case cdr.ColOwnNumber:
		return p.OwnNumber
	case cdr.ColCaptureTime:
		return p.CaptureTime
	case cdr.ColCallType:
		return p.CallType
	case cdr.ColCounterpart:
		return p.Counterpart
	case cdr.ColLocationArea:
		return p.LocationArea
	case cdr.ColCellID:
		return p.CellID
	case cdr.ColSIM:
		return p.SIM
	case cdr.ColDevice:
		return p.Device
	case cdr.ColDuration:
		return p.Duration
	case cdr.ColOwnName:
		return p.OwnName
	case cdr.ColCounterpartName:
		return p.CounterpartName
	}
	return ""
}

func opt(p *float64) sql.NullFloat64 {
	if p == nil || *p == 0 {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return cdr.Text(s)
}

func category(s string) (sql.NullString, error) {
	if s == "" {
		return sql.NullString{}, nil
	}
	for _, c := range cdr.Categories {
		if s == c {
			return cdr.Text(s), nil
		}
	}
	return sql.NullString{}, eris.Wrapf(ErrBadCategory, "%q", s)
}

// ReadProcessed rebuilds a Final table from a file written by WriteCSV.
func ReadProcessed(r io.Reader) (*cdr.Final, error) {
	cr := csv.NewReader(transform.NewReader(r, detect.Decoder(detect.UTF8)))
	cr.FieldsPerRecord = -1
	dec, err := csvutil.NewDecoder(cr)
	if err != nil {
		return nil, eris.Wrap(err, "read processed header")
	}

	present := make(map[string]bool, len(dec.Header()))
	for _, h := range dec.Header() {
		present[strings.TrimSpace(h)] = true
	}
	var missing []string
	for _, col := range cdr.RequiredColumns {
		if !present[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, eris.Wrapf(clean.ErrMissingColumn, "%s", strings.Join(missing, ", "))
	}

	var cols []string
	for _, group := range [][]string{cdr.RequiredColumns, cdr.OptionalColumns} {
		for _, col := range group {
			if present[col] {
				cols = append(cols, col)
			}
		}
	}

	f := &cdr.Final{Columns: cols}
	for line := 2; ; line++ {
		var p processed
		if err := dec.Decode(&p); err == io.EOF {
			break
		} else if err != nil {
			return nil, eris.Wrapf(err, "line %d", line)
		}

		row := cdr.FinalRow{Fields: make(cdr.Row, len(cols))}
		for i, col := range cols {
			row.Fields[i] = nullable(p.field(col))
		}
		if p.CaptureTime != "" {
			t, err := finalize.ParseTime(p.CaptureTime)
			if err != nil {
				return nil, eris.Wrapf(err, "line %d", line)
			}
			row.Captured = cdr.When(t)
		}
		if row.Category, err = category(p.Category); err != nil {
			return nil, eris.Wrapf(err, "line %d", line)
		}
		row.Lat, row.Lon, row.Radius = opt(p.Lat), opt(p.Lon), opt(p.Radius)
		row.Address = nullable(p.Address)
		f.Rows = append(f.Rows, row)
	}
	return f, nil
}

/* ──────────── files on disk ──────────── */

// Save writes the processed CSV and the xlsx report for input name into
// dir and returns both paths.
func Save(dir, name string, f *cdr.Final) (csvPath, xlsxPath string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", eris.Wrapf(err, "create %s", dir)
	}
	csvPath = filepath.Join(dir, ProcessedName(name))
	if err := writeFile(csvPath, func(w io.Writer) error { return WriteCSV(w, f) }); err != nil {
		return "", "", err
	}
	xlsxPath = filepath.Join(dir, WorkbookName(name))
	if err := writeFile(xlsxPath, func(w io.Writer) error { return WriteWorkbook(w, f) }); err != nil {
		return "", "", err
	}
	return csvPath, xlsxPath, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	out, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "create %s", path)
	}
	if err := write(out); err != nil {
		out.Close()
		return eris.Wrapf(err, "write %s", path)
	}
	if err := out.Close(); err != nil {
		return eris.Wrapf(err, "close %s", path)
	}
	return nil
}
