// Package finalize builds the read-only Final table from cleaned rows and
// their lookup results.
package finalize

import (
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/jalad-shrimali/cdr-trace/cdr"
)

var ErrTimestamp = eris.New("malformed capture time")

// layouts accepted for the capture-time column, tried in order.
var layouts = []string{
	cdr.TimeLayout,
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02 15:04",
	"2006-1-2 15:04:05",
	"2006/1/2 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.000",
	"20060102150405",
	"2006-01-02",
	"2006/01/02",
}

// largest serial a spreadsheet can hold (9999-12-31)
const maxSerial = 2958465

// ParseTime parses one capture-time value. Naive values are read as UTC
// wall-clock time.
func ParseTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	for _, l := range layouts {
		if t, err := time.ParseInLocation(l, v, time.UTC); err == nil {
			return t, nil
		}
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 && f <= maxSerial {
		if t, err := excelize.ExcelDateToTime(f, false); err == nil {
			return t, nil
		}
	}
	return time.Time{}, eris.Wrapf(ErrTimestamp, "%q", v)
}

// Category translates a resolution into its display label. nil means the
// row had no key and gets no category.
func Category(res *cdr.Resolution) sql.NullString {
	if res == nil {
		return sql.NullString{}
	}
	if res.Failed {
		return cdr.Text(cdr.CategoryRequestFailed)
	}
	switch res.Code {
	case cdr.CodeOK:
		return cdr.Text(cdr.CategoryNone)
	case cdr.CodeParameterError:
		return cdr.Text(cdr.CategoryParameterError)
	case cdr.CodeNoResult:
		return cdr.Text(cdr.CategoryNoResult)
	default:
		return cdr.Text(cdr.CategoryRequestFailed)
	}
}

func coord(f float64) sql.NullFloat64 {
	if f == 0 {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: f, Valid: true}
}

// Summary counts rows per category; Unresolved counts rows without a key.
type Summary struct {
	Rows       int            `json:"rows"`
	Categories map[string]int `json:"categories"`
	Unresolved int            `json:"unresolved"`
}

// Finalize joins c with merged (one entry per row, as returned by
// locate.Merge). Any unparseable capture time fails the whole batch.
func Finalize(c *cdr.Cleaned, merged []*cdr.Resolution) (*cdr.Final, Summary, error) {
	if len(merged) != len(c.Rows) {
		return nil, Summary{}, eris.Errorf("finalize: %d rows but %d results", len(c.Rows), len(merged))
	}
	sum := Summary{Rows: len(c.Rows), Categories: make(map[string]int, len(cdr.Categories))}
	for _, name := range cdr.Categories {
		sum.Categories[name] = 0
	}

	ti := c.Index(cdr.ColCaptureTime)
	rows := make([]cdr.FinalRow, len(c.Rows))
	for r, row := range c.Rows {
		fr := cdr.FinalRow{Fields: row, Category: Category(merged[r])}

		if ti >= 0 && row[ti].Valid {
			t, err := ParseTime(row[ti].String)
			if err != nil {
				return nil, Summary{}, eris.Wrapf(err, "row %d", r+1)
			}
			fr.Captured = cdr.When(t)
		}

		if res := merged[r]; res != nil && !res.Failed {
			fr.Lat, fr.Lon, fr.Radius = coord(res.Lat), coord(res.Lon), coord(res.Radius)
			if res.Address != "" {
				fr.Address = cdr.Text(res.Address)
			}
		}

		if fr.Category.Valid {
			sum.Categories[fr.Category.String]++
		} else {
			sum.Unresolved++
		}
		rows[r] = fr
	}

	zap.L().Named("finalize").Info("categories",
		zap.Int("rows", sum.Rows),
		zap.Any("counts", sum.Categories),
		zap.Int("unresolved", sum.Unresolved))
	return &cdr.Final{Columns: c.Columns, Rows: rows}, sum, nil
}
