// Package cdr holds the fixed record schema shared by every pipeline stage.
package cdr

import (
	"database/sql"
	"time"
)

/* ──────────── required columns (keep order) ──────────── */

const (
	ColOwnNumber    = "己方号码"
	ColCaptureTime  = "截获时间"
	ColCallType     = "呼叫类型"
	ColCounterpart  = "对方号码"
	ColLocationArea = "己方位置区"
	ColCellID       = "己方小区"
)

/* ──────────── optional columns ──────────── */

const (
	ColSIM             = "己方卡号"
	ColDevice          = "己方机身码"
	ColDuration        = "时长"
	ColOwnName         = "己方姓名"
	ColCounterpartName = "对方姓名"
)

/* ──────────── columns appended after resolution ──────────── */

const (
	ColCategory = "错误"
	ColLat      = "纬度"
	ColLon      = "经度"
	ColRadius   = "精度半径"
	ColAddress  = "地址"
)

var (
	RequiredColumns = []string{ColOwnNumber, ColCaptureTime, ColCallType, ColCounterpart, ColLocationArea, ColCellID}
	OptionalColumns = []string{ColSIM, ColDevice, ColDuration, ColOwnName, ColCounterpartName}
	ResultColumns   = []string{ColCategory, ColLat, ColLon, ColRadius, ColAddress}
)

// Error categories handed to the renderer. Changing a label breaks it.
const (
	CategoryNone           = "none"
	CategoryParameterError = "parameter-error"
	CategoryNoResult       = "no-result"
	CategoryRequestFailed  = "request-failed"
)

// Categories lists every label the finalizer can produce.
var Categories = []string{CategoryNone, CategoryParameterError, CategoryNoResult, CategoryRequestFailed}

// Service error codes.
const (
	CodeOK             = 0
	CodeParameterError = 10000
	CodeNoResult       = 10001
)

// Table is a raw file as read: header row plus text rows of header width.
type Table struct {
	Header []string
	Rows   [][]string
}

// Row is aligned with Cleaned.Columns. Invalid means missing.
type Row []sql.NullString

// Cleaned is a table restricted to the recognized column set.
type Cleaned struct {
	Columns []string
	Rows    []Row
	index   map[string]int
}

// NewCleaned builds a Cleaned table over the given columns.
func NewCleaned(columns []string, rows []Row) *Cleaned {
	c := &Cleaned{Columns: columns, Rows: rows, index: make(map[string]int, len(columns))}
	for i, col := range columns {
		c.index[col] = i
	}
	return c
}

// Index returns the position of col or -1.
func (c *Cleaned) Index(col string) int {
	if c.index == nil {
		for i, name := range c.Columns {
			if name == col {
				return i
			}
		}
		return -1
	}
	if i, ok := c.index[col]; ok {
		return i
	}
	return -1
}

// Value returns row r's value for col; missing if the column is absent.
func (c *Cleaned) Value(r int, col string) sql.NullString {
	i := c.Index(col)
	if i < 0 || r < 0 || r >= len(c.Rows) || i >= len(c.Rows[r]) {
		return sql.NullString{}
	}
	return c.Rows[r][i]
}

// Key is one distinct (location-area, cell-id) pair.
type Key struct {
	LAC string
	CI  string
}

// KeyOf returns row r's key, false when either half is missing.
func (c *Cleaned) KeyOf(r int) (Key, bool) {
	lac, ci := c.Value(r, ColLocationArea), c.Value(r, ColCellID)
	if !lac.Valid || !ci.Valid {
		return Key{}, false
	}
	return Key{LAC: lac.String, CI: ci.String}, true
}

// Resolution is the lookup outcome for one Key.
type Resolution struct {
	Code    int
	Lat     float64
	Lon     float64
	Radius  float64
	Address string
	// Failed marks a key whose request never produced a usable response.
	Failed bool
	Err    string
}

// FinalRow is a cleaned row joined with its resolution.
type FinalRow struct {
	Fields   Row
	Captured sql.NullTime
	Category sql.NullString
	Lat      sql.NullFloat64
	Lon      sql.NullFloat64
	Radius   sql.NullFloat64
	Address  sql.NullString
}

// Final is the table handed to the rendering layer. Treat as read-only.
type Final struct {
	Columns []string
	Rows    []FinalRow
}

// Index returns the position of col among the cleaned columns or -1.
func (f *Final) Index(col string) int {
	for i, c := range f.Columns {
		if c == col {
			return i
		}
	}
	return -1
}

// Field returns row r's cleaned value for col.
func (f *Final) Field(r int, col string) sql.NullString {
	i := f.Index(col)
	if i < 0 || i >= len(f.Rows[r].Fields) {
		return sql.NullString{}
	}
	return f.Rows[r].Fields[i]
}

// TimeLayout is how capture times are written back out. The offset and
// any fraction are kept so a reload yields the same instant.
const TimeLayout = "2006-01-02 15:04:05.999999999-07:00"

// FormatTime renders a capture time, empty when missing.
func FormatTime(t sql.NullTime) string {
	if !t.Valid {
		return ""
	}
	return t.Time.Format(TimeLayout)
}

// Text is a convenience constructor for a present value.
func Text(s string) sql.NullString { return sql.NullString{String: s, Valid: true} }

// When is a convenience constructor for a present time.
func When(t time.Time) sql.NullTime { return sql.NullTime{Time: t, Valid: true} }
