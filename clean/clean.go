// Package clean restricts a raw table to the fixed CDR column set and
// applies the null rules for the cell-tower identifier columns.
package clean

import (
	"database/sql"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/jalad-shrimali/cdr-trace/cdr"
)

var ErrMissingColumn = eris.New("missing required column")

// marker is the cosmetic character some exports put in front of key headers.
const marker = "*"

/* ──────────── helpers ──────────── */

func norm(h string) string { return strings.TrimSpace(strings.ReplaceAll(h, marker, "")) }

func text(v string) sql.NullString {
	v = strings.ReplaceAll(v, "\t", "")
	if v == "" {
		return sql.NullString{}
	}
	return cdr.Text(v)
}

/* ──────────── schema normalizer ──────────── */

// Normalize selects the required columns plus any optional ones present,
// strips tabs from every value and turns empty strings into missing.
func Normalize(t *cdr.Table) (*cdr.Cleaned, error) {
	src := make(map[string]int, len(t.Header))
	for i, h := range t.Header {
		name := norm(h)
		if _, dup := src[name]; !dup {
			src[name] = i
		}
	}

	var missing []string
	for _, col := range cdr.RequiredColumns {
		if _, ok := src[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, eris.Wrapf(ErrMissingColumn, "%s", strings.Join(missing, ", "))
	}

	cols := append([]string(nil), cdr.RequiredColumns...)
	for _, col := range cdr.OptionalColumns {
		if _, ok := src[col]; ok {
			cols = append(cols, col)
		}
	}
	zap.L().Named("clean").Info("columns selected", zap.Strings("columns", cols))

	rows := make([]cdr.Row, len(t.Rows))
	for r, rec := range t.Rows {
		row := make(cdr.Row, len(cols))
		for d, col := range cols {
			if s := src[col]; s < len(rec) {
				row[d] = text(rec[s])
			}
		}
		rows[r] = row
	}
	return cdr.NewCleaned(cols, rows), nil
}

/* ──────────── missing-value policy ──────────── */

// MissingCounts reports how many rows lack each cell-tower identifier.
type MissingCounts struct {
	LocationArea int
	CellID       int
}

// ApplyMissing treats "0", blank and the text form of missing as missing
// for the location-area and cell-id columns. c is modified in place.
func ApplyMissing(c *cdr.Cleaned) MissingCounts {
	var counts MissingCounts
	for _, col := range []string{cdr.ColLocationArea, cdr.ColCellID} {
		i := c.Index(col)
		if i < 0 {
			continue
		}
		n := 0
		for _, row := range c.Rows {
			v := row[i]
			if v.Valid {
				s := strings.TrimSpace(v.String)
				switch s {
				case "", "0", "nan", "NaN":
					v = sql.NullString{}
				default:
					v = cdr.Text(s)
				}
				row[i] = v
			}
			if !v.Valid {
				n++
			}
		}
		if col == cdr.ColLocationArea {
			counts.LocationArea = n
		} else {
			counts.CellID = n
		}
	}
	zap.L().Named("clean").Info("missing cell-tower ids",
		zap.Int("location_area", counts.LocationArea),
		zap.Int("cell_id", counts.CellID))
	return counts
}
