// Package loader parses a raw CDR upload into a row-oriented cdr.Table.
package loader

import (
	"bytes"
	"encoding/csv"
	"io"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"golang.org/x/text/transform"

	"github.com/jalad-shrimali/cdr-trace/cdr"
	"github.com/jalad-shrimali/cdr-trace/detect"
)

var (
	ErrUnsupported = eris.New("unsupported file type")
	ErrMalformed   = eris.New("malformed input file")
)

type FileKind int

const (
	Unknown FileKind = iota
	Delimited
	Spreadsheet
)

// Kind classifies a file by extension.
func Kind(name string) FileKind {
	switch strings.ToLower(filepath.Ext(strings.TrimSpace(name))) {
	case ".csv", ".txt":
		return Delimited
	case ".xlsx", ".xlsm":
		return Spreadsheet
	default:
		return Unknown
	}
}

// Load reads r according to the extension of name.
func Load(r io.Reader, name string) (*cdr.Table, error) {
	log := zap.L().Named("loader").With(zap.String("file", name))
	switch Kind(name) {
	case Delimited:
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, eris.Wrapf(err, "read %s", name)
		}
		enc := detect.Detect(data)
		log.Info("encoding resolved", zap.String("encoding", string(enc)))
		return LoadCSV(bytes.NewReader(data), enc)
	case Spreadsheet:
		return LoadSheet(r)
	default:
		return nil, eris.Wrapf(ErrUnsupported, "%q", filepath.Ext(name))
	}
}

// LoadCSV parses delimited text decoded from enc.
func LoadCSV(r io.Reader, enc detect.Encoding) (*cdr.Table, error) {
	cr := csv.NewReader(transform.NewReader(r, detect.Decoder(enc)))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, eris.Wrap(ErrMalformed, err.Error())
	}
	return fromRows(rows)
}

// LoadSheet reads the first sheet of a spreadsheet. Encoding is ignored and
// cells are returned unformatted.
func LoadSheet(r io.Reader) (*cdr.Table, error) {
	x, err := excelize.OpenReader(r)
	if err != nil {
		return nil, eris.Wrap(ErrMalformed, err.Error())
	}
	defer x.Close()

	sheets := x.GetSheetList()
	if len(sheets) == 0 {
		return nil, eris.Wrap(ErrMalformed, "workbook has no sheets")
	}
	// raw values keep date cells as serials instead of display text
	rows, err := x.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, eris.Wrap(ErrMalformed, err.Error())
	}
	return fromRows(rows)
}

/* ──────────── helpers ──────────── */

func fromRows(rows [][]string) (*cdr.Table, error) {
	// skip leading blank lines
	for len(rows) > 0 && blank(rows[0]) {
		rows = rows[1:]
	}
	if len(rows) == 0 {
		return nil, eris.Wrap(ErrMalformed, "no header row")
	}
	header := rows[0]
	t := &cdr.Table{Header: header, Rows: make([][]string, 0, len(rows)-1)}
	for _, rec := range rows[1:] {
		if blank(rec) {
			continue
		}
		t.Rows = append(t.Rows, pad(rec, len(header)))
	}
	return t, nil
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func pad(rec []string, n int) []string {
	if len(rec) >= n {
		return rec[:n]
	}
	out := make([]string, n)
	copy(out, rec)
	return out
}
