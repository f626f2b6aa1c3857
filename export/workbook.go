package export

import (
	"database/sql"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"

	"github.com/jalad-shrimali/cdr-trace/cdr"
)

type agg struct {
	calls int
	dur   float64
}

type stay struct {
	addr, lat, lon string
	first, last    sql.NullTime
	total          int
}

func text(s string) string {
	if s == "" {
		return "(blank)"
	}
	return s
}

func at(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return rec[i]
}

// WriteWorkbook writes f as an xlsx report: the full table plus summary
// sheets per own-number/counterpart pair, per category and per cell.
func WriteWorkbook(w io.Writer, f *cdr.Final) error {
	report := [][]string{Header(f)}

	pairs := map[[2]string]*agg{}
	cats := map[string]int{}
	stays := map[cdr.Key]*stay{}
	var stayOrder []cdr.Key

	own, cp := f.Index(cdr.ColOwnNumber), f.Index(cdr.ColCounterpart)
	for r, row := range f.Rows {
		rec := record(f, r)
		report = append(report, rec)

		k := [2]string{text(at(rec, own)), text(at(rec, cp))}
		a := pairs[k]
		if a == nil {
			a = &agg{}
			pairs[k] = a
		}
		a.calls++
		if d, err := strconv.ParseFloat(f.Field(r, cdr.ColDuration).String, 64); err == nil {
			a.dur += d
		}

		cats[text(str(row.Category))]++

		lac, ci := f.Field(r, cdr.ColLocationArea), f.Field(r, cdr.ColCellID)
		if !lac.Valid || !ci.Valid {
			continue
		}
		key := cdr.Key{LAC: lac.String, CI: ci.String}
		ts := row.Captured
		s := stays[key]
		if s == nil {
			s = &stay{addr: str(row.Address), lat: num(row.Lat), lon: num(row.Lon), first: ts, last: ts}
			stays[key] = s
			stayOrder = append(stayOrder, key)
		}
		s.total++
		if ts.Valid && (!s.first.Valid || ts.Time.Before(s.first.Time)) {
			s.first = ts
		}
		if ts.Valid && (!s.last.Valid || ts.Time.After(s.last.Time)) {
			s.last = ts
		}
	}

	type kv struct {
		k [2]string
		v *agg
	}
	list := make([]kv, 0, len(pairs))
	for k, v := range pairs {
		list = append(list, kv{k, v})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].k[0] != list[j].k[0] {
			return list[i].k[0] < list[j].k[0]
		}
		return list[i].k[1] < list[j].k[1]
	})
	summary := [][]string{{cdr.ColOwnNumber, cdr.ColCounterpart, "Total Calls", "Total Duration"}}
	for _, p := range list {
		summary = append(summary, []string{p.k[0], p.k[1], strconv.Itoa(p.v.calls), fmt.Sprintf("%.0f", p.v.dur)})
	}

	maxC := [][]string{{cdr.ColOwnNumber, cdr.ColCounterpart, "Total Calls"}}
	sort.SliceStable(list, func(i, j int) bool { return list[i].v.calls > list[j].v.calls })
	for _, p := range list {
		maxC = append(maxC, []string{p.k[0], p.k[1], strconv.Itoa(p.v.calls)})
	}

	categories := [][]string{{cdr.ColCategory, "Rows"}}
	for _, c := range append(append([]string(nil), cdr.Categories...), "(blank)") {
		categories = append(categories, []string{c, strconv.Itoa(cats[c])})
	}

	sort.SliceStable(stayOrder, func(i, j int) bool { return stays[stayOrder[i]].total > stays[stayOrder[j]].total })
	maxS := [][]string{{cdr.ColLocationArea, cdr.ColCellID, "Total Calls", cdr.ColAddress, cdr.ColLat, cdr.ColLon, "First", "Last"}}
	for _, k := range stayOrder {
		s := stays[k]
		maxS = append(maxS, []string{k.LAC, k.CI, strconv.Itoa(s.total), s.addr, s.lat, s.lon, cdr.FormatTime(s.first), cdr.FormatTime(s.last)})
	}

	x := excelize.NewFile()
	defer x.Close()
	add := func(name string, rows [][]string) error {
		idx, err := x.NewSheet(name)
		if err != nil {
			return err
		}
		for r, row := range rows {
			for c, v := range row {
				cell, err := excelize.CoordinatesToCellName(c+1, r+1)
				if err != nil {
					return err
				}
				if err := x.SetCellStr(name, cell, v); err != nil {
					return err
				}
			}
		}
		if name == "report" {
			x.SetActiveSheet(idx)
		}
		return nil
	}
	for _, s := range []struct {
		name string
		rows [][]string
	}{
		{"report", report},
		{"summary", summary},
		{"categories", categories},
		{"max_calls", maxC},
		{"max_stay", maxS},
	} {
		if err := add(s.name, s.rows); err != nil {
			return eris.Wrapf(err, "sheet %s", s.name)
		}
	}
	if err := x.DeleteSheet("Sheet1"); err != nil {
		return eris.Wrap(err, "drop default sheet")
	}
	if _, err := x.WriteTo(w); err != nil {
		return eris.Wrap(err, "write workbook")
	}
	return nil
}
