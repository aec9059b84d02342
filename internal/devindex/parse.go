package devindex

import (
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/sells-group/muni-enrich/internal/model"
	"github.com/sells-group/muni-enrich/internal/names"
)

var footnoteRe = regexp.MustCompile(`\[[^\]]*\]`)

// ParseTable extracts name/value pairs from every HTML table whose header row
// has one cell containing nameHeader and one containing valueHeader (compared
// after normalization). Names are keyed by names.Normalize. A value that does
// not parse, or falls outside [0, 1], is recorded as missing (nil). The first
// row seen for a name wins.
func ParseTable(r io.Reader, nameHeader, valueHeader string) (model.IndexTable, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, eris.Wrap(err, "devindex: parse html")
	}

	table := make(model.IndexTable)
	matched := 0
	doc.Find("table").Each(func(_ int, tbl *goquery.Selection) {
		rows := tbl.Find("tr")
		headerRow, nameCol, valueCol := locateColumns(rows, nameHeader, valueHeader)
		if headerRow < 0 {
			return
		}
		matched++

		rows.Each(func(i int, tr *goquery.Selection) {
			if i <= headerRow {
				return
			}
			cells := tr.Children().Filter("th, td")
			if cells.Length() <= nameCol || cells.Length() <= valueCol {
				return
			}
			key := names.Normalize(cells.Eq(nameCol).Text())
			if key == "" {
				return
			}
			if _, seen := table[key]; seen {
				return
			}
			table[key] = ParseIndex(cells.Eq(valueCol).Text())
		})
	})

	if matched == 0 {
		return nil, eris.Errorf("devindex: no table with %q and %q columns", nameHeader, valueHeader)
	}
	if len(table) == 0 {
		return nil, eris.New("devindex: matching table has no rows")
	}
	return table, nil
}

// locateColumns finds the first row whose cells mention both headers and
// returns its position and the two column indexes, or -1s.
func locateColumns(rows *goquery.Selection, nameHeader, valueHeader string) (row, nameCol, valueCol int) {
	row, nameCol, valueCol = -1, -1, -1
	rows.EachWithBreak(func(i int, tr *goquery.Selection) bool {
		n, v := -1, -1
		tr.Children().Filter("th, td").Each(func(j int, cell *goquery.Selection) {
			text := cell.Text()
			if n < 0 && names.Contains(text, nameHeader) {
				n = j
				return
			}
			if v < 0 && names.Contains(text, valueHeader) {
				v = j
			}
		})
		if n >= 0 && v >= 0 {
			row, nameCol, valueCol = i, n, v
			return false
		}
		return true
	})
	return row, nameCol, valueCol
}

// ParseIndex parses one index cell. Footnote markers are dropped and a comma
// is accepted as the decimal separator. It returns nil when the text is not a
// number in [0, 1].
func ParseIndex(text string) *float64 {
	s := footnoteRe.ReplaceAllString(text, "")
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 || v > 1 {
		return nil
	}
	return &v
}
