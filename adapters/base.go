package adapters

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"landrecord-extractor/internal/types"

	"github.com/PuerkitoBio/goquery"
)

// Options overrides portal endpoints, mostly for staging portals and tests.
type Options struct {
	LoginURL  string
	SearchURL string
}

func (o Options) loginURL(def string) string {
	if o.LoginURL != "" {
		return o.LoginURL
	}
	return def
}

func (o Options) searchURL(def string) string {
	if o.SearchURL != "" {
		return o.SearchURL
	}
	return def
}

// TableLayout tells the generic table parser where things live inside a result grid.
type TableLayout struct {
	HeaderTitle string // selector inside a header cell holding its label, e.g. Kendo's span.k-column-title
	DetailIcon  string // selector inside a row for the detail affordance; "" means the row itself
	DetailAttr  string // attribute of DetailIcon holding a link, if any
}

// BaseAdapter provides the parsing and naming helpers shared by portal adapters.
type BaseAdapter struct {
	name          string
	opts          Options
	layout        TableLayout
	docTypeCol    int // raw cell index, hidden cells included
	instrumentCol int
	filters       map[string]types.Locators
}

// NewBaseAdapter creates a base adapter for a tabular result grid.
func NewBaseAdapter(name string, opts Options, layout TableLayout, docTypeCol, instrumentCol int) *BaseAdapter {
	return &BaseAdapter{
		name:          name,
		opts:          opts,
		layout:        layout,
		docTypeCol:    docTypeCol,
		instrumentCol: instrumentCol,
		filters:       map[string]types.Locators{},
	}
}

// Name returns the portal identifier.
func (b *BaseAdapter) Name() string {
	return b.name
}

// ParseHTML parses HTML content into a goquery document
func (b *BaseAdapter) ParseHTML(html string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

// ParseResults parses the outer HTML of a result table.
func (b *BaseAdapter) ParseResults(html string) (types.ParsedTable, error) {
	doc, err := b.ParseHTML(html)
	if err != nil {
		return types.ParsedTable{}, fmt.Errorf("failed to parse results markup: %w", err)
	}
	table := doc.Find("table").First()
	if table.Length() == 0 {
		return types.ParsedTable{}, fmt.Errorf("no table in results markup")
	}
	return b.ExtractTable(table), nil
}

// ExtractTable reads headers and data rows from a table, keeping hidden flags.
// Header rows come from thead, or from a leading row of th cells.
func (b *BaseAdapter) ExtractTable(table *goquery.Selection) types.ParsedTable {
	var parsed types.ParsedTable

	headerRow := table.Find("thead tr").First()
	if headerRow.Length() == 0 {
		headerRow = table.Find("tr").FilterFunction(func(_ int, tr *goquery.Selection) bool {
			return tr.Find("th").Length() > 0
		}).First()
	}
	headerRow.Find("th").Each(func(_ int, th *goquery.Selection) {
		label := cellText(th)
		if b.layout.HeaderTitle != "" {
			if title := th.Find(b.layout.HeaderTitle); title.Length() > 0 {
				label = cellText(title)
			}
		}
		parsed.Headers = append(parsed.Headers, types.Header{Label: label, Hidden: IsHidden(th)})
	})

	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		if tr.ParentsFiltered("thead").Length() > 0 {
			return
		}
		tds := tr.ChildrenFiltered("td")
		if tds.Length() == 0 || IsPlaceholderRow(tr) {
			return
		}

		row := types.ParsedRow{}
		tds.Each(func(_ int, td *goquery.Selection) {
			row.Cells = append(row.Cells, types.Cell{Text: cellText(td), Hidden: IsHidden(td)})
		})

		if b.layout.DetailIcon == "" {
			row.HasDetail = true
		} else if icon := tr.Find(b.layout.DetailIcon).First(); icon.Length() > 0 {
			row.HasDetail = true
			if b.layout.DetailAttr != "" {
				row.DetailHref, _ = icon.Attr(b.layout.DetailAttr)
			}
		}
		parsed.Rows = append(parsed.Rows, row)
	})

	return parsed
}

// IsHidden reports whether a cell is styled out of view.
func IsHidden(s *goquery.Selection) bool {
	if _, ok := s.Attr("hidden"); ok {
		return true
	}
	style, _ := s.Attr("style")
	style = strings.ToLower(strings.ReplaceAll(style, " ", ""))
	return strings.Contains(style, "display:none")
}

// IsPlaceholderRow reports whether tr is an empty-grid message rather than data.
func IsPlaceholderRow(tr *goquery.Selection) bool {
	if tr.HasClass("k-no-data") || tr.HasClass("k-grid-norecords") || tr.Find("td.dataTables_empty").Length() > 0 {
		return true
	}
	tds := tr.ChildrenFiltered("td")
	if tds.Length() != 1 {
		return false
	}
	span, ok := tds.First().Attr("colspan")
	if !ok {
		return false
	}
	n, err := strconv.Atoi(span)
	return err == nil && n > 1
}

func cellText(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}

// DocumentType returns the document type cell of a row.
func (b *BaseAdapter) DocumentType(row types.ResultRow) string {
	return row.CellText(b.docTypeCol)
}

// InstrumentNumber returns the instrument number cell of a row.
func (b *BaseAdapter) InstrumentNumber(row types.ResultRow) string {
	return row.CellText(b.instrumentCol)
}

// RegisterFilter maps a free-form criteria filter key to the field it fills.
func (b *BaseAdapter) RegisterFilter(key string, target types.Locators) {
	b.filters[key] = target
}

// FilterActions fills the registered filter fields present in criteria, in key order.
// Unknown keys are ignored.
func (b *BaseAdapter) FilterActions(criteria types.SearchCriteria) []types.FormAction {
	keys := make([]string, 0, len(criteria.Filters))
	for k := range criteria.Filters {
		if _, ok := b.filters[k]; ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	actions := make([]types.FormAction, 0, len(keys))
	for _, k := range keys {
		actions = append(actions, types.FormAction{
			Name:   "filter " + k,
			Kind:   types.ActionSetValue,
			Target: b.filters[k],
			Values: []string{criteria.Filters[k]},
		})
	}
	return actions
}
