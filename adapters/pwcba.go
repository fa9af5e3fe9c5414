package adapters

import (
	"fmt"
	"strings"

	"landrecord-extractor/internal/types"

	"github.com/PuerkitoBio/goquery"
)

const (
	pwcbaLoginURL   = "https://www4.pwcva.gov/Web/user/disclaimer"
	pwcbaDateLayout = "1/2/2006"
	pwcbaRowClass   = "selfServiceSearchRowRight"
)

var pwcbaHeaders = []string{
	"document_number",
	"document_type",
	"verification_status",
	"recording_date",
	"grantors",
	"grantees",
	"legal",
}

// PwcbaAdapter handles the Prince William County self-service portal. Results are
// rendered as blocks rather than a table, and each block links to a pdf.js viewer page.
type PwcbaAdapter struct {
	*BaseAdapter
}

// NewPwcbaAdapter creates a new Prince William adapter
func NewPwcbaAdapter(opts Options) *PwcbaAdapter {
	base := NewBaseAdapter("pwcba", opts, TableLayout{}, 1, 0)
	base.RegisterFilter("grantor", types.Any(types.CSS("#field_GrantorID")))
	base.RegisterFilter("grantee", types.Any(types.CSS("#field_GranteeID")))
	return &PwcbaAdapter{BaseAdapter: base}
}

func (p *PwcbaAdapter) DefaultDocumentTypes() []string {
	return []string{
		"LIS PENDENS",
		"LIS PENDENS CORRECTED",
		"LIS PENDENS RERECORDED",
		"APPOINTMENT OF SUBSTITUTE TRUSTEE",
		"APPTMT OF SUBSTITUTE TRUSTEE CORRECTED",
		"APPTMT OF SUBSTITUTE TRUSTEE RERECORDED",
	}
}

func (p *PwcbaAdapter) Login() types.LoginSurface {
	return types.LoginSurface{
		URL: p.opts.loginURL(pwcbaLoginURL),
		PreLogin: []types.FormAction{
			{Name: "accept disclaimer", Kind: types.ActionClick, Target: types.Any(types.CSS("#submitDisclaimerAccept")), Optional: true},
			{Name: "log in link", Kind: types.ActionClick, Target: types.Any(
				types.XPath("//a[normalize-space(text())='Log in']"),
				types.XPath("//a[contains(text(), 'Log in')]"),
			)},
		},
		Username:      types.Any(types.CSS("#field_UserId")),
		Password:      types.Any(types.CSS("#field_Password")),
		Submit:        types.Any(types.CSS("#loginSubmit")),
		SuccessMarker: types.Any(types.CSS("a[href='/Web/search/DOCSEARCH114S2']")),
		ConflictMarker: types.Any(
			types.XPath("//*[contains(text(), 'User is already logged in')]"),
			types.CSS("label[for='field_ForceLogoff']"),
		),
		ForceLogoff: types.Any(
			types.XPath("//label[@for='field_ForceLogoff' and contains(text(), 'Log off other sessions')]"),
			types.CSS("label[for='field_ForceLogoff']"),
		),
	}
}

func (p *PwcbaAdapter) Search() types.SearchSurface {
	return types.SearchSurface{
		URL: p.opts.searchURL(""),
		Setup: []types.FormAction{
			{Name: "name search", Kind: types.ActionClick, Target: types.Any(types.CSS("a[href='/Web/search/DOCSEARCH114S2']"))},
			{Name: "document type list", Kind: types.ActionWaitVisible, Target: types.Any(types.CSS("#field_selfservice_documentTypes"))},
		},
		Submit: types.Any(types.CSS("#searchButton")),
	}
}

func (p *PwcbaAdapter) CriteriaActions(criteria types.SearchCriteria) []types.FormAction {
	input := types.Any(types.CSS("#field_selfservice_documentTypes"))

	var actions []types.FormAction
	for _, docType := range criteria.DocumentTypes {
		item := types.Any(types.XPath(fmt.Sprintf("//ul[@id='field_selfservice_documentTypes-aclist']//li[normalize-space(text())='%s']", docType)))
		actions = append(actions,
			types.FormAction{Name: "type " + docType, Kind: types.ActionType, Target: input, Values: []string{docType}},
			types.FormAction{Name: "suggestion " + docType, Kind: types.ActionWaitVisible, Target: item},
			types.FormAction{Name: "pick " + docType, Kind: types.ActionClick, Target: item},
		)
	}
	actions = append(actions,
		types.FormAction{Name: "start date", Kind: types.ActionType, Target: types.Any(types.CSS("#field_RecordingDateID_DOT_StartDate")), Values: []string{criteria.StartDate.Format(pwcbaDateLayout)}},
		types.FormAction{Name: "end date", Kind: types.ActionType, Target: types.Any(types.CSS("#field_RecordingDateID_DOT_EndDate")), Values: []string{criteria.EndDate.Format(pwcbaDateLayout)}},
	)
	return append(actions, p.FilterActions(criteria)...)
}

func (p *PwcbaAdapter) Results() types.ResultSurface {
	return types.ResultSurface{
		Table: types.Any(
			types.CSS("div.selfServiceSearchResultList"),
			types.XPath(fmt.Sprintf("(//div[contains(@class, '%s')])[1]/..", pwcbaRowClass)),
		),
		NoResultsMarker: types.Any(
			types.XPath("//*[contains(text(), 'No results found')]"),
			types.CSS("div.selfServiceSearchResultsEmpty"),
		),
	}
}

// ParseResults reads the result blocks into fixed columns.
func (p *PwcbaAdapter) ParseResults(html string) (types.ParsedTable, error) {
	doc, err := p.ParseHTML(html)
	if err != nil {
		return types.ParsedTable{}, fmt.Errorf("failed to parse results markup: %w", err)
	}

	parsed := types.ParsedTable{}
	for _, h := range pwcbaHeaders {
		parsed.Headers = append(parsed.Headers, types.Header{Label: h})
	}

	doc.Find("div." + pwcbaRowClass).Each(func(_ int, block *goquery.Selection) {
		number, docType := splitTitle(block.Find("h1").First())
		status := cellText(block.Find("span.wip.ss-oval-button").First())

		values := []string{
			number,
			docType,
			status,
			columnValue(block, "Recording Date"),
			strings.Join(columnNames(block, "Grantor/Name 1"), "; "),
			strings.Join(columnNames(block, "Grantee/Name 2"), "; "),
			columnValue(block, "Legal"),
		}
		row := types.ParsedRow{}
		for _, v := range values {
			row.Cells = append(row.Cells, types.Cell{Text: v})
		}
		if link := block.Find("a[title='View Document']").First(); link.Length() > 0 {
			row.DetailHref, row.HasDetail = link.Attr("href")
		}
		parsed.Rows = append(parsed.Rows, row)
	})
	return parsed, nil
}

// splitTitle splits "2024-0001 • LIS PENDENS" into number and type.
func splitTitle(h1 *goquery.Selection) (string, string) {
	text := cellText(h1)
	parts := strings.Split(text, "•")
	if len(parts) == 2 {
		return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	}
	return text, ""
}

func findColumn(block *goquery.Selection, label string) *goquery.Selection {
	return block.Find("div.searchResultFourColumn").FilterFunction(func(_ int, col *goquery.Selection) bool {
		return strings.Contains(col.Find("li").First().Text(), label)
	}).First()
}

func columnValue(block *goquery.Selection, label string) string {
	return cellText(findColumn(block, label).Find("li.selfServiceSearchResultCollapsed").First())
}

func columnNames(block *goquery.Selection, label string) []string {
	var names []string
	findColumn(block, label).Find("li b").Each(func(_ int, b *goquery.Selection) {
		names = append(names, cellText(b))
	})
	return names
}

func (p *PwcbaAdapter) DetailLocator(row types.ResultRow) types.Locators {
	return types.Any(types.XPath(fmt.Sprintf("(//div[contains(@class, '%s')])[%d]//a[@title='View Document']", pwcbaRowClass, row.Index)))
}

func (p *PwcbaAdapter) Viewer() types.ViewerSurface {
	viewer := types.Any(types.CSS("iframe.ss-pdfjs-lviewer"))
	return types.ViewerSurface{
		Mode:  types.DetailHref,
		Ready: viewer,
		Strategies: []types.Strategy{
			{
				Name:   "pdfjs-frame",
				Format: types.ArtifactPDF,
				Sources: []types.URLSource{
					{Target: viewer, Attr: "data-href"},
					{Target: viewer, Attr: "src"},
				},
			},
		},
	}
}

var _ types.PortalAdapter = (*PwcbaAdapter)(nil)
