package adapters

import (
	"fmt"

	"landrecord-extractor/internal/types"
)

const (
	loudounLoginURL   = "https://lisweb.loudoun.gov/PAXSubscription/"
	loudounSearchURL  = "https://lisweb.loudoun.gov/PAXSubscription/views/search"
	loudounDateLayout = "01/02/2006"
)

// LoudounAdapter handles the Loudoun County PAX subscription portal: a DataTables grid whose
// rows open an in-page viewer on double click.
type LoudounAdapter struct {
	*BaseAdapter
}

// NewLoudounAdapter creates a new Loudoun adapter
func NewLoudounAdapter(opts Options) *LoudounAdapter {
	base := NewBaseAdapter("loudoun", opts, TableLayout{}, 3, 1)
	base.RegisterFilter("last_name", types.Any(types.CSS("#txtLastName")))
	base.RegisterFilter("first_name", types.Any(types.CSS("#txtFirstName")))
	return &LoudounAdapter{BaseAdapter: base}
}

func (l *LoudounAdapter) DefaultDocumentTypes() []string {
	return []string{"LIS PENDENS", "SUBSTITUTE TRUSTEE"}
}

func (l *LoudounAdapter) Login() types.LoginSurface {
	return types.LoginSurface{
		URL:      l.opts.loginURL(loudounLoginURL),
		Username: types.Any(types.CSS("#txtUsername")),
		Password: types.Any(types.CSS("#txtPassword")),
		Submit:   types.Any(types.CSS("#btnLogin")),
		SuccessMarker: types.Any(
			types.CSS("a[href*='Logout']"),
			types.CSS("a[href*='logout']"),
		),
		ConflictMarker: types.Any(types.XPath("//*[contains(text(), 'already logged in')]")),
		ForceLogoff:    types.Any(types.CSS("#btnForceLogin")),
	}
}

func (l *LoudounAdapter) Search() types.SearchSurface {
	return types.SearchSurface{
		URL: l.opts.searchURL(loudounSearchURL),
		Setup: []types.FormAction{
			{Name: "advanced name search", Kind: types.ActionClick, Target: types.Any(types.CSS("#btnCriteriaAdvancedNameSearch"))},
			{Name: "expand deed category", Kind: types.ActionClick, Target: types.Any(
				types.XPath("//a[@id='cat2_anchor']/preceding-sibling::i[contains(@class, 'jstree-ocl')]"),
			), Optional: true},
		},
		Submit: types.Any(types.CSS("#btnSummarySearch")),
	}
}

func (l *LoudounAdapter) CriteriaActions(criteria types.SearchCriteria) []types.FormAction {
	var actions []types.FormAction
	for _, docType := range criteria.DocumentTypes {
		actions = append(actions, types.FormAction{
			Name:   "document type " + docType,
			Kind:   types.ActionClick,
			Target: types.Any(types.XPath(fmt.Sprintf("//a[contains(@class, 'jstree-anchor') and normalize-space(.)='%s']", docType))),
		})
	}
	actions = append(actions,
		types.FormAction{Name: "from date", Kind: types.ActionSetValue, Target: types.Any(types.CSS("#dtFrom")), Values: []string{criteria.StartDate.Format(loudounDateLayout)}},
		types.FormAction{Name: "to date", Kind: types.ActionSetValue, Target: types.Any(types.CSS("#dtTo")), Values: []string{criteria.EndDate.Format(loudounDateLayout)}},
	)
	return append(actions, l.FilterActions(criteria)...)
}

func (l *LoudounAdapter) Results() types.ResultSurface {
	return types.ResultSurface{
		Table:           types.Any(types.XPath("//table[@id='gridResults']")),
		NoResultsMarker: types.Any(types.CSS("#gridResults td.dataTables_empty")),
		NextPage:        types.Any(types.CSS("#gridResults_next")),
	}
}

// DetailLocator returns the row itself; the viewer opens on double click.
func (l *LoudounAdapter) DetailLocator(row types.ResultRow) types.Locators {
	return types.Any(types.XPath(fmt.Sprintf("//table[@id='gridResults']/tbody/tr[%d]", row.Index)))
}

func (l *LoudounAdapter) Viewer() types.ViewerSurface {
	return types.ViewerSurface{
		Mode:  types.DetailInPlace,
		Ready: types.Any(types.CSS("#viewerContainer .page"), types.CSS("#viewerContainer canvas")),
		Close: types.Any(types.CSS("#btnCloseViewer")),
		Strategies: []types.Strategy{
			{
				Name:   "save-image",
				Format: types.ArtifactPDF,
				Sources: []types.URLSource{
					{Target: types.Any(types.CSS("#lnkSaveImage")), Attr: "href"},
				},
			},
			{
				Name:   "pdf-link",
				Format: types.ArtifactPDF,
				Sources: []types.URLSource{
					{Target: types.Any(types.XPath("//a[contains(@href, '.pdf') or contains(@href, 'PDF')]")), Attr: "href"},
				},
			},
		},
	}
}

var _ types.PortalAdapter = (*LoudounAdapter)(nil)
