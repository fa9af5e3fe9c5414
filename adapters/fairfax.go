package adapters

import (
	"fmt"

	"landrecord-extractor/internal/types"
)

const (
	fairfaxLoginURL   = "https://www.fairfaxcounty.gov/myfairfax/auth/forms/ffx-choose-login.jsp"
	fairfaxSearchURL  = "https://ccr.fairfaxcounty.gov/cpan/"
	fairfaxTableXPath = "/html/body/div[1]/div/div/div[3]/table"
	fairfaxDateLayout = "01/02/2006"
)

// FairfaxAdapter handles the Fairfax County CPAN land records portal: a Kendo grid whose
// image icon opens a viewer tab with a TIFF/PDF format select.
type FairfaxAdapter struct {
	*BaseAdapter
}

// NewFairfaxAdapter creates a new Fairfax adapter
func NewFairfaxAdapter(opts Options) *FairfaxAdapter {
	base := NewBaseAdapter("fairfax", opts, TableLayout{
		HeaderTitle: "span.k-column-title",
		DetailIcon:  "img.imgIcon[src*='ImageIcon.gif']",
	}, 2, 3)
	base.RegisterFilter("subtype", types.Any(types.XPath("/html/body/div[1]/form/div/div/div[2]/div/div/div[2]/div/div[2]/div/div[4]/div/div/div[2]/div/select")))
	return &FairfaxAdapter{BaseAdapter: base}
}

// DefaultDocumentTypes returns lis pendens and substitute trustee deed codes.
func (f *FairfaxAdapter) DefaultDocumentTypes() []string {
	return []string{"LP", "ST"}
}

func (f *FairfaxAdapter) Login() types.LoginSurface {
	return types.LoginSurface{
		URL: f.opts.loginURL(fairfaxLoginURL),
		Username: types.Any(
			types.CSS("#username"),
			types.CSS("input[name='username']"),
			types.XPath("//input[@type='text']"),
		),
		Password: types.Any(
			types.CSS("#password"),
			types.CSS("input[name='password']"),
			types.XPath("//input[@type='password']"),
		),
		Submit: types.Any(
			types.XPath("//input[@type='submit']"),
			types.XPath("//button[@type='submit']"),
		),
		SuccessMarker: types.Any(
			types.XPath("//*[contains(text(), 'Welcome') or contains(text(), 'Dashboard') or contains(text(), 'MyFairfax')]"),
		),
	}
}

func (f *FairfaxAdapter) Search() types.SearchSurface {
	return types.SearchSurface{
		URL: f.opts.searchURL(fairfaxSearchURL),
		Setup: []types.FormAction{
			// The search panel may already be open.
			{Name: "open search panel", Kind: types.ActionClick, Target: types.Any(types.CSS("#SearchButton")), Optional: true},
			{Name: "land records", Kind: types.ActionClick, Target: types.Any(types.CSS("#SideMenu_LandRecords"))},
			{Name: "search by document type", Kind: types.ActionSelect, Target: types.Any(types.CSS("#LR_SearchType_SearchBy")), Values: []string{"3"}},
		},
		Submit: types.Any(types.CSS("#Search")),
	}
}

func (f *FairfaxAdapter) CriteriaActions(criteria types.SearchCriteria) []types.FormAction {
	actions := []types.FormAction{
		{Name: "document types", Kind: types.ActionSelect, Target: types.Any(types.CSS("#deedDocTypeDT")), Values: criteria.DocumentTypes},
		{Name: "all sub types", Kind: types.ActionSelect, Target: types.Any(types.XPath("/html/body/div[1]/form/div/div/div[2]/div/div/div[2]/div/div[2]/div/div[4]/div/div/div[2]/div/select")), Values: []string{""}, Optional: true},
		{Name: "custom date range", Kind: types.ActionSelect, Target: types.Any(types.CSS("#Search_LRStartDate")), Values: []string{"7 Days Ago"}, Optional: true},
		{Name: "start date", Kind: types.ActionSetValue, Target: types.Any(types.CSS("#LR_startdate")), Values: []string{criteria.StartDate.Format(fairfaxDateLayout)}},
		{Name: "end date", Kind: types.ActionSetValue, Target: types.Any(types.CSS("#LR_enddate")), Values: []string{criteria.EndDate.Format(fairfaxDateLayout)}},
	}
	return append(actions, f.FilterActions(criteria)...)
}

func (f *FairfaxAdapter) Results() types.ResultSurface {
	return types.ResultSurface{
		Table: types.Any(
			types.XPath(fairfaxTableXPath),
			types.CSS("div.k-grid table"),
		),
		NoResultsMarker: types.Any(types.CSS(".k-grid-norecords")),
		NextPage: types.Any(
			types.CSS("a.k-pager-nav[title='Go to the next page']"),
			types.CSS("button.k-pager-nav[title='Go to the next page']"),
		),
	}
}

// DetailLocator returns the image icon of the row. Data rows are contiguous in the grid body.
func (f *FairfaxAdapter) DetailLocator(row types.ResultRow) types.Locators {
	return types.Any(
		types.XPath(fmt.Sprintf("(%s//tbody/tr)[%d]//img[contains(@class, 'imgIcon') and contains(@src, 'ImageIcon.gif')]", fairfaxTableXPath, row.Index)),
		types.CSS(fmt.Sprintf("div.k-grid table tbody tr:nth-child(%d) img.imgIcon[src*='ImageIcon.gif']", row.Index)),
	)
}

func (f *FairfaxAdapter) Viewer() types.ViewerSurface {
	formatSelect := types.Any(types.CSS("#TIFForPDF"))
	return types.ViewerSurface{
		Mode:  types.DetailNewTab,
		Ready: formatSelect,
		Strategies: []types.Strategy{
			{
				Name:   "pdf-viewer",
				Format: types.ArtifactPDF,
				Switch: &types.FormAction{Name: "viewer pdf mode", Kind: types.ActionSelect, Target: formatSelect, Values: []string{"PDF"}},
				Sources: []types.URLSource{
					{Target: types.Any(types.CSS("#tiffImageViewer a[href$='.pdf']")), Attr: "href"},
					{Target: types.Any(types.CSS("#tiffImageViewer embed[type='application/pdf']")), Attr: "src"},
					{Target: types.Any(types.CSS("#tiffImageViewer iframe")), Attr: "src"},
				},
			},
			{
				Name:   "tiff-viewer",
				Format: types.ArtifactTIFF,
				Switch: &types.FormAction{Name: "viewer tiff mode", Kind: types.ActionSelect, Target: formatSelect, Values: []string{"TIFF"}},
				Sources: []types.URLSource{
					{Target: types.Any(types.CSS("#tiffImageViewer img.iv-large-image")), Attr: "src"},
				},
			},
		},
	}
}

var _ types.PortalAdapter = (*FairfaxAdapter)(nil)
