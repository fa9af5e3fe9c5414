package extractor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"
	"landrecord-extractor/adapters"
	"landrecord-extractor/internal/types"
	"landrecord-extractor/utils"
)

// fakeDriver is a scripted browsing context. Elements are keyed by locator query.
type fakeDriver struct {
	mu sync.Mutex

	url      string
	present  map[string]bool
	hidden   map[string]bool
	attrs    map[string]map[string]string
	html     map[string]string
	values   map[string][]string
	onClick  map[string]func()
	opens    map[string]func() *fakeDriver
	openURL  func(url string) *fakeDriver
	cookies  []*http.Cookie
	gen      int
	stamps   map[string]int
	clicks   []string
	opened   int
	focused  int
	closed   bool
	parent   *fakeDriver
	child    *fakeDriver
	navigate []string
}

var _ types.Driver = (*fakeDriver)(nil)

func newFakeDriver(url string) *fakeDriver {
	return &fakeDriver{
		url:     url,
		present: map[string]bool{},
		hidden:  map[string]bool{},
		attrs:   map[string]map[string]string{},
		html:    map[string]string{},
		values:  map[string][]string{},
		onClick: map[string]func(){},
		opens:   map[string]func() *fakeDriver{},
		stamps:  map[string]int{},
	}
}

func (f *fakeDriver) show(queries ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, q := range queries {
		f.present[q] = true
	}
}

func (f *fakeDriver) remove(queries ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, q := range queries {
		delete(f.present, q)
	}
}

func (f *fakeDriver) setAttr(query, name, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.present[query] = true
	if f.attrs[query] == nil {
		f.attrs[query] = map[string]string{}
	}
	f.attrs[query][name] = value
}

// setHTML replaces the markup of an element, which invalidates earlier stamps.
func (f *fakeDriver) setHTML(query, html string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.present[query] = true
	f.html[query] = html
	f.gen++
}

func (f *fakeDriver) on(query string, fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onClick[query] = fn
}

func (f *fakeDriver) value(query string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[query]
}

func (f *fakeDriver) clicked(query string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.clicks {
		if c == query {
			n++
		}
	}
	return n
}

func (f *fakeDriver) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeDriver) Navigate(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.url = url
	f.navigate = append(f.navigate, url)
	return ctx.Err()
}

func (f *fakeDriver) CurrentURL(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url, nil
}

func (f *fakeDriver) Present(ctx context.Context, loc types.Locator) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.present[loc.Query], nil
}

func (f *fakeDriver) Visible(ctx context.Context, loc types.Locator) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.present[loc.Query] && !f.hidden[loc.Query], nil
}

func (f *fakeDriver) click(loc types.Locator, tag string) error {
	f.mu.Lock()
	if !f.present[loc.Query] {
		f.mu.Unlock()
		return types.ErrNotFound
	}
	f.clicks = append(f.clicks, tag+loc.Query)
	fn := f.onClick[loc.Query]
	f.mu.Unlock()

	if fn != nil {
		fn()
	}
	return nil
}

func (f *fakeDriver) Click(ctx context.Context, loc types.Locator) error {
	return f.click(loc, "")
}

func (f *fakeDriver) DoubleClick(ctx context.Context, loc types.Locator) error {
	return f.click(loc, "dbl:")
}

func (f *fakeDriver) setValues(loc types.Locator, values []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.present[loc.Query] {
		return types.ErrNotFound
	}
	f.values[loc.Query] = append([]string(nil), values...)
	return nil
}

func (f *fakeDriver) Type(ctx context.Context, loc types.Locator, text string) error {
	return f.setValues(loc, []string{text})
}

func (f *fakeDriver) SetValue(ctx context.Context, loc types.Locator, value string) error {
	return f.setValues(loc, []string{value})
}

func (f *fakeDriver) Select(ctx context.Context, loc types.Locator, values ...string) error {
	return f.setValues(loc, values)
}

func (f *fakeDriver) Attribute(ctx context.Context, loc types.Locator, name string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.present[loc.Query] {
		return "", false, types.ErrNotFound
	}
	v, ok := f.attrs[loc.Query][name]
	return v, ok, nil
}

func (f *fakeDriver) Text(ctx context.Context, loc types.Locator) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.present[loc.Query] {
		return "", types.ErrNotFound
	}
	return f.attrs[loc.Query]["text"], nil
}

func (f *fakeDriver) OuterHTML(ctx context.Context, loc types.Locator) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.present[loc.Query] {
		return "", types.ErrNotFound
	}
	return f.html[loc.Query], nil
}

func (f *fakeDriver) PageSource(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var b strings.Builder
	for _, h := range f.html {
		b.WriteString(h)
	}
	return b.String(), nil
}

func (f *fakeDriver) Stamp(ctx context.Context, loc types.Locator) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stamp := fmt.Sprintf("stamp-%d", len(f.stamps)+1)
	f.stamps[stamp] = f.gen
	return stamp, nil
}

func (f *fakeDriver) Stale(ctx context.Context, loc types.Locator, stamp string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gen, ok := f.stamps[stamp]
	return !ok || gen != f.gen, nil
}

func (f *fakeDriver) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*http.Cookie, len(f.cookies))
	for i, c := range f.cookies {
		cp := *c
		out[i] = &cp
	}
	return out, nil
}

func (f *fakeDriver) adopt(child *fakeDriver) (types.Driver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.child != nil {
		return nil, types.ErrContextBusy
	}
	child.parent = f
	f.child = child
	f.opened++
	return child, nil
}

func (f *fakeDriver) OpenByClick(ctx context.Context, loc types.Locator) (types.Driver, error) {
	f.mu.Lock()
	factory := f.opens[loc.Query]
	present := f.present[loc.Query]
	f.mu.Unlock()
	if !present || factory == nil {
		return nil, types.ErrNotFound
	}
	return f.adopt(factory())
}

func (f *fakeDriver) OpenURL(ctx context.Context, url string) (types.Driver, error) {
	f.mu.Lock()
	factory := f.openURL
	f.mu.Unlock()
	if factory == nil {
		return nil, fmt.Errorf("no page at %s", url)
	}
	return f.adopt(factory(url))
}

func (f *fakeDriver) Focus(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.focused++
	return nil
}

func (f *fakeDriver) Close() error {
	f.mu.Lock()
	f.closed = true
	parent := f.parent
	f.mu.Unlock()

	if parent != nil {
		parent.mu.Lock()
		if parent.child == f {
			parent.child = nil
		}
		parent.mu.Unlock()
	}
	return nil
}

// testAdapter is a portal with a plain table grid and a new-tab viewer.
type testAdapter struct {
	*adapters.BaseAdapter
	login  types.LoginSurface
	viewer types.ViewerSurface
}

func newTestAdapter() *testAdapter {
	base := adapters.NewBaseAdapter("testportal", adapters.Options{}, adapters.TableLayout{DetailIcon: "a.detail"}, 2, 3)
	base.RegisterFilter("last_name", types.Any(types.CSS("#lastname")))
	return &testAdapter{
		BaseAdapter: base,
		login: types.LoginSurface{
			URL:            "https://portal.test/login",
			Username:       types.Any(types.CSS("#user")),
			Password:       types.Any(types.CSS("#pass")),
			Submit:         types.Any(types.CSS("#login")),
			SuccessMarker:  types.Any(types.CSS("#welcome")),
			ConflictMarker: types.Any(types.CSS("#conflict")),
			ForceLogoff:    types.Any(types.CSS("#force")),
		},
		viewer: types.ViewerSurface{
			Mode:  types.DetailNewTab,
			Ready: types.Any(types.CSS("#viewer")),
			Strategies: []types.Strategy{
				{
					Name:    "pdf-link",
					Format:  types.ArtifactPDF,
					Sources: []types.URLSource{{Target: types.Any(types.CSS("a.pdf")), Attr: "href"}},
				},
				{
					Name:    "tiff-image",
					Format:  types.ArtifactTIFF,
					Switch:  &types.FormAction{Name: "viewer format", Kind: types.ActionSelect, Target: types.Any(types.CSS("#format")), Values: []string{"TIFF"}, Optional: true},
					Sources: []types.URLSource{{Target: types.Any(types.CSS("img.page")), Attr: "src"}},
				},
			},
		},
	}
}

func (a *testAdapter) DefaultDocumentTypes() []string { return []string{"LP", "ST"} }

func (a *testAdapter) Login() types.LoginSurface { return a.login }

func (a *testAdapter) Search() types.SearchSurface {
	return types.SearchSurface{URL: "https://portal.test/search", Submit: types.Any(types.CSS("#search"))}
}

func (a *testAdapter) CriteriaActions(c types.SearchCriteria) []types.FormAction {
	actions := []types.FormAction{
		{Name: "document types", Kind: types.ActionSelect, Target: types.Any(types.CSS("#doctypes")), Values: c.DocumentTypes},
		{Name: "start date", Kind: types.ActionType, Target: types.Any(types.CSS("#from")), Values: []string{c.StartDate.Format("01/02/2006")}},
		{Name: "end date", Kind: types.ActionType, Target: types.Any(types.CSS("#to")), Values: []string{c.EndDate.Format("01/02/2006")}},
	}
	return append(actions, a.FilterActions(c)...)
}

func (a *testAdapter) Results() types.ResultSurface {
	return types.ResultSurface{
		Table:           types.Any(types.CSS("#missing-grid"), types.CSS("#results")),
		NoResultsMarker: types.Any(types.CSS("#noresults")),
		NextPage:        types.Any(types.CSS("#next")),
	}
}

func (a *testAdapter) DetailLocator(row types.ResultRow) types.Locators {
	return types.Any(types.CSS(detailQuery(row.Index)))
}

func (a *testAdapter) Viewer() types.ViewerSurface { return a.viewer }

func detailQuery(index int) string {
	return fmt.Sprintf("#results tbody tr:nth-child(%d) a.detail", index)
}

// rowDef scripts one result row and what its viewer offers.
type rowDef struct {
	docType    string
	instrument string
	recorded   string
	icon       bool
	pdf        string // href of the PDF link in the viewer
	tiff       string // src of the page image in the viewer
}

func tableHTML(rows []rowDef) string {
	var b strings.Builder
	b.WriteString(`<table id="results"><thead><tr>`)
	b.WriteString(`<th style="display: none">Id</th><th>Image</th><th>Doc Type</th><th>Instrument</th><th>Recorded</th>`)
	b.WriteString(`</tr></thead><tbody>`)
	for i, r := range rows {
		icon := ""
		if r.icon {
			icon = `<a class="detail" href="#">view</a>`
		}
		fmt.Fprintf(&b, `<tr><td style="display: none">%d</td><td>%s</td><td>%s</td><td>%s</td><td>%s</td></tr>`,
			900+i, icon, r.docType, r.instrument, r.recorded)
	}
	b.WriteString(`</tbody></table>`)
	return b.String()
}

// fakePortal wires a primary fakeDriver into a login, search and paginated results flow.
type fakePortal struct {
	t       *testing.T
	driver  *fakeDriver
	pages   [][]rowDef
	current int
	base    string
	viewers []*fakeDriver
	mu      sync.Mutex
}

func newFakePortal(t *testing.T, base string, pages ...[]rowDef) *fakePortal {
	p := &fakePortal{t: t, driver: newFakeDriver("about:blank"), pages: pages, base: base}
	d := p.driver
	d.cookies = []*http.Cookie{{Name: "ASP.NET_SessionId", Value: "session-1"}}
	d.show("#user", "#pass", "#login", "#doctypes", "#from", "#to", "#lastname", "#search")
	d.on("#login", func() { d.show("#welcome") })
	d.on("#search", func() {
		if len(p.pages) == 0 {
			d.show("#noresults")
			return
		}
		p.showPage(0)
	})
	d.on("#next", func() { p.showPage(p.current + 1) })
	return p
}

func (p *fakePortal) showPage(i int) {
	d := p.driver
	for idx := range p.pages[p.current] {
		d.remove(detailQuery(idx + 1))
	}
	p.current = i
	rows := p.pages[i]
	d.setHTML("#results", tableHTML(rows))
	for idx, r := range rows {
		if !r.icon {
			continue
		}
		q := detailQuery(idx + 1)
		d.show(q)
		row := r
		d.mu.Lock()
		d.opens[q] = func() *fakeDriver { return p.viewer(row) }
		d.mu.Unlock()
	}
	if i == len(p.pages)-1 {
		d.setAttr("#next", "class", "k-link k-pager-nav k-disabled")
	} else {
		d.setAttr("#next", "class", "k-link k-pager-nav")
	}
}

func (p *fakePortal) viewer(r rowDef) *fakeDriver {
	v := newFakeDriver(p.base + "/viewer/" + r.instrument)
	v.cookies = []*http.Cookie{{Name: "ASP.NET_SessionId", Value: "session-1"}, {Name: "viewer", Value: r.instrument}}
	v.show("#viewer")
	if r.pdf != "" {
		v.setAttr("a.pdf", "href", r.pdf)
	}
	if r.tiff != "" {
		v.show("#format")
		v.setAttr("img.page", "src", r.tiff)
	}
	p.mu.Lock()
	p.viewers = append(p.viewers, v)
	p.mu.Unlock()
	return v
}

func (p *fakePortal) openedViewers() []*fakeDriver {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*fakeDriver(nil), p.viewers...)
}

func testConfig(t *testing.T) *types.Config {
	config := types.DefaultConfig()
	config.WaitTimeout = 150 * time.Millisecond
	config.PollInterval = 5 * time.Millisecond
	config.RetryDelay = 0
	config.RetryJitter = 0
	config.SearchTimeout = 150 * time.Millisecond
	config.LoginTimeout = 100 * time.Millisecond
	config.ActionTimeout = time.Second
	config.DownloadTimeout = 5 * time.Second
	config.DownloadRetries = 0
	config.RequestDelay = 0
	config.OutputDir = t.TempDir()
	return config
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

func pdfBytes(t *testing.T) []byte {
	t.Helper()
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Arial", "", 12)
	pdf.Cell(40, 10, "Lis pendens")
	var buf bytes.Buffer
	require.NoError(t, pdf.Output(&buf))
	return buf.Bytes()
}

func tiffBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 32, 16))
	for x := 0; x < 32; x++ {
		img.SetGray(x, 8, color.Gray{Y: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, tiff.Encode(&buf, img, nil))
	return buf.Bytes()
}

// documentServer serves PDF and TIFF documents to requests carrying the session cookie.
func documentServer(t *testing.T) (*httptest.Server, *int) {
	t.Helper()
	pdf := pdfBytes(t)
	tif := tiffBytes(t)
	var mu sync.Mutex
	hits := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		if c, err := r.Cookie("ASP.NET_SessionId"); err != nil || c.Value != "session-1" {
			http.Error(w, "login required", http.StatusUnauthorized)
			return
		}
		switch {
		case strings.HasSuffix(r.URL.Path, ".pdf"):
			w.Header().Set("Content-Type", "application/pdf")
			w.Write(pdf)
		case strings.HasSuffix(r.URL.Path, ".tif"):
			w.Header().Set("Content-Type", "image/tiff")
			w.Write(tif)
		case strings.HasSuffix(r.URL.Path, ".html"):
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte(`<html><body><form id="login"></form></body></html>`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

// newTestSession logs in to a fake portal and opens its search page.
func newTestSession(t *testing.T, config *types.Config, adapter types.PortalAdapter, portal *fakePortal) (*Session, *SessionController, *utils.Waiter) {
	t.Helper()
	logger := testLogger()
	waiter := utils.NewWaiter(config, logger)
	controller := NewSessionController(adapter, waiter, config, logger)
	session, err := controller.Login(context.Background(), portal.driver, types.Credentials{Username: "clerk", Password: "secret"})
	require.NoError(t, err)
	require.NoError(t, controller.OpenSearch(context.Background(), session))
	return session, controller, waiter
}
