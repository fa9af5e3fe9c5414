package extractor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"landrecord-extractor/internal/types"
	"landrecord-extractor/utils"
)

// Paginator submits one search and enumerates its result pages forward only.
type Paginator struct {
	session *Session
	adapter types.PortalAdapter
	ui      *ui
	config  *types.Config
	logger  types.Logger

	submitted bool
	done      bool
	criteria  types.SearchCriteria
	page      int
	headers   []types.Header
	tableLoc  types.Locator
	stamp     string
	lastSig   string
}

// NewPaginator creates a paginator bound to a session.
func NewPaginator(session *Session, adapter types.PortalAdapter, waiter *utils.Waiter, config *types.Config, logger types.Logger) *Paginator {
	return &Paginator{
		session: session,
		adapter: adapter,
		ui:      &ui{waiter: waiter, logger: logger},
		config:  config,
		logger:  logger,
	}
}

// Headers returns the header row established by the first page.
func (p *Paginator) Headers() []types.Header {
	return p.headers
}

// Criteria returns the submitted criteria.
func (p *Paginator) Criteria() types.SearchCriteria {
	return p.criteria.Clone()
}

type resultsState int

const (
	resultsTable resultsState = iota
	resultsEmpty
)

// Submit fills the search form and returns the first page. An empty result set is
// types.ErrNoResults; a table that never appears is a *types.SearchTimeoutError.
func (p *Paginator) Submit(ctx context.Context, criteria types.SearchCriteria) (*types.ResultPage, error) {
	if p.submitted {
		return nil, types.ErrAlreadySubmitted
	}
	p.submitted = true
	p.criteria = criteria.Clone()
	driver := p.session.Driver()

	for _, action := range p.adapter.CriteriaActions(p.criteria) {
		if err := p.ui.perform(ctx, driver, action); err != nil {
			p.done = true
			return nil, p.searchErr(ctx, err)
		}
	}
	submit := types.FormAction{Name: "search submit", Kind: types.ActionClick, Target: p.adapter.Search().Submit}
	if err := p.ui.perform(ctx, driver, submit); err != nil {
		p.done = true
		return nil, p.searchErr(ctx, err)
	}
	p.logger.Infof("Search submitted for %v from %s to %s", p.criteria.DocumentTypes,
		p.criteria.StartDate.Format("2006-01-02"), p.criteria.EndDate.Format("2006-01-02"))

	surface := p.adapter.Results()
	state, result := utils.AwaitValue(ctx, p.ui.waiter, "search results", func(ctx context.Context) (resultsState, bool, error) {
		loc, ok, err := p.ui.probe(ctx, driver, surface.Table, false)
		if err != nil {
			return 0, false, err
		}
		if ok {
			p.tableLoc = loc
			return resultsTable, true, nil
		}
		if !surface.NoResultsMarker.Empty() {
			if _, ok, _ := p.ui.probe(ctx, driver, surface.NoResultsMarker, false); ok {
				return resultsEmpty, true, nil
			}
		}
		return 0, false, nil
	}, utils.WithTimeout(p.config.SearchTimeout))

	if !result.OK() {
		p.done = true
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if result.Outcome == types.WaitTimeout {
			return nil, &types.SearchTimeoutError{Err: result.Err()}
		}
		return nil, &types.SearchError{Err: result.Err()}
	}
	if state == resultsEmpty {
		p.done = true
		return nil, types.ErrNoResults
	}

	page, err := p.read(ctx, 1)
	if err != nil {
		p.done = true
		return nil, p.searchErr(ctx, err)
	}
	if len(page.Rows) == 0 {
		p.done = true
		return nil, types.ErrNoResults
	}
	p.accept(ctx, page)
	return page, nil
}

// Next advances to the following page. It returns types.ErrEndOfResults once the
// pagination control is missing or disabled.
func (p *Paginator) Next(ctx context.Context) (*types.ResultPage, error) {
	if !p.submitted {
		return nil, types.ErrNotSubmitted
	}
	if p.done {
		return nil, types.ErrEndOfResults
	}
	driver := p.session.Driver()
	surface := p.adapter.Results()

	next, ok, err := p.ui.probe(ctx, driver, surface.NextPage, false)
	if err != nil {
		p.done = true
		return nil, p.searchErr(ctx, fmt.Errorf("locate next page control: %w", err))
	}
	if !ok {
		p.done = true
		return nil, types.ErrEndOfResults
	}
	disabled, err := p.disabled(ctx, driver, next)
	if err != nil {
		p.done = true
		return nil, p.searchErr(ctx, err)
	}
	if disabled {
		p.logger.Debugf("Next page control disabled after page %d", p.page)
		p.done = true
		return nil, types.ErrEndOfResults
	}

	click := types.FormAction{Name: "next page", Kind: types.ActionClick, Target: types.Any(next)}
	if err := p.ui.perform(ctx, driver, click); err != nil {
		p.done = true
		return nil, p.searchErr(ctx, err)
	}

	// The previous page must leave the DOM before the new one is read.
	if p.stamp != "" {
		stale := p.ui.waiter.Await(ctx, "previous page stale", func(ctx context.Context) (bool, error) {
			return driver.Stale(ctx, p.tableLoc, p.stamp)
		})
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !stale.OK() {
			p.logger.Debugf("Previous page never went stale (%s); relying on row comparison", stale.Outcome)
		}
	}

	number := p.page + 1
	page, result := utils.AwaitValue(ctx, p.ui.waiter, fmt.Sprintf("results page %d", number), func(ctx context.Context) (*types.ResultPage, bool, error) {
		loc, ok, err := p.ui.probe(ctx, driver, surface.Table, false)
		if err != nil || !ok {
			return nil, false, err
		}
		p.tableLoc = loc
		page, err := p.read(ctx, number)
		if err != nil {
			return nil, false, err
		}
		// An empty body after an enabled next control is a loading grid, not the end.
		if len(page.Rows) == 0 || signature(page) == p.lastSig {
			return nil, false, nil
		}
		return page, true, nil
	})
	if !result.OK() {
		p.done = true
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &types.SearchError{Err: fmt.Errorf("page %d did not load: %w", number, result.Err())}
	}
	p.accept(ctx, page)
	return page, nil
}

// read parses the current table into a page. The first page fixes the header row.
func (p *Paginator) read(ctx context.Context, number int) (*types.ResultPage, error) {
	html, err := p.session.Driver().OuterHTML(ctx, p.tableLoc)
	if err != nil {
		return nil, err
	}
	parsed, err := p.adapter.ParseResults(html)
	if err != nil {
		return nil, err
	}

	headers := p.headers
	if headers == nil {
		headers = parsed.Headers
	}
	page := &types.ResultPage{Number: number, Headers: headers}
	for i, pr := range parsed.Rows {
		row := types.ResultRow{
			Page:  number,
			Index: i + 1,
			Cells: append([]types.Cell(nil), pr.Cells...),
		}
		if pr.HasDetail {
			row.Detail = types.DetailRef{
				Present: true,
				Locator: p.adapter.DetailLocator(row),
				Href:    pr.DetailHref,
			}
		}
		page.Rows = append(page.Rows, row)
	}
	return page, nil
}

func (p *Paginator) accept(ctx context.Context, page *types.ResultPage) {
	if p.headers == nil {
		p.headers = page.Headers
	}
	p.page = page.Number
	p.lastSig = signature(page)

	stamp, err := p.session.Driver().Stamp(ctx, firstRowLocator(p.tableLoc))
	if err != nil {
		p.logger.Debugf("Could not mark page %d rows: %v", page.Number, err)
		stamp = ""
	}
	p.stamp = stamp
	p.logger.Infof("Read results page %d (%d rows)", page.Number, len(page.Rows))
}

// disabled reports whether a pagination control is switched off.
func (p *Paginator) disabled(ctx context.Context, driver types.Driver, loc types.Locator) (bool, error) {
	class, _, err := driver.Attribute(ctx, loc, "class")
	if err != nil {
		return false, err
	}
	if strings.Contains(strings.ToLower(class), "disabled") {
		return true, nil
	}
	if _, has, err := driver.Attribute(ctx, loc, "disabled"); err != nil {
		return false, err
	} else if has {
		return true, nil
	}
	aria, _, err := driver.Attribute(ctx, loc, "aria-disabled")
	if err != nil {
		return false, err
	}
	return strings.EqualFold(aria, "true"), nil
}

func (p *Paginator) searchErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var timeout *types.SearchTimeoutError
	if errors.As(err, &timeout) {
		return err
	}
	return &types.SearchError{Err: err}
}

// firstRowLocator targets the first body row of a table. Grids usually swap rows
// rather than the table element when paging.
func firstRowLocator(table types.Locator) types.Locator {
	if table.Kind == types.ByXPath {
		return types.XPath(fmt.Sprintf("(%s//tr[td])[1]", table.Query))
	}
	return types.CSS(table.Query + " tbody tr")
}

func signature(page *types.ResultPage) string {
	sigs := make([]string, len(page.Rows))
	for i, r := range page.Rows {
		sigs[i] = r.Signature()
	}
	return strings.Join(sigs, "\x1e")
}
