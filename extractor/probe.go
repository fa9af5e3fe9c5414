package extractor

import (
	"context"

	"landrecord-extractor/internal/types"
	"landrecord-extractor/utils"
)

// ProbeResult is one locator checked against a live portal page.
type ProbeResult struct {
	Surface string        `json:"surface"`
	Element string        `json:"element"`
	Locator types.Locator `json:"-"`
	Query   string        `json:"locator"`
	Found   bool          `json:"found"`
}

type probeTarget struct {
	element string
	locs    types.Locators
}

// Probe reports which login locators resolve on the portal's login page. With
// credentials it also logs in and checks the search and result surfaces.
func Probe(ctx context.Context, driver types.Driver, adapter types.PortalAdapter, waiter *utils.Waiter,
	config *types.Config, logger types.Logger, creds *types.Credentials) ([]ProbeResult, error) {
	u := &ui{waiter: waiter, logger: logger}
	login := adapter.Login()

	if login.URL != "" {
		if err := u.perform(ctx, driver, types.FormAction{Name: "open login page", Kind: types.ActionNavigate, URL: login.URL}); err != nil {
			return nil, &types.FatalSessionError{Stage: "login navigation", Err: err}
		}
	}
	for _, action := range login.PreLogin {
		if err := u.perform(ctx, driver, action); err != nil {
			logger.Warnf("Pre-login step failed: %v", err)
		}
	}
	// Give the form a chance to render before checking each locator once.
	if _, err := u.resolve(ctx, driver, "login form", login.Username, false, utils.WithRetries(1)); err != nil {
		logger.Warnf("Login form did not appear: %v", err)
	}

	results := check(ctx, driver, "login", []probeTarget{
		{"username", login.Username},
		{"password", login.Password},
		{"submit", login.Submit},
	})
	if creds == nil || ctx.Err() != nil {
		return results, ctx.Err()
	}

	controller := NewSessionController(adapter, waiter, config, logger)
	session, err := controller.Login(ctx, driver, *creds)
	if err != nil {
		return results, err
	}
	results = append(results, check(ctx, driver, "session", []probeTarget{
		{"success marker", login.SuccessMarker},
		{"conflict marker", login.ConflictMarker},
	})...)

	if err := controller.OpenSearch(ctx, session); err != nil {
		return results, err
	}
	if _, err := u.resolve(ctx, driver, "search form", adapter.Search().Submit, false, utils.WithRetries(1)); err != nil {
		logger.Warnf("Search form did not appear: %v", err)
	}
	results = append(results, check(ctx, driver, "search", []probeTarget{
		{"submit", adapter.Search().Submit},
	})...)
	return results, ctx.Err()
}

func check(ctx context.Context, driver types.Driver, surface string, targets []probeTarget) []ProbeResult {
	var results []ProbeResult
	for _, target := range targets {
		for _, loc := range target.locs {
			found, err := driver.Present(ctx, loc)
			results = append(results, ProbeResult{
				Surface: surface,
				Element: target.element,
				Locator: loc,
				Query:   loc.String(),
				Found:   found && err == nil,
			})
		}
	}
	return results
}
