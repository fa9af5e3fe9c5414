package extractor

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"landrecord-extractor/internal/types"
	"landrecord-extractor/utils"
)

// AuthStatus is how the post-login page was classified.
type AuthStatus int

const (
	AuthOK AuthStatus = iota
	// AuthStatusUnclear: neither marker appeared; the run proceeds as if logged in.
	AuthStatusUnclear
	AuthConflictResolved
	// AuthConflictUnresolved: another session could not be logged off. Not fatal.
	AuthConflictUnresolved
)

func (s AuthStatus) String() string {
	switch s {
	case AuthOK:
		return "ok"
	case AuthStatusUnclear:
		return "unclear"
	case AuthConflictResolved:
		return "conflict_resolved"
	case AuthConflictUnresolved:
		return "conflict_unresolved"
	}
	return "unknown"
}

// Session is one authenticated browsing session. Only SessionController mutates it.
type Session struct {
	Portal   string
	Status   AuthStatus
	Conflict error // *types.AuthConflictError when Status is AuthConflictUnresolved

	driver     types.Driver
	cookies    []*http.Cookie
	capturedAt time.Time
}

// Driver returns the primary browsing context.
func (s *Session) Driver() types.Driver {
	return s.driver
}

// Cookies returns a copy of the last cookie snapshot.
func (s *Session) Cookies() []*http.Cookie {
	out := make([]*http.Cookie, len(s.cookies))
	for i, c := range s.cookies {
		cp := *c
		out[i] = &cp
	}
	return out
}

// CapturedAt is when the cookie snapshot was taken.
func (s *Session) CapturedAt() time.Time {
	return s.capturedAt
}

// SessionController logs in and keeps the session's cookie snapshot current.
type SessionController struct {
	adapter types.PortalAdapter
	ui      *ui
	config  *types.Config
	logger  types.Logger
	now     func() time.Time
}

// NewSessionController creates a controller for one portal.
func NewSessionController(adapter types.PortalAdapter, waiter *utils.Waiter, config *types.Config, logger types.Logger) *SessionController {
	return &SessionController{
		adapter: adapter,
		ui:      &ui{waiter: waiter, logger: logger},
		config:  config,
		logger:  logger,
		now:     time.Now,
	}
}

type loginPage int

const (
	pageUnclear loginPage = iota
	pageSuccess
	pageConflict
)

// Login authenticates on driver. Only a missing login surface is fatal; conflicts that
// cannot be resolved and unclear outcomes are reported on the session.
func (c *SessionController) Login(ctx context.Context, driver types.Driver, creds types.Credentials) (*Session, error) {
	surface := c.adapter.Login()
	session := &Session{Portal: c.adapter.Name(), driver: driver}

	if surface.URL != "" {
		c.logger.Infof("Opening %s login page", session.Portal)
		if err := c.ui.perform(ctx, driver, types.FormAction{Name: "open login page", Kind: types.ActionNavigate, URL: surface.URL}); err != nil {
			return nil, c.fatal(ctx, "login navigation", err)
		}
	}

	for _, action := range surface.PreLogin {
		if err := c.ui.perform(ctx, driver, action); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warnf("Pre-login step failed, continuing: %v", err)
		}
	}

	if err := c.submitCredentials(ctx, driver, surface, creds); err != nil {
		return nil, c.fatal(ctx, "login", err)
	}

	page := c.classify(ctx, driver, surface)
	switch page {
	case pageSuccess:
		session.Status = AuthOK
	case pageConflict:
		c.resolveConflict(ctx, driver, surface, creds, session)
	default:
		session.Status = AuthStatusUnclear
		c.logger.Warnf("Could not confirm %s login; proceeding", session.Portal)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if _, err := c.Snapshot(ctx, session, driver); err != nil {
		c.logger.Warnf("Failed to snapshot cookies after login: %v", err)
	}
	c.logger.Infof("Logged in to %s (status: %s)", session.Portal, session.Status)
	return session, nil
}

func (c *SessionController) fatal(ctx context.Context, stage string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &types.FatalSessionError{Stage: stage, Err: err}
}

func (c *SessionController) submitCredentials(ctx context.Context, driver types.Driver, surface types.LoginSurface, creds types.Credentials) error {
	steps := []types.FormAction{
		{Name: "username field", Kind: types.ActionType, Target: surface.Username, Values: []string{creds.Username}},
		{Name: "password field", Kind: types.ActionType, Target: surface.Password, Values: []string{creds.Password}},
		{Name: "login submit", Kind: types.ActionClick, Target: surface.Submit},
	}
	for _, step := range steps {
		if err := c.ui.perform(ctx, driver, step); err != nil {
			return err
		}
	}
	return nil
}

// classify waits a bounded time for either marker. Conflict wins when both show.
func (c *SessionController) classify(ctx context.Context, driver types.Driver, surface types.LoginSurface) loginPage {
	if surface.SuccessMarker.Empty() && surface.ConflictMarker.Empty() {
		return pageUnclear
	}
	page, result := utils.AwaitValue(ctx, c.ui.waiter, "login outcome", func(ctx context.Context) (loginPage, bool, error) {
		if !surface.ConflictMarker.Empty() {
			if _, ok, _ := c.ui.probe(ctx, driver, surface.ConflictMarker, false); ok {
				return pageConflict, true, nil
			}
		}
		if !surface.SuccessMarker.Empty() {
			if _, ok, _ := c.ui.probe(ctx, driver, surface.SuccessMarker, false); ok {
				return pageSuccess, true, nil
			}
		}
		return pageUnclear, false, nil
	}, utils.WithTimeout(c.config.LoginTimeout), utils.WithRetries(1))
	if !result.OK() {
		return pageUnclear
	}
	return page
}

// resolveConflict logs off the other session and resubmits the credentials once.
func (c *SessionController) resolveConflict(ctx context.Context, driver types.Driver, surface types.LoginSurface, creds types.Credentials, session *Session) {
	c.logger.Warnf("%s reports the user is already logged in elsewhere; forcing logoff", session.Portal)

	unresolved := func(err error) {
		session.Status = AuthConflictUnresolved
		session.Conflict = &types.AuthConflictError{Err: err}
		c.logger.Warnf("Session conflict not resolved, continuing: %v", err)
	}

	if surface.ForceLogoff.Empty() {
		unresolved(fmt.Errorf("portal offers no logoff control"))
		return
	}
	if err := c.ui.perform(ctx, driver, types.FormAction{Name: "force logoff", Kind: types.ActionClick, Target: surface.ForceLogoff}); err != nil {
		unresolved(err)
		return
	}
	if err := c.submitCredentials(ctx, driver, surface, creds); err != nil {
		unresolved(err)
		return
	}

	switch c.classify(ctx, driver, surface) {
	case pageSuccess:
		session.Status = AuthConflictResolved
	case pageConflict:
		unresolved(fmt.Errorf("conflict persisted after forced logoff"))
	default:
		session.Status = AuthStatusUnclear
		c.logger.Warnf("Could not confirm %s login after forced logoff; proceeding", session.Portal)
	}
}

// OpenSearch navigates from a fresh session to the search form.
func (c *SessionController) OpenSearch(ctx context.Context, session *Session) error {
	surface := c.adapter.Search()
	if surface.URL != "" {
		if err := c.ui.perform(ctx, session.driver, types.FormAction{Name: "open search page", Kind: types.ActionNavigate, URL: surface.URL}); err != nil {
			return c.fatal(ctx, "search navigation", err)
		}
	}
	for _, action := range surface.Setup {
		if err := c.ui.perform(ctx, session.driver, action); err != nil {
			return c.fatal(ctx, "search navigation", err)
		}
	}
	return nil
}

// Snapshot re-reads cookies from the context that just navigated and stores them on the session.
func (c *SessionController) Snapshot(ctx context.Context, session *Session, from types.Driver) ([]*http.Cookie, error) {
	cookies, err := from.Cookies(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot cookies: %w", err)
	}
	session.cookies = cookies
	session.capturedAt = c.now()
	c.logger.Debugf("Captured %d cookie(s)", len(cookies))
	return session.Cookies(), nil
}
