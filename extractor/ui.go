package extractor

import (
	"context"
	"fmt"

	"landrecord-extractor/internal/types"
	"landrecord-extractor/utils"
)

// ui resolves fallback locators and runs declarative form actions under the waiter.
type ui struct {
	waiter *utils.Waiter
	logger types.Logger
}

// probe checks each locator once and returns the first that matches. Probe errors on one
// locator do not hide a match on another; they surface only when nothing matched.
func (u *ui) probe(ctx context.Context, d types.Driver, locs types.Locators, visible bool) (types.Locator, bool, error) {
	var lastErr error
	for _, loc := range locs {
		var ok bool
		var err error
		if visible {
			ok, err = d.Visible(ctx, loc)
		} else {
			ok, err = d.Present(ctx, loc)
		}
		if err != nil {
			lastErr = err
			continue
		}
		if ok {
			return loc, true, nil
		}
	}
	return types.Locator{}, false, lastErr
}

// resolve waits until one of locs matches.
func (u *ui) resolve(ctx context.Context, d types.Driver, name string, locs types.Locators, visible bool, opts ...utils.WaitOption) (types.Locator, error) {
	if locs.Empty() {
		return types.Locator{}, fmt.Errorf("%s: no locator configured: %w", name, types.ErrNotFound)
	}
	loc, result := utils.AwaitValue(ctx, u.waiter, name, func(ctx context.Context) (types.Locator, bool, error) {
		return u.probe(ctx, d, locs, visible)
	}, opts...)
	if !result.OK() {
		return types.Locator{}, result.Err()
	}
	return loc, nil
}

// perform runs one form action. Optional actions get a single attempt and never fail.
func (u *ui) perform(ctx context.Context, d types.Driver, action types.FormAction) error {
	var opts []utils.WaitOption
	if action.Optional {
		opts = append(opts, utils.WithRetries(1))
	}

	err := u.do(ctx, d, action, opts...)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if action.Optional {
		u.logger.Debugf("Skipping optional step %q: %v", action.Name, err)
		return nil
	}
	return fmt.Errorf("%s: %w", action.Name, err)
}

func (u *ui) do(ctx context.Context, d types.Driver, action types.FormAction, opts ...utils.WaitOption) error {
	if action.Kind == types.ActionNavigate {
		result := u.waiter.Await(ctx, action.Name, func(ctx context.Context) (bool, error) {
			if err := d.Navigate(ctx, action.URL); err != nil {
				return false, err
			}
			return true, nil
		}, opts...)
		return result.Err()
	}
	if action.Target.Empty() {
		return fmt.Errorf("no locator configured: %w", types.ErrNotFound)
	}

	visible := action.Kind == types.ActionClick || action.Kind == types.ActionDoubleClick || action.Kind == types.ActionWaitVisible
	result := u.waiter.Await(ctx, action.Name, func(ctx context.Context) (bool, error) {
		loc, ok, err := u.probe(ctx, d, action.Target, visible)
		if err != nil || !ok {
			return false, err
		}
		if err := apply(ctx, d, loc, action); err != nil {
			return false, err
		}
		return true, nil
	}, opts...)
	return result.Err()
}

func apply(ctx context.Context, d types.Driver, loc types.Locator, action types.FormAction) error {
	switch action.Kind {
	case types.ActionClick:
		return d.Click(ctx, loc)
	case types.ActionDoubleClick:
		return d.DoubleClick(ctx, loc)
	case types.ActionType:
		return d.Type(ctx, loc, action.Value())
	case types.ActionSetValue:
		return d.SetValue(ctx, loc, action.Value())
	case types.ActionSelect:
		return d.Select(ctx, loc, action.Values...)
	case types.ActionWaitVisible:
		return nil
	}
	return fmt.Errorf("unsupported action kind %d", action.Kind)
}
