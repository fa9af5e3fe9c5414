package utils

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"landrecord-extractor/internal/types"
)

const stampAttr = "data-lre-stamp"

// resolveJS finds the first node for a css or xpath query.
const resolveJS = `function(kind, q) {
	if (kind === "xpath") {
		return document.evaluate(q, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	}
	return document.querySelector(q);
}`

// BrowserTab is one chromedp browsing context. The first tab owns the browser process;
// tabs opened from it are secondary and at most one of them is open at a time.
type BrowserTab struct {
	ctx    context.Context
	cancel context.CancelFunc
	config *types.Config
	logger types.Logger

	primary     bool
	allocCancel context.CancelFunc
	parent      *BrowserTab

	mu    sync.Mutex
	child *BrowserTab
}

// NewBrowser launches a browser and returns its primary tab.
func NewBrowser(ctx context.Context, config *types.Config, logger types.Logger) (*BrowserTab, error) {
	// Suppress chromedp debug logging
	log.SetOutput(io.Discard)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", config.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.UserAgent(config.UserAgent),
		chromedp.WindowSize(1920, 1080),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx, chromedp.WithErrorf(logger.Debugf))

	// Start the browser without navigating anywhere
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	logger.Debugf("Browser started (headless=%t)", config.Headless)
	return &BrowserTab{
		ctx:         browserCtx,
		cancel:      cancel,
		config:      config,
		logger:      logger,
		primary:     true,
		allocCancel: allocCancel,
	}, nil
}

// run executes actions on this tab, bounded by the action timeout and by ctx.
func (b *BrowserTab) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(b.ctx, b.config.ActionTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func queryOption(loc types.Locator) chromedp.QueryOption {
	if loc.Kind == types.ByXPath {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

// elementScript wraps body in a function where el is the node loc resolves to, or null.
func elementScript(loc types.Locator, body string) string {
	kind := "css"
	if loc.Kind == types.ByXPath {
		kind = "xpath"
	}
	k, _ := json.Marshal(kind)
	q, _ := json.Marshal(loc.Query)
	return fmt.Sprintf("(function() {\nconst el = (%s)(%s, %s);\n%s\n})()", resolveJS, k, q, body)
}

func (b *BrowserTab) eval(ctx context.Context, script string, res interface{}) error {
	return b.run(ctx, chromedp.Evaluate(script, res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithUserGesture(true)
	}))
}

// Navigate loads url in this tab.
func (b *BrowserTab) Navigate(ctx context.Context, url string) error {
	if err := b.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// CurrentURL returns the location of this tab.
func (b *BrowserTab) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := b.run(ctx, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

// Present reports whether loc matches a node.
func (b *BrowserTab) Present(ctx context.Context, loc types.Locator) (bool, error) {
	var ok bool
	err := b.eval(ctx, elementScript(loc, `return el !== null;`), &ok)
	return ok, err
}

// Visible reports whether loc matches a rendered, non-hidden node.
func (b *BrowserTab) Visible(ctx context.Context, loc types.Locator) (bool, error) {
	var ok bool
	err := b.eval(ctx, elementScript(loc, `
if (!el) return false;
const style = window.getComputedStyle(el);
if (style.display === "none" || style.visibility === "hidden") return false;
return !!(el.offsetWidth || el.offsetHeight || el.getClientRects().length);`), &ok)
	return ok, err
}

// Click performs a mouse click on loc.
func (b *BrowserTab) Click(ctx context.Context, loc types.Locator) error {
	if err := b.run(ctx, chromedp.Click(loc.Query, queryOption(loc))); err != nil {
		return fmt.Errorf("failed to click %s: %w", loc, err)
	}
	return nil
}

// DoubleClick performs a mouse double click on loc.
func (b *BrowserTab) DoubleClick(ctx context.Context, loc types.Locator) error {
	if err := b.run(ctx, chromedp.DoubleClick(loc.Query, queryOption(loc))); err != nil {
		return fmt.Errorf("failed to double click %s: %w", loc, err)
	}
	return nil
}

// Type clears the field and sends keystrokes.
func (b *BrowserTab) Type(ctx context.Context, loc types.Locator, text string) error {
	err := b.run(ctx,
		chromedp.Clear(loc.Query, queryOption(loc)),
		chromedp.SendKeys(loc.Query, text, queryOption(loc)),
	)
	if err != nil {
		return fmt.Errorf("failed to type into %s: %w", loc, err)
	}
	return nil
}

// SetValue assigns the value by script and fires input/change events.
func (b *BrowserTab) SetValue(ctx context.Context, loc types.Locator, value string) error {
	v, _ := json.Marshal(value)
	var found bool
	err := b.eval(ctx, elementScript(loc, fmt.Sprintf(`
if (!el) return false;
el.value = %s;
el.dispatchEvent(new Event("input", {bubbles: true}));
el.dispatchEvent(new Event("change", {bubbles: true}));
return true;`, v)), &found)
	if err != nil {
		return fmt.Errorf("failed to set value of %s: %w", loc, err)
	}
	if !found {
		return fmt.Errorf("set value of %s: %w", loc, types.ErrNotFound)
	}
	return nil
}

// Select chooses options by value or visible text.
func (b *BrowserTab) Select(ctx context.Context, loc types.Locator, values ...string) error {
	if values == nil {
		values = []string{}
	}
	v, _ := json.Marshal(values)
	var matched int
	err := b.eval(ctx, elementScript(loc, fmt.Sprintf(`
if (!el) return -1;
const wanted = %s;
let matched = 0;
for (const o of el.options) {
	const hit = wanted.includes(o.value) || wanted.includes(o.text.trim());
	if (el.multiple) {
		o.selected = hit;
	} else if (hit && matched === 0) {
		el.value = o.value;
	}
	if (hit) matched++;
}
el.dispatchEvent(new Event("change", {bubbles: true}));
return matched;`, v)), &matched)
	if err != nil {
		return fmt.Errorf("failed to select options of %s: %w", loc, err)
	}
	if matched < 0 {
		return fmt.Errorf("select options of %s: %w", loc, types.ErrNotFound)
	}
	if matched == 0 && len(values) > 0 {
		return fmt.Errorf("no option of %s matches %v", loc, values)
	}
	return nil
}

type attributeResult struct {
	Found bool   `json:"found"`
	Has   bool   `json:"has"`
	Value string `json:"value"`
}

// Attribute reads an attribute of the node loc matches.
func (b *BrowserTab) Attribute(ctx context.Context, loc types.Locator, name string) (string, bool, error) {
	n, _ := json.Marshal(name)
	var res attributeResult
	err := b.eval(ctx, elementScript(loc, fmt.Sprintf(`
if (!el) return {found: false, has: false, value: ""};
return {found: true, has: el.hasAttribute(%[1]s), value: el.getAttribute(%[1]s) || ""};`, n)), &res)
	if err != nil {
		return "", false, err
	}
	if !res.Found {
		return "", false, fmt.Errorf("attribute %s of %s: %w", name, loc, types.ErrNotFound)
	}
	return res.Value, res.Has, nil
}

type textResult struct {
	Found bool   `json:"found"`
	Text  string `json:"text"`
}

// Text returns the rendered text of the node loc matches.
func (b *BrowserTab) Text(ctx context.Context, loc types.Locator) (string, error) {
	return b.readString(ctx, loc, `el.innerText || el.textContent || ""`)
}

// OuterHTML returns the markup of the node loc matches.
func (b *BrowserTab) OuterHTML(ctx context.Context, loc types.Locator) (string, error) {
	return b.readString(ctx, loc, `el.outerHTML`)
}

func (b *BrowserTab) readString(ctx context.Context, loc types.Locator, expr string) (string, error) {
	var res textResult
	err := b.eval(ctx, elementScript(loc, fmt.Sprintf(`
if (!el) return {found: false, text: ""};
return {found: true, text: %s};`, expr)), &res)
	if err != nil {
		return "", err
	}
	if !res.Found {
		return "", fmt.Errorf("read %s: %w", loc, types.ErrNotFound)
	}
	return res.Text, nil
}

// PageSource returns the current document markup.
func (b *BrowserTab) PageSource(ctx context.Context) (string, error) {
	var html string
	if err := b.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to get page source: %w", err)
	}
	return html, nil
}

// Stamp marks the node loc matches so a later Stale call can tell whether it was replaced.
func (b *BrowserTab) Stamp(ctx context.Context, loc types.Locator) (string, error) {
	stamp := uuid.NewString()
	s, _ := json.Marshal(stamp)
	var found bool
	err := b.eval(ctx, elementScript(loc, fmt.Sprintf(`
if (!el) return false;
el.setAttribute(%q, %s);
return true;`, stampAttr, s)), &found)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("stamp %s: %w", loc, types.ErrNotFound)
	}
	return stamp, nil
}

// Stale reports whether the stamped node has left the document.
func (b *BrowserTab) Stale(ctx context.Context, loc types.Locator, stamp string) (bool, error) {
	sel, _ := json.Marshal(fmt.Sprintf(`[%s="%s"]`, stampAttr, stamp))
	var stale bool
	err := b.eval(ctx, fmt.Sprintf(`document.querySelector(%s) === null`, sel), &stale)
	return stale, err
}

// Cookies snapshots the cookies that apply to the current page.
func (b *BrowserTab) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	current, err := b.CurrentURL(ctx)
	if err != nil {
		return nil, err
	}

	var cookies []*network.Cookie
	err = b.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().WithUrls([]string{current}).Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}

	out := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		})
	}
	return out, nil
}

func (b *BrowserTab) reserveChild() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.child != nil {
		return types.ErrContextBusy
	}
	b.child = &BrowserTab{}
	return nil
}

func (b *BrowserTab) releaseChild() {
	b.mu.Lock()
	b.child = nil
	b.mu.Unlock()
}

func (b *BrowserTab) adopt(tabCtx context.Context, cancel context.CancelFunc) *BrowserTab {
	tab := &BrowserTab{
		ctx:    tabCtx,
		cancel: cancel,
		config: b.config,
		logger: b.logger,
		parent: b,
	}
	b.mu.Lock()
	b.child = tab
	b.mu.Unlock()
	return tab
}

// lateTabGrace bounds how long an abandoned click is watched for a tab that opens late.
const lateTabGrace = 2 * time.Second

// reapLate closes a tab that appears after OpenByClick gave up, then frees the child slot.
// The slot stays held meanwhile so the late tab cannot be mistaken for the next row's.
func (b *BrowserTab) reapLate(newTarget <-chan target.ID) {
	defer b.releaseChild()
	grace := min(lateTabGrace, b.config.ContextTimeout)
	if id, ok := closeLateTarget(newTarget, grace, func(id target.ID) error {
		closeCtx, cancel := context.WithTimeout(b.ctx, b.config.ActionTimeout)
		defer cancel()
		return chromedp.Run(closeCtx, chromedp.ActionFunc(func(ctx context.Context) error {
			return target.CloseTarget(id).Do(ctx)
		}))
	}); ok {
		b.logger.Debugf("Closed tab %s that opened after the click timed out", id)
	}
}

// closeLateTarget waits up to grace for a target on ch and closes it.
func closeLateTarget(ch <-chan target.ID, grace time.Duration, closeFn func(target.ID) error) (target.ID, bool) {
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case id, ok := <-ch:
		if !ok || id == "" {
			return "", false
		}
		if err := closeFn(id); err != nil {
			return id, false
		}
		return id, true
	case <-timer.C:
		return "", false
	}
}

// OpenByClick clicks loc and attaches to the tab the click opens.
func (b *BrowserTab) OpenByClick(ctx context.Context, loc types.Locator) (types.Driver, error) {
	if err := b.reserveChild(); err != nil {
		return nil, err
	}

	listenCtx, stopListening := context.WithCancel(b.ctx)
	defer stopListening()
	opener := chromedp.FromContext(b.ctx).Target.TargetID
	newTarget := chromedp.WaitNewTarget(listenCtx, func(info *target.Info) bool {
		return info.Type == "page" && info.OpenerID == opener
	})

	if err := b.Click(ctx, loc); err != nil {
		b.releaseChild()
		return nil, err
	}

	timer := time.NewTimer(b.config.ContextTimeout)
	defer timer.Stop()

	var id target.ID
	select {
	case id = <-newTarget:
	case <-timer.C:
		b.reapLate(newTarget)
		return nil, fmt.Errorf("no new tab opened by %s within %s", loc, b.config.ContextTimeout)
	case <-ctx.Done():
		b.reapLate(newTarget)
		return nil, ctx.Err()
	}

	tabCtx, cancel := chromedp.NewContext(b.ctx, chromedp.WithTargetID(id))
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		b.releaseChild()
		return nil, fmt.Errorf("failed to attach to new tab: %w", err)
	}
	b.logger.Debugf("Attached to tab %s opened by %s", id, loc)
	return b.adopt(tabCtx, cancel), nil
}

// OpenURL opens url in a new tab.
func (b *BrowserTab) OpenURL(ctx context.Context, url string) (types.Driver, error) {
	if err := b.reserveChild(); err != nil {
		return nil, err
	}

	tabCtx, cancel := chromedp.NewContext(b.ctx)
	tab := &BrowserTab{ctx: tabCtx, cancel: cancel, config: b.config, logger: b.logger}
	if err := tab.Navigate(ctx, url); err != nil {
		cancel()
		b.releaseChild()
		return nil, err
	}
	return b.adopt(tabCtx, cancel), nil
}

// Focus brings this tab to the front.
func (b *BrowserTab) Focus(ctx context.Context) error {
	if err := b.run(ctx, page.BringToFront()); err != nil {
		return fmt.Errorf("failed to focus tab: %w", err)
	}
	return nil
}

// Close closes a secondary tab, or the whole browser for the primary tab.
func (b *BrowserTab) Close() error {
	if b.primary {
		b.cancel()
		b.allocCancel()
		b.logger.Debugf("Browser closed")
		return nil
	}

	var err error
	if b.ctx.Err() == nil {
		closeCtx, cancel := context.WithTimeout(b.ctx, b.config.ActionTimeout)
		err = chromedp.Run(closeCtx, page.Close())
		cancel()
	}
	b.cancel()
	if b.parent != nil {
		b.parent.releaseChild()
	}
	if err != nil {
		return fmt.Errorf("failed to close tab: %w", err)
	}
	return nil
}

var _ types.Driver = (*BrowserTab)(nil)
