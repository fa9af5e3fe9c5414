package types

import (
	"context"
	"net/http"
	"strings"
)

// QueryKind selects how a Locator query is interpreted.
type QueryKind int

const (
	ByCSS QueryKind = iota
	ByXPath
)

// Locator is a single CSS or XPath query.
type Locator struct {
	Kind  QueryKind
	Query string
}

// CSS builds a CSS locator.
func CSS(query string) Locator { return Locator{Kind: ByCSS, Query: query} }

// XPath builds an XPath locator.
func XPath(query string) Locator { return Locator{Kind: ByXPath, Query: query} }

func (l Locator) String() string {
	if l.Kind == ByXPath {
		return "xpath:" + l.Query
	}
	return "css:" + l.Query
}

// Locators is an ordered fallback list; the first one that resolves wins.
type Locators []Locator

// Any builds a fallback list.
func Any(locs ...Locator) Locators { return Locators(locs) }

// Empty reports whether no locator is configured.
func (l Locators) Empty() bool { return len(l) == 0 }

func (l Locators) String() string {
	parts := make([]string, len(l))
	for i, loc := range l {
		parts[i] = loc.String()
	}
	return strings.Join(parts, " | ")
}

// Driver is the browser automation collaborator. Probes (Present, Visible, Stale)
// return immediately; bounded waiting is the caller's job.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)

	Present(ctx context.Context, loc Locator) (bool, error)
	Visible(ctx context.Context, loc Locator) (bool, error)

	Click(ctx context.Context, loc Locator) error
	DoubleClick(ctx context.Context, loc Locator) error
	// Type clears the field and sends keystrokes.
	Type(ctx context.Context, loc Locator, text string) error
	// SetValue assigns the value by script and fires input/change events.
	SetValue(ctx context.Context, loc Locator, value string) error
	// Select chooses option values of a <select>; an empty list clears a multi-select.
	Select(ctx context.Context, loc Locator, values ...string) error

	Attribute(ctx context.Context, loc Locator, name string) (string, bool, error)
	Text(ctx context.Context, loc Locator) (string, error)
	OuterHTML(ctx context.Context, loc Locator) (string, error)
	PageSource(ctx context.Context) (string, error)

	// Stamp marks the first node matching loc and returns the mark.
	Stamp(ctx context.Context, loc Locator) (string, error)
	// Stale reports whether the node carrying stamp has left the document.
	Stale(ctx context.Context, loc Locator, stamp string) (bool, error)

	Cookies(ctx context.Context) ([]*http.Cookie, error)

	// OpenByClick activates loc and returns the secondary context it opens.
	OpenByClick(ctx context.Context, loc Locator) (Driver, error)
	// OpenURL opens url in a new secondary context.
	OpenURL(ctx context.Context, url string) (Driver, error)
	// Focus brings this context to the front.
	Focus(ctx context.Context) error
	// Close releases the context. Closing the primary context ends the browser.
	Close() error
}
