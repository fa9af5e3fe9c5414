package types

// ActionKind selects what a FormAction does.
type ActionKind int

const (
	ActionClick ActionKind = iota
	ActionDoubleClick
	ActionType
	ActionSetValue
	ActionSelect
	ActionNavigate
	ActionWaitVisible
)

// FormAction is one declarative UI step. Optional steps that fail are logged and skipped.
type FormAction struct {
	Name     string
	Kind     ActionKind
	Target   Locators
	Values   []string
	URL      string
	Optional bool
}

// Value returns the first value, or "".
func (a FormAction) Value() string {
	if len(a.Values) == 0 {
		return ""
	}
	return a.Values[0]
}

// LoginSurface locates everything the session controller touches.
type LoginSurface struct {
	URL            string
	PreLogin       []FormAction
	Username       Locators
	Password       Locators
	Submit         Locators
	SuccessMarker  Locators
	ConflictMarker Locators
	ForceLogoff    Locators
}

// SearchSurface is the navigation from a fresh session to a search form.
type SearchSurface struct {
	URL    string
	Setup  []FormAction
	Submit Locators
}

// ResultSurface locates the results table and its pagination control.
type ResultSurface struct {
	Table           Locators
	NoResultsMarker Locators
	NextPage        Locators
}

// DetailMode is how a row's detail view is opened.
type DetailMode int

const (
	// DetailNewTab: clicking the affordance opens a new browsing context.
	DetailNewTab DetailMode = iota
	// DetailHref: the affordance is a link that is opened in a new context.
	DetailHref
	// DetailInPlace: the affordance opens a viewer inside the primary context.
	DetailInPlace
)

// URLSource reads a document URL from an attribute of a located element.
type URLSource struct {
	Target Locators
	Attr   string
}

// Strategy is one document acquisition attempt inside an opened detail view.
type Strategy struct {
	Name    string
	Format  ArtifactFormat
	Switch  *FormAction // e.g. set the viewer format select to PDF
	Sources []URLSource
}

// ViewerSurface describes the detail view and its ordered acquisition strategies.
type ViewerSurface struct {
	Mode       DetailMode
	Ready      Locators
	Close      Locators
	Strategies []Strategy
}

// ParsedRow is a row as read from the results markup, before it gets page coordinates.
type ParsedRow struct {
	Cells      []Cell
	HasDetail  bool
	DetailHref string
}

// ParsedTable is the content of one results page.
type ParsedTable struct {
	Headers []Header
	Rows    []ParsedRow
}

// PortalAdapter is the capability set one portal implements: where the login fields,
// search controls, result table and document viewer controls are.
type PortalAdapter interface {
	Name() string
	DefaultDocumentTypes() []string

	Login() LoginSurface
	Search() SearchSurface
	CriteriaActions(criteria SearchCriteria) []FormAction

	Results() ResultSurface
	ParseResults(html string) (ParsedTable, error)
	DetailLocator(row ResultRow) Locators

	Viewer() ViewerSurface
	DocumentType(row ResultRow) string
	InstrumentNumber(row ResultRow) string
}
