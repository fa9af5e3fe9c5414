package types

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// SearchCriteria describes one search submission.
type SearchCriteria struct {
	DocumentTypes []string
	StartDate     time.Time
	EndDate       time.Time
	Filters       map[string]string
}

// DefaultCriteria returns criteria covering the first of the current month through today.
func DefaultCriteria(now time.Time, docTypes []string) SearchCriteria {
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return SearchCriteria{
		DocumentTypes: append([]string(nil), docTypes...),
		StartDate:     start,
		EndDate:       now,
		Filters:       map[string]string{},
	}
}

// Clone returns a deep copy so a submitted criteria value cannot be changed afterwards.
func (c SearchCriteria) Clone() SearchCriteria {
	out := c
	out.DocumentTypes = append([]string(nil), c.DocumentTypes...)
	out.Filters = make(map[string]string, len(c.Filters))
	for k, v := range c.Filters {
		out.Filters[k] = v
	}
	return out
}

// Cell is one raw table cell as rendered by the portal.
type Cell struct {
	Text   string
	Hidden bool
}

// DetailRef locates a row's "open details" affordance.
type DetailRef struct {
	Present bool
	Locator Locators // clicked to open the detail view
	Href    string   // set when the affordance is a plain link
}

// ResultRow is one search result row. It is never mutated after the paginator creates it.
type ResultRow struct {
	Page   int
	Index  int // 1-based within the page
	Cells  []Cell
	Detail DetailRef
}

// Visible returns the texts of the cells a human operator would see.
func (r ResultRow) Visible() []string {
	out := make([]string, 0, len(r.Cells))
	for _, c := range r.Cells {
		if !c.Hidden {
			out = append(out, c.Text)
		}
	}
	return out
}

// CellText returns the raw cell at i, or "" when the row is shorter.
func (r ResultRow) CellText(i int) string {
	if i < 0 || i >= len(r.Cells) {
		return ""
	}
	return r.Cells[i].Text
}

// Signature identifies the row content, used to detect re-reads of a page that has not transitioned.
func (r ResultRow) Signature() string {
	parts := make([]string, len(r.Cells))
	for i, c := range r.Cells {
		parts[i] = c.Text
	}
	return strings.Join(parts, "\x1f")
}

// Header is one column title of a result table.
type Header struct {
	Label  string
	Hidden bool
}

// ResultPage is one batch of rows produced by the paginator.
type ResultPage struct {
	Number  int
	Headers []Header
	Rows    []ResultRow
}

// ArtifactFormat is the kind of a retrieved document.
type ArtifactFormat string

const (
	ArtifactPDF  ArtifactFormat = "pdf"
	ArtifactTIFF ArtifactFormat = "tiff"
	ArtifactPNG  ArtifactFormat = "png"
)

// DocumentArtifact is a document persisted for one row.
type DocumentArtifact struct {
	Path     string
	Filename string
	Format   ArtifactFormat
	Size     int64
	PNGPath  string // sibling raster conversion, if any
	PDFPath  string // sibling raster-to-PDF wrap, if any
	Pages    int    // 0 when unknown
}

// FailureReason explains why a row produced no artifact.
type FailureReason string

const (
	FailureNone       FailureReason = ""
	FailureNoIcon     FailureReason = "no_icon"
	FailureOpenFailed FailureReason = "open_failed"
	FailureExhausted  FailureReason = "exhausted"
)

// StrategyAttempt records how one retrieval strategy ended.
type StrategyAttempt struct {
	Strategy string
	Err      error
}

// RetrievalOutcome is the tagged result of the acquisition protocol for one row.
type RetrievalOutcome struct {
	Row      ResultRow
	Strategy string
	Artifact *DocumentArtifact
	Failure  FailureReason
	Attempts []StrategyAttempt
	Err      error
}

// OK reports whether an artifact was persisted.
func (o RetrievalOutcome) OK() bool {
	return o.Artifact != nil
}

// Field is one key/value pair of a ResultRecord.
type Field struct {
	Key   string
	Value string
}

// ResultRecord is the normalized projection of a row's visible cells.
type ResultRecord struct {
	Fields []Field
}

// Values returns the field values in header order.
func (r ResultRecord) Values() []string {
	out := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		out[i] = f.Value
	}
	return out
}

// Get returns the value for key.
func (r ResultRecord) Get(key string) (string, bool) {
	for _, f := range r.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// MarshalJSON keeps header order, which a map would lose.
func (r ResultRecord) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r.Fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
