package extractor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"landrecord-extractor/internal/types"
	"landrecord-extractor/utils"
)

type retrieverFixture struct {
	portal    *fakePortal
	adapter   *testAdapter
	retriever *Retriever
	downloads *utils.DownloadClient
	dir       string
	page      *types.ResultPage
	hits      *int
}

func newRetrieverFixture(t *testing.T, adapter *testAdapter, rows []rowDef) *retrieverFixture {
	t.Helper()
	server, hits := documentServer(t)
	config := testConfig(t)
	portal := newFakePortal(t, server.URL, rows)
	session, controller, waiter := newTestSession(t, config, adapter, portal)

	paginator := NewPaginator(session, adapter, waiter, config, testLogger())
	page, err := paginator.Submit(context.Background(), testCriteria())
	require.NoError(t, err)

	downloads := utils.NewDownloadClient(config, testLogger())
	t.Cleanup(downloads.Close)
	dir := filepath.Join(config.OutputDir, "testportal_documents")
	return &retrieverFixture{
		portal:    portal,
		adapter:   adapter,
		retriever: NewRetriever(session, controller, adapter, waiter, downloads, NewFileNamer(), dir, config, testLogger(), nil),
		downloads: downloads,
		dir:       dir,
		page:      page,
		hits:      hits,
	}
}

func TestRetriever_PDF(t *testing.T) {
	f := newRetrieverFixture(t, newTestAdapter(), []rowDef{
		{docType: "LP", instrument: "2024-000123", icon: true, pdf: "/docs/000123.pdf"},
	})

	outcome := f.retriever.Retrieve(context.Background(), f.page.Rows[0])
	require.True(t, outcome.OK(), "retrieval failed: %v", outcome.Err)

	assert.Equal(t, "pdf-link", outcome.Strategy)
	assert.Equal(t, types.ArtifactPDF, outcome.Artifact.Format)
	assert.Equal(t, "LP_2024-000123_1.pdf", outcome.Artifact.Filename)
	assert.Equal(t, filepath.Join(f.dir, "LP_2024-000123_1.pdf"), outcome.Artifact.Path)
	assert.Equal(t, 1, outcome.Artifact.Pages)
	assert.Equal(t, []string{"LP_2024-000123_1.pdf"}, listDir(t, f.dir))
}

func TestRetriever_TIFFFallback(t *testing.T) {
	f := newRetrieverFixture(t, newTestAdapter(), []rowDef{
		{docType: "ST", instrument: "2024/000456", icon: true, tiff: "/docs/000456.tif"},
	})

	outcome := f.retriever.Retrieve(context.Background(), f.page.Rows[0])
	require.True(t, outcome.OK(), "retrieval failed: %v", outcome.Err)

	assert.Equal(t, "tiff-image", outcome.Strategy)
	require.Len(t, outcome.Attempts, 2)
	assert.Error(t, outcome.Attempts[0].Err)
	assert.NoError(t, outcome.Attempts[1].Err)

	assert.Equal(t, types.ArtifactTIFF, outcome.Artifact.Format)
	assert.Equal(t, filepath.Join(f.dir, "ST_2024-000456_1.png"), outcome.Artifact.PNGPath)
	assert.Empty(t, outcome.Artifact.PDFPath)
	assert.Equal(t, []string{"ST_2024-000456_1.png", "ST_2024-000456_1.tiff"}, listDir(t, f.dir))

	viewer := f.portal.openedViewers()[0]
	assert.Equal(t, []string{"TIFF"}, viewer.value("#format"))
}

func TestRetriever_RasterToPDF(t *testing.T) {
	f := newRetrieverFixture(t, newTestAdapter(), []rowDef{
		{docType: "ST", instrument: "2024-000456", icon: true, tiff: "/docs/000456.tif"},
	})
	f.retriever.config.RasterToPDF = true

	outcome := f.retriever.Retrieve(context.Background(), f.page.Rows[0])
	require.True(t, outcome.OK(), "retrieval failed: %v", outcome.Err)

	assert.Equal(t, filepath.Join(f.dir, "ST_2024-000456_1.pdf"), outcome.Artifact.PDFPath)
	pages, err := utils.PDFPageCount(outcome.Artifact.PDFPath)
	require.NoError(t, err)
	assert.Equal(t, 1, pages)
}

func TestRetriever_NoIcon(t *testing.T) {
	f := newRetrieverFixture(t, newTestAdapter(), []rowDef{
		{docType: "LP", instrument: "2024-000789"},
	})

	outcome := f.retriever.Retrieve(context.Background(), f.page.Rows[0])
	assert.False(t, outcome.OK())
	assert.Equal(t, types.FailureNoIcon, outcome.Failure)
	assert.Empty(t, listDir(t, f.dir))
	assert.Zero(t, f.portal.driver.opened)
	assert.Zero(t, *f.hits)
}

func TestRetriever_Exhausted(t *testing.T) {
	f := newRetrieverFixture(t, newTestAdapter(), []rowDef{
		{docType: "LP", instrument: "2024-000123", icon: true},
	})

	outcome := f.retriever.Retrieve(context.Background(), f.page.Rows[0])
	assert.False(t, outcome.OK())
	assert.Equal(t, types.FailureExhausted, outcome.Failure)

	var exhausted *types.RetrievalExhaustedError
	require.ErrorAs(t, outcome.Err, &exhausted)
	assert.Len(t, exhausted.Attempts, 2)
	assert.Equal(t, 1, exhausted.Index)

	viewers := f.portal.openedViewers()
	require.Len(t, viewers, 1)
	assert.True(t, viewers[0].isClosed())
	assert.Equal(t, 1, f.portal.driver.focused)
	assert.Empty(t, listDir(t, f.dir))
}

func TestRetriever_RejectsLoginPage(t *testing.T) {
	f := newRetrieverFixture(t, newTestAdapter(), []rowDef{
		{docType: "LP", instrument: "2024-000123", icon: true, pdf: "/docs/missing.html"},
	})

	outcome := f.retriever.Retrieve(context.Background(), f.page.Rows[0])
	assert.Equal(t, types.FailureExhausted, outcome.Failure)
	assert.Empty(t, listDir(t, f.dir))
}

func TestRetriever_OpenFailed(t *testing.T) {
	f := newRetrieverFixture(t, newTestAdapter(), []rowDef{
		{docType: "LP", instrument: "2024-000123", icon: true, pdf: "/docs/000123.pdf"},
	})
	f.portal.driver.remove(detailQuery(1))

	outcome := f.retriever.Retrieve(context.Background(), f.page.Rows[0])
	assert.Equal(t, types.FailureOpenFailed, outcome.Failure)
	assert.Error(t, outcome.Err)
	assert.Zero(t, f.portal.driver.opened)
}

func TestRetriever_InPlaceViewer(t *testing.T) {
	adapter := newTestAdapter()
	adapter.viewer.Mode = types.DetailInPlace
	adapter.viewer.Ready = types.Any(types.CSS("#inline-viewer"))
	adapter.viewer.Close = types.Any(types.CSS("#close-viewer"))
	f := newRetrieverFixture(t, adapter, []rowDef{
		{docType: "LP", instrument: "2024-000123", icon: true},
	})

	d := f.portal.driver
	d.on(detailQuery(1), func() {
		d.show("#inline-viewer", "#close-viewer")
		d.setAttr("a.pdf", "href", "/docs/000123.pdf")
	})
	d.url = f.portal.base + "/search"

	outcome := f.retriever.Retrieve(context.Background(), f.page.Rows[0])
	require.True(t, outcome.OK(), "retrieval failed: %v", outcome.Err)

	assert.Equal(t, 1, d.clicked("dbl:"+detailQuery(1)))
	assert.Equal(t, 1, d.clicked("#close-viewer"))
	assert.Zero(t, d.opened)
}

func TestRetriever_HrefViewer(t *testing.T) {
	adapter := newTestAdapter()
	adapter.viewer.Mode = types.DetailHref
	f := newRetrieverFixture(t, adapter, []rowDef{
		{docType: "LP", instrument: "2024-000123", icon: true},
	})

	var opened string
	f.portal.driver.openURL = func(url string) *fakeDriver {
		opened = url
		return f.portal.viewer(rowDef{instrument: "2024-000123", pdf: "/docs/000123.pdf"})
	}
	row := f.page.Rows[0]
	row.Detail.Href = "viewer?id=123"
	f.portal.driver.url = "https://portal.test/search/results"

	outcome := f.retriever.Retrieve(context.Background(), row)
	require.True(t, outcome.OK(), "retrieval failed: %v", outcome.Err)
	assert.Equal(t, "https://portal.test/search/viewer?id=123", opened)
	assert.True(t, f.portal.openedViewers()[0].isClosed())
}

func TestRetriever_UniqueFilenames(t *testing.T) {
	f := newRetrieverFixture(t, newTestAdapter(), []rowDef{
		{docType: "LP", instrument: "2024-000123", icon: true, pdf: "/docs/a.pdf"},
	})

	// The same row retrieved twice must not overwrite the first artifact.
	first := f.retriever.Retrieve(context.Background(), f.page.Rows[0])
	second := f.retriever.Retrieve(context.Background(), f.page.Rows[0])
	require.True(t, first.OK())
	require.True(t, second.OK())

	assert.NotEqual(t, first.Artifact.Path, second.Artifact.Path)
	assert.Equal(t, "LP_2024-000123_1_1.pdf", second.Artifact.Filename)
	for _, p := range []string{first.Artifact.Path, second.Artifact.Path} {
		_, err := os.Stat(p)
		assert.NoError(t, err)
	}
}

func TestUsableURL(t *testing.T) {
	assert.True(t, usableURL("/docs/1.pdf"))
	assert.True(t, usableURL(" https://x.test/a.pdf "))
	assert.False(t, usableURL(""))
	assert.False(t, usableURL("#"))
	assert.False(t, usableURL("about:blank"))
	assert.False(t, usableURL("JavaScript:void(0)"))
}

func TestResolveURL(t *testing.T) {
	got, err := resolveURL("https://portal.test/cpan/viewer?id=1", "../docs/1.pdf")
	require.NoError(t, err)
	assert.Equal(t, "https://portal.test/docs/1.pdf", got)

	got, err = resolveURL("https://portal.test/cpan/", "https://cdn.test/1.tif")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/1.tif", got)
}
