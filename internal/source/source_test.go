package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/remote-jobs-crawler/internal/crawler"
	"github.com/JakeFAU/remote-jobs-crawler/internal/extract"
	"github.com/JakeFAU/remote-jobs-crawler/internal/hash/sha256"
)

const searchURL = "https://remoteok.com/remote-golang-jobs"

func listingsPage(titles ...string) []byte {
	var b strings.Builder
	b.WriteString(`<html><body><div class="action-remove-latest-filter">42 jobs</div><table>`)
	for i, title := range titles {
		posting := fmt.Sprintf(`{"title":%q,"hiringOrganization":{"name":"Structured Co"}}`, title+" (ld)")
		fmt.Fprintf(&b, `<tr class="job"><script type="application/ld+json">%s</script>`, posting)
		fmt.Fprintf(&b, `<td><a href="/remote-jobs/%d"><h2>%s</h2></a><span class="company"><h3>Acme</h3></span></td></tr>`, i, title)
	}
	b.WriteString(`</table></body></html>`)
	return []byte(b.String())
}

type fakeRenderer struct {
	page  crawler.Page
	err   error
	calls int
}

func (r *fakeRenderer) Render(_ context.Context, rawURL string) (crawler.Page, error) {
	r.calls++
	if r.err != nil {
		return crawler.Page{}, r.err
	}
	p := r.page
	p.URL = rawURL
	p.UsedHeadless = true
	return p, nil
}

type fakeFetcher struct {
	page  crawler.Page
	err   error
	calls int
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) (crawler.Page, error) {
	f.calls++
	if f.err != nil {
		return crawler.Page{}, f.err
	}
	p := f.page
	p.URL = rawURL
	return p, nil
}

type fixedDetector bool

func (d fixedDetector) ShouldPromote(crawler.Page) bool { return bool(d) }

func newExtractor() *extract.Extractor {
	return extract.New(extract.Config{Origin: "https://remoteok.com"}, sha256.New(), zap.NewNop())
}

func TestHeadlessUsesStructuredData(t *testing.T) {
	t.Parallel()

	renderer := &fakeRenderer{page: crawler.Page{StatusCode: 200, Body: listingsPage("Go Engineer"), TotalReported: 42}}
	src := NewHeadless(renderer, newExtractor(), zap.NewNop())

	crawl, err := src.Fetch(context.Background(), searchURL)
	require.NoError(t, err)
	require.Len(t, crawl.Jobs, 1)
	assert.Equal(t, "Go Engineer (ld)", crawl.Jobs[0].Title)
	assert.Equal(t, "Structured Co", crawl.Jobs[0].Company)
	assert.Equal(t, "https://remoteok.com/remote-jobs/0", crawl.Jobs[0].Link)
	assert.Equal(t, 42, crawl.TotalReported)
	assert.True(t, crawl.UsedHeadless)
}

func TestHeadlessWrapsRenderError(t *testing.T) {
	t.Parallel()

	renderer := &fakeRenderer{err: &crawler.RenderError{URL: searchURL, Err: errors.New("net::ERR_NAME_NOT_RESOLVED")}}
	_, err := NewHeadless(renderer, newExtractor(), nil).Fetch(context.Background(), searchURL)
	require.ErrorIs(t, err, crawler.ErrRender)
	var renderErr *crawler.RenderError
	require.ErrorAs(t, err, &renderErr)
	assert.Equal(t, searchURL, renderErr.URL)
}

func TestStaticUsesDOM(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{page: crawler.Page{StatusCode: 200, Body: listingsPage("Go Engineer", "SRE"), TotalReported: 42}}
	crawl, err := NewStatic(fetcher, newExtractor(), nil).Fetch(context.Background(), searchURL)
	require.NoError(t, err)
	require.Len(t, crawl.Jobs, 2)
	assert.Equal(t, "Go Engineer", crawl.Jobs[0].Title)
	assert.Equal(t, "Acme", crawl.Jobs[0].Company)
	assert.Equal(t, 42, crawl.TotalReported)
	assert.False(t, crawl.UsedHeadless)
}

func TestStaticWrapsFetchError(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{err: &crawler.FetchError{URL: searchURL, StatusCode: 503}}
	_, err := NewStatic(fetcher, newExtractor(), nil).Fetch(context.Background(), searchURL)
	require.ErrorIs(t, err, crawler.ErrFetch)
	var fetchErr *crawler.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, 503, fetchErr.StatusCode)
}

func TestAuto(t *testing.T) {
	t.Parallel()

	rendered := crawler.Page{StatusCode: 200, Body: listingsPage("Rendered"), TotalReported: 7}

	tests := []struct {
		name         string
		static       *fakeFetcher
		detector     crawler.HeadlessDetector
		withHeadless bool
		wantTitle    string
		wantHeadless bool
		wantRenders  int
		wantErr      error
	}{
		{
			name:         "static page is enough",
			static:       &fakeFetcher{page: crawler.Page{StatusCode: 200, Body: listingsPage("Static")}},
			detector:     fixedDetector(false),
			withHeadless: true,
			wantTitle:    "Static",
		},
		{
			name:         "detector promotes",
			static:       &fakeFetcher{page: crawler.Page{StatusCode: 200, Body: listingsPage("Static")}},
			detector:     fixedDetector(true),
			withHeadless: true,
			wantTitle:    "Rendered (ld)",
			wantHeadless: true,
			wantRenders:  1,
		},
		{
			name:         "empty static page promotes",
			static:       &fakeFetcher{page: crawler.Page{StatusCode: 200, Body: []byte(`<html><body></body></html>`)}},
			detector:     fixedDetector(false),
			withHeadless: true,
			wantTitle:    "Rendered (ld)",
			wantHeadless: true,
			wantRenders:  1,
		},
		{
			name:         "fetch error promotes",
			static:       &fakeFetcher{err: &crawler.FetchError{URL: searchURL, StatusCode: 403}},
			detector:     fixedDetector(false),
			withHeadless: true,
			wantTitle:    "Rendered (ld)",
			wantHeadless: true,
			wantRenders:  1,
		},
		{
			name:    "fetch error without headless",
			static:  &fakeFetcher{err: &crawler.FetchError{URL: searchURL, StatusCode: 403}},
			wantErr: crawler.ErrFetch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			renderer := &fakeRenderer{page: rendered}
			var headless crawler.JobSource
			if tt.withHeadless {
				headless = NewHeadless(renderer, newExtractor(), nil)
			}
			auto := NewAuto(NewStatic(tt.static, newExtractor(), nil), headless, tt.detector, zap.NewNop())

			crawl, err := auto.Fetch(context.Background(), searchURL)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.NotEmpty(t, crawl.Jobs)
			assert.Equal(t, tt.wantTitle, crawl.Jobs[0].Title)
			assert.Equal(t, tt.wantHeadless, crawl.UsedHeadless)
			assert.Equal(t, tt.wantRenders, renderer.calls)
			assert.Equal(t, 1, tt.static.calls)
		})
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	static := NewStatic(&fakeFetcher{}, newExtractor(), nil)
	headless := NewHeadless(&fakeRenderer{}, newExtractor(), nil)

	src, err := New(NameHeadless, static, headless, nil, nil)
	require.NoError(t, err)
	assert.Same(t, headless, src)

	src, err = New(NameStatic, static, headless, nil, nil)
	require.NoError(t, err)
	assert.Same(t, static, src)

	src, err = New(NameAuto, static, nil, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &Auto{}, src)

	_, err = New(NameHeadless, static, nil, nil, nil)
	require.Error(t, err)

	_, err = New("carrier-pigeon", static, headless, nil, nil)
	require.EqualError(t, err, `unknown source "carrier-pigeon"`)
}
