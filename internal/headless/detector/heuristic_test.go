package detector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/remote-jobs-crawler/internal/crawler"
)

func page(status int, body string) crawler.Page {
	return crawler.Page{StatusCode: status, Body: []byte(body)}
}

func TestHeuristic_ShouldPromote(t *testing.T) {
	t.Parallel()

	listings := `<html><body><table>` +
		`<tr class="job"><td><h2>Go Engineer</h2></td></tr>` +
		`<tr class="job"><td><h2>SRE</h2></td></tr>` +
		`</table></body></html>`

	tests := []struct {
		name string
		cfg  Config
		page crawler.Page
		want bool
	}{
		{name: "empty body", page: page(200, "  "), want: true},
		{name: "spa root", page: page(200, `<div id="__next"></div>`), want: true},
		{name: "react root attribute", page: page(200, `<div data-reactroot=""></div>`), want: true},
		{
			name: "script heavy small page",
			cfg:  Config{BodyLengthThreshold: 1000},
			page: page(200, `<html><script>var a=1;</script><p>t</p></html>`),
			want: true,
		},
		{
			name: "large page without listings",
			cfg:  Config{BodyLengthThreshold: 100},
			page: page(200, `<html><script>var a=1;</script><p>`+strings.Repeat("x", 400)+`</p></html>`),
			want: false,
		},
		{name: "listings present", page: page(200, listings), want: false},
		{
			name: "listings present but truncated",
			cfg:  Config{PromoteOnTruncation: true},
			page: crawler.Page{StatusCode: 200, Body: []byte(listings), TotalReported: 120},
			want: true,
		},
		{
			name: "truncation ignored when disabled",
			page: crawler.Page{StatusCode: 200, Body: []byte(listings), TotalReported: 120},
			want: false,
		},
		{name: "non 2xx never promotes", page: page(404, ""), want: false},
		{
			name: "custom listing selector",
			cfg:  Config{ListingSelector: "li.posting"},
			page: page(200, `<div id="app"><ul><li class="posting">x</li></ul></div>`),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, NewHeuristic(tt.cfg).ShouldPromote(tt.page))
		})
	}
}
