package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const resultPage = `<html><body>
<div class="result">
  <h2 class="result__title"><a class="result__a" href="https://go.dev">The Go &amp; Programming Language</a></h2>
  <a class="result__snippet" href="https://go.dev">Go is an <b>open source</b> language.</a>
</div>
<div class="result">
  <h2 class="result__title"><a class="result__a" href="https://example.com">Second result</a></h2>
</div>
</body></html>`

func TestWebSearch(t *testing.T) {
	var gotQuery, gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotAgent = r.UserAgent()
		_, _ = w.Write([]byte(resultPage))
	}))
	defer srv.Close()

	tool := NewWebSearchTool(srv.Client()).WithEndpoint(srv.URL)
	out, err := tool.Execute(context.Background(), map[string]any{"query": "golang generics"})
	require.NoError(t, err)

	assert.Equal(t, "golang generics", gotQuery)
	assert.Equal(t, "Mozilla/5.0", gotAgent)
	assert.True(t, strings.HasPrefix(out, "• The Go & Programming Language\n  "), out)
	assert.Contains(t, out, "open source")
	assert.NotContains(t, out, "<b>")
	assert.True(t, strings.HasSuffix(out, "• Second result"), out)
}

func TestWebSearchNoResults(t *testing.T) {
	assert.Equal(t, noResults, ParseSearchResults(strings.NewReader("<html><body>nothing</body></html>")))

	_, err := NewWebSearchTool(nil).Execute(context.Background(), map[string]any{})
	assert.EqualError(t, err, "Error: query is required")
}
