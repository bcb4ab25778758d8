package scraper

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const samplePage = `<!DOCTYPE html>
<html>
<head>
  <title>Site Name - A Study of Distributed Consensus</title>
  <style>body { color: red; }</style>
  <script>trackVisitor();</script>
</head>
<body>
  <nav><a href="/">Home</a><a href="/about">About</a></nav>
  <article>
    <h1>A Study of Distributed Consensus</h1>
    <p>Consensus protocols let a group of machines agree on a value. Raft and Paxos are the two best-known families.</p>
    <p>Leader election is the first phase. Log replication follows once a leader holds a stable term.</p>
  </article>
  <footer>Copyright 2026</footer>
  <!-- analytics snippet -->
</body>
</html>`

func TestParse_ExtractsTitleAndContent(t *testing.T) {
	title, content := Parse(samplePage)

	assert.Equal(t, "A Study of Distributed Consensus", title)
	assert.Contains(t, content, "Consensus protocols let a group of machines agree on a value.")
	assert.Contains(t, content, "Leader election is the first phase.")
}

func TestParse_StripsChrome(t *testing.T) {
	_, content := Parse(samplePage)

	assert.NotContains(t, content, "trackVisitor")
	assert.NotContains(t, content, "color: red")
	assert.NotContains(t, content, "About")
	assert.NotContains(t, content, "Copyright")
	assert.NotContains(t, content, "analytics")
}

func TestParse_TitleFallbackChain(t *testing.T) {
	// 无 h1 时回退到 <title>，短 h1 被跳过
	page := `<html><head><title>Understanding B-Trees In Depth</title></head><body><h1>Go</h1><p>text</p></body></html>`
	title, _ := Parse(page)
	assert.Equal(t, "Understanding B-Trees In Depth", title)

	title, _ = Parse(`<html><body><p>no headings at all</p></body></html>`)
	assert.Equal(t, "Untitled", title)
}

func TestParse_UnescapesEntities(t *testing.T) {
	page := `<html><body><h1>Ops &amp; Observability Primer</h1><p>Metrics &gt; logs for alerting, usually.</p></body></html>`
	title, content := Parse(page)

	assert.Equal(t, "Ops & Observability Primer", title)
	assert.Contains(t, content, "Metrics > logs")
}

func TestParse_PreservesParagraphBreaks(t *testing.T) {
	// 段落边界必须保留为空行，chunker 依赖它回扫
	_, content := Parse(samplePage)
	assert.True(t, strings.Contains(content, "\n"), "block boundaries should survive stripping")
}
