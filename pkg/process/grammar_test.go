package process

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/config"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/utils"
)

const page = `<!doctype html>
<html lang="en-GB">
<head><title>Acme Plumbing</title><script>var x = 1;</script></head>
<body>
  <nav><a href="/">Home</a><a href="/about">About</a></nav>
  <main>
    <h1>Reliable plumbers<a class="headerlink" href="#top">¶</a></h1>
    <p>We fix <strong>leaks</strong> and install boilers across the city.</p>
    <img src="/van.jpg" alt="Our van">
    <h2>Contact</h2>
    <p>Call us or <a href="/contact">send a message</a>.</p>
  </main>
  <footer>Copyright Acme</footer>
</body>
</html>`

func TestPrepareGrammarInput(t *testing.T) {
	in, err := PrepareGrammarInput(page, "https://acme.example/services", config.ContentConfig{})
	require.NoError(t, err)

	assert.Equal(t, "Acme Plumbing", in.Title)
	assert.Equal(t, "en-GB", in.Language)
	assert.Equal(t, DefaultEncoding, in.Encoding)

	assert.Contains(t, in.Markdown, "Reliable plumbers")
	assert.Contains(t, in.Markdown, "**leaks**")
	assert.Contains(t, in.Markdown, "[send a message](https://acme.example/contact)", "relative links resolved against the page URL")
	assert.NotContains(t, in.Markdown, "http://https:")
	assert.NotContains(t, in.Markdown, "Copyright", "footer dropped")
	assert.NotContains(t, in.Markdown, "About", "navigation dropped")
	assert.NotContains(t, in.Markdown, "var x")
	assert.NotContains(t, in.Markdown, "van.jpg")
	assert.NotContains(t, in.Markdown, "¶")

	assert.Equal(t, []Heading{{Level: 1, Text: "Reliable plumbers"}, {Level: 2, Text: "Contact"}}, in.Headings)
	require.Len(t, in.Chunks, 2, "one chunk per heading section")
	assert.Positive(t, in.TotalTokens)
	assert.Positive(t, in.WordCount)
}

func TestPrepareGrammarInput_ChunkLimit(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("<html><body><article>")
	for range 30 {
		sb.WriteString("<h2>Section</h2><p>This paragraph is long enough that thirty of them need more than one chunk of forty tokens.</p>")
	}
	sb.WriteString("</article></body></html>")

	in, err := PrepareGrammarInput(sb.String(), "https://ex.com", config.ContentConfig{MaxChunkTokens: 40, ChunkOverlap: 5})
	require.NoError(t, err)
	assert.Greater(t, len(in.Chunks), 5)
}

func TestPrepareGrammarInput_BodyFallback(t *testing.T) {
	in, err := PrepareGrammarInput("<html><body><p>Only a paragraph.</p></body></html>", "https://ex.com", config.ContentConfig{})
	require.NoError(t, err)
	assert.Equal(t, "Only a paragraph.", in.Markdown)
	assert.Empty(t, in.Title)
}

func TestPrepareGrammarInput_NoText(t *testing.T) {
	in, err := PrepareGrammarInput("<html><body><script>x()</script></body></html>", "https://ex.com", config.ContentConfig{})
	require.NoError(t, err)
	assert.Empty(t, in.Markdown)
	assert.Empty(t, in.Chunks)
	assert.NotNil(t, in.Chunks)
}

func TestPrepareGrammarInput_Empty(t *testing.T) {
	_, err := PrepareGrammarInput("   ", "https://ex.com", config.ContentConfig{})
	assert.ErrorIs(t, err, utils.ErrParsing)
}
