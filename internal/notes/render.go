package notes

import (
	"bytes"
	"html/template"
	"sync"

	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/microcosm-cc/bluemonday"
)

var (
	sanitizerOnce sync.Once
	sanitizer     *bluemonday.Policy
)

func htmlPolicy() *bluemonday.Policy {
	sanitizerOnce.Do(func() {
		p := bluemonday.UGCPolicy()
		p.RequireNoFollowOnLinks(true)
		p.AddTargetBlankToFullyQualifiedLinks(true)
		sanitizer = p
	})
	return sanitizer
}

// RenderMarkdown converts markdown to sanitized HTML. Raw HTML in the input
// goes through the same sanitizer, so scripts and event handlers never
// survive.
func RenderMarkdown(src string) string {
	// gomarkdown parsers keep state; build one per call.
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs | parser.NoEmptyLineBeforeBlock)
	renderer := mdhtml.NewRenderer(mdhtml.RendererOptions{Flags: mdhtml.CommonFlags})
	unsafe := markdown.ToHTML([]byte(src), p, renderer)
	return string(htmlPolicy().SanitizeBytes(unsafe))
}

const documentTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <meta name="description" content="{{.Excerpt}}">
    <link rel="canonical" href="{{.CanonicalURL}}">
    <meta property="og:title" content="{{.Title}}">
    <meta property="og:description" content="{{.Excerpt}}">
    <meta property="og:url" content="{{.CanonicalURL}}">
    <meta property="og:type" content="article">
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; max-width: 800px; margin: 0 auto; padding: 2rem 1rem; }
        pre { background: #f5f5f5; padding: 1rem; border-radius: 6px; overflow-x: auto; }
        code { font-family: 'SF Mono', Monaco, Consolas, monospace; }
        img { max-width: 100%; height: auto; }
        .labels span { display: inline-block; margin-right: .5em; padding: 0 .5em; border-radius: 3px; background: #eef; }
    </style>
</head>
<body>
    <article>
        <h1>{{.Title}}</h1>
        {{if .Labels}}<p class="labels">{{range .Labels}}<span>{{.}}</span>{{end}}</p>{{end}}
        {{.Body}}
    </article>
</body>
</html>`

var documentTmpl = template.Must(template.New("note").Parse(documentTemplate))

type documentData struct {
	Title        string
	Excerpt      string
	CanonicalURL string
	Labels       []string
	Body         template.HTML
}

// RenderDocument renders a note as a standalone HTML page. Title, labels
// and meta values are escaped by html/template; the body is the sanitized
// markdown rendering.
func RenderDocument(n *Note, canonicalURL string) ([]byte, error) {
	var buf bytes.Buffer
	err := documentTmpl.Execute(&buf, documentData{
		Title:        n.Title,
		Excerpt:      Excerpt(n.Description),
		CanonicalURL: canonicalURL,
		Labels:       n.Labels,
		Body:         template.HTML(RenderMarkdown(n.Description)),
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
