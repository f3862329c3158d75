// Package validate implements the artifact validators: deterministic,
// side-effect-free checks that turn research.md, plan.md, prd.json, and a
// single story into a pass/fail verdict plus a list of human-readable
// defects. Validators never throw; the phase runner is responsible for
// turning a non-empty defect list into a typed quality error.
package validate

import (
	"regexp"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Result is the outcome of validating one artifact.
type Result struct {
	Valid   bool     `json:"valid"`
	Defects []string `json:"defects"`
}

func ok() Result                { return Result{Valid: true} }
func fail(defects ...string) Result { return Result{Valid: false, Defects: defects} }

// mdSection is one heading-delimited region of a markdown document, in
// document order.
type mdSection struct {
	title          string
	level          int
	paragraphCount int
	codeSpans      []string
	text           string
}

// parseMarkdownSections walks the goldmark AST for source and buckets every
// paragraph, list item, and code span under the most recently seen heading,
// in document order (goldmark visits top-level siblings depth-first, which
// for flat block sequences is document order).
func parseMarkdownSections(source []byte) []mdSection {
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(source))

	var sections []mdSection
	var current *mdSection

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindHeading:
			h := n.(*ast.Heading)
			sections = append(sections, mdSection{title: extractText(n, source), level: h.Level})
			current = &sections[len(sections)-1]
		case ast.KindParagraph, ast.KindListItem:
			if current != nil {
				current.paragraphCount++
				current.text += extractText(n, source) + "\n"
			}
		case ast.KindCodeSpan:
			if current != nil {
				val := extractText(n, source)
				current.codeSpans = append(current.codeSpans, val)
			}
		}
		return ast.WalkContinue, nil
	})

	return sections
}

// extractText concatenates the raw text of every text/code-span leaf under n.
func extractText(n ast.Node, source []byte) string {
	var out []byte
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch c.Kind() {
		case ast.KindText:
			t := c.(*ast.Text)
			out = append(out, t.Segment.Value(source)...)
		case ast.KindCodeSpan:
			out = append(out, extractText(c, source)...)
		default:
			out = append(out, extractText(c, source)...)
		}
	}
	return string(out)
}

// sectionTitles returns the titles of every heading found, as extracted and
// without further trimming, preserving order.
func sectionTitles(sections []mdSection) []string {
	titles := make([]string, len(sections))
	for i, s := range sections {
		titles[i] = s.title
	}
	return titles
}

func hasSection(sections []mdSection, title string) (*mdSection, bool) {
	for i := range sections {
		if sections[i].title == title {
			return &sections[i], true
		}
	}
	return nil, false
}

var filePathPattern = regexp.MustCompile(`[\w./-]+/[\w.-]+|[\w-]+\.[a-zA-Z]{1,5}\b`)

// looksLikeFilePath reports whether s contains something that reads like a
// file path or a bare filename with an extension.
func looksLikeFilePath(s string) bool {
	return filePathPattern.MatchString(s)
}

// phaseHeadingPattern matches headings of the form "Phase 1", "Phase 2: ...".
var phaseHeadingPattern = regexp.MustCompile(`(?i)^phase\s+\d+\b`)
