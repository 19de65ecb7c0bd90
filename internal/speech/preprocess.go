// ABOUTME: Text preprocessing for speech synthesis
// ABOUTME: Strips markdown via AST traversal and normalizes text for speaking

package speech

import (
	"bytes"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"
)

var (
	urlPattern        = regexp.MustCompile(`https?://[^\s<>"')\]]+`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// Preprocessor normalizes model output into text worth speaking aloud.
// URLs become the word "link", code becomes "code block", markdown
// formatting is dropped, and whitespace is collapsed. Input longer than
// maxLen runes is truncated before any other step.
type Preprocessor struct {
	maxLen int
	md     goldmark.Markdown
	logger *slog.Logger
}

func NewPreprocessor(maxLen int, logger *slog.Logger) *Preprocessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Preprocessor{maxLen: maxLen, md: goldmark.New(), logger: logger}
}

// Process returns the spoken form of text, or "" when nothing speakable
// remains.
func (p *Preprocessor) Process(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	if n := utf8.RuneCountInString(text); p.maxLen > 0 && n > p.maxLen {
		p.logger.Warn("speech text exceeds maximum length, truncating",
			"length", n, "max_length", p.maxLen)
		text = string([]rune(text)[:p.maxLen])
	}

	text = urlPattern.ReplaceAllString(text, "link")
	text = p.stripMarkdown(text)
	text = whitespacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// stripMarkdown walks the parsed document and keeps only what a listener
// should hear. Code spans and fenced blocks collapse to "code block",
// autolinks to "link", and link text survives without its destination.
func (p *Preprocessor) stripMarkdown(text string) string {
	source := []byte(text)
	doc := p.md.Parser().Parse(gmtext.NewReader(source))

	var buf bytes.Buffer
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock {
				buf.WriteByte(' ')
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			buf.Write(node.Segment.Value(source))
			if node.SoftLineBreak() || node.HardLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(node.Value)
		case *ast.CodeSpan:
			buf.WriteString("code block")
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			buf.WriteString("code block")
			return ast.WalkSkipChildren, nil
		case *ast.AutoLink:
			buf.WriteString("link")
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return text
	}
	return buf.String()
}
