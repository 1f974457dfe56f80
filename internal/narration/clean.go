// Package narration turns summary text into speakable chunks.
package narration

import (
	"html"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// SentencesPerParagraph is the regrouping size for text that arrives as a
// single block.
const SentencesPerParagraph = 4

var (
	markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

	listPrefix    = regexp.MustCompile(`^(?:\s*(?:[-*+•▪●◦‣]|\d{1,9}[.)])(?:\s+|$))+`)
	linePrefix    = regexp.MustCompile(`^(?:\s*(?:[-*+•▪●◦‣]|\d{1,9}[.)])\s+)+`)
	tagToken      = regexp.MustCompile(`(^|\s)[#@][\p{L}\p{N}_]+`)
	underscoreRun = regexp.MustCompile(`_{2,}`)
	spaceRun      = regexp.MustCompile(`[\s\p{Zs}]+`)
	citation      = regexp.MustCompile(`(?i)\b(?:according to the (?:article|text|source|report)|as (?:stated|mentioned|noted|reported) in the (?:article|text|report)|the (?:article|author|text|report) (?:states|mentions|notes|says|reports|explains)(?: that)?|according to)\b,?\s*`)

	quotes = strings.NewReplacer(
		"“", `"`, "”", `"`, "„", `"`, "‟", `"`, "″", `"`, "«", `"`, "»", `"`,
		"‘", "'", "’", "'", "‚", "'", "‛", "'", "′", "'",
	)
	markers = strings.NewReplacer(
		"[", "", "]", "", "{", "", "}", "", "<", "", ">", "",
		"`", "", "~", "", "|", "", "#", "", `\`, "", "*", "",
	)
)

// Clean strips markdown and formatting artifacts from text so it reads
// naturally when spoken. Blank input is returned unchanged.
func Clean(input string) string {
	if strings.TrimSpace(input) == "" {
		return input
	}

	var paragraphs []string
	for _, block := range plainBlocks([]byte(input)) {
		if p := cleanBlock(block); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	if len(paragraphs) == 1 {
		paragraphs = regroup(paragraphs[0], SentencesPerParagraph)
	}
	return strings.Join(paragraphs, "\n\n")
}

// plainBlocks parses src as markdown and returns the text content of each
// leaf block. Line breaks inside a block are kept as '\n'.
func plainBlocks(src []byte) []string {
	doc := markdown.Parser().Parse(text.NewReader(src))

	var (
		blocks []string
		buf    strings.Builder
	)
	flush := func() {
		if strings.TrimSpace(buf.String()) != "" {
			blocks = append(blocks, buf.String())
		}
		buf.Reset()
	}

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock {
				flush()
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Image, *ast.RawHTML, *ast.HTMLBlock:
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			buf.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				buf.WriteByte('\n')
			}
		case *ast.String:
			buf.Write(node.Value)
		case *ast.AutoLink:
			buf.Write(node.Label(src))
			return ast.WalkSkipChildren, nil
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				buf.Write(seg.Value(src))
			}
		}
		return ast.WalkContinue, nil
	})
	flush()
	return blocks
}

func cleanBlock(block string) string {
	lines := strings.Split(block, "\n")
	for i, line := range lines {
		lines[i] = linePrefix.ReplaceAllString(line, "")
	}
	s := strings.Join(lines, "\n")

	s = unescapeEntities(s)
	s = quotes.Replace(s)
	s = tagToken.ReplaceAllString(s, "$1")
	s = removeCitations(s)
	s = markers.Replace(s)
	s = underscoreRun.ReplaceAllString(s, "")
	s = strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
	// Removals above can expose a marker that would parse as a list item.
	return strings.TrimSpace(listPrefix.ReplaceAllString(s, ""))
}

// unescapeEntities decodes until stable so double-escaped feed text such
// as "&amp;lt;" does not decode one more level on every pass.
func unescapeEntities(s string) string {
	for range 4 {
		next := html.UnescapeString(s)
		if next == s {
			break
		}
		s = next
	}
	return s
}

// removeCitations repeats until stable since a removal can splice a new
// phrase together.
func removeCitations(s string) string {
	for range 8 {
		next := citation.ReplaceAllString(s, "")
		if next == s {
			break
		}
		s = next
	}
	return s
}

// regroup splits paragraph into groups of size sentences. A sentence that
// reads as a list marker ("1999.", "- next.") never opens a group and stays
// with the one before it.
func regroup(paragraph string, size int) []string {
	sentences := splitSentences(paragraph)
	if len(sentences) <= size {
		return []string{paragraph}
	}
	var (
		out   []string
		group []string
	)
	for _, sentence := range sentences {
		if len(group) >= size && !listPrefix.MatchString(sentence) {
			out = append(out, strings.Join(group, " "))
			group = group[:0]
		}
		group = append(group, sentence)
	}
	return append(out, strings.Join(group, " "))
}
