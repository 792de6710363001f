package parser

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// MarkdownParser handles Markdown (.md) files, the primary ingestion
// format for this pipeline. It builds a real Section tree from ATX
// headings ("#" through "######") so that downstream chunking sees
// the same heading/body hierarchy it would get from any other format,
// rather than a single flat blob of text.
type MarkdownParser struct{}

func (p *MarkdownParser) SupportedFormats() []string { return []string{"md", "markdown"} }

// atxHeadingPattern matches ATX-style Markdown headings: 1-6 leading
// "#" characters, a space, then the heading text. Closing "#"
// sequences and trailing whitespace are stripped separately.
var atxHeadingPattern = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*$`)

func (p *MarkdownParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening markdown file: %w", err)
	}
	defer f.Close()

	sections, err := buildMarkdownSections(f)
	if err != nil {
		return nil, fmt.Errorf("parsing markdown: %w", err)
	}

	if len(sections) == 0 {
		return &ParseResult{Method: "native"}, nil
	}

	// Fill in the document title as the preamble heading when the file
	// opens with body text before its first heading.
	if sections[0].Heading == "" {
		sections[0].Heading = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	return &ParseResult{
		Sections: sections,
		Method:   "native",
	}, nil
}

// markdownNode is the mutable build-time counterpart of Section, used
// while the heading stack is still open.
type markdownNode struct {
	section  *Section
	level    int // 0 for the implicit document root, 1-6 for ATX levels
	children []*markdownNode
}

// buildMarkdownSections reads Markdown line by line and assembles a
// heading-nested Section tree: each heading opens a new Section at its
// ATX level, and body lines are appended to the content of whichever
// heading is currently deepest on the stack (or to an implicit
// preamble Section if no heading has been seen yet).
func buildMarkdownSections(r *os.File) ([]Section, error) {
	root := &markdownNode{section: &Section{Type: "section"}, level: 0}
	stack := []*markdownNode{root}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var body strings.Builder
	flush := func() {
		top := stack[len(stack)-1]
		content := strings.TrimSpace(body.String())
		if content != "" {
			if top.section.Content != "" {
				top.section.Content += "\n\n"
			}
			top.section.Content += content
		}
		body.Reset()
	}

	for scanner.Scan() {
		line := scanner.Text()
		m := atxHeadingPattern.FindStringSubmatch(line)
		if m == nil {
			body.WriteString(line)
			body.WriteString("\n")
			continue
		}

		flush()
		level := len(m[1])
		heading := strings.TrimSpace(strings.TrimRight(m[2], "#"))

		for len(stack) > 1 && stack[len(stack)-1].level >= level {
			stack = stack[:len(stack)-1]
		}

		node := &markdownNode{
			section: &Section{Heading: heading, Level: level, Type: "section"},
			level:   level,
		}
		parent := stack[len(stack)-1]
		parent.children = append(parent.children, node)
		stack = append(stack, node)
	}
	flush()
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return markdownNodesToSections(root.children, root.section), nil
}

// markdownNodesToSections converts the build-time node tree into the
// public Section slice, folding the implicit root's own content (the
// preamble before any heading) into a leading synthetic Section when
// present.
func markdownNodesToSections(nodes []*markdownNode, rootSection *Section) []Section {
	var out []Section
	if strings.TrimSpace(rootSection.Content) != "" {
		out = append(out, *rootSection)
	}
	for _, n := range nodes {
		n.section.Children = markdownNodesToSections(n.children, &Section{})
		out = append(out, *n.section)
	}
	return out
}
