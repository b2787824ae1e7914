package skills

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

// CheckCompatibility re-reads normalized SKILL.md content with goldmark-meta,
// the frontmatter reader used by editors and markdown tooling, and verifies it
// sees the same name and description as the skill parsed by Normalize.
func CheckCompatibility(content []byte, skill *Skill) error {
	md := goldmark.New(
		goldmark.WithExtensions(meta.Meta),
	)

	var buf bytes.Buffer
	pctx := parser.NewContext()
	if err := md.Convert(content, &buf, parser.WithContext(pctx)); err != nil {
		return errors.Wrap(err, "failed to parse markdown")
	}

	metaData, err := meta.TryGet(pctx)
	if err != nil {
		return errors.Wrap(err, "frontmatter is not readable by markdown tooling")
	}
	if metaData == nil {
		return errors.New("markdown tooling found no frontmatter")
	}

	name := strings.TrimSpace(fmt.Sprint(metaData["name"]))
	if name != skill.Name {
		return errors.Errorf("markdown tooling reads name %q, expected %q", name, skill.Name)
	}
	description := strings.TrimSpace(fmt.Sprint(metaData["description"]))
	if !strings.HasPrefix(description, strings.TrimSuffix(skill.Description, "...")) {
		return errors.Errorf("markdown tooling reads a different description for %q", skill.Name)
	}
	return nil
}

// Title returns the text of the first heading in the skill body, or an empty
// string when the body has no heading.
func (s *Skill) Title() string {
	source := []byte(s.Content)
	doc := goldmark.New().Parser().Parse(text.NewReader(source))

	var title string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		heading, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		title = nodeText(heading, source)
		return ast.WalkStop, nil
	})
	return strings.TrimSpace(title)
}

func nodeText(n ast.Node, source []byte) string {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			b.Write(t.Segment.Value(source))
			if t.SoftLineBreak() {
				b.WriteByte(' ')
			}
			continue
		}
		b.WriteString(nodeText(c, source))
	}
	return b.String()
}
