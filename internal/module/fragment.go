package module

import (
	"html"
	"strings"
)

// Fragment is the recursive structure that modules contribute to job
// outputs and to the repository dashboard.
// A fragment is either a leaf, carrying only Text, or a node with a
// Title and an ordered list of children.
// Titles, nesting and ordering are part of the rendered dashboard
// contract and must survive a store round-trip unchanged.
type Fragment struct {
	Text     string      `json:"text,omitempty"`
	Title    string      `json:"title,omitempty"`
	Children []*Fragment `json:"children,omitempty"`
}

func Leaf(text string) *Fragment {
	return &Fragment{Text: text}
}

func Node(title string, children ...*Fragment) *Fragment {
	return &Fragment{Title: title, Children: children}
}

func (f *Fragment) IsLeaf() bool {
	return len(f.Children) == 0
}

// Markdown renders the fragment as GitHub-flavoured markdown.
// Leaves are rendered as sanitized text, nodes as collapsible
// <details> blocks with the title as summary.
func (f *Fragment) Markdown() string {
	var b strings.Builder

	f.render(&b)

	return strings.TrimRight(b.String(), "\n")
}

func (f *Fragment) render(b *strings.Builder) {
	if f.IsLeaf() {
		if f.Title != "" {
			b.WriteString("**")
			b.WriteString(html.EscapeString(f.Title))
			b.WriteString("**\n\n")
		}

		b.WriteString(html.EscapeString(f.Text))
		b.WriteString("\n")

		return
	}

	b.WriteString("<details>\n<summary>")
	b.WriteString(html.EscapeString(f.Title))
	b.WriteString("</summary>\n\n")

	for _, child := range f.Children {
		child.render(b)
		b.WriteString("\n")
	}

	b.WriteString("</details>\n")
}
