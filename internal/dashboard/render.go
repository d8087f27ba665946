package dashboard

import (
	"sort"
	"strings"

	"github.com/simplesurance/ghqueue/internal/module"
)

const (
	sectionStart = "<!-- START "
	sectionEnd   = "<!-- END "
	markerClose  = " -->"
)

// RenderIssueBody renders all module sections into one dashboard
// issue body. Every section is wrapped into START/END marker comments
// keyed by module name, the format users and older tooling rely on.
// Sections are emitted in the order of moduleOrder, unknown modules
// follow sorted by name. titles maps module names to their section
// heading.
func RenderIssueBody(header string, sections map[string]*module.Fragment, titles map[string]string, moduleOrder []string) string {
	var b strings.Builder

	if header != "" {
		b.WriteString(strings.TrimRight(header, "\n"))
		b.WriteString("\n\n")
	}

	for _, name := range orderedNames(sections, moduleOrder) {
		fragment := sections[name]
		if fragment == nil {
			continue
		}

		title := titles[name]
		if title == "" {
			title = name
		}

		b.WriteString(sectionStart + name + markerClose + "\n")
		b.WriteString("## " + title + "\n\n")
		b.WriteString(fragment.Markdown())
		b.WriteString("\n" + sectionEnd + name + markerClose + "\n\n")
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

func orderedNames(sections map[string]*module.Fragment, moduleOrder []string) []string {
	result := make([]string, 0, len(sections))
	seen := make(map[string]struct{}, len(sections))

	for _, name := range moduleOrder {
		if _, exist := sections[name]; exist {
			result = append(result, name)
			seen[name] = struct{}{}
		}
	}

	var rest []string

	for name := range sections {
		if _, exist := seen[name]; !exist {
			rest = append(rest, name)
		}
	}

	sort.Strings(rest)

	return append(result, rest...)
}
