package email

import (
	"fmt"
	"strings"
)

// RenderMarkdown formats a parsed message plus its cleaned body as the
// markdown document stored in the processed artifact directory.
func RenderMarkdown(m *Message, cleaned string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Email - %s\n\n", m.FileName)
	b.WriteString("## Email Information\n\n")
	fmt.Fprintf(&b, "- **Source File**: `%s`\n", m.FileName)
	fmt.Fprintf(&b, "- **From**: %s\n", m.From)
	fmt.Fprintf(&b, "- **To**: %s\n", m.To)
	if m.Cc != "" {
		fmt.Fprintf(&b, "- **Cc**: %s\n", m.Cc)
	}
	fmt.Fprintf(&b, "- **Subject**: %s\n", m.Subject)
	if !m.Date.IsZero() {
		fmt.Fprintf(&b, "- **Date**: %s\n", m.Date.Format("2006-01-02 15:04:05"))
	} else {
		b.WriteString("- **Date**: unknown\n")
	}

	b.WriteString("\n## Content\n\n")
	if cleaned == "" {
		b.WriteString("*(empty or unparseable body)*\n")
		return b.String()
	}
	for _, line := range strings.Split(cleaned, "\n") {
		b.WriteString(strings.TrimRight(line, " \t"))
		b.WriteByte('\n')
	}

	return b.String()
}

// MarkdownName maps an .eml file name to its markdown artifact name.
func MarkdownName(emlName string) string {
	return strings.TrimSuffix(emlName, ".eml") + ".md"
}
