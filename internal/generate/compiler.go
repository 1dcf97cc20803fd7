package generate

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAllSectionsFailed is returned when no role produced any content, so
// there is nothing worth compiling.
var ErrAllSectionsFailed = errors.New("all sections failed")

// Compile assembles the four section results into the final markdown
// document. Section order is fixed by role, regardless of which worker
// finished first; a failed section is rendered as a placeholder naming the
// role so the document always has the same shape.
func Compile(title string, results [NumRoles]SectionResult) (string, error) {
	failed := 0
	for _, res := range results {
		if res.Failed() {
			failed++
		}
	}
	if failed == NumRoles {
		return "", ErrAllSectionsFailed
	}

	title = strings.TrimSpace(title)
	if title == "" {
		title = "Project"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s - Technical Documentation\n\n", title)

	b.WriteString("## Quick Links\n\n")
	b.WriteString("| Item | Link |\n")
	b.WriteString("|------|------|\n")
	fmt.Fprintf(&b, "| Project | %s |\n\n", title)

	b.WriteString("## About This Document\n\n")
	fmt.Fprintf(&b, "The purpose of this technical document is to provide comprehensive technical specifications and architecture documentation for %s. This document highlights all technical deliverables, infrastructure decisions, and implementation details.\n\n", title)

	b.WriteString("## Overview of the Project\n\n")
	fmt.Fprintf(&b, "%s is documented herein with complete technical specifications extracted from the Software Requirements Specification (SRS) document.\n\n", title)

	b.WriteString("---\n\n")

	for _, role := range Roles() {
		res := results[role]
		fmt.Fprintf(&b, "%s\n\n", role.Heading())
		if res.Failed() {
			b.WriteString(role.Placeholder())
		} else {
			b.WriteString(strings.TrimSpace(res.Content))
		}
		b.WriteString("\n\n---\n\n")
	}

	b.WriteString("## Useful Links\n\n")
	b.WriteString("[Additional project resources and documentation links can be added here]\n")

	return b.String(), nil
}
