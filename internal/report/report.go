// Package report renders resolution results for humans: a tabular
// repository/equivalence-class summary on stderr via olekukonko/tablewriter,
// and an optional Markdown resolution report converted to HTML via
// yuin/goldmark for --report.
package report

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/olekukonko/tablewriter"
	"github.com/yuin/goldmark"

	"github.com/justbuild-go/just-mr/internal/dedup"
	"github.com/justbuild-go/just-mr/internal/repograph"
	"github.com/justbuild-go/just-mr/internal/termcolor"
)

// PrintRepoTable renders one row per repository in g to w, showing its
// root kind and (if merged) representative. The "merged into" column is
// highlighted through cw so a dedup pass that absorbed a repository stands
// out from the (far more common) unmerged rows.
func PrintRepoTable(w io.Writer, g *repograph.Graph, partition dedup.Partition, cw *termcolor.Writer) {
	table := tablewriter.NewWriter(w)
	table.Header([]any{"repository", "root kind", "merged into"}...)

	names := make([]string, 0, len(g.Repos))
	for n := range g.Repos {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, name := range names {
		desc := g.Repos[name]
		kind := "-"
		if desc.Repository.Root != nil {
			kind = desc.Repository.Root.Kind()
		} else if desc.Repository.IsRef() {
			kind = "ref:" + desc.Repository.Ref
		}
		mergedInto := "-"
		if rep, ok := partition[name]; ok && rep != name {
			mergedInto = cw.Yellow(rep)
		}
		_ = table.Append([]string{name, kind, mergedInto})
	}
	_ = table.Render()
}

// EquivalenceClasses groups names by representative, for summarizing how
// many repositories a dedup pass merged.
func EquivalenceClasses(partition dedup.Partition) map[string][]string {
	classes := map[string][]string{}
	for name, rep := range partition {
		classes[rep] = append(classes[rep], name)
	}
	for rep := range classes {
		sort.Strings(classes[rep])
	}
	return classes
}

// Summary is the data the Markdown resolution report is rendered from.
type Summary struct {
	RepositoriesAdded   []string
	EquivalenceClasses  map[string][]string
	ImportsPerformed    []string
}

// RenderMarkdown renders s as a Markdown document.
func RenderMarkdown(s Summary) string {
	var b bytes.Buffer
	fmt.Fprintln(&b, "# Resolution report")
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "## Repositories added")
	fmt.Fprintln(&b)
	names := append([]string{}, s.RepositoriesAdded...)
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(&b, "- `%s`\n", n)
	}
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "## Equivalence classes merged")
	fmt.Fprintln(&b)
	reps := make([]string, 0, len(s.EquivalenceClasses))
	for rep := range s.EquivalenceClasses {
		reps = append(reps, rep)
	}
	sort.Strings(reps)
	for _, rep := range reps {
		members := s.EquivalenceClasses[rep]
		if len(members) <= 1 {
			continue
		}
		fmt.Fprintf(&b, "- `%s` absorbs: %s\n", rep, joinBackticks(members, rep))
	}
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "## Imports performed")
	fmt.Fprintln(&b)
	for _, imp := range s.ImportsPerformed {
		fmt.Fprintf(&b, "- %s\n", imp)
	}

	return b.String()
}

func joinBackticks(members []string, except string) string {
	var out string
	first := true
	for _, m := range members {
		if m == except {
			continue
		}
		if !first {
			out += ", "
		}
		out += "`" + m + "`"
		first = false
	}
	return out
}

// WriteHTMLReport renders s to Markdown, converts it to HTML with
// goldmark, and writes the result to path.
func WriteHTMLReport(path string, s Summary) error {
	md := RenderMarkdown(s)
	var html bytes.Buffer
	if err := goldmark.Convert([]byte(md), &html); err != nil {
		return fmt.Errorf("rendering resolution report: %w", err)
	}
	if err := os.WriteFile(path, html.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing resolution report %q: %w", path, err)
	}
	return nil
}
