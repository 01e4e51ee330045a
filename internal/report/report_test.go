package report

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/justbuild-go/just-mr/internal/dedup"
	"github.com/justbuild-go/just-mr/internal/repograph"
	"github.com/justbuild-go/just-mr/internal/termcolor"
)

func TestEquivalenceClassesGroupsByRepresentative(t *testing.T) {
	p := dedup.Partition{"a": "a", "b": "a", "c": "c"}
	classes := EquivalenceClasses(p)
	if len(classes["a"]) != 2 {
		t.Fatalf("class a has %d members, want 2", len(classes["a"]))
	}
	if len(classes["c"]) != 1 {
		t.Fatalf("class c has %d members, want 1", len(classes["c"]))
	}
}

func TestRenderMarkdownIncludesMergedClasses(t *testing.T) {
	md := RenderMarkdown(Summary{
		RepositoriesAdded:  []string{"main", "utilA", "utilB"},
		EquivalenceClasses: map[string][]string{"utilA": {"utilA", "utilB"}},
		ImportsPerformed:   []string{"imported util from foreign.json"},
	})
	if !strings.Contains(md, "utilA") || !strings.Contains(md, "utilB") {
		t.Fatalf("markdown missing merged class members: %s", md)
	}
	if !strings.Contains(md, "imported util from foreign.json") {
		t.Fatal("markdown missing import entry")
	}
}

func TestPrintRepoTableHighlightsMergedRepositories(t *testing.T) {
	g := repograph.NewGraph()
	g.Main = "main"
	g.Repos["main"] = fileDesc(t, "/main")
	g.Repos["util"] = fileDesc(t, "/util")

	partition := dedup.Partition{"main": "main", "util": "main"}

	var buf bytes.Buffer
	f, err := os.CreateTemp("", "report-test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(f.Name())
	defer f.Close()
	cw := termcolor.NewWriter(f, termcolor.ColorAlways)

	PrintRepoTable(&buf, g, partition, cw)
	out := buf.String()
	if !strings.Contains(out, "util") || !strings.Contains(out, "main") {
		t.Fatalf("table missing expected repository names: %s", out)
	}
	if !strings.Contains(out, cw.Yellow("main")) {
		t.Fatalf("merged-into cell was not colorized: %s", out)
	}
}

func fileDesc(t *testing.T, path string) *repograph.Description {
	t.Helper()
	return &repograph.Description{
		Repository: repograph.RootSlot{Root: &repograph.Root{Variant: &repograph.File{Path: path}}},
	}
}

func TestWriteHTMLReportProducesFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/report.html"
	err := WriteHTMLReport(path, Summary{RepositoriesAdded: []string{"main"}})
	if err != nil {
		t.Fatalf("WriteHTMLReport: %v", err)
	}
}
