package main

import (
	"context"
	"testing"

	"github.com/justbuild-go/just-mr/internal/checkout"
	"github.com/justbuild-go/just-mr/internal/config"
	"github.com/justbuild-go/just-mr/internal/launcher"
)

func TestResolveGitTreeCommandRejectsNeitherGiven(t *testing.T) {
	env := checkout.Env{Launch: launcher.Default}
	_, err := resolveGitTreeCommand(context.Background(), env, config.ImportEntry{})
	if err == nil {
		t.Fatal("resolveGitTreeCommand accepted an entry with neither cmd nor cmd gen")
	}
}

func TestResolveGitTreeCommandRejectsBothGiven(t *testing.T) {
	env := checkout.Env{Launch: launcher.Default}
	entry := config.ImportEntry{Cmd: []string{"echo", "x"}, CmdGen: []string{"echo", "y"}}
	_, err := resolveGitTreeCommand(context.Background(), env, entry)
	if err == nil {
		t.Fatal("resolveGitTreeCommand accepted an entry with both cmd and cmd gen")
	}
}

func TestResolveGitTreeCommandReturnsCmdDirectly(t *testing.T) {
	env := checkout.Env{Launch: launcher.Default}
	want := []string{"git", "show", "HEAD:sub"}
	entry := config.ImportEntry{Cmd: want}
	got, err := resolveGitTreeCommand(context.Background(), env, entry)
	if err != nil {
		t.Fatalf("resolveGitTreeCommand: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestImportNameForPrefersRepoOverAlias(t *testing.T) {
	r := config.ImportRepo{Alias: "upstream", Repo: "renamed"}
	if got := importNameFor(r); got != "renamed" {
		t.Fatalf("importNameFor = %q, want renamed", got)
	}
}

func TestImportNameForFallsBackToAlias(t *testing.T) {
	r := config.ImportRepo{Alias: "upstream"}
	if got := importNameFor(r); got != "upstream" {
		t.Fatalf("importNameFor = %q, want upstream", got)
	}
}
