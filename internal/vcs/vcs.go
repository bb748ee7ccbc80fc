// Package vcs records synchronized assets in version control.
//
// Versioner is the narrow surface the synchronizer needs: stage the changed
// paths, commit them, and push. Git implements it by running the git binary
// through a Runner, so tests and alternative backends can stand in for it.
package vcs

import (
	"context"
	"fmt"
	"strings"
)

// Identity is the committer used when the workspace has none configured.
type Identity struct {
	Name  string
	Email string
}

// Result describes a versioning step that did not fail.
type Result struct {
	// NoOp is true when there was nothing to do, e.g. nothing to commit
	NoOp   bool
	Output string
}

type Versioner interface {
	// IsRepo reports whether the workspace is under version control.
	IsRepo(ctx context.Context) (bool, error)
	// EnsureIdentity configures id unless an identity is already set. It
	// reports whether anything was changed.
	EnsureIdentity(ctx context.Context, id Identity) (bool, error)
	Stage(ctx context.Context, paths []string) error
	Commit(ctx context.Context, message string) (Result, error)
	Push(ctx context.Context) (Result, error)
}

// CommitMessage builds a subject plus a body listing paths.
func CommitMessage(subject string, paths []string) string {
	subject = strings.TrimSpace(subject)
	if len(paths) == 0 {
		return subject
	}
	var b strings.Builder
	b.WriteString(subject)
	fmt.Fprintf(&b, "\n\nUpdated %d asset", len(paths))
	if len(paths) != 1 {
		b.WriteString("s")
	}
	b.WriteString(":\n")
	for _, p := range paths {
		b.WriteString("- ")
		b.WriteString(p)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
