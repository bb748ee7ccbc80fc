package vcs

import (
	"context"
	"errors"
	"strings"

	"github.com/keithlinneman/linnemanlabs-profile/internal/xerrors"
)

// Git drives the git CLI inside a working tree.
type Git struct {
	dir    string
	bin    string
	runner Runner
}

type GitOption func(*Git)

// WithRunner replaces the process runner, mainly for tests.
func WithRunner(r Runner) GitOption {
	return func(g *Git) { g.runner = r }
}

// WithBinary overrides the git executable.
func WithBinary(bin string) GitOption {
	return func(g *Git) { g.bin = bin }
}

func NewGit(dir string, opts ...GitOption) *Git {
	g := &Git{dir: dir, bin: "git", runner: ExecRunner{
		// never block a CI job on a credential prompt
		Env: []string{"GIT_TERMINAL_PROMPT=0"},
	}}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *Git) run(ctx context.Context, args ...string) (string, string, error) {
	return g.runner.Run(ctx, g.dir, g.bin, args...)
}

func exitCode(err error) int {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.ExitCode
	}
	return -1
}

func (g *Git) IsRepo(ctx context.Context) (bool, error) {
	out, _, err := g.run(ctx, "rev-parse", "--is-inside-work-tree")
	if err != nil {
		// 128 is git's "not a git repository"
		if exitCode(err) == 128 {
			return false, nil
		}
		return false, xerrors.Tag(xerrors.Wrap(err, "detect git work tree"), xerrors.KindVersioning)
	}
	return strings.TrimSpace(out) == "true", nil
}

func (g *Git) EnsureIdentity(ctx context.Context, id Identity) (bool, error) {
	changed := false
	for _, kv := range [][2]string{{"user.name", id.Name}, {"user.email", id.Email}} {
		key, val := kv[0], kv[1]
		out, _, err := g.run(ctx, "config", "--get", key)
		if err == nil && strings.TrimSpace(out) != "" {
			continue
		}
		// 1 means the key is unset, anything else is a real failure
		if err != nil && exitCode(err) != 1 {
			return changed, xerrors.Tag(xerrors.Wrapf(err, "read git %s", key), xerrors.KindVersioning)
		}
		if _, _, err := g.run(ctx, "config", key, val); err != nil {
			return changed, xerrors.Tag(xerrors.Wrapf(err, "set git %s", key), xerrors.KindVersioning)
		}
		changed = true
	}
	return changed, nil
}

func (g *Git) Stage(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	args := append([]string{"add", "--"}, paths...)
	if _, _, err := g.run(ctx, args...); err != nil {
		return xerrors.Tag(xerrors.Wrap(err, "git add"), xerrors.KindVersioning)
	}
	return nil
}

func (g *Git) Commit(ctx context.Context, message string) (Result, error) {
	out, stderr, err := g.run(ctx, "commit", "-m", message)
	if err != nil {
		if nothingToCommit(out + stderr) {
			return Result{NoOp: true, Output: strings.TrimSpace(out)}, nil
		}
		return Result{}, xerrors.Tag(xerrors.Wrap(err, "git commit"), xerrors.KindVersioning)
	}
	return Result{Output: strings.TrimSpace(out)}, nil
}

func (g *Git) Push(ctx context.Context) (Result, error) {
	out, stderr, err := g.run(ctx, "push")
	if err != nil {
		return Result{}, xerrors.Tag(xerrors.Wrap(err, "git push"), xerrors.KindVersioning)
	}
	// git reports push progress on stderr
	combined := strings.TrimSpace(out + stderr)
	return Result{NoOp: strings.Contains(combined, "Everything up-to-date"), Output: combined}, nil
}

func nothingToCommit(output string) bool {
	return strings.Contains(output, "nothing to commit") ||
		strings.Contains(output, "no changes added to commit")
}
