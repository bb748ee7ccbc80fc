package main

import (
	"context"

	"github.com/keithlinneman/linnemanlabs-profile/internal/log"
	"github.com/keithlinneman/linnemanlabs-profile/internal/vcs"
)

type versioningObserver interface {
	ObserveVersioning(step, result string)
}

type versionOptions struct {
	Commit   bool
	Push     bool
	Message  string
	Identity vcs.Identity
}

// recordChanges stages, commits and pushes the changed paths. Every failure
// here is logged and swallowed: the files are already on disk and the next
// scheduled run will pick them up again.
func recordChanges(ctx context.Context, vc vcs.Versioner, changed []string, o versionOptions, obs versioningObserver) {
	L := log.FromContext(ctx)

	if len(changed) == 0 {
		L.Info(ctx, "no assets changed, nothing to commit")
		return
	}
	if !o.Commit {
		L.Info(ctx, "commit disabled, leaving changes in the working tree", "changed", len(changed))
		obs.ObserveVersioning("commit", "skipped")
		return
	}

	ok, err := vc.IsRepo(ctx)
	if err != nil {
		L.Warn(ctx, "could not detect a git work tree, changes left uncommitted", "error", err)
		obs.ObserveVersioning("detect", "error")
		return
	}
	if !ok {
		L.Warn(ctx, "not inside a git work tree, changes left uncommitted", "changed", len(changed))
		obs.ObserveVersioning("detect", "skipped")
		return
	}

	set, err := vc.EnsureIdentity(ctx, o.Identity)
	if err != nil {
		L.Warn(ctx, "configuring committer identity failed", "error", err)
		obs.ObserveVersioning("identity", "error")
		return
	}
	if set {
		L.Info(ctx, "using fallback committer identity", "name", o.Identity.Name, "email", o.Identity.Email)
	}

	if err := vc.Stage(ctx, changed); err != nil {
		L.Warn(ctx, "staging changed assets failed", "paths", changed, "error", err)
		obs.ObserveVersioning("stage", "error")
		return
	}
	obs.ObserveVersioning("stage", "ok")

	res, err := vc.Commit(ctx, vcs.CommitMessage(o.Message, changed))
	if err != nil {
		L.Warn(ctx, "commit failed", "error", err)
		obs.ObserveVersioning("commit", "error")
		return
	}
	if res.NoOp {
		L.Info(ctx, "git reported nothing to commit")
		obs.ObserveVersioning("commit", "noop")
		return
	}
	obs.ObserveVersioning("commit", "ok")
	L.Info(ctx, "committed asset changes", "changed", len(changed), "output", res.Output)

	if !o.Push {
		L.Info(ctx, "push disabled, commit stays local")
		obs.ObserveVersioning("push", "skipped")
		return
	}
	res, err = vc.Push(ctx)
	if err != nil {
		L.Warn(ctx, "push failed, commit stays local until the next run", "error", err)
		obs.ObserveVersioning("push", "error")
		return
	}
	if res.NoOp {
		obs.ObserveVersioning("push", "noop")
		return
	}
	obs.ObserveVersioning("push", "ok")
	L.Info(ctx, "pushed asset changes")
}
