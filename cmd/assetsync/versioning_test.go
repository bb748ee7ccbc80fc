package main

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/keithlinneman/linnemanlabs-profile/internal/assetsync"
	"github.com/keithlinneman/linnemanlabs-profile/internal/vcs"
)

// fakeVersioner records the steps it was asked to perform.
type fakeVersioner struct {
	isRepo      bool
	isRepoErr   error
	identitySet bool
	identityErr error
	stageErr    error
	commitRes   vcs.Result
	commitErr   error
	pushRes     vcs.Result
	pushErr     error

	steps   []string
	staged  []string
	message string
}

func (f *fakeVersioner) IsRepo(context.Context) (bool, error) {
	f.steps = append(f.steps, "detect")
	return f.isRepo, f.isRepoErr
}

func (f *fakeVersioner) EnsureIdentity(context.Context, vcs.Identity) (bool, error) {
	f.steps = append(f.steps, "identity")
	return f.identitySet, f.identityErr
}

func (f *fakeVersioner) Stage(_ context.Context, paths []string) error {
	f.steps = append(f.steps, "stage")
	f.staged = paths
	return f.stageErr
}

func (f *fakeVersioner) Commit(_ context.Context, msg string) (vcs.Result, error) {
	f.steps = append(f.steps, "commit")
	f.message = msg
	return f.commitRes, f.commitErr
}

func (f *fakeVersioner) Push(context.Context) (vcs.Result, error) {
	f.steps = append(f.steps, "push")
	return f.pushRes, f.pushErr
}

type observations []string

func (o *observations) ObserveVersioning(step, result string) {
	*o = append(*o, step+"="+result)
}

var defaultVersionOptions = versionOptions{
	Commit:   true,
	Push:     true,
	Message:  "chore(assets): refresh cached profile assets",
	Identity: vcs.Identity{Name: "bot", Email: "bot@example.com"},
}

func TestRecordChanges(t *testing.T) {
	changed := []string{"assets/a.svg", "assets/b.png"}

	tests := []struct {
		name      string
		vc        *fakeVersioner
		opts      versionOptions
		changed   []string
		wantSteps string
		wantObs   string
	}{
		{
			name:      "nothing changed",
			vc:        &fakeVersioner{isRepo: true},
			opts:      defaultVersionOptions,
			wantSteps: "",
			wantObs:   "",
		},
		{
			name:      "full flow",
			vc:        &fakeVersioner{isRepo: true},
			opts:      defaultVersionOptions,
			changed:   changed,
			wantSteps: "detect,identity,stage,commit,push",
			wantObs:   "stage=ok,commit=ok,push=ok",
		},
		{
			name:      "not a repository",
			vc:        &fakeVersioner{isRepo: false},
			opts:      defaultVersionOptions,
			changed:   changed,
			wantSteps: "detect",
			wantObs:   "detect=skipped",
		},
		{
			name:      "git unavailable",
			vc:        &fakeVersioner{isRepoErr: errors.New("exec: git: not found")},
			opts:      defaultVersionOptions,
			changed:   changed,
			wantSteps: "detect",
			wantObs:   "detect=error",
		},
		{
			name:      "identity failure",
			vc:        &fakeVersioner{isRepo: true, identityErr: errors.New("locked config")},
			opts:      defaultVersionOptions,
			changed:   changed,
			wantSteps: "detect,identity",
			wantObs:   "identity=error",
		},
		{
			name:      "stage failure",
			vc:        &fakeVersioner{isRepo: true, stageErr: errors.New("index.lock exists")},
			opts:      defaultVersionOptions,
			changed:   changed,
			wantSteps: "detect,identity,stage",
			wantObs:   "stage=error",
		},
		{
			name:      "commit failure",
			vc:        &fakeVersioner{isRepo: true, commitErr: errors.New("hook failed")},
			opts:      defaultVersionOptions,
			changed:   changed,
			wantSteps: "detect,identity,stage,commit",
			wantObs:   "stage=ok,commit=error",
		},
		{
			name:      "nothing to commit",
			vc:        &fakeVersioner{isRepo: true, commitRes: vcs.Result{NoOp: true}},
			opts:      defaultVersionOptions,
			changed:   changed,
			wantSteps: "detect,identity,stage,commit",
			wantObs:   "stage=ok,commit=noop",
		},
		{
			name:      "push failure is soft",
			vc:        &fakeVersioner{isRepo: true, pushErr: errors.New("rejected")},
			opts:      defaultVersionOptions,
			changed:   changed,
			wantSteps: "detect,identity,stage,commit,push",
			wantObs:   "stage=ok,commit=ok,push=error",
		},
		{
			name:      "push disabled",
			vc:        &fakeVersioner{isRepo: true},
			opts:      versionOptions{Commit: true, Message: "m"},
			changed:   changed,
			wantSteps: "detect,identity,stage,commit",
			wantObs:   "stage=ok,commit=ok,push=skipped",
		},
		{
			name:      "commit disabled",
			vc:        &fakeVersioner{isRepo: true},
			opts:      versionOptions{},
			changed:   changed,
			wantSteps: "",
			wantObs:   "commit=skipped",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var obs observations
			recordChanges(context.Background(), tt.vc, tt.changed, tt.opts, &obs)

			if got := strings.Join(tt.vc.steps, ","); got != tt.wantSteps {
				t.Errorf("steps = %q, want %q", got, tt.wantSteps)
			}
			if got := strings.Join(obs, ","); got != tt.wantObs {
				t.Errorf("observations = %q, want %q", got, tt.wantObs)
			}
		})
	}
}

func TestRecordChanges_StagesExactlyChangedPaths(t *testing.T) {
	vc := &fakeVersioner{isRepo: true}
	changed := []string{"assets/a.svg", "assets/b.png"}
	var obs observations
	recordChanges(context.Background(), vc, changed, defaultVersionOptions, &obs)

	if strings.Join(vc.staged, ",") != "assets/a.svg,assets/b.png" {
		t.Fatalf("staged = %q", vc.staged)
	}
	if !strings.HasPrefix(vc.message, defaultVersionOptions.Message+"\n\n") {
		t.Fatalf("commit message = %q", vc.message)
	}
	for _, p := range changed {
		if !strings.Contains(vc.message, "- "+p) {
			t.Fatalf("commit message does not list %s:\n%s", p, vc.message)
		}
	}
}

func TestPublishable(t *testing.T) {
	report := &assetsync.Report{Outcomes: []assetsync.Outcome{
		{Path: "assets/a.svg", Ext: "svg", Status: assetsync.StatusChanged},
		{Path: "assets/b.png", Ext: "png", Status: assetsync.StatusUnchanged},
		{Path: "assets/c.svg", Ext: "svg", Status: assetsync.StatusFailed},
		{Status: assetsync.StatusSkipped},
	}}
	got := publishable(report)
	if len(got) != 2 || got[0].Path != "assets/a.svg" || got[1].Path != "assets/b.png" || got[1].Ext != "png" {
		t.Fatalf("publishable = %+v", got)
	}
}
