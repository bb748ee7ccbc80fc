// Package preflight checks the environment before a sync run touches
// anything: the repository must be writable and the mapping readable. Soft
// checks, such as git being installed, only produce warnings.
package preflight

import (
	"context"
	"errors"
	"os"
	"os/exec"

	"github.com/keithlinneman/linnemanlabs-profile/internal/log"
	"github.com/keithlinneman/linnemanlabs-profile/internal/xerrors"
)

// Probe returns nil when the condition holds.
type Probe interface{ Check(context.Context) error }

// CheckFunc adapts a function into a Probe.
type CheckFunc func(context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Check is a named probe. Required failures stop the run.
type Check struct {
	Name     string
	Probe    Probe
	Required bool
}

// Run evaluates every check, logs failures, and returns the joined errors
// of the required ones tagged KindSetup.
func Run(ctx context.Context, checks ...Check) error {
	L := log.FromContext(ctx)
	var errs []error
	for _, c := range checks {
		if c.Probe == nil {
			continue
		}
		err := c.Probe.Check(ctx)
		if err == nil {
			L.Debug(ctx, "preflight ok", "check", c.Name)
			continue
		}
		if !c.Required {
			L.Warn(ctx, "preflight check failed", "check", c.Name, "error", err)
			continue
		}
		errs = append(errs, xerrors.Wrapf(err, "preflight %s", c.Name))
	}
	if len(errs) == 0 {
		return nil
	}
	return xerrors.Tag(errors.Join(errs...), xerrors.KindSetup)
}

// DirWritable passes when a file can be created in dir.
func DirWritable(dir string) CheckFunc {
	return func(context.Context) error {
		fi, err := os.Stat(dir)
		if err != nil {
			return xerrors.Wrapf(err, "stat %s", dir)
		}
		if !fi.IsDir() {
			return xerrors.Newf("%s is not a directory", dir)
		}
		f, err := os.CreateTemp(dir, ".assetsync-preflight-*")
		if err != nil {
			return xerrors.Wrapf(err, "%s is not writable", dir)
		}
		name := f.Name()
		f.Close()
		return os.Remove(name)
	}
}

// FileReadable passes when path is a regular file that can be opened.
func FileReadable(path string) CheckFunc {
	return func(context.Context) error {
		f, err := os.Open(path)
		if err != nil {
			return xerrors.Wrapf(err, "open %s", path)
		}
		defer f.Close()
		fi, err := f.Stat()
		if err != nil {
			return xerrors.Wrapf(err, "stat %s", path)
		}
		if !fi.Mode().IsRegular() {
			return xerrors.Newf("%s is not a regular file", path)
		}
		return nil
	}
}

// CommandAvailable passes when name resolves on PATH.
func CommandAvailable(name string) CheckFunc {
	return func(context.Context) error {
		if _, err := exec.LookPath(name); err != nil {
			return xerrors.Wrapf(err, "find %s", name)
		}
		return nil
	}
}
