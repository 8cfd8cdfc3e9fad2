package backup

import (
	"context"
	"os/exec"
)

// Deps groups the external process hooks used by the collector and the
// archiver so tests can replace them.
type Deps struct {
	LookPath       func(string) (string, error)
	RunCommand     func(ctx context.Context, name string, args ...string) ([]byte, error)
	CommandContext func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// DefaultDeps returns hooks backed by os/exec.
func DefaultDeps() Deps {
	return Deps{
		LookPath: exec.LookPath,
		RunCommand: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).Output()
		},
		CommandContext: exec.CommandContext,
	}
}

func (d Deps) withDefaults() Deps {
	def := DefaultDeps()
	if d.LookPath == nil {
		d.LookPath = def.LookPath
	}
	if d.RunCommand == nil {
		d.RunCommand = def.RunCommand
	}
	if d.CommandContext == nil {
		d.CommandContext = def.CommandContext
	}
	return d
}
