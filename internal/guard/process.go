package guard

import (
	"context"
	"errors"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sys/unix"
)

var (
	sigTerm = unix.SIGTERM
	sigKill = unix.SIGKILL
)

// alive reports whether a process exists and is not a zombie
func alive(ctx context.Context, pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return false
	}
	if statuses, err := p.StatusWithContext(ctx); err == nil {
		for _, s := range statuses {
			if s == process.Zombie {
				return false
			}
		}
	}
	running, err := p.IsRunningWithContext(ctx)
	return err == nil && running
}

// Alive is the exported form of the liveness check used by the status command
func Alive(ctx context.Context, pid int) bool {
	return alive(ctx, pid)
}

func fingerprintOf(ctx context.Context, pid int) (Fingerprint, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return Fingerprint{}, err
	}
	created, err := p.CreateTimeWithContext(ctx)
	if err != nil {
		return Fingerprint{}, err
	}
	cmdline, _ := p.CmdlineWithContext(ctx)
	return Fingerprint{
		PID:          pid,
		CreateTimeMs: created,
		Cmdline:      strings.TrimSpace(cmdline),
	}, nil
}

// Signal delivers sig to the process group led by pid, falling back to the single process
// when pid does not lead a group.
func Signal(pid int, sig unix.Signal) error {
	err := unix.Kill(-pid, sig)
	if err == nil {
		return nil
	}
	if errors.Is(err, unix.ESRCH) || errors.Is(err, unix.EPERM) {
		err = unix.Kill(pid, sig)
	}
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}
