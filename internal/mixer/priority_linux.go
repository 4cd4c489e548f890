//go:build linux

package mixer

import "golang.org/x/sys/unix"

const tickThreadNice = -10

// raiseThreadPriority renices the calling OS thread. It needs CAP_SYS_NICE,
// so failure is expected in unprivileged containers.
func raiseThreadPriority() error {
	return unix.Setpriority(unix.PRIO_PROCESS, unix.Gettid(), tickThreadNice)
}
