//go:build unix

package capture

import "syscall"

// interruptSignal asks the capture subprocess to exit cleanly before
// escalating to SIGKILL.
var interruptSignal = syscall.SIGTERM
