//go:build !windows

package bifaci

import (
	"os"
	"syscall"
)

// terminateSignal is the graceful stop request sent before escalating to a kill.
var terminateSignal os.Signal = syscall.SIGTERM
