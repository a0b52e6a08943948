//go:build windows

package bifaci

import "os"

// Windows has no SIGTERM for child processes; terminate means kill.
var terminateSignal os.Signal = os.Kill
