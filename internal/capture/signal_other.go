//go:build !unix

package capture

import "os"

var interruptSignal = os.Interrupt
