// Package debug gates verbose tracing behind GEMCHAT_DEBUG=1 or --verbose.
package debug

import (
	"log"
	"os"
	"strings"
	"sync/atomic"
)

var enabled atomic.Bool

func init() {
	enabled.Store(strings.EqualFold(os.Getenv("GEMCHAT_DEBUG"), "1"))
}

// Set toggles tracing.
func Set(on bool) {
	enabled.Store(on)
}

func Enabled() bool {
	return enabled.Load()
}

// Logf logs only when tracing is on.
func Logf(format string, args ...interface{}) {
	if enabled.Load() {
		log.Printf(format, args...)
	}
}
