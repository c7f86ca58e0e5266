package faultinjection

import (
	"os"
	"strings"
)

// IsTest reports whether we're running as a test.
var IsTest bool

func init() {
	for _, arg := range os.Args {
		if strings.HasPrefix(arg, "-test.") {
			IsTest = true
			break
		}
	}
}

// PanicWhen is a bitmask of injection points a test can arm to exercise
// the Supervisor's restart/Broken-state handling without a real
// misbehaving subprocess.
type PanicWhen uint8

func (p PanicWhen) Has(flag PanicWhen) bool {
	return p&flag != 0
}

func (p PanicWhen) Set(flag PanicWhen) PanicWhen {
	return p | flag
}

const (
	// ShouldPanicInSpawn panics while starting the compiler subprocess,
	// exercising the New/Reinit LifecycleError path.
	ShouldPanicInSpawn PanicWhen = 1 << iota
	// ShouldPanicInSend panics while writing a frame to the compiler
	// subprocess, exercising the mid-compile ProtocolError/restart path.
	ShouldPanicInSend
)

// Flags is the process-wide set of armed injection points. Tests set it
// directly; production code never touches it.
var Flags PanicWhen
