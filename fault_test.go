package gosasshost

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/gosasshost/gosasshost/internal/faultinjection"
)

func TestFaultInjectionPanicInSpawnBecomesLifecycleError(t *testing.T) {
	c := qt.New(t)

	faultinjection.Flags = faultinjection.Flags.Set(faultinjection.ShouldPanicInSpawn)
	t.Cleanup(func() { faultinjection.Flags = 0 })

	_, err := New(Options{})
	c.Assert(err, qt.ErrorAs, new(*LifecycleError))
}

func TestFaultInjectionPanicInSendBecomesProtocolError(t *testing.T) {
	c := qt.New(t)

	s, fc := newTestSupervisor(Options{})
	runFakeCompiler(fc, scriptSucceed("body{}", ""))

	faultinjection.Flags = faultinjection.Flags.Set(faultinjection.ShouldPanicInSend)
	t.Cleanup(func() { faultinjection.Flags = 0 })

	_, err := s.Compile("body{}", CompileArgs{})
	c.Assert(err, qt.ErrorAs, new(*ProtocolError))
	// The default test spawnFunc simulates a successful restart (spec
	// §4.4), so the Supervisor lands on Idle rather than staying Broken.
	c.Assert(s.IsShutDown(), qt.Equals, false)
}
