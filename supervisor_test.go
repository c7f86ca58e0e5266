package gosasshost

import (
	"errors"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestSupervisorCompileSuccess(t *testing.T) {
	c := qt.New(t)

	s, fc := newTestSupervisor(Options{})
	runFakeCompiler(fc, scriptSucceed("body{color:red}", ""))

	result, err := s.Compile("body{color:$c}", CompileArgs{})
	c.Assert(err, qt.IsNil)
	c.Assert(result.CSS, qt.Equals, "body{color:red}")
	c.Assert(s.IsShutDown(), qt.Equals, false)
}

func TestSupervisorCompileFailureIsCompilerError(t *testing.T) {
	c := qt.New(t)

	s, fc := newTestSupervisor(Options{})
	runFakeCompiler(fc, scriptFail("Undefined variable.", &Span{HasStart: true, URL: "input.scss"}))

	_, err := s.Compile("body{color:$undefined}", CompileArgs{})
	c.Assert(err, qt.ErrorAs, new(*CompilerError))

	var cerr *CompilerError
	c.Assert(err, qt.ErrorAs, &cerr)
	c.Assert(cerr.Message, qt.Equals, "Undefined variable.")
	c.Assert(s.IsShutDown(), qt.Equals, false)
}

func TestSupervisorCollectsDiagnostics(t *testing.T) {
	c := qt.New(t)

	s, fc := newTestSupervisor(Options{})
	runFakeCompiler(fc, scriptSucceed("body{color:red}", "", wireLogEvent{
		kind:    1, // deprecation
		message: "this feature is deprecated",
	}))

	result, err := s.Compile("body{color:red}", CompileArgs{})
	c.Assert(err, qt.IsNil)
	c.Assert(result.Diagnostics, qt.HasLen, 1)
	c.Assert(result.Diagnostics[0].Kind, qt.Equals, KindDeprecation)
	c.Assert(result.Diagnostics[0].Text, qt.Equals, "this feature is deprecated")
}

func TestSupervisorProtocolErrorRestartsAndSecondCompileSucceeds(t *testing.T) {
	c := qt.New(t)

	s, fc := newTestSupervisor(Options{})
	runFakeCompiler(fc, scriptProtocolError("the compiler sent nonsense"))

	_, err := s.Compile("body{}", CompileArgs{})
	c.Assert(err, qt.ErrorAs, new(*ProtocolError))
	c.Assert(s.IsShutDown(), qt.Equals, false)

	// No manual Reinit: the restart inside the failed compile's own
	// error path already replaced the channel (spec §4.4/S6).
	newFC, ok := s.channel.(*fakeChannel)
	c.Assert(ok, qt.Equals, true)
	runFakeCompiler(newFC, scriptSucceed("body{color:red}", ""))

	result, err := s.Compile("body{color:$c}", CompileArgs{})
	c.Assert(err, qt.IsNil)
	c.Assert(result.CSS, qt.Equals, "body{color:red}")
}

func TestSupervisorBrokenWhenRestartFails(t *testing.T) {
	c := qt.New(t)

	s, fc := newTestSupervisor(Options{})
	runFakeCompiler(fc, scriptProtocolError("the compiler sent nonsense"))
	s.spawnFunc = func() (frameChannel, error) {
		return nil, errors.New("no real compiler binary available")
	}

	_, err := s.Compile("body{}", CompileArgs{})
	c.Assert(err, qt.ErrorAs, new(*ProtocolError))
	c.Assert(s.IsShutDown(), qt.Equals, true)

	_, err = s.Compile("body{}", CompileArgs{})
	c.Assert(err, qt.ErrorAs, new(*LifecycleError))

	// Reinit can still recover a Broken Supervisor once a working
	// spawnFunc is restored.
	s.spawnFunc = func() (frameChannel, error) { return newFakeChannel(), nil }
	c.Assert(s.Reinit(), qt.IsNil)
	c.Assert(s.IsShutDown(), qt.Equals, false)
}

func TestSupervisorCustomImporterRoundTrip(t *testing.T) {
	c := qt.New(t)

	resolver := &stubResolver{
		canonical: map[string]string{"pkg:colors": "pkg:colors/_index.scss"},
		content:   map[string]Import{"pkg:colors/_index.scss": {Content: "hello from colors"}},
	}

	s, fc := newTestSupervisor(Options{Importers: []ImportResolver{resolver}})
	runFakeCompiler(fc, scriptCanonicalizeThenImport("pkg:colors"))

	result, err := s.Compile("@use 'pkg:colors';", CompileArgs{})
	c.Assert(err, qt.IsNil)
	c.Assert(result.CSS, qt.Equals, "/* hello from colors */")
}

func TestSupervisorHostFunctionCall(t *testing.T) {
	c := qt.New(t)

	s, fc := newTestSupervisor(Options{Functions: map[string]func(args []Value) (Value, error){
		"greet($name)": func(args []Value) (Value, error) {
			name, _, _ := args[0].String()
			return NewString("hello, "+name, true), nil
		},
	}})
	runFakeCompiler(fc, scriptCallFunction("greet($name)", 0, valueToWire(NewString("world", true))))

	result, err := s.Compile("a{content:greet('world')}", CompileArgs{})
	c.Assert(err, qt.IsNil)
	c.Assert(result.CSS, qt.Equals, "hello, world")
}

func TestSupervisorDynamicFunctionCall(t *testing.T) {
	c := qt.New(t)

	ref := RegisterDynamicFunction(DynamicFunction{
		Signature: "double($n)",
		Callback: func(args []Value) (Value, error) {
			n, _ := args[0].AsNumber()
			return NewNumber(Number{Value: n.Value * 2}), nil
		},
	})
	id, _, _ := ref.AsDynamicFunction()

	s, fc := newTestSupervisor(Options{})
	runFakeCompiler(fc, scriptCallFunction("", id, valueToWire(NewNumber(Number{Value: 21}))))

	_, err := s.Compile("a{}", CompileArgs{})
	c.Assert(err, qt.IsNil)
}

type stubResolver struct {
	canonical map[string]string
	content   map[string]Import
}

func (r *stubResolver) CanonicalizeURL(url string) (string, error) {
	return r.canonical[url], nil
}

func (r *stubResolver) Load(canonicalizedURL string) (Import, error) {
	imp, ok := r.content[canonicalizedURL]
	if !ok {
		return Import{}, &ValueError{Reason: "not found: " + canonicalizedURL}
	}
	return imp, nil
}
