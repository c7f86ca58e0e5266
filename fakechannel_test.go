package gosasshost

import (
	"errors"
	"sync"
	"time"
)

// fakeChannel is a frameChannel implementation that plays both ends of
// the wire protocol in-process, so the Supervisor's driver loop can be
// exercised without a real dart-sass-embedded/sass binary (see
// SPEC_FULL.md's Testing Strategy; mirrors the test seam the teacher
// keeps at conn.go's byteReadWriteCloser).
type fakeChannel struct {
	toFake   chan []byte
	fromFake chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		toFake:   make(chan []byte, 16),
		fromFake: make(chan []byte, 16),
		closed:   make(chan struct{}),
	}
}

func (f *fakeChannel) send(payload []byte) error {
	select {
	case f.toFake <- payload:
		return nil
	case <-f.closed:
		return errors.New("fake channel closed")
	}
}

func (f *fakeChannel) receive(timeout time.Duration) ([]byte, error) {
	var after <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		after = timer.C
	}
	select {
	case b := <-f.fromFake:
		return b, nil
	case <-after:
		return nil, fakeTimeoutError{}
	case <-f.closed:
		return nil, errors.New("fake channel closed")
	}
}

func (f *fakeChannel) terminate() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeChannel) pid() int { return 4242 }

type fakeTimeoutError struct{}

func (fakeTimeoutError) Error() string { return "fake channel receive timed out" }
func (fakeTimeoutError) Timeout() bool { return true }

// recvFromHost and sendToHost are used only by the fake compiler side
// (the goroutine playing the role of the external process).
func (f *fakeChannel) recvFromHost() ([]byte, bool) {
	select {
	case b := <-f.toFake:
		return b, true
	case <-f.closed:
		return nil, false
	}
}

func (f *fakeChannel) sendToHost(b []byte) {
	select {
	case f.fromFake <- b:
	case <-f.closed:
	}
}

// fakeCompilerScript plays the compiler's side of one compile, starting
// from the already-parsed CompileRequest.
type fakeCompilerScript func(f *fakeChannel, req wireCompileRequest)

// runFakeCompiler starts a goroutine that waits for the host's
// CompileRequest and then hands control to script.
func runFakeCompiler(f *fakeChannel, script fakeCompilerScript) {
	go func() {
		raw, ok := f.recvFromHost()
		if !ok {
			return
		}
		msg, err := parseInboundMessage(raw)
		if err != nil || msg.compileRequest == nil {
			return
		}
		script(f, *msg.compileRequest)
	}()
}

// scriptSucceed immediately replies with a successful compile, optionally
// preceded by logEvents.
func scriptSucceed(css, sourceMap string, logEvents ...wireLogEvent) fakeCompilerScript {
	return func(f *fakeChannel, req wireCompileRequest) {
		for _, e := range logEvents {
			f.sendToHost(wrapEnvelope(wireKindLogEvent, marshalLogEvent(e)))
		}
		f.sendToHost(marshalOutboundCompileResponse(wireCompileResponse{
			id:      req.id,
			success: true,
			css:     css,
			sourceMap: sourceMap,
		}))
	}
}

// scriptFail immediately replies with a failed compile.
func scriptFail(message string, span *Span) fakeCompilerScript {
	return func(f *fakeChannel, req wireCompileRequest) {
		f.sendToHost(marshalOutboundCompileResponse(wireCompileResponse{
			id:             req.id,
			success:        false,
			failureMessage: message,
			failureSpan:    span,
		}))
	}
}

// scriptProtocolError sends a raw ProtocolError message instead of a
// CompileResponse.
func scriptProtocolError(reason string) fakeCompilerScript {
	return func(f *fakeChannel, req wireCompileRequest) {
		f.sendToHost(marshalOutboundProtocolError(reason))
	}
}

// scriptCanonicalizeThenImport issues a CanonicalizeRequest against the
// first importer slot, then an ImportRequest, then succeeds with css
// built from whatever content the host's importer returned.
func scriptCanonicalizeThenImport(url string) fakeCompilerScript {
	return func(f *fakeChannel, req wireCompileRequest) {
		if len(req.importers) == 0 {
			f.sendToHost(marshalOutboundCompileResponse(wireCompileResponse{id: req.id, success: false, failureMessage: "no importers configured"}))
			return
		}
		importerID := req.importers[0].id

		f.sendToHost(marshalOutboundCanonicalizeRequest(wireCanonicalizeRequest{
			id: 1, compilationID: req.id, importerID: importerID, url: url,
		}))
		raw, ok := f.recvFromHost()
		if !ok {
			return
		}
		msg, err := parseInboundMessage(raw)
		if err != nil || msg.canonicalizeResponse == nil {
			return
		}
		if msg.canonicalizeResponse.hasError {
			f.sendToHost(marshalOutboundCompileResponse(wireCompileResponse{id: req.id, success: false, failureMessage: msg.canonicalizeResponse.errMsg}))
			return
		}

		f.sendToHost(marshalOutboundImportRequest(wireImportRequest{
			id: 2, compilationID: req.id, importerID: importerID, url: msg.canonicalizeResponse.url,
		}))
		raw, ok = f.recvFromHost()
		if !ok {
			return
		}
		msg, err = parseInboundMessage(raw)
		if err != nil || msg.importResponse == nil {
			return
		}
		if !msg.importResponse.success {
			f.sendToHost(marshalOutboundCompileResponse(wireCompileResponse{id: req.id, success: false, failureMessage: msg.importResponse.errMsg}))
			return
		}

		f.sendToHost(marshalOutboundCompileResponse(wireCompileResponse{
			id: req.id, success: true, css: "/* " + msg.importResponse.contents + " */",
		}))
	}
}

// scriptCallFunction issues a FunctionCallRequest by name (or, if
// byID is non-zero, by dynamic function id) with the given arguments,
// then succeeds with the returned value's text as css (empty when the
// value is not a string).
func scriptCallFunction(name string, byID uint32, args ...wireValue) fakeCompilerScript {
	return func(f *fakeChannel, req wireCompileRequest) {
		call := wireFunctionCallRequest{id: 1, compilationID: req.id, arguments: args}
		if byID != 0 {
			call.hasFunctionID = true
			call.functionID = byID
		} else {
			call.hasName = true
			call.name = name
		}
		f.sendToHost(marshalOutboundFunctionCallRequest(call))

		raw, ok := f.recvFromHost()
		if !ok {
			return
		}
		msg, err := parseInboundMessage(raw)
		if err != nil || msg.functionCallResponse == nil {
			return
		}
		if !msg.functionCallResponse.success {
			f.sendToHost(marshalOutboundCompileResponse(wireCompileResponse{id: req.id, success: false, failureMessage: msg.functionCallResponse.errMsg}))
			return
		}
		v, err := wireToValue(msg.functionCallResponse.result)
		if err != nil {
			f.sendToHost(marshalOutboundCompileResponse(wireCompileResponse{id: req.id, success: false, failureMessage: err.Error()}))
			return
		}
		text, _, _ := v.String()
		f.sendToHost(marshalOutboundCompileResponse(wireCompileResponse{id: req.id, success: true, css: text}))
	}
}

// newTestSupervisor builds a Supervisor wired to a fakeChannel instead of
// a real subprocess, bypassing New/spawnSubprocess entirely. Its
// spawnFunc simulates a successful restart by default, handing back a
// fresh fakeChannel the way a real respawn would hand back a fresh
// subprocessChannel; tests exercising a failed restart can overwrite
// spawnFunc directly, since they live in the same package.
func newTestSupervisor(opts Options) (*Supervisor, *fakeChannel) {
	fc := newFakeChannel()
	s := &Supervisor{
		opts:              opts,
		nextCompilationID: firstCompilationID,
		globalImporters:   buildImporterSlots(opts.Importers, opts.IncludePaths),
		globalFunctions:   opts.Functions,
		debugSink:         nil,
		channel:           fc,
		state:             stateIdle,
	}
	s.spawnFunc = func() (frameChannel, error) {
		return newFakeChannel(), nil
	}
	return s, fc
}
