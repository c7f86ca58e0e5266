package gosasshost

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gosasshost/gosasshost/internal/faultinjection"
)

// firstCompilationID is the first compilation id a Supervisor hands out
// (spec §4.4); ids increase monotonically for the Supervisor's lifetime,
// including across restarts, so a response racing a restart can never be
// mistaken for the new child's response.
const firstCompilationID = 1000

// Supervisor owns one compiler subprocess and serializes all compiles
// against it: only one compile is ever in flight at a time (spec §5).
// The zero Supervisor is not usable; construct one with New or
// NewFromName.
type Supervisor struct {
	mu sync.Mutex

	opts Options

	channel frameChannel
	state   supervisorState

	nextCompilationID uint32

	globalImporters []importerSlot
	globalFunctions map[string]func(args []Value) (Value, error)

	debugSink io.Writer

	// spawnFunc produces a fresh channel to the compiler, overridable in
	// tests so the restart path can be exercised without a real binary.
	spawnFunc func() (frameChannel, error)
}

// New starts a Supervisor using opts.ExecPath/ExecName to locate the
// compiler executable.
func New(opts Options) (*Supervisor, error) {
	if err := opts.init(); err != nil {
		return nil, err
	}
	s := &Supervisor{
		opts:              opts,
		nextCompilationID: firstCompilationID,
		globalImporters:   buildImporterSlots(opts.Importers, opts.IncludePaths),
		globalFunctions:   opts.Functions,
		debugSink:         opts.DebugSink,
	}
	if s.debugSink == nil {
		s.debugSink = io.Discard
	}
	s.spawnFunc = func() (frameChannel, error) {
		return spawnSubprocess(s.opts.execTarget(), s.opts.ExecArgs, s.opts.Dir, s.debugSink)
	}
	if err := s.spawn(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewFromName is a convenience wrapper that starts a Supervisor looking
// up execName on $PATH, leaving the rest of opts as given.
func NewFromName(execName string, opts Options) (*Supervisor, error) {
	opts.ExecName = execName
	opts.ExecPath = ""
	return New(opts)
}

func (s *Supervisor) spawn() (err error) {
	if faultinjection.Flags.Has(faultinjection.ShouldPanicInSpawn) {
		defer func() {
			if r := recover(); r != nil {
				s.state = stateBroken
				err = &LifecycleError{Reason: fmt.Sprintf("panic while starting compiler subprocess: %v", r)}
			}
		}()
		panic("fault injection: panic in spawn")
	}

	ch, spawnErr := s.spawnFunc()
	if spawnErr != nil {
		s.state = stateBroken
		return spawnErr
	}
	s.channel = ch
	s.state = stateIdle
	return nil
}

// ProcessID returns the compiler subprocess's pid, or 0 if the
// Supervisor has no running child (Broken or Closed).
func (s *Supervisor) ProcessID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel == nil || s.state == stateBroken || s.state == stateClosed {
		return 0
	}
	return s.channel.pid()
}

// IsShutDown reports whether the Supervisor is permanently unusable
// (Broken or Closed; spec §9).
func (s *Supervisor) IsShutDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateBroken || s.state == stateClosed
}

// Reinit replaces a Broken Supervisor's child with a freshly spawned
// one, returning it to Idle. It is a no-op returning nil if the
// Supervisor is already Idle, and a LifecycleError if the Supervisor is
// Closed (spec §9: Closed is terminal, Reinit cannot resurrect it).
func (s *Supervisor) Reinit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case stateIdle:
		return nil
	case stateClosed:
		return &LifecycleError{Reason: "Reinit called on a closed Supervisor"}
	}
	reapChannel(s.channel)
	return s.spawn()
}

// Close terminates the child and marks the Supervisor Closed. Closed is
// terminal: no further Compile or Reinit will succeed (spec §9). Close
// is idempotent.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateClosed {
		return nil
	}
	if s.channel != nil {
		s.channel.terminate()
	}
	s.state = stateClosed
	return nil
}

// Compile compiles source text under the given CompileArgs.
func (s *Supervisor) Compile(source string, args CompileArgs) (*Result, error) {
	return s.compile(args, false, source, "")
}

// CompileFile compiles the stylesheet at path.
func (s *Supervisor) CompileFile(path string, args CompileArgs) (*Result, error) {
	return s.compile(args, true, "", path)
}

func (s *Supervisor) compile(args CompileArgs, isFile bool, source, path string) (*Result, error) {
	args.init()

	s.mu.Lock()
	switch s.state {
	case stateClosed:
		s.mu.Unlock()
		return nil, &LifecycleError{Reason: "Compile called on a closed Supervisor"}
	case stateBroken:
		s.mu.Unlock()
		return nil, &LifecycleError{Reason: "Compile called on a broken Supervisor; call Reinit first"}
	case stateActive, stateActiveInCallback:
		s.mu.Unlock()
		return nil, &LifecycleError{Reason: "Compile called while another compile is in flight"}
	}

	id := s.nextCompilationID
	s.nextCompilationID++
	s.state = stateActive

	slots := append(append([]importerSlot(nil), s.globalImporters...), buildImporterSlots(args.Importers, args.IncludePaths)...)
	functions := mergeFunctions(s.globalFunctions, args.Functions)
	channel := s.channel
	timeout := s.opts.Timeout
	s.mu.Unlock()

	req := wireCompileRequest{
		id:                            id,
		isFile:                        isFile,
		text:                          source,
		syntax:                        wireSyntax(args.SourceSyntax),
		filePath:                      path,
		style:                         wireOutputStyle(args.OutputStyle),
		sourceMap:                     args.EnableSourceMap,
		sourceMapIncludeSources:       args.SourceMapIncludeSources,
		silenceDeprecations:           args.SilenceDeprecations,
		silenceDependencyDeprecations: args.SilenceDependencyDeprecations,
	}
	for i, slot := range slots {
		req.importers = append(req.importers, wireImporterDescriptor{
			id:       firstImporterID + uint32(i),
			isPath:   slot.isLoadPath(),
			path:     slot.loadPath,
			isCustom: !slot.isLoadPath(),
		})
	}
	for sig := range functions {
		req.functionSignatures = append(req.functionSignatures, sig)
	}

	result, err := s.drive(channel, id, req, slots, functions, timeout)

	s.mu.Lock()
	if s.state != stateBroken && s.state != stateClosed {
		s.state = stateIdle
	}
	s.mu.Unlock()

	return result, err
}

func mergeFunctions(global, perCompile map[string]func(args []Value) (Value, error)) map[string]func(args []Value) (Value, error) {
	merged := make(map[string]func(args []Value) (Value, error), len(global)+len(perCompile))
	overridden := make(map[string]bool, len(perCompile))
	for k := range perCompile {
		name, _, _ := strings.Cut(k, "(")
		overridden[strings.TrimSpace(name)] = true
	}
	for k, v := range global {
		name, _, _ := strings.Cut(k, "(")
		if !overridden[strings.TrimSpace(name)] {
			merged[k] = v
		}
	}
	for k, v := range perCompile {
		merged[k] = v
	}
	return merged
}

// drive sends req and services the child's requests until the matching
// CompileResponse arrives, a protocol error ends the compile (restarting
// the child via breakOnProtocolError), or the timeout expires.
func (s *Supervisor) drive(channel frameChannel, id uint32, req wireCompileRequest, slots []importerSlot, functions map[string]func(args []Value) (Value, error), timeout time.Duration) (result *Result, err error) {
	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	if faultinjection.Flags.Has(faultinjection.ShouldPanicInSend) {
		defer func() {
			if r := recover(); r != nil {
				result, err = nil, s.breakOnProtocolError(wrapProtocolError(fmt.Sprintf("panic while sending compile request: %v", r), nil))
			}
		}()
		panic("fault injection: panic in send")
	}

	if err := channel.send(marshalInboundCompileRequest(req)); err != nil {
		return nil, s.breakOnProtocolError(wrapProtocolError("sending compile request", err))
	}

	var diagnostics []CompilerMessage

	for {
		remaining := timeout
		if timeout > 0 {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				return nil, s.breakOnProtocolError(wrapProtocolError("compile timed out", nil))
			}
		}

		raw, err := channel.receive(remaining)
		if err != nil {
			return nil, s.breakOnProtocolError(wrapProtocolError("receiving message from compiler", err))
		}

		msg, err := parseOutboundMessage(raw)
		if err != nil {
			return nil, s.breakOnProtocolError(err)
		}

		switch msg.kind {
		case wireKindCompileResponse:
			r := msg.compileResponse
			if r.id != id {
				return nil, s.breakOnProtocolError(newProtocolError("compile response id mismatch"))
			}
			if !r.hasResult {
				return nil, s.breakOnProtocolError(newProtocolError("compile response carries neither success nor failure"))
			}
			if !r.success {
				return nil, &CompilerError{
					Message:     r.failureMessage,
					Span:        r.failureSpan,
					Trace:       r.failureTrace,
					Diagnostics: diagnostics,
				}
			}
			return &Result{CSS: r.css, SourceMap: r.sourceMap, Diagnostics: diagnostics}, nil

		case wireKindLogEvent:
			e := msg.logEvent
			dk, ok := diagnosticKindFromWire(e.kind)
			if !ok {
				return nil, s.breakOnProtocolError(newProtocolError("unknown log event kind"))
			}
			diag := CompilerMessage{
				Kind:  dk,
				Text:  e.message,
				Span:  e.span,
				Trace: e.trace,
			}
			if dk == KindDeprecation {
				diag.DeprecationType = e.deprecationType
			}
			diagnostics = append(diagnostics, diag)

		case wireKindProtocolErrorMsg:
			return nil, s.breakOnProtocolError(newProtocolError(msg.protocolErrorMessage))

		case wireKindCanonicalizeRequest:
			slot, err := resolveImporterSlot(slots, msg.canonicalizeRequest.importerID)
			if err == nil && slot.isLoadPath() {
				err = newProtocolError("canonicalize request for a load-path importer slot")
			}
			if err != nil {
				return nil, s.breakOnProtocolError(err)
			}
			resp := s.handleCanonicalize(msg.canonicalizeRequest, slots)
			if err := channel.send(marshalInboundCanonicalizeResponse(resp)); err != nil {
				return nil, s.breakOnProtocolError(wrapProtocolError("sending canonicalize response", err))
			}

		case wireKindImportRequest:
			slot, err := resolveImporterSlot(slots, msg.importRequest.importerID)
			if err == nil && slot.isLoadPath() {
				err = newProtocolError("import request for a load-path importer slot")
			}
			if err == nil && !hasScheme(msg.importRequest.url) {
				err = newProtocolError("import request url is not absolute")
			}
			if err != nil {
				return nil, s.breakOnProtocolError(err)
			}
			resp := s.handleImport(msg.importRequest, slots)
			if err := channel.send(marshalInboundImportResponse(resp)); err != nil {
				return nil, s.breakOnProtocolError(wrapProtocolError("sending import response", err))
			}

		case wireKindFunctionCallRequest:
			s.mu.Lock()
			s.state = stateActiveInCallback
			s.mu.Unlock()

			resp := s.handleFunctionCall(msg.functionCallRequest, functions)

			s.mu.Lock()
			if s.state == stateActiveInCallback {
				s.state = stateActive
			}
			s.mu.Unlock()

			if err := channel.send(marshalInboundFunctionCallResponse(resp)); err != nil {
				return nil, s.breakOnProtocolError(wrapProtocolError("sending function call response", err))
			}

		default:
			return nil, s.breakOnProtocolError(newProtocolError(fmt.Sprintf("unexpected message kind %d from compiler", msg.kind)))
		}
	}
}

// breakOnProtocolError tears down the current channel and attempts a
// restart, per spec §4.4's failure handling: any error other than a
// CompilerError terminates the child and tries to spawn a new one,
// landing on Idle if that succeeds or Broken if it doesn't. A Closed
// Supervisor is not respawned and stays Closed. Either way the
// triggering err is what's returned to the caller of compile.
func (s *Supervisor) breakOnProtocolError(err error) error {
	s.mu.Lock()
	reapChannel(s.channel)
	if s.state != stateClosed {
		s.spawn()
	}
	s.mu.Unlock()
	return err
}

func (s *Supervisor) handleCanonicalize(req *wireCanonicalizeRequest, slots []importerSlot) wireCanonicalizeResponse {
	slot, err := resolveImporterSlot(slots, req.importerID)
	if err != nil {
		return wireCanonicalizeResponse{id: req.id, hasError: true, errMsg: err.Error()}
	}
	if slot.isLoadPath() {
		return wireCanonicalizeResponse{id: req.id, hasError: true, errMsg: "load-path importer slots are resolved by the compiler itself"}
	}
	url, err := slot.resolver.CanonicalizeURL(req.url)
	if err != nil {
		return wireCanonicalizeResponse{id: req.id, hasError: true, errMsg: err.Error()}
	}
	if url == "" {
		return wireCanonicalizeResponse{id: req.id}
	}
	return wireCanonicalizeResponse{id: req.id, hasURL: true, url: url}
}

func (s *Supervisor) handleImport(req *wireImportRequest, slots []importerSlot) wireImportResponse {
	slot, err := resolveImporterSlot(slots, req.importerID)
	if err != nil {
		return wireImportResponse{id: req.id, errMsg: err.Error()}
	}
	if slot.isLoadPath() {
		return wireImportResponse{id: req.id, errMsg: "load-path importer slots are resolved by the compiler itself"}
	}
	imp, err := slot.resolver.Load(req.url)
	if err != nil {
		return wireImportResponse{id: req.id, errMsg: err.Error()}
	}
	return wireImportResponse{
		id:           req.id,
		success:      true,
		contents:     imp.Content,
		syntax:       wireSyntax(imp.SourceSyntax),
		sourceMapURL: imp.SourceMapURL,
	}
}

func (s *Supervisor) handleFunctionCall(req *wireFunctionCallRequest, functions map[string]func(args []Value) (Value, error)) wireFunctionCallResponse {
	var fn func(args []Value) (Value, error)
	switch {
	case req.hasFunctionID:
		dynFn, ok := globalDynamicFunctionRegistry.lookup(req.functionID)
		if !ok {
			return wireFunctionCallResponse{id: req.id, errMsg: fmt.Sprintf("no dynamic function registered for id %d", req.functionID)}
		}
		fn = dynFn.Callback
	case req.hasName:
		var ok bool
		fn, ok = functions[req.name]
		if !ok {
			return wireFunctionCallResponse{id: req.id, errMsg: fmt.Sprintf("no host function registered for %q", req.name)}
		}
	default:
		return wireFunctionCallResponse{id: req.id, errMsg: "function call request identifies neither a name nor a dynamic function id"}
	}

	args := make([]Value, len(req.arguments))
	for i, wv := range req.arguments {
		v, err := wireToValue(wv)
		if err != nil {
			return wireFunctionCallResponse{id: req.id, errMsg: err.Error()}
		}
		args[i] = v
	}

	result, err := fn(args)
	if err != nil {
		return wireFunctionCallResponse{id: req.id, errMsg: err.Error()}
	}
	return wireFunctionCallResponse{id: req.id, success: true, result: valueToWire(result)}
}
