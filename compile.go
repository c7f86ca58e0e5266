package gosasshost

// CompileText is a convenience wrapper that starts a one-shot Supervisor,
// compiles source, and closes it. Callers making more than one compile
// should hold onto a Supervisor themselves (spawning a subprocess per
// compile defeats the point of the embedded protocol).
func CompileText(source string, args CompileArgs, opts Options) (*Result, error) {
	s, err := New(opts)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return s.Compile(source, args)
}

// CompileFile is CompileText's file-based counterpart.
func CompileFile(path string, args CompileArgs, opts Options) (*Result, error) {
	s, err := New(opts)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return s.CompileFile(path, args)
}
