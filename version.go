package gosasshost

import (
	"encoding/json"
	"os/exec"

	"github.com/cli/safeexec"
)

// CompilerVersion describes a compiler executable's self-reported
// version information, as returned by its --version flag.
type CompilerVersion struct {
	ProtocolVersion       string `json:"protocolVersion"`
	CompilerVersion       string `json:"compilerVersion"`
	ImplementationVersion string `json:"implementationVersion"`
	ImplementationName    string `json:"implementationName"`
}

// Version runs execName (or execPath, if execName looks like a path)
// with --version and parses its JSON output. It does not require a
// running Supervisor.
func Version(execNameOrPath string) (CompilerVersion, error) {
	var v CompilerVersion

	bin, err := safeexec.LookPath(execNameOrPath)
	if err != nil {
		return v, &LifecycleError{Reason: "resolving compiler executable for --version", Cause: err}
	}

	out, err := exec.Command(bin, "--version").Output()
	if err != nil {
		return v, &LifecycleError{Reason: "running compiler --version", Cause: err}
	}

	if err := json.Unmarshal(out, &v); err != nil {
		return v, &ProtocolError{Reason: "parsing compiler --version output", Cause: err}
	}
	return v, nil
}
