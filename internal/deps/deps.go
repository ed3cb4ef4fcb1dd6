// Package deps reports whether the codec binaries uploadai shells out to can
// be found, or fetched, before a conversion starts.
package deps

import (
	"fmt"
	"os/exec"
	"strings"
)

// Requirement names one external binary.
type Requirement struct {
	Name    string
	Command string
	// FallbackURL is where the engine downloads the binary when it is not
	// installed.
	FallbackURL string
	Optional    bool
}

// Status is the outcome of looking up a Requirement.
type Status struct {
	Name      string
	Command   string
	Path      string
	Optional  bool
	Available bool
	Fetchable bool
	Detail    string
}

// Satisfied reports whether the binary will not block a conversion.
func (s Status) Satisfied() bool {
	return s.Available || s.Fetchable || s.Optional
}

// LookupFunc resolves a command to an absolute path.
type LookupFunc func(string) (string, error)

// CheckBinaries looks up each requirement on PATH. Commands containing a
// path separator are checked directly.
func CheckBinaries(requirements []Requirement) []Status {
	return checkBinaries(requirements, exec.LookPath)
}

func checkBinaries(requirements []Requirement, lookup LookupFunc) []Status {
	out := make([]Status, len(requirements))
	for i, req := range requirements {
		out[i] = check(req, lookup)
	}
	return out
}

func check(req Requirement, lookup LookupFunc) Status {
	st := Status{
		Name:     req.Name,
		Command:  strings.TrimSpace(req.Command),
		Optional: req.Optional,
	}
	if st.Command == "" {
		st.Detail = "command not configured"
		return st
	}

	path, err := lookup(st.Command)
	if err == nil {
		st.Available = true
		st.Path = path
		return st
	}

	st.Detail = fmt.Sprintf("binary %q not found", st.Command)
	if url := strings.TrimSpace(req.FallbackURL); url != "" {
		st.Fetchable = true
		st.Detail += "; will download from " + url
	}
	return st
}
