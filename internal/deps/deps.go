package deps

import (
	"fmt"
	"os/exec"
	"strings"
)

// Requirement is an external binary the daemon shells out to.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status is the result of resolving one Requirement on PATH.
type Status struct {
	Requirement
	// Path is the resolved executable when Available.
	Path      string
	Available bool
	Detail    string
}

// CheckBinaries resolves every requirement on PATH.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		req.Command = strings.TrimSpace(req.Command)
		st := Status{Requirement: req}
		if req.Command == "" {
			st.Detail = "command not configured"
		} else if path, err := exec.LookPath(req.Command); err != nil {
			st.Detail = fmt.Sprintf("binary %q not found", req.Command)
		} else {
			st.Path = path
			st.Available = true
		}
		results = append(results, st)
	}
	return results
}
