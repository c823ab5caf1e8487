package replicate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nodesync/nodesync/internal/inventory"
)

// nodeIDPattern is the grammar for one node identifier: no whitespace, no
// separators other than the comma between identifiers.
var nodeIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Job is one replication candidate advancing through the decision pipeline
// exactly once.
type Job struct {
	Path          string // namespace/key as read from the input row
	Namespace     string
	Key           string
	DeclaredNodes []string
	Target        string
}

// Result is the terminal outcome of one job.
type Result struct {
	Path        string
	Sources     []string // Declared nodes; narrowed to the resolved source once a copy ran
	Target      string
	ProbeStatus int // Target probe status; 0 when the probe never ran
	Decision    Decision
	Info        string
}

// ParseJob validates one input row against the path and node-list grammar.
// A violation returns a descriptive error; the caller turns it into an
// InvalidFormat decision rather than aborting the run.
func ParseJob(row inventory.Row, target string) (*Job, error) {
	ns, key, ok := strings.Cut(row.Path, "/")
	if !ok || ns == "" || key == "" {
		return nil, fmt.Errorf("path %q is not <namespace>/<key>", row.Path)
	}

	if row.Nodes == "" {
		return nil, fmt.Errorf("empty node list")
	}
	tokens := strings.Split(row.Nodes, ",")
	nodes := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if !nodeIDPattern.MatchString(tok) {
			return nil, fmt.Errorf("invalid node identifier %q", tok)
		}
		nodes = append(nodes, tok)
	}

	return &Job{
		Path:          row.Path,
		Namespace:     ns,
		Key:           key,
		DeclaredNodes: nodes,
		Target:        target,
	}, nil
}

// DestPath returns the destination container path with the namespace
// override applied. Only the namespace segment may change; the relative key
// is preserved.
func (j *Job) DestPath(namespaceOverride string) string {
	if namespaceOverride == "" {
		return j.Path
	}
	return namespaceOverride + "/" + j.Key
}

// declaresTarget reports whether the declared node set includes the target.
func (j *Job) declaresTarget() bool {
	for _, n := range j.DeclaredNodes {
		if n == j.Target {
			return true
		}
	}
	return false
}
