package scopes

// ============================================================================
// DOMAIN-SPECIFIC SCOPES - async jobs and table uploads
// ============================================================================

const (
	JobsStart  = "jobs:start"
	JobsRead   = "jobs:read"
	JobsCancel = "jobs:cancel"

	TablesUpload = "tables:upload"
)

// DomainScopeDescriptions provides descriptions for domain scopes
var DomainScopeDescriptions = map[string]string{
	JobsStart:    "Submit asynchronous jobs",
	JobsRead:     "Poll job status and results",
	JobsCancel:   "Cancel running jobs",
	TablesUpload: "Upload table data",
}

// DomainScopeGroups defines domain-specific role groupings
var DomainScopeGroups = map[string][]string{
	"jobs:operator": {JobsStart, JobsRead, JobsCancel},
	"tables:editor": {TablesUpload, JobsStart, JobsRead, JobsCancel},
}

// Expand replaces group names with their member scopes.
func Expand(scopes []string) []string {
	out := make([]string, 0, len(scopes))
	seen := make(map[string]bool)
	for _, s := range scopes {
		members, ok := DomainScopeGroups[s]
		if !ok {
			members = []string{s}
		}
		for _, m := range members {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	return out
}
