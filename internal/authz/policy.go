package authz

// Policy carries the configurable parts of authorization behaviour. The
// elevated set is injected rather than hard-coded so deployments can override
// which role codes short-circuit membership checks.
type Policy struct {
	ElevatedRoleCodes []string
}

// DefaultPolicy returns the stock policy.
func DefaultPolicy() Policy {
	return Policy{ElevatedRoleCodes: []string{"SUPER_ADMIN", "ADMIN"}}
}

// Elevated reports whether any of the given role codes is in the elevated set.
func (p Policy) Elevated(roleCodes []string) bool {
	for _, code := range roleCodes {
		for _, elevated := range p.ElevatedRoleCodes {
			if code == elevated {
				return true
			}
		}
	}
	return false
}
