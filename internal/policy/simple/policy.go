// Package simple contains the permissive join policy used when throttling is
// disabled.
package simple

// Policy admits every join.
type Policy struct{}

// New creates a new Policy.
func New() *Policy {
	return &Policy{}
}

// Allow always returns true.
func (Policy) Allow(string) bool {
	return true
}
