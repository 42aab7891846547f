// Package clock abstracts wall-clock time so stages can be tested
// deterministically.
package clock

import "time"

// Clock yields the current time.
type Clock interface {
	Now() time.Time
}

// System is the production clock.
type System struct{}

// Now returns the current UTC time.
func (System) Now() time.Time {
	return time.Now().UTC()
}
