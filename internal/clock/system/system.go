// Package system provides the wall-clock Clock implementation.
package system

import "time"

// Clock reads the system clock in UTC.
type Clock struct{}

// New constructs a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (c *Clock) Now() time.Time {
	return time.Now().UTC()
}
