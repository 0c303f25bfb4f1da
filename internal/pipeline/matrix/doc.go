// Package matrix expands job templates into concrete job instances. The
// expansion is the Cartesian product of the template's axes with the first
// axis varying slowest, so the same template always yields the same instances
// in the same order.
package matrix
