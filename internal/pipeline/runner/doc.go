// Package runner executes one job instance against the check tool bound to its
// template. Every failure mode (non-zero exit, missing tool, deadline) ends up
// as data on the returned Outcome; Run never returns an error and never
// touches any instance but its own.
package runner
