// Package release decides what the next release looks like. The Arbiter folds
// the commit history since the previous tag into a bump level, a computed
// version and a changelog; the Gate checks that bump against the API
// compatibility classification reported by the project's API checker.
//
// Both are pure: the same previous version, commit range and policy always
// produce the same decision.
package release
