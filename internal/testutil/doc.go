// Package testutil provides reusable helpers for tests: a fluent message
// builder, scripted and failing models, and a manually advanced clock.
// Not part of the public API.
package testutil
