// Package router selects between a local, low latency generation backend and
// a hosted, high capability one.
//
// Selection order: explicit force flags, reserved intents (always hosted), an
// active local backoff window (hosted), short prompts without complexity
// keywords (local), then hosted when configured and local otherwise.
//
// A failing local call extends the backoff window and is retried once on the
// hosted backend. Hosted calls are retried with a short exponential backoff.
// When nothing answers, the router degrades to echoing the prompt so callers
// that expect best-effort text keep working.
package router
