// Package reporting builds consolidated tables on request.
//
// It picks the raw input (a stored snapshot or a live fetch), turns saved
// group assignments into rules ahead of the configured ones, runs the
// consolidate builder and caches the result. The HTTP handlers and the
// snapshot worker are its only callers.
package reporting
