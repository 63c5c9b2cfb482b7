// Package filter compiles task filter expressions and evaluates them over
// dataset snapshots.
//
// Filter text is a sequence of terms combined with "and" (also implied by
// adjacency), "or" and "not", grouped with parentheses and optionally
// followed by a trailing sort token:
//
//	status:pending (project:work or +urgent) due:<=eow sort:due
//
// Compile turns text into an immutable Expression with a canonical form and
// fingerprint suitable for cache keys. Bind resolves literal values such as
// relative dates, and Program.Run performs a single filtering pass followed
// by a stable sort.
package filter
