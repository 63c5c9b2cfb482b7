// Package cache stores filter results keyed by dataset version and
// expression fingerprint.
//
// ResultCache is an LRU bounded by an approximate byte budget with a fixed
// TTL. Entries for a superseded dataset version are treated as misses and
// dropped lazily on access. Loader sits in front of the cache and ensures
// that each key is computed at most once at a time, optionally moving slow
// computations to the background and discarding results that became stale
// while they ran.
package cache
