// Package source provides the datasets the filter engine reads.
//
// Store is the in-memory copy-on-write holder shared by every source:
// readers take an immutable snapshot with one atomic load and writers
// publish a replacement with a strictly higher version. YAMLFile and
// SQLite fill a Store from disk and keep it current, and Synthetic
// generates reproducible records for benchmarks and demos.
package source
