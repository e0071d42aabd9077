// Package crawler implements the resumable fetch stage: a bounded worker pool
// that downloads every outstanding URL exactly once and commits each outcome
// to the crawl index through a single serialized section.
//
// Network I/O runs in parallel. Slot assignment, slot-file writes and index
// persistence happen under one mutex, which keeps the slot sequence dense no
// matter in which order fetches complete.
package crawler
