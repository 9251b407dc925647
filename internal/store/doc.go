// Package store is the versioned record store: the single entry point that
// ties the blob store, the relational index and snapshot persistence
// together.
//
// # Save protocol
//
// Every save walks the same stages:
//
//	start → blob_written → index_committed → persisted → done
//
// The blob for the target version is written first. The index is then
// cloned (the rollback point) and the version row appended. Finally the
// whole index is persisted. A failure at any stage leaves the store in a
// well-defined state:
//
//   - before blob_written: nothing changed
//   - before index_committed: an orphan blob, which no row references
//   - before persisted: the in-memory index is restored from the clone
//
// A save is reported successful only after the snapshot is durable.
//
// # Concurrency
//
// One sync.RWMutex gates the store. Saves and export records hold the write
// lock for their whole duration, including disk I/O; reads hold the read
// lock and never observe a half-applied save. There are no background
// goroutines. Exclusion between processes is left to the host (see
// internal/lock).
//
// # Errors
//
// All errors are *storeerr.Error values carrying the operation, record
// identity, version and, for saves, the stage that failed.
package store
