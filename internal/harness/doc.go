// Package harness runs record-store scenarios described in YAML.
//
// A scenario is a sequence of store operations with expected outcomes,
// followed by assertions on the final state. Each run uses a fresh data
// directory, a deterministic clock and sequential operation ids, so the
// recorded trace is reproducible and can be compared against a golden file.
//
// # Scenario Format
//
//	name: complaint_lifecycle
//	description: "A complaint is received, closed and rendered"
//	codec: zstd            # optional snapshot codec
//	steps:
//	  - op: save
//	    template: complaint_record_v1
//	    record: CR-2025-0001
//	    author: tanaka
//	    data: { status: 受付中 }
//	    expect: { version: 1, created: true }
//	  - op: save
//	    template: complaint_record_v1
//	    record: CR-2025-0001
//	    author: tanaka
//	    data: { status: 完了 }
//	    fault: persisted     # inject a crash before this stage
//	    expect: { error: IO, stage: persisted }
//	  - op: reopen
//	  - op: diff
//	    template: complaint_record_v1
//	    record: CR-2025-0001
//	    from: 1
//	    to: 2
//	    expect: { changed: [status] }
//	assertions:
//	  - type: document
//	    template: complaint_record_v1
//	    record: CR-2025-0001
//	    expect: { status: 完了, latest_version: 2 }
//	  - type: version_count
//	    template: complaint_record_v1
//	    record: CR-2025-0001
//	    count: 2
//
// # Operations
//
//   - save: SaveRecord with template, record, author and data
//   - export: RecordExport with version (0 = latest), artifact, author, purpose
//   - diff: DiffVersions between from and to
//   - reopen: reload the store from disk, as after a restart
//
// A fault names the save stage (blob_written, index_committed, persisted)
// before which the store fails, exactly as a crash there would.
//
// # Assertion Types
//
//   - document: subset match on the document's current-state row
//   - version_count: number of versions of a record
//   - export_count: number of export rows of a record
//   - orphan_count: number of blob files no version references
//   - trace_count: number of steps of one op with a given outcome
package harness
