// Package harness runs ledger scenarios end to end and compares their
// outcome with golden snapshots.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: split_lineage
//	description: "A is split into B and C"
//	start: "2024-05-01T10:00:00Z"
//	flow:
//	  - op: append
//	    event:
//	      atom_uid: 01HZY3K8Q2M4N6P8R0T2V4X6ZA
//	      atom_key: acme/deploy/v1/build/all/001
//	      event_type: created
//	      meta: { title: "Build" }
//	  - op: append
//	    event: { atom_uid: 01HZY3K8Q2M4N6P8R0T2V4X6ZZ, event_type: revised }
//	    expect: { outcome: rejected, codes: [E215] }
//	  - op: index
//	    batch_size: 2
//	assertions:
//	  - type: state
//	    uid: 01HZY3K8Q2M4N6P8R0T2V4X6ZA
//	    expect: { status: split }
//	  - type: consistent
//
// # Operations
//
//   - append: submit one event through the ledger (validation and integrity
//     checks included). event.at is an offset from start such as "90s";
//     without it the event is stamped by a clock ticking one second per
//     append.
//   - index: run indexer batches until caught up.
//   - rebuild: RebuildFull.
//   - verify: Verify; outcome is ok or divergent.
//
// A step without expect must not be rejected.
//
// # Assertion Types
//
//   - state: subset match of fields on the atom's index entry
//   - history_count: number of ledger events for uid
//   - deps: resolved dependencies of uid, in declared order
//   - dependents: atoms depending on uid, sorted
//   - watermark: the indexer watermark equals value
//   - consistent: Verify reports no divergence
//
// # Golden Snapshots
//
// RunWithGolden compares the step trace and the exported index with
// testdata/golden/<name>.golden. History hashes and timestamps are left out
// of the snapshot; the consistent assertion covers them.
package harness
