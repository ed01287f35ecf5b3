// Package synapsedb is an embedded triple-store / property-graph database:
// a single-file datastore holding (subject, predicate, object) facts with
// optional per-node and per-edge property maps, queryable through path
// traversal and pattern matching.
//
// Key features:
//   - Six covering indexes (SPO, SOP, POS, PSO, OSP, OPS) over encoded triples
//   - Write-ahead log with nested-batch semantics and cross-restart idempotency
//   - Snapshot/MVCC read path backed by an epoch-pinning reader registry
//   - Single writer, multiple readers concurrency model, coordinated across
//     processes via an advisory lock file and a reader registry directory
//   - Flush, compaction and garbage collection passes that run when called
//     (Store.Flush and the synapsedb maintenance CLI); no background
//     goroutine runs them
//
// Basic usage:
//
//	db, err := synapsedb.Open("graph", synapsedb.DefaultOptions()) // creates graph.synapsedb
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	fact, err := db.AddFact(synapsedb.Fact{Subject: "alice", Predicate: "knows", Object: "bob"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := db.Flush(); err != nil {
//	    log.Fatal(err)
//	}
//
//	alice := "alice"
//	rows := query.New(db).Find(query.Criteria{Subject: &alice}).All()
package synapsedb
