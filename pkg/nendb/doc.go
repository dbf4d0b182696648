// Package nendb is NenDB's embedded graph database facade: it wires the
// pool allocators, SoA graph store, write-ahead log, concurrency layer,
// batch processor, and multi-process coordinator into the public CRUD,
// transaction, and vector-search API.
//
// Example:
//
//	db, err := nendb.Open(config.Default())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.AddNode(1, 10, nil); err != nil {
//		log.Fatal(err)
//	}
//	if err := db.AddNode(2, 20, nil); err != nil {
//		log.Fatal(err)
//	}
//	if err := db.AddEdge(1, 2, 50, nil); err != nil {
//		log.Fatal(err)
//	}
//
//	stats := db.GetStats()
//	fmt.Println(stats.NodeCount, stats.EdgeCount)
package nendb
