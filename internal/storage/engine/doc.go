// Package engine implements the obastore database: a single file holding
// a header, segment allocators and an object identity table, with named
// roots leading to persistent tries, bitmask indexes and raw objects.
//
// # Opening a Database
//
//	opts := engine.DefaultOptions().
//	    WithEncryptionKeyFile("/etc/obastore/key")
//
//	db, err := engine.Open("/var/lib/obastore/data.obs", opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
// # Objects and Roots
//
// Indexes are created through the database and reached again after a
// restart through a named root:
//
//	routes, _ := db.CreatePatriciaTrie()
//	db.SetRoot("routes", routes)
//
//	nextHop, _ := db.StoreRaw([]byte("192.0.2.1"))
//	routes.Add(patricia.MustKey(0x0A, 8), nextHop)
//
//	db.Commit()
//
// # Commit and Rollback
//
// Commit flushes dirty objects, writes a meta record and then the header
// slot of the next generation. Runs freed during a transaction are not
// reused until the commit completes, so a crash at any point leaves the
// previous generation readable. Rollback reloads the last committed
// generation and detaches every resident object.
//
// # File Layout
//
// Page 0 holds two 512-byte header slots; generation n is written to slot
// n%2 and the valid slot with the highest generation wins on open. Segments
// start at or after page 1. With encryption enabled every page except
// page 0 is encrypted with AES-XTS.
package engine
