// Package alloc implements the segmented allocator of obastore.
//
// Each Allocator owns one segment, a fixed [base, base+size) window of
// the backing store, and hands out runs with a best-fit policy over sizes
// rounded up to the segment quantum. Ties go to the lowest position, so a
// fixed sequence of operations always yields the same positions.
//
// # Shadow Runs
//
// Freed space is not reusable immediately:
//
//	pos, _ := a.Allocate(200)
//	_ = a.Free(pos, 200)      // pos is now a shadow run
//	p2, _ := a.Allocate(200)  // never returns pos
//	_ = a.Commit()            // shadow runs become free
//	p3, _ := a.Allocate(200)  // may return pos
//
// The database calls Commit only after the header naming the new image is
// durable, so a failed transaction can always fall back to the previous
// image.
//
// # Registry
//
// A Registry holds the allocators of one open database, rejects
// overlapping segments and routes positions back to their segment.
package alloc
