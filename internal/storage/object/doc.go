// Package object implements the object identity layer of obastore.
//
// Every persistent object has an OID, a 32-bit identifier assigned on
// first registration. OID 0 is the null reference. The Table maps OIDs to
// resident objects and to the location of their latest record, loading
// records lazily on Resolve:
//
//	oid, err := table.EnsureRegistered(obj)
//	...
//	obj, err := table.Resolve(oid)
//
// Objects implement encoding.BinaryMarshaler and BinaryUnmarshaler and
// report a ClassID; a Classes registry turns class identifiers back into
// zero objects when records are loaded.
//
// Flush writes dirty objects through the segment allocators. Records of
// the committed image are never overwritten in place.
package object
