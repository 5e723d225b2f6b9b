// Package bitmask implements a persistent secondary index from objects to
// 32-bit property masks.
//
// Select scans the index for masks with every bit of setBits set and
// every bit of clearBits clear:
//
//	it := ix.Select(0b0100, 0b0001)
//	for obj, ok := it.Next(); ok; obj, ok = it.Next() {
//	    ...
//	}
//	if err := it.Err(); err != nil {
//	    return err
//	}
//
// Bit meanings belong to the application. Putting an object in the index
// registers it with the identity table.
package bitmask
