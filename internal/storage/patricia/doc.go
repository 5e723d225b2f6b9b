// Package patricia implements a persistent PATRICIA trie over bit-string
// keys of at most 64 bits, with exact and longest-prefix lookup.
//
// # Keys
//
// A Key is a (mask, length) pair. Bit 0 is the most significant of the
// length bits, and every operation uses that convention. Keys are built
// by one of the encoders:
//
//	k, err := patricia.ParseDottedAddress("10.1")      // 16 bits
//	k, err := patricia.FromIP(netip.MustParseAddr("10.1.2.3"))
//	k, err := patricia.FromDecimalDigits("4930")       // 4 bits per digit
//	k, err := patricia.From7BitString("route")         // 7 bits per char
//
// Encodings that would need more than 64 bits fail with
// storage.ErrInvalidKey.
//
// # Lookups
//
//	trie.Add(k, obj)
//	obj, err := trie.FindExactMatch(k)
//	obj, err := trie.FindBestMatch(query) // longest stored prefix of query
//
// The trie stores OIDs, never object bytes; adding an object registers it
// with the identity table.
package patricia
