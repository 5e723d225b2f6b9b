// Package pagestream provides strictly sequential, page-buffered access to
// a storage.Store.
//
// A Stream keeps a single page-sized buffer. Reads refill it one page at a
// time and writes hand it to the store only when it fills, so the store
// sees page-sized transfers at page-aligned offsets for the whole run of a
// backup or restore. Only the final Flush or Close may write a short page.
//
// The stream has a cursor and nothing else: seeking, truncating and
// repositioning fail with storage.ErrUnsupportedOperation.
//
// A Stream is not safe for concurrent use.
package pagestream
