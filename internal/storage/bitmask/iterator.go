package bitmask

import "github.com/KilimcininKorOglu/obastore/internal/storage/object"

// Iterator walks the result of one Select call. It is single use:
// consumed elements are never revisited. Call Select again for a fresh
// scan.
type Iterator struct {
	index     *Index
	oids      []object.OID
	pos       int
	setBits   uint32
	clearBits uint32
	err       error
	done      bool
}

// Next returns the next matching object. The boolean is false when the scan is
// finished or failed; check Err to tell the two apart.
func (it *Iterator) Next() (object.Object, bool) {
	for !it.done && it.pos < len(it.oids) {
		oid := it.oids[it.pos]
		it.pos++

		if !it.index.matches(oid, it.setBits, it.clearBits) {
			continue
		}

		obj, err := it.index.table.Resolve(oid)
		if err != nil {
			it.err = err
			it.done = true
			return nil, false
		}
		return obj, true
	}
	it.done = true
	return nil, false
}

// Err returns the error that stopped the scan, if any.
func (it *Iterator) Err() error {
	return it.err
}

// Close stops the scan.
func (it *Iterator) Close() {
	it.done = true
	it.oids = nil
}

// IsDone reports whether the scan is finished.
func (it *Iterator) IsDone() bool {
	return it.done
}

// Collect drains the iterator into a slice.
func (it *Iterator) Collect() ([]object.Object, error) {
	var out []object.Object
	for {
		obj, ok := it.Next()
		if !ok {
			break
		}
		out = append(out, obj)
	}
	return out, it.Err()
}
