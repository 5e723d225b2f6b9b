package patricia

import (
	"fmt"
	"sync"

	"github.com/KilimcininKorOglu/obastore/internal/storage"
	"github.com/KilimcininKorOglu/obastore/internal/storage/object"
)

// node is a trie node. Its key is the full prefix from the root; the
// branch position for its children is len(key). A node without an entry
// (oid == NilOID) always has two children.
type node struct {
	key   Key
	oid   object.OID
	child [2]*node
}

func (n *node) children() int {
	c := 0
	if n.child[0] != nil {
		c++
	}
	if n.child[1] != nil {
		c++
	}
	return c
}

// Trie is a PATRICIA trie mapping keys to persistent objects.
//
// Entries hold OIDs; objects are resolved through the identity table.
// A key that is a prefix of other keys is stored on the internal node at
// which their paths part, so exact and longest-prefix lookups visit at
// most one node per distinct prefix length.
type Trie struct {
	mu    sync.RWMutex
	table *object.Table
	root  *node
	size  int
}

// New creates an empty trie resolving objects through table.
func New(table *object.Table) *Trie {
	return &Trie{table: table}
}

// Register installs the trie factory for table's class registry.
func Register(table *object.Table) error {
	return table.Classes().Register(object.ClassPatriciaTrie, func() object.Object {
		return New(table)
	})
}

// ClassID returns object.ClassPatriciaTrie.
func (t *Trie) ClassID() object.ClassID {
	return object.ClassPatriciaTrie
}

// Len returns the number of entries.
func (t *Trie) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.size
}

// Add stores obj under key and returns the object it replaced, or nil.
// obj is registered with the identity table if it is not yet persistent.
func (t *Trie) Add(key Key, obj object.Object) (object.Object, error) {
	if obj == nil {
		return nil, object.ErrNilObject
	}
	oid, err := t.table.EnsureRegistered(obj)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var prev object.Object
	if prevOID := t.findExactLocked(key); prevOID != object.NilOID {
		if prev, err = t.table.Resolve(prevOID); err != nil {
			return nil, err
		}
	}

	t.insertLocked(key, oid)
	if err := t.table.MarkDirty(t); err != nil {
		return prev, err
	}
	return prev, nil
}

func (t *Trie) insertLocked(key Key, oid object.OID) object.OID {
	link := &t.root
	for {
		n := *link
		if n == nil {
			*link = &node{key: key, oid: oid}
			t.size++
			return object.NilOID
		}

		cpl := commonPrefixLen(n.key, key)
		nodeLen, keyLen := n.key.Length(), key.Length()

		switch {
		case cpl == nodeLen && cpl == keyLen:
			prev := n.oid
			n.oid = oid
			if prev == object.NilOID {
				t.size++
			}
			return prev

		case cpl == nodeLen:
			link = &n.child[key.Bit(cpl)]
			continue

		case cpl == keyLen:
			entry := &node{key: key, oid: oid}
			entry.child[n.key.Bit(cpl)] = n
			*link = entry

		default:
			branch := &node{key: key.Prefix(cpl)}
			branch.child[key.Bit(cpl)] = &node{key: key, oid: oid}
			branch.child[n.key.Bit(cpl)] = n
			*link = branch
		}
		t.size++
		return object.NilOID
	}
}

// FindExactMatch returns the object stored under exactly key, or nil.
func (t *Trie) FindExactMatch(key Key) (object.Object, error) {
	t.mu.RLock()
	oid := t.findExactLocked(key)
	t.mu.RUnlock()

	return t.table.Resolve(oid)
}

func (t *Trie) findExactLocked(key Key) object.OID {
	n := t.root
	for n != nil {
		if !n.key.IsPrefixOf(key) {
			return object.NilOID
		}
		if n.key.Length() == key.Length() {
			return n.oid
		}
		n = n.child[key.Bit(n.key.Length())]
	}
	return object.NilOID
}

// FindBestMatch returns the object whose key is the longest prefix of key
// (key itself included), or nil if no stored key is a prefix of key.
func (t *Trie) FindBestMatch(key Key) (object.Object, error) {
	t.mu.RLock()
	best := object.NilOID
	n := t.root
	for n != nil && n.key.IsPrefixOf(key) {
		if n.oid != object.NilOID {
			best = n.oid
		}
		if n.key.Length() == key.Length() {
			break
		}
		n = n.child[key.Bit(n.key.Length())]
	}
	t.mu.RUnlock()

	return t.table.Resolve(best)
}

// Remove deletes the entry stored under exactly key and returns its
// object, or nil if there is none. The object itself is not deallocated.
func (t *Trie) Remove(key Key) (object.Object, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var parentLink **node
	link := &t.root
	for *link != nil {
		n := *link
		if !n.key.IsPrefixOf(key) {
			return nil, nil
		}
		if n.key.Length() == key.Length() {
			break
		}
		parentLink = link
		link = &n.child[key.Bit(n.key.Length())]
	}

	n := *link
	if n == nil || n.oid == object.NilOID {
		return nil, nil
	}

	prev, err := t.table.Resolve(n.oid)
	if err != nil {
		return nil, err
	}

	n.oid = object.NilOID
	t.size--

	switch n.children() {
	case 2:
		// Stays as a branch node.
	case 1:
		*link = onlyChild(n)
	case 0:
		*link = nil
		if parentLink != nil {
			if p := *parentLink; p.oid == object.NilOID && p.children() == 1 {
				*parentLink = onlyChild(p)
			}
		}
	}

	if err := t.table.MarkDirty(t); err != nil {
		return prev, err
	}
	return prev, nil
}

func onlyChild(n *node) *node {
	if n.child[0] != nil {
		return n.child[0]
	}
	return n.child[1]
}

// Clear removes every entry. Objects are not deallocated.
func (t *Trie) Clear() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.root = nil
	t.size = 0
	return t.table.MarkDirty(t)
}

// Entry is one key and the OID stored under it.
type Entry struct {
	Key Key
	OID object.OID
}

// Entries returns every entry in key order: a key precedes its
// extensions, and a 0 bit precedes a 1 bit.
func (t *Trie) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Entry, 0, t.size)
	var visit func(n *node)
	visit = func(n *node) {
		if n == nil {
			return
		}
		if n.oid != object.NilOID {
			out = append(out, Entry{Key: n.key, OID: n.oid})
		}
		visit(n.child[0])
		visit(n.child[1])
	}
	visit(t.root)
	return out
}

// Walk calls fn for every entry in key order until fn returns false.
func (t *Trie) Walk(fn func(key Key, obj object.Object) bool) error {
	for _, e := range t.Entries() {
		obj, err := t.table.Resolve(e.OID)
		if err != nil {
			return err
		}
		if !fn(e.Key, obj) {
			return nil
		}
	}
	return nil
}

// Validate checks the structural invariants of the trie.
func (t *Trie) Validate() error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	count := 0
	var check func(n *node, depth int) error
	check = func(n *node, depth int) error {
		if depth > MaxKeyBits+1 {
			return storage.Corruptf("patricia trie", "depth exceeds %d", MaxKeyBits+1)
		}
		if n.oid != object.NilOID {
			count++
		} else if n.children() != 2 {
			return storage.Corruptf("patricia trie", "branch %s has %d children", n.key, n.children())
		}
		for side, c := range n.child {
			if c == nil {
				continue
			}
			if c.key.Length() <= n.key.Length() || !n.key.IsPrefixOf(c.key) {
				return storage.Corruptf("patricia trie", "child %s does not extend %s", c.key, n.key)
			}
			if c.key.Bit(n.key.Length()) != side {
				return storage.Corruptf("patricia trie", "child %s on side %d of %s", c.key, side, n.key)
			}
			if err := check(c, depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	if t.root != nil {
		if err := check(t.root, 1); err != nil {
			return err
		}
	}
	if count != t.size {
		return storage.Corruptf("patricia trie", "size %d, found %d entries", t.size, count)
	}
	return nil
}

// record is the persisted form of one entry.
type record struct {
	_      struct{} `cbor:",toarray"`
	Mask   uint64
	Length uint8
	OID    object.OID
}

// MarshalBinary encodes the entries in key order.
func (t *Trie) MarshalBinary() ([]byte, error) {
	entries := t.Entries()
	recs := make([]record, len(entries))
	for i, e := range entries {
		recs[i] = record{Mask: e.Key.mask, Length: e.Key.length, OID: e.OID}
	}
	return object.EncodeCBOR(recs)
}

// UnmarshalBinary rebuilds the trie from encoded entries.
func (t *Trie) UnmarshalBinary(data []byte) error {
	var recs []record
	if err := object.DecodeCBOR(data, &recs); err != nil {
		return storage.Corruptf("patricia trie", "decode: %v", err)
	}

	t.mu.Lock()
	t.root = nil
	t.size = 0
	for _, r := range recs {
		if r.Length > MaxKeyBits || r.OID == object.NilOID {
			t.mu.Unlock()
			return storage.Corruptf("patricia trie", "invalid entry %#x/%d -> %d", r.Mask, r.Length, r.OID)
		}
		key := Key{mask: r.Mask & lowBits(int(r.Length)), length: r.Length}
		if prev := t.insertLocked(key, r.OID); prev != object.NilOID {
			t.mu.Unlock()
			return storage.Corruptf("patricia trie", "duplicate key %s", key)
		}
	}
	t.mu.Unlock()

	return t.Validate()
}

// String summarizes the trie.
func (t *Trie) String() string {
	return fmt.Sprintf("PatriciaTrie{entries: %d}", t.Len())
}
