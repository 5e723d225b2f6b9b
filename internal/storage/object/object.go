package object

import (
	"encoding"
	"errors"
	"fmt"
	"sync"
)

// OID identifies a persistent object. NilOID means "no object".
type OID uint32

// NilOID is the null object reference.
const NilOID OID = 0

// ClassID selects the factory that decodes a stored object.
type ClassID uint16

// Reserved class identifiers. Application classes start at ClassUser.
const (
	ClassPatriciaTrie ClassID = 1
	ClassBitmaskIndex ClassID = 2
	ClassRaw          ClassID = 3
	ClassUser         ClassID = 256
)

// Object is a value the identity layer can persist. Implementations must
// be pointer types: identity is pointer identity.
type Object interface {
	ClassID() ClassID
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// Factory returns a zero object of one class, ready for UnmarshalBinary.
type Factory func() Object

// Class registry errors.
var (
	ErrClassExists  = errors.New("class already registered")
	ErrUnknownClass = errors.New("unknown class")
	ErrInvalidClass = errors.New("invalid class id")
)

// Classes maps class identifiers to factories.
type Classes struct {
	mu        sync.RWMutex
	factories map[ClassID]Factory
}

// NewClasses creates a registry holding the Raw class.
func NewClasses() *Classes {
	c := &Classes{factories: make(map[ClassID]Factory)}
	c.factories[ClassRaw] = func() Object { return &Raw{} }
	return c
}

// Register adds a factory for id.
func (c *Classes) Register(id ClassID, f Factory) error {
	if id == 0 || f == nil {
		return ErrInvalidClass
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.factories[id]; ok {
		return fmt.Errorf("%w: %d", ErrClassExists, id)
	}
	c.factories[id] = f
	return nil
}

// New creates a zero object of class id.
func (c *Classes) New(id ClassID) (Object, error) {
	c.mu.RLock()
	f, ok := c.factories[id]
	c.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownClass, id)
	}
	return f(), nil
}

// Raw is an object holding an opaque byte payload, typically a large
// binary.
type Raw struct {
	Data []byte
}

// NewRaw creates a Raw object holding a copy of data.
func NewRaw(data []byte) *Raw {
	buf := make([]byte, len(data))
	copy(buf, data)
	return &Raw{Data: buf}
}

// ClassID returns ClassRaw.
func (r *Raw) ClassID() ClassID { return ClassRaw }

// MarshalBinary returns the payload.
func (r *Raw) MarshalBinary() ([]byte, error) {
	buf := make([]byte, len(r.Data))
	copy(buf, r.Data)
	return buf, nil
}

// UnmarshalBinary replaces the payload.
func (r *Raw) UnmarshalBinary(data []byte) error {
	r.Data = make([]byte, len(data))
	copy(r.Data, data)
	return nil
}
