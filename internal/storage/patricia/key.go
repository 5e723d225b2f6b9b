package patricia

import (
	"fmt"
	"math/bits"
	"net/netip"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/KilimcininKorOglu/obastore/internal/storage"
)

// MaxKeyBits is the longest key the trie accepts.
const MaxKeyBits = 64

// Key is an immutable bit string of at most 64 bits. The value is held in
// the low Length bits of the mask; bit 0 of the key is the most
// significant of those bits.
type Key struct {
	mask   uint64
	length uint8
}

func lowBits(n int) uint64 {
	if n >= 64 {
		return ^uint64(0)
	}
	return 1<<uint(n) - 1
}

func invalidKey(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", storage.ErrInvalidKey, fmt.Sprintf(format, args...))
}

// NewKey builds a key from the low length bits of mask. Bits of mask
// above length are ignored.
func NewKey(mask uint64, length int) (Key, error) {
	if length < 0 || length > MaxKeyBits {
		return Key{}, invalidKey("length %d outside 0..%d", length, MaxKeyBits)
	}
	return Key{mask: mask & lowBits(length), length: uint8(length)}, nil
}

// MustKey is like NewKey but panics on an invalid length.
func MustKey(mask uint64, length int) Key {
	k, err := NewKey(mask, length)
	if err != nil {
		panic(err)
	}
	return k
}

// Mask returns the key bits, right aligned.
func (k Key) Mask() uint64 { return k.mask }

// Length returns the number of bits in the key.
func (k Key) Length() int { return int(k.length) }

// Equal reports whether k and o hold the same bits and length.
func (k Key) Equal(o Key) bool {
	return k == o
}

// Bit returns bit i of the key, counting from the most significant bit.
func (k Key) Bit(i int) int {
	return int(k.mask>>uint(int(k.length)-1-i)) & 1
}

// Prefix returns the first n bits of k.
func (k Key) Prefix(n int) Key {
	if n >= int(k.length) {
		return k
	}
	return Key{mask: k.mask >> uint(int(k.length)-n), length: uint8(n)}
}

// IsPrefixOf reports whether k is a prefix of, or equal to, o.
func (k Key) IsPrefixOf(o Key) bool {
	return k.length <= o.length && o.Prefix(int(k.length)) == k
}

// aligned returns the key bits moved to the top of a word.
func (k Key) aligned() uint64 {
	if k.length == 0 {
		return 0
	}
	return k.mask << (64 - uint(k.length))
}

// commonPrefixLen returns the number of leading bits a and b share.
func commonPrefixLen(a, b Key) int {
	n := bits.LeadingZeros64(a.aligned() ^ b.aligned())
	if n > int(a.length) {
		n = int(a.length)
	}
	if n > int(b.length) {
		n = int(b.length)
	}
	return n
}

// String formats the key as hex bits and length, e.g. 0xa/8.
func (k Key) String() string {
	return fmt.Sprintf("%#x/%d", k.mask, k.length)
}

// FromBytes packs up to 8 bytes, 8 bits each.
func FromBytes(b []byte) (Key, error) {
	if len(b) > MaxKeyBits/8 {
		return Key{}, invalidKey("%d bytes exceed %d bits", len(b), MaxKeyBits)
	}
	var mask uint64
	for _, c := range b {
		mask = mask<<8 | uint64(c)
	}
	return Key{mask: mask, length: uint8(8 * len(b))}, nil
}

// FromIP encodes an IPv4 address, or an IPv4-mapped IPv6 address, as a
// 32-bit key. Other IPv6 addresses do not fit in 64 bits with their
// host part and are rejected.
func FromIP(addr netip.Addr) (Key, error) {
	if !addr.IsValid() {
		return Key{}, invalidKey("invalid address")
	}
	addr = addr.Unmap()
	if !addr.Is4() {
		return Key{}, invalidKey("address %s is wider than %d bits", addr, MaxKeyBits)
	}
	b := addr.As4()
	return FromBytes(b[:])
}

// FromPrefix encodes the network bits of an IPv4 prefix.
func FromPrefix(p netip.Prefix) (Key, error) {
	if !p.IsValid() {
		return Key{}, invalidKey("invalid prefix")
	}
	addr := p.Addr()
	bitsLen := p.Bits()
	if addr.Is4In6() {
		addr = addr.Unmap()
		bitsLen -= 96
		if bitsLen < 0 {
			return Key{}, invalidKey("prefix %s shorter than the mapped range", p)
		}
	}
	full, err := FromIP(addr)
	if err != nil {
		return Key{}, err
	}
	return full.Prefix(bitsLen), nil
}

// ParseDottedAddress parses dotted-decimal octets such as "10.1.2.3".
// Partial addresses are prefixes: "10.1" is a 16-bit key. At most 8
// octets are accepted.
func ParseDottedAddress(s string) (Key, error) {
	if s == "" {
		return Key{}, invalidKey("empty address")
	}
	parts := strings.Split(s, ".")
	if len(parts) > MaxKeyBits/8 {
		return Key{}, invalidKey("%d octets exceed %d bits", len(parts), MaxKeyBits)
	}

	octets := make([]byte, len(parts))
	for i, p := range parts {
		if p == "" || len(p) > 3 || strings.IndexFunc(p, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
			return Key{}, invalidKey("octet %q is not decimal", p)
		}
		v, err := strconv.Atoi(p)
		if err != nil || v > 255 {
			return Key{}, invalidKey("octet %q out of range", p)
		}
		octets[i] = byte(v)
	}
	return FromBytes(octets)
}

// FromDecimalDigits packs up to 16 decimal digits, 4 bits each.
func FromDecimalDigits(s string) (Key, error) {
	if len(s) > MaxKeyBits/4 {
		return Key{}, invalidKey("%d digits exceed %d bits", len(s), MaxKeyBits)
	}
	var mask uint64
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return Key{}, invalidKey("%q is not a decimal digit", c)
		}
		mask = mask<<4 | uint64(c-'0')
	}
	return Key{mask: mask, length: uint8(4 * len(s))}, nil
}

// From7BitString packs up to 9 ASCII characters, 7 bits each.
func From7BitString(s string) (Key, error) {
	if len(s) > MaxKeyBits/7 {
		return Key{}, invalidKey("%d characters exceed %d bits", len(s), MaxKeyBits)
	}
	var mask uint64
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 0x80 {
			return Key{}, invalidKey("character %#x is not 7-bit", c)
		}
		mask = mask<<7 | uint64(c)
	}
	return Key{mask: mask, length: uint8(7 * len(s))}, nil
}

// From8BitString packs up to 8 Latin-1 characters, 8 bits each.
func From8BitString(s string) (Key, error) {
	n := utf8.RuneCountInString(s)
	if n > MaxKeyBits/8 {
		return Key{}, invalidKey("%d characters exceed %d bits", n, MaxKeyBits)
	}
	var mask uint64
	for _, r := range s {
		if r > 0xFF {
			return Key{}, invalidKey("character %q is not Latin-1", r)
		}
		mask = mask<<8 | uint64(r)
	}
	return Key{mask: mask, length: uint8(8 * n)}, nil
}
