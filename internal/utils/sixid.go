package utils

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// SixIDBinarySubtype is the user-defined BSON binary subtype SixIDs are stored with.
const SixIDBinarySubtype byte = 0x80

// SixIDHookFunc lets tests force the next generated id.
type SixIDHookFunc func() (id SixID, override bool)

// NewSixIDHook is consulted by NewSixID before generating random bytes.
var NewSixIDHook SixIDHookFunc

var (
	ErrInvalidSixIDLength = errors.New("invalid SixID: expected 10 characters")
	ErrInvalidSixIDChar   = errors.New("invalid SixID: unexpected character")
)

// SixID is a 6 byte random identifier. Its text form is 10 Crockford base32
// characters, its BSON form is binary with subtype 0x80.
type SixID [6]byte

// NewSixID returns a fresh random id.
func NewSixID() SixID {
	if NewSixIDHook != nil {
		if id, ok := NewSixIDHook(); ok {
			return id
		}
	}
	var id SixID
	if _, err := rand.Read(id[:]); err != nil {
		panic(fmt.Sprintf("sixid: crypto/rand failed: %v", err))
	}
	return id
}

const crockford = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

var crockfordValues [256]int8

func init() {
	for i := range crockfordValues {
		crockfordValues[i] = -1
	}
	for i := 0; i < len(crockford); i++ {
		c := crockford[i]
		crockfordValues[c] = int8(i)
		if c >= 'A' && c <= 'Z' {
			crockfordValues[c+('a'-'A')] = int8(i)
		}
	}
	// Crockford aliases for easily confused glyphs.
	for _, alias := range []struct {
		from byte
		to   byte
	}{{'O', '0'}, {'o', '0'}, {'I', '1'}, {'i', '1'}, {'L', '1'}, {'l', '1'}} {
		crockfordValues[alias.from] = crockfordValues[alias.to]
	}
}

// IsZero reports whether the id is unset. The BSON encoder uses it for omitempty.
func (id SixID) IsZero() bool {
	return id == SixID{}
}

// String encodes the id as 10 base32 characters, least significant bits first.
func (id SixID) String() string {
	var out [10]byte
	var acc uint64
	for i := 0; i < 6; i++ {
		acc |= uint64(id[i]) << (8 * i)
	}
	for i := 0; i < 10; i++ {
		out[i] = crockford[acc&0x1F]
		acc >>= 5
	}
	return string(out[:])
}

// ParseSixID decodes the text form. Hyphens and spaces are ignored and an empty
// string yields the zero id.
func ParseSixID(s string) (SixID, error) {
	s = strings.NewReplacer("-", "", " ", "").Replace(s)
	if s == "" {
		return SixID{}, nil
	}
	if len(s) != 10 {
		return SixID{}, ErrInvalidSixIDLength
	}
	var acc uint64
	for i := 9; i >= 0; i-- {
		v := crockfordValues[s[i]]
		if v < 0 {
			return SixID{}, ErrInvalidSixIDChar
		}
		acc = acc<<5 | uint64(v)
	}
	if acc>>48 != 0 {
		return SixID{}, fmt.Errorf("invalid SixID %q: value overflows 48 bits", s)
	}
	var id SixID
	for i := 0; i < 6; i++ {
		id[i] = byte(acc >> (8 * i))
	}
	return id, nil
}

// MustParseSixID is ParseSixID for literals in tests and fixtures.
func MustParseSixID(s string) SixID {
	id, err := ParseSixID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id SixID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

func (id *SixID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseSixID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id SixID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *SixID) UnmarshalText(text []byte) error {
	parsed, err := ParseSixID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// MarshalBSONValue stores the id as binary subtype 0x80.
func (id SixID) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return bsontype.Binary, bsoncore.AppendBinary(nil, SixIDBinarySubtype, id[:]), nil
}

// UnmarshalBSONValue accepts binary subtype 0x80 of length 6, or null.
func (id *SixID) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	switch t {
	case bsontype.Null, bsontype.Undefined:
		*id = SixID{}
		return nil
	case bsontype.Binary:
		subtype, bin, _, ok := bsoncore.ReadBinary(data)
		if !ok {
			return errors.New("sixid: malformed BSON binary")
		}
		if subtype != SixIDBinarySubtype || len(bin) != 6 {
			return fmt.Errorf("sixid: unexpected binary subtype 0x%02x or length %d", subtype, len(bin))
		}
		copy(id[:], bin)
		return nil
	default:
		return fmt.Errorf("sixid: cannot decode BSON %s", t)
	}
}

// ParseSixIDs parses a list of ids, failing on the first bad one.
func ParseSixIDs(values []string) ([]SixID, error) {
	ids := make([]SixID, 0, len(values))
	for _, v := range values {
		id, err := ParseSixID(v)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", v, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
