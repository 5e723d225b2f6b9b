package object

import (
	"math"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		MaxArrayElements: math.MaxInt32,
		MaxMapPairs:      math.MaxInt32,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// EncodeCBOR encodes v with deterministic CBOR. Index and meta records
// use it for their payloads.
func EncodeCBOR(v interface{}) ([]byte, error) {
	return encMode.Marshal(v)
}

// DecodeCBOR decodes a payload produced by EncodeCBOR.
func DecodeCBOR(data []byte, v interface{}) error {
	return decMode.Unmarshal(data, v)
}
