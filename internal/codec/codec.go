// Package codec declares the encoding seams shared by the connections and the
// storage backends. The only implementation lives in pkg/models.
package codec

import "io"

type Encoder interface {
	Encode(v any) error
}

type Decoder interface {
	Decode(v any) error
}

type Marshaler interface {
	Marshal(v any) ([]byte, error)
	NewEncoder(w io.Writer) Encoder
}

type Unmarshaler interface {
	Unmarshal(data []byte, dst any) error
	NewDecoder(r io.Reader) Decoder
}

// Codec is a Marshaler and an Unmarshaler for the same format.
type Codec interface {
	Marshaler
	Unmarshaler
}
