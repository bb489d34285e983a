package models

import (
	"fmt"
	"io"
	"reflect"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/surrealdb/surrealodm/internal/codec"
)

type CustomCBORTag uint64

var (
	NoneTag      CustomCBORTag = 6
	TableNameTag CustomCBORTag = 7
	RecordIDTag  CustomCBORTag = 8
)

var (
	encOnce sync.Once
	encMode cbor.EncMode
	decOnce sync.Once
	decMode cbor.DecMode
)

// getCborEncoder returns the shared encoding mode. Map keys are sorted so that
// the same document always encodes to the same bytes.
func getCborEncoder() cbor.EncMode {
	encOnce.Do(func() {
		opts := cbor.CoreDetEncOptions()
		opts.Time = cbor.TimeRFC3339Nano
		opts.TimeTag = cbor.EncTagRequired
		em, err := opts.EncMode()
		if err != nil {
			panic(err)
		}
		encMode = em
	})
	return encMode
}

func getCborDecoder() cbor.DecMode {
	decOnce.Do(func() {
		dm, err := cbor.DecOptions{
			TimeTagToAny:   cbor.TimeTagToTime,
			DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		}.DecMode()
		if err != nil {
			panic(err)
		}
		decMode = dm
	})
	return decMode
}

func (t Table) MarshalCBOR() ([]byte, error) {
	return getCborEncoder().Marshal(cbor.Tag{
		Number:  uint64(TableNameTag),
		Content: string(t),
	})
}

func (t *Table) UnmarshalCBOR(data []byte) error {
	var tag cbor.Tag
	if err := getCborDecoder().Unmarshal(data, &tag); err != nil {
		return err
	}
	s, ok := tag.Content.(string)
	if tag.Number != uint64(TableNameTag) || !ok {
		return fmt.Errorf("unexpected table encoding: tag %d with %T", tag.Number, tag.Content)
	}
	*t = Table(s)
	return nil
}

type CborMarshaler struct{}

func (c CborMarshaler) Marshal(v any) ([]byte, error) {
	return getCborEncoder().Marshal(v)
}

func (c CborMarshaler) NewEncoder(w io.Writer) codec.Encoder {
	return getCborEncoder().NewEncoder(w)
}

type CborUnmarshaler struct{}

// Unmarshal decodes data into dst. When dst is a pointer to an interface or to
// a map of interfaces, tagged record ids and tables are turned back into
// RecordID and Table values.
func (c CborUnmarshaler) Unmarshal(data []byte, dst any) error {
	if err := getCborDecoder().Unmarshal(data, dst); err != nil {
		return err
	}
	switch d := dst.(type) {
	case *any:
		*d = normalizeValue(*d)
	case *map[string]any:
		for k, v := range *d {
			(*d)[k] = normalizeValue(v)
		}
	case *[]any:
		for i, v := range *d {
			(*d)[i] = normalizeValue(v)
		}
	}
	return nil
}

func (c CborUnmarshaler) NewDecoder(r io.Reader) codec.Decoder {
	return getCborDecoder().NewDecoder(r)
}

// Marshal encodes v with the shared deterministic encoding.
func Marshal(v any) ([]byte, error) {
	return CborMarshaler{}.Marshal(v)
}

// Unmarshal decodes data produced by Marshal.
func Unmarshal(data []byte, dst any) error {
	return CborUnmarshaler{}.Unmarshal(data, dst)
}

// Convert assigns src to the value dst points to, going through the codec when
// the dynamic types differ (for example uint64 into int, or []any into []string).
func Convert(src any, dst any) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("convert: destination must be a non-nil pointer, got %T", dst)
	}
	target := rv.Elem()
	if src == nil {
		target.Set(reflect.Zero(target.Type()))
		return nil
	}
	sv := reflect.ValueOf(src)
	if sv.Type().AssignableTo(target.Type()) {
		target.Set(sv)
		return nil
	}
	data, err := Marshal(src)
	if err != nil {
		return fmt.Errorf("convert %T: %w", src, err)
	}
	if err := getCborDecoder().Unmarshal(data, dst); err != nil {
		return fmt.Errorf("convert %T into %s: %w", src, target.Type(), err)
	}
	return nil
}

// normalizeValue walks a decoded value and replaces tagged record ids and
// tables with their Go types. Positive integers that fit are folded to int64.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case cbor.Tag:
		switch CustomCBORTag(val.Number) {
		case RecordIDTag:
			var rid RecordID
			if err := rid.fromTag(val); err == nil {
				return rid
			}
		case TableNameTag:
			if s, ok := val.Content.(string); ok {
				return Table(s)
			}
		case NoneTag:
			return nil
		}
		return val
	case uint64:
		if val <= 1<<63-1 {
			return int64(val)
		}
		return val
	case map[string]any:
		for k, item := range val {
			val[k] = normalizeValue(item)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = normalizeValue(item)
		}
		return out
	case []any:
		for i, item := range val {
			val[i] = normalizeValue(item)
		}
		return val
	default:
		return v
	}
}
