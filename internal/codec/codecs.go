package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"entitycore/pkg/domain"
)

func wrongType(want domain.Kind, got any) error {
	return fmt.Errorf("value %T is not a %s", got, want)
}

type stringCodec struct{}

func (stringCodec) Kind() domain.Kind { return domain.KindString }

func (stringCodec) Encode(_ *Registry, v any) ([]byte, error) {
	s, ok := v.(string)
	if !ok {
		return nil, wrongType(domain.KindString, v)
	}
	return []byte(s), nil
}

func (stringCodec) Decode(_ *Registry, data []byte) (any, error) {
	return string(data), nil
}

type intCodec struct{}

func (intCodec) Kind() domain.Kind { return domain.KindInt }

func (intCodec) Encode(_ *Registry, v any) ([]byte, error) {
	n, ok := v.(int64)
	if !ok {
		return nil, wrongType(domain.KindInt, v)
	}
	buf := make([]byte, binary.MaxVarintLen64)
	return buf[:binary.PutVarint(buf, n)], nil
}

func (intCodec) Decode(_ *Registry, data []byte) (any, error) {
	n, read := binary.Varint(data)
	if read <= 0 {
		return nil, fmt.Errorf("truncated varint")
	}
	return n, nil
}

type floatCodec struct{}

func (floatCodec) Kind() domain.Kind { return domain.KindFloat }

func (floatCodec) Encode(_ *Registry, v any) ([]byte, error) {
	f, ok := v.(float64)
	if !ok {
		return nil, wrongType(domain.KindFloat, v)
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, math.Float64bits(f))
	return buf, nil
}

func (floatCodec) Decode(_ *Registry, data []byte) (any, error) {
	if len(data) != 8 {
		return nil, fmt.Errorf("float payload must be 8 bytes, got %d", len(data))
	}
	return math.Float64frombits(binary.BigEndian.Uint64(data)), nil
}

type boolCodec struct{}

func (boolCodec) Kind() domain.Kind { return domain.KindBool }

func (boolCodec) Encode(_ *Registry, v any) ([]byte, error) {
	b, ok := v.(bool)
	if !ok {
		return nil, wrongType(domain.KindBool, v)
	}
	if b {
		return []byte{1}, nil
	}
	return []byte{0}, nil
}

func (boolCodec) Decode(_ *Registry, data []byte) (any, error) {
	if len(data) != 1 {
		return nil, fmt.Errorf("bool payload must be 1 byte, got %d", len(data))
	}
	return data[0] != 0, nil
}

type geoPointCodec struct{}

func (geoPointCodec) Kind() domain.Kind { return domain.KindGeoPoint }

func (geoPointCodec) Encode(_ *Registry, v any) ([]byte, error) {
	p, ok := v.(domain.GeoPoint)
	if !ok {
		return nil, wrongType(domain.KindGeoPoint, v)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[:8], math.Float64bits(p.Lon))
	binary.BigEndian.PutUint64(buf[8:], math.Float64bits(p.Lat))
	return buf, nil
}

func (geoPointCodec) Decode(_ *Registry, data []byte) (any, error) {
	if len(data) != 16 {
		return nil, fmt.Errorf("geo point payload must be 16 bytes, got %d", len(data))
	}
	p := domain.GeoPoint{
		Lon: math.Float64frombits(binary.BigEndian.Uint64(data[:8])),
		Lat: math.Float64frombits(binary.BigEndian.Uint64(data[8:])),
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

type localTimeCodec struct{}

func (localTimeCodec) Kind() domain.Kind { return domain.KindLocalTime }

func (localTimeCodec) Encode(_ *Registry, v any) ([]byte, error) {
	t, ok := v.(domain.LocalTime)
	if !ok {
		return nil, wrongType(domain.KindLocalTime, v)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return appendLocalTime(nil, t), nil
}

func (localTimeCodec) Decode(_ *Registry, data []byte) (any, error) {
	t, rest, err := readLocalTime(data)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("trailing bytes after local time")
	}
	return t, nil
}

func appendLocalTime(buf []byte, t domain.LocalTime) []byte {
	buf = binary.AppendUvarint(buf, uint64(t.Hour))
	buf = binary.AppendUvarint(buf, uint64(t.Minute))
	buf = binary.AppendUvarint(buf, uint64(t.Second))
	buf = binary.AppendUvarint(buf, uint64(t.Nano))
	return buf
}

func readLocalTime(data []byte) (domain.LocalTime, []byte, error) {
	var fields [4]int
	for i := range fields {
		n, read := binary.Uvarint(data)
		if read <= 0 {
			return domain.LocalTime{}, nil, fmt.Errorf("truncated local time")
		}
		fields[i] = int(n)
		data = data[read:]
	}
	t := domain.LocalTime{Hour: fields[0], Minute: fields[1], Second: fields[2], Nano: fields[3]}
	if err := t.Validate(); err != nil {
		return domain.LocalTime{}, nil, err
	}
	return t, data, nil
}

type localTimeRangeCodec struct{}

func (localTimeRangeCodec) Kind() domain.Kind { return domain.KindLocalTimeRange }

func (localTimeRangeCodec) Encode(_ *Registry, v any) ([]byte, error) {
	r, ok := v.(domain.LocalTimeRange)
	if !ok {
		return nil, wrongType(domain.KindLocalTimeRange, v)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	buf := appendLocalTime(nil, r.Lower)
	return appendLocalTime(buf, r.Upper), nil
}

func (localTimeRangeCodec) Decode(_ *Registry, data []byte) (any, error) {
	lower, rest, err := readLocalTime(data)
	if err != nil {
		return nil, err
	}
	upper, rest, err := readLocalTime(rest)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("trailing bytes after local time range")
	}
	r := domain.LocalTimeRange{Lower: lower, Upper: upper}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Composite framing: every nested value is written as
// uvarint(len(kind)) kind uvarint(len(payload)) payload.

func appendFramedValue(reg *Registry, buf []byte, v any) ([]byte, error) {
	kind, payload, err := reg.EncodeValue(v)
	if err != nil {
		return nil, err
	}
	buf = binary.AppendUvarint(buf, uint64(len(kind)))
	buf = append(buf, kind...)
	buf = binary.AppendUvarint(buf, uint64(len(payload)))
	return append(buf, payload...), nil
}

func readFramedValue(reg *Registry, data []byte) (any, []byte, error) {
	kindLen, read := binary.Uvarint(data)
	if read <= 0 || uint64(len(data)-read) < kindLen {
		return nil, nil, fmt.Errorf("truncated value kind")
	}
	data = data[read:]
	kind := domain.Kind(data[:kindLen])
	data = data[kindLen:]
	payloadLen, read := binary.Uvarint(data)
	if read <= 0 || uint64(len(data)-read) < payloadLen {
		return nil, nil, fmt.Errorf("truncated value payload")
	}
	data = data[read:]
	v, err := reg.DecodeValue(kind, data[:payloadLen])
	if err != nil {
		return nil, nil, err
	}
	return v, data[payloadLen:], nil
}

type mapCodec struct{}

func (mapCodec) Kind() domain.Kind { return domain.KindMap }

func (mapCodec) Encode(reg *Registry, v any) ([]byte, error) {
	m, ok := v.(*domain.PropertyMap)
	if !ok {
		return nil, wrongType(domain.KindMap, v)
	}
	buf := binary.AppendUvarint(nil, uint64(m.Len()))
	var encodeErr error
	m.Range(func(key string, value any) bool {
		buf = binary.AppendUvarint(buf, uint64(len(key)))
		buf = append(buf, key...)
		buf, encodeErr = appendFramedValue(reg, buf, value)
		return encodeErr == nil
	})
	if encodeErr != nil {
		return nil, encodeErr
	}
	return buf, nil
}

func (mapCodec) Decode(reg *Registry, data []byte) (any, error) {
	count, read := binary.Uvarint(data)
	if read <= 0 {
		return nil, fmt.Errorf("truncated map header")
	}
	data = data[read:]
	m := domain.NewPropertyMap()
	for i := uint64(0); i < count; i++ {
		keyLen, read := binary.Uvarint(data)
		if read <= 0 || uint64(len(data)-read) < keyLen {
			return nil, fmt.Errorf("truncated map key")
		}
		data = data[read:]
		key := string(data[:keyLen])
		data = data[keyLen:]
		var (
			v   any
			err error
		)
		v, data, err = readFramedValue(reg, data)
		if err != nil {
			return nil, err
		}
		if err := m.Set(key, v); err != nil {
			return nil, err
		}
	}
	if len(data) != 0 {
		return nil, fmt.Errorf("trailing bytes after map")
	}
	return m, nil
}

type arrayCodec struct{}

func (arrayCodec) Kind() domain.Kind { return domain.KindArray }

func (arrayCodec) Encode(reg *Registry, v any) ([]byte, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, wrongType(domain.KindArray, v)
	}
	buf := binary.AppendUvarint(nil, uint64(len(arr)))
	for _, elem := range arr {
		var err error
		buf, err = appendFramedValue(reg, buf, elem)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func (arrayCodec) Decode(reg *Registry, data []byte) (any, error) {
	count, read := binary.Uvarint(data)
	if read <= 0 {
		return nil, fmt.Errorf("truncated array header")
	}
	data = data[read:]
	out := make([]any, 0, count)
	for i := uint64(0); i < count; i++ {
		var (
			v   any
			err error
		)
		v, data, err = readFramedValue(reg, data)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if len(data) != 0 {
		return nil, fmt.Errorf("trailing bytes after array")
	}
	return out, nil
}
