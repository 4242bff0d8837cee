package compress

// EncodeDeltaI64 encodes a nullable i64 (or Timestamp, stored as i64 ms)
// column as: u32 bitmap_len | null_bitmap | (first value, i64 LE) |
// zigzag-varint deltas over the non-null values in order.
func EncodeDeltaI64(values []int64, valid []bool) Payload {
	n := len(values)
	bmLen := bitmapBytes(n)
	buf := make([]byte, 4, 4+bmLen+8+n)
	buf[0] = byte(bmLen)
	buf[1] = byte(bmLen >> 8)
	buf[2] = byte(bmLen >> 16)
	buf[3] = byte(bmLen >> 24)

	bitmap := make([]byte, bmLen)
	for i := 0; i < n; i++ {
		if valid[i] {
			setBit(bitmap, i)
		}
	}
	buf = append(buf, bitmap...)

	var prev int64
	first := true
	originalSize := n * 8
	for i := 0; i < n; i++ {
		if !valid[i] {
			continue
		}
		if first {
			v := values[i]
			buf = append(buf,
				byte(v), byte(v>>8), byte(v>>16), byte(v>>24),
				byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56))
			prev = v
			first = false
			continue
		}
		delta := values[i] - prev
		buf = appendVarint(buf, zigzagEncode(delta))
		prev = values[i]
	}

	return Payload{Algorithm: AlgoDelta, Length: n, Bytes: buf, OriginalSize: originalSize}
}

// DecodeDeltaI64 fully decodes a Delta payload back into nullable i64
// vectors. Used for compression round-trip tests and whole-column scans.
func DecodeDeltaI64(p Payload) (values []int64, valid []bool, err error) {
	if len(p.Bytes) < 4 {
		return nil, nil, ErrInvalidData
	}
	bmLen := int(p.Bytes[0]) | int(p.Bytes[1])<<8 | int(p.Bytes[2])<<16 | int(p.Bytes[3])<<24
	off := 4
	if off+bmLen > len(p.Bytes) {
		return nil, nil, ErrInvalidData
	}
	bitmap := p.Bytes[off : off+bmLen]
	off += bmLen

	n := p.Length
	values = make([]int64, n)
	valid = make([]bool, n)

	var prev int64
	first := true
	for i := 0; i < n; i++ {
		if !getBit(bitmap, i) {
			continue
		}
		valid[i] = true
		if first {
			if off+8 > len(p.Bytes) {
				return nil, nil, ErrInvalidData
			}
			v := int64(p.Bytes[off]) | int64(p.Bytes[off+1])<<8 | int64(p.Bytes[off+2])<<16 | int64(p.Bytes[off+3])<<24 |
				int64(p.Bytes[off+4])<<32 | int64(p.Bytes[off+5])<<40 | int64(p.Bytes[off+6])<<48 | int64(p.Bytes[off+7])<<56
			off += 8
			values[i] = v
			prev = v
			first = false
			continue
		}
		u, newOff, err := readVarint(p.Bytes, off)
		if err != nil {
			return nil, nil, err
		}
		off = newOff
		v := prev + zigzagDecode(u)
		values[i] = v
		prev = v
	}
	return values, valid, nil
}

// DeltaGet decodes a single index from a Delta payload. Delta is inherently
// sequential (each value depends on the cumulative sum of prior deltas), so
// this walks from the start accumulating only up to index — it never
// materializes values beyond the requested index.
func DeltaGet(p Payload, index int) (v int64, valid bool, err error) {
	if len(p.Bytes) < 4 || index < 0 || index >= p.Length {
		return 0, false, ErrInvalidData
	}
	bmLen := int(p.Bytes[0]) | int(p.Bytes[1])<<8 | int(p.Bytes[2])<<16 | int(p.Bytes[3])<<24
	off := 4
	if off+bmLen > len(p.Bytes) {
		return 0, false, ErrInvalidData
	}
	bitmap := p.Bytes[off : off+bmLen]
	off += bmLen

	var prev int64
	first := true
	for i := 0; i <= index; i++ {
		if !getBit(bitmap, i) {
			if i == index {
				return 0, false, nil
			}
			continue
		}
		if first {
			if off+8 > len(p.Bytes) {
				return 0, false, ErrInvalidData
			}
			v = int64(p.Bytes[off]) | int64(p.Bytes[off+1])<<8 | int64(p.Bytes[off+2])<<16 | int64(p.Bytes[off+3])<<24 |
				int64(p.Bytes[off+4])<<32 | int64(p.Bytes[off+5])<<40 | int64(p.Bytes[off+6])<<48 | int64(p.Bytes[off+7])<<56
			off += 8
			prev = v
			first = false
			continue
		}
		u, newOff, err := readVarint(p.Bytes, off)
		if err != nil {
			return 0, false, err
		}
		off = newOff
		v = prev + zigzagDecode(u)
		prev = v
	}
	return v, true, nil
}
