package compress

// EncodeBitPackBool encodes a nullable bool column as: u32 len |
// null_bitmap | value_bitmap, each bitmap ceil(len/8) bytes, LSB-first.
func EncodeBitPackBool(values []bool, valid []bool) Payload {
	n := len(values)
	bmLen := bitmapBytes(n)
	buf := make([]byte, 4+2*bmLen)
	buf[0] = byte(n)
	buf[1] = byte(n >> 8)
	buf[2] = byte(n >> 16)
	buf[3] = byte(n >> 24)

	nullBitmap := buf[4 : 4+bmLen]
	valueBitmap := buf[4+bmLen : 4+2*bmLen]
	for i := 0; i < n; i++ {
		if valid[i] {
			setBit(nullBitmap, i)
			if values[i] {
				setBit(valueBitmap, i)
			}
		}
	}
	return Payload{Algorithm: AlgoBitPack, Length: n, Bytes: buf, OriginalSize: n}
}

// DecodeBitPackBool fully decodes a BitPack payload.
func DecodeBitPackBool(p Payload) (values []bool, valid []bool, err error) {
	if len(p.Bytes) < 4 {
		return nil, nil, ErrInvalidData
	}
	n := int(p.Bytes[0]) | int(p.Bytes[1])<<8 | int(p.Bytes[2])<<16 | int(p.Bytes[3])<<24
	bmLen := bitmapBytes(n)
	if len(p.Bytes) < 4+2*bmLen {
		return nil, nil, ErrInvalidData
	}
	nullBitmap := p.Bytes[4 : 4+bmLen]
	valueBitmap := p.Bytes[4+bmLen : 4+2*bmLen]

	values = make([]bool, n)
	valid = make([]bool, n)
	for i := 0; i < n; i++ {
		if getBit(nullBitmap, i) {
			valid[i] = true
			values[i] = getBit(valueBitmap, i)
		}
	}
	return values, valid, nil
}

// BitPackGet decodes a single index in O(1): both bitmaps support direct bit
// addressing, so no sequential walk is required.
func BitPackGet(p Payload, index int) (v bool, valid bool, err error) {
	if len(p.Bytes) < 4 {
		return false, false, ErrInvalidData
	}
	n := int(p.Bytes[0]) | int(p.Bytes[1])<<8 | int(p.Bytes[2])<<16 | int(p.Bytes[3])<<24
	if index < 0 || index >= n {
		return false, false, ErrInvalidData
	}
	bmLen := bitmapBytes(n)
	if len(p.Bytes) < 4+2*bmLen {
		return false, false, ErrInvalidData
	}
	nullBitmap := p.Bytes[4 : 4+bmLen]
	valueBitmap := p.Bytes[4+bmLen : 4+2*bmLen]
	if !getBit(nullBitmap, index) {
		return false, false, nil
	}
	return getBit(valueBitmap, index), true, nil
}
