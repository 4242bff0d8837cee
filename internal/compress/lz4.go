package compress

import (
	"bytes"
	"io"

	"github.com/pierrec/lz4/v4"
)

// EncodeLZ4 compresses an arbitrary byte slice as: u32 original_size (LE) |
// LZ4 frame. It is the fallback codec for columns whose values don't
// exhibit enough structure for Delta, BitPack, or RLE to help.
func EncodeLZ4(data []byte) (Payload, error) {
	n := len(data)

	var out bytes.Buffer
	w := lz4.NewWriter(&out)
	if _, err := w.Write(data); err != nil {
		return Payload{}, ErrDecompressionFailed
	}
	if err := w.Close(); err != nil {
		return Payload{}, ErrDecompressionFailed
	}

	buf := make([]byte, 4, 4+out.Len())
	buf[0] = byte(n)
	buf[1] = byte(n >> 8)
	buf[2] = byte(n >> 16)
	buf[3] = byte(n >> 24)
	buf = append(buf, out.Bytes()...)

	return Payload{Algorithm: AlgoLZ4, Length: n, Bytes: buf, OriginalSize: n}, nil
}

// DecodeLZ4 reverses EncodeLZ4.
func DecodeLZ4(p Payload) ([]byte, error) {
	if len(p.Bytes) < 4 {
		return nil, ErrInvalidData
	}
	n := int(p.Bytes[0]) | int(p.Bytes[1])<<8 | int(p.Bytes[2])<<16 | int(p.Bytes[3])<<24
	if n < 0 || n > maxLZ4OriginalSize {
		return nil, ErrDataTooLarge
	}

	r := lz4.NewReader(bytes.NewReader(p.Bytes[4:]))
	out := make([]byte, n)
	read, err := io.ReadFull(r, out)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, ErrDecompressionFailed
	}
	if read != n {
		return nil, ErrInvalidData
	}
	return out, nil
}
