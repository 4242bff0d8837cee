package column

import (
	"streamshard/internal/compress"
	"streamshard/internal/dict"
	"streamshard/internal/value"
)

// Compress builds a read-only compressed column from an uncompressed one,
// picking an algorithm via the compress package's selection heuristics.
// Push on the result returns ErrImmutableColumn; Get decodes only the requested index for
// BitPack/Delta/RLE, and decodes (and caches) the whole block once for
// LZ4.
func Compress(c *Column) *Column {
	switch c.kind {
	case KindBool:
		payload := compress.EncodeBitPackBool(c.boolVals, c.boolValid)
		return &Column{kind: KindCompressed, compressed: &compressedState{
			underlying: KindBool,
			payload:    payload,
		}}
	case KindInt64:
		return compressInt64(c.i64Vals, c.i64Valid, KindInt64)
	case KindTimestamp:
		return compressInt64(c.tsVals, c.tsValid, KindTimestamp)
	case KindString:
		return compressStringIDs(c.strIDs, c.strValid, c.dict)
	default:
		// Null and Float64 columns have no codec here; the shard's seal
		// path still passes them in, and returning the column unchanged
		// keeps Compress total.
		return c
	}
}

func compressInt64(vals []int64, valid []bool, underlying Kind) *Column {
	algo := compress.SelectForInt64(vals, valid)
	var payload compress.Payload
	switch algo {
	case compress.AlgoRLE:
		payload = compress.EncodeRLEInt64(vals, valid)
	case compress.AlgoDelta:
		payload = compress.EncodeDeltaI64(vals, valid)
	default:
		raw := compress.SerializeNullableI64(vals, valid)
		p, err := compress.EncodeLZ4(raw)
		if err != nil {
			// Fall back to an uncompressed-equivalent Delta encoding rather
			// than propagate an encode failure out of seal().
			payload = compress.EncodeDeltaI64(vals, valid)
		} else {
			p.Length = len(vals)
			payload = p
		}
	}
	return &Column{kind: KindCompressed, compressed: &compressedState{
		underlying: underlying,
		payload:    payload,
	}}
}

func compressStringIDs(ids []uint32, valid []bool, d *dict.Dictionary) *Column {
	algo := compress.SelectForDictIDs(ids, valid)
	var payload compress.Payload
	switch algo {
	case compress.AlgoRLE:
		payload = compress.EncodeRLEDictIDs(ids, valid)
	default:
		raw := compress.SerializeNullableU32(ids, valid)
		p, err := compress.EncodeLZ4(raw)
		if err != nil {
			payload = compress.EncodeRLEDictIDs(ids, valid)
		} else {
			p.Length = len(ids)
			payload = p
		}
	}
	return &Column{kind: KindCompressed, compressed: &compressedState{
		underlying: KindString,
		payload:    payload,
		frozenDict: d.Frozen(),
	}}
}

func (cs *compressedState) get(index int) value.Value {
	switch cs.payload.Algorithm {
	case compress.AlgoBitPack:
		v, ok, err := compress.BitPackGet(cs.payload, index)
		if err != nil || !ok {
			return value.Null
		}
		return value.Bool(v)
	case compress.AlgoDelta:
		v, ok, err := compress.DeltaGet(cs.payload, index)
		if err != nil || !ok {
			return value.Null
		}
		return cs.wrapInt64(v)
	case compress.AlgoRLE:
		return cs.getRLE(index)
	case compress.AlgoLZ4:
		return cs.getLZ4(index)
	default:
		return value.Null
	}
}

func (cs *compressedState) getRLE(index int) value.Value {
	if cs.underlying == KindString {
		id, ok, err := compress.RLEDictIDsGet(cs.payload, index)
		if err != nil || !ok {
			return value.Null
		}
		return value.String(cs.frozenDict.String(id))
	}
	v, ok, err := compress.RLEInt64Get(cs.payload, index)
	if err != nil || !ok {
		return value.Null
	}
	return cs.wrapInt64(v)
}

// getLZ4 decodes and caches the whole block on first access, then serves
// every subsequent index from the cached vector.
func (cs *compressedState) getLZ4(index int) value.Value {
	cs.mu.Lock()
	if !cs.decoded {
		raw, err := compress.DecodeLZ4(cs.payload)
		if err == nil {
			if cs.underlying == KindString {
				cs.idVals, cs.idValid, err = compress.DeserializeNullableU32(raw, cs.payload.Length)
			} else {
				cs.i64Vals, cs.i64Valid, err = compress.DeserializeNullableI64(raw, cs.payload.Length)
			}
		}
		cs.decoded = err == nil
	}
	cs.mu.Unlock()

	if !cs.decoded || index < 0 || index >= cs.payload.Length {
		return value.Null
	}
	if cs.underlying == KindString {
		if !cs.idValid[index] {
			return value.Null
		}
		return value.String(cs.frozenDict.String(cs.idVals[index]))
	}
	if !cs.i64Valid[index] {
		return value.Null
	}
	return cs.wrapInt64(cs.i64Vals[index])
}

func (cs *compressedState) wrapInt64(v int64) value.Value {
	if cs.underlying == KindTimestamp {
		return value.Timestamp(v)
	}
	return value.Int64(v)
}
