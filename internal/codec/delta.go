// Package codec implements the varint delta codec (C1): a signed integer
// sequence encoded as sign-flag + LEB128-style magnitude varints, with no
// length prefix or header, mirroring the pack's columnar timeseries encoders
// but pinned to the exact wire format this engine's delta chains require.
package codec

import (
	"fmt"

	"github.com/dataengine/core/internal/domain"
)

const (
	continuationBit = 0x80
	payloadMask     = 0x7f
	signPositive    = 0x00
	signNegative    = 0x01
)

// Encode encodes a sequence of signed 32-bit-range integers as the
// concatenation of (magnitude varint, sign byte) pairs, with no length
// prefix and no header.
func Encode(values []int64) []byte {
	buf := make([]byte, 0, len(values)*2)
	for _, v := range values {
		sign := byte(signPositive)
		mag := uint64(v)
		if v < 0 {
			sign = signNegative
			mag = uint64(-v)
		}
		buf = appendVarint(buf, mag)
		buf = append(buf, sign)
	}
	return buf
}

func appendVarint(buf []byte, v uint64) []byte {
	for v >= continuationBit {
		buf = append(buf, byte(v&payloadMask)|continuationBit)
		v >>= 7
	}
	return append(buf, byte(v))
}

// Decode decodes a byte stream produced by Encode back into the original
// signed integer sequence. Fails with domain.ErrCodec on truncated input or
// on a sign byte outside {0,1}.
func Decode(data []byte) ([]int64, error) {
	var out []int64
	i := 0
	for i < len(data) {
		mag, n, err := readVarint(data[i:])
		if err != nil {
			return nil, domain.NewDomainError("codec.Decode", domain.ErrCodec, err.Error())
		}
		i += n
		if i >= len(data) {
			return nil, domain.NewDomainError("codec.Decode", domain.ErrCodec, "truncated stream: missing sign byte")
		}
		sign := data[i]
		i++
		switch sign {
		case signPositive:
			out = append(out, int64(mag))
		case signNegative:
			out = append(out, -int64(mag))
		default:
			return nil, domain.NewDomainError("codec.Decode", domain.ErrCodec, fmt.Sprintf("invalid sign byte %#x", sign))
		}
	}
	return out, nil
}

func readVarint(data []byte) (uint64, int, error) {
	var result uint64
	var shift uint
	for i, b := range data {
		result |= uint64(b&payloadMask) << shift
		if b&continuationBit == 0 {
			return result, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, fmt.Errorf("truncated stream: unterminated varint")
}
