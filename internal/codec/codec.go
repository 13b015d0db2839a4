// Package codec encodes and decodes the market program's instruction and
// account payloads. The layout is Borsh: little-endian fixed-width integers,
// u32 length-prefixed UTF-8 strings, raw 32-byte public keys and fields in
// declaration order, with a leading one-byte discriminant on every payload.
package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

const publicKeyLength = 32

var (
	ErrTruncated     = errors.New("codec: buffer truncated")
	ErrTrailingBytes = errors.New("codec: trailing bytes after payload")
	ErrUnknownTag    = errors.New("codec: unknown instruction tag")
	ErrWrongKind     = errors.New("codec: unexpected account kind")
	ErrInvalidString = errors.New("codec: string is not valid UTF-8")
	ErrStringTooLong = errors.New("codec: string exceeds u32 length prefix")
)

// payload is implemented by every instruction body and account record.
type payload interface {
	MarshalWithEncoder(encoder *bin.Encoder) error
	UnmarshalWithDecoder(decoder *bin.Decoder) error
}

func marshal(p payload) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := p.MarshalWithEncoder(bin.NewBorshEncoder(buf)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unmarshal(data []byte, p payload) error {
	decoder := bin.NewBorshDecoder(data)
	if err := p.UnmarshalWithDecoder(decoder); err != nil {
		return err
	}
	if decoder.Remaining() > 0 {
		return fmt.Errorf("%w: %d bytes", ErrTrailingBytes, decoder.Remaining())
	}
	return nil
}

// IsZeroed reports whether every byte of data is zero. Freshly allocated
// program accounts look like this until the program writes to them.
func IsZeroed(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}

func writeString(encoder *bin.Encoder, s string) error {
	if uint64(len(s)) > math.MaxUint32 {
		return ErrStringTooLong
	}
	if err := encoder.WriteUint32(uint32(len(s)), binary.LittleEndian); err != nil {
		return err
	}
	return encoder.WriteBytes([]byte(s), false)
}

func writePublicKey(encoder *bin.Encoder, key solana.PublicKey) error {
	return encoder.WriteBytes(key[:], false)
}

func need(decoder *bin.Decoder, n int) error {
	if decoder.Remaining() < n {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrTruncated, n, decoder.Remaining())
	}
	return nil
}

func readUint8(decoder *bin.Decoder) (uint8, error) {
	if err := need(decoder, 1); err != nil {
		return 0, err
	}
	return decoder.ReadUint8()
}

func readUint64(decoder *bin.Decoder) (uint64, error) {
	if err := need(decoder, 8); err != nil {
		return 0, err
	}
	return decoder.ReadUint64(binary.LittleEndian)
}

func readString(decoder *bin.Decoder) (string, error) {
	if err := need(decoder, 4); err != nil {
		return "", err
	}
	length, err := decoder.ReadUint32(binary.LittleEndian)
	if err != nil {
		return "", err
	}
	if uint64(length) > uint64(decoder.Remaining()) {
		return "", fmt.Errorf("%w: string of %d bytes, have %d", ErrTruncated, length, decoder.Remaining())
	}
	raw, err := decoder.ReadNBytes(int(length))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(raw) {
		return "", ErrInvalidString
	}
	return string(raw), nil
}

func readPublicKey(decoder *bin.Decoder) (solana.PublicKey, error) {
	if err := need(decoder, publicKeyLength); err != nil {
		return solana.PublicKey{}, err
	}
	raw, err := decoder.ReadNBytes(publicKeyLength)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return solana.PublicKeyFromBytes(raw), nil
}
