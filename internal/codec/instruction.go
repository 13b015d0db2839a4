package codec

import (
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
)

// InstructionTag is the leading byte of every instruction sent to the market program.
type InstructionTag uint8

const (
	TagCreateResult InstructionTag = 0
	TagDeposit      InstructionTag = 1
	TagCreateOrder  InstructionTag = 2
)

func (t InstructionTag) String() string {
	switch t {
	case TagCreateResult:
		return "CreateResult"
	case TagDeposit:
		return "Deposit"
	case TagCreateOrder:
		return "CreateOrder"
	default:
		return fmt.Sprintf("InstructionTag(%d)", uint8(t))
	}
}

// Side of an order on the market program's book.
type Side uint8

const (
	SideBuy  Side = 0
	SideSell Side = 1
)

// Instruction is one variant of the market program's instruction enum.
type Instruction interface {
	payload
	Tag() InstructionTag
}

// CreateResult initializes a result account and its two outcome mints.
type CreateResult struct {
	URL      string
	Name     string
	Snippet  string
	BumpSeed uint8
}

func (CreateResult) Tag() InstructionTag { return TagCreateResult }

func (ix CreateResult) MarshalWithEncoder(encoder *bin.Encoder) error {
	if err := writeString(encoder, ix.URL); err != nil {
		return err
	}
	if err := writeString(encoder, ix.Name); err != nil {
		return err
	}
	if err := writeString(encoder, ix.Snippet); err != nil {
		return err
	}
	return encoder.WriteUint8(ix.BumpSeed)
}

func (ix *CreateResult) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	if ix.URL, err = readString(decoder); err != nil {
		return err
	}
	if ix.Name, err = readString(decoder); err != nil {
		return err
	}
	if ix.Snippet, err = readString(decoder); err != nil {
		return err
	}
	ix.BumpSeed, err = readUint8(decoder)
	return err
}

// Deposit mints Quantity units of both outcome shares into the caller's holding accounts.
type Deposit struct {
	Quantity uint64
}

func (Deposit) Tag() InstructionTag { return TagDeposit }

func (ix Deposit) MarshalWithEncoder(encoder *bin.Encoder) error {
	return encoder.WriteUint64(ix.Quantity, binary.LittleEndian)
}

func (ix *Deposit) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	ix.Quantity, err = readUint64(decoder)
	return err
}

// CreateOrder places a standing order whose tokens sit in a derived escrow.
type CreateOrder struct {
	Side           Side
	Price          uint64
	Quantity       uint64
	EscrowBumpSeed uint8
}

func (CreateOrder) Tag() InstructionTag { return TagCreateOrder }

func (ix CreateOrder) MarshalWithEncoder(encoder *bin.Encoder) error {
	if err := encoder.WriteUint8(uint8(ix.Side)); err != nil {
		return err
	}
	if err := encoder.WriteUint64(ix.Price, binary.LittleEndian); err != nil {
		return err
	}
	if err := encoder.WriteUint64(ix.Quantity, binary.LittleEndian); err != nil {
		return err
	}
	return encoder.WriteUint8(ix.EscrowBumpSeed)
}

func (ix *CreateOrder) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	side, err := readUint8(decoder)
	if err != nil {
		return err
	}
	ix.Side = Side(side)
	if ix.Price, err = readUint64(decoder); err != nil {
		return err
	}
	if ix.Quantity, err = readUint64(decoder); err != nil {
		return err
	}
	ix.EscrowBumpSeed, err = readUint8(decoder)
	return err
}

// EncodeInstruction serializes ix with its tag byte in front.
func EncodeInstruction(ix Instruction) ([]byte, error) {
	body, err := marshal(ix)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ix.Tag(), err)
	}
	return append([]byte{byte(ix.Tag())}, body...), nil
}

// DecodeInstruction parses instruction data produced by EncodeInstruction.
func DecodeInstruction(data []byte) (Instruction, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty instruction", ErrTruncated)
	}

	var ix Instruction
	switch InstructionTag(data[0]) {
	case TagCreateResult:
		ix = &CreateResult{}
	case TagDeposit:
		ix = &Deposit{}
	case TagCreateOrder:
		ix = &CreateOrder{}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownTag, data[0])
	}

	if err := unmarshal(data[1:], ix); err != nil {
		return nil, fmt.Errorf("decode %s: %w", ix.Tag(), err)
	}
	return ix, nil
}
