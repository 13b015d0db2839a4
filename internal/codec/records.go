package codec

import (
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// AccountKind is the first byte of every account owned by the market program.
type AccountKind uint8

const (
	KindMarket AccountKind = 0
	KindResult AccountKind = 1
	KindOrder  AccountKind = 2
)

// KindOf returns the discriminant of raw account data.
func KindOf(data []byte) (AccountKind, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("%w: empty account", ErrTruncated)
	}
	return AccountKind(data[0]), nil
}

// MarketRecord is a search market. BestResult stays the zero key until the
// program decides the market.
type MarketRecord struct {
	SearchString string
	BestResult   solana.PublicKey
}

// Decided reports whether the program has already picked a winning result.
func (m *MarketRecord) Decided() bool {
	return m.BestResult != solana.PublicKey{}
}

func (m MarketRecord) MarshalWithEncoder(encoder *bin.Encoder) error {
	if err := encoder.WriteUint8(uint8(KindMarket)); err != nil {
		return err
	}
	if err := writeString(encoder, m.SearchString); err != nil {
		return err
	}
	return writePublicKey(encoder, m.BestResult)
}

func (m *MarketRecord) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	if err = expectKind(decoder, KindMarket); err != nil {
		return err
	}
	if m.SearchString, err = readString(decoder); err != nil {
		return err
	}
	m.BestResult, err = readPublicKey(decoder)
	return err
}

// ResultRecord is one candidate search result attached to a market.
type ResultRecord struct {
	SearchMarket solana.PublicKey
	URL          string
	Name         string
	Snippet      string
	YesMint      solana.PublicKey
	NoMint       solana.PublicKey
	BumpSeed     uint8
}

func (r ResultRecord) MarshalWithEncoder(encoder *bin.Encoder) error {
	if err := encoder.WriteUint8(uint8(KindResult)); err != nil {
		return err
	}
	if err := writePublicKey(encoder, r.SearchMarket); err != nil {
		return err
	}
	for _, s := range []string{r.URL, r.Name, r.Snippet} {
		if err := writeString(encoder, s); err != nil {
			return err
		}
	}
	if err := writePublicKey(encoder, r.YesMint); err != nil {
		return err
	}
	if err := writePublicKey(encoder, r.NoMint); err != nil {
		return err
	}
	return encoder.WriteUint8(r.BumpSeed)
}

func (r *ResultRecord) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	if err = expectKind(decoder, KindResult); err != nil {
		return err
	}
	if r.SearchMarket, err = readPublicKey(decoder); err != nil {
		return err
	}
	if r.URL, err = readString(decoder); err != nil {
		return err
	}
	if r.Name, err = readString(decoder); err != nil {
		return err
	}
	if r.Snippet, err = readString(decoder); err != nil {
		return err
	}
	if r.YesMint, err = readPublicKey(decoder); err != nil {
		return err
	}
	if r.NoMint, err = readPublicKey(decoder); err != nil {
		return err
	}
	r.BumpSeed, err = readUint8(decoder)
	return err
}

// OrderRecord is a standing order on one outcome of a result.
type OrderRecord struct {
	SearchMarket       solana.PublicKey
	Result             solana.PublicKey
	SolAccount         solana.PublicKey
	TokenAccount       solana.PublicKey
	Side               Side
	Price              uint64
	Quantity           uint64
	EscrowBumpSeed     uint8
	CreationSlot       uint64
	ExecutionAuthority solana.PublicKey
}

func (o OrderRecord) MarshalWithEncoder(encoder *bin.Encoder) error {
	if err := encoder.WriteUint8(uint8(KindOrder)); err != nil {
		return err
	}
	for _, key := range []solana.PublicKey{o.SearchMarket, o.Result, o.SolAccount, o.TokenAccount} {
		if err := writePublicKey(encoder, key); err != nil {
			return err
		}
	}
	if err := encoder.WriteUint8(uint8(o.Side)); err != nil {
		return err
	}
	if err := encoder.WriteUint64(o.Price, binary.LittleEndian); err != nil {
		return err
	}
	if err := encoder.WriteUint64(o.Quantity, binary.LittleEndian); err != nil {
		return err
	}
	if err := encoder.WriteUint8(o.EscrowBumpSeed); err != nil {
		return err
	}
	if err := encoder.WriteUint64(o.CreationSlot, binary.LittleEndian); err != nil {
		return err
	}
	return writePublicKey(encoder, o.ExecutionAuthority)
}

func (o *OrderRecord) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	if err = expectKind(decoder, KindOrder); err != nil {
		return err
	}
	keys := []*solana.PublicKey{&o.SearchMarket, &o.Result, &o.SolAccount, &o.TokenAccount}
	for _, key := range keys {
		if *key, err = readPublicKey(decoder); err != nil {
			return err
		}
	}
	side, err := readUint8(decoder)
	if err != nil {
		return err
	}
	o.Side = Side(side)
	if o.Price, err = readUint64(decoder); err != nil {
		return err
	}
	if o.Quantity, err = readUint64(decoder); err != nil {
		return err
	}
	if o.EscrowBumpSeed, err = readUint8(decoder); err != nil {
		return err
	}
	if o.CreationSlot, err = readUint64(decoder); err != nil {
		return err
	}
	o.ExecutionAuthority, err = readPublicKey(decoder)
	return err
}

func expectKind(decoder *bin.Decoder, want AccountKind) error {
	kind, err := readUint8(decoder)
	if err != nil {
		return err
	}
	if AccountKind(kind) != want {
		return fmt.Errorf("%w: got %d, want %d", ErrWrongKind, kind, want)
	}
	return nil
}

// EncodeMarketRecord serializes a market account.
func EncodeMarketRecord(m *MarketRecord) ([]byte, error) { return marshal(m) }

// EncodeResultRecord serializes a result account. The sequencer uses the
// length of this encoding to size the account it creates.
func EncodeResultRecord(r *ResultRecord) ([]byte, error) { return marshal(r) }

// EncodeOrderRecord serializes an order account.
func EncodeOrderRecord(o *OrderRecord) ([]byte, error) { return marshal(o) }

// DecodeMarketRecord parses raw market account data.
func DecodeMarketRecord(data []byte) (*MarketRecord, error) {
	var m MarketRecord
	if err := unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode market record: %w", err)
	}
	return &m, nil
}

// DecodeResultRecord parses raw result account data.
func DecodeResultRecord(data []byte) (*ResultRecord, error) {
	var r ResultRecord
	if err := unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode result record: %w", err)
	}
	return &r, nil
}

// DecodeOrderRecord parses raw order account data.
func DecodeOrderRecord(data []byte) (*OrderRecord, error) {
	var o OrderRecord
	if err := unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("decode order record: %w", err)
	}
	return &o, nil
}
