package blockchain

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

var (
	// MintAuthoritySeed derives the single authority over every outcome mint of a program.
	MintAuthoritySeed = []byte("mint_authority")
	// TokenEscrowSeed, followed by the order address, derives that order's escrow.
	TokenEscrowSeed = []byte("token_escrow")

	ErrNoViableBump = errors.New("no viable bump seed for program address")
)

// DeriveAddress finds the program-derived address for seeds under programID,
// searching bump seeds from 255 downward.
func DeriveAddress(seeds [][]byte, programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	// FindProgramAddress appends the bump to the seed slice; give it a private copy.
	owned := make([][]byte, len(seeds), len(seeds)+1)
	copy(owned, seeds)

	pda, bump, err := solana.FindProgramAddress(owned, programID)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("%w: %v", ErrNoViableBump, err)
	}
	return pda, bump, nil
}

// MintAuthorityAddress derives the mint authority shared by all results of programID.
func MintAuthorityAddress(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	pda, bump, err := DeriveAddress([][]byte{MintAuthoritySeed}, programID)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("failed to derive mint authority: %w", err)
	}
	return pda, bump, nil
}

// EscrowAddress derives the token escrow of a single order.
func EscrowAddress(programID, order solana.PublicKey) (solana.PublicKey, uint8, error) {
	pda, bump, err := DeriveAddress([][]byte{TokenEscrowSeed, order.Bytes()}, programID)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("failed to derive escrow for order %s: %w", order, err)
	}
	return pda, bump, nil
}
