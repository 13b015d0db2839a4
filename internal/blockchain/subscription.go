package blockchain

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
)

// AccountNotification is one observed state of a program-owned account
type AccountNotification struct {
	Account solana.PublicKey
	Data    []byte
}

// ProgramSubscription streams account changes for every account owned by a program
type ProgramSubscription struct {
	client *ws.Client
	sub    *ws.ProgramSubscription
}

// SubscribeProgram opens a websocket and subscribes to programID's account changes
func SubscribeProgram(ctx context.Context, wsEndpoint string, programID solana.PublicKey) (*ProgramSubscription, error) {
	client, err := ws.Connect(ctx, wsEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect websocket %s: %w", wsEndpoint, err)
	}

	sub, err := client.ProgramSubscribeWithOpts(
		programID,
		rpc.CommitmentConfirmed,
		solana.EncodingBase64,
		nil,
	)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to subscribe to program %s: %w", programID, err)
	}

	return &ProgramSubscription{client: client, sub: sub}, nil
}

// Recv blocks until the next account change arrives
func (p *ProgramSubscription) Recv(ctx context.Context) (*AccountNotification, error) {
	result, err := p.sub.Recv(ctx)
	if err != nil {
		return nil, err
	}
	if result == nil || result.Value.Account == nil {
		return nil, fmt.Errorf("empty program notification")
	}

	return &AccountNotification{
		Account: result.Value.Pubkey,
		Data:    result.Value.Account.Data.GetBinary(),
	}, nil
}

// Close unsubscribes and closes the websocket
func (p *ProgramSubscription) Close() {
	p.sub.Unsubscribe()
	p.client.Close()
}
