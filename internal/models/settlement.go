package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type SettlementState string

// A task advances through these states in order. Failed keeps the last
// confirmed state so an operator retry can resume from it.
const (
	SettlementStatePending           SettlementState = "PENDING"
	SettlementStateAccountsCreated   SettlementState = "ACCOUNTS_CREATED"
	SettlementStateResultInitialized SettlementState = "RESULT_INITIALIZED"
	SettlementStateFunded            SettlementState = "FUNDED"
	SettlementStateOrderPlaced       SettlementState = "ORDER_PLACED"
	SettlementStateFailed            SettlementState = "FAILED"
)

// Terminal reports whether no further ledger step follows this state
func (s SettlementState) Terminal() bool {
	return s == SettlementStateOrderPlaced || s == SettlementStateFailed
}

// Valid reports whether s is a known state
func (s SettlementState) Valid() bool {
	switch s {
	case SettlementStatePending, SettlementStateAccountsCreated, SettlementStateResultInitialized,
		SettlementStateFunded, SettlementStateOrderPlaced, SettlementStateFailed:
		return true
	}
	return false
}

// SettlementTask tracks the on-chain settlement of one search result candidate
type SettlementTask struct {
	ID                 uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	MarketAddress      string          `gorm:"size:64;not null;uniqueIndex:idx_settlement_market_candidate" json:"market_address"`
	CandidateIndex     int             `gorm:"not null;uniqueIndex:idx_settlement_market_candidate" json:"candidate_index"`
	SearchString       string          `gorm:"type:text" json:"search_string"`
	URL                string          `gorm:"type:text;not null" json:"url"`
	Name               string          `gorm:"type:text;not null" json:"name"`
	Snippet            string          `gorm:"type:text" json:"snippet"`
	State              SettlementState `gorm:"size:32;not null;default:PENDING;index" json:"state"`
	LastConfirmedState SettlementState `gorm:"size:32;not null;default:PENDING" json:"last_confirmed_state"`
	MintAuthorityBump  uint8           `json:"mint_authority_bump"`
	ResultAddress      string          `gorm:"size:64" json:"result_address,omitempty"`
	YesMint            string          `gorm:"size:64" json:"yes_mint,omitempty"`
	NoMint             string          `gorm:"size:64" json:"no_mint,omitempty"`
	YesHolding         string          `gorm:"size:64" json:"yes_holding,omitempty"`
	NoHolding          string          `gorm:"size:64" json:"no_holding,omitempty"`
	OrderAddress       string          `gorm:"size:64" json:"order_address,omitempty"`
	EscrowAddress      string          `gorm:"size:64" json:"escrow_address,omitempty"`
	Price              uint64          `json:"price"`
	ResultTxHash       string          `gorm:"size:128" json:"result_tx_hash,omitempty"`
	DepositTxHash      string          `gorm:"size:128" json:"deposit_tx_hash,omitempty"`
	OrderTxHash        string          `gorm:"size:128" json:"order_tx_hash,omitempty"`
	Attempts           int             `gorm:"not null;default:0" json:"attempts"`
	LastError          string          `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
}

func (SettlementTask) TableName() string {
	return "settlement_tasks"
}

func (t *SettlementTask) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
