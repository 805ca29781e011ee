package walletstatedb

import (
	"time"

	"gorm.io/gorm"
)

// SQLiteAccount is a wallet account the send flow can spend from
type SQLiteAccount struct {
	gorm.Model
	AccountID     string `gorm:"uniqueIndex"`
	Network       string `gorm:"index"`
	Address       string // receive address shown in the send form
	ChangeAddress string
}

// SQLiteUTXO represents an unspent output owned by an account
type SQLiteUTXO struct {
	gorm.Model
	AccountID string `gorm:"index;uniqueIndex:idx_utxo_outpoint"`
	TxID      string `gorm:"uniqueIndex:idx_utxo_outpoint"`
	Vout      uint32 `gorm:"uniqueIndex:idx_utxo_outpoint"`
	Value     int64
	PkScript  []byte
}

// SQLiteFrozenOutpoint marks an output reserved by another protocol
type SQLiteFrozenOutpoint struct {
	gorm.Model
	AccountID string `gorm:"index;uniqueIndex:idx_frozen_outpoint"`
	TxID      string `gorm:"uniqueIndex:idx_frozen_outpoint"`
	Vout      uint32 `gorm:"uniqueIndex:idx_frozen_outpoint"`
	Reason    string // e.g. "inscription"
}

// SQLiteInterface persists an open interactive surface and its context
type SQLiteInterface struct {
	InterfaceID string `gorm:"primaryKey"`
	Screen      string
	Context     []byte // JSON
	State       []byte // JSON map of pending input values
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SQLiteChallenge is a login challenge handed to the API user
type SQLiteChallenge struct {
	gorm.Model
	Hash      string `gorm:"uniqueIndex"`
	Challenge string
	Status    string // "unused" or "used"
	Npub      string
	ExpiresAt time.Time
}
