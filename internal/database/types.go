package walletstatedb

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("record not found")

type Account struct {
	ID            string
	Network       string
	Address       string
	ChangeAddress string
}

type UTXO struct {
	TxID     string
	Vout     uint32
	Value    int64
	PkScript []byte
}

type FrozenOutpoint struct {
	TxID   string
	Vout   uint32
	Reason string
}

type InterfaceRecord struct {
	ID        string
	Screen    string
	Context   []byte
	State     map[string]string
	UpdatedAt time.Time
}

type Challenge struct {
	Challenge string
	Hash      string
	Status    string
	Npub      string
	CreatedAt time.Time
	ExpiresAt time.Time
}
