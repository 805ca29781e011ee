package sendflow

import (
	"errors"

	"github.com/Maphikza/btc-wallet-sendflow/internal/wallet"
)

var (
	ErrAccountNotFound   = wallet.ErrAccountNotFound
	ErrUserCancelled     = errors.New("user cancelled the send flow")
	ErrInconsistentState = errors.New("inconsistent send flow state")
	ErrUnrecognizedEvent = errors.New("unrecognized event")
	ErrInterfaceNotFound = errors.New("interface not found")
)
