package sendflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/btcutil"
)

// Screens an interface can show.
const (
	ScreenForm   = "send-form"
	ScreenReview = "review"
)

// Input state keys the form reads pending values from.
const (
	InputRecipient = "recipient"
	InputAmount    = "amount"
)

// Sats is an integer satoshi amount. It is serialized as a decimal string.
type Sats int64

func (s Sats) String() string {
	return strconv.FormatInt(int64(s), 10)
}

func (s Sats) Amount() btcutil.Amount {
	return btcutil.Amount(s)
}

func (s Sats) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts both the string form and a bare integer.
func (s *Sats) UnmarshalJSON(data []byte) error {
	raw := string(bytes.Trim(data, `"`))
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid sats value %s: %w", data, err)
	}
	*s = Sats(v)
	return nil
}

func sats(v Sats) *Sats {
	return &v
}

type AccountRef struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

// ExchangeRate is a fiat quote used for display only.
type ExchangeRate struct {
	Currency       string    `json:"currency"`
	ConversionRate float64   `json:"conversionRate"`
	ConversionDate time.Time `json:"conversionDate"`
}

// FormErrors holds independent field-level messages. Empty means no error.
type FormErrors struct {
	Recipient string `json:"recipient,omitempty"`
	Amount    string `json:"amount,omitempty"`
	Tx        string `json:"tx,omitempty"`
}

// FormContext is the persisted state of the send form.
//
// Fee is set only when Amount and Recipient are set and the last fee
// computation succeeded. With Drain set, Amount is Balance minus Fee.
type FormContext struct {
	Account           AccountRef    `json:"account"`
	Network           string        `json:"network"`
	Currency          string        `json:"currency"`
	Balance           Sats          `json:"balance"`
	FeeRate           float64       `json:"feeRate"`
	ExchangeRate      *ExchangeRate `json:"exchangeRate,omitempty"`
	Recipient         string        `json:"recipient,omitempty"`
	Amount            *Sats         `json:"amount,omitempty"`
	Fee               *Sats         `json:"fee,omitempty"`
	Drain             bool          `json:"drain,omitempty"`
	Errors            FormErrors    `json:"errors"`
	BackgroundEventID string        `json:"backgroundEventId,omitempty"`
	Locale            string        `json:"locale"`
}

// ReviewContext is the persisted state of the review screen. SendForm is the
// form to return to on back navigation.
type ReviewContext struct {
	From         string        `json:"from"`
	Network      string        `json:"network"`
	Currency     string        `json:"currency"`
	ExchangeRate *ExchangeRate `json:"exchangeRate,omitempty"`
	Recipient    string        `json:"recipient"`
	Amount       Sats          `json:"amount"`
	FeeRate      float64       `json:"feeRate"`
	Fee          Sats          `json:"fee"`
	Locale       string        `json:"locale"`
	SendForm     *FormContext  `json:"sendForm,omitempty"`
}

// TransactionRequest is the result of a completed flow. The caller rebuilds
// the draft from these fields.
type TransactionRequest struct {
	Recipient string  `json:"recipient"`
	Amount    Sats    `json:"amount"`
	FeeRate   float64 `json:"feeRate"`
}

// Preferences are the user settings read from the host.
type Preferences struct {
	Locale   string
	Currency string
}
