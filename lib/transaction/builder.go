package transaction

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txauthor"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
)

// MaxFeeRate is the largest fee rate the builder accepts, in sat/vB.
const MaxFeeRate = 1000

var (
	ErrNoRecipient       = errors.New("transaction has no recipient")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrDustOutput        = errors.New("output amount is below the dust limit")
	ErrInvalidFeeRate    = errors.New("invalid fee rate")
	ErrNoSpendableInputs = errors.New("no spendable outputs")
)

type recipient struct {
	amount  btcutil.Amount
	address string
}

// DraftBuilder builds unsigned drafts over a fixed UTXO set. A builder is
// single-use; obtain a fresh one per computation.
type DraftBuilder struct {
	params       *chaincfg.Params
	utxos        []UTXO
	changeScript []byte

	recipients []recipient
	feeRate    float64
	drain      bool
	drainTo    string
	excluded   map[wire.OutPoint]struct{}
}

var _ Builder = (*DraftBuilder)(nil)

// NewDraftBuilder returns a builder spending from utxos. changeScript receives
// any change in fixed-amount mode.
func NewDraftBuilder(params *chaincfg.Params, utxos []UTXO, changeScript []byte) *DraftBuilder {
	return &DraftBuilder{
		params:       params,
		utxos:        utxos,
		changeScript: changeScript,
		excluded:     make(map[wire.OutPoint]struct{}),
	}
}

func (b *DraftBuilder) AddRecipient(amount btcutil.Amount, address string) Builder {
	b.recipients = append(b.recipients, recipient{amount: amount, address: address})
	return b
}

func (b *DraftBuilder) FeeRate(satPerVByte float64) Builder {
	b.feeRate = satPerVByte
	return b
}

func (b *DraftBuilder) DrainWallet() Builder {
	b.drain = true
	return b
}

func (b *DraftBuilder) DrainTo(address string) Builder {
	b.drainTo = address
	return b
}

func (b *DraftBuilder) ExcludeOutpoints(outpoints []wire.OutPoint) Builder {
	for _, op := range outpoints {
		b.excluded[op] = struct{}{}
	}
	return b
}

// DraftTransaction is the result of a successful Finish.
type DraftTransaction struct {
	Tx          *wire.MsgTx
	TotalInput  btcutil.Amount
	ChangeIndex int
	fee         btcutil.Amount
}

func (d *DraftTransaction) Fee() btcutil.Amount {
	return d.fee
}

func (b *DraftBuilder) Finish() (Draft, error) {
	if b.feeRate <= 0 || b.feeRate > MaxFeeRate || math.IsNaN(b.feeRate) {
		return nil, fmt.Errorf("%w: %v sat/vB", ErrInvalidFeeRate, b.feeRate)
	}

	spendable := b.spendable()
	if len(spendable) == 0 {
		return nil, ErrNoSpendableInputs
	}

	if b.drain {
		return b.finishDrain(spendable)
	}
	return b.finishFixed(spendable)
}

// feeRatePerKb converts sat/vB to the sat/kvB unit txauthor and txrules use.
func (b *DraftBuilder) feeRatePerKb() btcutil.Amount {
	return btcutil.Amount(math.Ceil(b.feeRate * 1000))
}

func (b *DraftBuilder) spendable() []UTXO {
	var out []UTXO
	for _, u := range b.utxos {
		if _, frozen := b.excluded[u.OutPoint]; frozen {
			continue
		}
		out = append(out, u)
	}

	// Largest first keeps the input count low for fixed-amount drafts.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Value > out[j].Value
	})
	return out
}

func (b *DraftBuilder) outputScript(address string) ([]byte, error) {
	pkScript, err := ScriptForAddress(address, b.params)
	if err != nil {
		return nil, fmt.Errorf("failed to decode recipient address: %v", err)
	}
	return pkScript, nil
}

func (b *DraftBuilder) finishFixed(spendable []UTXO) (Draft, error) {
	if len(b.recipients) == 0 {
		return nil, ErrNoRecipient
	}

	relayFee := txrules.DefaultRelayFeePerKb
	outputs := make([]*wire.TxOut, 0, len(b.recipients))
	for _, r := range b.recipients {
		pkScript, err := b.outputScript(r.address)
		if err != nil {
			return nil, err
		}
		out := wire.NewTxOut(int64(r.amount), pkScript)
		if err := txrules.CheckOutput(out, relayFee); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDustOutput, err)
		}
		outputs = append(outputs, out)
	}

	changeSource := &txauthor.ChangeSource{
		NewScript: func() ([]byte, error) {
			return b.changeScript, nil
		},
		ScriptSize: len(b.changeScript),
	}

	authored, err := txauthor.NewUnsignedTransaction(outputs, b.feeRatePerKb(), inputSource(spendable), changeSource)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	}

	fee := authored.TotalInput - txauthor.SumOutputValues(authored.Tx.TxOut)
	return &DraftTransaction{
		Tx:          authored.Tx,
		TotalInput:  authored.TotalInput,
		ChangeIndex: authored.ChangeIndex,
		fee:         fee,
	}, nil
}

func (b *DraftBuilder) finishDrain(spendable []UTXO) (Draft, error) {
	if b.drainTo == "" {
		return nil, ErrNoRecipient
	}
	pkScript, err := b.outputScript(b.drainTo)
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	var total btcutil.Amount
	var p2pkh, p2tr, p2wpkh, nested int
	for _, u := range spendable {
		op := u.OutPoint
		tx.AddTxIn(wire.NewTxIn(&op, nil, nil))
		total += u.Value

		switch txscript.GetScriptClass(u.PkScript) {
		case txscript.WitnessV0PubKeyHashTy:
			p2wpkh++
		case txscript.WitnessV1TaprootTy:
			p2tr++
		case txscript.ScriptHashTy:
			nested++
		default:
			p2pkh++
		}
	}

	out := wire.NewTxOut(0, pkScript)
	vsize := txsizes.EstimateVirtualSize(p2pkh, p2tr, p2wpkh, nested, []*wire.TxOut{out}, 0)
	fee := txrules.FeeForSerializeSize(b.feeRatePerKb(), vsize)

	remaining := total - fee
	if remaining <= 0 {
		return nil, fmt.Errorf("%w: balance %d sat cannot cover fee %d sat", ErrInsufficientFunds, int64(total), int64(fee))
	}
	out.Value = int64(remaining)
	if txrules.IsDustOutput(out, txrules.DefaultRelayFeePerKb) {
		return nil, fmt.Errorf("%w: %d sat after fee", ErrDustOutput, int64(remaining))
	}
	tx.AddTxOut(out)

	return &DraftTransaction{
		Tx:          tx,
		TotalInput:  total,
		ChangeIndex: -1,
		fee:         fee,
	}, nil
}

// inputSource selects from utxos in order until the target is reached.
func inputSource(utxos []UTXO) txauthor.InputSource {
	return func(target btcutil.Amount) (btcutil.Amount, []*wire.TxIn, []btcutil.Amount, [][]byte, error) {
		var (
			total  btcutil.Amount
			inputs []*wire.TxIn
			values []btcutil.Amount
			script [][]byte
		)
		for _, u := range utxos {
			if total >= target {
				break
			}
			op := u.OutPoint
			inputs = append(inputs, wire.NewTxIn(&op, nil, nil))
			values = append(values, u.Value)
			script = append(script, u.PkScript)
			total += u.Value
		}
		return total, inputs, values, script, nil
	}
}
