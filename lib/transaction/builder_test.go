package transaction

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testParams = &chaincfg.RegressionNetParams

func newTestAddress(t *testing.T) btcutil.Address {
	t.Helper()
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(key.PubKey().SerializeCompressed()), testParams)
	require.NoError(t, err)
	return addr
}

func newTestUTXO(t *testing.T, index byte, value btcutil.Amount, addr btcutil.Address) UTXO {
	t.Helper()
	pkScript, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)
	var hash chainhash.Hash
	hash[0] = index
	return UTXO{
		OutPoint: *wire.NewOutPoint(&hash, uint32(index)),
		Value:    value,
		PkScript: pkScript,
	}
}

func TestDraftBuilderDrainSubtractsFee(t *testing.T) {
	own := newTestAddress(t)
	dest := newTestAddress(t)
	changeScript, err := txscript.PayToAddrScript(own)
	require.NoError(t, err)

	utxos := []UTXO{
		newTestUTXO(t, 1, 15000, own),
		newTestUTXO(t, 2, 5000, own),
	}

	draft, err := NewDraftBuilder(testParams, utxos, changeScript).
		FeeRate(2).
		DrainWallet().
		DrainTo(dest.EncodeAddress()).
		Finish()
	require.NoError(t, err)

	tx := draft.(*DraftTransaction)
	require.Len(t, tx.Tx.TxOut, 1)
	assert.Len(t, tx.Tx.TxIn, 2)
	assert.Positive(t, int64(draft.Fee()))
	assert.Equal(t, btcutil.Amount(20000), btcutil.Amount(tx.Tx.TxOut[0].Value)+draft.Fee())
}

func TestDraftBuilderDrainSkipsExcludedOutpoints(t *testing.T) {
	own := newTestAddress(t)
	dest := newTestAddress(t)
	changeScript, err := txscript.PayToAddrScript(own)
	require.NoError(t, err)

	frozen := newTestUTXO(t, 2, 5000, own)
	utxos := []UTXO{newTestUTXO(t, 1, 15000, own), frozen}

	draft, err := NewDraftBuilder(testParams, utxos, changeScript).
		FeeRate(1).
		ExcludeOutpoints([]wire.OutPoint{frozen.OutPoint}).
		DrainWallet().
		DrainTo(dest.EncodeAddress()).
		Finish()
	require.NoError(t, err)

	tx := draft.(*DraftTransaction)
	require.Len(t, tx.Tx.TxIn, 1)
	assert.Equal(t, btcutil.Amount(15000), tx.TotalInput)
}

func TestDraftBuilderFixedAmount(t *testing.T) {
	own := newTestAddress(t)
	dest := newTestAddress(t)
	changeScript, err := txscript.PayToAddrScript(own)
	require.NoError(t, err)

	utxos := []UTXO{newTestUTXO(t, 1, 100000, own)}

	draft, err := NewDraftBuilder(testParams, utxos, changeScript).
		FeeRate(3).
		AddRecipient(40000, dest.EncodeAddress()).
		Finish()
	require.NoError(t, err)

	tx := draft.(*DraftTransaction)
	assert.Positive(t, int64(draft.Fee()))
	assert.Equal(t, int64(40000), tx.Tx.TxOut[0].Value)
	assert.Equal(t, tx.TotalInput, txSum(tx.Tx)+draft.Fee())
}

func TestDraftBuilderErrors(t *testing.T) {
	own := newTestAddress(t)
	dest := newTestAddress(t)
	changeScript, err := txscript.PayToAddrScript(own)
	require.NoError(t, err)
	utxos := []UTXO{newTestUTXO(t, 1, 10000, own)}

	tests := []struct {
		name  string
		build func(b Builder) Builder
		want  error
	}{
		{
			name: "insufficient funds",
			build: func(b Builder) Builder {
				return b.FeeRate(2).AddRecipient(50000, dest.EncodeAddress())
			},
			want: ErrInsufficientFunds,
		},
		{
			name: "dust output",
			build: func(b Builder) Builder {
				return b.FeeRate(2).AddRecipient(10, dest.EncodeAddress())
			},
			want: ErrDustOutput,
		},
		{
			name: "missing fee rate",
			build: func(b Builder) Builder {
				return b.AddRecipient(5000, dest.EncodeAddress())
			},
			want: ErrInvalidFeeRate,
		},
		{
			name: "no recipient",
			build: func(b Builder) Builder {
				return b.FeeRate(2)
			},
			want: ErrNoRecipient,
		},
		{
			name: "drain below fee",
			build: func(b Builder) Builder {
				return b.FeeRate(900).DrainWallet().DrainTo(dest.EncodeAddress())
			},
			want: ErrInsufficientFunds,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build(NewDraftBuilder(testParams, utxos, changeScript)).Finish()
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDraftBuilderDrainRejectsDustRemainder(t *testing.T) {
	own := newTestAddress(t)
	dest := newTestAddress(t)
	changeScript, err := txscript.PayToAddrScript(own)
	require.NoError(t, err)

	// About 110 vB at 7 sat/vB leaves roughly 230 sat, below the P2WPKH dust limit.
	_, err = NewDraftBuilder(testParams, []UTXO{newTestUTXO(t, 1, 1000, own)}, changeScript).
		FeeRate(7).
		DrainWallet().
		DrainTo(dest.EncodeAddress()).
		Finish()
	assert.ErrorIs(t, err, ErrDustOutput)
}

func TestDraftBuilderRejectsForeignNetworkAddress(t *testing.T) {
	own := newTestAddress(t)
	changeScript, err := txscript.PayToAddrScript(own)
	require.NoError(t, err)

	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	mainnet, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(key.PubKey().SerializeCompressed()), &chaincfg.MainNetParams)
	require.NoError(t, err)

	_, err = NewDraftBuilder(testParams, []UTXO{newTestUTXO(t, 1, 10000, own)}, changeScript).
		FeeRate(1).
		AddRecipient(5000, mainnet.EncodeAddress()).
		Finish()
	assert.Error(t, err)
}

func txSum(tx *wire.MsgTx) btcutil.Amount {
	var sum btcutil.Amount
	for _, out := range tx.TxOut {
		sum += btcutil.Amount(out.Value)
	}
	return sum
}
