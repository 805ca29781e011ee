package transaction

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// ParseOutPoint parses the "txid:vout" form.
func ParseOutPoint(s string) (wire.OutPoint, error) {
	txid, voutStr, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return wire.OutPoint{}, fmt.Errorf("invalid outpoint %q: expected txid:vout", s)
	}
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return wire.OutPoint{}, fmt.Errorf("failed to parse txid: %v", err)
	}
	vout, err := strconv.ParseUint(voutStr, 10, 32)
	if err != nil {
		return wire.OutPoint{}, fmt.Errorf("invalid vout: %s", voutStr)
	}
	return *wire.NewOutPoint(hash, uint32(vout)), nil
}

// DecodeAddressForNet decodes address and checks it belongs to params.
func DecodeAddressForNet(address string, params *chaincfg.Params) (btcutil.Address, error) {
	addr, err := btcutil.DecodeAddress(strings.TrimSpace(address), params)
	if err != nil {
		return nil, err
	}
	if !addr.IsForNet(params) {
		return nil, fmt.Errorf("address is not valid on %s", params.Name)
	}
	return addr, nil
}

// ScriptForAddress returns the output script paying to address.
func ScriptForAddress(address string, params *chaincfg.Params) ([]byte, error) {
	addr, err := DecodeAddressForNet(address, params)
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(addr)
}
