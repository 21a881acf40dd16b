package evm

import (
	"crypto/ecdsa"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// privateKeyType narrows crypto/ecdsa's presence to this file; provider.go
// only ever sees it through the parsePrivateKey/publicAddress/rawKey seam.
type privateKeyType = ecdsa.PrivateKey

func parsePrivateKey(hexKey string) (*privateKeyType, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	return crypto.HexToECDSA(hexKey)
}

func publicAddress(key *privateKeyType) common.Address {
	return crypto.PubkeyToAddress(key.PublicKey)
}

func rawKey(key *privateKeyType) *ecdsa.PrivateKey { return key }
