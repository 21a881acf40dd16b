package types

import (
	"encoding/json"
	"testing"

	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/caip2"
)

func TestPaymentPayloadRoundTripEVM(t *testing.T) {
	from, _ := NewEVMAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	to, _ := NewEVMAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e")

	original := PaymentPayload{
		X402Version: 2,
		Network:     caip2.Eip155ID(8453),
		Scheme:      SchemeExact,
		Payload: EVMExactPayload{
			Signature: "0xdeadbeef",
			Authorization: EVMAuthorization{
				From:        from,
				To:          to,
				Value:       AmountFromUint64(1_000_000),
				ValidAfter:  1700000000,
				ValidBefore: 1700003600,
				Nonce:       "0x1122334455667788990011223344556677889900112233445566778899ffff",
			},
		},
	}

	raw, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded PaymentPayload
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	evm, ok := decoded.Payload.(EVMExactPayload)
	if !ok {
		t.Fatalf("decoded payload is %T, want EVMExactPayload", decoded.Payload)
	}
	if !evm.Authorization.From.Equal(from) {
		t.Fatalf("from mismatch: got %s want %s", evm.Authorization.From, from)
	}
	if evm.Authorization.Value.String() != "1000000" {
		t.Fatalf("value mismatch: got %s", evm.Authorization.Value)
	}
}

func TestPaymentPayloadRejectsFamilyMismatch(t *testing.T) {
	body := []byte(`{
		"x402Version": 2,
		"network": "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdpKuc147dw2N9d",
		"scheme": "exact",
		"payload": {"signature": "0xdead", "authorization": {}}
	}`)
	var p PaymentPayload
	if err := json.Unmarshal(body, &p); err == nil {
		t.Fatal("expected decode error for solana network with evm-shaped payload")
	}
}

func TestDetectVersionV2(t *testing.T) {
	v, err := DetectVersion([]byte(`{"x402Version":2,"network":"eip155:8453"}`))
	if err != nil || v != 2 {
		t.Fatalf("got %d, %v; want 2, nil", v, err)
	}
}

func TestDetectVersionV1ShortName(t *testing.T) {
	v, err := DetectVersion([]byte(`{"network":"base-sepolia"}`))
	if err != nil || v != 1 {
		t.Fatalf("got %d, %v; want 1, nil", v, err)
	}
}

func TestDetectVersionRejectsUnknown(t *testing.T) {
	if _, err := DetectVersion([]byte(`{"x402Version":3,"network":"eip155:8453"}`)); err == nil {
		t.Fatal("expected error for unsupported x402Version")
	}
}

func TestResolveShortNetworkName(t *testing.T) {
	id, err := ResolveShortNetworkName("base")
	if err != nil {
		t.Fatal(err)
	}
	chainID, ok := id.ChainID()
	if !ok || chainID != 8453 {
		t.Fatalf("got %d, %v; want 8453, true", chainID, ok)
	}
	name, ok := ShortNetworkName(id)
	if !ok || name != "base" {
		t.Fatalf("got %q, %v; want base, true", name, ok)
	}
}

func TestKnownUSDCLookup(t *testing.T) {
	d, ok := KnownUSDC(caip2.Eip155ID(8453))
	if !ok {
		t.Fatal("expected known USDC deployment for base mainnet")
	}
	if d.Decimals != 6 {
		t.Fatalf("decimals = %d, want 6", d.Decimals)
	}
	if d.EIP712 == nil || d.EIP712.Name != "USD Coin" {
		t.Fatalf("unexpected eip712 domain: %+v", d.EIP712)
	}
}

func TestMixedAddressCaseInsensitiveFamilies(t *testing.T) {
	evmLower, _ := NewEVMAddress("0x833589fcd6edb6e08f4c7c32d4f71b54bda02913")
	evmUpper, _ := NewEVMAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	if !evmLower.Equal(evmUpper) {
		t.Fatal("evm addresses should compare case-insensitively")
	}

	near1 := MixedAddress{Family: AddressNear, Text: "Alice.near"}
	near2 := MixedAddress{Family: AddressNear, Text: "alice.near"}
	if !near1.Equal(near2) {
		t.Fatal("near account ids should compare case-insensitively")
	}

	solana1 := MixedAddress{Family: AddressSolana, Text: "ABC"}
	solana2 := MixedAddress{Family: AddressSolana, Text: "abc"}
	if solana1.Equal(solana2) {
		t.Fatal("solana base58 keys must compare case-sensitively")
	}
}
