package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/mr-tron/base58"
)

func TestDecodeEd25519Seed_Hex(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i)
	}
	key, err := decodeEd25519Seed(hex.EncodeToString(seed))
	if err != nil {
		t.Fatalf("decodeEd25519Seed: %v", err)
	}
	if len(key) != ed25519.PrivateKeySize {
		t.Fatalf("expected a %d-byte expanded key, got %d", ed25519.PrivateKeySize, len(key))
	}
}

func TestDecodeEd25519Seed_Base58(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	key, err := decodeEd25519Seed(base58.Encode(seed))
	if err != nil {
		t.Fatalf("decodeEd25519Seed: %v", err)
	}
	if len(key) != ed25519.PrivateKeySize {
		t.Fatalf("expected a %d-byte expanded key, got %d", ed25519.PrivateKeySize, len(key))
	}
}

func TestDecodeEd25519Seed_Empty(t *testing.T) {
	if _, err := decodeEd25519Seed(""); err == nil {
		t.Fatal("expected an error for an unconfigured signer key")
	}
}

func TestDecodeEd25519Seed_WrongLength(t *testing.T) {
	if _, err := decodeEd25519Seed(hex.EncodeToString([]byte("too short"))); err == nil {
		t.Fatal("expected an error for a seed of the wrong length")
	}
}

func TestDecodeEd25519Seed_InvalidEncoding(t *testing.T) {
	if _, err := decodeEd25519Seed("not hex and not valid base58 either!!"); err == nil {
		t.Fatal("expected an error for input that is neither valid hex nor base58")
	}
}

func TestDecodeGenesisHash_Valid(t *testing.T) {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i * 3)
	}
	encoded := base64.StdEncoding.EncodeToString(raw)
	got, err := decodeGenesisHash(encoded)
	if err != nil {
		t.Fatalf("decodeGenesisHash: %v", err)
	}
	for i := range raw {
		if got[i] != raw[i] {
			t.Fatalf("byte %d: expected %d, got %d", i, raw[i], got[i])
		}
	}
}

func TestDecodeGenesisHash_WrongLength(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("too short"))
	if _, err := decodeGenesisHash(encoded); err == nil {
		t.Fatal("expected an error for a genesis hash that isn't 32 bytes")
	}
}

func TestDecodeGenesisHash_InvalidBase64(t *testing.T) {
	if _, err := decodeGenesisHash("not valid base64!!"); err == nil {
		t.Fatal("expected an error for invalid base64")
	}
}
