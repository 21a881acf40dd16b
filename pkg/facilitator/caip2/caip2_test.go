package caip2

import "testing"

func TestRoundTrip(t *testing.T) {
	cases := []string{
		"eip155:8453",
		"solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdpKuc147dw2N9d",
		"near:mainnet",
		"near:testnet",
		"stellar:pubnet",
		"fogo:testnet",
	}
	for _, s := range cases {
		id, err := Parse(s)
		if err != nil {
			t.Fatalf("parse(%q): %v", s, err)
		}
		if id.String() != s {
			t.Fatalf("round trip mismatch: got %q want %q", id.String(), s)
		}
	}
}

func TestParseEip155ChainID(t *testing.T) {
	id, err := Parse("eip155:8453")
	if err != nil {
		t.Fatal(err)
	}
	chainID, ok := id.ChainID()
	if !ok || chainID != 8453 {
		t.Fatalf("chain id = %d, %v; want 8453, true", chainID, ok)
	}
}

func TestParseUnknownNamespace(t *testing.T) {
	if _, err := Parse("cosmos:1"); err == nil {
		t.Fatal("expected error for unknown namespace")
	}
}

func TestParseInvalidNetworkName(t *testing.T) {
	if _, err := Parse("near:foo"); err == nil {
		t.Fatal("expected error for invalid near network name")
	}
}

func TestParseMissingColon(t *testing.T) {
	if _, err := Parse("eip1558453"); err == nil {
		t.Fatal("expected format error")
	}
}

func TestSolanaGenesisHashRejectsAmbiguousChars(t *testing.T) {
	for _, bad := range []string{"0eykt4UsFv8P8NJdTREpY1vz", "OeyktUsFv8P8NJd", "IeyktUsFv8P8NJd", "leyktUsFv8P8NJd"} {
		if _, err := New(Solana, bad); err == nil {
			t.Fatalf("expected rejection of ambiguous base58 reference %q", bad)
		}
	}
}

func TestEip155IDHelper(t *testing.T) {
	id := Eip155ID(1)
	if id.String() != "eip155:1" {
		t.Fatalf("got %q", id.String())
	}
}
