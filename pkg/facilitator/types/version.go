package types

import (
	"encoding/json"
	"fmt"

	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/caip2"
)

// shortNetworkNames maps v1's short network names to their CAIP-2
// equivalent. v2 callers already send the CAIP-2 string directly.
var shortNetworkNames = map[string]caip2.NetworkID{
	"base-sepolia":       caip2.Eip155ID(84532),
	"base":               caip2.Eip155ID(8453),
	"xdc":                caip2.Eip155ID(50),
	"avalanche-fuji":     caip2.Eip155ID(43113),
	"avalanche":          caip2.Eip155ID(43114),
	"xrpl-evm":           caip2.Eip155ID(1440000),
	"polygon-amoy":       caip2.Eip155ID(80002),
	"polygon":            caip2.Eip155ID(137),
	"optimism":           caip2.Eip155ID(10),
	"optimism-sepolia":   caip2.Eip155ID(11155420),
	"celo":               caip2.Eip155ID(42220),
	"celo-sepolia":       caip2.Eip155ID(44787),
	"hyperevm":           caip2.Eip155ID(999),
	"hyperevm-testnet":   caip2.Eip155ID(333),
	"sei":                caip2.Eip155ID(1329),
	"sei-testnet":        caip2.Eip155ID(1328),
	"ethereum":           caip2.Eip155ID(1),
	"ethereum-sepolia":   caip2.Eip155ID(11155111),
	"arbitrum":           caip2.Eip155ID(42161),
	"arbitrum-sepolia":   caip2.Eip155ID(421614),
	"unichain":           caip2.Eip155ID(130),
	"unichain-sepolia":   caip2.Eip155ID(1301),
	"monad":              caip2.Eip155ID(143),
	"near":               caip2.NearMainnet,
	"near-testnet":       caip2.NearTestnet,
	"fogo":               caip2.FogoMainnet,
	"fogo-testnet":       caip2.FogoTestnet,
}

// reverseShortNetworkNames is built once for v1 responses that must echo the
// short name a v1 client sent, rather than a CAIP-2 string.
var reverseShortNetworkNames = func() map[caip2.NetworkID]string {
	m := make(map[caip2.NetworkID]string, len(shortNetworkNames))
	for name, id := range shortNetworkNames {
		m[id] = name
	}
	return m
}()

// ResolveShortNetworkName maps a v1 short network name to its CAIP-2 id.
func ResolveShortNetworkName(name string) (caip2.NetworkID, error) {
	id, ok := shortNetworkNames[name]
	if !ok {
		return caip2.NetworkID{}, fmt.Errorf("types: unknown v1 network name %q", name)
	}
	return id, nil
}

// ShortNetworkName renders the v1 short name for a CAIP-2 id, if one exists.
func ShortNetworkName(id caip2.NetworkID) (string, bool) {
	name, ok := reverseShortNetworkNames[id]
	return name, ok
}

// envelopeVersionProbe peeks at the fields that differ between v1 and v2
// without committing to either shape.
type envelopeVersionProbe struct {
	X402Version int             `json:"x402Version"`
	Network     json.RawMessage `json:"network"`
}

// DetectVersion inspects the raw request body and reports the protocol
// version (1 or 2) the client used. Both versions carry x402Version
// explicitly; detection falls back to inspecting whether network is a bare
// string containing a colon (v2's CAIP-2 form) when x402Version is absent,
// which happens in some v1 clients that predate the field.
func DetectVersion(body []byte) (int, error) {
	var probe envelopeVersionProbe
	if err := json.Unmarshal(body, &probe); err != nil {
		return 0, fmt.Errorf("types: detect version: %w", err)
	}
	if probe.X402Version == 1 || probe.X402Version == 2 {
		return probe.X402Version, nil
	}
	if probe.X402Version != 0 {
		return 0, fmt.Errorf("types: unsupported x402Version %d", probe.X402Version)
	}

	var networkStr string
	if err := json.Unmarshal(probe.Network, &networkStr); err == nil {
		if _, err := caip2.Parse(networkStr); err == nil {
			return 2, nil
		}
		if _, ok := shortNetworkNames[networkStr]; ok {
			return 1, nil
		}
	}
	return 0, fmt.Errorf("types: could not detect protocol version from request body")
}

// NormalizeV1Network rewrites a v1 PaymentRequirements/PaymentPayload
// network field (a short name) into the CAIP-2 id used internally
// everywhere past the HTTP boundary. v2 requests need no rewriting: their
// network field already decodes straight into caip2.NetworkID.
func NormalizeV1Network(raw json.RawMessage) (caip2.NetworkID, error) {
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return caip2.NetworkID{}, fmt.Errorf("types: v1 network must be a string: %w", err)
	}
	return ResolveShortNetworkName(name)
}

// NormalizeV1Envelope rewrites a v1 /verify or /settle request body into the
// internal v2 shape the rest of the facilitator understands: short network
// names in paymentPayload.network and paymentRequirements.network become
// CAIP-2 strings, and a v1 top-level "resource" field (carried alongside the
// envelope rather than nested in paymentRequirements, per spec §4.1) is
// folded into paymentRequirements.resource. Callers must only invoke this
// after DetectVersion has reported version 1; a v2 body needs no rewriting.
func NormalizeV1Envelope(body []byte) ([]byte, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("types: normalize v1 envelope: %w", err)
	}

	if raw, ok := envelope["paymentPayload"]; ok {
		normalized, err := normalizeV1NetworkField(raw)
		if err != nil {
			return nil, fmt.Errorf("types: normalize v1 paymentPayload: %w", err)
		}
		envelope["paymentPayload"] = normalized
	}

	reqRaw, ok := envelope["paymentRequirements"]
	if !ok {
		return nil, fmt.Errorf("types: v1 envelope missing paymentRequirements")
	}
	var reqFields map[string]json.RawMessage
	if err := json.Unmarshal(reqRaw, &reqFields); err != nil {
		return nil, fmt.Errorf("types: decode v1 paymentRequirements: %w", err)
	}
	if netRaw, ok := reqFields["network"]; ok {
		id, err := NormalizeV1Network(netRaw)
		if err != nil {
			return nil, fmt.Errorf("types: normalize v1 paymentRequirements.network: %w", err)
		}
		encoded, err := json.Marshal(id.String())
		if err != nil {
			return nil, err
		}
		reqFields["network"] = encoded
	}
	if resourceRaw, ok := envelope["resource"]; ok && string(resourceRaw) != "null" {
		reqFields["resource"] = resourceRaw
		delete(envelope, "resource")
	}
	newReqRaw, err := json.Marshal(reqFields)
	if err != nil {
		return nil, err
	}
	envelope["paymentRequirements"] = newReqRaw

	return json.Marshal(envelope)
}

// normalizeV1NetworkField rewrites the "network" field of a raw paymentPayload
// object from its v1 short name to a CAIP-2 string, leaving every other field
// untouched.
func normalizeV1NetworkField(raw json.RawMessage) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	netRaw, ok := fields["network"]
	if !ok {
		return raw, nil
	}
	id, err := NormalizeV1Network(netRaw)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(id.String())
	if err != nil {
		return nil, err
	}
	fields["network"] = encoded
	return json.Marshal(fields)
}
