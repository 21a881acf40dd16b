package httpserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/types"
	"github.com/ultravioletadao/x402-facilitator/pkg/responders"
)

// decodeJSON decodes a JSON request body into the destination struct.
// The reader will be closed after decoding.
func decodeJSON(r io.ReadCloser, dest any) error {
	defer r.Close()
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

// decodePaymentRequest decodes a /verify or /settle request body,
// auto-detecting the x402 protocol version (spec §4.1) and normalizing a v1
// envelope's short network names and top-level resource info to the
// internal v2 shape before struct decoding. v2 bodies decode unchanged.
func decodePaymentRequest(r io.ReadCloser, dest *types.VerifyRequest) error {
	defer r.Close()
	body, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	version, err := types.DetectVersion(body)
	if err != nil {
		return fmt.Errorf("detect protocol version: %w", err)
	}
	if version == 1 {
		body, err = types.NormalizeV1Envelope(body)
		if err != nil {
			return fmt.Errorf("normalize v1 request: %w", err)
		}
	}

	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

// writeJSON writes v as a JSON response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	responders.JSON(w, status, v)
}
