package engine

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"
)

// VerificationResult is the verifier's verdict. Valid=false is a definitive
// rejection; transport problems surface as errors instead.
type VerificationResult struct {
	Valid     bool   `json:"valid"`
	ProofHash string `json:"proof_hash"`
	Detail    string `json:"detail,omitempty"`
}

// Verifier records verification outcomes produced externally. The engine
// never does cryptographic verification itself.
type Verifier interface {
	Verify(ctx context.Context, sub Submission) (VerificationResult, error)
}

// HTTPVerifier talks to the zkTLS verification service. Requests are
// HMAC-signed with the shared secret so the verifier can authenticate the
// engine.
type HTTPVerifier struct {
	baseURL string
	key     string
	secret  string
	client  *http.Client
}

// NewHTTPVerifierFromEnv builds the verifier client from VERIFIER_BASE_URL,
// VERIFIER_CLIENT_KEY and VERIFIER_CLIENT_SECRET.
func NewHTTPVerifierFromEnv() (*HTTPVerifier, error) {
	base := os.Getenv("VERIFIER_BASE_URL")
	key := os.Getenv("VERIFIER_CLIENT_KEY")
	secret := os.Getenv("VERIFIER_CLIENT_SECRET")
	if base == "" || key == "" || secret == "" {
		return nil, fmt.Errorf("VERIFIER_BASE_URL, VERIFIER_CLIENT_KEY and VERIFIER_CLIENT_SECRET are required")
	}
	timeoutSec := 15
	if s := os.Getenv("VERIFIER_TIMEOUT_SEC"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			timeoutSec = v
		}
	}
	return &HTTPVerifier{
		baseURL: base,
		key:     key,
		secret:  secret,
		client:  &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
	}, nil
}

func (v *HTTPVerifier) Verify(ctx context.Context, sub Submission) (VerificationResult, error) {
	body, err := json.Marshal(map[string]interface{}{
		"task_id":     sub.TaskID,
		"proof_type":  sub.ProofType,
		"payload_ref": sub.PayloadRef,
	})
	if err != nil {
		return VerificationResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/v1/verify", bytes.NewReader(body))
	if err != nil {
		return VerificationResult{}, err
	}
	ts := time.Now().UTC().Format(time.RFC3339)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CLIENT-KEY", v.key)
	req.Header.Set("X-TIMESTAMP", ts)
	req.Header.Set("X-SIGNATURE", signHMAC(v.secret, ts, body))

	resp, err := v.client.Do(req)
	if err != nil {
		return VerificationResult{}, fmt.Errorf("verifier unreachable: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return VerificationResult{}, err
	}
	if resp.StatusCode >= 500 {
		return VerificationResult{}, fmt.Errorf("verifier returned %d", resp.StatusCode)
	}
	var out VerificationResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return VerificationResult{}, fmt.Errorf("verifier response: %w", err)
	}
	// A 4xx with a parsed body is still a definitive verdict.
	if resp.StatusCode >= 400 {
		out.Valid = false
	}
	return out, nil
}

func signHMAC(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("\n"))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
