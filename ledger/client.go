// Package ledger talks to the escrow contract gateway. Commands are signed
// with a shared secret and retried with backoff on transient failures; the
// gateway deduplicates on the reference id, so a retried command is applied
// at most once.
package ledger

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"proofpay/models"
)

type Client struct {
	baseURL     string
	clientKey   string
	secret      string
	http        *http.Client
	maxAttempts int
	backoff     time.Duration
}

// NewClientFromEnv builds the gateway client from LEDGER_BASE_URL,
// LEDGER_CLIENT_KEY and LEDGER_CLIENT_SECRET.
func NewClientFromEnv() (*Client, error) {
	base := os.Getenv("LEDGER_BASE_URL")
	key := os.Getenv("LEDGER_CLIENT_KEY")
	secret := os.Getenv("LEDGER_CLIENT_SECRET")
	if base == "" || key == "" || secret == "" {
		return nil, fmt.Errorf("LEDGER_BASE_URL, LEDGER_CLIENT_KEY and LEDGER_CLIENT_SECRET are required")
	}
	timeoutSec := 15
	if s := os.Getenv("LEDGER_TIMEOUT_SEC"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			timeoutSec = v
		}
	}
	attempts := 4
	if s := os.Getenv("LEDGER_MAX_ATTEMPTS"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			attempts = v
		}
	}
	return &Client{
		baseURL:     base,
		clientKey:   key,
		secret:      secret,
		http:        &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxAttempts: attempts,
		backoff:     time.Second,
	}, nil
}

// permanentError marks a gateway rejection that retrying cannot fix.
type permanentError struct {
	status int
	body   string
}

func (e *permanentError) Error() string {
	return fmt.Sprintf("gateway rejected command: %d %s", e.status, e.body)
}

func (c *Client) Escrow(ctx context.Context, t *models.Task, ref string) error {
	return c.submit(ctx, "/v1/commands/escrow", map[string]interface{}{
		"reference":  ref,
		"task_id":    t.ID,
		"payer":      t.Payer,
		"amount":     t.Amount,
		"denom":      t.Denom,
		"proof_type": t.ProofType,
	})
}

func (c *Client) RecordProof(ctx context.Context, taskID, proofHash, ref string) error {
	return c.submit(ctx, "/v1/commands/record-proof", map[string]interface{}{
		"reference":  ref,
		"task_id":    taskID,
		"proof_hash": proofHash,
	})
}

func (c *Client) Release(ctx context.Context, taskID, ref string) error {
	return c.submit(ctx, "/v1/commands/release", map[string]interface{}{
		"reference": ref,
		"task_id":   taskID,
	})
}

func (c *Client) Refund(ctx context.Context, taskID, ref string) error {
	return c.submit(ctx, "/v1/commands/refund", map[string]interface{}{
		"reference": ref,
		"task_id":   taskID,
	})
}

func (c *Client) Dispute(ctx context.Context, taskID, reason, ref string) error {
	return c.submit(ctx, "/v1/commands/dispute", map[string]interface{}{
		"reference": ref,
		"task_id":   taskID,
		"reason":    reason,
	})
}

// TaskState reads the authoritative status for a task straight from the
// contract, bypassing the read model.
func (c *Client) TaskState(ctx context.Context, taskID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/tasks/"+taskID, nil)
	if err != nil {
		return "", err
	}
	c.sign(req, nil)
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gateway returned %d", resp.StatusCode)
	}
	var out struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Status, nil
}

func (c *Client) submit(ctx context.Context, path string, payload map[string]interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	var lastErr error
	delay := c.backoff
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		lastErr = c.post(ctx, path, body)
		if lastErr == nil {
			return nil
		}
		var perm *permanentError
		if ctx.Err() != nil || errors.As(lastErr, &perm) {
			return lastErr
		}
	}
	return fmt.Errorf("after %d attempts: %w", c.maxAttempts, lastErr)
}

func (c *Client) post(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	c.sign(req, body)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("gateway returned %d", resp.StatusCode)
	default:
		return &permanentError{status: resp.StatusCode, body: string(raw)}
	}
}

func (c *Client) sign(req *http.Request, body []byte) {
	ts := time.Now().UTC().Format(time.RFC3339)
	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("\n"))
	mac.Write(body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CLIENT-KEY", c.clientKey)
	req.Header.Set("X-TIMESTAMP", ts)
	req.Header.Set("X-SIGNATURE", hex.EncodeToString(mac.Sum(nil)))
}
