package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureVerifier validates provider webhook signatures.
//
// The provider signs `<timestamp>.<raw body>` with HMAC-SHA256 and sends the
// result in a header shaped like `t=1712345678,v1=<hex digest>`. Verification
// rejects stale timestamps to bound replay windows.
type SignatureVerifier struct {
	secret    []byte
	tolerance time.Duration
}

// NewSignatureVerifier constructs a verifier with the shared secret and
// timestamp tolerance.
func NewSignatureVerifier(secret string, tolerance time.Duration) *SignatureVerifier {
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	return &SignatureVerifier{
		secret:    []byte(secret),
		tolerance: tolerance,
	}
}

// Verify checks the signature header against the raw request body.
func (v *SignatureVerifier) Verify(header string, body []byte) error {
	return v.verifyAt(header, body, time.Now())
}

func (v *SignatureVerifier) verifyAt(header string, body []byte, now time.Time) error {
	if len(v.secret) == 0 {
		return fmt.Errorf("signing secret missing")
	}
	if header == "" {
		return fmt.Errorf("signature header missing")
	}

	var ts string
	var candidates []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts = kv[1]
		case "v1":
			candidates = append(candidates, kv[1])
		}
	}
	if ts == "" || len(candidates) == 0 {
		return fmt.Errorf("invalid signature header format")
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid signature timestamp")
	}
	signedAt := time.Unix(unix, 0)
	if now.Sub(signedAt) > v.tolerance || signedAt.Sub(now) > v.tolerance {
		return fmt.Errorf("signature timestamp outside tolerance")
	}

	mac := hmac.New(sha256.New, v.secret)
	_, _ = mac.Write([]byte(ts))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, candidate := range candidates {
		if hmac.Equal([]byte(expected), []byte(candidate)) {
			return nil
		}
	}
	return fmt.Errorf("signature mismatch")
}

// Sign produces a signature header for the body. Used by tests and local
// tooling that replays provider events.
func (v *SignatureVerifier) Sign(body []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, v.secret)
	_, _ = mac.Write([]byte(ts))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}
