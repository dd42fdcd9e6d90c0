package agent

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"
)

// TimestampWindow is the maximum age of a signed request before it is rejected.
const TimestampWindow = 5 * time.Minute

// Signature headers set by the coordinator on calls to remote agents.
const (
	HeaderCoordinatorID        = "X-Coordinator-ID"
	HeaderCoordinatorTimestamp = "X-Coordinator-Timestamp"
	HeaderCoordinatorSignature = "X-Coordinator-Signature"
)

// KeyID returns the first 8 bytes of a public key as 16 lowercase hex
// characters.
func KeyID(pub ed25519.PublicKey) string {
	return hex.EncodeToString(pub[:8])
}

// SignRequest sets the coordinator signature headers on req. The signature
// covers:
//
//	method + path + timestamp + body
func SignRequest(req *http.Request, coordinatorID string, privKey ed25519.PrivateKey, body []byte) {
	signRequestAt(req, coordinatorID, privKey, body, time.Now())
}

func signRequestAt(req *http.Request, coordinatorID string, privKey ed25519.PrivateKey, body []byte, now time.Time) {
	ts := strconv.FormatInt(now.Unix(), 10)

	req.Header.Set(HeaderCoordinatorID, coordinatorID)
	req.Header.Set(HeaderCoordinatorTimestamp, ts)

	msg := req.Method + req.URL.Path + ts + string(body)
	sig := ed25519.Sign(privKey, []byte(msg))
	req.Header.Set(HeaderCoordinatorSignature, hex.EncodeToString(sig))
}

// VerifyRequest checks that the timestamp is within TimestampWindow of now
// and that the Ed25519 signature matches the reconstructed message.
func VerifyRequest(req *http.Request, pubKey ed25519.PublicKey, body []byte) error {
	tsStr := req.Header.Get(HeaderCoordinatorTimestamp)
	sigHex := req.Header.Get(HeaderCoordinatorSignature)

	if tsStr == "" {
		return fmt.Errorf("missing %s header", HeaderCoordinatorTimestamp)
	}
	if sigHex == "" {
		return fmt.Errorf("missing %s header", HeaderCoordinatorSignature)
	}

	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp: %w", err)
	}

	diff := math.Abs(float64(time.Now().Unix() - ts))
	if diff > TimestampWindow.Seconds() {
		return fmt.Errorf("timestamp expired: %.0fs drift exceeds %v window", diff, TimestampWindow)
	}

	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("invalid signature hex: %w", err)
	}

	msg := req.Method + req.URL.Path + tsStr + string(body)
	if !ed25519.Verify(pubKey, []byte(msg), sig) {
		return fmt.Errorf("ed25519 signature verification failed")
	}
	return nil
}
