// Command groundstation is a reference ground-station driver: it opens
// an HTTP client against a running flock's /bounce endpoint, issues one
// Bounce call with a freshly BN-256-signed precommit, verifies the
// returned aggregate, and logs the round-trip latency. Supplemented from
// original_source/src/bin/ground-station.rs and src/ground_station.rs,
// which the distilled spec treats as an external, out-of-scope
// collaborator (spec §1, §6).
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/cryptosat/bounce"
	"github.com/cryptosat/bounce/crypto/bls"
	"github.com/cryptosat/bounce/log"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var f groundstationFlags
	fs := newGroundstationFlagSet(&f)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	logger := log.New(slog.LevelInfo).Module("groundstation")

	priv, pub, err := bls.GenerateKey()
	if err != nil {
		logger.Error("failed to generate ground station keypair", "err", err)
		return 1
	}

	msg := []byte(f.message)
	sig := bls.Sign(priv, msg)

	req := bounce.Commit{
		Type:      bounce.Precommit,
		I:         f.slot,
		J:         f.lastCommitted,
		Msg:       msg,
		PublicKey: bls.MarshalPublicKey(pub),
		Signature: bls.MarshalSignature(sig),
		SignerID:  0,
	}

	body, err := json.Marshal(req)
	if err != nil {
		logger.Error("failed to encode request", "err", err)
		return 1
	}

	client := &http.Client{Timeout: f.timeout}
	url := fmt.Sprintf("http://%s/bounce", f.addr)

	start := time.Now()
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		logger.Error("bounce request failed", "err", err)
		return 1
	}
	defer resp.Body.Close()
	rtt := time.Since(start)

	if resp.StatusCode != http.StatusOK {
		var envelope map[string]string
		_ = json.NewDecoder(resp.Body).Decode(&envelope)
		logger.Error("flock returned an error", "status", resp.StatusCode, "error", envelope["error"])
		return 1
	}

	var result bounce.Commit
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		logger.Error("failed to decode response", "err", err)
		return 1
	}

	aggPub, err := bls.UnmarshalPublicKey(result.PublicKey)
	if err != nil {
		logger.Error("malformed aggregate public key", "err", err)
		return 1
	}
	aggSig, err := bls.UnmarshalSignature(result.Signature)
	if err != nil {
		logger.Error("malformed aggregate signature", "err", err)
		return 1
	}
	if !bls.Verify(aggSig, result.Msg, aggPub) {
		logger.Error("aggregate signature failed to verify")
		return 1
	}

	logger.Info("round trip complete",
		"slot", result.I, "type", result.Type.String(),
		"aggregated", result.Aggregated, "rtt", rtt)
	return 0
}
