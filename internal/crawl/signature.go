package crawl

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"ratewatch/internal/dedupe"
	"ratewatch/internal/extracthtml"
)

// SignatureMode selects how a page's fingerprint is computed.
type SignatureMode string

const (
	// SignatureSample fingerprints the first three records and, for pages of
	// more than six, the last three, by product name and current rate.
	SignatureSample SignatureMode = "sample"

	// SignatureDigest hashes the dedupe key of every record.
	SignatureDigest SignatureMode = "digest"
)

// ParseSignatureMode accepts "sample" (or "") and "digest".
func ParseSignatureMode(s string) (SignatureMode, error) {
	switch SignatureMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", SignatureSample:
		return SignatureSample, nil
	case SignatureDigest:
		return SignatureDigest, nil
	}
	return "", fmt.Errorf("unknown signature mode %q", s)
}

// Signature fingerprints a page's mapped records. An empty page is "empty".
func Signature(mode SignatureMode, recs []extracthtml.Record) string {
	if len(recs) == 0 {
		return "empty"
	}
	if mode == SignatureDigest {
		return digestSignature(recs)
	}
	return sampleSignature(recs)
}

func sampleSignature(recs []extracthtml.Record) string {
	n := len(recs)
	parts := make([]string, 0, 6)
	for i := 0; i < min(3, n); i++ {
		parts = append(parts, sampleKey(recs[i]))
	}
	if n > 6 {
		for i := n - 3; i < n; i++ {
			parts = append(parts, sampleKey(recs[i]))
		}
	}
	return strings.Join(parts, "|")
}

func sampleKey(r extracthtml.Record) string {
	return r.Value("Company_Product_Name") + ":" + r.Value("Current_Rate")
}

func digestSignature(recs []extracthtml.Record) string {
	h := sha256.New()
	for _, r := range recs {
		h.Write([]byte(dedupe.Key(r)))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
