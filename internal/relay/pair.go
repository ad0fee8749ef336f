package relay

import (
	"crypto/rand"
	"fmt"
)

// pairAlphabet avoids the lookalike characters I, O, 0 and 1 so the
// code survives being read aloud or typed from a phone screen.
const pairAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const pairCodeLength = 8

// GeneratePairCode returns an 8-character code from pairAlphabet using
// crypto/rand. The 32-symbol alphabet divides 256 evenly, so a plain
// modulo introduces no bias.
func GeneratePairCode() (string, error) {
	buf := make([]byte, pairCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate pair code: %w", err)
	}
	out := make([]byte, pairCodeLength)
	for i, b := range buf {
		out[i] = pairAlphabet[int(b)%len(pairAlphabet)]
	}
	return string(out), nil
}
