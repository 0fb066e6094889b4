package idgen

import (
	"crypto/rand"
)

// readEntropy fills buf from the OS entropy pool, per the spec's requirement
// that the PRNG be "seeded from system entropy."
func readEntropy(buf []byte) {
	if _, err := rand.Read(buf); err != nil {
		panic("idgen: failed to read OS entropy: " + err.Error())
	}
}
