package cubby

import "crypto/rand"

// Access keys are 48 characters drawn from a 26-symbol alphabet, roughly 226
// bits of entropy.
const (
	accessKeyLen      = 48
	accessKeyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// NewAccessKey generates a random per-blob access key using crypto/rand.
// Bytes outside the largest multiple of the alphabet size are rejected to
// keep the distribution uniform.
func NewAccessKey() string {
	const limit = byte(256 - 256%len(accessKeyAlphabet))

	key := make([]byte, 0, accessKeyLen)
	buf := make([]byte, accessKeyLen)
	for len(key) < accessKeyLen {
		if _, err := rand.Read(buf); err != nil {
			// crypto/rand.Read does not fail on supported platforms.
			panic("cubby: reading random bytes: " + err.Error())
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			key = append(key, accessKeyAlphabet[int(b)%len(accessKeyAlphabet)])
			if len(key) == accessKeyLen {
				break
			}
		}
	}
	return string(key)
}
