// Package testutil provides the deterministic and randomized byte
// buffers the acceptance scenarios and package tests put through Put/Get
// (spec §8). It is the Go generalization of the teacher's
// testpkg/fuzzutil and testpkg/testutil: the same fixed-seed rand.Rand
// approach, retargeted from fuzz-step byte consumption to cache payload
// and key generation.
package testutil

import (
	"math/rand"
)

// S3Pattern fills a size-byte buffer with the scenario S3 fixture (spec
// §8): byte i is (i*23+17) mod 32767, truncated to a byte.
func S3Pattern(size int) []byte {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte((i*23 + 17) % 32767)
	}
	return buf
}

// RandomPayloads returns a fixed-seed spread of payload sizes, mirroring
// the teacher's MakeRandomTestCases progression from empty up to 50000
// bytes, used to exercise Put/Get and the wire codec across size classes.
func RandomPayloads() [][]byte {
	r := rand.New(rand.NewSource(1))
	sizes := []int{0, 1, 10, 50, 100, 500, 1000, 4096, 5000, 10000, 50000}
	out := make([][]byte, len(sizes))
	for i, size := range sizes {
		out[i] = randomBytes(r, size)
	}
	return out
}

func randomBytes(r *rand.Rand, size int) []byte {
	buf := make([]byte, size)
	r.Read(buf)
	return buf
}

const keyAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// KeyMaker produces deterministic, fixed-seed cache keys so scenario
// tests get reproducible failures (spec §8's scenarios all name literal
// keys, but batch/eviction tests need many distinct ones).
type KeyMaker struct {
	r *rand.Rand
}

func NewKeyMaker() *KeyMaker {
	return &KeyMaker{r: rand.New(rand.NewSource(2))}
}

func (k *KeyMaker) Key(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = keyAlphabet[k.r.Intn(len(keyAlphabet))]
	}
	return string(b)
}
