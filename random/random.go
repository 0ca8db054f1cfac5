// Package random builds short non-cryptographic identifiers.
package random

import (
	"math/rand"
)

const (
	base36 = "0123456789abcdefghijklmnopqrstuvwxyz"
)

func pick(set string, length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = set[rand.Intn(len(set))]
	}
	return string(b)
}

// Base36 returns length lowercase alphanumeric characters.
func Base36(length int) string {
	return pick(base36, length)
}
