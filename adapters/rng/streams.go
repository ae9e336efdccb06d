package rng

import (
	"fmt"
	"math/rand/v2"

	"gopower/ports"
)

// PCGStreams implements ports.RNGPort with math/rand/v2 PCG generators. Each
// stream is seeded from the base seed plus a hash of its name, so streams are
// independent of the order in which they are requested.
type PCGStreams struct{}

var _ ports.RNGPort = PCGStreams{}

// NewPCGStreams creates the stream factory
func NewPCGStreams() PCGStreams {
	return PCGStreams{}
}

// SeededStream creates a deterministic source for a named operation
func (PCGStreams) SeededStream(name string, seed int64) rand.Source {
	return rand.NewPCG(uint64(seed), hashString(name))
}

// Stream creates the source for one replication at one sample size
func (s PCGStreams) Stream(baseSeed int64, n, replication int) rand.Source {
	return s.SeededStream(fmt.Sprintf("n=%d/rep=%d", n, replication), baseSeed)
}

// hashString is 64-bit djb2 followed by a splitmix finaliser so that nearby
// names ("rep=1", "rep=2") land far apart.
func hashString(s string) uint64 {
	var hash uint64 = 5381
	for _, c := range s {
		hash = ((hash << 5) + hash) + uint64(c)
	}
	hash ^= hash >> 30
	hash *= 0xbf58476d1ce4e5b9
	hash ^= hash >> 27
	hash *= 0x94d049bb133111eb
	hash ^= hash >> 31
	return hash
}
