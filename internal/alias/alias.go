// Package alias generates human-readable display names.
package alias

import (
	"fmt"
	"math/rand/v2"
)

var adjectives = []string{
	"Amber", "Brisk", "Calm", "Clever", "Cobalt", "Curious", "Dapper", "Eager",
	"Gentle", "Golden", "Hazel", "Jolly", "Keen", "Lively", "Lucky", "Mellow",
	"Misty", "Nimble", "Quiet", "Rapid", "Rustic", "Silver", "Sunny", "Swift",
	"Tidy", "Velvet", "Witty", "Zesty",
}

var animals = []string{
	"Badger", "Beaver", "Bison", "Crane", "Dolphin", "Falcon", "Ferret", "Gecko",
	"Heron", "Ibis", "Jaguar", "Koala", "Lemur", "Lynx", "Marten", "Newt",
	"Otter", "Panda", "Puffin", "Quail", "Raven", "Salmon", "Tapir", "Walrus",
	"Wombat", "Yak", "Zebra",
}

// Generator produces display aliases.
type Generator interface {
	Next() string
}

// Random picks adjective/animal pairs uniformly.
type Random struct{}

// NewRandom returns the default generator.
func NewRandom() Random { return Random{} }

func (Random) Next() string {
	return adjectives[rand.IntN(len(adjectives))] + animals[rand.IntN(len(animals))]
}

// Unique draws from g until taken reports false. After a bounded number of
// collisions it appends a numeric suffix, which always terminates.
func Unique(g Generator, taken func(string) bool) string {
	var candidate string
	for range 16 {
		candidate = g.Next()
		if !taken(candidate) {
			return candidate
		}
	}
	for i := 2; ; i++ {
		suffixed := fmt.Sprintf("%s%d", candidate, i)
		if !taken(suffixed) {
			return suffixed
		}
	}
}
