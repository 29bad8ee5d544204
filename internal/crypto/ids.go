package crypto

import (
	"math/rand/v2"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	adjectives = []string{
		"Amazing", "Brilliant", "Creative", "Dynamic", "Elegant", "Fantastic", "Gentle",
		"Happy", "Inspiring", "Joyful", "Kinetic", "Lively", "Magnificent", "Noble",
		"Optimistic", "Peaceful", "Quick", "Radiant", "Stellar", "Thoughtful",
		"Unique", "Vibrant", "Wonderful", "Exciting", "Young", "Zealous",
	}
	animals = []string{
		"Alpaca", "Bear", "Cat", "Dolphin", "Eagle", "Fox", "Giraffe", "Horse",
		"Iguana", "Jaguar", "Koala", "Lion", "Monkey", "Narwhal", "Owl", "Panda",
		"Quail", "Rabbit", "Swan", "Tiger", "Unicorn", "Viper", "Whale", "Xenops",
		"Yak", "Zebra",
	}
)

// NewRoomID returns a time-ordered UUID v7 string.
func NewRoomID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewParticipantID returns a ULID-based participant identifier.
func NewParticipantID() string {
	return "p_" + ulid.Make().String()
}

// NewMessageID returns a ULID for relay envelopes.
func NewMessageID() string {
	return ulid.Make().String()
}

// NewInstanceID identifies a server process on the broker.
func NewInstanceID() string {
	return uuid.NewString()
}

// RoomName generates a friendly default name such as "Quick Owl Room".
func RoomName() string {
	return adjectives[rand.IntN(len(adjectives))] + " " + animals[rand.IntN(len(animals))] + " Room"
}
