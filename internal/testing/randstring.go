package testing

import (
	"math/rand"
	"strings"
)

const (
	letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	hex     = "0123456789abcdef"
)

// RandString generates random string with 10 symbols length from lower- and uppercase alphabet
func RandString() string {
	return randFrom(letters, 10)
}

// RandObjectID generates a 24 symbols hex string shaped like the ids the chat server issues
func RandObjectID() string {
	return randFrom(hex, 24)
}

func randFrom(charSet string, length int) string {
	var out strings.Builder
	out.Grow(length)
	for i := 0; i < length; i++ {
		out.WriteByte(charSet[rand.Intn(len(charSet))])
	}
	return out.String()
}

// PairUserIDs splits userIDs into two-user pairs where the first one is always the first provided id,
// e.g. [a, b, c] -> [[a, b], [a, c]]. Every pair describes one direct chatroom.
func PairUserIDs(userIDs []string) [][2]string {
	if len(userIDs) < 2 {
		return nil
	}
	pairs := make([][2]string, 0, len(userIDs)-1)
	for i := 1; i < len(userIDs); i++ {
		pairs = append(pairs, [2]string{userIDs[0], userIDs[i]})
	}
	return pairs
}

// Reverse returns a reversed copy of s
func Reverse[T any](s []T) []T {
	reversed := make([]T, len(s))
	copy(reversed, s)

	for i := len(reversed)/2 - 1; i >= 0; i-- {
		opp := len(reversed) - 1 - i
		reversed[i], reversed[opp] = reversed[opp], reversed[i]
	}

	return reversed
}
