package block

import (
	"strconv"
	"strings"
)

// BinaryRepresentation renders data as a string of '0'/'1' characters, each
// byte in base 2 without leading zeros. A zero byte renders as "0", so a
// prefix of k zeros demands k leading zero bytes.
func BinaryRepresentation(data []byte) string {
	var sb strings.Builder
	sb.Grow(len(data) * 8)
	for _, c := range data {
		sb.WriteString(strconv.FormatUint(uint64(c), 2))
	}
	return sb.String()
}

// MeetsDifficulty reports whether the binary representation of hash starts
// with prefix. For the "00" prefix the first two bytes must be zero.
func MeetsDifficulty(hash []byte, prefix string) bool {
	return strings.HasPrefix(BinaryRepresentation(hash), prefix)
}
