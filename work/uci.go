package work

import "fmt"

// Uci is a move in UCI notation: "e2e4", "e7e8q", "P@e4" or the null move "0000".
// Only the syntax is checked, never legality.
type Uci string

// NullMove is the UCI null move.
const NullMove Uci = "0000"

// ParseUci validates s as a UCI move.
func ParseUci(s string) (Uci, error) {
	if !validUci(s) {
		return "", fmt.Errorf("invalid uci %q", s)
	}
	return Uci(s), nil
}

// MustParseUci is like ParseUci but panics on invalid input.
func MustParseUci(s string) Uci {
	m, err := ParseUci(s)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Uci) String() string { return string(m) }

func (m Uci) MarshalText() ([]byte, error) { return []byte(m), nil }

func (m *Uci) UnmarshalText(b []byte) error {
	parsed, err := ParseUci(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func validUci(s string) bool {
	switch len(s) {
	case 4:
		if s == string(NullMove) {
			return true
		}
		if s[1] == '@' {
			return isDropRole(s[0]) && isSquare(s[2:4])
		}
		return isSquare(s[0:2]) && isSquare(s[2:4])
	case 5:
		return isSquare(s[0:2]) && isSquare(s[2:4]) && isPromotion(s[4])
	}
	return false
}

func isSquare(s string) bool {
	return s[0] >= 'a' && s[0] <= 'h' && s[1] >= '1' && s[1] <= '8'
}

func isPromotion(c byte) bool {
	switch c {
	case 'q', 'r', 'b', 'n', 'k':
		return true
	}
	return false
}

func isDropRole(c byte) bool {
	switch c {
	case 'P', 'N', 'B', 'R', 'Q':
		return true
	}
	return false
}
