// Package shortcode generates compact alphanumeric codes for short links.
package shortcode

import (
	"context"
	"crypto/rand"
	"log/slog"
	"math/big"
	"regexp"
	"time"
)

const (
	Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	MinLength  = 4
	MaxLength  = 10
	MaxRetries = 5
)

var pattern = regexp.MustCompile(`^[A-Za-z0-9]{4,10}$`)

// Valid reports whether code is 4-10 ASCII letters or digits.
func Valid(code string) bool { return pattern.MatchString(code) }

// Encode renders n in base 62 using Alphabet.
func Encode(n int64) string {
	if n <= 0 {
		return string(Alphabet[0])
	}
	var buf [11]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = Alphabet[n%62]
		n /= 62
	}
	return string(buf[i:])
}

var alphabetLen = big.NewInt(int64(len(Alphabet)))

// Random draws length characters uniformly from Alphabet.
func Random(length int) string {
	b := make([]byte, length)
	for i := range b {
		n, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			panic(err)
		}
		b[i] = Alphabet[n.Int64()]
	}
	return string(b)
}

// ExistsFunc reports whether a code is already persisted.
type ExistsFunc func(ctx context.Context, code string) (bool, error)

type Generator struct {
	exists ExistsFunc
	now    func() time.Time
}

func NewGenerator(exists ExistsFunc) *Generator {
	return &Generator{exists: exists, now: time.Now}
}

// GenerateUniqueCode tries MaxRetries random codes against the store, then falls back
// to a time-derived prefix plus two random characters. The fallback can collide;
// callers rely on the store's unique constraint for that case.
func (g *Generator) GenerateUniqueCode(ctx context.Context, length int) (string, error) {
	length = clamp(length)
	for i := 0; i < MaxRetries; i++ {
		code := Random(length)
		taken, err := g.exists(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
		slog.Debug("short code collision", "attempt", i+1, "code", code)
	}
	code := g.Fallback()
	slog.Info("short code fallback used", "code", code)
	return code, nil
}

func (g *Generator) Fallback() string {
	code := timePart(g.now()) + Random(2)
	if len(code) > MaxLength {
		code = code[:MaxLength]
	}
	return code
}

// timePart is base62(unix millis mod 1e8), left-padded to 5 characters so the
// fallback never drops below MinLength.
func timePart(t time.Time) string {
	s := Encode(t.UnixMilli() % 100_000_000)
	for len(s) < 5 {
		s = "0" + s
	}
	return s
}

func clamp(length int) int {
	if length < MinLength {
		return MinLength
	}
	if length > MaxLength {
		return MaxLength
	}
	return length
}
