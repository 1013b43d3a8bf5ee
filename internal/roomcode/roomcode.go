// Package roomcode hands out short, human-typeable room codes.
package roomcode

import (
	"crypto/rand"
	"io"
	"math/big"
	"strings"
	"sync"

	"github.com/DoyleJ11/guess-who-backend/internal/engine"
)

const (
	// Length of every room code.
	Length = 5
	// Alphabet is uppercase alphanumerics minus 0/O and 1/I.
	Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	defaultMaxAttempts = 32
)

// Registry reports codes that already belong to a live session.
type Registry interface {
	Exists(code string) bool
}

type Allocator struct {
	mu          sync.Mutex
	live        map[string]struct{}
	registry    Registry
	random      io.Reader
	alphabet    string
	length      int
	maxAttempts int
}

type Option func(*Allocator)

// WithRandom replaces crypto/rand as the entropy source.
func WithRandom(r io.Reader) Option { return func(a *Allocator) { a.random = r } }

func WithMaxAttempts(n int) Option { return func(a *Allocator) { a.maxAttempts = n } }

// WithAlphabet narrows the code space; only tests have a reason to do this.
func WithAlphabet(alphabet string, length int) Option {
	return func(a *Allocator) {
		a.alphabet = alphabet
		a.length = length
	}
}

func NewAllocator(registry Registry, opts ...Option) *Allocator {
	a := &Allocator{
		live:        make(map[string]struct{}),
		registry:    registry,
		random:      rand.Reader,
		alphabet:    Alphabet,
		length:      Length,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Allocate reserves a fresh code. It gives up with ErrExhaustedCodeSpace after a bounded
// number of collisions rather than spinning.
func (a *Allocator) Allocate() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := 0; i < a.maxAttempts; i++ {
		code, err := a.generate()
		if err != nil {
			return "", err
		}
		if _, taken := a.live[code]; taken {
			continue
		}
		if a.registry != nil && a.registry.Exists(code) {
			continue
		}
		a.live[code] = struct{}{}
		return code, nil
	}
	return "", engine.ErrExhaustedCodeSpace
}

// Release returns code to the pool.
func (a *Allocator) Release(code string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.live, code)
}

func (a *Allocator) generate() (string, error) {
	max := big.NewInt(int64(len(a.alphabet)))
	code := make([]byte, a.length)
	for i := range code {
		n, err := rand.Int(a.random, max)
		if err != nil {
			return "", err
		}
		code[i] = a.alphabet[n.Int64()]
	}
	return string(code), nil
}

// Normalize upper-cases and trims user input.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Valid reports whether code could have been produced by the default allocator.
func Valid(code string) bool {
	if len(code) != Length {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(Alphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}
