// Package nuid generates unique, URL-safe tokens for inbox subjects and
// request correlation.
//
// A token is 22 symbols over 0-9A-Za-z: a 12-symbol crypto-random prefix
// followed by a 10-symbol base-62 sequence. The sequence advances by a
// per-generator random increment, and the prefix is redrawn when the
// sequence space is exhausted.
//
// Encoding is incremental. The generator caches seq/62^j for every digit
// position j and only re-derives the trailing digits whose quotient changed,
// so the common case touches one or two bytes.
package nuid

import (
	"crypto/rand"
	"fmt"
	mrand "math/rand/v2"
	"sync"
)

const (
	digits   = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	base     = 62
	preLen   = 12
	seqLen   = 10
	totalLen = preLen + seqLen

	// maxSeq is 62^10.
	maxSeq int64 = 839299365868340224
	minInc int64 = 33
	maxInc int64 = 333
)

// Len is the length of every generated token.
const Len = totalLen

// NUID is a single-goroutine token generator. Use Generator for concurrent
// access.
type NUID struct {
	pre [preLen]byte
	seq int64
	inc int64

	buf    [totalLen]byte
	quot   [seqLen]int64
	primed bool
}

// New returns a generator with a fresh random prefix and sequence.
func New() *NUID {
	n := &NUID{}
	n.RandomizePrefix()
	n.resetSequential()
	return n
}

// Next returns the next token.
func (n *NUID) Next() string {
	n.seq += n.inc
	if n.seq >= maxSeq {
		n.RandomizePrefix()
		n.resetSequential()
	}
	n.encode()
	return string(n.buf[:])
}

// RandomizePrefix draws a new prefix from crypto/rand.
func (n *NUID) RandomizePrefix() {
	var cb [preLen]byte
	if _, err := rand.Read(cb[:]); err != nil {
		panic(fmt.Sprintf("nuid: failed generating crypto random prefix: %v", err))
	}
	for i := range cb {
		n.pre[i] = digits[int(cb[i])%base]
	}
	n.primed = false
}

func (n *NUID) resetSequential() {
	n.seq = mrand.Int64N(maxSeq)
	n.inc = minInc + mrand.Int64N(maxInc-minInc)
	n.primed = false
}

// encode writes prefix and sequence into buf. After the first full encode
// only the low-order digits up to the carry boundary are rewritten.
func (n *NUID) encode() {
	if !n.primed {
		copy(n.buf[:preLen], n.pre[:])
		q := n.seq
		for j := 0; j < seqLen; j++ {
			n.quot[j] = q
			n.buf[totalLen-1-j] = digits[q%base]
			q /= base
		}
		n.primed = true
		return
	}

	q := n.seq
	for j := 0; j < seqLen; j++ {
		if n.quot[j] == q {
			// Higher quotients derive from this one and are unchanged too.
			break
		}
		n.quot[j] = q
		n.buf[totalLen-1-j] = digits[q%base]
		q /= base
	}
}

// Generator is a mutex-guarded NUID safe for concurrent use.
type Generator struct {
	mu sync.Mutex
	n  *NUID
}

// NewGenerator returns a concurrency-safe generator.
func NewGenerator() *Generator {
	return &Generator{n: New()}
}

// Next returns the next token.
func (g *Generator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n.Next()
}
