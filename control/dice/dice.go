// Package dice picks a die with the knob and rolls it with the button.
package dice

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/bits"
	"sync"

	"golang.org/x/exp/rand"
)

// Kind is a die.
type Kind struct {
	Name  string
	Faces int
	Bits  int // Random bits per draw: the smallest k with 2^k > Faces, since zero is always rejected.
}

func (k Kind) String() string { return k.Name }

func kind(faces int) Kind {
	return Kind{Name: fmt.Sprintf("d%d", faces), Faces: faces, Bits: bits.Len(uint(faces))}
}

// Kinds is every die the appliance knows, in the order the knob cycles through them.
var Kinds = []Kind{kind(4), kind(6), kind(8), kind(10), kind(12), kind(20), kind(100)}

// Source produces uniformly distributed random bits.
type Source interface {
	// Bits returns a value whose low width bits are random and whose other bits are zero.
	Bits(width int) uint64
}

type pcgSource struct {
	r *rand.Rand
}

// NewSource returns a deterministic Source.
func NewSource(seed uint64) Source {
	return &pcgSource{r: rand.New(rand.NewSource(seed))}
}

// NewSeededSource returns a Source seeded from the operating system's random number generator.
func NewSeededSource() (Source, error) {
	var seed [8]byte
	if _, err := crand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	return NewSource(binary.LittleEndian.Uint64(seed[:])), nil
}

func (s *pcgSource) Bits(width int) uint64 {
	if width <= 0 {
		return 0
	}
	return s.r.Uint64() >> (64 - width)
}

// Roller rolls dice by rejection sampling: it draws just enough bits to cover every face and draws
// again whenever the result is zero or larger than the number of faces.  It is safe for concurrent
// use.
type Roller struct {
	mu  sync.Mutex
	src Source
}

// NewRoller returns a Roller that draws from src.
func NewRoller(src Source) *Roller {
	return &Roller{src: src}
}

// Roll returns a value in [1, k.Faces].
func (r *Roller) Roll(k Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		v := r.src.Bits(k.Bits)
		if v != 0 && v <= uint64(k.Faces) {
			return int(v)
		}
	}
}
