// Package dice parses and rolls NdM[+/-K] dice expressions.
package dice

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

const (
	MaxCount = 100
	MinSides = 2
	MaxSides = 1000
)

var (
	// ErrInvalidExpression indicates the expression is not of the NdM[+/-K]
	// form.
	ErrInvalidExpression = errors.New("dice expression must look like 2d6+1")

	// ErrOutOfRange indicates the count or the number of sides is outside
	// the accepted range.
	ErrOutOfRange = fmt.Errorf("dice count must be 1-%d and sides %d-%d", MaxCount, MinSides, MaxSides)
)

var expression = regexp.MustCompile(`^(\d*)d(\d+)(?:([+-])(\d+))?$`)

// Notation is a parsed dice expression.
type Notation struct {
	Count    int
	Sides    int
	Modifier int
}

func (s Notation) String() string {
	out := fmt.Sprintf("%dd%d", s.Count, s.Sides)
	switch {
	case s.Modifier > 0:
		out += fmt.Sprintf("+%d", s.Modifier)
	case s.Modifier < 0:
		out += fmt.Sprintf("%d", s.Modifier)
	}
	return out
}

// Result captures every die rolled for a notation.
type Result struct {
	Notation Notation
	Rolls    []int
	Total    int
}

// Parse reads an expression such as "d20", "3d6" or "1d8-1". Whitespace and
// case are ignored.
func Parse(expr string) (Notation, error) {
	expr = strings.ToLower(strings.ReplaceAll(expr, " ", ""))
	m := expression.FindStringSubmatch(expr)
	if m == nil {
		return Notation{}, ErrInvalidExpression
	}

	n := Notation{Count: 1}
	if m[1] != "" {
		count, err := strconv.Atoi(m[1])
		if err != nil {
			return Notation{}, ErrOutOfRange
		}
		n.Count = count
	}
	sides, err := strconv.Atoi(m[2])
	if err != nil {
		return Notation{}, ErrOutOfRange
	}
	n.Sides = sides

	if m[3] != "" {
		mod, err := strconv.Atoi(m[4])
		if err != nil || mod > MaxSides*MaxCount {
			return Notation{}, ErrOutOfRange
		}
		if m[3] == "-" {
			mod = -mod
		}
		n.Modifier = mod
	}

	if n.Count < 1 || n.Count > MaxCount || n.Sides < MinSides || n.Sides > MaxSides {
		return Notation{}, ErrOutOfRange
	}
	return n, nil
}

// Roller rolls dice from its random source. It is safe for concurrent use.
type Roller struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRoller returns a roller seeded from the runtime's random source.
func NewRoller() *Roller {
	return &Roller{rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

// NewSeededRoller returns a roller that always produces the same sequence for
// the same seed.
func NewSeededRoller(seed uint64) *Roller {
	return &Roller{rng: rand.New(rand.NewPCG(seed, seed))}
}

// Roll rolls the dice of n. Results appear in the order the dice were rolled.
func (r *Roller) Roll(n Notation) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	rolls := make([]int, n.Count)
	total := n.Modifier
	for i := range rolls {
		rolls[i] = r.rng.IntN(n.Sides) + 1
		total += rolls[i]
	}
	return Result{Notation: n, Rolls: rolls, Total: total}
}
