package dice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		expr string
		want Notation
	}{
		{"d20", Notation{Count: 1, Sides: 20}},
		{"3d6", Notation{Count: 3, Sides: 6}},
		{"1D8-1", Notation{Count: 1, Sides: 8, Modifier: -1}},
		{" 2d10 + 4 ", Notation{Count: 2, Sides: 10, Modifier: 4}},
		{"100d1000", Notation{Count: 100, Sides: 1000}},
	}
	for _, tc := range tests {
		t.Run(tc.expr, func(t *testing.T) {
			got, err := Parse(tc.expr)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := map[string]error{
		"":         ErrInvalidExpression,
		"fireball": ErrInvalidExpression,
		"2d":       ErrInvalidExpression,
		"2d6+":     ErrInvalidExpression,
		"0d6":      ErrOutOfRange,
		"101d6":    ErrOutOfRange,
		"1d1":      ErrOutOfRange,
		"1d1001":   ErrOutOfRange,
		"2d6*2":    ErrInvalidExpression,
	}
	for expr, want := range tests {
		_, err := Parse(expr)
		assert.ErrorIs(t, err, want, expr)
	}

	_, err := Parse("99999999999999999999d6")
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestRoll(t *testing.T) {
	n := Notation{Count: 50, Sides: 6, Modifier: 3}

	r := NewSeededRoller(42)
	res := r.Roll(n)
	require.Len(t, res.Rolls, 50)

	sum := 0
	for _, v := range res.Rolls {
		assert.GreaterOrEqual(t, v, 1)
		assert.LessOrEqual(t, v, 6)
		sum += v
	}
	assert.Equal(t, sum+3, res.Total)

	// Same seed, same rolls.
	assert.Equal(t, res, NewSeededRoller(42).Roll(n))
}

func TestSpecString(t *testing.T) {
	assert.Equal(t, "2d6+1", Notation{Count: 2, Sides: 6, Modifier: 1}.String())
	assert.Equal(t, "1d20-2", Notation{Count: 1, Sides: 20, Modifier: -2}.String())
	assert.Equal(t, "4d4", Notation{Count: 4, Sides: 4}.String())
}
