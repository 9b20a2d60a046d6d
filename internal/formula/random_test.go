package formula

import (
	"encoding/json"
	"strconv"
	"testing"

	"github.com/rendis/formula/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedBits(t *testing.T) {
	a, err := seedBits(int64(5))
	require.NoError(t, err)
	b, err := seedBits(5.0)
	require.NoError(t, err)
	assert.Equal(t, a, b, "integral floats seed like ints")

	c, err := seedBits(true)
	require.NoError(t, err)
	d, err := seedBits(int64(1))
	require.NoError(t, err)
	assert.Equal(t, c, d)

	s1, err := seedBits("alpha")
	require.NoError(t, err)
	s2, err := seedBits("beta")
	require.NoError(t, err)
	assert.NotEqual(t, s1, s2)

	_, err = seedBits(List{})
	assert.Error(t, err)
}

func TestRandom_DifferentSeedsDiffer(t *testing.T) {
	eng := newTestEngine(t)
	draws := map[string]bool{}
	for _, seed := range []string{"1", "2", "3", "'x'", "2.5"} {
		draws[evalJSON(t, eng, "random("+seed+")", nil)] = true
	}
	assert.Len(t, draws, 5)
}

func TestRandom_Ranges(t *testing.T) {
	eng := newTestEngine(t)

	decode := func(t *testing.T, f string) any {
		var v any
		require.NoError(t, json.Unmarshal([]byte(evalJSON(t, eng, f, nil)), &v))
		return v
	}

	for seed := 0; seed < 50; seed++ {
		n := decode(t, "randint("+strconv.Itoa(seed)+", 1, 6)").(float64)
		assert.GreaterOrEqual(t, n, 1.0)
		assert.LessOrEqual(t, n, 6.0)
	}

	r := decode(t, "random(1)").(float64)
	assert.GreaterOrEqual(t, r, 0.0)
	assert.Less(t, r, 1.0)

	u := decode(t, "uniform(2, 10, 20)").(float64)
	assert.GreaterOrEqual(t, u, 10.0)
	assert.LessOrEqual(t, u, 20.0)

	rr := decode(t, "randrange(3, 0, 100, 5)").(float64)
	assert.Equal(t, 0.0, float64(int(rr)%5))

	bits := decode(t, "getrandbits(4, 3)").(float64)
	assert.Less(t, bits, 8.0)

	sample := decode(t, "sample(5, range(10), 10)").([]any)
	assert.ElementsMatch(t, []any{0.0, 1.0, 2.0, 3.0, 4.0, 5.0, 6.0, 7.0, 8.0, 9.0}, sample)

	shuffled := decode(t, "shuffle(6, [1, 2, 3, 4, 5])").([]any)
	assert.ElementsMatch(t, []any{1.0, 2.0, 3.0, 4.0, 5.0}, shuffled)

	choices := decode(t, "choices(7, ['a', 'b'], [0, 1], k=4)").([]any)
	assert.Equal(t, []any{"b", "b", "b", "b"}, choices)
}

func TestRandom_ShuffleDoesNotMutate(t *testing.T) {
	eng := newTestEngine(t)
	bindings := map[string]any{"xs": []any{int64(1), int64(2), int64(3), int64(4), int64(5), int64(6)}}
	_ = evalJSON(t, eng, "shuffle(1, xs)", bindings)
	assert.Equal(t, "[1, 2, 3, 4, 5, 6]", evalJSON(t, eng, "xs", bindings))
}

func TestRandom_Errors(t *testing.T) {
	eng := newTestEngine(t)
	tests := []string{
		"randint(1, 5, 1)",
		"randrange(1, 0)",
		"choice(1, [])",
		"sample(1, [1, 2], 3)",
		"getrandbits(1, -1)",
		"random([1])",
	}
	for _, f := range tests {
		t.Run(f, func(t *testing.T) {
			fe := evalErr(t, eng, f, nil)
			assert.Equal(t, schema.ErrCodeRuntime, fe.Code)
		})
	}
}
