package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rendis/formula/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stub(name string) *Func {
	return NewFunc(name, "stub "+name, func(_ context.Context, args []any) (any, error) {
		return len(args), nil
	})
}

func TestRegistry_Register_Success(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(stub("discount")))
	assert.Equal(t, 1, reg.Count())
	assert.True(t, reg.Has("discount"))
}

func TestRegistry_Register_Duplicate(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(stub("dup")))

	err := reg.Register(stub("dup"))
	require.Error(t, err)

	var fe *schema.FormulaError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, schema.ErrCodeConflict, fe.Code)
}

func TestRegistry_Register_Nil(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register(nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestRegistry_Register_InvalidName(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"", "1abc", "has space", "dotted.name", "dash-name"} {
		t.Run(name, func(t *testing.T) {
			err := reg.Register(stub(name))
			require.Error(t, err)
			assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
		})
	}
	assert.Equal(t, 0, reg.Count())
}

func TestRegistry_RegisterAll(t *testing.T) {
	reg := NewRegistry()
	n, err := reg.RegisterAll([]Function{stub("a"), stub("b"), stub("a"), stub("c")})
	require.Error(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, reg.Has("c"))
}

func TestRegistry_Get(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(stub("found")))

	fn, err := reg.Get("found")
	require.NoError(t, err)
	out, err := fn.Call(context.Background(), []any{1, 2})
	require.NoError(t, err)
	assert.Equal(t, 2, out)

	_, err = reg.Get("missing")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}

func TestRegistry_ListSorted(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, reg.Register(stub(name)))
	}
	infos := reg.List()
	require.Len(t, infos, 3)
	assert.Equal(t, "alpha", infos[0].Name)
	assert.Equal(t, "stub alpha", infos[0].Description)
	assert.Equal(t, "mid", infos[1].Name)
	assert.Equal(t, "zeta", infos[2].Name)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = reg.Register(stub("f" + string(rune('a'+i%26))))
		}(i)
		go func() {
			defer wg.Done()
			_ = reg.List()
			_ = reg.Has("fa")
		}()
	}
	wg.Wait()
	assert.Equal(t, 26, reg.Count())
}
