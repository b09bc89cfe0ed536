package blackboard

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/unswei/muesli-bt-sub004/internal/value"
)

func TestPutGetDelete(t *testing.T) {
	t.Parallel()
	bb := New()

	require.True(t, value.Equal(value.Int(7), bb.Get(Sym("missing"), value.Int(7))))

	bb.Put(Sym("x"), value.Float(1.5))
	require.True(t, bb.Has(Sym("x")))
	require.True(t, value.Equal(value.Float(1.5), bb.Get(Sym("x"), value.Nil)))

	bb.Put(Sym("x"), value.Float(2.5))
	v, ok := bb.Lookup(Sym("x"))
	require.True(t, ok)
	require.True(t, value.Equal(value.Float(2.5), v))

	require.True(t, bb.Delete(Sym("x")))
	require.False(t, bb.Delete(Sym("x")))
	require.False(t, bb.Has(Sym("x")))
	require.Zero(t, bb.Len())
}

func TestKeyKindsDoNotCollide(t *testing.T) {
	t.Parallel()
	bb := New()
	one, err := Float(1)
	require.NoError(t, err)

	bb.Put(Sym("1"), value.String("sym"))
	bb.Put(Str("1"), value.String("str"))
	bb.Put(Int(1), value.String("int"))
	bb.Put(one, value.String("float"))
	require.Equal(t, 4, bb.Len())

	keys := bb.Keys()
	require.Equal(t, []KeyKind{KeySymbol, KeyString, KeyInt, KeyFloat},
		[]KeyKind{keys[0].Kind(), keys[1].Kind(), keys[2].Kind(), keys[3].Kind()})
}

func TestFloatKeys(t *testing.T) {
	t.Parallel()
	_, err := Float(math.NaN())
	require.ErrorIs(t, err, ErrNaNKey)

	pos, err := Float(0)
	require.NoError(t, err)
	neg, err := Float(math.Copysign(0, -1))
	require.NoError(t, err)
	require.Equal(t, pos, neg)

	inf, err := Float(math.Inf(1))
	require.NoError(t, err)
	require.Equal(t, "+Inf", inf.String())
}

func TestInvalidKeyIgnored(t *testing.T) {
	t.Parallel()
	bb := New()
	bb.Put(Key{}, value.Int(1))
	require.Zero(t, bb.Len())
	require.False(t, Key{}.Valid())
	require.Equal(t, "<invalid key>", Key{}.String())
}

func TestZeroValueUsable(t *testing.T) {
	t.Parallel()
	var bb Blackboard
	bb.Put(Str("k"), value.Bool(true))
	require.True(t, bb.Has(Str("k")))
}

func TestNamedPrefersSymbols(t *testing.T) {
	t.Parallel()
	bb := New()
	bb.Put(Str("speed"), value.Int(1))
	bb.Put(Sym("speed"), value.Int(2))
	bb.Put(Sym("pose"), value.Floats(0.5, 1))
	bb.Put(Int(3), value.Int(3))

	env := bb.Named()
	require.Equal(t, int64(2), env["speed"])
	require.Equal(t, []any{0.5, 1.0}, env["pose"])
	require.Len(t, env, 2)
}

func TestSnapshotIsCopy(t *testing.T) {
	t.Parallel()
	bb := New()
	bb.Put(Sym("a"), value.Int(1))
	snap := bb.Snapshot()
	bb.Put(Sym("b"), value.Int(2))
	require.Len(t, snap, 1)
}

func TestArenaHandles(t *testing.T) {
	t.Parallel()
	bb := New()
	h := bb.Alloc(value.List(value.Int(1), value.Int(2)))
	require.Equal(t, value.KindHandle, h.Kind())
	bb.Put(Sym("shared"), h)

	v, err := bb.Deref(bb.Get(Sym("shared"), value.Nil))
	require.NoError(t, err)
	require.Equal(t, 2, v.Len())

	plain, err := bb.Deref(value.Int(5))
	require.NoError(t, err)
	require.True(t, value.Equal(value.Int(5), plain))

	bb.Clear()
	require.Zero(t, bb.Len())
	require.Zero(t, bb.Arena().Len())
	_, err = bb.Deref(h)
	require.ErrorIs(t, err, value.ErrStaleHandle)
}

func TestBindIsExclusive(t *testing.T) {
	t.Parallel()
	bb := New()
	require.True(t, bb.Bind(10))
	require.False(t, bb.Bind(11))
	bb.Unbind(11)
	require.False(t, bb.Bind(11))
	bb.Unbind(10)
	require.True(t, bb.Bind(11))
}
