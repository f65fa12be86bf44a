package localindex_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/overlaylab/coreham/localindex"
)

func Test_New_RejectsSmallBranchingFactor(t *testing.T) {
	_, err := localindex.New(2)
	require.ErrorIs(t, err, localindex.ErrInvalidBranchingFactor)
}

func Test_InsertLookup_RoundTrip(t *testing.T) {
	idx, err := localindex.New(4)
	require.NoError(t, err)

	idx.Insert("alpha", 1)
	values, ok := idx.Lookup("alpha")
	require.True(t, ok)
	require.Equal(t, []any{1}, values)
}

func Test_Insert_AppendsToExistingKey(t *testing.T) {
	idx, _ := localindex.New(4)
	idx.Insert("alpha", 1)
	idx.Insert("alpha", 2)

	values, ok := idx.Lookup("alpha")
	require.True(t, ok)
	require.Equal(t, []any{1, 2}, values)
}

func Test_Lookup_AbsentKey(t *testing.T) {
	idx, _ := localindex.New(4)
	_, ok := idx.Lookup("missing")
	require.False(t, ok)
}

func Test_Update_ReplacesWithSingleValue(t *testing.T) {
	idx, _ := localindex.New(4)
	idx.Insert("alpha", 1)
	idx.Insert("alpha", 2)

	ok := idx.Update("alpha", 9)
	require.True(t, ok)

	values, _ := idx.Lookup("alpha")
	require.Equal(t, []any{9}, values)
}

func Test_Update_AbsentKeyReturnsFalse(t *testing.T) {
	idx, _ := localindex.New(4)
	ok := idx.Update("missing", 1)
	require.False(t, ok)
}

func Test_Delete_Idempotent(t *testing.T) {
	idx, _ := localindex.New(4)
	idx.Insert("charlie", "v")

	require.True(t, idx.Delete("charlie"))
	require.False(t, idx.Delete("charlie"))
}

func Test_Delete_NeverStoredKey(t *testing.T) {
	idx, _ := localindex.New(4)
	require.False(t, idx.Delete("charlie"))
}

func Test_Scan_SortedOrder(t *testing.T) {
	idx, _ := localindex.New(4)
	for _, k := range []string{"delta", "alpha", "charlie", "bravo", "echo", "foxtrot", "golf"} {
		idx.Insert(k, k)
	}

	entries := idx.Scan()
	require.Len(t, entries, 7)
	for i := 1; i < len(entries); i++ {
		require.Less(t, entries[i-1].Key, entries[i].Key)
	}
}

func Test_Scan_SurvivesSplits(t *testing.T) {
	idx, _ := localindex.New(4)
	keys := []string{"m", "a", "z", "b", "y", "c", "x", "d", "w", "e", "v", "f", "u"}
	for _, k := range keys {
		idx.Insert(k, 1)
	}

	require.Equal(t, len(keys), idx.Len())
	entries := idx.Scan()
	require.Len(t, entries, len(keys))
	for i := 1; i < len(entries); i++ {
		require.Less(t, entries[i-1].Key, entries[i].Key)
	}
}
