package types

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// assertInSync checks that both maps hold the same set of records.
func assertInSync(t *testing.T, x *VersionIndex) {
	t.Helper()
	require.Equal(t, len(x.byID), len(x.byName), "index sizes diverged")
	for id, v := range x.byID {
		assert.Equal(t, id, v.ID)
		assert.Same(t, v, x.byName[v.Version], "id %d not reachable by label %q", id, v.Version)
	}
	for label, v := range x.byName {
		assert.Equal(t, label, v.Version)
		assert.Same(t, v, x.byID[v.ID], "label %q not reachable by id %d", label, v.ID)
	}
}

func TestVersionIndex_AddAndLookup(t *testing.T) {
	x := NewVersionIndex()
	v := &PluginVersion{ID: 10, Version: "1.0"}
	x.Add(v)

	byID, ok := x.ByID(10)
	require.True(t, ok)
	byName, ok := x.ByName("1.0")
	require.True(t, ok)
	assert.Same(t, byID, byName)
	assert.Equal(t, 1, x.Len())
	assertInSync(t, x)
}

func TestVersionIndex_Missing(t *testing.T) {
	x := NewVersionIndex()
	v, ok := x.ByID(9999)
	assert.False(t, ok)
	assert.Nil(t, v)
	v, ok = x.ByName("9.9.9")
	assert.False(t, ok)
	assert.Nil(t, v)
}

func TestVersionIndex_ConflictingKeysEvict(t *testing.T) {
	tests := []struct {
		name    string
		initial []*PluginVersion
		add     *PluginVersion
		wantLen int
	}{
		{
			name:    "same record again",
			initial: []*PluginVersion{{ID: 1, Version: "a"}},
			add:     &PluginVersion{ID: 1, Version: "a"},
			wantLen: 1,
		},
		{
			name:    "id reused with new label",
			initial: []*PluginVersion{{ID: 1, Version: "a"}},
			add:     &PluginVersion{ID: 1, Version: "b"},
			wantLen: 1,
		},
		{
			name:    "label reused with new id",
			initial: []*PluginVersion{{ID: 1, Version: "a"}},
			add:     &PluginVersion{ID: 2, Version: "a"},
			wantLen: 1,
		},
		{
			name:    "both keys collide with different records",
			initial: []*PluginVersion{{ID: 1, Version: "a"}, {ID: 2, Version: "b"}},
			add:     &PluginVersion{ID: 1, Version: "b"},
			wantLen: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := NewVersionIndex()
			for _, v := range tt.initial {
				x.Add(v)
			}
			x.Add(tt.add)

			assert.Equal(t, tt.wantLen, x.Len())
			got, ok := x.ByID(tt.add.ID)
			require.True(t, ok)
			assert.Same(t, tt.add, got)
			assertInSync(t, x)
		})
	}
}

func TestVersionIndex_RandomSequencesStayInSync(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	x := NewVersionIndex()

	for i := 0; i < 500; i++ {
		v := &PluginVersion{
			ID:      rng.Intn(40),
			Version: fmt.Sprintf("v%d", rng.Intn(40)),
		}
		x.Add(v)
		assertInSync(t, x)
	}
}

func TestVersionIndex_AllSortedByID(t *testing.T) {
	x := NewVersionIndex()
	x.Add(&PluginVersion{ID: 3, Version: "c"})
	x.Add(&PluginVersion{ID: 1, Version: "a"})
	x.Add(&PluginVersion{ID: 2, Version: "b"})
	x.Add(nil)

	all := x.All()
	require.Len(t, all, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{all[0].ID, all[1].ID, all[2].ID})
}
