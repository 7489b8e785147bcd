package registry_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DIG-Network/proof-of-space-continuity-sub000/perr"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/registry"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/types"
)

func fill(b byte) types.Hash {
	var h types.Hash
	for i := range h {
		h[i] = b
	}
	return h
}

func newChain(id byte) *types.Chain {
	return &types.Chain{
		ChainID:     fill(id),
		PublicKey:   types.BytesToPublicKey([]byte{id}),
		TotalChunks: 10,
		State:       types.ChainInitializing,
	}
}

func TestRegisterChainAssignsGroupAndRegion(t *testing.T) {
	r := registry.New(nil)
	c := newChain(1)
	require.NoError(t, r.RegisterChain(c))

	groupID, err := r.ChainGroup(c.ChainID)
	require.NoError(t, err)
	require.NotEmpty(t, groupID)

	regionID, err := r.GroupRegion(groupID)
	require.NoError(t, err)
	require.NotEmpty(t, regionID)

	ids, err := r.ChainIDs(groupID)
	require.NoError(t, err)
	require.Contains(t, ids, c.ChainID)
}

func TestRegisterChainRejectsDuplicate(t *testing.T) {
	r := registry.New(nil)
	c := newChain(2)
	require.NoError(t, r.RegisterChain(c))
	err := r.RegisterChain(c)
	require.Error(t, err)
	kind, ok := perr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, perr.AlreadyHasData, kind)
}

func TestAssignChainToGroupRejectsFullGroup(t *testing.T) {
	r := registry.New(nil)
	c1 := newChain(1)
	c2 := newChain(2)
	require.NoError(t, r.RegisterChain(c1))
	require.NoError(t, r.RegisterChain(c2))

	groupID, err := r.ChainGroup(c1.ChainID)
	require.NoError(t, err)

	group, err := r.Group(groupID)
	require.NoError(t, err)
	for len(group.ChainIDs) < types.ChainsPerGroup {
		group.ChainIDs = append(group.ChainIDs, fill(byte(len(group.ChainIDs)%250)))
	}

	err = r.AssignChainToGroup(c2.ChainID, groupID)
	require.Error(t, err)
	kind, ok := perr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, perr.GroupFull, kind)
}

func TestChainNotFoundForUnknownID(t *testing.T) {
	r := registry.New(nil)
	_, err := r.Chain(fill(0xFF))
	require.Error(t, err)
	kind, ok := perr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, perr.ChainNotFound, kind)
}

func TestTransitionRejectsIllegalMove(t *testing.T) {
	r := registry.New(nil)
	c := newChain(3)
	require.NoError(t, r.RegisterChain(c))

	err := r.Transition(c.ChainID, types.ChainArchived)
	require.Error(t, err)
	kind, ok := perr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, perr.ChainLifecycle, kind)

	require.NoError(t, r.Transition(c.ChainID, types.ChainActive))
	require.Equal(t, types.ChainActive, c.State)
}

func TestRegionMembershipIsSortedAndBijective(t *testing.T) {
	r := registry.New(nil)
	for i := byte(1); i <= 5; i++ {
		require.NoError(t, r.RegisterChain(newChain(i)))
	}

	membership := r.RegionMembership()
	require.Len(t, membership, 1)
	for _, groups := range membership {
		require.NotEmpty(t, groups)
	}
}

func TestStorePersistsAndReloadsChainState(t *testing.T) {
	dir := t.TempDir()
	store, err := registry.OpenStore(dir)
	require.NoError(t, err)

	r := registry.New(store)
	c := newChain(9)
	require.NoError(t, r.RegisterChain(c))
	require.NoError(t, r.Transition(c.ChainID, types.ChainActive))
	require.NoError(t, store.Close())

	store2, err := registry.OpenStore(dir)
	require.NoError(t, err)
	defer store2.Close()

	r2, err := registry.LoadFromStore(store2)
	require.NoError(t, err)

	loaded, err := r2.Chain(c.ChainID)
	require.NoError(t, err)
	require.Equal(t, types.ChainActive, loaded.State)

	groupID, err := r2.ChainGroup(c.ChainID)
	require.NoError(t, err)
	require.NotEmpty(t, groupID)

	regionID, err := r2.GroupRegion(groupID)
	require.NoError(t, err)
	require.NotEmpty(t, regionID)
}

func TestRemovableAtHeight(t *testing.T) {
	r := registry.New(nil)
	c := newChain(4)
	c.State = types.ChainArchived
	c.RemovalAtHeight = 100
	require.NoError(t, r.RegisterChain(c))

	require.Empty(t, r.RemovableAtHeight(50))
	require.Len(t, r.RemovableAtHeight(100), 1)
}
