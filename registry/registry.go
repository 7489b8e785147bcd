// Package registry is the global chain registry: it owns every Chain,
// assigns each to a group and a group to a region, enforces the bijective
// membership invariant, and drives the per-chain lifecycle state machine.
// Grounded on the teacher's pkg/node/service_registry.go — a coarse
// RWMutex guarding a name-keyed map, sentinel errors, and "not found"
// lookups — adapted from service lifecycle to chain/group/region
// membership.
package registry

import (
	"sort"
	"sync"

	"github.com/DIG-Network/proof-of-space-continuity-sub000/perr"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/types"
)

// Registry owns every chain and the group/region membership that
// partitions them. Membership changes (adding a chain, creating a group or
// region) take the coarse lock; per-chain commitment appends use the
// chain's own mutex and never touch this lock, per the spec's concurrency
// model.
type Registry struct {
	mu sync.RWMutex

	chains map[types.Hash]*types.Chain
	groups map[string]*types.Group
	region map[string]*types.Region

	chainGroup  map[types.Hash]string // chain_id -> group_id
	groupRegion map[string]string     // group_id -> region_id

	openGroupID  string
	openRegionID string

	global types.GlobalState

	store *Store
}

// New creates an empty Registry. store may be nil, in which case chain
// state is not persisted across restarts.
func New(store *Store) *Registry {
	return &Registry{
		chains:      make(map[types.Hash]*types.Chain),
		groups:      make(map[string]*types.Group),
		region:      make(map[string]*types.Region),
		chainGroup:  make(map[types.Hash]string),
		groupRegion: make(map[string]string),
		store:       store,
	}
}

// LoadFromStore rebuilds a Registry's in-memory state from a Store's
// persisted chain and membership records, for use on process restart.
// Groups and regions are reconstructed from the membership records alone;
// the "open" group/region (the one new chains join next) becomes whichever
// existing group/region has spare capacity, or a fresh one if none does.
func LoadFromStore(store *Store) (*Registry, error) {
	r := New(store)

	err := store.LoadAll(func(c *types.Chain, groupID string) error {
		r.chains[c.ChainID] = c
		if groupID == "" {
			return nil
		}
		r.chainGroup[c.ChainID] = groupID
		group, ok := r.groups[groupID]
		if !ok {
			regionID, _, err := store.GetGroupRegion(groupID)
			if err != nil {
				return err
			}
			group = &types.Group{GroupID: groupID, RegionID: regionID}
			r.groups[groupID] = group
			if regionID != "" {
				r.groupRegion[groupID] = regionID
				region, ok := r.region[regionID]
				if !ok {
					region = &types.Region{RegionID: regionID}
					r.region[regionID] = region
				}
				region.GroupIDs = append(region.GroupIDs, groupID)
			}
		}
		group.ChainIDs = append(group.ChainIDs, c.ChainID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	for groupID, group := range r.groups {
		if len(group.ChainIDs) < types.ChainsPerGroup {
			r.openGroupID = groupID
		}
	}
	for regionID, region := range r.region {
		if len(region.GroupIDs) < types.GroupsPerRegion {
			r.openRegionID = regionID
		}
	}
	return r, nil
}

// RegisterChain adds a newly-created chain to the registry, assigning it to
// the current open group (creating a new group, and if necessary a new
// region, when the current one is full). The chain's lifecycle state is
// kept as the caller set it (engine.IngestChain registers chains in the
// Initializing state).
func (r *Registry) RegisterChain(c *types.Chain) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.chains[c.ChainID]; exists {
		return perr.New(perr.AlreadyHasData, "chain %x already registered", c.ChainID[:8])
	}
	if len(r.chains) >= maxTotalChains {
		return perr.New(perr.ScaleLimit, "registry already holds %d chains", maxTotalChains)
	}

	groupID, err := r.assignGroupLocked()
	if err != nil {
		return err
	}

	r.chains[c.ChainID] = c
	r.chainGroup[c.ChainID] = groupID
	group := r.groups[groupID]
	group.ChainIDs = append(group.ChainIDs, c.ChainID)

	if r.store != nil {
		if err := r.store.PutChain(c); err != nil {
			return perr.Wrap(perr.Io, err, "persist chain %x", c.ChainID[:8])
		}
		if err := r.store.PutMembership(c.ChainID, groupID); err != nil {
			return perr.Wrap(perr.Io, err, "persist membership for chain %x", c.ChainID[:8])
		}
	}
	return nil
}

// assignGroupLocked returns the group_id a new chain should join, creating
// a new group (and region, if needed) when the current open group is at
// capacity. Caller must hold r.mu.
func (r *Registry) assignGroupLocked() (string, error) {
	if r.openGroupID == "" || len(r.groups[r.openGroupID].ChainIDs) >= types.ChainsPerGroup {
		regionID, err := r.assignRegionLocked()
		if err != nil {
			return "", err
		}
		groupID := nextID("group", len(r.groups))
		r.groups[groupID] = &types.Group{GroupID: groupID, RegionID: regionID}
		r.groupRegion[groupID] = regionID
		region := r.region[regionID]
		region.GroupIDs = append(region.GroupIDs, groupID)
		r.openGroupID = groupID
		if r.store != nil {
			if err := r.store.PutGroupRegion(groupID, regionID); err != nil {
				return "", perr.Wrap(perr.Io, err, "persist group-region mapping for %s", groupID)
			}
		}
	}
	return r.openGroupID, nil
}

// assignRegionLocked returns the region_id a new group should join,
// creating a new region when the current open region is at capacity.
// Caller must hold r.mu.
func (r *Registry) assignRegionLocked() (string, error) {
	if r.openRegionID == "" || len(r.region[r.openRegionID].GroupIDs) >= types.GroupsPerRegion {
		regionID := nextID("region", len(r.region))
		r.region[regionID] = &types.Region{RegionID: regionID}
		r.openRegionID = regionID
	}
	return r.openRegionID, nil
}

func nextID(prefix string, n int) string {
	return prefix + "-" + itoa(n)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := make([]byte, 0, 8)
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

// Chain looks up a registered chain by id.
func (r *Registry) Chain(chainID types.Hash) (*types.Chain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.chains[chainID]
	if !ok {
		return nil, perr.New(perr.ChainNotFound, "chain %x not found", chainID[:8])
	}
	return c, nil
}

// ChainGroup returns the group_id a chain belongs to.
func (r *Registry) ChainGroup(chainID types.Hash) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.chainGroup[chainID]
	if !ok {
		return "", perr.New(perr.ChainNotFound, "chain %x not found", chainID[:8])
	}
	return g, nil
}

// GroupRegion returns the region_id a group belongs to.
func (r *Registry) GroupRegion(groupID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.groupRegion[groupID]
	if !ok {
		return "", perr.New(perr.ChainNotFound, "group %s not found", groupID)
	}
	return reg, nil
}

// Group returns the Group value for groupID.
func (r *Registry) Group(groupID string) (*types.Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[groupID]
	if !ok {
		return nil, perr.New(perr.ChainNotFound, "group %s not found", groupID)
	}
	return g, nil
}

// Region returns the Region value for regionID.
func (r *Registry) Region(regionID string) (*types.Region, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.region[regionID]
	if !ok {
		return nil, perr.New(perr.ChainNotFound, "region %s not found", regionID)
	}
	return reg, nil
}

// Groups returns every group's id, sorted lexicographically.
func (r *Registry) Groups() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.groups))
	for id := range r.groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Regions returns every region's id, sorted lexicographically.
func (r *Registry) Regions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.region))
	for id := range r.region {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RegionMembership returns, for every region, the sorted list of its
// member group_ids.
func (r *Registry) RegionMembership() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]string, len(r.region))
	for id, reg := range r.region {
		groups := append([]string(nil), reg.GroupIDs...)
		sort.Strings(groups)
		out[id] = groups
	}
	return out
}

// ChainIDs returns every chain_id assigned to a group, sorted
// lexicographically.
func (r *Registry) ChainIDs(groupID string) ([]types.Hash, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[groupID]
	if !ok {
		return nil, perr.New(perr.ChainNotFound, "group %s not found", groupID)
	}
	out := append([]types.Hash(nil), g.ChainIDs...)
	sort.Slice(out, func(i, j int) bool { return lessHash(out[i], out[j]) })
	return out, nil
}

func lessHash(a, b types.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// SetGroupProof records the latest group proof.
func (r *Registry) SetGroupProof(groupID string, proof types.Hash) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[groupID]
	if !ok {
		return perr.New(perr.ChainNotFound, "group %s not found", groupID)
	}
	g.GroupProof = proof
	return nil
}

// SetRegionalProof records the latest regional proof.
func (r *Registry) SetRegionalProof(regionID string, proof types.Hash) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.region[regionID]
	if !ok {
		return perr.New(perr.ChainNotFound, "region %s not found", regionID)
	}
	reg.RegionalProof = proof
	return nil
}

// SetGlobalState records the latest global root.
func (r *Registry) SetGlobalState(s types.GlobalState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.global = s
}

// GlobalState returns the most recently recorded global root.
func (r *Registry) GlobalState() types.GlobalState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.global
}

// Transition moves a chain to a new lifecycle state, persisting the change
// if a Store is attached.
func (r *Registry) Transition(chainID types.Hash, newState types.ChainState) error {
	r.mu.RLock()
	c, ok := r.chains[chainID]
	r.mu.RUnlock()
	if !ok {
		return perr.New(perr.ChainNotFound, "chain %x not found", chainID[:8])
	}
	if !c.Transition(newState) {
		return perr.New(perr.ChainLifecycle, "illegal transition for chain %x to %s", chainID[:8], newState)
	}
	if r.store != nil {
		if err := r.store.PutChain(c); err != nil {
			return perr.Wrap(perr.Io, err, "persist chain state for %x", chainID[:8])
		}
	}
	return nil
}

// maxTotalChains is the hard ceiling on registered chains, double the
// design target of ~100,000 named in the hierarchical-aggregation
// component's purpose statement, giving headroom before ScaleLimit fires.
const maxTotalChains = 200000

// AssignChainToGroup moves an already-registered chain into a specific
// group, for administrative rebalancing. Fails with GroupFull if the
// target group is already at CHAINS_PER_GROUP capacity.
func (r *Registry) AssignChainToGroup(chainID types.Hash, groupID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.chains[chainID]; !ok {
		return perr.New(perr.ChainNotFound, "chain %x not found", chainID[:8])
	}
	target, ok := r.groups[groupID]
	if !ok {
		return perr.New(perr.ChainNotFound, "group %s not found", groupID)
	}
	if len(target.ChainIDs) >= types.ChainsPerGroup {
		return perr.New(perr.GroupFull, "group %s already holds %d chains", groupID, types.ChainsPerGroup)
	}

	if prevGroupID, ok := r.chainGroup[chainID]; ok {
		if prev, ok := r.groups[prevGroupID]; ok {
			prev.ChainIDs = removeHash(prev.ChainIDs, chainID)
		}
	}
	target.ChainIDs = append(target.ChainIDs, chainID)
	r.chainGroup[chainID] = groupID
	return nil
}

// AssignGroupToRegion moves a group into a specific region, for
// administrative rebalancing. Fails with RegionFull if the target region
// is already at GROUPS_PER_REGION capacity.
func (r *Registry) AssignGroupToRegion(groupID, regionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	group, ok := r.groups[groupID]
	if !ok {
		return perr.New(perr.ChainNotFound, "group %s not found", groupID)
	}
	target, ok := r.region[regionID]
	if !ok {
		return perr.New(perr.ChainNotFound, "region %s not found", regionID)
	}
	if len(target.GroupIDs) >= types.GroupsPerRegion {
		return perr.New(perr.RegionFull, "region %s already holds %d groups", regionID, types.GroupsPerRegion)
	}

	if prevRegionID, ok := r.groupRegion[groupID]; ok {
		if prev, ok := r.region[prevRegionID]; ok {
			prev.GroupIDs = removeString(prev.GroupIDs, groupID)
		}
	}
	target.GroupIDs = append(target.GroupIDs, groupID)
	r.groupRegion[groupID] = regionID
	group.RegionID = regionID
	return nil
}

func removeHash(s []types.Hash, v types.Hash) []types.Hash {
	for i, x := range s {
		if x == v {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}

func removeString(s []string, v string) []string {
	for i, x := range s {
		if x == v {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}

// ChainCount returns the total number of registered chains.
func (r *Registry) ChainCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.chains)
}

// AllChains returns every registered chain, sorted by chain id, regardless
// of group membership or lifecycle state. Used by the engine on startup to
// reopen storage for chains reloaded from the registry store.
func (r *Registry) AllChains() []*types.Chain {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.Chain, 0, len(r.chains))
	for _, c := range r.chains {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return lessHash(out[i].ChainID, out[j].ChainID) })
	return out
}

// RemovableAtHeight returns the chain_ids of Archived chains whose
// RemovalAtHeight is <= height. No code in this module sets
// RemovalAtHeight, so REMOVAL_DELAY_BLOCKS is not applied here: an
// Archived chain whose field is still 0 is listed at every height.
func (r *Registry) RemovableAtHeight(height uint64) []types.Hash {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []types.Hash
	for id, c := range r.chains {
		if c.State == types.ChainArchived && height >= c.RemovalAtHeight {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessHash(out[i], out[j]) })
	return out
}
