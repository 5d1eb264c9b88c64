package planner

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/TEENet-io/vault-policy/assets"
	"github.com/TEENet-io/vault-policy/compiler"
	"github.com/TEENet-io/vault-policy/condition"
)

func testPubKey(i int) *btcec.PublicKey {
	var seed [32]byte
	seed[0] = 0x42
	seed[31] = byte(i + 1)
	_, pub := btcec.PrivKeyFromBytes(seed[:])
	return pub
}

var (
	keyA = testPubKey(0)
	keyB = testPubKey(1)
	keyC = testPubKey(2)
)

func compileTree(t testing.TB, text string) *condition.Condition {
	compiled, err := compiler.Compile(text, compiler.WithKeys(map[string]*btcec.PublicKey{
		"A": keyA, "B": keyB, "C": keyC,
		"emergency": keyA, "unvault": keyB,
	}))
	require.NoError(t, err)
	return compiled.Tree
}

func mustSet(t testing.TB, list ...assets.Asset) *assets.Set {
	set, err := assets.NewSet(list...)
	require.NoError(t, err)
	return set
}

func TestVaultScenario(t *testing.T) {
	p := New(compileTree(t, "or(pk(emergency),and(pk(unvault),after(1311208)))"))

	plan, err := p.Plan(mustSet(t, assets.Key(keyA)))
	require.NoError(t, err)
	assert.Equal(t, []int{0}, plan.Leaves)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, ActionSign, plan.Steps[0].Action)
	assert.True(t, plan.Steps[0].PubKey.IsEqual(keyA))
	assert.Zero(t, plan.RequiredLockTime)
	assert.Zero(t, plan.RequiredSequence)
	assert.Equal(t, SelectorChosenCost+SelectorSkippedCost+SignatureCost, plan.WitnessCost)

	plan, err = p.Plan(mustSet(t, assets.Key(keyB), assets.After(1311208)))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, plan.Leaves)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, 1, plan.Steps[0].LeafID)
	assert.Equal(t, uint32(1311208), plan.RequiredLockTime)

	_, err = p.Plan(mustSet(t))
	assert.ErrorIs(t, err, ErrUnsatisfiable)

	_, err = p.Plan(mustSet(t, assets.Key(keyB)))
	assert.ErrorIs(t, err, ErrUnsatisfiable)

	// equal cost, the leftmost branch wins
	plan, err = p.Plan(mustSet(t, assets.Key(keyA), assets.Key(keyB), assets.After(1311208)))
	require.NoError(t, err)
	assert.Equal(t, []int{0}, plan.Leaves)
}

func TestConflictDetection(t *testing.T) {
	p := New(compileTree(t, "or(and(pk(A),after(100)),and(pk(B),after(200)))"))

	plan, err := p.Plan(mustSet(t, assets.Key(keyA), assets.Key(keyB), assets.After(100), assets.After(200)))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, plan.Leaves)
	assert.Equal(t, uint32(100), plan.RequiredLockTime)

	plan, err = p.Plan(mustSet(t, assets.Key(keyB), assets.After(200)))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, plan.Leaves)
	assert.Equal(t, uint32(200), plan.RequiredLockTime)
}

func TestConflictingTimelock(t *testing.T) {
	p := New(compileTree(t, "and(pk(A),after(100),after(200))"))

	_, err := p.Plan(mustSet(t, assets.Key(keyA), assets.After(200)))
	var conflict *ConflictingTimelockError
	require.True(t, errors.As(err, &conflict), "got %v", err)
	assert.Equal(t, []uint32{100, 200}, conflict.LockTimes)
	assert.Empty(t, conflict.Sequences)

	p = New(compileTree(t, "and(pk(A),older(10),older(20))"))
	_, err = p.Plan(mustSet(t, assets.Key(keyA), assets.Older(20)))
	require.True(t, errors.As(err, &conflict), "got %v", err)
	assert.Equal(t, []uint32{10, 20}, conflict.Sequences)

	// without the time asset nothing works even when relaxed
	_, err = p.Plan(mustSet(t, assets.Key(keyA)))
	assert.ErrorIs(t, err, ErrUnsatisfiable)
}

func TestSearchBacktracksAcrossSiblings(t *testing.T) {
	// The cheap choice in each or is its timelock, but 100 and 200 cannot
	// share a transaction, so one side has to fall back to a key.
	p := New(compileTree(t, "and(or(after(100),pk(A)),or(after(200),pk(B)))"))

	plan, err := p.Plan(mustSet(t, assets.Key(keyA), assets.Key(keyB), assets.After(200)))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 3}, plan.Leaves)
	assert.Equal(t, uint32(100), plan.RequiredLockTime)
	assert.Equal(t, 2*(SelectorChosenCost+SelectorSkippedCost)+SignatureCost, plan.WitnessCost)
}

func TestThresholdPicksCheapest(t *testing.T) {
	secret := bytes.Repeat([]byte{3}, condition.PreimageLen)
	digest := condition.Sha256.Sum(secret)
	tree, err := condition.NewThreshold(2, mustLeaf(t, keyA), mustHash(t, digest), mustLeaf(t, keyB))
	require.NoError(t, err)

	plan, err := New(tree).Plan(mustSet(t, assets.Key(keyA), assets.Key(keyB), assets.Preimage(secret)))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, plan.Leaves)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, ActionRevealPreimage, plan.Steps[1].Action)
	assert.Equal(t, secret, plan.Steps[1].Preimage)
	assert.Equal(t, digest, plan.Steps[1].Digest)
	assert.Equal(t, 2*SelectorChosenCost+SelectorSkippedCost+SignatureCost+PreimageCost, plan.WitnessCost)
	assert.True(t, plan.Uses(1))
	assert.False(t, plan.Uses(2))
}

func TestRelativeTimelockPlan(t *testing.T) {
	p := New(compileTree(t, "or(pk(A),and(pk(B),older(144)))"))
	plan, err := p.Plan(mustSet(t, assets.Key(keyB), assets.Older(200)))
	require.NoError(t, err)
	assert.Equal(t, uint32(144), plan.RequiredSequence)
	assert.Zero(t, plan.RequiredLockTime)
}

func TestCompletenessSingleKey(t *testing.T) {
	p := New(compileTree(t, "or(and(pk(B),pk(C)),pk(A))"))
	plan, err := p.Plan(mustSet(t, assets.Key(keyA), assets.Key(keyB), assets.Key(keyC)))
	require.NoError(t, err)
	assert.Equal(t, []int{2}, plan.Leaves)
}

func TestPlanConcurrentlyOnSharedTree(t *testing.T) {
	p := New(compileTree(t, "or(pk(emergency),and(pk(unvault),after(1311208)))"))

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// each goroutine owns its asset set
			var set assets.Set
			want := []int{0}
			if i%2 == 0 {
				_ = set.Add(assets.Key(keyA))
			} else {
				_ = set.Add(assets.Key(keyB))
				_ = set.Add(assets.After(1311208))
				want = []int{1, 2}
			}
			plan, err := p.Plan(&set)
			if err != nil {
				errs <- err
				return
			}
			if !equalInts(plan.Leaves, want) {
				errs <- fmt.Errorf("worker %d planned %v, want %v", i, plan.Leaves, want)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestNilTree(t *testing.T) {
	_, err := New(nil).Plan(mustSet(t))
	assert.ErrorIs(t, err, ErrNilTree)
}

func mustLeaf(t testing.TB, pub *btcec.PublicKey) *condition.Condition {
	c, err := condition.NewKey(pub)
	require.NoError(t, err)
	return c
}

func mustHash(t testing.TB, digest []byte) *condition.Condition {
	c, err := condition.NewHash(condition.Sha256, digest)
	require.NoError(t, err)
	return c
}

func genTree(t *rapid.T, depth int, nextKey *int) *condition.Condition {
	choice := rapid.IntRange(0, 4).Draw(t, "node")
	if depth == 0 && choice > 2 {
		choice = 0
	}
	switch choice {
	case 0:
		*nextKey++
		c, _ := condition.NewKey(testPubKey(*nextKey))
		return c
	case 1:
		c, _ := condition.NewAfter(rapid.Uint32Range(1, 5).Draw(t, "after"))
		return c
	case 2:
		c, _ := condition.NewOlder(rapid.Uint32Range(1, 5).Draw(t, "older"))
		return c
	}
	n := rapid.IntRange(2, 3).Draw(t, "n")
	children := make([]*condition.Condition, n)
	for i := range children {
		children[i] = genTree(t, depth-1, nextKey)
	}
	c, _ := condition.NewThreshold(rapid.IntRange(1, n).Draw(t, "k"), children...)
	return c
}

// satisfiedBy evaluates a tree with exactly the given leaves discharged.
func satisfiedBy(c *condition.Condition, used map[int]bool, next *int) bool {
	if c.IsLeaf() {
		id := *next
		*next++
		return used[id]
	}
	count := 0
	for i := 0; i < c.NumChildren(); i++ {
		if satisfiedBy(c.Child(i), used, next) {
			count++
		}
	}
	return count >= c.K()
}

func TestPlanSoundnessProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		nextKey := 0
		tree := genTree(t, 3, &nextKey)
		leaves := tree.Leaves()

		grant := make(map[int]bool)
		var list []assets.Asset
		for id, leaf := range leaves {
			if !rapid.Bool().Draw(t, "grant") {
				continue
			}
			grant[id] = true
			switch leaf.Kind() {
			case condition.KindKey:
				list = append(list, assets.Key(leaf.PubKey()))
			case condition.KindAfter:
				list = append(list, assets.After(leaf.Lock()))
			case condition.KindOlder:
				list = append(list, assets.Older(leaf.Lock()))
			}
		}
		set, err := assets.NewSet(list...)
		if err != nil {
			t.Fatalf("asset set: %v", err)
		}

		p := New(tree)
		plan, err := p.Plan(set)
		if err != nil {
			var conflict *ConflictingTimelockError
			if !errors.Is(err, ErrUnsatisfiable) && !errors.As(err, &conflict) {
				t.Fatalf("unexpected error %v", err)
			}
			return
		}

		used := make(map[int]bool)
		for _, id := range plan.Leaves {
			leaf := leaves[id]
			if !FromAssets(set).Available(id, leaf) {
				t.Fatalf("plan uses leaf %d the assets do not cover", id)
			}
			switch leaf.Kind() {
			case condition.KindAfter:
				if leaf.Lock() != plan.RequiredLockTime {
					t.Fatalf("leaf %d needs locktime %d, plan has %d", id, leaf.Lock(), plan.RequiredLockTime)
				}
			case condition.KindOlder:
				if leaf.Lock() != plan.RequiredSequence {
					t.Fatalf("leaf %d needs sequence %d, plan has %d", id, leaf.Lock(), plan.RequiredSequence)
				}
			}
			used[id] = true
		}
		next := 0
		if !satisfiedBy(tree, used, &next) {
			t.Fatalf("plan %v does not satisfy %s", plan.Leaves, tree)
		}

		again, err := p.Plan(set)
		if err != nil || !equalInts(again.Leaves, plan.Leaves) || again.WitnessCost != plan.WitnessCost {
			t.Fatalf("planning is not deterministic")
		}
	})
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
