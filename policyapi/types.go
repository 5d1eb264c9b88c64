package policyapi

import (
	"encoding/hex"
	"encoding/json"

	"github.com/TEENet-io/vault-policy/compiler"
	"github.com/TEENet-io/vault-policy/condition"
	"github.com/TEENet-io/vault-policy/planner"
)

type CompileRequest struct {
	Policy string            `json:"policy" binding:"required"`
	Keys   map[string]string `json:"keys"` // name -> hex pubkey, on top of the server's keys
}

type DecompileRequest struct {
	WitnessScript string `json:"witness_script" binding:"required"` // hex
}

// PlanRequest describes the assets a spender holds. HeldKeys are hex pubkeys
// or key names, preimages are hex.
type PlanRequest struct {
	Policy    string            `json:"policy" binding:"required"`
	Keys      map[string]string `json:"keys"`
	HeldKeys  []string          `json:"held_keys"`
	After     []uint32          `json:"after"`
	Older     []uint32          `json:"older"`
	Preimages []string          `json:"preimages"`
}

type Leaf struct {
	LeafID int    `json:"leaf_id"`
	Policy string `json:"policy"`
}

type CompileResponse struct {
	Policy        string          `json:"policy"`
	WitnessScript string          `json:"witness_script"`
	PkScript      string          `json:"pk_script"`
	Address       string          `json:"address"`
	Tree          json.RawMessage `json:"tree"` // semantic policy
	Leaves        []Leaf          `json:"leaves"`
}

type Step struct {
	LeafID   int    `json:"leaf_id"`
	Action   string `json:"action"`
	PubKey   string `json:"pubkey,omitempty"`
	HashAlgo string `json:"hash_algo,omitempty"`
	Digest   string `json:"digest,omitempty"`
}

// PlanResponse never echoes preimages back.
type PlanResponse struct {
	Leaves           []int  `json:"leaves"`
	Steps            []Step `json:"steps"`
	RequiredLockTime uint32 `json:"required_locktime"`
	RequiredSequence uint32 `json:"required_sequence"`
	WitnessCost      int    `json:"witness_cost"`
}

func newCompileResponse(compiled *compiler.Compiled, address string) (*CompileResponse, error) {
	tree, err := json.Marshal(compiled.Tree)
	if err != nil {
		return nil, err
	}
	resp := &CompileResponse{
		Policy:        compiled.Policy,
		WitnessScript: hex.EncodeToString(compiled.WitnessScript),
		PkScript:      hex.EncodeToString(compiled.PkScript),
		Address:       address,
		Tree:          tree,
	}
	compiled.Tree.ForEachLeaf(func(leafID int, leaf *condition.Condition) {
		resp.Leaves = append(resp.Leaves, Leaf{LeafID: leafID, Policy: leaf.String()})
	})
	return resp, nil
}

func newPlanResponse(plan *planner.Plan) *PlanResponse {
	resp := &PlanResponse{
		Leaves:           plan.Leaves,
		Steps:            make([]Step, 0, len(plan.Steps)),
		RequiredLockTime: plan.RequiredLockTime,
		RequiredSequence: plan.RequiredSequence,
		WitnessCost:      plan.WitnessCost,
	}
	for _, s := range plan.Steps {
		step := Step{LeafID: s.LeafID, Action: s.Action.String()}
		switch s.Action {
		case planner.ActionSign:
			step.PubKey = hex.EncodeToString(s.PubKey.SerializeCompressed())
		case planner.ActionRevealPreimage:
			step.HashAlgo = s.HashAlgo.String()
			step.Digest = hex.EncodeToString(s.Digest)
		}
		resp.Steps = append(resp.Steps, step)
	}
	return resp
}
