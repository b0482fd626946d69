package issue

import (
	"testing"

	"github.com/ara-foundation/ledger/id"
	"github.com/ara-foundation/ledger/types"
)

func TestNextImplementationID(t *testing.T) {
	tests := []struct {
		name string
		ids  []int
		want int
	}{
		{"Empty", nil, 1},
		{"One", []int{1}, 2},
		{"Sequential", []int{1, 2, 3}, 4},
		{"Unordered", []int{3, 1, 2}, 4},
		{"Gap", []int{1, 5}, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			iss := &Issue{}
			for _, n := range tt.ids {
				iss.Implementations = append(iss.Implementations, Implementation{ID: n})
			}
			if got := iss.NextImplementationID(); got != tt.want {
				t.Errorf("NextImplementationID: got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPool(t *testing.T) {
	iss := &Issue{Incentive: []Contribution{
		{Account: "alice", Amount: types.Units(40)},
		{Account: "bob", Amount: types.Units(5)},
		{Account: "alice", Amount: types.Minor(250)},
	}}

	pool := iss.Pool()
	if len(pool) != 2 {
		t.Fatalf("pool size: got %d, want 2", len(pool))
	}
	if !pool["alice"].Equal(types.Minor(4250)) {
		t.Errorf("alice: got %v, want 42.50", pool["alice"])
	}
	if !iss.Reward().Equal(types.Minor(4750)) {
		t.Errorf("Reward: got %v, want 47.50", iss.Reward())
	}
	contributors := iss.Contributors()
	if len(contributors) != 2 || contributors[0] != "alice" || contributors[1] != "bob" {
		t.Errorf("Contributors: got %v", contributors)
	}
}

func TestImplementationLookup(t *testing.T) {
	iss := &Issue{ID: id.NewIssueID(), Implementations: []Implementation{{ID: 1}, {ID: 2, Phase: PhaseProd}}}

	im, ok := iss.Implementation(2)
	if !ok {
		t.Fatal("expected implementation 2")
	}
	if im.Phase != PhaseProd {
		t.Errorf("Phase: got %s, want %s", im.Phase, PhaseProd)
	}

	im.Phase = PhaseTest
	if iss.Implementations[1].Phase != PhaseTest {
		t.Error("Implementation should return a pointer into the issue")
	}

	if _, ok := iss.Implementation(3); ok {
		t.Error("unexpected implementation 3")
	}

	if got := iss.Key(2); got.IssueID != iss.ID || got.ImplementationID != 2 {
		t.Errorf("Key: got %v", got)
	}
}

func TestClone(t *testing.T) {
	iss := &Issue{
		Incentive:       []Contribution{{Account: "alice", Amount: types.Units(1)}},
		Implementations: []Implementation{{ID: 1, Distributions: []string{"bob"}}},
	}

	c := iss.Clone()
	c.Incentive[0].Account = "mallory"
	c.Implementations[0].Distributions[0] = "mallory"
	c.Implementations[0].Phase = PhaseProd

	if iss.Incentive[0].Account != "alice" {
		t.Error("clone shares incentive slice")
	}
	if iss.Implementations[0].Distributions[0] != "bob" {
		t.Error("clone shares distributions slice")
	}
	if iss.Implementations[0].Phase != "" {
		t.Error("clone shares implementations slice")
	}
}

func TestListOptsMatches(t *testing.T) {
	iss := &Issue{Website: "example.com"}

	if !(ListOpts{}).Matches(iss) {
		t.Error("empty filter should match")
	}
	if !(ListOpts{Websites: []string{"a.com", "example.com"}}).Matches(iss) {
		t.Error("listed website should match")
	}
	if (ListOpts{Websites: []string{"a.com"}}).Matches(iss) {
		t.Error("unlisted website should not match")
	}
}
