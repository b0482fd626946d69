package issue

import (
	"context"

	"github.com/ara-foundation/ledger/id"
)

// Store persists issues. Update compares Version with the stored value and
// increments it on success.
type Store interface {
	CreateIssue(ctx context.Context, i *Issue) error
	GetIssue(ctx context.Context, issueID id.IssueID) (*Issue, error)
	UpdateIssue(ctx context.Context, i *Issue) error
	ListIssues(ctx context.Context, opts ListOpts) ([]*Issue, error)
}

type ListOpts struct {
	// Websites restricts results to issues raised on any of these sites.
	Websites []string
	Limit    int
	Offset   int
}

// Matches reports whether i passes the website filter.
func (o ListOpts) Matches(i *Issue) bool {
	if len(o.Websites) == 0 {
		return true
	}
	for _, w := range o.Websites {
		if i.Website == w {
			return true
		}
	}
	return false
}
