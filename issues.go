package ledger

import (
	"context"
	"errors"

	"github.com/ara-foundation/ledger/escrow"
	"github.com/ara-foundation/ledger/id"
	"github.com/ara-foundation/ledger/issue"
	"github.com/ara-foundation/ledger/reward"
	"github.com/ara-foundation/ledger/transaction"
	"github.com/ara-foundation/ledger/types"
)

// NewIssue is the input of AddIssue.
type NewIssue struct {
	Title     string      `json:"title"`
	Document  string      `json:"document"`
	Website   string      `json:"website"`
	Author    string      `json:"author"`
	Incentive types.Money `json:"incentive"`
}

// IssueUpdate is the input of UpdateIssue.
type IssueUpdate struct {
	Title    string `json:"title"`
	Document string `json:"document"`
	Author   string `json:"author"`
}

// PushParams describes a new implementation.
type PushParams struct {
	Source          issue.Source  `json:"source"`
	Payment         issue.Payment `json:"payment"`
	Distributions   []string      `json:"distributions"`
	TestConstructor string        `json:"test_constructor"`
}

// CommitParams updates an implementation under test. Nil and empty fields
// keep their current value.
type CommitParams struct {
	TestCommit      string         `json:"test_commit"`
	Payment         *issue.Payment `json:"payment,omitempty"`
	Distributions   []string       `json:"distributions,omitempty"`
	TestConstructor string         `json:"test_constructor,omitempty"`
}

// ProdParams records the production source of an implementation.
type ProdParams struct {
	ProdBranch      string `json:"prod_branch"`
	ProdCommit      string `json:"prod_commit"`
	ProdConstructor string `json:"prod_constructor"`
}

// ProdResult reports the side effects of Prod.
type ProdResult struct {
	Implementation *issue.Implementation `json:"implementation"`
	// Reward is nil when nothing was paid by this call.
	Reward *reward.Reward `json:"reward,omitempty"`
	// Project is the current registration, or nil for implementations that
	// do not charge for access.
	Project *escrow.Project `json:"project,omitempty"`
}

// ──────────────────────────────────────────────────
// Issues
// ──────────────────────────────────────────────────

// AddIssue funds and creates an issue. The author's incentive is debited to
// the treasury first and refunded if the issue cannot be stored.
func (l *Ledger) AddIssue(ctx context.Context, in NewIssue) (*issue.Issue, error) {
	if in.Title == "" {
		return nil, ValidationError{Field: "title", Message: "is required"}
	}
	if in.Author == "" {
		return nil, ValidationError{Field: "author", Message: "is required"}
	}
	if !in.Incentive.IsPositive() {
		return nil, ErrNoIncentiveProvided
	}

	now := l.now()
	debit := transaction.New(in.Author, l.treasury, in.Incentive, transaction.KindAdd, now)
	if err := l.post(ctx, debit); err != nil {
		return nil, err
	}

	iss := &issue.Issue{
		Entity:   types.NewEntityAt(now),
		ID:       id.NewIssueID(),
		Title:    in.Title,
		Document: in.Document,
		Website:  in.Website,
		Author:   in.Author,
		Incentive: []issue.Contribution{{
			Account:       in.Author,
			Amount:        in.Incentive,
			TransactionID: debit.ID,
			CreatedAt:     now,
		}},
		Implementations: []issue.Implementation{},
	}
	if err := l.store.CreateIssue(ctx, iss); err != nil {
		l.refund(ctx, debit, err)
		return nil, err
	}

	l.logger.Info("issue created",
		"issue_id", iss.ID.String(),
		"author", in.Author,
		"incentive", in.Incentive.String(),
	)
	l.plugins.EmitIssueCreated(ctx, iss)
	return iss, nil
}

// GetIssue returns an issue.
func (l *Ledger) GetIssue(ctx context.Context, issueID id.IssueID) (*issue.Issue, error) {
	return l.store.GetIssue(ctx, issueID)
}

// ListIssues lists issues raised on any of websites, or all issues.
func (l *Ledger) ListIssues(ctx context.Context, opts issue.ListOpts) ([]*issue.Issue, error) {
	return l.store.ListIssues(ctx, opts)
}

// UpdateIssue replaces the descriptive fields of an issue.
func (l *Ledger) UpdateIssue(ctx context.Context, issueID id.IssueID, in IssueUpdate) (*issue.Issue, error) {
	if in.Title == "" {
		return nil, ValidationError{Field: "title", Message: "is required"}
	}
	return l.mutateIssue(ctx, "update issue", issueID, func(iss *issue.Issue) error {
		iss.Title = in.Title
		iss.Document = in.Document
		if in.Author != "" {
			iss.Author = in.Author
		}
		return nil
	})
}

// Like adds account's incentive to an issue's pool. The debit is refunded if
// the pool cannot be updated.
func (l *Ledger) Like(ctx context.Context, issueID id.IssueID, account string, incentive types.Money) (*issue.Issue, error) {
	if account == "" {
		return nil, ValidationError{Field: "author", Message: "is required"}
	}
	if !incentive.IsPositive() {
		return nil, ErrNoIncentiveProvided
	}
	if _, err := l.store.GetIssue(ctx, issueID); err != nil {
		return nil, err
	}

	now := l.now()
	debit := transaction.New(account, l.treasury, incentive, transaction.KindLike, now)
	if err := l.post(ctx, debit); err != nil {
		return nil, err
	}

	iss, err := l.mutateIssue(ctx, "like", issueID, func(iss *issue.Issue) error {
		iss.Incentive = append(iss.Incentive, issue.Contribution{
			Account:       account,
			Amount:        incentive,
			TransactionID: debit.ID,
			CreatedAt:     now,
		})
		return nil
	})
	if err != nil {
		l.refund(ctx, debit, err)
		return nil, err
	}
	return iss, nil
}

// ──────────────────────────────────────────────────
// Implementations
// ──────────────────────────────────────────────────

// PushImplementation adds an implementation under test. Its id is one more
// than the issue's highest, or 1.
func (l *Ledger) PushImplementation(ctx context.Context, issueID id.IssueID, in PushParams) (*issue.Implementation, error) {
	if in.Payment.Value.IsNegative() {
		return nil, ErrInvalidAmount
	}

	var pushed issue.Implementation
	iss, err := l.mutateIssue(ctx, "push implementation", issueID, func(iss *issue.Issue) error {
		pushed = issue.Implementation{
			ID:              iss.NextImplementationID(),
			Phase:           issue.PhaseTest,
			Payment:         in.Payment,
			Distributions:   append([]string(nil), in.Distributions...),
			Source:          in.Source,
			TestConstructor: in.TestConstructor,
			CreatedAt:       l.now(),
		}
		iss.Implementations = append(iss.Implementations, pushed)
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("implementation pushed",
		"issue_id", issueID.String(),
		"implementation_id", pushed.ID,
	)
	l.plugins.EmitImplementationPushed(ctx, iss, &pushed)
	return &pushed, nil
}

// CommitImplementation records a new test commit and optionally replaces
// payment terms, payees and the test constructor.
func (l *Ledger) CommitImplementation(ctx context.Context, issueID id.IssueID, implementationID int, in CommitParams) (*issue.Implementation, error) {
	if in.Payment != nil && in.Payment.Value.IsNegative() {
		return nil, ErrInvalidAmount
	}

	var committed issue.Implementation
	_, err := l.mutateIssue(ctx, "commit implementation", issueID, func(iss *issue.Issue) error {
		im, ok := iss.Implementation(implementationID)
		if !ok {
			return ErrUnknownImplementation
		}
		if in.TestCommit != "" {
			im.Source.TestCommit = in.TestCommit
		}
		if in.Payment != nil {
			im.Payment = *in.Payment
		}
		if len(in.Distributions) > 0 {
			im.Distributions = append([]string(nil), in.Distributions...)
		}
		if in.TestConstructor != "" {
			im.TestConstructor = in.TestConstructor
		}
		committed = *im
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &committed, nil
}

// PassImplementation promotes an implementation from TEST to PROD. Passing
// an implementation already in production changes nothing.
func (l *Ledger) PassImplementation(ctx context.Context, issueID id.IssueID, implementationID int) (*issue.Implementation, error) {
	var (
		passed   issue.Implementation
		promoted bool
	)
	iss, err := l.mutateIssue(ctx, "pass implementation", issueID, func(iss *issue.Issue) error {
		im, ok := iss.Implementation(implementationID)
		if !ok {
			return ErrUnknownImplementation
		}
		promoted = im.Phase != issue.PhaseProd
		if promoted {
			at := l.now()
			im.Phase = issue.PhaseProd
			im.PromotedAt = &at
		}
		passed = *im
		if !promoted {
			return errUnchanged
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if promoted {
		l.logger.Info("implementation promoted",
			"issue_id", issueID.String(),
			"implementation_id", implementationID,
		)
		l.plugins.EmitImplementationPromoted(ctx, iss, &passed)
	}
	return &passed, nil
}

// Prod records the production source of a promoted implementation, pays the
// issue's reward to its payees and, when the implementation charges for
// access, registers it as a billable project. Running Prod again pays
// nothing more and leaves an existing registration, including terms set
// later through RegisterProject, untouched.
func (l *Ledger) Prod(ctx context.Context, issueID id.IssueID, implementationID int, in ProdParams) (*ProdResult, error) {
	var im issue.Implementation
	_, err := l.mutateIssue(ctx, "prod", issueID, func(iss *issue.Issue) error {
		cur, ok := iss.Implementation(implementationID)
		if !ok {
			return ErrUnknownImplementation
		}
		if cur.Phase != issue.PhaseProd {
			return ErrNotInProductionPhase
		}
		if in.ProdBranch != "" {
			cur.Source.ProdBranch = in.ProdBranch
		}
		if in.ProdCommit != "" {
			cur.Source.ProdCommit = in.ProdCommit
		}
		if in.ProdConstructor != "" {
			cur.ProdConstructor = in.ProdConstructor
		}
		im = *cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &ProdResult{Implementation: &im}
	result.Reward, err = l.DistributeOnProd(ctx, issueID, implementationID)
	if err != nil {
		return nil, err
	}

	if !im.Billable() {
		return result, nil
	}
	key := issue.NewKey(issueID, implementationID)
	result.Project, err = l.store.GetProject(ctx, key)
	if errors.Is(err, ErrProjectNotRegistered) {
		result.Project, err = l.RegisterProject(ctx, key, im.Payment.Value, im.Distributions)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// errUnchanged lets a mutation skip the write.
var errUnchanged = errors.New("ledger: issue unchanged")

// mutateIssue applies fn to the latest version of an issue and writes it
// back, retrying on version conflicts.
func (l *Ledger) mutateIssue(ctx context.Context, op string, issueID id.IssueID, fn func(*issue.Issue) error) (*issue.Issue, error) {
	var iss *issue.Issue
	err := l.retry(ctx, op, func() error {
		cur, err := l.store.GetIssue(ctx, issueID)
		if err != nil {
			return err
		}
		if err := fn(cur); err != nil {
			if errors.Is(err, errUnchanged) {
				iss = cur
				return nil
			}
			return err
		}
		cur.TouchAt(l.now())
		if err := l.store.UpdateIssue(ctx, cur); err != nil {
			return err
		}
		iss = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return iss, nil
}

// refund reverses a debit whose follow-up write failed.
func (l *Ledger) refund(ctx context.Context, debit *transaction.Transaction, cause error) {
	credit := transaction.New(debit.To, debit.From, debit.Amount, transaction.KindTransfer, l.now())
	if err := l.post(ctx, credit); err != nil {
		l.logger.Error("refund failed",
			"transaction_id", debit.ID.String(),
			"account", debit.From,
			"amount", debit.Amount.String(),
			"cause", cause,
			"error", err,
		)
		return
	}
	l.logger.Warn("debit refunded",
		"transaction_id", debit.ID.String(),
		"refund_id", credit.ID.String(),
		"account", debit.From,
		"amount", debit.Amount.String(),
		"cause", cause,
	)
}
