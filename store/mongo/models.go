package mongo

import (
	"fmt"
	"time"

	"github.com/ara-foundation/ledger/escrow"
	"github.com/ara-foundation/ledger/id"
	"github.com/ara-foundation/ledger/issue"
	"github.com/ara-foundation/ledger/reward"
	"github.com/ara-foundation/ledger/transaction"
	"github.com/ara-foundation/ledger/types"
)

// ==================== Transaction models ====================

type transactionModel struct {
	ID        string    `bson:"_id"`
	From      string    `bson:"from"`
	To        string    `bson:"to"`
	Amount    int64     `bson:"amount"`
	Kind      string    `bson:"kind"`
	Timestamp time.Time `bson:"timestamp"`
}

func toTransactionModel(tx *transaction.Transaction) *transactionModel {
	return &transactionModel{
		ID:        tx.ID.String(),
		From:      tx.From,
		To:        tx.To,
		Amount:    tx.Amount.Amount,
		Kind:      string(tx.Kind),
		Timestamp: tx.Timestamp,
	}
}

func fromTransactionModel(m *transactionModel) (*transaction.Transaction, error) {
	txID, err := id.ParseTransactionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("ledger/mongo: parse transaction id: %w", err)
	}
	return &transaction.Transaction{
		ID:        txID,
		From:      m.From,
		To:        m.To,
		Amount:    types.Minor(m.Amount),
		Kind:      transaction.Kind(m.Kind),
		Timestamp: m.Timestamp.UTC(),
	}, nil
}

type balanceModel struct {
	Account   string    `bson:"_id"`
	Balance   int64     `bson:"balance"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// ==================== Issue models ====================

type issueModel struct {
	ID              string                `bson:"_id"`
	Title           string                `bson:"title"`
	Document        string                `bson:"document"`
	Website         string                `bson:"website"`
	Author          string                `bson:"author"`
	Incentive       []contributionModel   `bson:"incentive"`
	Implementations []implementationModel `bson:"implementations"`
	Version         int64                 `bson:"version"`
	CreatedAt       time.Time             `bson:"created_at"`
	UpdatedAt       time.Time             `bson:"updated_at"`
}

type contributionModel struct {
	Account       string    `bson:"account"`
	Amount        int64     `bson:"amount"`
	TransactionID string    `bson:"transaction_id"`
	CreatedAt     time.Time `bson:"created_at"`
}

type implementationModel struct {
	ID              int        `bson:"id"`
	Phase           string     `bson:"phase"`
	PaymentType     string     `bson:"payment_type"`
	PaymentValue    int64      `bson:"payment_value"`
	Distributions   []string   `bson:"distributions"`
	SourceURL       string     `bson:"source_url"`
	TestBranch      string     `bson:"test_branch,omitempty"`
	TestCommit      string     `bson:"test_commit,omitempty"`
	ProdBranch      string     `bson:"prod_branch,omitempty"`
	ProdCommit      string     `bson:"prod_commit,omitempty"`
	TestConstructor string     `bson:"test_constructor,omitempty"`
	ProdConstructor string     `bson:"prod_constructor,omitempty"`
	CreatedAt       time.Time  `bson:"created_at"`
	PromotedAt      *time.Time `bson:"promoted_at,omitempty"`
}

func toIssueModel(i *issue.Issue) *issueModel {
	m := &issueModel{
		ID:              i.ID.String(),
		Title:           i.Title,
		Document:        i.Document,
		Website:         i.Website,
		Author:          i.Author,
		Incentive:       make([]contributionModel, 0, len(i.Incentive)),
		Implementations: make([]implementationModel, 0, len(i.Implementations)),
		Version:         i.Version,
		CreatedAt:       i.CreatedAt,
		UpdatedAt:       i.UpdatedAt,
	}
	for _, c := range i.Incentive {
		m.Incentive = append(m.Incentive, contributionModel{
			Account:       c.Account,
			Amount:        c.Amount.Amount,
			TransactionID: c.TransactionID.String(),
			CreatedAt:     c.CreatedAt,
		})
	}
	for _, im := range i.Implementations {
		m.Implementations = append(m.Implementations, implementationModel{
			ID:              im.ID,
			Phase:           string(im.Phase),
			PaymentType:     im.Payment.Type,
			PaymentValue:    im.Payment.Value.Amount,
			Distributions:   nonNil(im.Distributions),
			SourceURL:       im.Source.URL,
			TestBranch:      im.Source.TestBranch,
			TestCommit:      im.Source.TestCommit,
			ProdBranch:      im.Source.ProdBranch,
			ProdCommit:      im.Source.ProdCommit,
			TestConstructor: im.TestConstructor,
			ProdConstructor: im.ProdConstructor,
			CreatedAt:       im.CreatedAt,
			PromotedAt:      im.PromotedAt,
		})
	}
	return m
}

func fromIssueModel(m *issueModel) (*issue.Issue, error) {
	issueID, err := id.ParseIssueID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("ledger/mongo: parse issue id: %w", err)
	}
	i := &issue.Issue{
		Entity:          types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		ID:              issueID,
		Title:           m.Title,
		Document:        m.Document,
		Website:         m.Website,
		Author:          m.Author,
		Incentive:       make([]issue.Contribution, 0, len(m.Incentive)),
		Implementations: make([]issue.Implementation, 0, len(m.Implementations)),
		Version:         m.Version,
	}
	for _, c := range m.Incentive {
		txID, err := id.ParseTransactionID(c.TransactionID)
		if err != nil {
			return nil, fmt.Errorf("ledger/mongo: parse contribution: %w", err)
		}
		i.Incentive = append(i.Incentive, issue.Contribution{
			Account:       c.Account,
			Amount:        types.Minor(c.Amount),
			TransactionID: txID,
			CreatedAt:     c.CreatedAt.UTC(),
		})
	}
	for _, im := range m.Implementations {
		var promoted *time.Time
		if im.PromotedAt != nil {
			at := im.PromotedAt.UTC()
			promoted = &at
		}
		i.Implementations = append(i.Implementations, issue.Implementation{
			ID:            im.ID,
			Phase:         issue.Phase(im.Phase),
			Payment:       issue.Payment{Type: im.PaymentType, Value: types.Minor(im.PaymentValue)},
			Distributions: im.Distributions,
			Source: issue.Source{
				URL:        im.SourceURL,
				TestBranch: im.TestBranch,
				TestCommit: im.TestCommit,
				ProdBranch: im.ProdBranch,
				ProdCommit: im.ProdCommit,
			},
			TestConstructor: im.TestConstructor,
			ProdConstructor: im.ProdConstructor,
			CreatedAt:       im.CreatedAt.UTC(),
			PromotedAt:      promoted,
		})
	}
	return i, nil
}

// ==================== Reward models ====================

type rewardModel struct {
	ID               string    `bson:"_id"`
	IssueID          string    `bson:"issue_id"`
	ImplementationID int       `bson:"implementation_id"`
	Amount           int64     `bson:"amount"`
	Payees           []string  `bson:"payees"`
	TransactionIDs   []string  `bson:"transaction_ids"`
	CreatedAt        time.Time `bson:"created_at"`
}

func toRewardModel(r *reward.Reward) *rewardModel {
	m := &rewardModel{
		ID:               r.Key.String(),
		IssueID:          r.IssueID.String(),
		ImplementationID: r.ImplementationID,
		Amount:           r.Amount.Amount,
		Payees:           nonNil(r.Payees),
		TransactionIDs:   make([]string, 0, len(r.TransactionIDs)),
		CreatedAt:        r.CreatedAt,
	}
	for _, txID := range r.TransactionIDs {
		m.TransactionIDs = append(m.TransactionIDs, txID.String())
	}
	return m
}

func fromRewardModel(m *rewardModel) (*reward.Reward, error) {
	issueID, err := id.ParseIssueID(m.IssueID)
	if err != nil {
		return nil, fmt.Errorf("ledger/mongo: parse reward: %w", err)
	}
	r := &reward.Reward{
		Key:       issue.NewKey(issueID, m.ImplementationID),
		Amount:    types.Minor(m.Amount),
		Payees:    m.Payees,
		CreatedAt: m.CreatedAt.UTC(),
	}
	for _, s := range m.TransactionIDs {
		txID, err := id.ParseTransactionID(s)
		if err != nil {
			return nil, fmt.Errorf("ledger/mongo: parse reward: %w", err)
		}
		r.TransactionIDs = append(r.TransactionIDs, txID)
	}
	return r, nil
}

// ==================== Escrow models ====================

type projectModel struct {
	ID               string    `bson:"_id"`
	IssueID          string    `bson:"issue_id"`
	ImplementationID int       `bson:"implementation_id"`
	Price            int64     `bson:"price"`
	Distributions    []string  `bson:"distributions"`
	CreatedAt        time.Time `bson:"created_at"`
	UpdatedAt        time.Time `bson:"updated_at"`
}

func fromProjectModel(m *projectModel) (*escrow.Project, error) {
	issueID, err := id.ParseIssueID(m.IssueID)
	if err != nil {
		return nil, fmt.Errorf("ledger/mongo: parse project: %w", err)
	}
	return &escrow.Project{
		Entity:        types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		Key:           issue.NewKey(issueID, m.ImplementationID),
		Price:         types.Minor(m.Price),
		Distributions: m.Distributions,
	}, nil
}

type depositModel struct {
	ID               string     `bson:"_id"`
	IssueID          string     `bson:"issue_id"`
	ImplementationID int        `bson:"implementation_id"`
	UserID           string     `bson:"user_id"`
	StartTime        time.Time  `bson:"start_time"`
	EndTime          time.Time  `bson:"end_time"`
	Amount           int64      `bson:"amount"`
	TransactionID    string     `bson:"transaction_id"`
	Settled          bool       `bson:"settled"`
	SettledAt        *time.Time `bson:"settled_at,omitempty"`
	SettlementID     string     `bson:"settlement_id,omitempty"`
}

func toDepositModel(d *escrow.Deposit) *depositModel {
	return &depositModel{
		ID:               d.ID.String(),
		IssueID:          d.IssueID.String(),
		ImplementationID: d.ImplementationID,
		UserID:           d.UserID,
		StartTime:        d.StartTime,
		EndTime:          d.EndTime,
		Amount:           d.Amount.Amount,
		TransactionID:    d.TransactionID.String(),
		Settled:          d.Settled,
		SettledAt:        d.SettledAt,
		SettlementID:     d.SettlementID.String(),
	}
}

func fromDepositModel(m *depositModel) (*escrow.Deposit, error) {
	depositID, err := id.ParseDepositID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("ledger/mongo: parse deposit: %w", err)
	}
	issueID, err := id.ParseIssueID(m.IssueID)
	if err != nil {
		return nil, fmt.Errorf("ledger/mongo: parse deposit: %w", err)
	}
	txID, err := id.ParseTransactionID(m.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("ledger/mongo: parse deposit: %w", err)
	}
	d := &escrow.Deposit{
		ID:            depositID,
		DepositKey:    escrow.NewDepositKey(issue.NewKey(issueID, m.ImplementationID), m.UserID),
		StartTime:     m.StartTime.UTC(),
		EndTime:       m.EndTime.UTC(),
		Amount:        types.Minor(m.Amount),
		TransactionID: txID,
		Settled:       m.Settled,
	}
	if m.SettledAt != nil {
		at := m.SettledAt.UTC()
		d.SettledAt = &at
	}
	if m.SettlementID != "" {
		if d.SettlementID, err = id.ParseSettlementID(m.SettlementID); err != nil {
			return nil, fmt.Errorf("ledger/mongo: parse deposit: %w", err)
		}
	}
	return d, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
