package postgres

import (
	"encoding/json"
	"time"

	"github.com/ara-foundation/ledger/escrow"
	"github.com/ara-foundation/ledger/id"
	"github.com/ara-foundation/ledger/issue"
	"github.com/ara-foundation/ledger/reward"
	"github.com/ara-foundation/ledger/transaction"
	"github.com/ara-foundation/ledger/types"
)

// scanner is satisfied by pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// ==================== Transaction models ====================

const transactionColumns = `id, from_account, to_account, amount, kind, occurred_at`

type transactionModel struct {
	ID         string
	From       string
	To         string
	Amount     int64
	Kind       string
	OccurredAt time.Time
}

func (m *transactionModel) scan(row scanner) error {
	return row.Scan(&m.ID, &m.From, &m.To, &m.Amount, &m.Kind, &m.OccurredAt)
}

func fromTransactionModel(m *transactionModel) (*transaction.Transaction, error) {
	txID, err := id.ParseTransactionID(m.ID)
	if err != nil {
		return nil, err
	}
	return &transaction.Transaction{
		ID:        txID,
		From:      m.From,
		To:        m.To,
		Amount:    types.Minor(m.Amount),
		Kind:      transaction.Kind(m.Kind),
		Timestamp: m.OccurredAt.UTC(),
	}, nil
}

// ==================== Issue models ====================

const issueColumns = `id, title, document, website, author, incentive, implementations, version, created_at, updated_at`

type issueModel struct {
	ID              string
	Title           string
	Document        string
	Website         string
	Author          string
	Incentive       json.RawMessage
	Implementations json.RawMessage
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (m *issueModel) scan(row scanner) error {
	return row.Scan(&m.ID, &m.Title, &m.Document, &m.Website, &m.Author,
		&m.Incentive, &m.Implementations, &m.Version, &m.CreatedAt, &m.UpdatedAt)
}

func toIssueModel(i *issue.Issue) (*issueModel, error) {
	incentive, err := json.Marshal(nonNil(i.Incentive))
	if err != nil {
		return nil, err
	}
	implementations, err := json.Marshal(nonNil(i.Implementations))
	if err != nil {
		return nil, err
	}
	return &issueModel{
		ID:              i.ID.String(),
		Title:           i.Title,
		Document:        i.Document,
		Website:         i.Website,
		Author:          i.Author,
		Incentive:       incentive,
		Implementations: implementations,
		Version:         i.Version,
		CreatedAt:       i.CreatedAt,
		UpdatedAt:       i.UpdatedAt,
	}, nil
}

func fromIssueModel(m *issueModel) (*issue.Issue, error) {
	issueID, err := id.ParseIssueID(m.ID)
	if err != nil {
		return nil, err
	}
	i := &issue.Issue{
		Entity:   types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		ID:       issueID,
		Title:    m.Title,
		Document: m.Document,
		Website:  m.Website,
		Author:   m.Author,
		Version:  m.Version,
	}
	if err := json.Unmarshal(m.Incentive, &i.Incentive); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(m.Implementations, &i.Implementations); err != nil {
		return nil, err
	}
	return i, nil
}

// ==================== Reward models ====================

type rewardModel struct {
	IssueID          string
	ImplementationID int
	Amount           int64
	Payees           json.RawMessage
	TransactionIDs   json.RawMessage
	CreatedAt        time.Time
}

func toRewardModel(r *reward.Reward) (*rewardModel, error) {
	payees, err := json.Marshal(nonNil(r.Payees))
	if err != nil {
		return nil, err
	}
	txIDs, err := json.Marshal(nonNil(r.TransactionIDs))
	if err != nil {
		return nil, err
	}
	return &rewardModel{
		IssueID:          r.IssueID.String(),
		ImplementationID: r.ImplementationID,
		Amount:           r.Amount.Amount,
		Payees:           payees,
		TransactionIDs:   txIDs,
		CreatedAt:        r.CreatedAt,
	}, nil
}

func fromRewardModel(m *rewardModel) (*reward.Reward, error) {
	issueID, err := id.ParseIssueID(m.IssueID)
	if err != nil {
		return nil, err
	}
	r := &reward.Reward{
		Key:       issue.NewKey(issueID, m.ImplementationID),
		Amount:    types.Minor(m.Amount),
		CreatedAt: m.CreatedAt.UTC(),
	}
	if err := json.Unmarshal(m.Payees, &r.Payees); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(m.TransactionIDs, &r.TransactionIDs); err != nil {
		return nil, err
	}
	return r, nil
}

// ==================== Escrow models ====================

const projectColumns = `issue_id, implementation_id, price, distributions, created_at, updated_at`

type projectModel struct {
	IssueID          string
	ImplementationID int
	Price            int64
	Distributions    json.RawMessage
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (m *projectModel) scan(row scanner) error {
	return row.Scan(&m.IssueID, &m.ImplementationID, &m.Price, &m.Distributions, &m.CreatedAt, &m.UpdatedAt)
}

func fromProjectModel(m *projectModel) (*escrow.Project, error) {
	issueID, err := id.ParseIssueID(m.IssueID)
	if err != nil {
		return nil, err
	}
	p := &escrow.Project{
		Entity: types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		Key:    issue.NewKey(issueID, m.ImplementationID),
		Price:  types.Minor(m.Price),
	}
	if err := json.Unmarshal(m.Distributions, &p.Distributions); err != nil {
		return nil, err
	}
	return p, nil
}

const depositColumns = `id, issue_id, implementation_id, user_id, start_time, end_time, amount, transaction_id, settled, settled_at, settlement_id`

type depositModel struct {
	ID               string
	IssueID          string
	ImplementationID int
	UserID           string
	StartTime        time.Time
	EndTime          time.Time
	Amount           int64
	TransactionID    string
	Settled          bool
	SettledAt        *time.Time
	SettlementID     *string
}

func (m *depositModel) scan(row scanner) error {
	return row.Scan(&m.ID, &m.IssueID, &m.ImplementationID, &m.UserID, &m.StartTime, &m.EndTime,
		&m.Amount, &m.TransactionID, &m.Settled, &m.SettledAt, &m.SettlementID)
}

func fromDepositModel(m *depositModel) (*escrow.Deposit, error) {
	depositID, err := id.ParseDepositID(m.ID)
	if err != nil {
		return nil, err
	}
	issueID, err := id.ParseIssueID(m.IssueID)
	if err != nil {
		return nil, err
	}
	txID, err := id.ParseTransactionID(m.TransactionID)
	if err != nil {
		return nil, err
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
	if m.SettlementID != nil {
		if d.SettlementID, err = id.ParseSettlementID(*m.SettlementID); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// nonNil keeps JSONB columns as arrays rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
