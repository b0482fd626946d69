package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/ara-foundation/ledger"
	"github.com/ara-foundation/ledger/escrow"
	"github.com/ara-foundation/ledger/id"
	"github.com/ara-foundation/ledger/issue"
	"github.com/ara-foundation/ledger/reward"
	ledgerstore "github.com/ara-foundation/ledger/store"
	"github.com/ara-foundation/ledger/transaction"
	"github.com/ara-foundation/ledger/types"
)

// Collection name constants.
const (
	colTransactions = "ledger_transactions"
	colBalances     = "ledger_balances"
	colIssues       = "ledger_issues"
	colRewards      = "ledger_rewards"
	colProjects     = "ledger_projects"
	colDeposits     = "ledger_deposits"
)

// codeWriteConflict is the server error code for a write conflict inside
// a multi-document transaction.
const codeWriteConflict = 112

// compile-time interface check
var _ ledgerstore.Store = (*Store)(nil)

// Store implements store.Store on MongoDB. Every unit of work runs in a
// session transaction, which requires a replica set or sharded cluster.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Open connects to the deployment at uri and uses the named database.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("ledger/mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("ledger/mongo: ping: %w", err)
	}
	return New(client, database), nil
}

// New wraps an existing client.
func New(client *mongo.Client, database string) *Store {
	return &Store{client: client, db: client.Database(database)}
}

// DB returns the underlying database for direct access.
func (s *Store) DB() *mongo.Database { return s.db }

// Migrate creates the ledger collections and their indexes.
func (s *Store) Migrate(ctx context.Context) error {
	existing, err := s.db.ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return fmt.Errorf("ledger/mongo: list collections: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, name := range existing {
		have[name] = true
	}
	// Collections must exist before a transaction writes to them on older
	// servers, so create them up front.
	for _, col := range []string{colTransactions, colBalances, colIssues, colRewards, colProjects, colDeposits} {
		if have[col] {
			continue
		}
		if err := s.db.CreateCollection(ctx, col); err != nil && !isNamespaceExists(err) {
			return fmt.Errorf("ledger/mongo: create %s: %w", col, err)
		}
	}

	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		_, err := s.db.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("ledger/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}

// unit runs fn inside one session transaction. The driver retries fn on
// transient transaction errors; conflicts that outlive those retries
// surface as ledger.ErrConcurrentModification.
func (s *Store) unit(ctx context.Context, fn func(ctx context.Context) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("ledger/mongo: start session: %w", err)
	}
	defer sess.EndSession(context.WithoutCancel(ctx))

	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return mapError(err)
}

// ==================== Transaction Store ====================

func (s *Store) Append(ctx context.Context, p transaction.Policy, txs ...*transaction.Transaction) error {
	return s.unit(ctx, func(ctx context.Context) error {
		return s.post(ctx, p, txs)
	})
}

func (s *Store) Balance(ctx context.Context, p transaction.Policy, account string) (*transaction.Balance, error) {
	var m balanceModel
	err := s.db.Collection(colBalances).FindOne(ctx, bson.M{"_id": account}).Decode(&m)
	if isNoDocuments(err) {
		return &transaction.Balance{Account: account, Amount: p.StartingBalance}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger/mongo: get balance: %w", mapError(err))
	}
	return &transaction.Balance{Account: account, Amount: types.Minor(m.Balance), UpdatedAt: m.UpdatedAt.UTC()}, nil
}

func (s *Store) ListTransactions(ctx context.Context, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cur, err := s.db.Collection(colTransactions).Find(ctx, transactionFilter(opts), findOpts)
	if err != nil {
		return nil, fmt.Errorf("ledger/mongo: list transactions: %w", err)
	}
	var models []transactionModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("ledger/mongo: list transactions: %w", err)
	}

	result := make([]*transaction.Transaction, 0, len(models))
	for i := range models {
		tx, err := fromTransactionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	return result, nil
}

func (s *Store) CountTransactions(ctx context.Context, opts transaction.ListOpts) (int64, error) {
	n, err := s.db.Collection(colTransactions).CountDocuments(ctx, transactionFilter(opts))
	if err != nil {
		return 0, fmt.Errorf("ledger/mongo: count transactions: %w", err)
	}
	return n, nil
}

// post reads the balance of every touched account in sorted order, checks
// txs against them and writes the new balances conditionally on the values
// read, so a concurrent writer makes the unit fail instead of losing an
// update.
func (s *Store) post(ctx context.Context, p transaction.Policy, txs []*transaction.Transaction) error {
	balances := make(map[string]types.Money)
	before := make(map[string]*int64)
	col := s.db.Collection(colBalances)

	for _, acc := range transaction.Accounts(txs...) {
		var m balanceModel
		err := col.FindOne(ctx, bson.M{"_id": acc}).Decode(&m)
		switch {
		case isNoDocuments(err):
			balances[acc] = p.StartingBalance
		case err != nil:
			return err
		default:
			balances[acc] = types.Minor(m.Balance)
			before[acc] = &m.Balance
		}
	}

	if rejected := transaction.Post(p, balances, txs...); rejected != nil {
		return ledger.RejectionError(rejected)
	}

	now := time.Now().UTC()
	for acc, amount := range balances {
		prev, ok := before[acc]
		if !ok {
			if _, err := col.InsertOne(ctx, balanceModel{Account: acc, Balance: amount.Amount, UpdatedAt: now}); err != nil {
				if mongo.IsDuplicateKeyError(err) {
					return ledger.ErrConcurrentModification
				}
				return err
			}
			continue
		}
		res, err := col.UpdateOne(ctx,
			bson.M{"_id": acc, "balance": *prev},
			bson.M{"$inc": bson.M{"balance": amount.Amount - *prev}, "$set": bson.M{"updated_at": now}},
		)
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return ledger.ErrConcurrentModification
		}
	}

	docs := make([]any, len(txs))
	for i, tx := range txs {
		docs[i] = toTransactionModel(tx)
	}
	if len(docs) > 0 {
		if _, err := s.db.Collection(colTransactions).InsertMany(ctx, docs); err != nil {
			return err
		}
	}
	return nil
}

func transactionFilter(opts transaction.ListOpts) bson.M {
	filter := bson.M{}
	if opts.Account != "" {
		filter["$or"] = bson.A{bson.M{"from": opts.Account}, bson.M{"to": opts.Account}}
	}
	if opts.Kind != "" {
		filter["kind"] = string(opts.Kind)
	}
	return filter
}

// ==================== Issue Store ====================

func (s *Store) CreateIssue(ctx context.Context, i *issue.Issue) error {
	m := toIssueModel(i)
	m.Version = 1
	if _, err := s.db.Collection(colIssues).InsertOne(ctx, m); err != nil {
		return fmt.Errorf("ledger/mongo: create issue: %w", mapError(err))
	}
	i.Version = 1
	return nil
}

func (s *Store) GetIssue(ctx context.Context, issueID id.IssueID) (*issue.Issue, error) {
	var m issueModel
	err := s.db.Collection(colIssues).FindOne(ctx, bson.M{"_id": issueID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, ledger.ErrIssueNotFound
		}
		return nil, fmt.Errorf("ledger/mongo: get issue: %w", err)
	}
	return fromIssueModel(&m)
}

func (s *Store) UpdateIssue(ctx context.Context, i *issue.Issue) error {
	m := toIssueModel(i)
	res, err := s.db.Collection(colIssues).UpdateOne(ctx,
		bson.M{"_id": m.ID, "version": m.Version},
		bson.M{
			"$set": bson.M{
				"title":           m.Title,
				"document":        m.Document,
				"website":         m.Website,
				"author":          m.Author,
				"incentive":       m.Incentive,
				"implementations": m.Implementations,
				"updated_at":      m.UpdatedAt,
			},
			"$inc": bson.M{"version": 1},
		},
	)
	if err != nil {
		return fmt.Errorf("ledger/mongo: update issue: %w", mapError(err))
	}
	if res.MatchedCount == 0 {
		n, err := s.db.Collection(colIssues).CountDocuments(ctx, bson.M{"_id": m.ID})
		if err != nil {
			return fmt.Errorf("ledger/mongo: update issue: %w", err)
		}
		if n == 0 {
			return ledger.ErrIssueNotFound
		}
		return ledger.ErrConcurrentModification
	}
	i.Version++
	return nil
}

func (s *Store) ListIssues(ctx context.Context, opts issue.ListOpts) ([]*issue.Issue, error) {
	filter := bson.M{}
	if len(opts.Websites) > 0 {
		filter["website"] = bson.M{"$in": opts.Websites}
	}
	findOpts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cur, err := s.db.Collection(colIssues).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("ledger/mongo: list issues: %w", err)
	}
	var models []issueModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("ledger/mongo: list issues: %w", err)
	}

	result := make([]*issue.Issue, 0, len(models))
	for i := range models {
		iss, err := fromIssueModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, iss)
	}
	return result, nil
}

// ==================== Reward Store ====================

func (s *Store) Distribute(ctx context.Context, p transaction.Policy, r *reward.Reward, payouts []*transaction.Transaction) (bool, error) {
	m := toRewardModel(r)

	var applied bool
	err := s.unit(ctx, func(ctx context.Context) error {
		applied = false
		col := s.db.Collection(colRewards)
		n, err := col.CountDocuments(ctx, bson.M{"_id": m.ID})
		if err != nil || n > 0 {
			return err
		}
		if _, err := col.InsertOne(ctx, m); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return ledger.ErrConcurrentModification
			}
			return err
		}
		applied = true
		return s.post(ctx, p, payouts)
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (s *Store) GetReward(ctx context.Context, key issue.Key) (*reward.Reward, error) {
	var m rewardModel
	err := s.db.Collection(colRewards).FindOne(ctx, bson.M{"_id": key.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("ledger/mongo: get reward: %w", err)
	}
	return fromRewardModel(&m)
}

// ==================== Escrow Store ====================

func (s *Store) UpsertProject(ctx context.Context, p *escrow.Project) error {
	var m projectModel
	err := s.db.Collection(colProjects).FindOneAndUpdate(ctx,
		bson.M{"_id": p.Key.String()},
		bson.M{
			"$set": bson.M{
				"issue_id":          p.IssueID.String(),
				"implementation_id": p.ImplementationID,
				"price":             p.Price.Amount,
				"distributions":     nonNil(p.Distributions),
				"updated_at":        p.UpdatedAt,
			},
			"$setOnInsert": bson.M{"created_at": p.CreatedAt},
		},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&m)
	if err != nil {
		return fmt.Errorf("ledger/mongo: upsert project: %w", mapError(err))
	}
	p.CreatedAt = m.CreatedAt.UTC()
	return nil
}

func (s *Store) GetProject(ctx context.Context, key issue.Key) (*escrow.Project, error) {
	return s.getProject(ctx, key)
}

func (s *Store) getProject(ctx context.Context, key issue.Key) (*escrow.Project, error) {
	var m projectModel
	err := s.db.Collection(colProjects).FindOne(ctx, bson.M{"_id": key.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, ledger.ErrProjectNotRegistered
		}
		return nil, fmt.Errorf("ledger/mongo: get project: %w", err)
	}
	return fromProjectModel(&m)
}

func (s *Store) ListProjects(ctx context.Context) ([]*escrow.Project, error) {
	cur, err := s.db.Collection(colProjects).Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "issue_id", Value: 1}, {Key: "implementation_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("ledger/mongo: list projects: %w", err)
	}
	var models []projectModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("ledger/mongo: list projects: %w", err)
	}

	result := make([]*escrow.Project, 0, len(models))
	for i := range models {
		p, err := fromProjectModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, nil
}

func (s *Store) Charge(ctx context.Context, p transaction.Policy, key escrow.DepositKey, now time.Time, window time.Duration, build escrow.ChargeFunc) (*escrow.Deposit, error) {
	var d *escrow.Deposit
	err := s.unit(ctx, func(ctx context.Context) error {
		proj, err := s.getProject(ctx, key.Key)
		if err != nil {
			return err
		}
		charge, err := build(proj)
		if err != nil {
			return err
		}

		// Posting first writes the payer's balance document, so concurrent
		// charges of the same user conflict before the latest window is read.
		if err := s.post(ctx, p, []*transaction.Transaction{charge}); err != nil {
			return err
		}

		var latestEnd time.Time
		latest, err := s.latestDeposit(ctx, key)
		switch {
		case err == nil:
			latestEnd = latest.EndTime
		case !errors.Is(err, ledger.ErrNotFound):
			return err
		}
		start, end := escrow.NextWindow(latestEnd, now, window)

		d = escrow.NewDeposit(key, charge, start, end)
		_, err = s.db.Collection(colDeposits).InsertOne(ctx, toDepositModel(d))
		return err
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Store) LatestDeposit(ctx context.Context, key escrow.DepositKey) (*escrow.Deposit, error) {
	return s.latestDeposit(ctx, key)
}

func (s *Store) latestDeposit(ctx context.Context, key escrow.DepositKey) (*escrow.Deposit, error) {
	var m depositModel
	err := s.db.Collection(colDeposits).FindOne(ctx,
		bson.M{"issue_id": key.IssueID.String(), "implementation_id": key.ImplementationID, "user_id": key.UserID},
		options.FindOne().SetSort(bson.D{{Key: "end_time", Value: -1}}),
	).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("ledger/mongo: latest deposit: %w", err)
	}
	return fromDepositModel(&m)
}

func (s *Store) ListDeposits(ctx context.Context, opts escrow.ListOpts) ([]*escrow.Deposit, error) {
	filter := bson.M{"issue_id": opts.Key.IssueID.String(), "implementation_id": opts.Key.ImplementationID}
	if opts.UserID != "" {
		filter["user_id"] = opts.UserID
	}
	findOpts := options.Find().SetSort(bson.D{{Key: "start_time", Value: 1}, {Key: "_id", Value: 1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}
	return s.findDeposits(ctx, filter, findOpts)
}

func (s *Store) PendingDeposits(ctx context.Context, key issue.Key, now time.Time) ([]*escrow.Deposit, error) {
	return s.pendingDeposits(ctx, key, now)
}

func (s *Store) Settle(ctx context.Context, p transaction.Policy, key issue.Key, now time.Time, build escrow.SettleFunc) (*escrow.Settlement, error) {
	var settlement *escrow.Settlement
	err := s.unit(ctx, func(ctx context.Context) error {
		settlement = nil
		proj, err := s.getProject(ctx, key)
		if err != nil {
			return err
		}
		pending, err := s.pendingDeposits(ctx, key, now)
		if err != nil || len(pending) == 0 {
			return err
		}

		payouts, err := build(proj, pending)
		if err != nil || len(payouts) == 0 {
			return err
		}
		if err := s.post(ctx, p, payouts); err != nil {
			return err
		}

		st := escrow.NewSettlement(key, pending, payouts, now)
		st.MarkSettled(pending)
		ids := make([]string, len(pending))
		for i, d := range pending {
			ids[i] = d.ID.String()
		}
		res, err := s.db.Collection(colDeposits).UpdateMany(ctx,
			bson.M{"_id": bson.M{"$in": ids}, "settled": false},
			bson.M{"$set": bson.M{"settled": true, "settled_at": st.SettledAt, "settlement_id": st.ID.String()}},
		)
		if err != nil {
			return err
		}
		if res.ModifiedCount != int64(len(pending)) {
			return ledger.ErrConcurrentModification
		}
		settlement = st
		return nil
	})
	if err != nil {
		return nil, err
	}
	return settlement, nil
}

func (s *Store) pendingDeposits(ctx context.Context, key issue.Key, now time.Time) ([]*escrow.Deposit, error) {
	return s.findDeposits(ctx,
		bson.M{
			"issue_id":          key.IssueID.String(),
			"implementation_id": key.ImplementationID,
			"settled":           false,
			"end_time":          bson.M{"$lte": now},
		},
		options.Find().SetSort(bson.D{{Key: "start_time", Value: 1}, {Key: "_id", Value: 1}}),
	)
}

func (s *Store) findDeposits(ctx context.Context, filter bson.M, opts *options.FindOptionsBuilder) ([]*escrow.Deposit, error) {
	cur, err := s.db.Collection(colDeposits).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("ledger/mongo: list deposits: %w", err)
	}
	var models []depositModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("ledger/mongo: list deposits: %w", err)
	}

	result := make([]*escrow.Deposit, 0, len(models))
	for i := range models {
		d, err := fromDepositModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, nil
}

// ==================== Helpers ====================

func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colTransactions: {
			{Keys: bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}}},
			{Keys: bson.D{{Key: "from", Value: 1}}},
			{Keys: bson.D{{Key: "to", Value: 1}}},
			{Keys: bson.D{{Key: "kind", Value: 1}}},
		},
		colIssues: {
			{Keys: bson.D{{Key: "website", Value: 1}}},
		},
		colRewards: {
			{
				Keys:    bson.D{{Key: "issue_id", Value: 1}, {Key: "implementation_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colProjects: {
			{Keys: bson.D{{Key: "issue_id", Value: 1}, {Key: "implementation_id", Value: 1}}},
		},
		colDeposits: {
			{Keys: bson.D{
				{Key: "issue_id", Value: 1},
				{Key: "implementation_id", Value: 1},
				{Key: "user_id", Value: 1},
				{Key: "end_time", Value: -1},
			}},
			{Keys: bson.D{
				{Key: "issue_id", Value: 1},
				{Key: "implementation_id", Value: 1},
				{Key: "settled", Value: 1},
				{Key: "end_time", Value: 1},
			}},
		},
	}
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

func isNamespaceExists(err error) bool {
	var se mongo.ServerError
	return errors.As(err, &se) && se.HasErrorCode(48)
}

// mapError translates driver errors into ledger sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", ledger.ErrAlreadyExists, err)
	}
	var se mongo.ServerError
	if errors.As(err, &se) && (se.HasErrorLabel("TransientTransactionError") || se.HasErrorCode(codeWriteConflict)) {
		return fmt.Errorf("%w: %v", ledger.ErrConcurrentModification, err)
	}
	return err
}
