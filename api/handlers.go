package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ara-foundation/ledger"
	"github.com/ara-foundation/ledger/escrow"
	"github.com/ara-foundation/ledger/id"
	"github.com/ara-foundation/ledger/issue"
	"github.com/ara-foundation/ledger/transaction"
	"github.com/ara-foundation/ledger/types"
)

// ──────────────────────────────────────────────────
// Issues
// ──────────────────────────────────────────────────

type updateRequest struct {
	ID string `json:"id"`
	ledger.IssueUpdate
}

type likeRequest struct {
	ID        string      `json:"id"`
	Account   string      `json:"account"`
	Incentive types.Money `json:"incentive"`
}

type pushRequest struct {
	ID string `json:"id"`
	ledger.PushParams
}

type commitRequest struct {
	ID               string `json:"id"`
	ImplementationID int    `json:"implementation_id"`
	ledger.CommitParams
}

type prodRequest struct {
	ID               string `json:"id"`
	ImplementationID int    `json:"implementation_id"`
	ledger.ProdParams
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	var req ledger.NewIssue
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	iss, err := s.ledger.AddIssue(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, iss)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	issueID, err := parseIssueID(req.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	iss, err := s.ledger.UpdateIssue(r.Context(), issueID, req.IssueUpdate)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, iss)
}

func (s *Server) handleLike(w http.ResponseWriter, r *http.Request) {
	var req likeRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	issueID, err := parseIssueID(req.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	iss, err := s.ledger.Like(r.Context(), issueID, req.Account, req.Incentive)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, iss)
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	var req pushRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	issueID, err := parseIssueID(req.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	impl, err := s.ledger.PushImplementation(r.Context(), issueID, req.PushParams)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, impl)
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	issueID, err := parseIssueID(req.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	impl, err := s.ledger.CommitImplementation(r.Context(), issueID, req.ImplementationID, req.CommitParams)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, impl)
}

func (s *Server) handlePass(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	issueID, err := parseIssueID(q.Get("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	implID, err := atoi("implementation_id", q.Get("implementation_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	impl, err := s.ledger.PassImplementation(r.Context(), issueID, implID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, impl)
}

func (s *Server) handleProd(w http.ResponseWriter, r *http.Request) {
	var req prodRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	issueID, err := parseIssueID(req.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.ledger.Prod(r.Context(), issueID, req.ImplementationID, req.ProdParams)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset, err := page(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	issues, err := s.ledger.ListIssues(r.Context(), issue.ListOpts{
		Websites: q["website"],
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if issues == nil {
		issues = []*issue.Issue{}
	}
	writeJSON(w, http.StatusOK, issues)
}

func (s *Server) handleGetIssue(w http.ResponseWriter, r *http.Request) {
	issueID, err := parseIssueID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	iss, err := s.ledger.GetIssue(r.Context(), issueID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, iss)
}

// ──────────────────────────────────────────────────
// Ledger
// ──────────────────────────────────────────────────

type transferRequest struct {
	From   string           `json:"from"`
	To     string           `json:"to"`
	Amount types.Money      `json:"amount"`
	Kind   transaction.Kind `json:"kind"`
}

type transferResponse struct {
	TransactionID id.TransactionID `json:"transaction_id"`
}

type balanceResponse struct {
	Account string      `json:"account"`
	Balance types.Money `json:"balance"`
}

type transactionsResponse struct {
	Transactions []*transaction.Transaction `json:"transactions"`
	Total        int64                      `json:"total"`
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Kind == "" {
		req.Kind = transaction.KindTransfer
	}
	txID, err := s.ledger.Transfer(r.Context(), req.From, req.To, req.Amount, req.Kind)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, transferResponse{TransactionID: txID})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	bal, err := s.ledger.Balance(r.Context(), account)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Account: account, Balance: bal})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset, err := page(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	opts := transaction.ListOpts{
		Account: q.Get("account"),
		Limit:   limit,
		Offset:  offset,
	}
	if k := q.Get("kind"); k != "" {
		kind, kerr := transaction.ParseKind(k)
		if kerr != nil {
			s.writeError(w, r, badRequest("kind", kerr.Error()))
			return
		}
		opts.Kind = kind
	}

	txs, err := s.ledger.ListTransactions(r.Context(), opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	total, err := s.ledger.CountTransactions(r.Context(), opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if txs == nil {
		txs = []*transaction.Transaction{}
	}
	writeJSON(w, http.StatusOK, transactionsResponse{Transactions: txs, Total: total})
}

// ──────────────────────────────────────────────────
// Metering escrow
// ──────────────────────────────────────────────────

type registerRequest struct {
	IssueID          string      `json:"issue_id"`
	ImplementationID int         `json:"implementation_id"`
	Price            types.Money `json:"price"`
	Distributions    []string    `json:"distributions"`
}

type userRequest struct {
	UserID string `json:"user_id"`
}

type accessResponse struct {
	Deposit *escrow.Deposit `json:"deposit"`
	Charged bool            `json:"charged"`
}

type subscribedResponse struct {
	UserID     string `json:"user_id"`
	Subscribed bool   `json:"subscribed"`
}

type amountResponse struct {
	Amount types.Money `json:"amount"`
}

func (s *Server) handleRegisterProject(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	issueID, err := parseIssueID(req.IssueID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	key := issue.NewKey(issueID, req.ImplementationID)
	p, err := s.ledger.RegisterProject(r.Context(), key, req.Price, req.Distributions)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.ledger.Projects(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if projects == nil {
		projects = []*escrow.Project{}
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	key, err := projectKey(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.ledger.GetProject(r.Context(), key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleCharge(w http.ResponseWriter, r *http.Request) {
	key, user, err := projectUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	dep, err := s.ledger.ChargeAccess(r.Context(), key, user)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, dep)
}

func (s *Server) handleAccess(w http.ResponseWriter, r *http.Request) {
	key, user, err := projectUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	dep, charged, err := s.ledger.Access(r.Context(), key, user)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accessResponse{Deposit: dep, Charged: charged})
}

func (s *Server) handleSubscribed(w http.ResponseWriter, r *http.Request) {
	key, err := projectKey(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	user := chi.URLParam(r, "user")
	ok, err := s.ledger.IsSubscribed(r.Context(), key, user)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subscribedResponse{UserID: user, Subscribed: ok})
}

func (s *Server) handleDeposits(w http.ResponseWriter, r *http.Request) {
	key, err := projectKey(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, offset, err := page(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	deps, err := s.ledger.Deposits(r.Context(), escrow.ListOpts{
		Key:    key,
		UserID: r.URL.Query().Get("user"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if deps == nil {
		deps = []*escrow.Deposit{}
	}
	writeJSON(w, http.StatusOK, deps)
}

func (s *Server) handleWithdrawable(w http.ResponseWriter, r *http.Request) {
	key, err := projectKey(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := s.ledger.WithdrawableAmount(r.Context(), key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: amount})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	key, err := projectKey(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	st, err := s.ledger.SettleWithdrawal(r.Context(), key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ──────────────────────────────────────────────────
// Parameters
// ──────────────────────────────────────────────────

func parseIssueID(s string) (id.IssueID, error) {
	if s == "" {
		return id.Nil, badRequest("id", "is required")
	}
	issueID, err := id.ParseIssueID(s)
	if err != nil {
		return id.Nil, badRequest("id", err.Error())
	}
	return issueID, nil
}

func atoi(field, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, badRequest(field, "must be an integer")
	}
	return n, nil
}

// page reads the limit and offset query parameters. Missing values are zero.
func page(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if limit, err = atoi("limit", v); err != nil {
			return 0, 0, err
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = atoi("offset", v); err != nil {
			return 0, 0, err
		}
	}
	if limit < 0 || offset < 0 {
		return 0, 0, badRequest("limit", "must not be negative")
	}
	return limit, offset, nil
}

func projectKey(r *http.Request) (issue.Key, error) {
	issueID, err := parseIssueID(chi.URLParam(r, "issue"))
	if err != nil {
		return issue.Key{}, err
	}
	implID, err := atoi("implementation_id", chi.URLParam(r, "impl"))
	if err != nil {
		return issue.Key{}, err
	}
	return issue.NewKey(issueID, implID), nil
}

func projectUser(r *http.Request) (issue.Key, string, error) {
	key, err := projectKey(r)
	if err != nil {
		return issue.Key{}, "", err
	}
	var req userRequest
	if err := decode(r, &req); err != nil {
		return issue.Key{}, "", err
	}
	if req.UserID == "" {
		return issue.Key{}, "", badRequest("user_id", "is required")
	}
	return key, req.UserID, nil
}
