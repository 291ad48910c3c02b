package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/holiman/uint256"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/ledger"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/models"
)

type accountView struct {
	Holder        string     `json:"holder"`
	Balance       string     `json:"balance"`
	Principal     string     `json:"principal"`
	Rate          string     `json:"rate"`
	LastAccrualAt *time.Time `json:"last_accrual_at,omitempty"`
}

type entryView struct {
	ID          string    `json:"id"`
	OperationID string    `json:"operation_id"`
	Holder      string    `json:"holder"`
	Kind        string    `json:"kind"`
	Amount      string    `json:"amount"`
	Delta       string    `json:"delta"`
	Rate        string    `json:"rate"`
	CreatedAt   time.Time `json:"created_at"`
}

type amountRequest struct {
	Amount string `json:"amount" binding:"required"`
}

type transferRequest struct {
	To     string `json:"to" binding:"required"`
	Amount string `json:"amount" binding:"required"`
}

type rateRequest struct {
	Rate string `json:"rate" binding:"required"`
}

type capabilityRequest struct {
	Account    string `json:"account" binding:"required"`
	Capability string `json:"capability" binding:"required"`
}

type fundRequest struct {
	Account string `json:"account" binding:"required"`
	Amount  string `json:"amount" binding:"required"`
}

type bridgeSendRequest struct {
	Destination string `json:"destination" binding:"required"`
	Receiver    string `json:"receiver" binding:"required"`
	Amount      string `json:"amount" binding:"required"`
}

type bridgeReceiveRequest struct {
	Message models.BridgeMessage `json:"message"`
}

func (s *Server) accountView(c *gin.Context, acct models.Account) (accountView, error) {
	balance, err := s.ledger.BalanceOf(c.Request.Context(), acct.Holder)
	if err != nil {
		return accountView{}, err
	}
	view := accountView{
		Holder:    acct.Holder,
		Balance:   ledger.FormatAmount(balance),
		Principal: ledger.FormatAmount(&acct.Principal),
		Rate:      ledger.FormatAmount(&acct.Rate),
	}
	if !acct.LastAccrualAt.IsZero() {
		t := acct.LastAccrualAt
		view.LastAccrualAt = &t
	}
	return view, nil
}

func entryViews(entries []models.LedgerEntry) []entryView {
	views := make([]entryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, entryView{
			ID:          e.ID,
			OperationID: e.OperationID,
			Holder:      e.Holder,
			Kind:        string(e.Kind),
			Amount:      ledger.FormatAmount(&e.Amount),
			Delta:       e.Delta().String(),
			Rate:        ledger.FormatAmount(&e.Rate),
			CreatedAt:   e.CreatedAt,
		})
	}
	return views
}

func (s *Server) getAccount(c *gin.Context) {
	acct, err := s.ledger.Account(c.Request.Context(), c.Param("holder"))
	if err != nil {
		handleError(c, err)
		return
	}
	view, err := s.accountView(c, acct)
	if err != nil {
		handleError(c, err)
		return
	}
	ok(c, view)
}

func (s *Server) listAccounts(c *gin.Context) {
	accounts, err := s.ledger.Accounts(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}

	views := make([]accountView, 0, len(accounts))
	for _, acct := range accounts {
		view, err := s.accountView(c, acct)
		if err != nil {
			handleError(c, err)
			return
		}
		views = append(views, view)
	}
	ok(c, views)
}

func (s *Server) getSupply(c *gin.Context) {
	total, err := s.ledger.TotalPrincipal(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	ok(c, gin.H{"total_principal": ledger.FormatAmount(total)})
}

func (s *Server) getGlobalRate(c *gin.Context) {
	rate, err := s.ledger.GlobalRate(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	precision := s.ledger.PrecisionFactor()
	ok(c, gin.H{
		"rate":             ledger.FormatAmount(rate),
		"precision_factor": ledger.FormatAmount(precision),
		"annual_percent":   ledger.AnnualPercent(rate, precision).String(),
	})
}

func (s *Server) setGlobalRate(c *gin.Context) {
	var req rateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	rate, err := uint256.FromDecimal(req.Rate)
	if err != nil {
		badRequest(c, "rate must be a non-negative integer")
		return
	}

	if err := s.ledger.SetGlobalRate(c.Request.Context(), callerOf(c), rate); err != nil {
		handleError(c, err)
		return
	}
	ok(c, gin.H{"rate": ledger.FormatAmount(rate)})
}

func (s *Server) getLedgerEntries(c *gin.Context) {
	entries, err := s.ledger.Entries(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	ok(c, entryViews(entries))
}

func (s *Server) getHolderEntries(c *gin.Context) {
	entries, err := s.ledger.EntriesByHolder(c.Request.Context(), c.Param("holder"))
	if err != nil {
		handleError(c, err)
		return
	}
	ok(c, entryViews(entries))
}

func (s *Server) transfer(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	amount, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		handleError(c, err)
		return
	}

	caller := callerOf(c)
	moved, err := s.ledger.Transfer(c.Request.Context(), caller, caller, req.To, amount)
	if err != nil {
		handleError(c, err)
		return
	}
	ok(c, gin.H{"from": caller, "to": req.To, "amount": ledger.FormatAmount(moved)})
}

func (s *Server) grantCapability(c *gin.Context) {
	s.changeCapability(c, s.gate.Grant)
}

func (s *Server) revokeCapability(c *gin.Context) {
	s.changeCapability(c, s.gate.Revoke)
}

func (s *Server) changeCapability(c *gin.Context, change func(caller, account string, capability models.Capability) error) {
	var req capabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := change(callerOf(c), req.Account, models.Capability(req.Capability)); err != nil {
		handleError(c, err)
		return
	}
	ok(c, gin.H{"account": req.Account, "capabilities": s.gate.Capabilities(req.Account)})
}

func (s *Server) deposit(c *gin.Context) {
	amount, bound := bindAmount(c)
	if !bound {
		return
	}
	if err := s.vault.Deposit(c.Request.Context(), callerOf(c), amount); err != nil {
		handleError(c, err)
		return
	}
	ok(c, gin.H{"holder": callerOf(c), "amount": ledger.FormatAmount(amount)})
}

func (s *Server) redeem(c *gin.Context) {
	amount, bound := bindAmount(c)
	if !bound {
		return
	}
	redeemed, err := s.vault.Redeem(c.Request.Context(), callerOf(c), amount)
	if err != nil {
		handleError(c, err)
		return
	}
	ok(c, gin.H{"holder": callerOf(c), "amount": ledger.FormatAmount(redeemed)})
}

func (s *Server) fundRewards(c *gin.Context) {
	amount, bound := bindAmount(c)
	if !bound {
		return
	}
	if err := s.vault.FundRewards(c.Request.Context(), callerOf(c), amount); err != nil {
		handleError(c, err)
		return
	}
	view := gin.H{"amount": ledger.FormatAmount(amount)}
	if reserves, known := s.vault.Reserves(); known {
		view["reserves"] = ledger.FormatAmount(reserves)
	}
	ok(c, view)
}

// fundWallet credits collateral to an outside wallet; only the gate owner may
// call it.
func (s *Server) fundWallet(c *gin.Context) {
	if callerOf(c) != s.gate.Owner() {
		fail(c, http.StatusForbidden, ledger.ErrUnauthorized.Code, "only the owner may fund wallets")
		return
	}

	var req fundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	amount, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		handleError(c, err)
		return
	}

	wallet, err := s.vault.FundWallet(c.Request.Context(), req.Account, amount)
	if err != nil {
		handleError(c, err)
		return
	}
	ok(c, gin.H{"account": req.Account, "wallet": ledger.FormatAmount(wallet)})
}

func (s *Server) bridgeSend(c *gin.Context) {
	var req bridgeSendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	amount, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		handleError(c, err)
		return
	}

	msg, err := s.bridge.Send(c.Request.Context(), callerOf(c), req.Receiver, req.Destination, amount)
	if err != nil {
		handleError(c, err)
		return
	}
	ok(c, msg)
}

// bridgeReceive is the relay entry point; only the bridge identity may call it.
func (s *Server) bridgeReceive(c *gin.Context) {
	if callerOf(c) != s.bridge.Identity() {
		fail(c, http.StatusForbidden, ledger.ErrUnauthorized.Code, "only the bridge relay may deliver messages")
		return
	}

	var req bridgeReceiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	applied, err := s.bridge.Receive(c.Request.Context(), req.Message)
	if err != nil {
		handleError(c, err)
		return
	}
	ok(c, gin.H{"message_id": req.Message.ID, "applied": applied})
}

func bindAmount(c *gin.Context) (*uint256.Int, bool) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return nil, false
	}
	amount, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		handleError(c, err)
		return nil, false
	}
	return amount, true
}
