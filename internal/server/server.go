// Package server exposes the ledger, the vault and the bridge over HTTP.
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/auth"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/bridge"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/ledger"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/logger"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/vault"
	"go.uber.org/zap"
)

// Deps are the components the API serves. Vault and Bridge are optional; their
// routes are only mounted when set.
type Deps struct {
	Ledger *ledger.Ledger
	Gate   *auth.Gate
	Vault  *vault.Vault
	Bridge *bridge.Adapter
	Logger *zap.Logger
	JWT    JWTConfig
}

type Server struct {
	ledger *ledger.Ledger
	gate   *auth.Gate
	vault  *vault.Vault
	bridge *bridge.Adapter
	logger *zap.Logger
	router *gin.Engine
}

func New(deps Deps) *Server {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	s := &Server{
		ledger: deps.Ledger,
		gate:   deps.Gate,
		vault:  deps.Vault,
		bridge: deps.Bridge,
		logger: log.Named("http"),
		router: gin.New(),
	}
	s.router.Use(logger.GinMiddleware(s.logger), logger.Recovery(s.logger))
	s.routes(deps.JWT)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes(jwtCfg JWTConfig) {
	r := s.router
	r.GET("/health", s.health)

	r.GET("/accounts", s.listAccounts)
	r.GET("/accounts/:holder", s.getAccount)
	r.GET("/accounts/:holder/entries", s.getHolderEntries)
	r.GET("/supply", s.getSupply)
	r.GET("/rates/global", s.getGlobalRate)
	r.GET("/ledgerEntries", s.getLedgerEntries)

	authed := r.Group("/", JWTAuth(jwtCfg))
	authed.PUT("/rates/global", s.setGlobalRate)
	authed.POST("/transfers", s.transfer)
	authed.POST("/capabilities", s.grantCapability)
	authed.DELETE("/capabilities", s.revokeCapability)

	if s.vault != nil {
		authed.POST("/vault/deposit", s.deposit)
		authed.POST("/vault/redeem", s.redeem)
		authed.POST("/vault/rewards", s.fundRewards)
		authed.POST("/vault/wallets", s.fundWallet)
	}
	if s.bridge != nil {
		authed.POST("/bridge/send", s.bridgeSend)
		authed.POST("/bridge/receive", s.bridgeReceive)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "ledger_id": s.ledger.ID()})
}
