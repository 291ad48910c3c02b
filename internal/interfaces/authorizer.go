package interfaces

import "github.com/sheikh-saqib/rebase-ledger-system/internal/models"

type Authorizer interface {
	IsAuthorized(caller string, capability models.Capability) bool
}
