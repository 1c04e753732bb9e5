// Package handlers implements every REST operation in spec.md §6: the
// user-facing surface (auth, agents, tokens, projects, settings,
// conversations, messages, logs) and a thin internal surface mirroring
// internal/turnengine.Repo for the worker/watchdog's own HTTP-reachable
// contract. Grounded on the teacher's internal/httpapi/handlers package —
// same flat, one-file-per-resource layout, same Handler struct wrapping a
// *gorm.DB plus the process's shared services.
package handlers

import (
	"gorm.io/gorm"

	"github.com/opencrew/agent-mesh/internal/config"
	"github.com/opencrew/agent-mesh/internal/crypto"
	"github.com/opencrew/agent-mesh/internal/dispatcher"
	"github.com/opencrew/agent-mesh/internal/liveupdate"
	"github.com/opencrew/agent-mesh/internal/turnengine"
)

// Handler bundles every dependency a route needs. One Handler is shared
// across the whole router, same as the teacher's *Handler.
type Handler struct {
	DB     *gorm.DB
	Cfg    config.Config
	Cipher *crypto.TokenCipher
	Repo   *turnengine.Repo
	Disp   *dispatcher.Dispatcher
	Hub    *liveupdate.Hub
}

func NewHandler(db *gorm.DB, cfg config.Config, cipher *crypto.TokenCipher, repo *turnengine.Repo, disp *dispatcher.Dispatcher, hub *liveupdate.Hub) *Handler {
	return &Handler{DB: db, Cfg: cfg, Cipher: cipher, Repo: repo, Disp: disp, Hub: hub}
}

// isDemoProject reports whether id is one of the read-only demo/snapshot
// projects spec.md §6 protects from mutation.
func (h *Handler) isDemoProject(id string) bool {
	if id == h.Cfg.SnapshotProjectID {
		return true
	}
	for _, d := range h.Cfg.DemoProjectIDs {
		if d == id {
			return true
		}
	}
	return false
}

// isDemoToken reports whether id is the protected demo token.
func (h *Handler) isDemoToken(id string) bool {
	return h.Cfg.DemoTokenID != "" && id == h.Cfg.DemoTokenID
}

// budgetCeilingFor caps a requested budget at the configured demo ceiling
// when userID is the demo user, per spec.md §4.1's settings contract.
func (h *Handler) budgetCeilingFor(userID string, requested int) int {
	if userID == h.Cfg.DemoUserID && requested > h.Cfg.DemoMessageLimitCap {
		return h.Cfg.DemoMessageLimitCap
	}
	return requested
}
