package server

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"riskcrash/internal/errs"
	"riskcrash/internal/game"
	"riskcrash/internal/ledger"
	"riskcrash/internal/logger"
	"riskcrash/internal/treasury"
)

const ADMIN_TOKEN_HEADER = "X-Admin-Token"

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.KindValidation:
		return fiber.StatusBadRequest
	case errs.KindInvalidPhase, errs.KindConflict:
		return fiber.StatusConflict
	case errs.KindNotFound:
		return fiber.StatusNotFound
	case errs.KindForbidden:
		return fiber.StatusForbidden
	case errs.KindPersistence:
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

func writeError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	if status >= fiber.StatusInternalServerError {
		logger.Error("Request failed", "method", c.Method(), "path", c.Path(), "err", err)
	}
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   errs.PublicMessage(err),
		"kind":    errs.KindOf(err),
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return writeError(c, errs.Validation(msg))
}

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	health := fiber.Map{
		"store": s.storeDriver,
		"game": fiber.Map{
			"status":            "running",
			"connected_clients": s.gameHub.GetClientCount(),
		},
	}
	if s.db != nil {
		health["database"] = s.db.Health()
	}
	if s.cache != nil {
		health["cache"] = s.cache.Health()
	}
	return c.JSON(health)
}

func (s *FiberServer) currentRoundHandler(c *fiber.Ctx) error {
	view := s.gameManager.CurrentRound()
	if view == nil {
		return writeError(c, errs.NotFound("no active round"))
	}
	return c.JSON(view)
}

func (s *FiberServer) placeBetHandler(c *fiber.Ctx) error {
	var req game.BetRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	bet, err := s.gameManager.PlaceBet(c.UserContext(), req.UserID, req.Amount, req.AutoCashout)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"bet":     bet,
	})
}

func (s *FiberServer) cashoutHandler(c *fiber.Ctx) error {
	var req game.CashoutRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if strings.TrimSpace(req.UserID) == "" {
		return badRequest(c, "user_id is required")
	}

	bet, err := s.gameManager.CashOut(c.UserContext(), req.UserID, req.RoundNumber)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{
		"success":    true,
		"multiplier": bet.CashoutMultiplier,
		"payout":     bet.Payout,
		"bet":        bet,
	})
}

func (s *FiberServer) historyHandler(c *fiber.Ctx) error {
	history, err := s.gameManager.GameHistory(c.UserContext(), c.QueryInt("limit", game.DEFAULT_HISTORY_LIMIT))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"rounds": history})
}

// verifyHandler recomputes a round's commitment and crash point from its
// revealed seeds. With crash_multiplier it also checks the claimed result.
func (s *FiberServer) verifyHandler(c *fiber.Ctx) error {
	seed := c.Query("seed")
	prevSeed := c.Query("prev_seed")
	digest := strings.ToLower(c.Query("digest"))
	if seed == "" || digest == "" {
		return badRequest(c, "seed and digest are required")
	}

	crash := game.DeriveCrashMultiplier(seed)
	resp := fiber.Map{
		"valid":            game.Verify(seed, prevSeed, digest),
		"crash_multiplier": crash.StringFixed(game.MULTIPLIER_PLACES),
	}
	if raw := c.Query("crash_multiplier"); raw != "" {
		claimed, err := decimal.NewFromString(raw)
		if err != nil {
			return badRequest(c, "invalid crash_multiplier")
		}
		resp["matches_claim"] = game.VerifyRound(seed, prevSeed, digest, claimed)
	}
	if chain := c.Query("chain"); chain != "" {
		resp["chain_valid"] = game.VerifyChain(c.Query("prev_chain"), digest, strings.ToLower(chain))
	}
	return c.JSON(resp)
}

func (s *FiberServer) vaultsHandler(c *fiber.Ctx) error {
	vaults, err := s.treasury.VaultBalances(c.UserContext())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"vaults": vaults})
}

func (s *FiberServer) feesHandler(c *fiber.Ctx) error {
	dist, err := s.treasury.FeeDistribution(c.UserContext())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dist)
}

func (s *FiberServer) statisticsHandler(c *fiber.Ctx) error {
	st, err := s.stats.Statistics(c.UserContext())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(st)
}

func (s *FiberServer) leaderboardHandler(c *fiber.Ctx) error {
	board, err := s.stats.Leaderboard(c.UserContext(), c.QueryInt("limit", 0))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"leaderboard": board})
}

// requireAdminToken guards the admin group. An empty configured token
// disables the admin API entirely.
func (s *FiberServer) requireAdminToken(c *fiber.Ctx) error {
	got := c.Get(ADMIN_TOKEN_HEADER)
	if s.adminToken == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.adminToken)) != 1 {
		logger.Warn("Admin request rejected", "path", c.Path(), "ip", c.IP())
		return writeError(c, errs.Forbidden("not authorized"))
	}
	return c.Next()
}

type withdrawalBody struct {
	Amount      decimal.Decimal `json:"amount"`
	Destination string          `json:"destination"`
	Operator    string          `json:"operator"`
	Reason      string          `json:"reason"`
}

func (s *FiberServer) withdrawalHandler(c *fiber.Ctx) error {
	var body withdrawalBody
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "invalid request body")
	}

	w, vault, err := s.treasury.AdminWithdrawal(c.UserContext(), treasury.WithdrawalRequest{
		Vault:       ledger.VaultType(c.Params("type")),
		Amount:      body.Amount,
		Destination: body.Destination,
		Operator:    body.Operator,
		Reason:      body.Reason,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"withdrawal": w,
		"vault":      vault,
	})
}

func (s *FiberServer) listWithdrawalsHandler(c *fiber.Ctx) error {
	ws, err := s.treasury.Withdrawals(c.UserContext(), c.QueryInt("limit", 100))
	if err != nil {
		return writeError(c, err)
	}
	if ws == nil {
		ws = []ledger.Withdrawal{}
	}
	return c.JSON(fiber.Map{"withdrawals": ws})
}
