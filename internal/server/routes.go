package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/shopspring/decimal"

	"riskcrash/internal/errs"
	"riskcrash/internal/game"
	"riskcrash/internal/ledger"
	"riskcrash/internal/logger"
)

const WS_REQUEST_TIMEOUT = 5 * time.Second

func (s *FiberServer) RegisterFiberRoutes() {
	s.App.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Accept,Authorization,Content-Type,X-Admin-Token",
		AllowCredentials: false, // credentials require explicit origins
		MaxAge:           300,
	}))

	s.App.Get("/health", s.healthHandler)

	api := s.App.Group("/api/v1")

	gameGroup := api.Group("/game")
	gameGroup.Get("/round", s.currentRoundHandler)
	gameGroup.Post("/bet", s.placeBetHandler)
	gameGroup.Post("/cashout", s.cashoutHandler)
	gameGroup.Get("/history", s.historyHandler)
	gameGroup.Get("/verify", s.verifyHandler)

	api.Get("/treasury/vaults", s.vaultsHandler)
	api.Get("/treasury/fees", s.feesHandler)

	api.Get("/stats", s.statisticsHandler)
	api.Get("/stats/leaderboard", s.leaderboardHandler)

	admin := api.Group("/admin", s.requireAdminToken)
	admin.Post("/vaults/:type/withdrawals", s.withdrawalHandler)
	admin.Get("/withdrawals", s.listWithdrawalsHandler)

	s.App.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.App.Get("/ws", websocket.New(s.gameWebSocketHandler))
}

type wsClientMessage struct {
	Type        string           `json:"type"`
	Amount      decimal.Decimal  `json:"amount"`
	AutoCashout *decimal.Decimal `json:"auto_cashout,omitempty"`
	RoundID     int64            `json:"round_id"`
}

// gameWebSocketHandler streams round events and accepts place_bet, cashout
// and ping messages from the connected player.
func (s *FiberServer) gameWebSocketHandler(conn *websocket.Conn) {
	userID := conn.Query("user_id", "anonymous")
	logger.Debug("WS connection opened", "user", userID)

	client := s.gameHub.RegisterClient(conn, userID)
	defer s.gameHub.UnregisterClient(client)

	client.SendInitialState(s.gameManager.CurrentRound())

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			logger.Debug("WS read ended", "user", userID, "err", err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg wsClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			client.Send(game.WSMessage{Type: "error", Data: fiber.Map{"error": "malformed message"}})
			continue
		}

		switch msg.Type {
		case "place_bet":
			ctx, cancel := context.WithTimeout(context.Background(), WS_REQUEST_TIMEOUT)
			bet, err := s.gameManager.PlaceBet(ctx, userID, msg.Amount, msg.AutoCashout)
			cancel()
			client.Send(game.WSMessage{Type: "bet_result", Data: betResponse(bet, err)})

		case "cashout":
			ctx, cancel := context.WithTimeout(context.Background(), WS_REQUEST_TIMEOUT)
			bet, err := s.gameManager.CashOut(ctx, userID, msg.RoundID)
			cancel()
			client.Send(game.WSMessage{Type: "cashout_result", Data: cashoutResponse(bet, err)})

		case "ping":
			client.Send(game.WSMessage{Type: "pong"})

		default:
			client.Send(game.WSMessage{Type: "error", Data: fiber.Map{"error": "unknown message type"}})
		}
	}
}

func betResponse(bet *ledger.Bet, err error) game.BetResponse {
	if err != nil {
		return game.BetResponse{Success: false, Message: errs.PublicMessage(err)}
	}
	return game.BetResponse{
		Success:     true,
		Message:     "bet placed",
		BetID:       bet.ID,
		RoundNumber: bet.RoundNumber,
	}
}

func cashoutResponse(bet *ledger.Bet, err error) game.CashoutResponse {
	if err != nil {
		return game.CashoutResponse{Success: false, Message: errs.PublicMessage(err)}
	}
	resp := game.CashoutResponse{Success: true, Message: "cashed out", Payout: &bet.Payout}
	if bet.CashoutMultiplier != nil {
		m := *bet.CashoutMultiplier
		resp.Multiplier = &m
	}
	return resp
}
