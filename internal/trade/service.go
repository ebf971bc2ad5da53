// Package trade provides the HTTP handlers for registering, logging in,
// looking up quotes, placing market orders and querying accounts,
// positions, portfolios and the trade journal.
//
// All monetary values use shopspring/decimal; never float64 for money.
package trade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/auth"
	"github.com/papertrade/trading-engine/internal/ledger"
	"github.com/papertrade/trading-engine/internal/model"
	"github.com/papertrade/trading-engine/internal/quote"
	"github.com/papertrade/trading-engine/internal/ticker"
)

const maxBodyBytes = 1 << 20

// Service wires the ledger, quote provider and auth service to HTTP.
type Service struct {
	ledger *ledger.Ledger
	quotes quote.Provider
	auth   *auth.Service
	wsHub  *WSHub // optional WebSocket hub for trade broadcasts
	log    *slog.Logger
}

// NewService creates a new trade service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(l *ledger.Ledger, quotes quote.Provider, a *auth.Service, hub *WSHub, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		ledger: l,
		quotes: quotes,
		auth:   a,
		wsHub:  hub,
		log:    log,
	}
}

// Routes mounts the API under /api/v1.
func (s *Service) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", s.Register)
		r.Post("/auth/login", s.Login)

		if s.wsHub != nil {
			r.Get("/ws", s.wsHub.HandleWS)
		}

		r.Group(func(r chi.Router) {
			r.Use(s.auth.Middleware)

			r.Get("/quotes/{ticker}", s.GetQuote)
			r.Get("/quotes/{ticker}/history", s.GetHistory)
			r.Post("/orders/buy", s.Buy)
			r.Post("/orders/sell", s.Sell)
			r.Get("/account", s.GetAccount)
			r.Get("/positions", s.ListPositions)
			r.Get("/positions/{ticker}", s.GetPosition)
			r.Get("/portfolio", s.GetPortfolio)
			r.Get("/trades", s.ListTrades)
		})
	})
}

// --- Request/Response types ---

// LoginRequest is the JSON body for POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the bearer token.
type LoginResponse struct {
	Token string      `json:"token"`
	User  UserSummary `json:"user"`
}

// UserSummary is the public view of a user.
type UserSummary struct {
	ID             string          `json:"id"`
	Username       string          `json:"username"`
	Email          string          `json:"email"`
	Balance        decimal.Decimal `json:"balance"`
	BalanceDisplay string          `json:"balance_display"`
}

func summarize(u *model.User) UserSummary {
	return UserSummary{
		ID:             u.ID,
		Username:       u.Username,
		Email:          u.Email,
		Balance:        u.Balance,
		BalanceDisplay: FormatAmount(u.Balance),
	}
}

// OrderRequest is the JSON body for POST /orders/buy and /orders/sell.
// Orders fill at the current quote.
type OrderRequest struct {
	Ticker string          `json:"ticker"`
	Shares decimal.Decimal `json:"shares"`
}

// OrderResponse is returned for an accepted order.
type OrderResponse struct {
	Trade          model.Trade     `json:"trade"`
	Position       *PositionView   `json:"position"` // null when the sell closed it
	Balance        decimal.Decimal `json:"balance"`
	BalanceDisplay string          `json:"balance_display"`
}

// PositionView is a position with its derived average price.
type PositionView struct {
	model.Position
	AveragePrice decimal.Decimal `json:"average_price"`
}

func viewPosition(p *model.Position) *PositionView {
	if p == nil {
		return nil
	}
	return &PositionView{Position: *p, AveragePrice: p.AveragePrice()}
}

// QuoteResponse is the latest price of a ticker.
type QuoteResponse struct {
	Ticker string          `json:"ticker"`
	Price  decimal.Decimal `json:"price"`
}

// HistoryResponse is a ticker's price series, oldest first.
type HistoryResponse struct {
	Ticker string             `json:"ticker"`
	Points []model.PricePoint `json:"points"`
}

// AccountResponse is the caller's cash balance.
type AccountResponse struct {
	UserID         string          `json:"user_id"`
	Balance        decimal.Decimal `json:"balance"`
	BalanceDisplay string          `json:"balance_display"`
}

// PortfolioResponse is a valuation plus display strings for the totals.
type PortfolioResponse struct {
	*model.Portfolio
	BalanceDisplay string `json:"balance_display"`
	EquityDisplay  string `json:"equity_display"`
}

// --- Auth handlers ---

// Register handles POST /api/v1/auth/register
func (s *Service) Register(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterInput
	if !decode(w, r, &req) {
		return
	}

	u, err := s.auth.Register(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, summarize(u))
}

// Login handles POST /api/v1/auth/login
func (s *Service) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decode(w, r, &req) {
		return
	}

	token, u, err := s.auth.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{Token: token, User: summarize(u)})
}

// --- Quote handlers ---

// GetQuote handles GET /api/v1/quotes/{ticker}
func (s *Service) GetQuote(w http.ResponseWriter, r *http.Request) {
	sym, ok := tickerParam(w, r)
	if !ok {
		return
	}

	price, err := s.quotes.LookupPrice(r.Context(), sym)
	if err != nil {
		s.writeDomainError(w, fmt.Errorf("%w: %s: %w", ledger.ErrQuoteUnavailable, sym, err))
		return
	}
	writeJSON(w, http.StatusOK, QuoteResponse{Ticker: sym, Price: price})
}

// GetHistory handles GET /api/v1/quotes/{ticker}/history
func (s *Service) GetHistory(w http.ResponseWriter, r *http.Request) {
	sym, ok := tickerParam(w, r)
	if !ok {
		return
	}

	points, err := s.quotes.LookupHistory(r.Context(), sym)
	if err != nil {
		s.writeDomainError(w, fmt.Errorf("%w: %s: %w", ledger.ErrQuoteUnavailable, sym, err))
		return
	}
	if points == nil {
		points = []model.PricePoint{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Ticker: sym, Points: points})
}

// --- Order handlers ---

// Buy handles POST /api/v1/orders/buy
func (s *Service) Buy(w http.ResponseWriter, r *http.Request) {
	s.placeOrder(w, r, s.ledger.MarketBuy)
}

// Sell handles POST /api/v1/orders/sell
func (s *Service) Sell(w http.ResponseWriter, r *http.Request) {
	s.placeOrder(w, r, s.ledger.MarketSell)
}

type orderFunc func(ctx context.Context, userID, ticker string, shares decimal.Decimal) (*ledger.Result, error)

func (s *Service) placeOrder(w http.ResponseWriter, r *http.Request, place orderFunc) {
	userID, _ := auth.UserID(r.Context())

	var req OrderRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := place(r.Context(), userID, req.Ticker, req.Shares)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	if s.wsHub != nil {
		s.wsHub.Broadcast(tradeMessage(res.Trade))
	}

	writeJSON(w, http.StatusOK, OrderResponse{
		Trade:          res.Trade,
		Position:       viewPosition(res.Position),
		Balance:        res.Balance,
		BalanceDisplay: FormatAmount(res.Balance),
	})
}

// --- Query handlers ---

// GetAccount handles GET /api/v1/account
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())

	bal, err := s.ledger.Balance(r.Context(), userID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AccountResponse{UserID: userID, Balance: bal, BalanceDisplay: FormatAmount(bal)})
}

// ListPositions handles GET /api/v1/positions
func (s *Service) ListPositions(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())

	positions, err := s.ledger.Positions(r.Context(), userID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	views := make([]PositionView, 0, len(positions))
	for i := range positions {
		views = append(views, *viewPosition(&positions[i]))
	}
	writeJSON(w, http.StatusOK, views)
}

// GetPosition handles GET /api/v1/positions/{ticker}
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())

	p, err := s.ledger.Position(r.Context(), userID, chi.URLParam(r, "ticker"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewPosition(p))
}

// GetPortfolio handles GET /api/v1/portfolio
// Marks every position to the current quote.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())

	pf, err := s.ledger.Valuate(r.Context(), userID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PortfolioResponse{
		Portfolio:      pf,
		BalanceDisplay: FormatAmount(pf.Balance),
		EquityDisplay:  FormatAmount(pf.Equity),
	})
}

// ListTrades handles GET /api/v1/trades
func (s *Service) ListTrades(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())

	trades, err := s.ledger.Trades(r.Context(), userID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

// --- Helpers ---

func tickerParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	sym, err := ticker.Normalize(chi.URLParam(r, "ticker"))
	if err != nil {
		writeError(w, err.Error(), "validation", http.StatusBadRequest)
		return "", false
	}
	return sym, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, "invalid request body", "validation", http.StatusBadRequest)
		return false
	}
	return true
}

// writeDomainError maps an error kind to its HTTP status.
func (s *Service) writeDomainError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "code", code, "err", err)
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeError(w, msg, code, status)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, auth.ErrAlreadyExists):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, ledger.ErrQuoteUnavailable):
		if errors.Is(err, quote.ErrNotFound) {
			return http.StatusNotFound, "quote_unavailable"
		}
		return http.StatusBadGateway, "quote_unavailable"
	}

	code := ledger.Kind(err)
	switch code {
	case "validation":
		return http.StatusBadRequest, code
	case "position_not_found", "user_not_found":
		return http.StatusNotFound, code
	case "insufficient_funds", "insufficient_shares":
		return http.StatusConflict, code
	default:
		return http.StatusInternalServerError, "persistence"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message, "code": code})
}
