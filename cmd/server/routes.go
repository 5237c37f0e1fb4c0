package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	dbsqlc "github.com/hakimelghazi/clob-core/db/sqlc"
	"github.com/hakimelghazi/clob-core/internal/critbit"
	"github.com/hakimelghazi/clob-core/internal/engine"
	"github.com/hakimelghazi/clob-core/internal/ledger"
	"github.com/hakimelghazi/clob-core/internal/market"
	"github.com/hakimelghazi/clob-core/pricefeed"
)

const (
	defaultDepth = 10
	maxDepth     = 1000
)

type orderEngine interface {
	Place(ctx context.Context, o engine.LimitOrder) (engine.OrderID, error)
	Market(ctx context.Context, o engine.MarketOrder) (*engine.FillResult, error)
	Cancel(ctx context.Context, side engine.Side, id engine.OrderID) (engine.Position, error)
	Depth(ctx context.Context, levels int) (engine.Depth, error)
}

type fillLister interface {
	ListFillsByOrder(ctx context.Context, makerOrderID string) ([]dbsqlc.Fill, error)
}

// depositor funds accounts from outside the venue. Only the in-memory
// ledger exposes it; Postgres balances are managed out of band.
type depositor interface {
	Deposit(owner, asset string, amount uint64) error
}

type server struct {
	eng     orderEngine
	market  market.Market
	markets *market.Registry
	quotes  *pricefeed.QuoteCache
	fills   fillLister // nil without a database
	funds   depositor  // nil unless balances are in memory
	log     *zap.Logger
}

type placeOrderRequest struct {
	UserID   string `json:"user_id"`
	Side     string `json:"side"`  // "BUY" | "SELL"
	Price    uint64 `json:"price"` // quote subunits per lot
	Quantity uint64 `json:"quantity"`
}

type marketOrderRequest struct {
	UserID   string  `json:"user_id"`
	Side     string  `json:"side"`
	Quantity uint64  `json:"quantity"`
	Budget   *uint64 `json:"budget,omitempty"`
}

type depositRequest struct {
	UserID string `json:"user_id"`
	Asset  string `json:"asset"`
	Amount uint64 `json:"amount"`
}

type orderCreateResponse struct {
	OrderID    engine.OrderID `json:"order_id"`
	UserID     string         `json:"user_id"`
	Market     string         `json:"market"`
	Side       engine.Side    `json:"side"`
	Price      uint64         `json:"price"`
	Quantity   uint64         `json:"quantity"`
	RequestID  string         `json:"request_id"`
	ReceivedAt time.Time      `json:"received_at"`
}

type marketOrderResponse struct {
	*engine.FillResult
	UserID    string      `json:"user_id"`
	Market    string      `json:"market"`
	Side      engine.Side `json:"side"`
	Quantity  uint64      `json:"quantity"`
	RequestID string      `json:"request_id"`
	// Error is set when matching stopped after some fills had settled.
	Error string `json:"error,omitempty"`
}

func newRouter(s *server) http.Handler {
	r := chi.NewRouter()

	// Hygiene stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(3 * time.Second))

	r.Post("/orders", s.placeOrder)
	r.Post("/orders/market", s.marketOrder)
	r.Delete("/orders/{side}/{id}", s.cancelOrder)
	r.Get("/book", s.book)
	r.Get("/ticker", s.ticker)
	r.Get("/markets", s.listMarkets)
	r.Get("/fills", s.listFills)
	r.Post("/deposits", s.deposit)
	return r
}

func writeProblem(w http.ResponseWriter, r *http.Request, code int, title, detail string) {
	reqID := middleware.GetReqID(r.Context())
	w.Header().Set("Content-Type", "application/problem+json")
	w.Header().Set("X-Request-ID", reqID)
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"title":      title,
		"status":     code,
		"detail":     detail,
		"instance":   r.URL.Path,
		"request_id": reqID,
	})
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", middleware.GetReqID(r.Context()))
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeEngineError maps engine, index and ledger errors onto problem
// documents.
func (s *server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, engine.ErrInvalidSide),
		errors.Is(err, engine.ErrInvalidPrice),
		errors.Is(err, engine.ErrInvalidQuantity),
		errors.Is(err, engine.ErrInvalidOwner),
		errors.Is(err, engine.ErrInvalidOrderID),
		errors.Is(err, engine.ErrOverflow):
		writeProblem(w, r, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, engine.ErrOrderNotFound), errors.Is(err, engine.ErrUnknownMarket):
		writeProblem(w, r, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, critbit.ErrDuplicateKey):
		writeProblem(w, r, http.StatusConflict, "duplicate_order", err.Error())
	case errors.Is(err, engine.ErrInsufficientCollateral):
		writeProblem(w, r, http.StatusUnprocessableEntity, "insufficient_collateral", err.Error())
	case errors.Is(err, engine.ErrEngineStopped), errors.Is(err, critbit.ErrCapacityExceeded):
		writeProblem(w, r, http.StatusServiceUnavailable, "unavailable", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeProblem(w, r, http.StatusGatewayTimeout, "timeout", err.Error())
	default:
		s.log.Error("engine error", zap.String("path", r.URL.Path), zap.Error(err))
		writeProblem(w, r, http.StatusInternalServerError, "engine_error", err.Error())
	}
}

func validUser(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New("user_id is required")
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", errors.New("user_id must be a valid uuid")
	}
	return id, nil
}

// POST /orders
func (s *server) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	user, err := validUser(req.UserID)
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	side, err := engine.ParseSide(req.Side)
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	id, err := s.eng.Place(r.Context(), engine.LimitOrder{
		Owner:    user,
		Side:     side,
		Price:    req.Price,
		Quantity: req.Quantity,
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	rid := middleware.GetReqID(r.Context())
	w.Header().Set("Location", "/orders/"+strings.ToLower(string(side))+"/"+id.String())
	writeJSON(w, r, http.StatusCreated, orderCreateResponse{
		OrderID:    id,
		UserID:     user,
		Market:     s.market.Name,
		Side:       side,
		Price:      req.Price,
		Quantity:   req.Quantity,
		RequestID:  rid,
		ReceivedAt: time.Now().UTC(),
	})
}

// POST /orders/market
func (s *server) marketOrder(w http.ResponseWriter, r *http.Request) {
	var req marketOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	user, err := validUser(req.UserID)
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	side, err := engine.ParseSide(req.Side)
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	res, err := s.eng.Market(r.Context(), engine.MarketOrder{
		Taker:    user,
		Side:     side,
		Quantity: req.Quantity,
		Budget:   req.Budget,
	})
	if err != nil && (res == nil || len(res.Fills) == 0) {
		s.writeEngineError(w, r, err)
		return
	}
	out := marketOrderResponse{
		FillResult: res,
		UserID:     user,
		Market:     s.market.Name,
		Side:       side,
		Quantity:   req.Quantity,
		RequestID:  middleware.GetReqID(r.Context()),
	}
	if err != nil {
		// the fills that settled are final; report them with the failure
		s.log.Error("market order stopped after partial fill",
			zap.String("user", user),
			zap.Int("fills", len(res.Fills)),
			zap.Error(err),
		)
		out.Error = err.Error()
	}
	writeJSON(w, r, http.StatusOK, out)
}

// DELETE /orders/{side}/{id}
func (s *server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	side, err := engine.ParseSide(chi.URLParam(r, "side"))
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	id, err := engine.ParseOrderID(chi.URLParam(r, "id"))
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	if _, err := s.eng.Cancel(r.Context(), side, id); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	w.Header().Set("X-Request-ID", middleware.GetReqID(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

// GET /book?depth=N
func (s *server) book(w http.ResponseWriter, r *http.Request) {
	levels := defaultDepth
	if raw := r.URL.Query().Get("depth"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxDepth {
			writeProblem(w, r, http.StatusBadRequest, "validation_error",
				"depth must be between 1 and "+strconv.Itoa(maxDepth))
			return
		}
		levels = n
	}

	d, err := s.eng.Depth(r.Context(), levels)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, d)
}

// GET /ticker?market=...
func (s *server) ticker(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("market")
	if name == "" {
		name = s.market.Name
	}
	if _, err := s.markets.Lookup(name); err != nil {
		writeProblem(w, r, http.StatusNotFound, "not_found", err.Error())
		return
	}
	q, ok := s.quotes.Get(name)
	if !ok {
		writeProblem(w, r, http.StatusServiceUnavailable, "not_ready", "no quote yet for "+name)
		return
	}
	writeJSON(w, r, http.StatusOK, q)
}

// GET /markets
func (s *server) listMarkets(w http.ResponseWriter, r *http.Request) {
	names := s.markets.Names()
	out := make([]market.Market, 0, len(names))
	for _, name := range names {
		m, err := s.markets.Lookup(name)
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	writeJSON(w, r, http.StatusOK, out)
}

// GET /fills?order_id=...
func (s *server) listFills(w http.ResponseWriter, r *http.Request) {
	if s.fills == nil {
		writeProblem(w, r, http.StatusServiceUnavailable, "db_unavailable", "fill history needs a database")
		return
	}
	raw := r.URL.Query().Get("order_id")
	if raw == "" {
		writeProblem(w, r, http.StatusBadRequest, "validation_error", "order_id required")
		return
	}
	id, err := engine.ParseOrderID(raw)
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, "validation_error", "invalid order_id")
		return
	}

	rows, err := s.fills.ListFillsByOrder(r.Context(), id.String())
	if err != nil {
		writeProblem(w, r, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, rows)
}

// POST /deposits
func (s *server) deposit(w http.ResponseWriter, r *http.Request) {
	if s.funds == nil {
		writeProblem(w, r, http.StatusNotFound, "not_found", "deposits are not accepted by this ledger")
		return
	}
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	user, err := validUser(req.UserID)
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	if req.Asset != s.market.Base && req.Asset != s.market.Quote {
		writeProblem(w, r, http.StatusBadRequest, "validation_error", "asset must be "+s.market.Base+" or "+s.market.Quote)
		return
	}
	if req.Amount == 0 {
		writeProblem(w, r, http.StatusBadRequest, "validation_error", "amount must be positive")
		return
	}

	if err := s.funds.Deposit(user, req.Asset, req.Amount); err != nil {
		if errors.Is(err, ledger.ErrBalanceOverflow) {
			writeProblem(w, r, http.StatusUnprocessableEntity, "balance_overflow", err.Error())
			return
		}
		writeProblem(w, r, http.StatusInternalServerError, "ledger_error", err.Error())
		return
	}
	w.Header().Set("X-Request-ID", middleware.GetReqID(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}
