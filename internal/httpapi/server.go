package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"neptun/internal/auth"
	"neptun/internal/backtest"
	"neptun/internal/config"
	"neptun/internal/domain"
	"neptun/internal/marketdata"
	"neptun/internal/metrics"
	"neptun/internal/store"
	"neptun/internal/strategy"
)

const dateFormat = "2006-01-02"

// Server wires the engine, stores, market data and auth into the REST API.
type Server struct {
	users store.UserStore
	runs  store.RunStore
	data  *marketdata.Service
	auth  *auth.Manager
	log   *slog.Logger

	initialCash  float64
	commission   float64
	historyLimit int
}

// NewServer creates the API server from its dependencies.
func NewServer(cfg *config.Config, users store.UserStore, runs store.RunStore, data *marketdata.Service, am *auth.Manager) *Server {
	return &Server{
		users:        users,
		runs:         runs,
		data:         data,
		auth:         am,
		log:          slog.Default().With("component", "httpapi"),
		initialCash:  cfg.Backtest.InitialCash,
		commission:   cfg.Backtest.CommissionRate,
		historyLimit: cfg.Backtest.HistoryLimit,
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /register", s.handleRegister)
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("GET /user/profile", s.requireAuth(s.handleProfile))
	mux.HandleFunc("POST /backtest", s.requireAuth(s.handleBacktest))
	mux.HandleFunc("POST /backtest/test", s.handleBacktestTest)
	mux.HandleFunc("GET /backtest/history", s.requireAuth(s.handleHistory))
	mux.HandleFunc("GET /backtest/{id}", s.requireAuth(s.handleRunDetail))
	mux.HandleFunc("GET /analytics/popular-tickers", s.handlePopularTickers)
	mux.HandleFunc("POST /payment/create-intent", s.requireAuth(s.handlePaymentIntent))
	mux.Handle("GET /metrics", metrics.Handler())
}

// Handler returns the full handler chain: CORS outermost, then request
// logging and instrumentation, then the routed handlers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(s.observe(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// observe assigns each request an ID, logs one access line and feeds the
// Prometheus counters.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(withRequestID(r.Context(), id)))

		route := routeLabel(r.URL.Path)
		metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		s.log.Info("request",
			"id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// routeLabel maps a request path to a bounded metric label. Run-detail IDs
// collapse into one label and unknown paths into "other" to keep label
// cardinality fixed.
func routeLabel(path string) string {
	switch path {
	case "/", "/health", "/register", "/login", "/user/profile",
		"/backtest", "/backtest/test", "/backtest/history",
		"/analytics/popular-tickers", "/payment/create-intent", "/metrics":
		return path
	}
	if strings.HasPrefix(path, "/backtest/") {
		return "/backtest/{id}"
	}
	return "other"
}

type requestIDKey struct{}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type userKey struct{}

// userFrom returns the authenticated user placed in the context by
// requireAuth. Nil on unauthenticated routes.
func userFrom(ctx context.Context) *domain.User {
	u, _ := ctx.Value(userKey{}).(*domain.User)
	return u
}

// requireAuth validates the bearer token and loads the user into the
// request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeUnauthorized(w, "could not validate credentials")
			return
		}

		email, err := s.auth.VerifyToken(token)
		if err != nil {
			writeUnauthorized(w, "could not validate credentials")
			return
		}

		user, err := s.users.UserByEmail(r.Context(), email)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeUnauthorized(w, "could not validate credentials")
				return
			}
			s.log.Error("loading user", "id", requestID(r.Context()), "err", err)
			writeError(w, http.StatusInternalServerError, "authentication service error")
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, http.StatusUnauthorized, msg)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, RootResponse{
		Message: "Neptun Stock Strategy Backtester API v1.0.0",
		Status:  "online",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		writeError(w, http.StatusBadRequest, "valid email required")
		return
	}
	if req.Password == "" {
		writeError(w, http.StatusBadRequest, "password required")
		return
	}

	if _, err := s.users.UserByEmail(r.Context(), email); err == nil {
		writeError(w, http.StatusBadRequest, "email already registered")
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		s.log.Error("checking email", "id", requestID(r.Context()), "err", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	hash, err := s.auth.HashPassword(req.Password)
	if err != nil {
		s.log.Error("hashing password", "id", requestID(r.Context()), "err", err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	user, err := s.users.CreateUser(r.Context(), email, hash)
	if err != nil {
		s.log.Error("creating user", "id", requestID(r.Context()), "err", err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	s.issueToken(w, r, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	user, err := s.users.UserByEmail(r.Context(), email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeUnauthorized(w, "incorrect email or password")
			return
		}
		s.log.Error("loading user", "id", requestID(r.Context()), "err", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if !s.auth.CheckPassword(user.HashedPassword, req.Password) {
		writeUnauthorized(w, "incorrect email or password")
		return
	}

	s.issueToken(w, r, user)
}

func (s *Server) issueToken(w http.ResponseWriter, r *http.Request, user *domain.User) {
	token, err := s.auth.IssueToken(user.Email, time.Now())
	if err != nil {
		s.log.Error("issuing token", "id", requestID(r.Context()), "err", err)
		writeError(w, http.StatusInternalServerError, "token issuance failed")
		return
	}
	writeJSON(w, TokenResponse{AccessToken: token, TokenType: "bearer", UserID: user.ID})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	writeJSON(w, ProfileResponse{
		ID:        user.ID,
		Email:     user.Email,
		IsPremium: user.IsPremium,
		CreatedAt: user.CreatedAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	s.runBacktest(w, r, true)
}

func (s *Server) handleBacktestTest(w http.ResponseWriter, r *http.Request) {
	s.runBacktest(w, r, false)
}

// runBacktest validates the request, fetches bars, runs the engine and,
// when persist is set, saves the run for the authenticated user.
func (s *Server) runBacktest(w http.ResponseWriter, r *http.Request, persist bool) {
	started := time.Now()

	var req BacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ticker := strings.ToUpper(strings.TrimSpace(req.Ticker))
	if ticker == "" {
		writeError(w, http.StatusBadRequest, "ticker required")
		return
	}
	start, err := time.Parse(dateFormat, req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid start_date %q: want YYYY-MM-DD", req.StartDate))
		return
	}
	end, err := time.Parse(dateFormat, req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid end_date %q: want YYYY-MM-DD", req.EndDate))
		return
	}
	if !start.Before(end) {
		writeError(w, http.StatusBadRequest, "start date must be before end date")
		return
	}
	if req.SMAPeriod <= 0 {
		writeError(w, http.StatusBadRequest, "sma_period must be positive")
		return
	}
	req.Rule = fillRuleDefaults(req.Rule)

	bars, err := s.data.DailyBars(r.Context(), ticker, start, end)
	if err != nil {
		if errors.Is(err, marketdata.ErrNoData) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error("fetching bars", "id", requestID(r.Context()), "ticker", ticker, "err", err)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("downloading data for %s failed", ticker))
		return
	}

	rule := strategy.ParseRule(req.Rule.IfCondition, req.Rule.ThenAction, req.Rule.ElseAction)
	result, err := backtest.Run(bars, backtest.Params{
		Window:      req.SMAPeriod,
		Rule:        rule,
		InitialCash: s.initialCash,
		Commission:  s.commission,
	})
	if err != nil {
		if errors.Is(err, backtest.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error("running backtest", "id", requestID(r.Context()), "ticker", ticker, "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	metrics.BacktestsTotal.WithLabelValues(ticker).Inc()
	metrics.BacktestDuration.Observe(time.Since(started).Seconds())

	resp := convertResult(result)
	if persist {
		user := userFrom(r.Context())
		run := &domain.Run{
			UserID:              user.ID,
			Ticker:              ticker,
			StartDate:           start.Format(dateFormat),
			EndDate:             end.Format(dateFormat),
			SMAPeriod:           req.SMAPeriod,
			RuleCondition:       req.Rule.IfCondition,
			RuleThenAction:      req.Rule.ThenAction,
			RuleElseAction:      req.Rule.ElseAction,
			TotalReturn:         result.TotalReturn,
			WinRate:             result.WinRate,
			NumberOfTrades:      result.NumberOfTrades,
			FinalPortfolioValue: result.FinalPortfolioValue,
			SharpeRatio:         result.SharpeRatio,
			EquityCurve:         result.EquityCurve,
			ExecutionSeconds:    time.Since(started).Seconds(),
		}
		id, err := s.runs.SaveRun(r.Context(), run)
		if err != nil {
			s.log.Error("saving run", "id", requestID(r.Context()), "ticker", ticker, "err", err)
			writeError(w, http.StatusInternalServerError, "saving backtest failed")
			return
		}
		resp.BacktestID = &id
	}

	s.log.Info("backtest complete",
		"id", requestID(r.Context()),
		"ticker", ticker,
		"bars", len(bars),
		"trades", result.NumberOfTrades,
		"return_pct", result.TotalReturn,
		"persisted", persist,
	)
	writeJSON(w, resp)
}

// fillRuleDefaults applies the documented defaults for omitted rule fields.
func fillRuleDefaults(rule RuleJSON) RuleJSON {
	if strings.TrimSpace(rule.IfCondition) == "" {
		rule.IfCondition = "price > sma"
	}
	if strings.TrimSpace(rule.ThenAction) == "" {
		rule.ThenAction = "buy"
	}
	if strings.TrimSpace(rule.ElseAction) == "" {
		rule.ElseAction = "hold"
	}
	return rule
}

func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "backtest id must be an integer")
		return
	}

	run, err := s.runs.RunByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "backtest not found")
			return
		}
		s.log.Error("loading run", "id", requestID(r.Context()), "run", id, "err", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	// Runs are private to their owner.
	if run.UserID != userFrom(r.Context()).ID {
		writeError(w, http.StatusNotFound, "backtest not found")
		return
	}
	writeJSON(w, convertRunDetail(run))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())

	limit := s.historyLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := s.runs.RunsByUser(r.Context(), user.ID, limit)
	if err != nil {
		s.log.Error("loading history", "id", requestID(r.Context()), "err", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	writeJSON(w, HistoryResponse{Backtests: convertHistory(runs)})
}

func (s *Server) handlePopularTickers(w http.ResponseWriter, r *http.Request) {
	top, err := s.runs.PopularTickers(r.Context(), 10)
	if err != nil {
		s.log.Error("loading popular tickers", "id", requestID(r.Context()), "err", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	rows := make([]PopularTickerJSON, 0, len(top))
	for _, tc := range top {
		rows = append(rows, PopularTickerJSON{Ticker: tc.Ticker, Count: tc.Count})
	}
	writeJSON(w, PopularTickersResponse{PopularTickers: rows})
}

func (s *Server) handlePaymentIntent(w http.ResponseWriter, r *http.Request) {
	var req PaymentIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}
	if req.Currency == "" {
		req.Currency = "usd"
	}

	user := userFrom(r.Context())
	if err := s.users.SetPremium(r.Context(), user.ID, true); err != nil {
		s.log.Error("setting premium", "id", requestID(r.Context()), "user", user.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	// Mock payment provider: the intent is fabricated and the account is
	// upgraded immediately.
	writeJSON(w, PaymentIntentResponse{
		ClientSecret:    fmt.Sprintf("pi_mock_%d_%d", req.Amount, user.ID),
		PaymentIntentID: fmt.Sprintf("pi_mock_%d", req.Amount),
		Amount:          req.Amount,
		Currency:        req.Currency,
		Status:          "requires_payment_method",
	})
}
