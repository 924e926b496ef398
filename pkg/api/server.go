package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperlever/pkg/app"
	"github.com/uhyunpark/hyperlever/pkg/leverage"
	"github.com/uhyunpark/hyperlever/pkg/pool"
	"github.com/uhyunpark/hyperlever/pkg/settlement"
	"github.com/uhyunpark/hyperlever/pkg/state"
	"github.com/uhyunpark/hyperlever/pkg/util"
)

const maxBodyBytes = 1 << 20

type Options struct {
	// Faucet enables POST /api/v1/faucet.
	Faucet         bool
	AllowedOrigins []string
}

// Server handles REST API and WebSocket connections
type Server struct {
	app    *app.App
	router *mux.Router
	hub    *Hub
	opts   Options
	logger *zap.Logger
}

// NewServer creates a new API server and subscribes its websocket hub to
// the app's committed events.
func NewServer(a *app.App, opts Options, logger *zap.Logger) *Server {
	logger = util.OrNop(logger)
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:3001"}
	}
	s := &Server{
		app:    a,
		router: mux.NewRouter(),
		hub:    NewHub(logger.Named("ws")),
		opts:   opts,
		logger: logger,
	}
	a.DB.Subscribe(s.hub.PublishEvents)

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/contracts", s.handleGetContracts).Methods("GET")
	api.HandleFunc("/markets/{market}", s.handleGetMarket).Methods("GET")
	api.HandleFunc("/vaults/{market}/{address}", s.handleGetVault).Methods("GET")
	api.HandleFunc("/accounts/{address}", s.handleGetAccount).Methods("GET")
	api.HandleFunc("/orders/{hash}", s.handleGetOrder).Methods("GET")

	api.HandleFunc("/leverage", s.handleLeverage).Methods("POST")
	api.HandleFunc("/deleverage", s.handleDeleverage).Methods("POST")
	api.HandleFunc("/accounts/setup", s.handleSetup).Methods("POST")
	if s.opts.Faucet {
		api.HandleFunc("/faucet", s.handleFaucet).Methods("POST")
	}

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped in the CORS policy.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves the API on addr until ctx is done.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("api_server_starting", zap.String("addr", addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleGetContracts(w http.ResponseWriter, r *http.Request) {
	a := s.app
	respondJSON(w, ContractsInfo{
		ChainID:     a.Engine.Domain.ChainID.Uint64(),
		Market:      a.Market,
		Base:        a.Base.Address,
		Collateral:  a.Collateral.Address,
		Whitelist:   a.Whitelist.Address,
		Pool:        a.Pool.Address,
		Join:        a.Join.Address,
		Engine:      a.Engine.Address,
		Leverager:   a.Leverager.Address,
		Deleverager: a.Deleverager.Address,
	})
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	market, ok := parseMarket(w, r)
	if !ok {
		return
	}
	var info *pool.MarketInfo
	err := s.app.DB.View(func(tx *state.Tx) error {
		var err error
		info, err = s.app.Pool.Market(tx, market)
		return err
	})
	if errors.Is(err, pool.ErrUnknownMarket) {
		respondError(w, http.StatusNotFound, "market not found", err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read market", err.Error())
		return
	}
	respondJSON(w, info)
}

func (s *Server) handleGetVault(w http.ResponseWriter, r *http.Request) {
	market, ok := parseMarket(w, r)
	if !ok {
		return
	}
	addr, ok := parseAddress(w, r)
	if !ok {
		return
	}
	v, err := s.vaultInfo(market, addr)
	if errors.Is(err, pool.ErrUnknownMarket) {
		respondError(w, http.StatusNotFound, "market not found", err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read vault", err.Error())
		return
	}
	respondJSON(w, v)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, r)
	if !ok {
		return
	}
	info := AccountInfo{Address: addr}
	err := s.app.DB.View(func(tx *state.Tx) error {
		var err error
		if info.Base, err = s.app.Base.BalanceOf(tx, addr); err != nil {
			return err
		}
		if info.Collateral, err = s.app.Collateral.BalanceOf(tx, addr); err != nil {
			return err
		}
		info.Counter, err = s.app.Engine.GetCounter(tx, addr)
		return err
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read account", err.Error())
		return
	}
	respondJSON(w, info)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	raw, err := hexutil.Decode(mux.Vars(r)["hash"])
	if err != nil || len(raw) != common.HashLength {
		respondError(w, http.StatusBadRequest, "invalid order hash", "expected 0x-prefixed 32-byte hex")
		return
	}
	hash := common.BytesToHash(raw)
	var status settlement.OrderStatus
	err = s.app.DB.View(func(tx *state.Tx) error {
		var err error
		status, err = s.app.Engine.GetOrderStatus(tx, hash)
		return err
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read order", err.Error())
		return
	}
	respondJSON(w, OrderStatusInfo{Hash: hash, Filled: status.Filled, Cancelled: status.Cancelled})
}

func (s *Server) handleLeverage(w http.ResponseWriter, r *http.Request) {
	var req LeverageRequest
	caller, ok := s.readSigned(w, r, &req)
	if !ok {
		return
	}
	if req.InitialDeposit == nil || req.ResultingAdditionalCollateral == nil || req.AmountToBorrow == nil {
		respondError(w, http.StatusBadRequest, "missing amount",
			"initialDeposit, resultingAdditionalCollateral and amountToBorrow are required")
		return
	}

	err := s.app.Leverage(caller, &req.Order, req.InitialDeposit, req.ResultingAdditionalCollateral, req.AmountToBorrow, req.Proof)
	if err != nil {
		s.logger.Info("leverage_rejected", zap.String("caller", caller.Hex()), zap.Error(err))
		respondExecutionError(w, err)
		return
	}
	s.logger.Info("leverage_submitted",
		zap.String("caller", caller.Hex()),
		zap.String("collateral", req.ResultingAdditionalCollateral.Dec()),
		zap.String("borrow", req.AmountToBorrow.Dec()))
	s.respondSettled(w, caller, &req.Order)
}

func (s *Server) handleDeleverage(w http.ResponseWriter, r *http.Request) {
	var req DeleverageRequest
	caller, ok := s.readSigned(w, r, &req)
	if !ok {
		return
	}
	if req.CollateralToRemove == nil || req.DebtToRepay == nil {
		respondError(w, http.StatusBadRequest, "missing amount", "collateralToRemove and debtToRepay are required")
		return
	}

	if err := s.app.Deleverage(caller, &req.Order, req.CollateralToRemove, req.DebtToRepay); err != nil {
		s.logger.Info("deleverage_rejected", zap.String("caller", caller.Hex()), zap.Error(err))
		respondExecutionError(w, err)
		return
	}
	s.logger.Info("deleverage_submitted",
		zap.String("caller", caller.Hex()),
		zap.String("collateral", req.CollateralToRemove.Dec()),
		zap.String("repay", req.DebtToRepay.Dec()))
	s.respondSettled(w, caller, &req.Order)
}

func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	var req SetupRequest
	caller, ok := s.readSigned(w, r, &req)
	if !ok {
		return
	}
	var err error
	switch req.Role {
	case "borrower":
		err = s.app.Setup(caller)
	case "counterparty":
		err = s.app.ApproveEngine(caller)
	default:
		respondError(w, http.StatusBadRequest, "invalid role", `expected "borrower" or "counterparty"`)
		return
	}
	if err != nil {
		respondExecutionError(w, err)
		return
	}
	s.logger.Info("account_setup", zap.String("caller", caller.Hex()), zap.String("role", req.Role))
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req FaucetRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.Address == (common.Address{}) {
		respondError(w, http.StatusBadRequest, "missing address", "")
		return
	}
	if err := s.app.Faucet(req.Address, req.Base, req.Collateral); err != nil {
		respondExecutionError(w, err)
		return
	}
	s.logger.Info("faucet_minted", zap.String("address", req.Address.Hex()))
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helper Functions
// ==============================

// readSigned authenticates the body and decodes it into dst.
func (s *Server) readSigned(w http.ResponseWriter, r *http.Request, dst interface{}) (common.Address, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
		return common.Address{}, false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return common.Address{}, false
	}
	caller, err := authenticate(body)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid signature", err.Error())
		return common.Address{}, false
	}
	return caller, true
}

func (s *Server) vaultInfo(market uint8, addr common.Address) (VaultInfo, error) {
	v, err := s.app.Vault(market, addr)
	if err != nil {
		return VaultInfo{}, err
	}
	return VaultInfo{
		Market:         market,
		Address:        addr,
		Collateral:     v.Collateral,
		NormalizedDebt: v.NormalizedDebt,
		Debt:           v.Debt,
		Gem:            v.Gem,
		Rate:           v.Rate,
	}, nil
}

func (s *Server) respondSettled(w http.ResponseWriter, caller common.Address, order *settlement.Order) {
	var hash common.Hash
	err := s.app.DB.View(func(tx *state.Tx) error {
		var err error
		hash, err = s.app.Engine.GetOrderHash(tx, &order.Parameters)
		return err
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to hash order", err.Error())
		return
	}
	v, err := s.vaultInfo(s.app.Market, caller)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read vault", err.Error())
		return
	}
	respondJSON(w, SettlementResponse{Status: "settled", OrderHash: hash, Vault: v})
}

func parseMarket(w http.ResponseWriter, r *http.Request) (uint8, bool) {
	n, err := strconv.ParseUint(mux.Vars(r)["market"], 10, 8)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid market", err.Error())
		return 0, false
	}
	return uint8(n), true
}

func parseAddress(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	raw := mux.Vars(r)["address"]
	if !common.IsHexAddress(raw) {
		respondError(w, http.StatusBadRequest, "invalid address", raw)
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	writeError(w, status, ErrorResponse{Error: error, Message: message})
}

func writeError(w http.ResponseWriter, status int, body ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// respondExecutionError maps a failed ledger call to a response. Aborted
// transactions (panics) are server faults; everything else is a rejected
// request and nothing was applied.
func respondExecutionError(w http.ResponseWriter, err error) {
	var panicErr *state.PanicError
	if errors.As(err, &panicErr) {
		respondError(w, http.StatusInternalServerError, "transaction aborted", err.Error())
		return
	}
	var rule *leverage.RuleError
	if errors.As(err, &rule) {
		writeError(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:    rule.Rule.Error(),
			Message:  err.Error(),
			Actual:   rule.Actual,
			Expected: rule.Expected,
		})
		return
	}
	respondError(w, http.StatusUnprocessableEntity, "rejected", err.Error())
}
