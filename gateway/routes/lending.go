package routes

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"credlend/core"
	"credlend/core/state"
	"credlend/crypto"
	"credlend/gateway/middleware"
	nativecommon "credlend/native/common"
	"credlend/native/lending"
)

type lendingRoutes struct {
	module *core.LendingModule
	log    *slog.Logger
}

func newLendingRoutes(module *core.LendingModule, log *slog.Logger) *lendingRoutes {
	if log == nil {
		log = slog.Default()
	}
	return &lendingRoutes{module: module, log: log}
}

func (lr *lendingRoutes) mount(r chi.Router) {
	r.Post("/lending/initialize", lr.handleInitialize)
	r.Get("/lending/config", lr.handleGetConfig)
	r.Put("/lending/config", lr.handleUpdateConfig)
	r.Post("/lending/admins", lr.handleAddAdmin)
	r.Post("/lending/whitelist", lr.handleWhitelistAdd)
	r.Delete("/lending/whitelist/{address}", lr.handleWhitelistRemove)
	r.Get("/lending/whitelist/{address}", lr.handleWhitelistStatus)

	r.Post("/treasury/deposits", lr.handleDeposit)
	r.Post("/treasury/withdrawals", lr.handleWithdraw)
	r.Get("/treasury/balances/{token}", lr.handleTreasuryBalance)

	r.Post("/loans", lr.handleRequestLoan)
	r.Post("/loans/repay", lr.handleRepayLoan)
	r.Post("/loans/{address}/liquidate", lr.handleLiquidateLoan)
	r.Get("/loans/{address}", lr.handleGetLoan)

	r.Get("/accounts/{address}/balances", lr.handleAccountBalances)
}

type configParamsPayload struct {
	InterestRateBps    uint16 `json:"interestRateBps"`
	MaxBorrowPctBps    uint16 `json:"maxBorrowPctBps"`
	MinLoanDurationSec int64  `json:"minLoanDurationSec"`
	MaxLoanDurationSec int64  `json:"maxLoanDurationSec"`
}

func (p configParamsPayload) params() lending.ConfigParams {
	return lending.ConfigParams{
		InterestRateBps:    p.InterestRateBps,
		MaxBorrowPctBps:    p.MaxBorrowPctBps,
		MinLoanDurationSec: p.MinLoanDurationSec,
		MaxLoanDurationSec: p.MaxLoanDurationSec,
	}
}

type configPayload struct {
	FoundingAdmin      string `json:"foundingAdmin"`
	TreasuryVault      string `json:"treasuryVault"`
	TokenA             string `json:"tokenA"`
	TokenB             string `json:"tokenB"`
	InterestRateBps    uint16 `json:"interestRateBps"`
	MaxBorrowPctBps    uint16 `json:"maxBorrowPctBps"`
	MinLoanDurationSec int64  `json:"minLoanDurationSec"`
	MaxLoanDurationSec int64  `json:"maxLoanDurationSec"`
}

func configToPayload(cfg *lending.Config) configPayload {
	return configPayload{
		FoundingAdmin:      cfg.FoundingAdmin.String(),
		TreasuryVault:      cfg.TreasuryVault.String(),
		TokenA:             cfg.TokenA,
		TokenB:             cfg.TokenB,
		InterestRateBps:    cfg.InterestRateBps,
		MaxBorrowPctBps:    cfg.MaxBorrowPctBps,
		MinLoanDurationSec: cfg.MinLoanDurationSec,
		MaxLoanDurationSec: cfg.MaxLoanDurationSec,
	}
}

type loanPayload struct {
	Borrower         string `json:"borrower"`
	CollateralVault  string `json:"collateralVault"`
	CollateralLocked string `json:"collateralLocked"`
	Principal        string `json:"principal"`
	Token            string `json:"token"`
	RepaymentAmount  string `json:"repaymentAmount"`
	DueTime          int64  `json:"dueTime"`
	Active           bool   `json:"active"`
}

func loanToPayload(loan *lending.Loan) loanPayload {
	return loanPayload{
		Borrower:         loan.Borrower.String(),
		CollateralVault:  loan.CollateralVault.String(),
		CollateralLocked: loan.CollateralLocked.String(),
		Principal:        loan.Principal.String(),
		Token:            loan.Token,
		RepaymentAmount:  loan.RepaymentAmount.String(),
		DueTime:          loan.DueTime,
		Active:           loan.Active,
	}
}

func (lr *lendingRoutes) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		TokenA string `json:"tokenA"`
		TokenB string `json:"tokenB"`
		configParamsPayload
	}
	if !decodeJSON(w, r, &payload) {
		return
	}
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	cfg, err := lr.module.Initialize(caller, payload.TokenA, payload.TokenB, payload.params())
	if err != nil {
		lr.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, configToPayload(cfg))
}

func (lr *lendingRoutes) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := lr.module.GetConfig()
	if err != nil {
		lr.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, configToPayload(cfg))
}

func (lr *lendingRoutes) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var payload configParamsPayload
	if !decodeJSON(w, r, &payload) {
		return
	}
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	cfg, err := lr.module.UpdateConfig(caller, payload.params())
	if err != nil {
		lr.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, configToPayload(cfg))
}

func (lr *lendingRoutes) handleAddAdmin(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Admin string `json:"admin"`
	}
	if !decodeJSON(w, r, &payload) {
		return
	}
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	admin, err := crypto.DecodeAddress(strings.TrimSpace(payload.Admin))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload{Error: "invalid admin address"})
		return
	}
	if err := lr.module.AddAdmin(caller, admin); err != nil {
		lr.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"admin": admin.String()})
}

func (lr *lendingRoutes) handleWhitelistAdd(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		User string `json:"user"`
	}
	if !decodeJSON(w, r, &payload) {
		return
	}
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	user, err := crypto.DecodeAddress(strings.TrimSpace(payload.User))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload{Error: "invalid user address"})
		return
	}
	if err := lr.module.WhitelistUser(caller, user); err != nil {
		lr.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"user": user.String()})
}

func (lr *lendingRoutes) handleWhitelistRemove(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	user, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}
	if err := lr.module.RemoveWhitelist(caller, user); err != nil {
		lr.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (lr *lendingRoutes) handleWhitelistStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}
	whitelisted, err := lr.module.IsWhitelisted(user)
	if err != nil {
		lr.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":        user.String(),
		"whitelisted": whitelisted,
	})
}

func (lr *lendingRoutes) handleDeposit(w http.ResponseWriter, r *http.Request) {
	caller, token, amount, ok := lr.decodeTreasuryRequest(w, r)
	if !ok {
		return
	}
	if err := lr.module.Deposit(caller, token, amount); err != nil {
		lr.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": lending.NormalizeToken(token), "amount": amount.String()})
}

func (lr *lendingRoutes) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	caller, token, amount, ok := lr.decodeTreasuryRequest(w, r)
	if !ok {
		return
	}
	if err := lr.module.Withdraw(caller, token, amount); err != nil {
		lr.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": lending.NormalizeToken(token), "amount": amount.String()})
}

func (lr *lendingRoutes) decodeTreasuryRequest(w http.ResponseWriter, r *http.Request) (crypto.Address, string, *big.Int, bool) {
	var payload struct {
		Token  string `json:"token"`
		Amount string `json:"amount"`
	}
	if !decodeJSON(w, r, &payload) {
		return crypto.Address{}, "", nil, false
	}
	caller, ok := requireCaller(w, r)
	if !ok {
		return crypto.Address{}, "", nil, false
	}
	amount, ok := parseAmount(w, payload.Amount)
	if !ok {
		return crypto.Address{}, "", nil, false
	}
	return caller, payload.Token, amount, true
}

func (lr *lendingRoutes) handleTreasuryBalance(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	balance, err := lr.module.TreasuryBalance(token)
	if err != nil {
		lr.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token":   lending.NormalizeToken(token),
		"balance": balance.String(),
	})
}

func (lr *lendingRoutes) handleRequestLoan(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		CollateralAmount string `json:"collateralAmount"`
		Amount           string `json:"amount"`
		DurationSec      int64  `json:"durationSec"`
		Token            string `json:"token"`
	}
	if !decodeJSON(w, r, &payload) {
		return
	}
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	collateral, ok := parseAmount(w, payload.CollateralAmount)
	if !ok {
		return
	}
	amount, ok := parseAmount(w, payload.Amount)
	if !ok {
		return
	}
	loan, err := lr.module.RequestLoan(caller, collateral, amount, payload.DurationSec, payload.Token)
	if err != nil {
		lr.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, loanToPayload(loan))
}

func (lr *lendingRoutes) handleRepayLoan(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	loan, err := lr.module.RepayLoan(caller)
	if err != nil {
		lr.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loanToPayload(loan))
}

func (lr *lendingRoutes) handleLiquidateLoan(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	borrower, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}
	seized, err := lr.module.LiquidateLoan(caller, borrower)
	if err != nil {
		lr.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"borrower": borrower.String(),
		"seized":   seized.String(),
	})
}

func (lr *lendingRoutes) handleGetLoan(w http.ResponseWriter, r *http.Request) {
	borrower, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}
	loan, err := lr.module.GetLoan(borrower)
	if err != nil {
		lr.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loanToPayload(loan))
}

func (lr *lendingRoutes) handleAccountBalances(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		writeJSON(w, http.StatusBadRequest, errorPayload{Error: "token query parameter required"})
		return
	}
	tokenBalance, nativeBalance, err := lr.module.AccountBalances(addr, token)
	if err != nil {
		lr.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"address": addr.String(),
		"token":   lending.NormalizeToken(token),
		"balance": tokenBalance.String(),
		"native":  nativeBalance.String(),
	})
}

type errorPayload struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

func (lr *lendingRoutes) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		lr.log.Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorPayload{
		Error:     err.Error(),
		RequestID: middleware.RequestIDFromContext(r.Context()),
	})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, lending.ErrInvalidAmount),
		errors.Is(err, lending.ErrInvalidDuration),
		errors.Is(err, lending.ErrUnsupportedToken):
		return http.StatusBadRequest
	case errors.Is(err, lending.ErrUnauthorized),
		errors.Is(err, lending.ErrNotWhitelisted),
		errors.Is(err, state.ErrUnauthorizedTransfer):
		return http.StatusForbidden
	case errors.Is(err, lending.ErrLoanNotFound),
		errors.Is(err, lending.ErrWhitelistNotFound):
		return http.StatusNotFound
	case errors.Is(err, lending.ErrAlreadyInitialized),
		errors.Is(err, lending.ErrNotInitialized),
		errors.Is(err, lending.ErrAdminExists),
		errors.Is(err, lending.ErrWhitelistExists),
		errors.Is(err, lending.ErrLoanActive),
		errors.Is(err, lending.ErrLoanNotActive),
		errors.Is(err, lending.ErrLoanNotDue):
		return http.StatusConflict
	case errors.Is(err, state.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func requireCaller(w http.ResponseWriter, r *http.Request) (crypto.Address, bool) {
	caller, ok := middleware.Caller(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorPayload{Error: "caller identity required"})
		return crypto.Address{}, false
	}
	return caller, true
}

func pathAddress(w http.ResponseWriter, r *http.Request, param string) (crypto.Address, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, param))
	addr, err := crypto.DecodeAddress(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload{Error: "invalid address"})
		return crypto.Address{}, false
	}
	return addr, true
}

func parseAmount(w http.ResponseWriter, raw string) (*big.Int, bool) {
	trimmed := strings.TrimSpace(raw)
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() <= 0 {
		writeJSON(w, http.StatusBadRequest, errorPayload{Error: "amount must be a positive integer"})
		return nil, false
	}
	return amount, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload{Error: "malformed request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
