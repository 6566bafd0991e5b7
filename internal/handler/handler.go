package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/tradespot/deposit-service/internal/infrastructure/auth"
	service "github.com/tradespot/deposit-service/internal/services"
	pkgerrors "github.com/tradespot/deposit-service/pkg/errors"
)

type Handler struct {
	accounts service.AccountService
	deposits service.DepositService
}

func NewHandler(accounts service.AccountService, deposits service.DepositService) *Handler {
	return &Handler{accounts: accounts, deposits: deposits}
}

type errorResponse struct {
	Error string `json:"error"`
}

type startDepositResponse struct {
	SessionID string    `json:"sessionId"`
	Address   string    `json:"address"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/login", h.Login).Methods("POST")
	r.HandleFunc("/register", h.Register).Methods("POST")
}

func (h *Handler) RegisterProtectedRoutes(r *mux.Router) {
	r.HandleFunc("/deposit/start", h.StartDeposit).Methods("POST")
	r.HandleFunc("/deposit/status", h.DepositStatus).Methods("GET")
	r.HandleFunc("/balance", h.GetBalance).Methods("GET")
	r.HandleFunc("/history", h.GetDepositHistory).Methods("GET")
	r.HandleFunc("/history/{id:[0-9]+}", h.GetTransaction).Methods("GET")
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	token, err := h.accounts.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrInvalidCredentials) {
			h.writeError(w, http.StatusUnauthorized, err)
		} else {
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	userID, err := h.accounts.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, pkgerrors.ErrUsernameExists):
			h.writeError(w, http.StatusConflict, err)
		case errors.Is(err, pkgerrors.ErrInvalidInput):
			h.writeError(w, http.StatusBadRequest, err)
		default:
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]int32{"user_id": userID})
}

func (h *Handler) StartDeposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, pkgerrors.ErrNotAuthenticated)
		return
	}

	// amount may be sent as a JSON number or a numeric string.
	var req struct {
		Amount *decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Amount == nil {
		h.writeError(w, http.StatusBadRequest, pkgerrors.ErrInvalidAmount)
		return
	}

	session, err := h.deposits.StartSession(r.Context(), userID, *req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, pkgerrors.ErrInvalidAmount):
			h.writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, pkgerrors.ErrNotAuthenticated):
			h.writeError(w, http.StatusUnauthorized, err)
		default:
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, startDepositResponse{
		SessionID: session.ID,
		Address:   session.Address,
		ExpiresAt: session.ExpiresAt,
	})
}

func (h *Handler) DepositStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, pkgerrors.ErrNotAuthenticated)
		return
	}

	status, err := h.deposits.GetSessionStatus(r.Context(), userID)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrNotAuthenticated) {
			h.writeError(w, http.StatusUnauthorized, err)
		} else {
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, pkgerrors.ErrNotAuthenticated)
		return
	}

	balance, err := h.accounts.GetBalance(r.Context(), userID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"balance": balance.String()})
}

func (h *Handler) GetDepositHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, pkgerrors.ErrNotAuthenticated)
		return
	}

	transactions, err := h.accounts.GetDepositHistory(r.Context(), userID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}

	h.writeJSON(w, http.StatusOK, transactions)
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, pkgerrors.ErrNotAuthenticated)
		return
	}

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 32)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, pkgerrors.ErrInvalidInput)
		return
	}

	tx, err := h.accounts.GetTransaction(r.Context(), userID, int32(id))
	if err != nil {
		if errors.Is(err, pkgerrors.ErrTransactionNotFound) {
			h.writeError(w, http.StatusNotFound, err)
		} else {
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, tx)
}
