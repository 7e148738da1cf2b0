package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"PerpExchange/internal/domain/models/transport"
	"PerpExchange/internal/services/account"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

type UserHandler struct {
	log            *slog.Logger
	accountService accountService
	validate       *validator.Validate
}

type accountService interface {
	RegisterNewTrader(ctx context.Context, email string, password string) (int64, error)
	Login(ctx context.Context, email, password string) (int64, string, error)
	Balances(ctx context.Context, id int64) (decimal.Decimal, decimal.Decimal, error)
	Deposit(ctx context.Context, id int64, amount decimal.Decimal) (decimal.Decimal, error)
	Withdraw(ctx context.Context, id int64, amount decimal.Decimal) (decimal.Decimal, error)
}

func NewUserHandler(log *slog.Logger, accountService accountService, validate *validator.Validate) *UserHandler {
	return &UserHandler{
		log:            log,
		accountService: accountService,
		validate:       validate,
	}
}

func (h *UserHandler) Routes() chi.Router {
	router := chi.NewRouter()

	router.Use(middleware.Recoverer)

	router.Route("/api/user", func(router chi.Router) {
		router.Post("/register", h.PostRegister)
		router.Post("/login", h.PostLogin)

		router.Group(func(routerWithAuth chi.Router) {
			// routerWithAuth.Use(h.authMiddleware)

			routerWithAuth.Post("/balance", h.GetBalance)
			routerWithAuth.Post("/balance/deposit", h.PostDeposit)
			routerWithAuth.Post("/balance/withdraw", h.PostWithdraw)
		})
	})

	return router
}

func (h *UserHandler) PostRegister(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var regReq transport.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&regReq); err != nil {
		h.log.Error("Error decoding register request", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(transport.ErrorResponse{
			Error: "Failed to decode request body",
		})
		return
	}

	if err := h.validate.Struct(&regReq); err != nil {
		h.log.Error("Error validating register request", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(transport.ErrorResponse{
			Error: "Invalid email or password format",
		})
		return
	}

	userID, err := h.accountService.RegisterNewTrader(r.Context(), regReq.Email, regReq.Password)
	if err != nil {
		h.log.Error("Error registering trader", "error", err)

		if errors.Is(err, account.ErrTraderAlreadyExists) {
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(transport.ErrorResponse{
				Error: "User already exists",
			})
			return
		}

		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(transport.ErrorResponse{
			Error: "Failed to register user",
		})
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(transport.RegisterResponse{
		Id: userID,
	})
}

func (h *UserHandler) PostLogin(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var loginReq transport.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&loginReq); err != nil {
		h.log.Error("Error decoding login request", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(transport.ErrorResponse{
			Error: "Failed to decode request body",
		})
		return
	}

	if err := h.validate.Struct(&loginReq); err != nil {
		h.log.Error("Error validating login request", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(transport.ErrorResponse{
			Error: "Invalid email or password format",
		})
		return
	}

	userID, email, err := h.accountService.Login(r.Context(), loginReq.Email, loginReq.Password)
	if err != nil {
		h.log.Error("Error logging in trader", "error", err)

		if errors.Is(err, account.ErrInvalidCredentials) {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(transport.ErrorResponse{
				Error: "Invalid email or password",
			})
			return
		}

		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(transport.ErrorResponse{
			Error: "Failed to login user",
		})
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(struct {
		ID    int64  `json:"id"`
		Email string `json:"email"`
	}{
		ID:    userID,
		Email: email,
	})
}

func (h *UserHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req transport.BalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Error("Error decoding balance request", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(transport.ErrorResponse{
			Error: "Failed to decode request body",
		})
		return
	}

	if err := h.validate.Struct(&req); err != nil {
		h.log.Error("Error validating balance request", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(transport.ErrorResponse{
			Error: "Invalid request format",
		})
		return
	}

	balance, escrow, err := h.accountService.Balances(r.Context(), req.UserID)
	if err != nil {
		h.log.Error("Error getting balance", "error", err, "userId", req.UserID)

		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(transport.ErrorResponse{
			Error: "Failed to get balance",
		})
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(transport.BalanceResponse{
		UserID:  req.UserID,
		Balance: balance,
		Escrow:  escrow,
	})
}

func (h *UserHandler) PostDeposit(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req transport.DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Error("Failed to decode request", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(transport.ErrorResponse{
			Error: "Invalid request format",
		})
		return
	}

	if err := h.validate.Struct(req); err != nil {
		h.log.Error("Validation failed", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(transport.ErrorResponse{
			Error: "Validation failed: userId and amount (positive) are required",
		})
		return
	}

	newBalance, err := h.accountService.Deposit(r.Context(), req.UserID, req.Amount)
	if err != nil {
		h.log.Error("Deposit failed", "error", err, "userId", req.UserID)

		if errors.Is(err, account.ErrInvalidAmount) {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(transport.ErrorResponse{
				Error: "Amount must be positive",
			})
			return
		}

		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(transport.ErrorResponse{
			Error: "Failed to deposit",
		})
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(transport.BalanceResponse{
		UserID:  req.UserID,
		Balance: newBalance,
	})
}

func (h *UserHandler) PostWithdraw(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req transport.WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Error("Failed to decode request", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(transport.ErrorResponse{
			Error: "Invalid request format",
		})
		return
	}

	if err := h.validate.Struct(req); err != nil {
		h.log.Error("Validation failed", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(transport.ErrorResponse{
			Error: "Validation failed: userId and amount (positive) are required",
		})
		return
	}

	newBalance, err := h.accountService.Withdraw(r.Context(), req.UserID, req.Amount)
	if err != nil {
		h.log.Error("Withdraw failed", "error", err, "userId", req.UserID)

		if errors.Is(err, account.ErrInsufficientFunds) {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(transport.ErrorResponse{
				Error: "Insufficient funds",
			})
			return
		}

		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(transport.ErrorResponse{
			Error: "Failed to withdraw",
		})
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(transport.BalanceResponse{
		UserID:  req.UserID,
		Balance: newBalance,
	})
}
