package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"PerpExchange/internal/domain/models"
	"PerpExchange/internal/storage/postgres"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrTraderAlreadyExists = errors.New("trader already exists")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidCredentials  = errors.New("invalid credentials")
)

type Manager interface {
	CreateUser(ctx context.Context,
		email string,
		passHash []byte,
		balance decimal.Decimal,
		createdAt time.Time) (int64, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	GetUserById(ctx context.Context, id int64) (models.User, error)
}

type BalanceManager interface {
	GetBalance(ctx context.Context, id int64) (decimal.Decimal, error)
	IncreaseBalance(ctx context.Context, id int64, increaseAmount decimal.Decimal) (decimal.Decimal, error)
	DecreaseBalance(ctx context.Context, id int64, decreaseAmount decimal.Decimal) (decimal.Decimal, error)
}

// Service manages trader accounts and their free collateral. Margin locked
// behind resting and pending orders lives in escrow and is not withdrawable.
type Service struct {
	log            *slog.Logger
	manager        Manager
	balanceManager BalanceManager
}

func New(log *slog.Logger, manager Manager, balanceManager BalanceManager) *Service {
	return &Service{
		log:            log,
		manager:        manager,
		balanceManager: balanceManager,
	}
}

func (s *Service) RegisterNewTrader(ctx context.Context, email string, password string) (int64, error) {
	const op = "account.RegisterNewTrader"

	passHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		s.log.Error("Failed to generate password hash", "err", err)
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	id, err := s.manager.CreateUser(ctx, email, passHash, decimal.Zero, time.Now())
	if err != nil {
		if errors.Is(err, postgres.ErrUserAlreadyExists) {
			s.log.Error("Failed to register already existing trader", "email", email)
			return 0, ErrTraderAlreadyExists
		}
		s.log.Error("Failed to register trader", "email", email, "err", err)
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (int64, string, error) {
	const op = "account.Login"

	user, err := s.manager.GetUserByEmail(ctx, email)
	if err != nil {
		s.log.Error("Failed to get trader by email", "email", email, "err", err, "op", op)
		return 0, "", fmt.Errorf("%s: %w", op, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PassHash), []byte(password)); err != nil {
		s.log.Error("invalid credentials", slog.String("error", err.Error()))

		return 0, "", fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	return user.Id, user.Email, nil
}

// Balance returns the trader's free collateral, excluding escrow.
func (s *Service) Balance(ctx context.Context, id int64) (decimal.Decimal, error) {
	const op = "account.Balance"

	balance, err := s.balanceManager.GetBalance(ctx, id)
	if err != nil {
		s.log.Error("Failed to get balance", "id", id, "err", err)
		return decimal.Zero, fmt.Errorf("%s: %w", op, err)
	}

	return balance, nil
}

// Balances returns free collateral and escrowed margin side by side.
func (s *Service) Balances(ctx context.Context, id int64) (decimal.Decimal, decimal.Decimal, error) {
	const op = "account.Balances"

	user, err := s.manager.GetUserById(ctx, id)
	if err != nil {
		s.log.Error("Failed to get trader", "id", id, "err", err)
		return decimal.Zero, decimal.Zero, fmt.Errorf("%s: %w", op, err)
	}

	return user.Balance, user.Escrow, nil
}

func (s *Service) Deposit(ctx context.Context, id int64, amount decimal.Decimal) (decimal.Decimal, error) {
	const op = "account.Deposit"

	if amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrInvalidAmount
	}

	updatedBalance, err := s.balanceManager.IncreaseBalance(ctx, id, amount)
	if err != nil {
		s.log.Error("Failed to deposit", "id", id, "err", err)
		return decimal.Zero, fmt.Errorf("%s: %w", op, err)
	}

	return updatedBalance, nil
}

func (s *Service) Withdraw(ctx context.Context, id int64, amount decimal.Decimal) (decimal.Decimal, error) {
	const op = "account.Withdraw"

	if amount.LessThanOrEqual(decimal.Zero) {
		s.log.Error("Withdraw amount below zero", "id", id, "amount", amount)
		return decimal.Zero, ErrInvalidAmount
	}

	currentBalance, err := s.balanceManager.GetBalance(ctx, id)
	if err != nil {
		s.log.Error("Failed to get balance", "id", id, "err", err)
		return decimal.Zero, fmt.Errorf("%s: %w", op, err)
	}

	if amount.GreaterThan(currentBalance) {
		s.log.Error("Insufficient funds", "id", id, "currentBalance", currentBalance)
		return decimal.Zero, ErrInsufficientFunds
	}

	updatedBalance, err := s.balanceManager.DecreaseBalance(ctx, id, amount)
	if err != nil {
		s.log.Error("Failed to withdraw", "id", id, "err", err)
		return decimal.Zero, fmt.Errorf("%s: %w", op, err)
	}

	return updatedBalance, nil
}
