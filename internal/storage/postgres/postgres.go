package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"PerpExchange/internal/domain/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	uniqueViolation = "23505"
)

var (
	ErrUserAlreadyExists     = errors.New("user already exists")
	ErrTradeNotExists        = errors.New("trade does not exist")
	ErrLimitOrderNotExists   = errors.New("open limit order does not exist")
	ErrPendingOrderNotExists = errors.New("pending order does not exist")
	ErrPairNotExists         = errors.New("trading pair does not exist")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrDuplicateOrder        = errors.New("order already exists")
)

type Storage struct {
	db *pgxpool.Pool
}

func New(connString string) (*Storage, error) {
	const op = "postgresql.New"
	log := slog.With("op", op)
	db, err := pgxpool.New(context.Background(), connString)
	if err != nil {
		log.Error("Failed to connect to database", "err", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	err = db.Ping(context.Background())
	if err != nil {
		log.Error("Failed to ping database", "err", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{db: db}, nil
}

// ---------- accounts ----------

func (s *Storage) CreateUser(ctx context.Context,
	email string,
	passHash []byte,
	balance decimal.Decimal,
	createdAt time.Time) (int64, error) {
	const op = "postgresql.CreateUser"
	log := slog.With("op", op)

	const queryCreateUser = "INSERT INTO users(email, pass_hash, balance, created) VALUES ($1, $2, $3, $4) RETURNING id"
	var userId int64
	err := s.db.QueryRow(ctx, queryCreateUser, email, passHash, balance, createdAt).Scan(&userId)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			log.Error("User already exists", "email", email)
			return 0, ErrUserAlreadyExists
		}
		log.Error("Failed to create user", "email", email, "err", err)
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return userId, nil
}

func (s *Storage) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	const op = "postgresql.GetUserByEmail"
	log := slog.With("op", op)

	const query = `SELECT id, email, pass_hash, balance, escrow, created FROM users WHERE email = $1`
	var user models.User
	err := s.db.QueryRow(ctx, query, email).
		Scan(&user.Id, &user.Email, &user.PassHash, &user.Balance, &user.Escrow, &user.Created)
	if err != nil {
		log.Error("Failed to get user", "email", email, "err", err)
		return user, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (s *Storage) GetUserById(ctx context.Context, id int64) (models.User, error) {
	const op = "postgresql.GetUserById"
	log := slog.With("op", op)

	const query = `SELECT id, email, pass_hash, balance, escrow, created FROM users WHERE id = $1`
	var user models.User
	err := s.db.QueryRow(ctx, query, id).
		Scan(&user.Id, &user.Email, &user.PassHash, &user.Balance, &user.Escrow, &user.Created)
	if err != nil {
		log.Error("Failed to get user", "id", id, "err", err)
		return user, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (s *Storage) GetBalance(ctx context.Context, id int64) (decimal.Decimal, error) {
	const op = "postgresql.GetBalance"
	log := slog.With("op", op)

	const query = `SELECT balance FROM users WHERE id = $1`
	var balance decimal.Decimal
	err := s.db.QueryRow(ctx, query, id).Scan(&balance)
	if err != nil {
		log.Error("Failed to get balance", "id", id, "err", err)
		return decimal.Decimal{}, fmt.Errorf("%s: %w", op, err)
	}

	return balance, nil
}

func (s *Storage) IncreaseBalance(ctx context.Context, id int64, increaseAmount decimal.Decimal) (decimal.Decimal, error) {
	const op = "postgresql.IncreaseBalance"
	log := slog.With("op", op)

	const query = "UPDATE users SET balance = balance + $1 WHERE id = $2 RETURNING balance"
	var updatedBalance decimal.Decimal
	err := s.db.QueryRow(ctx, query, increaseAmount, id).Scan(&updatedBalance)
	if err != nil {
		log.Error("Failed to increase balance", "id", id, "err", err)
		return decimal.Zero, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("balance increased", "id", id, "amount", increaseAmount)
	return updatedBalance, nil
}

func (s *Storage) DecreaseBalance(ctx context.Context, id int64, decreaseAmount decimal.Decimal) (decimal.Decimal, error) {
	const op = "postgresql.DecreaseBalance"
	log := slog.With("op", op)

	const query = "UPDATE users SET balance = balance - $1 WHERE id = $2 RETURNING balance"
	var updatedBalance decimal.Decimal
	err := s.db.QueryRow(ctx, query, decreaseAmount, id).Scan(&updatedBalance)
	if err != nil {
		log.Error("Failed to decrease balance", "id", id, "err", err)
		return decimal.Zero, fmt.Errorf("%s: %w", op, err)
	}
	if updatedBalance.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s: %w", op, ErrInsufficientFunds)
	}

	log.Info("balance decreased", "id", id, "amount", decreaseAmount)
	return updatedBalance, nil
}

// ---------- trading pairs ----------

func (s *Storage) AddPair(ctx context.Context, p models.PairConfig) (int64, error) {
	const op = "postgresql.AddPair"
	log := slog.With("op", op)

	const query = `
        INSERT INTO pairs(idx, ticker, min_leverage, max_leverage, min_lev_position, guaranteed_sl)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING idx`
	var idx int64
	err := s.db.QueryRow(ctx, query, p.Index, p.Ticker, p.MinLeverage, p.MaxLeverage, p.MinLevPosition, p.GuaranteedSl).Scan(&idx)
	if err != nil {
		log.Error("Failed to add pair", "ticker", p.Ticker, "err", err)
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("Added trading pair", "idx", idx, "ticker", p.Ticker)
	return idx, nil
}

func (s *Storage) PairConfig(ctx context.Context, pairIndex int64) (models.PairConfig, error) {
	const op = "postgresql.PairConfig"
	log := slog.With("op", op)

	const query = `
        SELECT idx, ticker, min_leverage, max_leverage, min_lev_position, guaranteed_sl
        FROM pairs WHERE idx = $1`
	var p models.PairConfig
	err := s.db.QueryRow(ctx, query, pairIndex).
		Scan(&p.Index, &p.Ticker, &p.MinLeverage, &p.MaxLeverage, &p.MinLevPosition, &p.GuaranteedSl)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return p, fmt.Errorf("%s: %w", op, ErrPairNotExists)
		}
		log.Error("Failed to get pair", "idx", pairIndex, "err", err)
		return p, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

func (s *Storage) PairByTicker(ctx context.Context, ticker string) (models.PairConfig, error) {
	const op = "postgresql.PairByTicker"
	log := slog.With("op", op)

	const query = `
        SELECT idx, ticker, min_leverage, max_leverage, min_lev_position, guaranteed_sl
        FROM pairs WHERE ticker = $1`
	var p models.PairConfig
	err := s.db.QueryRow(ctx, query, ticker).
		Scan(&p.Index, &p.Ticker, &p.MinLeverage, &p.MaxLeverage, &p.MinLevPosition, &p.GuaranteedSl)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return p, fmt.Errorf("%s: %w", op, ErrPairNotExists)
		}
		log.Error("Failed to get pair", "ticker", ticker, "err", err)
		return p, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

// ---------- trades ----------

const tradeColumns = `trader, pair_index, idx, position_size, open_price, side, leverage,
        take_profit, stop_loss, being_closed, open_block, created_at`

func scanTrade(row pgx.Row) (models.Trade, error) {
	var t models.Trade
	err := row.Scan(&t.Trader, &t.PairIndex, &t.Index, &t.PositionSize, &t.OpenPrice, &t.Side,
		&t.Leverage, &t.TakeProfit, &t.StopLoss, &t.BeingClosed, &t.OpenBlock, &t.CreatedAt)
	return t, err
}

func (s *Storage) GetTrade(ctx context.Context, trader, pairIndex, index int64) (models.Trade, error) {
	const op = "postgresql.GetTrade"
	log := slog.With("op", op)

	query := `SELECT ` + tradeColumns + ` FROM trades WHERE trader = $1 AND pair_index = $2 AND idx = $3`
	t, err := scanTrade(s.db.QueryRow(ctx, query, trader, pairIndex, index))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return t, fmt.Errorf("%s: %w", op, ErrTradeNotExists)
		}
		log.Error("Failed to get trade", "trader", trader, "pair", pairIndex, "idx", index, "err", err)
		return t, fmt.Errorf("%s: %w", op, err)
	}
	return t, nil
}

func (s *Storage) GetUserTrades(ctx context.Context, trader int64) ([]models.Trade, error) {
	const op = "postgresql.GetUserTrades"
	log := slog.With("op", op)

	query := `SELECT ` + tradeColumns + ` FROM trades WHERE trader = $1 ORDER BY pair_index, idx`
	rows, err := s.db.Query(ctx, query, trader)
	if err != nil {
		log.Error("Failed to get user trades", "trader", trader, "err", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			log.Error("Failed to scan trade", "trader", trader, "err", err)
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		trades = append(trades, t)
	}
	return trades, nil
}

func (s *Storage) TradesByPair(ctx context.Context, pairIndex int64) ([]models.Trade, error) {
	const op = "postgresql.TradesByPair"
	log := slog.With("op", op)

	query := `SELECT ` + tradeColumns + ` FROM trades WHERE pair_index = $1`
	rows, err := s.db.Query(ctx, query, pairIndex)
	if err != nil {
		log.Error("Failed to get pair trades", "pair", pairIndex, "err", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			log.Error("Failed to scan trade", "pair", pairIndex, "err", err)
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		trades = append(trades, t)
	}
	return trades, nil
}

func (s *Storage) TradesCount(ctx context.Context, trader, pairIndex int64) (int64, error) {
	const op = "postgresql.TradesCount"

	const query = `SELECT COUNT(*) FROM trades WHERE trader = $1 AND pair_index = $2`
	var count int64
	if err := s.db.QueryRow(ctx, query, trader, pairIndex).Scan(&count); err != nil {
		slog.Error("Failed to count trades", "op", op, "trader", trader, "pair", pairIndex, "err", err)
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return count, nil
}

func (s *Storage) UpdateTradeTp(ctx context.Context, trader, pairIndex, index int64, newTp decimal.Decimal) error {
	const op = "postgresql.UpdateTradeTp"
	log := slog.With("op", op)

	const query = `UPDATE trades SET take_profit = $1 WHERE trader = $2 AND pair_index = $3 AND idx = $4`
	tag, err := s.db.Exec(ctx, query, newTp, trader, pairIndex, index)
	if err != nil {
		log.Error("Failed to update tp", "trader", trader, "err", err)
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, ErrTradeNotExists)
	}
	return nil
}

func (s *Storage) UpdateTradeSl(ctx context.Context, trader, pairIndex, index int64, newSl decimal.Decimal) error {
	const op = "postgresql.UpdateTradeSl"
	log := slog.With("op", op)

	const query = `UPDATE trades SET stop_loss = $1 WHERE trader = $2 AND pair_index = $3 AND idx = $4`
	tag, err := s.db.Exec(ctx, query, newSl, trader, pairIndex, index)
	if err != nil {
		log.Error("Failed to update sl", "trader", trader, "err", err)
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, ErrTradeNotExists)
	}
	return nil
}

// ---------- open limit orders ----------

const limitColumns = `trader, pair_index, idx, position_size, side, leverage, take_profit,
        stop_loss, min_price, max_price, order_type, block, created_at`

func scanLimitOrder(row pgx.Row) (models.OpenLimitOrder, error) {
	var o models.OpenLimitOrder
	err := row.Scan(&o.Trader, &o.PairIndex, &o.Index, &o.PositionSize, &o.Side, &o.Leverage,
		&o.TakeProfit, &o.StopLoss, &o.MinPrice, &o.MaxPrice, &o.OrderType, &o.Block, &o.CreatedAt)
	return o, err
}

// FirstEmptyLimitIndex returns the lowest free slot for (trader, pair).
func (s *Storage) FirstEmptyLimitIndex(ctx context.Context, trader, pairIndex int64) (int64, error) {
	const op = "postgresql.FirstEmptyLimitIndex"
	log := slog.With("op", op)

	const query = `SELECT idx FROM open_limit_orders WHERE trader = $1 AND pair_index = $2 ORDER BY idx`
	rows, err := s.db.Query(ctx, query, trader, pairIndex)
	if err != nil {
		log.Error("Failed to list limit indexes", "trader", trader, "pair", pairIndex, "err", err)
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var next int64
	for rows.Next() {
		var idx int64
		if err := rows.Scan(&idx); err != nil {
			return 0, fmt.Errorf("%s: %w", op, err)
		}
		if idx != next {
			break
		}
		next++
	}
	return next, nil
}

func (s *Storage) GetOpenLimitOrder(ctx context.Context, trader, pairIndex, index int64) (models.OpenLimitOrder, error) {
	const op = "postgresql.GetOpenLimitOrder"
	log := slog.With("op", op)

	query := `SELECT ` + limitColumns + ` FROM open_limit_orders WHERE trader = $1 AND pair_index = $2 AND idx = $3`
	o, err := scanLimitOrder(s.db.QueryRow(ctx, query, trader, pairIndex, index))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return o, fmt.Errorf("%s: %w", op, ErrLimitOrderNotExists)
		}
		log.Error("Failed to get limit order", "trader", trader, "pair", pairIndex, "idx", index, "err", err)
		return o, fmt.Errorf("%s: %w", op, err)
	}
	return o, nil
}

func (s *Storage) OpenLimitOrdersByPair(ctx context.Context, pairIndex int64) ([]models.OpenLimitOrder, error) {
	const op = "postgresql.OpenLimitOrdersByPair"
	log := slog.With("op", op)

	query := `SELECT ` + limitColumns + ` FROM open_limit_orders WHERE pair_index = $1`
	rows, err := s.db.Query(ctx, query, pairIndex)
	if err != nil {
		log.Error("Failed to list pair limit orders", "pair", pairIndex, "err", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var orders []models.OpenLimitOrder
	for rows.Next() {
		o, err := scanLimitOrder(rows)
		if err != nil {
			log.Error("Failed to scan limit order", "pair", pairIndex, "err", err)
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		orders = append(orders, o)
	}
	return orders, nil
}

func (s *Storage) OpenLimitOrdersCount(ctx context.Context, trader, pairIndex int64) (int64, error) {
	const op = "postgresql.OpenLimitOrdersCount"

	const query = `SELECT COUNT(*) FROM open_limit_orders WHERE trader = $1 AND pair_index = $2`
	var count int64
	if err := s.db.QueryRow(ctx, query, trader, pairIndex).Scan(&count); err != nil {
		slog.Error("Failed to count limit orders", "op", op, "trader", trader, "pair", pairIndex, "err", err)
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return count, nil
}

// PlaceLimitOrder stores a resting order and moves its margin from free
// balance into escrow, all in one transaction.
func (s *Storage) PlaceLimitOrder(ctx context.Context, o models.OpenLimitOrder) (err error) {
	const op = "postgresql.PlaceLimitOrder"
	log := slog.With("op", op, "trader", o.Trader, "pair", o.PairIndex, "idx", o.Index)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		log.Error("Failed to begin transaction", "err", err)
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	const queryInsert = `
        INSERT INTO open_limit_orders(` + limitColumns + `)
        VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err = tx.Exec(ctx, queryInsert,
		o.Trader, o.PairIndex, o.Index, o.PositionSize, o.Side, o.Leverage,
		o.TakeProfit, o.StopLoss, o.MinPrice, o.MaxPrice, o.OrderType, o.Block, o.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%s: %w", op, ErrDuplicateOrder)
		}
		log.Error("Failed to insert limit order", "err", err)
		return fmt.Errorf("%s: create order: %w", op, err)
	}

	if err = escrowIn(ctx, tx, o.Trader, o.PositionSize); err != nil {
		log.Error("Failed to escrow margin", "err", err)
		return fmt.Errorf("%s: %w", op, err)
	}

	if err = tx.Commit(ctx); err != nil {
		log.Error("Failed to commit transaction", "err", err)
		return fmt.Errorf("%s: commit transaction: %w", op, err)
	}

	log.Info("limit order placed")
	return nil
}

func (s *Storage) UpdateOpenLimitOrder(ctx context.Context, o models.OpenLimitOrder) error {
	const op = "postgresql.UpdateOpenLimitOrder"
	log := slog.With("op", op)

	const query = `
        UPDATE open_limit_orders
        SET take_profit = $1, stop_loss = $2, min_price = $3, max_price = $4
        WHERE trader = $5 AND pair_index = $6 AND idx = $7`
	tag, err := s.db.Exec(ctx, query, o.TakeProfit, o.StopLoss, o.MinPrice, o.MaxPrice, o.Trader, o.PairIndex, o.Index)
	if err != nil {
		log.Error("Failed to update limit order", "trader", o.Trader, "err", err)
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, ErrLimitOrderNotExists)
	}
	return nil
}

// CancelLimitOrder deletes a resting order and refunds its escrowed margin
// in one transaction.
func (s *Storage) CancelLimitOrder(ctx context.Context, trader, pairIndex, index int64) (err error) {
	const op = "postgresql.CancelLimitOrder"
	log := slog.With("op", op, "trader", trader, "pair", pairIndex, "idx", index)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		log.Error("Failed to begin transaction", "err", err)
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	const queryDelete = `
        DELETE FROM open_limit_orders
        WHERE trader = $1 AND pair_index = $2 AND idx = $3
        RETURNING position_size`
	var size decimal.Decimal
	err = tx.QueryRow(ctx, queryDelete, trader, pairIndex, index).Scan(&size)
	if errors.Is(err, pgx.ErrNoRows) {
		err = ErrLimitOrderNotExists
		return fmt.Errorf("%s: %w", op, err)
	}
	if err != nil {
		log.Error("Failed to delete limit order", "err", err)
		return fmt.Errorf("%s: %w", op, err)
	}

	if err = escrowOut(ctx, tx, trader, size); err != nil {
		log.Error("Failed to refund escrow", "err", err)
		return fmt.Errorf("%s: %w", op, err)
	}

	if err = tx.Commit(ctx); err != nil {
		log.Error("Failed to commit transaction", "err", err)
		return fmt.Errorf("%s: commit transaction: %w", op, err)
	}

	log.Info("limit order canceled")
	return nil
}

// ---------- pending market orders ----------

const pendingMarketColumns = `id, trader, pair_index, idx, open, position_size, side, leverage,
        take_profit, stop_loss, open_price, wanted_price, slippage_p, block`

func scanPendingMarket(row pgx.Row) (models.PendingMarketOrder, error) {
	var o models.PendingMarketOrder
	err := row.Scan(&o.ID, &o.Trade.Trader, &o.Trade.PairIndex, &o.Trade.Index, &o.Open,
		&o.Trade.PositionSize, &o.Trade.Side, &o.Trade.Leverage, &o.Trade.TakeProfit,
		&o.Trade.StopLoss, &o.Trade.OpenPrice, &o.WantedPrice, &o.SlippageP, &o.Block)
	return o, err
}

// RegisterMarketOpen escrows the trade's margin and stores the pending
// record under its oracle request id, in one transaction.
func (s *Storage) RegisterMarketOpen(ctx context.Context, o models.PendingMarketOrder) (err error) {
	const op = "postgresql.RegisterMarketOpen"
	log := slog.With("op", op, "order_id", o.ID, "trader", o.Trade.Trader)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		log.Error("Failed to begin transaction", "err", err)
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if err = insertPendingMarket(ctx, tx, o); err != nil {
		log.Error("Failed to insert pending order", "err", err)
		return fmt.Errorf("%s: %w", op, err)
	}

	if err = escrowIn(ctx, tx, o.Trade.Trader, o.Trade.PositionSize); err != nil {
		log.Error("Failed to escrow margin", "err", err)
		return fmt.Errorf("%s: %w", op, err)
	}

	if err = tx.Commit(ctx); err != nil {
		log.Error("Failed to commit transaction", "err", err)
		return fmt.Errorf("%s: commit transaction: %w", op, err)
	}

	log.Info("pending market open registered")
	return nil
}

// RegisterMarketClose stores the pending record and flags the trade as being
// closed, in one transaction. No funds move until settlement.
func (s *Storage) RegisterMarketClose(ctx context.Context, o models.PendingMarketOrder) (err error) {
	const op = "postgresql.RegisterMarketClose"
	log := slog.With("op", op, "order_id", o.ID, "trader", o.Trade.Trader)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		log.Error("Failed to begin transaction", "err", err)
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if err = insertPendingMarket(ctx, tx, o); err != nil {
		log.Error("Failed to insert pending order", "err", err)
		return fmt.Errorf("%s: %w", op, err)
	}

	const queryFlag = `
        UPDATE trades SET being_closed = TRUE
        WHERE trader = $1 AND pair_index = $2 AND idx = $3 AND being_closed = FALSE`
	tag, err := tx.Exec(ctx, queryFlag, o.Trade.Trader, o.Trade.PairIndex, o.Trade.Index)
	if err != nil {
		log.Error("Failed to flag trade", "err", err)
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		err = ErrTradeNotExists
		return fmt.Errorf("%s: %w", op, err)
	}

	if err = tx.Commit(ctx); err != nil {
		log.Error("Failed to commit transaction", "err", err)
		return fmt.Errorf("%s: commit transaction: %w", op, err)
	}

	log.Info("pending market close registered")
	return nil
}

func insertPendingMarket(ctx context.Context, tx pgx.Tx, o models.PendingMarketOrder) error {
	const query = `
        INSERT INTO pending_market_orders(` + pendingMarketColumns + `)
        VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err := tx.Exec(ctx, query,
		o.ID, o.Trade.Trader, o.Trade.PairIndex, o.Trade.Index, o.Open,
		o.Trade.PositionSize, o.Trade.Side, o.Trade.Leverage, o.Trade.TakeProfit,
		o.Trade.StopLoss, o.Trade.OpenPrice, o.WantedPrice, o.SlippageP, o.Block)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateOrder
		}
		return err
	}
	return nil
}

func (s *Storage) GetPendingMarketOrder(ctx context.Context, id uint64) (models.PendingMarketOrder, error) {
	const op = "postgresql.GetPendingMarketOrder"
	log := slog.With("op", op)

	query := `SELECT ` + pendingMarketColumns + ` FROM pending_market_orders WHERE id = $1`
	o, err := scanPendingMarket(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return o, fmt.Errorf("%s: %w", op, ErrPendingOrderNotExists)
		}
		log.Error("Failed to get pending order", "id", id, "err", err)
		return o, fmt.Errorf("%s: %w", op, err)
	}
	return o, nil
}

// UnwindMarketOpen deletes the pending record and refunds the escrowed
// margin in one transaction. The DELETE is the id's single consumption: a
// concurrent settlement or a second unwind sees no row and fails.
func (s *Storage) UnwindMarketOpen(ctx context.Context, id uint64) (o models.PendingMarketOrder, err error) {
	const op = "postgresql.UnwindMarketOpen"
	log := slog.With("op", op, "order_id", id)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		log.Error("Failed to begin transaction", "err", err)
		return o, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	query := `DELETE FROM pending_market_orders WHERE id = $1 AND open = TRUE RETURNING ` + pendingMarketColumns
	o, err = scanPendingMarket(tx.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		err = ErrPendingOrderNotExists
		return o, fmt.Errorf("%s: %w", op, err)
	}
	if err != nil {
		log.Error("Failed to delete pending order", "err", err)
		return o, fmt.Errorf("%s: %w", op, err)
	}

	if err = escrowOut(ctx, tx, o.Trade.Trader, o.Trade.PositionSize); err != nil {
		log.Error("Failed to refund escrow", "err", err)
		return o, fmt.Errorf("%s: %w", op, err)
	}

	if err = tx.Commit(ctx); err != nil {
		log.Error("Failed to commit transaction", "err", err)
		return o, fmt.Errorf("%s: commit transaction: %w", op, err)
	}

	log.Info("pending market open unwound", "trader", o.Trade.Trader)
	return o, nil
}

// UnwindMarketClose deletes the pending record and clears the trade's
// being-closed flag in one transaction, making the trade closable again.
func (s *Storage) UnwindMarketClose(ctx context.Context, id uint64) (o models.PendingMarketOrder, err error) {
	const op = "postgresql.UnwindMarketClose"
	log := slog.With("op", op, "order_id", id)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		log.Error("Failed to begin transaction", "err", err)
		return o, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	query := `DELETE FROM pending_market_orders WHERE id = $1 AND open = FALSE RETURNING ` + pendingMarketColumns
	o, err = scanPendingMarket(tx.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		err = ErrPendingOrderNotExists
		return o, fmt.Errorf("%s: %w", op, err)
	}
	if err != nil {
		log.Error("Failed to delete pending order", "err", err)
		return o, fmt.Errorf("%s: %w", op, err)
	}

	const queryFlag = `
        UPDATE trades SET being_closed = FALSE
        WHERE trader = $1 AND pair_index = $2 AND idx = $3`
	if _, err = tx.Exec(ctx, queryFlag, o.Trade.Trader, o.Trade.PairIndex, o.Trade.Index); err != nil {
		log.Error("Failed to clear being_closed", "err", err)
		return o, fmt.Errorf("%s: %w", op, err)
	}

	if err = tx.Commit(ctx); err != nil {
		log.Error("Failed to commit transaction", "err", err)
		return o, fmt.Errorf("%s: commit transaction: %w", op, err)
	}

	log.Info("pending market close unwound", "trader", o.Trade.Trader)
	return o, nil
}

func (s *Storage) PendingMarketOrdersCount(ctx context.Context, trader int64) (int64, error) {
	const op = "postgresql.PendingMarketOrdersCount"

	const query = `SELECT COUNT(*) FROM pending_market_orders WHERE trader = $1`
	var count int64
	if err := s.db.QueryRow(ctx, query, trader).Scan(&count); err != nil {
		slog.Error("Failed to count pending orders", "op", op, "trader", trader, "err", err)
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return count, nil
}

func (s *Storage) PendingMarketOpenCount(ctx context.Context, trader, pairIndex int64) (int64, error) {
	const op = "postgresql.PendingMarketOpenCount"

	const query = `SELECT COUNT(*) FROM pending_market_orders WHERE trader = $1 AND pair_index = $2 AND open = TRUE`
	var count int64
	if err := s.db.QueryRow(ctx, query, trader, pairIndex).Scan(&count); err != nil {
		slog.Error("Failed to count pending opens", "op", op, "trader", trader, "pair", pairIndex, "err", err)
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return count, nil
}

// ---------- pending bot / sl orders ----------

func (s *Storage) StorePendingBotOrder(ctx context.Context, o models.PendingBotOrder) error {
	const op = "postgresql.StorePendingBotOrder"
	log := slog.With("op", op, "order_id", o.ID)

	const query = `
        INSERT INTO pending_bot_orders(id, trader, pair_index, idx, order_type, block)
        VALUES($1, $2, $3, $4, $5, $6)`
	_, err := s.db.Exec(ctx, query, o.ID, o.Trader, o.PairIndex, o.Index, o.OrderType, o.Block)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%s: %w", op, ErrDuplicateOrder)
		}
		log.Error("Failed to store bot order", "err", err)
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("pending bot order stored", "type", o.OrderType)
	return nil
}

func (s *Storage) HasPendingBotOrder(ctx context.Context, trader, pairIndex, index int64) (bool, error) {
	const op = "postgresql.HasPendingBotOrder"

	const query = `SELECT EXISTS(SELECT 1 FROM pending_bot_orders WHERE trader = $1 AND pair_index = $2 AND idx = $3)`
	var exists bool
	if err := s.db.QueryRow(ctx, query, trader, pairIndex, index).Scan(&exists); err != nil {
		slog.Error("Failed to check bot order", "op", op, "trader", trader, "err", err)
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return exists, nil
}

func (s *Storage) StorePendingSlOrder(ctx context.Context, o models.PendingSlOrder) error {
	const op = "postgresql.StorePendingSlOrder"
	log := slog.With("op", op, "order_id", o.ID)

	const query = `
        INSERT INTO pending_sl_orders(id, trader, pair_index, idx, new_sl, block)
        VALUES($1, $2, $3, $4, $5, $6)`
	_, err := s.db.Exec(ctx, query, o.ID, o.Trader, o.PairIndex, o.Index, o.NewSl, o.Block)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%s: %w", op, ErrDuplicateOrder)
		}
		log.Error("Failed to store pending sl order", "err", err)
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("pending sl order stored")
	return nil
}

// ---------- oracle request ids ----------

// NextRequestID draws from a dedicated sequence: unique and monotonically
// assigned across all request kinds.
func (s *Storage) NextRequestID(ctx context.Context) (uint64, error) {
	const op = "postgresql.NextRequestID"

	var id uint64
	if err := s.db.QueryRow(ctx, `SELECT nextval('oracle_request_ids')`).Scan(&id); err != nil {
		slog.Error("Failed to get next request id", "op", op, "err", err)
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

// ---------- escrow helpers ----------

// escrowIn moves margin from free balance into escrow; fails the enclosing
// transaction if the balance would go negative.
func escrowIn(ctx context.Context, tx pgx.Tx, trader int64, amount decimal.Decimal) error {
	const query = `
        UPDATE users
        SET balance = balance - $1, escrow = escrow + $1
        WHERE id = $2
        RETURNING balance`
	var newBalance decimal.Decimal
	if err := tx.QueryRow(ctx, query, amount, trader).Scan(&newBalance); err != nil {
		return err
	}
	if newBalance.IsNegative() {
		return ErrInsufficientFunds
	}
	return nil
}

// escrowOut refunds escrowed margin back to free balance.
func escrowOut(ctx context.Context, tx pgx.Tx, trader int64, amount decimal.Decimal) error {
	const query = `
        UPDATE users
        SET balance = balance + $1, escrow = escrow - $1
        WHERE id = $2`
	_, err := tx.Exec(ctx, query, amount, trader)
	return err
}
