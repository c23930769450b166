package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/moznion/go-optional"
	"github.com/rickgao/trade-relay/internal/config"
	"github.com/rickgao/trade-relay/internal/model"
	"github.com/rickgao/trade-relay/internal/storage"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schemaSQL string

var (
	userColumns = []string{"id", "login_id", "currency", "balance::text", "created_at", "updated_at"}

	marketColumns = []string{
		"symbol", "display_name", "category", "current_price", "change", "change_percent",
		"high", "low", "is_active", "updated_at",
	}

	tradeColumns = []string{
		"id", "user_id", "symbol", "direction", "contract_type", "amount::text", "entry_price::text",
		"exit_price::text", "payout::text", "profit::text", "duration", "duration_unit", "status",
		"created_at", "closed_at", "broker_ref",
	}
)

// Store is a Store backed by a pgx pool.
type Store struct {
	pool   *pgxpool.Pool
	sq     squirrel.StatementBuilderType
	logger *zap.Logger
	now    func() time.Time
}

var _ storage.Store = (*Store)(nil)

// New wraps an existing pool. The schema is not touched; call Migrate.
func New(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		pool:   pool,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Open connects, migrates and returns a ready Store.
func Open(ctx context.Context, cfg config.DBConfig, logger *zap.Logger) (*Store, error) {
	pool, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := New(pool, logger)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	s.logger.Debug("schema applied")
	return nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// -----------------------------------------------------------------------------
// Users
// -----------------------------------------------------------------------------

func (s *Store) GetUser(ctx context.Context, id string) (model.User, error) {
	query, args, err := s.sq.Select(userColumns...).From("users").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return model.User{}, fmt.Errorf("build query: %w", err)
	}
	return scanUser(s.pool.QueryRow(ctx, query, args...))
}

func (s *Store) UpsertUser(ctx context.Context, u model.User) (model.User, error) {
	if u.ID == "" {
		return model.User{}, fmt.Errorf("%w: user id is required", storage.ErrInvalid)
	}

	now := s.now()
	query, args, err := s.sq.
		Insert("users").
		Columns("id", "login_id", "currency", "balance", "created_at", "updated_at").
		Values(u.ID, u.LoginID, u.Currency, u.Balance.String(), now, now).
		Suffix("ON CONFLICT (id) DO UPDATE SET login_id = EXCLUDED.login_id, currency = EXCLUDED.currency, " +
			"balance = EXCLUDED.balance, updated_at = EXCLUDED.updated_at RETURNING " + strings.Join(userColumns, ", ")).
		ToSql()
	if err != nil {
		return model.User{}, fmt.Errorf("build query: %w", err)
	}
	return scanUser(s.pool.QueryRow(ctx, query, args...))
}

func (s *Store) UpdateBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	query, args, err := s.sq.
		Update("users").
		Set("balance", balance.String()).
		Set("updated_at", s.now()).
		Where(squirrel.Eq{"id": userID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (model.User, error) {
	var (
		u       model.User
		balance string
	)
	if err := row.Scan(&u.ID, &u.LoginID, &u.Currency, &balance, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return model.User{}, notFound(err)
	}
	var err error
	if u.Balance, err = decimal.NewFromString(balance); err != nil {
		return model.User{}, fmt.Errorf("decode balance: %w", err)
	}
	return u, nil
}

// -----------------------------------------------------------------------------
// Markets
// -----------------------------------------------------------------------------

func (s *Store) GetAllMarkets(ctx context.Context) ([]model.Market, error) {
	query, args, err := s.sq.Select(marketColumns...).From("markets").OrderBy(`symbol COLLATE "C"`).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query markets: %w", err)
	}
	defer rows.Close()

	markets := make([]model.Market, 0)
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

func (s *Store) GetMarket(ctx context.Context, symbol string) (model.Market, error) {
	query, args, err := s.sq.Select(marketColumns...).From("markets").Where(squirrel.Eq{"symbol": symbol}).ToSql()
	if err != nil {
		return model.Market{}, fmt.Errorf("build query: %w", err)
	}
	return scanMarket(s.pool.QueryRow(ctx, query, args...))
}

func (s *Store) UpsertMarket(ctx context.Context, symbol string, patch model.MarketPatch) (model.Market, error) {
	if symbol == "" {
		return model.Market{}, fmt.Errorf("%w: market symbol is required", storage.ErrInvalid)
	}

	query, args, err := s.upsertMarketQuery(symbol, patch, true)
	if err != nil {
		return model.Market{}, err
	}
	return scanMarket(s.pool.QueryRow(ctx, query, args...))
}

// UpsertMarkets applies every patch in one round trip using pgx.Batch.
func (s *Store) UpsertMarkets(ctx context.Context, patches map[string]model.MarketPatch) error {
	if len(patches) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for symbol, patch := range patches {
		if symbol == "" {
			continue
		}
		query, args, err := s.upsertMarketQuery(symbol, patch, false)
		if err != nil {
			return err
		}
		batch.Queue(query, args...)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert markets: %w", err)
		}
	}

	s.logger.Debug("markets upserted", zap.Int("count", batch.Len()))
	return nil
}

// upsertMarketQuery inserts the set fields of patch, or updates only those
// fields on conflict. updated_at is always written.
func (s *Store) upsertMarketQuery(symbol string, patch model.MarketPatch, returning bool) (string, []any, error) {
	cols := []string{"symbol"}
	vals := []any{symbol}
	add := func(col string, v any) {
		cols = append(cols, col)
		vals = append(vals, v)
	}

	addString := func(col string, o optional.Option[string]) {
		if o.IsSome() {
			add(col, o.Unwrap())
		}
	}
	addString("display_name", patch.DisplayName)
	addString("category", patch.Category)
	addString("current_price", patch.CurrentPrice)
	addString("change", patch.Change)
	addString("change_percent", patch.ChangePercent)
	addString("high", patch.High)
	addString("low", patch.Low)
	if patch.IsActive.IsSome() {
		add("is_active", patch.IsActive.Unwrap())
	}
	add("updated_at", patch.UpdatedAt.TakeOr(s.now()))

	sets := make([]string, 0, len(cols)-1)
	for _, col := range cols[1:] {
		sets = append(sets, col+" = EXCLUDED."+col)
	}
	suffix := "ON CONFLICT (symbol) DO UPDATE SET " + strings.Join(sets, ", ")
	if returning {
		suffix += " RETURNING " + strings.Join(marketColumns, ", ")
	}

	query, args, err := s.sq.Insert("markets").Columns(cols...).Values(vals...).Suffix(suffix).ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build query: %w", err)
	}
	return query, args, nil
}

func scanMarket(row pgx.Row) (model.Market, error) {
	var m model.Market
	err := row.Scan(&m.Symbol, &m.DisplayName, &m.Category, &m.CurrentPrice, &m.Change, &m.ChangePercent,
		&m.High, &m.Low, &m.IsActive, &m.UpdatedAt)
	if err != nil {
		return model.Market{}, notFound(err)
	}
	return m, nil
}

// -----------------------------------------------------------------------------
// Trades
// -----------------------------------------------------------------------------

func (s *Store) CreateTrade(ctx context.Context, spec model.NewTrade) (model.Trade, error) {
	if spec.UserID == "" || spec.Symbol == "" || !spec.Amount.IsPositive() {
		return model.Trade{}, fmt.Errorf("%w: trade requires user id, symbol and a positive amount", storage.ErrInvalid)
	}

	query, args, err := s.sq.
		Insert("trades").
		Columns("id", "user_id", "symbol", "direction", "contract_type", "amount", "entry_price",
			"duration", "duration_unit", "status", "created_at", "broker_ref").
		Values(uuid.NewString(), spec.UserID, spec.Symbol, string(spec.Direction), spec.ContractType,
			spec.Amount.String(), spec.EntryPrice.String(), spec.Duration, spec.DurationUnit,
			string(model.TradeStatusOpen), s.now(), nullableString(spec.BrokerRef)).
		Suffix("RETURNING " + strings.Join(tradeColumns, ", ")).
		ToSql()
	if err != nil {
		return model.Trade{}, fmt.Errorf("build query: %w", err)
	}
	return scanTrade(s.pool.QueryRow(ctx, query, args...))
}

func (s *Store) GetTrade(ctx context.Context, id string) (model.Trade, error) {
	query, args, err := s.sq.Select(tradeColumns...).From("trades").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return model.Trade{}, fmt.Errorf("build query: %w", err)
	}
	return scanTrade(s.pool.QueryRow(ctx, query, args...))
}

func (s *Store) GetTradesByUser(ctx context.Context, userID string) ([]model.Trade, error) {
	return s.listTrades(ctx, squirrel.Eq{"user_id": userID})
}

func (s *Store) GetOpenTradesByUser(ctx context.Context, userID string) ([]model.Trade, error) {
	return s.listTrades(ctx, squirrel.Eq{"user_id": userID, "status": string(model.TradeStatusOpen)})
}

func (s *Store) listTrades(ctx context.Context, where squirrel.Eq) ([]model.Trade, error) {
	query, args, err := s.sq.Select(tradeColumns...).From("trades").Where(where).
		OrderBy("created_at DESC", "id DESC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	trades := make([]model.Trade, 0)
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *Store) UpdateTrade(ctx context.Context, id string, patch model.TradePatch) (model.Trade, error) {
	if patch.EntryPrice.IsNone() && patch.BrokerRef.IsNone() {
		return s.GetTrade(ctx, id)
	}

	q := s.sq.Update("trades").Where(squirrel.Eq{"id": id})
	if patch.EntryPrice.IsSome() {
		q = q.Set("entry_price", patch.EntryPrice.Unwrap().String())
	}
	if patch.BrokerRef.IsSome() {
		q = q.Set("broker_ref", patch.BrokerRef.Unwrap())
	}

	query, args, err := q.Suffix("RETURNING " + strings.Join(tradeColumns, ", ")).ToSql()
	if err != nil {
		return model.Trade{}, fmt.Errorf("build query: %w", err)
	}
	return scanTrade(s.pool.QueryRow(ctx, query, args...))
}

// CloseTrade is a single conditional UPDATE, so concurrent closes race on
// the row lock and exactly one of them sees status = 'open'.
func (s *Store) CloseTrade(ctx context.Context, id string, exitPrice, payout, profit decimal.Decimal) (model.Trade, error) {
	query, args, err := s.sq.
		Update("trades").
		Set("exit_price", exitPrice.String()).
		Set("payout", payout.String()).
		Set("profit", profit.String()).
		Set("status", string(model.StatusForProfit(profit))).
		Set("closed_at", s.now()).
		Where(squirrel.Eq{"id": id, "status": string(model.TradeStatusOpen)}).
		Suffix("RETURNING " + strings.Join(tradeColumns, ", ")).
		ToSql()
	if err != nil {
		return model.Trade{}, fmt.Errorf("build query: %w", err)
	}

	t, err := scanTrade(s.pool.QueryRow(ctx, query, args...))
	if !errors.Is(err, storage.ErrNotFound) {
		return t, err
	}

	// Either unknown or already closed
	existing, err := s.GetTrade(ctx, id)
	if err != nil {
		return model.Trade{}, err
	}
	return existing, storage.ErrTradeClosed
}

func scanTrade(row pgx.Row) (model.Trade, error) {
	var (
		t                         model.Trade
		direction, status         string
		amount, entry             string
		exitPrice, payout, profit *string
		closedAt                  *time.Time
		brokerRef                 *string
	)
	err := row.Scan(&t.ID, &t.UserID, &t.Symbol, &direction, &t.ContractType, &amount, &entry,
		&exitPrice, &payout, &profit, &t.Duration, &t.DurationUnit, &status,
		&t.CreatedAt, &closedAt, &brokerRef)
	if err != nil {
		return model.Trade{}, notFound(err)
	}

	t.Direction = model.Direction(direction)
	t.Status = model.TradeStatus(status)
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return model.Trade{}, fmt.Errorf("decode amount: %w", err)
	}
	if t.EntryPrice, err = decimal.NewFromString(entry); err != nil {
		return model.Trade{}, fmt.Errorf("decode entry price: %w", err)
	}
	if t.ExitPrice, err = nullableDecimal(exitPrice); err != nil {
		return model.Trade{}, fmt.Errorf("decode exit price: %w", err)
	}
	if t.Payout, err = nullableDecimal(payout); err != nil {
		return model.Trade{}, fmt.Errorf("decode payout: %w", err)
	}
	if t.Profit, err = nullableDecimal(profit); err != nil {
		return model.Trade{}, fmt.Errorf("decode profit: %w", err)
	}
	t.ClosedAt = optional.FromNillable(closedAt)
	t.BrokerRef = optional.FromNillable(brokerRef)
	return t, nil
}

func nullableDecimal(s *string) (optional.Option[decimal.Decimal], error) {
	if s == nil {
		return optional.None[decimal.Decimal](), nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return optional.None[decimal.Decimal](), err
	}
	return optional.Some(d), nil
}

func nullableString(o optional.Option[string]) *string {
	if o.IsNone() {
		return nil
	}
	v := o.Unwrap()
	return &v
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}
