package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/colonyforge/market-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// --- Conditions ---

const conditionCols = `id, settlement_id, resource, supply, demand, price::TEXT, created_at, updated_at`

func scanCondition(row pgx.Row) (*model.Condition, error) {
	var c model.Condition
	var price string
	if err := row.Scan(&c.ID, &c.SettlementID, &c.Resource,
		&c.Supply, &c.Demand, &price, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Price, _ = decimal.NewFromString(price)
	return &c, nil
}

func (s *PostgresStore) GetOrCreateCondition(ctx context.Context, settlementID, resource string) (*model.Condition, error) {
	c, err := s.FindCondition(ctx, settlementID, resource)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO market_conditions (id, settlement_id, resource, supply, demand, price, created_at, updated_at)
		 VALUES ($1, $2, $3, 0, 1, 0::NUMERIC, NOW(), NOW())
		 ON CONFLICT (settlement_id, resource) DO UPDATE SET updated_at = market_conditions.updated_at
		 RETURNING `+conditionCols,
		uuid.New().String(), settlementID, resource)
	c, err = scanCondition(row)
	if err != nil {
		return nil, fmt.Errorf("create condition %s/%s: %w", settlementID, resource, err)
	}
	return c, nil
}

func (s *PostgresStore) GetCondition(ctx context.Context, id string) (*model.Condition, error) {
	c, err := scanCondition(s.pool.QueryRow(ctx,
		`SELECT `+conditionCols+` FROM market_conditions WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "condition "+id)
	}
	return c, nil
}

func (s *PostgresStore) FindCondition(ctx context.Context, settlementID, resource string) (*model.Condition, error) {
	c, err := scanCondition(s.pool.QueryRow(ctx,
		`SELECT `+conditionCols+` FROM market_conditions WHERE settlement_id = $1 AND resource = $2`,
		settlementID, resource))
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("condition %s/%s", settlementID, resource))
	}
	return c, nil
}

func (s *PostgresStore) ListConditions(ctx context.Context, settlementID string) ([]model.Condition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+conditionCols+` FROM market_conditions WHERE settlement_id = $1 ORDER BY resource`,
		settlementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Condition
	for rows.Next() {
		c, err := scanCondition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateConditionLevels(ctx context.Context, id string, supply, demand float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE market_conditions SET supply = $2, demand = $3, updated_at = NOW() WHERE id = $1`,
		id, supply, demand)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("condition %s: %w", id, ErrNotFound)
	}
	return nil
}

// --- Orders ---

const orderCols = `id, holder_kind, holder_id, holder_name, condition_id, settlement_id,
	resource, quantity::TEXT, order_type, status, price_per_unit::TEXT, project_id, created_at, expires_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	var qty, ppu string
	if err := row.Scan(&o.ID, &o.Holder.Kind, &o.Holder.ID, &o.Holder.Name,
		&o.ConditionID, &o.SettlementID, &o.Resource, &qty, &o.OrderType,
		&o.Status, &ppu, &o.ProjectID, &o.CreatedAt, &o.ExpiresAt); err != nil {
		return nil, err
	}
	o.Quantity, _ = decimal.NewFromString(qty)
	o.PricePerUnit, _ = decimal.NewFromString(ppu)
	return &o, nil
}

func (s *PostgresStore) CreateOrder(ctx context.Context, o *model.Order) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO market_orders (id, holder_kind, holder_id, holder_name, condition_id, settlement_id,
		   resource, quantity, order_type, status, price_per_unit, project_id, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::NUMERIC, $9, $10, $11::NUMERIC, $12, $13, $14)`,
		o.ID, o.Holder.Kind, o.Holder.ID, o.Holder.Name, o.ConditionID, o.SettlementID,
		o.Resource, o.Quantity.String(), o.OrderType, o.Status,
		o.PricePerUnit.String(), o.ProjectID, o.CreatedAt, o.ExpiresAt)
	return err
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx,
		`SELECT `+orderCols+` FROM market_orders WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "order "+id)
	}
	return o, nil
}

func (s *PostgresStore) UpdateOrderQuantity(ctx context.Context, id string, quantity decimal.Decimal) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE market_orders
		 SET quantity = $2::NUMERIC,
		     status = CASE WHEN $2::NUMERIC = 0 THEN 'filled' ELSE status END
		 WHERE id = $1`,
		id, quantity.String())
	return err
}

func (s *PostgresStore) UpdateOrderStatus(ctx context.Context, id string, status model.OrderStatus) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE market_orders SET status = $2 WHERE id = $1`, id, status)
	return err
}

func (s *PostgresStore) DeleteOrder(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM market_orders WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListOpenBuyOrders(ctx context.Context, conditionID string) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderCols+` FROM market_orders
		 WHERE condition_id = $1 AND order_type = 'buy' AND status = 'open' AND quantity > 0
		   AND (expires_at IS NULL OR expires_at >= NOW())
		 ORDER BY created_at`, conditionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

func (s *PostgresStore) FindProjectBuyOrder(ctx context.Context, projectID, resource string) (*model.Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx,
		`SELECT `+orderCols+` FROM market_orders
		 WHERE project_id = $1 AND resource = $2 AND order_type = 'buy' AND status = 'open'
		 LIMIT 1`, projectID, resource))
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("project order %s/%s", projectID, resource))
	}
	return o, nil
}

func (s *PostgresStore) ListExpiredOrders(ctx context.Context, cutoff time.Time) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderCols+` FROM market_orders
		 WHERE status = 'open' AND expires_at IS NOT NULL AND expires_at < $1
		 ORDER BY created_at`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

func (s *PostgresStore) CountOpenBuyOrders(ctx context.Context, settlementID, resource string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM market_orders
		 WHERE settlement_id = $1 AND resource = $2 AND order_type = 'buy' AND status = 'open'`,
		settlementID, resource).Scan(&count)
	return count, err
}

func collectOrders(rows pgx.Rows) ([]model.Order, error) {
	var out []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// --- Trades, price history, supply chains ---

func (s *PostgresStore) RecordTrade(ctx context.Context, t *model.Trade, pp *model.PricePoint, sc *model.SupplyChain) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin record trade: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO market_trades (id, buyer_kind, buyer_id, buyer_name, seller_kind, seller_id, seller_name,
		   resource, quantity, price, buyer_settlement_id, seller_settlement_id, executed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::NUMERIC, $10::NUMERIC, $11, $12, $13)`,
		t.ID, t.Buyer.Kind, t.Buyer.ID, t.Buyer.Name, t.Seller.Kind, t.Seller.ID, t.Seller.Name,
		t.Resource, t.Quantity.String(), t.Price.String(),
		t.BuyerSettlementID, t.SellerSettlementID, t.ExecutedAt)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO market_price_histories (id, condition_id, trade_id, price, recorded_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5)`,
		pp.ID, pp.ConditionID, pp.TradeID, pp.Price.String(), pp.RecordedAt)
	if err != nil {
		return fmt.Errorf("insert price point: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO supply_chains (id, trade_id, source_kind, source_id, source_name,
		   dest_kind, dest_id, dest_name, resource, volume, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::NUMERIC, $11, $12, $13)`,
		sc.ID, sc.TradeID, sc.Source.Kind, sc.Source.ID, sc.Source.Name,
		sc.Destination.Kind, sc.Destination.ID, sc.Destination.Name,
		sc.Resource, sc.Volume.String(), sc.Status, sc.CreatedAt, sc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert supply chain: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE market_conditions SET price = $2::NUMERIC, updated_at = NOW() WHERE id = $1`,
		pp.ConditionID, t.Price.String())
	if err != nil {
		return fmt.Errorf("update condition price: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ListTrades(ctx context.Context, settlementID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, buyer_kind, buyer_id, buyer_name, seller_kind, seller_id, seller_name,
		        resource, quantity::TEXT, price::TEXT, buyer_settlement_id, seller_settlement_id, executed_at
		 FROM market_trades
		 WHERE buyer_settlement_id = $1 OR seller_settlement_id = $1
		 ORDER BY executed_at DESC`, settlementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Trade
	for rows.Next() {
		var t model.Trade
		var qty, price string
		if err := rows.Scan(&t.ID, &t.Buyer.Kind, &t.Buyer.ID, &t.Buyer.Name,
			&t.Seller.Kind, &t.Seller.ID, &t.Seller.Name,
			&t.Resource, &qty, &price,
			&t.BuyerSettlementID, &t.SellerSettlementID, &t.ExecutedAt); err != nil {
			return nil, err
		}
		t.Quantity, _ = decimal.NewFromString(qty)
		t.Price, _ = decimal.NewFromString(price)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) TradeStatsSince(ctx context.Context, settlementID, resource string, since time.Time) (TradeStats, error) {
	var count int
	var avg *string
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), AVG(ph.price)::TEXT
		 FROM market_price_histories ph
		 JOIN market_conditions mc ON mc.id = ph.condition_id
		 WHERE mc.settlement_id = $1 AND mc.resource = $2 AND ph.recorded_at > $3`,
		settlementID, resource, since).Scan(&count, &avg)
	if err != nil {
		return TradeStats{}, err
	}

	stats := TradeStats{Count: count}
	if avg != nil {
		stats.AvgPrice, _ = decimal.NewFromString(*avg)
	}
	return stats, nil
}

func (s *PostgresStore) ListPriceHistory(ctx context.Context, conditionID string) ([]model.PricePoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, condition_id, trade_id, price::TEXT, recorded_at
		 FROM market_price_histories WHERE condition_id = $1 ORDER BY recorded_at`, conditionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PricePoint
	for rows.Next() {
		var pp model.PricePoint
		var price string
		if err := rows.Scan(&pp.ID, &pp.ConditionID, &pp.TradeID, &price, &pp.RecordedAt); err != nil {
			return nil, err
		}
		pp.Price, _ = decimal.NewFromString(price)
		out = append(out, pp)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetSupplyChain(ctx context.Context, id string) (*model.SupplyChain, error) {
	var sc model.SupplyChain
	var volume string
	err := s.pool.QueryRow(ctx,
		`SELECT id, trade_id, source_kind, source_id, source_name,
		        dest_kind, dest_id, dest_name, resource, volume::TEXT, status, created_at, updated_at
		 FROM supply_chains WHERE id = $1`, id).
		Scan(&sc.ID, &sc.TradeID, &sc.Source.Kind, &sc.Source.ID, &sc.Source.Name,
			&sc.Destination.Kind, &sc.Destination.ID, &sc.Destination.Name,
			&sc.Resource, &volume, &sc.Status, &sc.CreatedAt, &sc.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "supply chain "+id)
	}
	sc.Volume, _ = decimal.NewFromString(volume)
	return &sc, nil
}

func (s *PostgresStore) FindSupplyChainByTrade(ctx context.Context, tradeID string) (*model.SupplyChain, error) {
	var sc model.SupplyChain
	var volume string
	err := s.pool.QueryRow(ctx,
		`SELECT id, trade_id, source_kind, source_id, source_name,
		        dest_kind, dest_id, dest_name, resource, volume::TEXT, status, created_at, updated_at
		 FROM supply_chains WHERE trade_id = $1`, tradeID).
		Scan(&sc.ID, &sc.TradeID, &sc.Source.Kind, &sc.Source.ID, &sc.Source.Name,
			&sc.Destination.Kind, &sc.Destination.ID, &sc.Destination.Name,
			&sc.Resource, &volume, &sc.Status, &sc.CreatedAt, &sc.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "supply chain for trade "+tradeID)
	}
	sc.Volume, _ = decimal.NewFromString(volume)
	return &sc, nil
}

func (s *PostgresStore) UpdateSupplyChainStatus(ctx context.Context, id string, status model.SupplyChainStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE supply_chains SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("supply chain %s: %w", id, ErrNotFound)
	}
	return nil
}
