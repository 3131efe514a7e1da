// Package settle executes one matched trade atomically: tax, net fund
// transfer, seller inventory decrement, and the immutable trade records.
//
// The fund and inventory moves live outside the database, so atomicity is
// by explicit compensation: a failure at any step reverses the completed
// steps before the error propagates. Record writes go through a single
// store call that is transactional on its own.
package settle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/colonyforge/market-engine/internal/model"
	"github.com/colonyforge/market-engine/internal/store"
)

// Funds is the ledger collaborator. Transfer must lock both accounts for
// its duration and fail without side effects on insufficient balance.
type Funds interface {
	TransferBetween(amount decimal.Decimal, from, to model.Holder, currency, description string) error
}

// TaxPolicy computes sales tax on gross proceeds. Pure.
type TaxPolicy interface {
	CollectSalesTax(seller model.Holder, gross decimal.Decimal, currency string) decimal.Decimal
}

// Stock is the inventory collaborator. Remove fails without side effects
// on insufficient stock.
type Stock interface {
	Remove(h model.Holder, resource string, qty decimal.Decimal) error
	Add(h model.Holder, resource string, qty decimal.Decimal)
}

// Protocol executes trades.
type Protocol struct {
	store    store.Store
	funds    Funds
	tax      TaxPolicy
	stock    Stock
	currency string
	now      func() time.Time
}

// NewProtocol creates a settlement protocol.
func NewProtocol(st store.Store, funds Funds, tax TaxPolicy, stock Stock, currency string) *Protocol {
	return &Protocol{
		store:    st,
		funds:    funds,
		tax:      tax,
		stock:    stock,
		currency: currency,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the protocol's clock. Test hook.
func (p *Protocol) SetClock(now func() time.Time) { p.now = now }

// Execute settles volume units of the sell order against the buyer at the
// given unit price. On success exactly one Trade, one PricePoint, and one
// SupplyChain (awaiting_launch) exist for the exchange. On failure no
// funds, inventory, or records have moved.
//
// The caller owns decrementing the order quantity; a failed Execute must
// not consume any of it.
func (p *Protocol) Execute(ctx context.Context, sellOrder *model.Order, volume, price decimal.Decimal,
	buyer model.Holder, buyerSettlementID string) (*model.Trade, error) {

	if !volume.IsPositive() {
		return nil, fmt.Errorf("settle: trade volume must be positive, got %s", volume)
	}

	seller := sellOrder.Holder
	gross := volume.Mul(price).Round(2)
	taxPaid := p.tax.CollectSalesTax(seller, gross, p.currency)
	net := gross.Sub(taxPaid)

	desc := fmt.Sprintf("trade %s x%s @ %s", sellOrder.Resource, volume, price)

	// Step 1: move the net proceeds buyer → seller.
	if err := p.funds.TransferBetween(net, buyer, seller, p.currency, desc); err != nil {
		return nil, fmt.Errorf("settle: fund transfer: %w", err)
	}

	// Step 2: take the goods from the seller. The primary expected
	// failure mode — reverse the transfer and abort.
	if err := p.stock.Remove(seller, sellOrder.Resource, volume); err != nil {
		if rbErr := p.funds.TransferBetween(net, seller, buyer, p.currency, "reversal: "+desc); rbErr != nil {
			slog.Error("settlement reversal failed; ledger inconsistent",
				"trade", desc, "err", rbErr)
		}
		return nil, fmt.Errorf("settle: %w", err)
	}

	// Step 3: write the records in one store transaction.
	ts := p.now()
	trade := &model.Trade{
		ID:                 uuid.New().String(),
		Buyer:              buyer,
		Seller:             seller,
		Resource:           sellOrder.Resource,
		Quantity:           volume,
		Price:              price,
		BuyerSettlementID:  buyerSettlementID,
		SellerSettlementID: sellOrder.SettlementID,
		ExecutedAt:         ts,
	}
	pricePoint := &model.PricePoint{
		ID:          uuid.New().String(),
		ConditionID: sellOrder.ConditionID,
		TradeID:     trade.ID,
		Price:       price,
		RecordedAt:  ts,
	}
	chain := &model.SupplyChain{
		ID:          uuid.New().String(),
		TradeID:     trade.ID,
		Source:      seller,
		Destination: buyer,
		Resource:    sellOrder.Resource,
		Volume:      volume,
		Status:      model.ChainAwaitingLaunch,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}

	if err := p.store.RecordTrade(ctx, trade, pricePoint, chain); err != nil {
		p.stock.Add(seller, sellOrder.Resource, volume)
		if rbErr := p.funds.TransferBetween(net, seller, buyer, p.currency, "reversal: "+desc); rbErr != nil {
			slog.Error("settlement reversal failed; ledger inconsistent",
				"trade", desc, "err", rbErr)
		}
		return nil, fmt.Errorf("settle: record trade: %w", err)
	}

	slog.Info("trade settled",
		"trade_id", trade.ID,
		"resource", trade.Resource,
		"quantity", volume.String(),
		"price", price.String(),
		"gross", gross.String(),
		"tax", taxPaid.String(),
		"net", net.String(),
		"buyer", buyer.Key(),
		"seller", seller.Key(),
	)
	return trade, nil
}
