package broker

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Manager owns the configured adapter instances and exposes aggregate
// operations across them. The registry supports concurrent reads with
// serialized add/remove. Adapters never reference each other.
type Manager struct {
	logger *zap.Logger

	mu          sync.RWMutex
	adapters    map[string]Adapter
	defaultName string
}

// ConnectionInfo is one row of the registry listing.
type ConnectionInfo struct {
	Name    string          `json:"name"`
	State   ConnectionState `json:"state"`
	Default bool            `json:"default"`
}

// NewManager creates an empty broker registry.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		logger:   logger.Named("broker-manager"),
		adapters: make(map[string]Adapter),
	}
}

// Add registers a named adapter. The first adapter added, or one explicitly
// flagged, becomes the default.
func (m *Manager) Add(adapter Adapter, makeDefault bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adapters[adapter.Name()] = adapter
	if makeDefault || m.defaultName == "" {
		m.defaultName = adapter.Name()
	}
}

// Remove unregisters a named adapter. Removing the default leaves the
// registry without one until another is designated.
func (m *Manager) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.adapters, name)
	if m.defaultName == name {
		m.defaultName = ""
	}
}

// Get returns the named adapter.
func (m *Manager) Get(name string) (Adapter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.adapters[name]
	if !ok {
		return nil, wrapf(ErrUnknownBroker, "%s", name)
	}
	return a, nil
}

// Default returns the default adapter.
func (m *Manager) Default() (Adapter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.defaultName == "" {
		return nil, wrapf(ErrUnknownBroker, "no default broker designated")
	}
	return m.adapters[m.defaultName], nil
}

// SetDefault designates an already-registered adapter as the default.
func (m *Manager) SetDefault(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.adapters[name]; !ok {
		return wrapf(ErrUnknownBroker, "%s", name)
	}
	m.defaultName = name
	return nil
}

// List returns the registry contents with live connection state.
func (m *Manager) List() []ConnectionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ConnectionInfo, 0, len(m.adapters))
	for name, a := range m.adapters {
		out = append(out, ConnectionInfo{
			Name:    name,
			State:   a.State(),
			Default: name == m.defaultName,
		})
	}
	return out
}

// connected snapshots the currently-connected adapters.
func (m *Manager) connected() []Adapter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Adapter, 0, len(m.adapters))
	for _, a := range m.adapters {
		if a.State() == StateConnected {
			out = append(out, a)
		}
	}
	return out
}

// MergePositions folds per-broker position lists into one logical portfolio.
// Quantities sum signed; the merged average price is the quantity-weighted
// average of the constituents; positions that net to exactly zero are dropped;
// unrealized P&L sums across constituents.
func MergePositions(lists ...[]Position) []Position {
	type acc struct {
		qty          float64
		weighted     float64 // Σ(qty_i × avgPrice_i)
		currentPrice float64
		pnl          float64
	}
	merged := make(map[string]*acc)
	var order []string

	for _, list := range lists {
		for _, p := range list {
			a, ok := merged[p.Symbol]
			if !ok {
				a = &acc{}
				merged[p.Symbol] = a
				order = append(order, p.Symbol)
			}
			a.qty += p.Quantity
			a.weighted += p.Quantity * p.AvgPrice
			a.pnl += p.UnrealizedPnL
			if p.CurrentPrice != 0 {
				a.currentPrice = p.CurrentPrice
			}
		}
	}

	out := make([]Position, 0, len(order))
	for _, symbol := range order {
		a := merged[symbol]
		if a.qty == 0 {
			continue // flat across brokers
		}
		out = append(out, Position{
			Symbol:        symbol,
			Quantity:      a.qty,
			AvgPrice:      a.weighted / a.qty,
			CurrentPrice:  a.currentPrice,
			UnrealizedPnL: a.pnl,
		})
	}
	return out
}

// ConsolidatedPositions fetches positions from every connected broker
// concurrently and merges them by symbol. A broker that errors contributes
// nothing; the view is recomputed from live data on every call.
func (m *Manager) ConsolidatedPositions(ctx context.Context) ([]Position, error) {
	adapters := m.connected()

	var wg sync.WaitGroup
	results := make(chan []Position, len(adapters))

	for _, a := range adapters {
		wg.Add(1)
		go func(a Adapter) {
			defer wg.Done()
			positions, err := a.GetPositions(ctx)
			if err != nil {
				m.logger.Warn("Failed to fetch positions",
					zap.String("broker", a.Name()), zap.Error(err))
				return
			}
			results <- positions
		}(a)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var lists [][]Position
	for list := range results {
		lists = append(lists, list)
	}
	return MergePositions(lists...), nil
}

// BestQuote queries every connected broker concurrently and composes the best
// view: highest bid, lowest ask, with last/volume/OHLC taken from the most
// recently timestamped quote. Brokers that error are skipped.
func (m *Manager) BestQuote(ctx context.Context, symbol string) (*Quote, error) {
	adapters := m.connected()

	var wg sync.WaitGroup
	results := make(chan Quote, len(adapters))

	for _, a := range adapters {
		wg.Add(1)
		go func(a Adapter) {
			defer wg.Done()
			q, err := a.GetQuote(ctx, symbol)
			if err != nil {
				m.logger.Warn("Failed to fetch quote",
					zap.String("broker", a.Name()),
					zap.String("symbol", symbol),
					zap.Error(err))
				return
			}
			results <- *q
		}(a)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var best *Quote
	for q := range results {
		if best == nil {
			current := q
			best = &current
			continue
		}
		if q.Bid > best.Bid {
			best.Bid = q.Bid
		}
		if q.Ask > 0 && (best.Ask == 0 || q.Ask < best.Ask) {
			best.Ask = q.Ask
		}
		if q.Timestamp.After(best.Timestamp) {
			best.Price = q.Price
			best.Volume = q.Volume
			best.High = q.High
			best.Low = q.Low
			best.Open = q.Open
			best.Close = q.Close
			best.Timestamp = q.Timestamp
		}
	}

	if best == nil {
		return nil, wrapf(ErrMarketData, "no broker returned a quote for %s", symbol)
	}
	return best, nil
}

// quoteFrom pairs a quote with the adapter that produced it, for routing.
type quoteFrom struct {
	adapter Adapter
	quote   Quote
}

// RouteOrder places a market order at the broker offering the best price on
// the correct side: lowest ask for buys, highest bid for sells. If no broker
// returns a usable quote, or routing itself fails, the order falls through to
// the fallback broker; routing is never the reason an order fails to place.
// It returns the update and the name of the broker that took the order.
func (m *Manager) RouteOrder(ctx context.Context, order *Order, fallback string) (*OrderUpdate, string, error) {
	if order.ClientOrderID == "" {
		order.ClientOrderID = uuid.NewString()
	}

	target := m.pickBroker(ctx, order)
	if target == nil {
		var err error
		target, err = m.fallbackBroker(fallback)
		if err != nil {
			return nil, "", err
		}
		m.logger.Info("Smart routing found no quotes, using fallback broker",
			zap.String("symbol", order.Symbol),
			zap.String("broker", target.Name()))
	}

	update, err := target.PlaceOrder(ctx, order)
	if err != nil {
		return nil, target.Name(), err
	}
	return update, target.Name(), nil
}

// pickBroker selects the best-priced broker for a market order, or nil when
// routing cannot decide.
func (m *Manager) pickBroker(ctx context.Context, order *Order) Adapter {
	if order.Type != OrderTypeMarket {
		return nil // price-improvement routing only applies to market orders
	}

	adapters := m.connected()

	var wg sync.WaitGroup
	results := make(chan quoteFrom, len(adapters))

	for _, a := range adapters {
		wg.Add(1)
		go func(a Adapter) {
			defer wg.Done()
			q, err := a.GetQuote(ctx, order.Symbol)
			if err != nil {
				m.logger.Debug("Routing quote failed",
					zap.String("broker", a.Name()), zap.Error(err))
				return
			}
			results <- quoteFrom{adapter: a, quote: *q}
		}(a)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var best *quoteFrom
	for qf := range results {
		if order.Side == OrderSideBuy {
			if qf.quote.Ask <= 0 {
				continue
			}
			if best == nil || qf.quote.Ask < best.quote.Ask {
				current := qf
				best = &current
			}
		} else {
			if qf.quote.Bid <= 0 {
				continue
			}
			if best == nil || qf.quote.Bid > best.quote.Bid {
				current := qf
				best = &current
			}
		}
	}

	if best == nil {
		return nil
	}
	m.logger.Info("Smart routing selected broker",
		zap.String("symbol", order.Symbol),
		zap.String("side", order.Side),
		zap.String("broker", best.adapter.Name()))
	return best.adapter
}

// fallbackBroker resolves the named fallback, or the registry default.
func (m *Manager) fallbackBroker(name string) (Adapter, error) {
	if name != "" {
		if a, err := m.Get(name); err == nil {
			return a, nil
		}
	}
	return m.Default()
}
