package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"poscore/backend/internal/domain"
	"poscore/backend/internal/store"
)

// Store keeps every table in maps. Transactions are serialized by txMu and
// work on a private copy of the state that replaces the committed state only
// when fn succeeds, so reads outside a transaction never observe uncommitted
// writes. This gives the same all-or-nothing and lock-ordering guarantees as
// the postgres store for a single process.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	st   *state
}

type state struct {
	items           map[string]domain.Item
	inventory       map[string]domain.InventoryPosition
	movements       []domain.StockMovement
	alerts          []domain.LowStockAlert
	customers       map[string]domain.Customer
	sequences       map[string]domain.FiscalSequence
	counters        map[string]int64
	shifts          map[string]domain.CashShift
	openShiftByReg  map[string]string
	cashCounts      map[string][]domain.CashCount
	cashMovements   map[string][]domain.CashMovement
	sales           map[string]domain.Sale
	saleByIdem      map[string]string
	saleReturns     map[string][]domain.SaleReturn
	purchases       map[string]domain.Purchase
	purchaseReturns map[string][]domain.PurchaseReturn
	auditLogs       []domain.AuditLog
	users           map[string]domain.UserAccount
}

func newState() *state {
	return &state{
		items:           make(map[string]domain.Item),
		inventory:       make(map[string]domain.InventoryPosition),
		customers:       make(map[string]domain.Customer),
		sequences:       make(map[string]domain.FiscalSequence),
		counters:        make(map[string]int64),
		shifts:          make(map[string]domain.CashShift),
		openShiftByReg:  make(map[string]string),
		cashCounts:      make(map[string][]domain.CashCount),
		cashMovements:   make(map[string][]domain.CashMovement),
		sales:           make(map[string]domain.Sale),
		saleByIdem:      make(map[string]string),
		saleReturns:     make(map[string][]domain.SaleReturn),
		purchases:       make(map[string]domain.Purchase),
		purchaseReturns: make(map[string][]domain.PurchaseReturn),
		users:           make(map[string]domain.UserAccount),
	}
}

// clone copies every map and slice header. Stored values are never mutated in
// place, so sharing element storage with the snapshot is safe.
func (s *state) clone() *state {
	return &state{
		items:           maps.Clone(s.items),
		inventory:       maps.Clone(s.inventory),
		movements:       slices.Clip(s.movements),
		alerts:          slices.Clone(s.alerts),
		customers:       maps.Clone(s.customers),
		sequences:       maps.Clone(s.sequences),
		counters:        maps.Clone(s.counters),
		shifts:          maps.Clone(s.shifts),
		openShiftByReg:  maps.Clone(s.openShiftByReg),
		cashCounts:      maps.Clone(s.cashCounts),
		cashMovements:   maps.Clone(s.cashMovements),
		sales:           maps.Clone(s.sales),
		saleByIdem:      maps.Clone(s.saleByIdem),
		saleReturns:     maps.Clone(s.saleReturns),
		purchases:       maps.Clone(s.purchases),
		purchaseReturns: maps.Clone(s.purchaseReturns),
		auditLogs:       slices.Clip(s.auditLogs),
		users:           maps.Clone(s.users),
	}
}

func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return s.runSnapshotted(ctx, fn)
}

func (s *Store) runSnapshotted(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.RLock()
	work := s.st.clone()
	s.mu.RUnlock()

	if err := fn(&memTx{st: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.st = work
	s.mu.Unlock()
	return nil
}

// write runs a single setup write outside of WithinTx, still serialized with
// transactions so a rollback never discards it.
func (s *Store) write(fn func(st *state) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

func (s *Store) read(fn func(st *state)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.st)
}

func key(parts ...string) string {
	return strings.Join(parts, "|")
}

func (s *Store) GetItems(_ context.Context, ids []string) (map[string]domain.Item, error) {
	out := make(map[string]domain.Item, len(ids))
	s.read(func(st *state) {
		for _, id := range ids {
			if item, ok := st.items[id]; ok {
				out[id] = item
			}
		}
	})
	return out, nil
}

func (s *Store) SaveItem(_ context.Context, item domain.Item) error {
	if strings.TrimSpace(item.ID) == "" {
		return store.Validation(store.CodeInvalidInput, "item id is required", nil)
	}
	return s.write(func(st *state) error {
		st.items[item.ID] = item
		return nil
	})
}

func (s *Store) GetInventory(_ context.Context, storeID string, itemID string) (*domain.InventoryPosition, error) {
	var (
		pos domain.InventoryPosition
		ok  bool
	)
	s.read(func(st *state) {
		pos, ok = st.inventory[key(storeID, itemID)]
	})
	if !ok {
		return nil, store.NotFound("inventory", itemID)
	}
	return &pos, nil
}

func (s *Store) SaveInventory(_ context.Context, position domain.InventoryPosition) error {
	if position.Quantity.IsNegative() {
		return store.Validation(store.CodeInvalidInput, "quantity must not be negative", map[string]any{"item_id": position.ItemID})
	}
	return s.write(func(st *state) error {
		if position.UpdatedAt.IsZero() {
			position.UpdatedAt = time.Now().UTC()
		}
		st.inventory[key(position.StoreID, position.ItemID)] = position
		return nil
	})
}

func (s *Store) ListStockMovements(_ context.Context, storeID string, itemID string) ([]domain.StockMovement, error) {
	var out []domain.StockMovement
	s.read(func(st *state) {
		for _, m := range st.movements {
			if m.StoreID == storeID && (itemID == "" || m.ItemID == itemID) {
				out = append(out, m)
			}
		}
	})
	return out, nil
}

func (s *Store) ListLowStockAlerts(_ context.Context, storeID string) ([]domain.LowStockAlert, error) {
	var out []domain.LowStockAlert
	s.read(func(st *state) {
		for _, alert := range st.alerts {
			if alert.StoreID == storeID {
				out = append(out, alert)
			}
		}
	})
	return out, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	var (
		customer domain.Customer
		ok       bool
	)
	s.read(func(st *state) {
		customer, ok = st.customers[id]
	})
	if !ok {
		return nil, store.NotFound("customer", id)
	}
	return &customer, nil
}

func (s *Store) SaveCustomer(_ context.Context, customer domain.Customer) error {
	if strings.TrimSpace(customer.ID) == "" {
		return store.Validation(store.CodeInvalidInput, "customer id is required", nil)
	}
	return s.write(func(st *state) error {
		st.customers[customer.ID] = customer
		return nil
	})
}

func (s *Store) PeekSequence(_ context.Context, storeID string, documentType string) (*domain.FiscalSequence, error) {
	var (
		seq domain.FiscalSequence
		ok  bool
	)
	s.read(func(st *state) {
		seq, ok = st.sequences[key(storeID, documentType)]
	})
	if !ok {
		return nil, nil
	}
	return &seq, nil
}

func (s *Store) SaveSequence(_ context.Context, seq domain.FiscalSequence) error {
	if seq.StoreID == "" || seq.DocumentType == "" || seq.NextNumber < 1 {
		return store.Validation(store.CodeInvalidInput, "sequence needs store, document type and a positive next number", nil)
	}
	return s.write(func(st *state) error {
		st.sequences[key(seq.StoreID, seq.DocumentType)] = seq
		return nil
	})
}

func (s *Store) GetShift(_ context.Context, id string) (*domain.CashShift, error) {
	var (
		shift domain.CashShift
		ok    bool
	)
	s.read(func(st *state) {
		shift, ok = st.shifts[id]
	})
	if !ok {
		return nil, store.NotFound("shift", id)
	}
	return &shift, nil
}

func (s *Store) GetActiveShift(_ context.Context, storeID string, registerID string) (*domain.CashShift, error) {
	var (
		shift domain.CashShift
		ok    bool
	)
	s.read(func(st *state) {
		id, exists := st.openShiftByReg[key(storeID, registerID)]
		if exists {
			shift, ok = st.shifts[id]
		}
	})
	if !ok {
		return nil, store.NotFound("active shift", registerID)
	}
	return &shift, nil
}

func (s *Store) ListCashCounts(_ context.Context, shiftID string) ([]domain.CashCount, error) {
	var out []domain.CashCount
	s.read(func(st *state) {
		out = slices.Clone(st.cashCounts[shiftID])
	})
	return out, nil
}

func (s *Store) ListCashMovements(_ context.Context, shiftID string) ([]domain.CashMovement, error) {
	var out []domain.CashMovement
	s.read(func(st *state) {
		out = slices.Clone(st.cashMovements[shiftID])
	})
	return out, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	var (
		sale domain.Sale
		ok   bool
	)
	s.read(func(st *state) {
		sale, ok = st.sales[id]
		if ok {
			sale = copySale(sale)
			if customer, exists := st.customers[sale.CustomerID]; exists {
				sale.Customer = &customer
			}
		}
	})
	if !ok {
		return nil, store.NotFound("sale", id)
	}
	return &sale, nil
}

func (s *Store) FindSaleByIdempotency(ctx context.Context, storeID string, idemKey string) (*domain.Sale, error) {
	var (
		id string
		ok bool
	)
	s.read(func(st *state) {
		id, ok = st.saleByIdem[key(storeID, idemKey)]
	})
	if !ok {
		return nil, store.NotFound("sale", idemKey)
	}
	return s.GetSale(ctx, id)
}

func (s *Store) ListSaleReturns(_ context.Context, saleID string) ([]domain.SaleReturn, error) {
	var out []domain.SaleReturn
	s.read(func(st *state) {
		out = slices.Clone(st.saleReturns[saleID])
	})
	return out, nil
}

func (s *Store) CreatePurchase(_ context.Context, purchase domain.Purchase) error {
	if purchase.ID == "" || purchase.StoreID == "" || len(purchase.Lines) == 0 {
		return store.Validation(store.CodeInvalidInput, "purchase needs id, store and lines", nil)
	}
	return s.write(func(st *state) error {
		if _, exists := st.purchases[purchase.ID]; exists {
			return store.Conflict(store.CodeInvalidState, "purchase already exists", map[string]any{"purchase_id": purchase.ID})
		}
		if purchase.CreatedAt.IsZero() {
			purchase.CreatedAt = time.Now().UTC()
		}
		st.purchases[purchase.ID] = copyPurchase(purchase)
		return nil
	})
}

func (s *Store) GetPurchase(_ context.Context, id string) (*domain.Purchase, error) {
	var (
		purchase domain.Purchase
		ok       bool
	)
	s.read(func(st *state) {
		purchase, ok = st.purchases[id]
		if ok {
			purchase = copyPurchase(purchase)
		}
	})
	if !ok {
		return nil, store.NotFound("purchase", id)
	}
	return &purchase, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	return s.write(func(st *state) error {
		st.auditLogs = append(st.auditLogs, entry)
		return nil
	})
}

func (s *Store) ListAuditLogs(_ context.Context, storeID string, limit int) ([]domain.AuditLog, error) {
	var out []domain.AuditLog
	s.read(func(st *state) {
		for i := len(st.auditLogs) - 1; i >= 0; i-- {
			if st.auditLogs[i].StoreID != storeID {
				continue
			}
			out = append(out, st.auditLogs[i])
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	})
	return out, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return store.Validation(store.CodeInvalidInput, "username is required", nil)
	}
	return s.write(func(st *state) error {
		if _, exists := st.users[username]; exists {
			return store.Conflict(store.CodeInvalidState, "username already exists", map[string]any{"username": username})
		}
		user.Username = username
		st.users[username] = user
		return nil
	})
}

func (s *Store) GetUser(_ context.Context, username string) (*domain.UserAccount, error) {
	var (
		user domain.UserAccount
		ok   bool
	)
	s.read(func(st *state) {
		user, ok = st.users[strings.ToLower(strings.TrimSpace(username))]
	})
	if !ok {
		return nil, store.NotFound("user", username)
	}
	return &user, nil
}

// memTx owns the working copy of one transaction. It is only handed out while
// the owning Store holds txMu.
type memTx struct {
	st *state
}

// Nested runs fn on a copy of the working state and keeps its writes only
// when fn succeeds, like a savepoint.
func (t *memTx) Nested(ctx context.Context, fn func(tx store.Tx) error) error {
	inner := &memTx{st: t.st.clone()}
	if err := fn(inner); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	t.st = inner.st
	return nil
}

func (t *memTx) read(fn func(st *state)) {
	fn(t.st)
}

func (t *memTx) write(fn func(st *state) error) error {
	return fn(t.st)
}

// view exposes the Store read methods over the working copy.
func (t *memTx) view() *Store {
	return &Store{st: t.st}
}

func (t *memTx) HasOpenShift(_ context.Context, storeID string, registerID string) (bool, error) {
	var ok bool
	t.read(func(st *state) {
		_, ok = st.openShiftByReg[key(storeID, registerID)]
	})
	return ok, nil
}

func (t *memTx) InsertShift(_ context.Context, shift domain.CashShift) error {
	return t.write(func(st *state) error {
		regKey := key(shift.StoreID, shift.RegisterID)
		if _, exists := st.openShiftByReg[regKey]; exists && shift.Status == domain.ShiftStatusOpen {
			return store.Conflict(store.CodeShiftAlreadyOpen, "a shift is already open for this register",
				map[string]any{"register_id": shift.RegisterID})
		}
		st.shifts[shift.ID] = shift
		if shift.Status == domain.ShiftStatusOpen {
			st.openShiftByReg[regKey] = shift.ID
		}
		return nil
	})
}

func (t *memTx) LockShift(_ context.Context, shiftID string) (*domain.CashShift, error) {
	var (
		shift domain.CashShift
		ok    bool
	)
	t.read(func(st *state) {
		shift, ok = st.shifts[shiftID]
	})
	if !ok {
		return nil, store.NotFound("shift", shiftID)
	}
	return &shift, nil
}

func (t *memTx) UpdateShift(_ context.Context, shift domain.CashShift) error {
	return t.write(func(st *state) error {
		if _, ok := st.shifts[shift.ID]; !ok {
			return store.NotFound("shift", shift.ID)
		}
		st.shifts[shift.ID] = shift
		regKey := key(shift.StoreID, shift.RegisterID)
		if shift.Status != domain.ShiftStatusOpen && st.openShiftByReg[regKey] == shift.ID {
			delete(st.openShiftByReg, regKey)
		}
		return nil
	})
}

func (t *memTx) ListCashCounts(_ context.Context, shiftID string, countType string) ([]domain.CashCount, error) {
	var out []domain.CashCount
	t.read(func(st *state) {
		for _, count := range st.cashCounts[shiftID] {
			if count.Type == countType {
				out = append(out, count)
			}
		}
	})
	return out, nil
}

func (t *memTx) DeleteCashCounts(_ context.Context, shiftID string, countType string) error {
	return t.write(func(st *state) error {
		kept := make([]domain.CashCount, 0, len(st.cashCounts[shiftID]))
		for _, count := range st.cashCounts[shiftID] {
			if count.Type != countType {
				kept = append(kept, count)
			}
		}
		st.cashCounts[shiftID] = kept
		return nil
	})
}

func (t *memTx) InsertCashCount(_ context.Context, count domain.CashCount) error {
	return t.write(func(st *state) error {
		for _, existing := range st.cashCounts[count.ShiftID] {
			if existing.Type == count.Type && existing.Currency == count.Currency {
				return store.Conflict(store.CodeInvalidState, "cash count already recorded",
					map[string]any{"shift_id": count.ShiftID, "type": count.Type, "currency": count.Currency})
			}
		}
		count.Lines = slices.Clone(count.Lines)
		st.cashCounts[count.ShiftID] = append(slices.Clip(st.cashCounts[count.ShiftID]), count)
		return nil
	})
}

func (t *memTx) ListCashMovements(_ context.Context, shiftID string) ([]domain.CashMovement, error) {
	var out []domain.CashMovement
	t.read(func(st *state) {
		out = slices.Clone(st.cashMovements[shiftID])
	})
	return out, nil
}

func (t *memTx) InsertCashMovement(_ context.Context, movement domain.CashMovement) error {
	return t.write(func(st *state) error {
		st.cashMovements[movement.ShiftID] = append(slices.Clip(st.cashMovements[movement.ShiftID]), movement)
		return nil
	})
}

func (t *memTx) GetItems(ctx context.Context, ids []string) (map[string]domain.Item, error) {
	return t.view().GetItems(ctx, ids)
}

func (t *memTx) LockInventory(_ context.Context, storeID string, itemIDs []string) (map[string]domain.InventoryPosition, error) {
	ids := slices.Clone(itemIDs)
	sort.Strings(ids)
	ids = slices.Compact(ids)

	out := make(map[string]domain.InventoryPosition, len(ids))
	err := t.write(func(st *state) error {
		for _, id := range ids {
			pos, ok := st.inventory[key(storeID, id)]
			if !ok {
				pos = domain.InventoryPosition{
					StoreID:      storeID,
					ItemID:       id,
					Quantity:     decimal.Zero,
					AverageCost:  decimal.Zero,
					ReorderPoint: decimal.Zero,
					UpdatedAt:    time.Now().UTC(),
				}
				st.inventory[key(storeID, id)] = pos
			}
			out[id] = pos
		}
		return nil
	})
	return out, err
}

func (t *memTx) UpdateInventory(_ context.Context, position domain.InventoryPosition) error {
	if position.Quantity.IsNegative() {
		return store.Conflict(store.CodeInsufficientStock, "inventory would go negative",
			map[string]any{"item_id": position.ItemID, "quantity": position.Quantity.String()})
	}
	return t.write(func(st *state) error {
		st.inventory[key(position.StoreID, position.ItemID)] = position
		return nil
	})
}

func (t *memTx) InsertStockMovement(_ context.Context, movement domain.StockMovement) error {
	return t.write(func(st *state) error {
		st.movements = append(slices.Clip(st.movements), movement)
		return nil
	})
}

func (t *memTx) UpsertLowStockAlert(_ context.Context, alert domain.LowStockAlert) error {
	return t.write(func(st *state) error {
		for _, existing := range st.alerts {
			if existing.StoreID == alert.StoreID && existing.ItemID == alert.ItemID &&
				existing.Severity == alert.Severity && existing.Status == domain.AlertStatusUnread {
				return nil
			}
		}
		st.alerts = append(slices.Clip(st.alerts), alert)
		return nil
	})
}

func (t *memTx) LockCustomer(ctx context.Context, customerID string) (*domain.Customer, error) {
	return t.view().GetCustomer(ctx, customerID)
}

func (t *memTx) UpdateCustomerBalance(_ context.Context, customerID string, balance decimal.Decimal) error {
	return t.write(func(st *state) error {
		customer, ok := st.customers[customerID]
		if !ok {
			return store.NotFound("customer", customerID)
		}
		customer.Balance = balance
		st.customers[customerID] = customer
		return nil
	})
}

func (t *memTx) LockSequence(ctx context.Context, storeID string, documentType string) (*domain.FiscalSequence, error) {
	return t.view().PeekSequence(ctx, storeID, documentType)
}

func (t *memTx) SetSequenceNext(_ context.Context, storeID string, documentType string, next int64) error {
	return t.write(func(st *state) error {
		seq, ok := st.sequences[key(storeID, documentType)]
		if !ok {
			return store.NotFound("fiscal sequence", documentType)
		}
		if next < seq.NextNumber {
			return store.Conflict(store.CodeInvalidState, "sequence cannot move backwards",
				map[string]any{"document_type": documentType, "next": next, "current": seq.NextNumber})
		}
		seq.NextNumber = next
		st.sequences[key(storeID, documentType)] = seq
		return nil
	})
}

func (t *memTx) NextCounter(_ context.Context, storeID string, name string) (int64, error) {
	var next int64
	err := t.write(func(st *state) error {
		next = st.counters[key(storeID, name)] + 1
		st.counters[key(storeID, name)] = next
		return nil
	})
	return next, err
}

func (t *memTx) InsertSale(_ context.Context, sale domain.Sale) error {
	return t.write(func(st *state) error {
		if _, exists := st.sales[sale.ID]; exists {
			return store.Conflict(store.CodeInvalidState, "sale already exists", map[string]any{"sale_id": sale.ID})
		}
		for _, existing := range st.sales {
			if existing.StoreID == sale.StoreID && existing.Number == sale.Number {
				return store.Conflict(store.CodeInvalidState, "sale number already used", map[string]any{"number": sale.Number})
			}
		}
		if sale.IdempotencyKey != "" {
			idemKey := key(sale.StoreID, sale.IdempotencyKey)
			if _, exists := st.saleByIdem[idemKey]; exists {
				return store.Conflict(store.CodeRequestInProgress, "sale with this idempotency key already exists",
					map[string]any{"idempotency_key": sale.IdempotencyKey})
			}
			st.saleByIdem[idemKey] = sale.ID
		}
		sale.Customer = nil
		st.sales[sale.ID] = copySale(sale)
		return nil
	})
}

func (t *memTx) LockSale(_ context.Context, saleID string) (*domain.Sale, error) {
	var (
		sale domain.Sale
		ok   bool
	)
	t.read(func(st *state) {
		sale, ok = st.sales[saleID]
		if ok {
			sale = copySale(sale)
		}
	})
	if !ok {
		return nil, store.NotFound("sale", saleID)
	}
	return &sale, nil
}

func (t *memTx) UpdateSaleStatus(_ context.Context, saleID string, status string) error {
	return t.write(func(st *state) error {
		sale, ok := st.sales[saleID]
		if !ok {
			return store.NotFound("sale", saleID)
		}
		sale.Status = status
		st.sales[saleID] = sale
		return nil
	})
}

func (t *memTx) ReturnedBySaleLine(_ context.Context, saleID string) (map[string]domain.ReturnedLine, error) {
	out := make(map[string]domain.ReturnedLine)
	t.read(func(st *state) {
		for _, ret := range st.saleReturns[saleID] {
			for _, line := range ret.Lines {
				agg := out[line.SaleLineID]
				agg.Quantity = agg.Quantity.Add(line.Quantity)
				agg.Subtotal = agg.Subtotal.Add(line.Subtotal)
				agg.Discount = agg.Discount.Add(line.Discount)
				agg.Tax = agg.Tax.Add(line.Tax)
				agg.Total = agg.Total.Add(line.Total)
				out[line.SaleLineID] = agg
			}
		}
	})
	return out, nil
}

func (t *memTx) InsertSaleReturn(_ context.Context, ret domain.SaleReturn) error {
	return t.write(func(st *state) error {
		if _, ok := st.sales[ret.SaleID]; !ok {
			return store.NotFound("sale", ret.SaleID)
		}
		ret.Lines = slices.Clone(ret.Lines)
		st.saleReturns[ret.SaleID] = append(slices.Clip(st.saleReturns[ret.SaleID]), ret)
		return nil
	})
}

func (t *memTx) LockPurchase(ctx context.Context, purchaseID string) (*domain.Purchase, error) {
	return t.view().GetPurchase(ctx, purchaseID)
}

func (t *memTx) UpdatePurchase(_ context.Context, purchase domain.Purchase) error {
	return t.write(func(st *state) error {
		if _, ok := st.purchases[purchase.ID]; !ok {
			return store.NotFound("purchase", purchase.ID)
		}
		st.purchases[purchase.ID] = copyPurchase(purchase)
		return nil
	})
}

func (t *memTx) InsertPurchaseReturn(_ context.Context, ret domain.PurchaseReturn) error {
	return t.write(func(st *state) error {
		ret.Lines = slices.Clone(ret.Lines)
		st.purchaseReturns[ret.PurchaseID] = append(slices.Clip(st.purchaseReturns[ret.PurchaseID]), ret)
		return nil
	})
}

func copySale(sale domain.Sale) domain.Sale {
	sale.Lines = slices.Clone(sale.Lines)
	sale.Payments = slices.Clone(sale.Payments)
	return sale
}

func copyPurchase(purchase domain.Purchase) domain.Purchase {
	purchase.Lines = slices.Clone(purchase.Lines)
	return purchase
}
