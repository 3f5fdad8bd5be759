package repositories

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"forecast-reconciliation/internal/models"
)

// Memory backs in-memory implementations of the three repository interfaces,
// used by tests and the dev server. The views share one state and one lock so
// cross-table semantics (exclusion unpairing, atomic run commits) behave like
// the SQL implementations.
type Memory struct {
	mu          sync.RWMutex
	orders      map[int64]*models.OrderForecastLine
	glEntries   map[int64]*models.GLEntry
	runs        []*models.ReconciliationRun
	nextOrderID int64
	nextGLID    int64
	nextRunID   int64
	now         func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		orders:    make(map[int64]*models.OrderForecastLine),
		glEntries: make(map[int64]*models.GLEntry),
		now:       time.Now,
	}
}

// OrderForecasts returns the order-forecast view of the store.
func (m *Memory) OrderForecasts() OrderForecastRepository { return memoryOrders{m} }

// GLEntries returns the GL-entry view of the store.
func (m *Memory) GLEntries() GLEntryRepository { return memoryGLEntries{m} }

// Runs returns the reconciliation-run view of the store.
func (m *Memory) Runs() ReconciliationRunRepository { return memoryRuns{m} }

func copyOrder(line *models.OrderForecastLine) *models.OrderForecastLine {
	c := *line
	return &c
}

func copyGL(entry *models.GLEntry) *models.GLEntry {
	c := *entry
	return &c
}

type memoryOrders struct{ m *Memory }

func (v memoryOrders) Insert(_ context.Context, line *models.OrderForecastLine) error {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()

	v.m.nextOrderID++
	line.ID = v.m.nextOrderID
	if line.ReconciliationStatus == "" {
		line.ReconciliationStatus = models.StatusUnmatched
	}
	if line.Version == 0 {
		line.Version = 1
	}
	if line.CreatedAt.IsZero() {
		line.CreatedAt = v.m.now()
	}
	line.UpdatedAt = line.CreatedAt
	v.m.orders[line.ID] = copyOrder(line)
	return nil
}

func (v memoryOrders) GetByID(_ context.Context, id int64) (*models.OrderForecastLine, error) {
	v.m.mu.RLock()
	defer v.m.mu.RUnlock()

	line, ok := v.m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyOrder(line), nil
}

func (v memoryOrders) ListByPeriod(_ context.Context, period string) ([]*models.OrderForecastLine, error) {
	v.m.mu.RLock()
	defer v.m.mu.RUnlock()

	var lines []*models.OrderForecastLine
	for _, line := range v.m.orders {
		if line.Period == period {
			lines = append(lines, copyOrder(line))
		}
	}
	sort.Slice(lines, func(i, j int) bool {
		if !lines[i].CreatedAt.Equal(lines[j].CreatedAt) {
			return lines[i].CreatedAt.Before(lines[j].CreatedAt)
		}
		return lines[i].ID < lines[j].ID
	})
	return lines, nil
}

func (v memoryOrders) Update(_ context.Context, line *models.OrderForecastLine) error {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()

	stored, ok := v.m.orders[line.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != line.Version {
		return ErrVersionConflict
	}

	stored.ProjectID = line.ProjectID
	stored.CustomerID = line.CustomerID
	stored.AccountingPeriod = line.AccountingPeriod
	stored.AccountingItemCode = line.AccountingItemCode
	stored.AccountingItemName = line.AccountingItemName
	stored.Description = line.Description
	stored.Amount = line.Amount
	stored.Period = line.Period
	stored.Version++
	stored.UpdatedAt = v.m.now()
	line.Version = stored.Version
	return nil
}

type memoryGLEntries struct{ m *Memory }

func (v memoryGLEntries) BulkInsert(_ context.Context, entries []*models.GLEntry) (int, error) {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()

	for _, entry := range entries {
		v.m.nextGLID++
		entry.ID = v.m.nextGLID
		if entry.ReconciliationStatus == "" {
			entry.ReconciliationStatus = models.StatusUnmatched
		}
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = v.m.now()
		}
		entry.UpdatedAt = entry.CreatedAt
		v.m.glEntries[entry.ID] = copyGL(entry)
	}
	return len(entries), nil
}

func (v memoryGLEntries) GetByID(_ context.Context, id int64) (*models.GLEntry, error) {
	v.m.mu.RLock()
	defer v.m.mu.RUnlock()

	entry, ok := v.m.glEntries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyGL(entry), nil
}

func (v memoryGLEntries) ListByPeriod(_ context.Context, period string) ([]*models.GLEntry, error) {
	v.m.mu.RLock()
	defer v.m.mu.RUnlock()

	var entries []*models.GLEntry
	for _, entry := range v.m.glEntries {
		if entry.Period == period {
			entries = append(entries, copyGL(entry))
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].ID < entries[j].ID
	})
	return entries, nil
}

func (v memoryGLEntries) SetExclusion(_ context.Context, ids []int64, excluded bool, reason string) (int64, error) {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()

	var updated int64
	for _, id := range ids {
		entry, ok := v.m.glEntries[id]
		if !ok {
			continue
		}
		if excluded {
			if entry.MatchedOrderForecastID.Valid {
				if order, ok := v.m.orders[entry.MatchedOrderForecastID.Int64]; ok {
					models.ClearOrderPairing(order)
					order.Version++
					order.UpdatedAt = v.m.now()
				}
			}
			models.ClearGLPairing(entry)
			entry.IsExcluded = true
			entry.ExclusionReason = sql.NullString{String: reason, Valid: true}
		} else {
			entry.IsExcluded = false
			entry.ExclusionReason = sql.NullString{}
		}
		entry.UpdatedAt = v.m.now()
		updated++
	}
	return updated, nil
}

type memoryRuns struct{ m *Memory }

func (v memoryRuns) CommitRun(_ context.Context, update *RunUpdate) error {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()

	// Validate before mutating so a bad update commits nothing.
	for _, state := range update.OrderStates {
		if _, ok := v.m.orders[state.ID]; !ok {
			return ErrNotFound
		}
	}
	for _, state := range update.GLStates {
		if _, ok := v.m.glEntries[state.ID]; !ok {
			return ErrNotFound
		}
	}

	for _, state := range update.OrderStates {
		line := v.m.orders[state.ID]
		line.ReconciliationStatus = state.Status
		line.MatchedGLEntryID = state.CounterpartID
		line.Version++
		line.UpdatedAt = v.m.now()
	}
	for _, state := range update.GLStates {
		entry := v.m.glEntries[state.ID]
		entry.ReconciliationStatus = state.Status
		entry.MatchedOrderForecastID = state.CounterpartID
		entry.UpdatedAt = v.m.now()
	}

	v.m.nextRunID++
	run := *update.Run
	run.ID = v.m.nextRunID
	v.m.runs = append(v.m.runs, &run)
	update.Run.ID = run.ID
	return nil
}

func (v memoryRuns) ListRuns(_ context.Context, period string) ([]*models.ReconciliationRun, error) {
	v.m.mu.RLock()
	defer v.m.mu.RUnlock()

	var runs []*models.ReconciliationRun
	for _, run := range v.m.runs {
		if period == "" || run.Period == period {
			c := *run
			runs = append(runs, &c)
		}
	}
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].ExecutedAt.Equal(runs[j].ExecutedAt) {
			return runs[i].ExecutedAt.After(runs[j].ExecutedAt)
		}
		return runs[i].ID > runs[j].ID
	})
	return runs, nil
}
