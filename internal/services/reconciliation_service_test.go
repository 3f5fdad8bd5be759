package services_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forecast-reconciliation/internal/config"
	"forecast-reconciliation/internal/models"
	"forecast-reconciliation/internal/repositories"
	"forecast-reconciliation/internal/services"
)

type testStack struct {
	mem            *repositories.Memory
	orders         repositories.OrderForecastRepository
	glEntries      repositories.GLEntryRepository
	runs           repositories.ReconciliationRunRepository
	reconciliation *services.ReconciliationService
	exclusion      *services.ExclusionService
	ingestion      *services.IngestionService
}

func newTestStack() *testStack {
	mem := repositories.NewMemory()
	orders := mem.OrderForecasts()
	glEntries := mem.GLEntries()
	runs := mem.Runs()
	return &testStack{
		mem:            mem,
		orders:         orders,
		glEntries:      glEntries,
		runs:           runs,
		reconciliation: services.NewReconciliationService(config.MatchingConfig{}, orders, glEntries, runs),
		exclusion:      services.NewExclusionService(glEntries),
		ingestion:      services.NewIngestionService(orders, glEntries),
	}
}

func (s *testStack) seedOrder(t *testing.T, amount, itemCode, description string) *models.OrderForecastLine {
	t.Helper()
	line := &models.OrderForecastLine{
		ProjectID:          1,
		CustomerID:         1,
		AccountingPeriod:   "2025-04",
		AccountingItemCode: itemCode,
		Description:        description,
		Amount:             decimal.RequireFromString(amount),
		Period:             "2025-04",
	}
	require.NoError(t, s.orders.Insert(context.Background(), line))
	return line
}

func (s *testStack) seedGL(t *testing.T, amount, accountCode, accountName string) *models.GLEntry {
	t.Helper()
	entry := &models.GLEntry{
		VoucherNo:       "V-1",
		TransactionDate: "2025-04-01",
		AccountCode:     accountCode,
		AccountName:     accountName,
		Amount:          decimal.RequireFromString(amount),
		DebitCredit:     models.Debit,
		Period:          "2025-04",
	}
	_, err := s.glEntries.BulkInsert(context.Background(), []*models.GLEntry{entry})
	require.NoError(t, err)
	return entry
}

func TestRunPairsAndPersists(t *testing.T) {
	stack := newTestStack()
	ctx := context.Background()

	order := stack.seedOrder(t, "100000", "511", "")
	gl := stack.seedGL(t, "100000", "511", "売掛金")

	run, err := stack.reconciliation.Run(ctx, "2025-04", models.ModeFuzzy)
	require.NoError(t, err)

	assert.Equal(t, 1, run.MatchedCount)
	assert.Zero(t, run.FuzzyMatchedCount)
	assert.Zero(t, run.UnmatchedOrderCount)
	assert.Zero(t, run.UnmatchedGLCount)
	assert.Equal(t, 1, run.TotalOrderCount)
	assert.Equal(t, 1, run.TotalGLCount)

	storedOrder, err := stack.orders.GetByID(ctx, order.ID)
	require.NoError(t, err)
	storedGL, err := stack.glEntries.GetByID(ctx, gl.ID)
	require.NoError(t, err)

	assert.Equal(t, models.StatusMatched, storedOrder.ReconciliationStatus)
	assert.Equal(t, models.StatusMatched, storedGL.ReconciliationStatus)
	require.True(t, storedOrder.MatchedGLEntryID.Valid)
	require.True(t, storedGL.MatchedOrderForecastID.Valid)
	assert.Equal(t, storedGL.ID, storedOrder.MatchedGLEntryID.Int64)
	assert.Equal(t, storedOrder.ID, storedGL.MatchedOrderForecastID.Int64)

	runs, err := stack.reconciliation.ListRuns(ctx, "2025-04")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.MatchedCount, runs[0].MatchedCount)
	assert.Equal(t, models.ModeFuzzy, runs[0].Mode)
}

func TestRunRejectsMissingPeriod(t *testing.T) {
	stack := newTestStack()
	ctx := context.Background()

	stack.seedOrder(t, "100000", "511", "")
	stack.seedGL(t, "100000", "511", "")

	_, err := stack.reconciliation.Run(ctx, "", models.ModeFuzzy)
	var validationErr *services.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "period", validationErr.Field)

	// No mutation and no log row on a rejected request.
	runs, err := stack.reconciliation.ListRuns(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, runs)

	lines, err := stack.orders.ListByPeriod(ctx, "2025-04")
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnmatched, lines[0].ReconciliationStatus)
}

func TestRunRejectsBadPeriodAndMode(t *testing.T) {
	stack := newTestStack()
	ctx := context.Background()

	_, err := stack.reconciliation.Run(ctx, "April 2025", models.ModeFuzzy)
	var validationErr *services.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "period", validationErr.Field)

	_, err = stack.reconciliation.Run(ctx, "2025-04", "approximate")
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "mode", validationErr.Field)
}

func TestRunIdempotentOverUnchangedPeriod(t *testing.T) {
	stack := newTestStack()
	ctx := context.Background()

	stack.seedOrder(t, "100000", "511", "")
	stack.seedOrder(t, "100500", "519", "Ａ社掛け")
	stack.seedGL(t, "100000", "511", "")
	stack.seedGL(t, "100000", "518", "A社掛け")

	first, err := stack.reconciliation.Run(ctx, "2025-04", models.ModeFuzzy)
	require.NoError(t, err)
	assert.Equal(t, 1, first.MatchedCount)
	assert.Equal(t, 1, first.FuzzyMatchedCount)

	lines, err := stack.orders.ListByPeriod(ctx, "2025-04")
	require.NoError(t, err)
	versionsAfterFirst := []int64{lines[0].Version, lines[1].Version}

	second, err := stack.reconciliation.Run(ctx, "2025-04", models.ModeFuzzy)
	require.NoError(t, err)

	assert.Equal(t, first.MatchedCount, second.MatchedCount)
	assert.Equal(t, first.FuzzyMatchedCount, second.FuzzyMatchedCount)
	assert.Equal(t, first.UnmatchedOrderCount, second.UnmatchedOrderCount)
	assert.Equal(t, first.UnmatchedGLCount, second.UnmatchedGLCount)

	// The second run recomputes the same pairings and touches no record.
	lines, err = stack.orders.ListByPeriod(ctx, "2025-04")
	require.NoError(t, err)
	assert.Equal(t, versionsAfterFirst, []int64{lines[0].Version, lines[1].Version})

	runs, err := stack.reconciliation.ListRuns(ctx, "2025-04")
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestRunExactModeOnly(t *testing.T) {
	stack := newTestStack()
	ctx := context.Background()

	order := stack.seedOrder(t, "100500", "511", "")
	stack.seedGL(t, "100000", "511", "")

	run, err := stack.reconciliation.Run(ctx, "2025-04", models.ModeExact)
	require.NoError(t, err)
	assert.Zero(t, run.MatchedCount)
	assert.Zero(t, run.FuzzyMatchedCount)
	assert.Equal(t, 1, run.UnmatchedOrderCount)

	storedOrder, err := stack.orders.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnmatched, storedOrder.ReconciliationStatus)
}

// commitFailRunRepository serves reads from the real store but fails every
// commit, standing in for a database error at the final write.
type commitFailRunRepository struct {
	repositories.ReconciliationRunRepository
}

func (r commitFailRunRepository) CommitRun(ctx context.Context, update *repositories.RunUpdate) error {
	return errors.New("connection lost")
}

func TestRunSurfacesCommitFailureWithoutPartialWrites(t *testing.T) {
	stack := newTestStack()
	ctx := context.Background()

	order := stack.seedOrder(t, "100000", "511", "")
	gl := stack.seedGL(t, "100000", "511", "売掛金")

	failing := services.NewReconciliationService(
		config.MatchingConfig{}, stack.orders, stack.glEntries,
		commitFailRunRepository{stack.runs})

	_, err := failing.Run(ctx, "2025-04", models.ModeFuzzy)
	require.ErrorContains(t, err, "reconciliation run failed")

	storedOrder, err := stack.orders.GetByID(ctx, order.ID)
	require.NoError(t, err)
	storedGL, err := stack.glEntries.GetByID(ctx, gl.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnmatched, storedOrder.ReconciliationStatus)
	assert.Equal(t, models.StatusUnmatched, storedGL.ReconciliationStatus)
	assert.False(t, storedOrder.MatchedGLEntryID.Valid)
	assert.False(t, storedGL.MatchedOrderForecastID.Valid)
	assert.Equal(t, order.Version, storedOrder.Version)

	runs, err := stack.runs.ListRuns(ctx, "2025-04")
	require.NoError(t, err)
	assert.Empty(t, runs)
}

// gateRunRepository signals when a commit starts and holds it open until
// released, so a test can overlap two runs for the same period.
type gateRunRepository struct {
	repositories.ReconciliationRunRepository
	entered chan struct{}
	release chan struct{}
}

func (r gateRunRepository) CommitRun(ctx context.Context, update *repositories.RunUpdate) error {
	select {
	case r.entered <- struct{}{}:
	default:
	}
	<-r.release
	return r.ReconciliationRunRepository.CommitRun(ctx, update)
}

func TestRunRejectsConcurrentRunForSamePeriod(t *testing.T) {
	stack := newTestStack()
	ctx := context.Background()

	stack.seedOrder(t, "100000", "511", "")
	stack.seedGL(t, "100000", "511", "売掛金")

	gate := gateRunRepository{
		ReconciliationRunRepository: stack.runs,
		entered:                     make(chan struct{}, 1),
		release:                     make(chan struct{}),
	}
	gated := services.NewReconciliationService(
		config.MatchingConfig{}, stack.orders, stack.glEntries, gate)

	done := make(chan error, 1)
	go func() {
		_, err := gated.Run(ctx, "2025-04", models.ModeFuzzy)
		done <- err
	}()

	<-gate.entered
	_, err := gated.Run(ctx, "2025-04", models.ModeFuzzy)
	assert.ErrorIs(t, err, services.ErrRunInProgress)

	close(gate.release)
	require.NoError(t, <-done)

	// The slot is released once the first run finishes.
	_, err = gated.Run(ctx, "2025-04", models.ModeFuzzy)
	require.NoError(t, err)
}

func TestExclusionBreaksExistingPairing(t *testing.T) {
	stack := newTestStack()
	ctx := context.Background()

	order := stack.seedOrder(t, "100000", "511", "")
	gl := stack.seedGL(t, "100000", "511", "")

	_, err := stack.reconciliation.Run(ctx, "2025-04", models.ModeFuzzy)
	require.NoError(t, err)

	updated, err := stack.exclusion.SetExclusion(ctx, []int64{gl.ID}, true, "重複取込")
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated)

	storedOrder, err := stack.orders.GetByID(ctx, order.ID)
	require.NoError(t, err)
	storedGL, err := stack.glEntries.GetByID(ctx, gl.ID)
	require.NoError(t, err)

	assert.Equal(t, models.StatusUnmatched, storedOrder.ReconciliationStatus)
	assert.False(t, storedOrder.MatchedGLEntryID.Valid)
	assert.Equal(t, models.StatusUnmatched, storedGL.ReconciliationStatus)
	assert.False(t, storedGL.MatchedOrderForecastID.Valid)
	assert.True(t, storedGL.IsExcluded)
	assert.Equal(t, "重複取込", storedGL.ExclusionReason.String)

	// The excluded entry is never a candidate again.
	run, err := stack.reconciliation.Run(ctx, "2025-04", models.ModeFuzzy)
	require.NoError(t, err)
	assert.Zero(t, run.MatchedCount)
	assert.Equal(t, 1, run.UnmatchedOrderCount)
	assert.Equal(t, 1, run.UnmatchedGLCount)
}

func TestExclusionValidation(t *testing.T) {
	stack := newTestStack()
	ctx := context.Background()

	var validationErr *services.ValidationError

	_, err := stack.exclusion.SetExclusion(ctx, nil, true, "reason")
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "gl_entry_ids", validationErr.Field)

	_, err = stack.exclusion.SetExclusion(ctx, []int64{1}, true, "  ")
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "exclusion_reason", validationErr.Field)
}

func TestUnexcludeClearsReason(t *testing.T) {
	stack := newTestStack()
	ctx := context.Background()

	gl := stack.seedGL(t, "100000", "511", "")

	_, err := stack.exclusion.SetExclusion(ctx, []int64{gl.ID}, true, "重複取込")
	require.NoError(t, err)

	_, err = stack.exclusion.SetExclusion(ctx, []int64{gl.ID}, false, "ignored")
	require.NoError(t, err)

	storedGL, err := stack.glEntries.GetByID(ctx, gl.ID)
	require.NoError(t, err)
	assert.False(t, storedGL.IsExcluded)
	assert.False(t, storedGL.ExclusionReason.Valid)
}

func TestUpdateOrderForecastVersionConflict(t *testing.T) {
	stack := newTestStack()
	ctx := context.Background()

	line, err := stack.ingestion.CreateOrderForecast(ctx, services.OrderForecastInput{
		ProjectID:          1,
		CustomerID:         2,
		AccountingPeriod:   "2025-04",
		AccountingItemCode: "511",
		Amount:             decimal.NewFromInt(100000),
		Period:             "2025-04",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), line.Version)

	input := services.OrderForecastInput{
		ProjectID:          1,
		CustomerID:         2,
		AccountingPeriod:   "2025-04",
		AccountingItemCode: "512",
		Amount:             decimal.NewFromInt(120000),
		Period:             "2025-04",
		Version:            1,
	}
	updated, err := stack.ingestion.UpdateOrderForecast(ctx, line.ID, input)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	// A second writer still holding version 1 must be rejected, not silently
	// overwritten.
	_, err = stack.ingestion.UpdateOrderForecast(ctx, line.ID, input)
	assert.ErrorIs(t, err, repositories.ErrVersionConflict)
}

func TestEditedPairingRefreshedOnNextRun(t *testing.T) {
	stack := newTestStack()
	ctx := context.Background()

	order := stack.seedOrder(t, "100000", "511", "")
	gl := stack.seedGL(t, "100000", "511", "売掛金")

	_, err := stack.reconciliation.Run(ctx, "2025-04", models.ModeFuzzy)
	require.NoError(t, err)

	paired, err := stack.orders.GetByID(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusMatched, paired.ReconciliationStatus)

	// The edit invalidates the pairing but leaves it in place until the next
	// run recomputes the period.
	_, err = stack.ingestion.UpdateOrderForecast(ctx, order.ID, services.OrderForecastInput{
		ProjectID:          1,
		CustomerID:         1,
		AccountingPeriod:   "2025-04",
		AccountingItemCode: "512",
		Amount:             decimal.NewFromInt(500000),
		Period:             "2025-04",
		Version:            paired.Version,
	})
	require.NoError(t, err)

	edited, err := stack.orders.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusMatched, edited.ReconciliationStatus)
	assert.True(t, edited.MatchedGLEntryID.Valid)

	run, err := stack.reconciliation.Run(ctx, "2025-04", models.ModeFuzzy)
	require.NoError(t, err)
	assert.Zero(t, run.MatchedCount)
	assert.Equal(t, 1, run.UnmatchedOrderCount)
	assert.Equal(t, 1, run.UnmatchedGLCount)

	refreshed, err := stack.orders.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnmatched, refreshed.ReconciliationStatus)
	assert.False(t, refreshed.MatchedGLEntryID.Valid)

	storedGL, err := stack.glEntries.GetByID(ctx, gl.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnmatched, storedGL.ReconciliationStatus)
	assert.False(t, storedGL.MatchedOrderForecastID.Valid)
}

func TestIngestGLEntries(t *testing.T) {
	stack := newTestStack()
	ctx := context.Background()

	result, err := stack.ingestion.IngestGLEntries(ctx, []services.GLEntryInput{
		{
			VoucherNo:       "V-100",
			TransactionDate: "2025-04-10",
			AccountCode:     "511",
			AccountName:     "売掛金",
			Amount:          decimal.NewFromInt(100000),
			DebitCredit:     models.Debit,
			Period:          "2025-04",
		},
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.RecordsCount)

	entries, err := stack.glEntries.ListByPeriod(ctx, "2025-04")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.StatusUnmatched, entries[0].ReconciliationStatus)
	assert.False(t, entries[0].IsExcluded)
}

func TestIngestGLEntriesRejectsBadDate(t *testing.T) {
	stack := newTestStack()
	ctx := context.Background()

	result, err := stack.ingestion.IngestGLEntries(ctx, []services.GLEntryInput{
		{
			VoucherNo:       "V-100",
			TransactionDate: "10/04/2025",
			AccountCode:     "511",
			Amount:          decimal.NewFromInt(100000),
			DebitCredit:     models.Debit,
			Period:          "2025-04",
		},
	})
	require.Error(t, err)
	require.NotNil(t, result)
	assert.NotEmpty(t, result.Errors)

	// Nothing is inserted when any record fails validation.
	entries, err := stack.glEntries.ListByPeriod(ctx, "2025-04")
	require.NoError(t, err)
	assert.Empty(t, entries)
}
