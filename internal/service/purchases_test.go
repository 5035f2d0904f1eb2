package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/pointsledger/internal/model"
)

func TestPurchaseIndividualAnalysis_RejectsWithoutOverdraft(t *testing.T) {
	svc, _, _ := newTestService(t, DefaultPolicy())
	u := newUser(t, svc, 1001, model.PointsFromInt(10))

	_, err := svc.PurchaseIndividualAnalysis(context.Background(), u.ID, 60)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrInsufficientBalance))
	assert.Equal(t, model.PointsFromInt(10), balanceOf(t, svc, u.ID))
}

func TestPurchaseIndividualAnalysis_Overdraft(t *testing.T) {
	policy := DefaultPolicy()
	policy.AllowOverdraft = true
	svc, _, _ := newTestService(t, policy)
	u := newUser(t, svc, 1001, model.PointsFromInt(10))

	balance, err := svc.PurchaseIndividualAnalysis(context.Background(), u.ID, 60)
	require.NoError(t, err)
	assert.Equal(t, "-15.00", balance.String())
	assert.Equal(t, model.PointsFromInt(-15), balanceOf(t, svc, u.ID))
}

func TestPurchaseGroupAnalysis(t *testing.T) {
	svc, _, _ := newTestService(t, DefaultPolicy())
	ctx := context.Background()
	u := newUser(t, svc, 1001, model.PointsFromInt(600))

	balance, err := svc.PurchaseGroupAnalysis(ctx, u.ID, 30)
	require.NoError(t, err)
	assert.Equal(t, model.PointsFromInt(100), balance)

	_, err = svc.PurchaseGroupAnalysis(ctx, u.ID, 30)
	assert.True(t, errors.Is(err, model.ErrInsufficientBalance))

	entries, err := svc.GetTransactions(ctx, u.ID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, model.EntryGroupAnalysis, entries[0].Kind)
	assert.Equal(t, model.PointsFromInt(-500), entries[0].Amount)
	assert.Equal(t, "30", entries[0].Reference)
}

func TestPurchase_UnknownUser(t *testing.T) {
	svc, _, _ := newTestService(t, DefaultPolicy())

	_, err := svc.PurchaseIndividualAnalysis(context.Background(), 404, 60)
	assert.True(t, errors.Is(err, model.ErrNotFound))

	_, err = svc.PurchaseGroupAnalysis(context.Background(), 404, 60)
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestPurchase_ConcurrentNeverOverspends(t *testing.T) {
	svc, _, _ := newTestService(t, DefaultPolicy())
	ctx := context.Background()
	u := newUser(t, svc, 1001, model.PointsFromInt(100))

	var g errgroup.Group
	results := make([]error, 10)
	for i := range results {
		g.Go(func() error {
			_, results[i] = svc.PurchaseIndividualAnalysis(ctx, u.ID, 15)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var ok, rejected int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, model.ErrInsufficientBalance):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 4, ok)
	assert.Equal(t, 6, rejected)
	assert.Equal(t, model.Points(0), balanceOf(t, svc, u.ID))
}

func TestAdjustBalance_ConcurrentIncrements(t *testing.T) {
	svc, _, _ := newTestService(t, DefaultPolicy())
	ctx := context.Background()
	u := newUser(t, svc, 1001, 0)

	var g errgroup.Group
	for range 50 {
		g.Go(func() error {
			_, err := svc.AdjustBalance(ctx, u.ID, model.Points(1), "tick")
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, model.Points(50), balanceOf(t, svc, u.ID))

	_, err := svc.AdjustBalance(ctx, u.ID, 0, "noop")
	assert.True(t, errors.Is(err, model.ErrValidation))

	_, err = svc.AdjustBalance(ctx, 404, 1, "ghost")
	assert.True(t, errors.Is(err, model.ErrNotFound))
}
