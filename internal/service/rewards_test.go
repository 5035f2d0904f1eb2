package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/pointsledger/internal/model"
)

func TestRedeemReward_Welcome(t *testing.T) {
	svc, _, _ := newTestService(t, DefaultPolicy())
	ctx := context.Background()

	first := newUser(t, svc, 1001, 0)
	second := newUser(t, svc, 1002, 0)

	_, err := svc.CreateReward(ctx, model.NewReward{Code: "WELCOME10", Points: model.PointsFromInt(10)})
	require.NoError(t, err)

	ok, balance, err := svc.RedeemReward(ctx, "WELCOME10", first.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "10.00", balance.String())

	for _, u := range []*model.User{first, second} {
		ok, _, err = svc.RedeemReward(ctx, "WELCOME10", u.ID)
		assert.False(t, ok)
		assert.True(t, errors.Is(err, model.ErrRedemption))
		assert.True(t, errors.Is(err, model.ErrCodeUsed))
	}

	assert.Equal(t, model.PointsFromInt(10), balanceOf(t, svc, first.ID))
	assert.Equal(t, model.Points(0), balanceOf(t, svc, second.ID))

	active, err := svc.ListActiveRewards(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestRedeemReward_CaseInsensitive(t *testing.T) {
	svc, _, _ := newTestService(t, DefaultPolicy())
	ctx := context.Background()
	u := newUser(t, svc, 1001, 0)

	_, err := svc.CreateReward(ctx, model.NewReward{Code: "bonus-5", Points: model.PointsFromInt(5)})
	require.NoError(t, err)

	ok, _, err := svc.RedeemReward(ctx, " Bonus-5 ", u.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedeemReward_Expired(t *testing.T) {
	svc, _, clock := newTestService(t, DefaultPolicy())
	ctx := context.Background()
	u := newUser(t, svc, 1001, 0)

	expires := clock.Now().Add(time.Hour)
	_, err := svc.CreateReward(ctx, model.NewReward{Code: "SHORTLIVED", Points: model.PointsFromInt(10), ExpiresAt: &expires})
	require.NoError(t, err)

	active, err := svc.ListActiveRewards(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)

	clock.Advance(2 * time.Hour)

	ok, _, err := svc.RedeemReward(ctx, "SHORTLIVED", u.ID)
	assert.False(t, ok)
	assert.True(t, errors.Is(err, model.ErrCodeExpired))
	assert.Equal(t, model.Points(0), balanceOf(t, svc, u.ID))

	active, err = svc.ListActiveRewards(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestRedeemReward_Unknown(t *testing.T) {
	svc, _, _ := newTestService(t, DefaultPolicy())
	u := newUser(t, svc, 1001, 0)

	for _, code := range []string{"NOPE42", "??"} {
		ok, _, err := svc.RedeemReward(context.Background(), code, u.ID)
		assert.False(t, ok)
		assert.True(t, errors.Is(err, model.ErrCodeUnknown), "code %q: %v", code, err)
	}
}

func TestRedeemReward_UnknownUser(t *testing.T) {
	svc, _, _ := newTestService(t, DefaultPolicy())
	ctx := context.Background()

	_, err := svc.CreateReward(ctx, model.NewReward{Code: "WELCOME10", Points: model.PointsFromInt(10)})
	require.NoError(t, err)

	ok, _, err := svc.RedeemReward(ctx, "WELCOME10", 404)
	assert.False(t, ok)
	assert.True(t, errors.Is(err, model.ErrNotFound))

	active, err := svc.ListActiveRewards(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1, "failed redemption must leave the code usable")
}

func TestRedeemReward_ConcurrentExactlyOnce(t *testing.T) {
	svc, _, _ := newTestService(t, DefaultPolicy())
	ctx := context.Background()

	const attempts = 32
	users := make([]*model.User, attempts)
	for i := range users {
		users[i] = newUser(t, svc, int64(2000+i), 0)
	}

	_, err := svc.CreateReward(ctx, model.NewReward{Code: "RACE", Points: model.PointsFromInt(10)})
	require.NoError(t, err)

	var successes, rejections atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	for _, u := range users {
		g.Go(func() error {
			ok, _, err := svc.RedeemReward(gctx, "RACE", u.ID)
			switch {
			case ok:
				successes.Add(1)
			case errors.Is(err, model.ErrRedemption):
				rejections.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(attempts-1), rejections.Load())

	var total model.Points
	for _, u := range users {
		total += balanceOf(t, svc, u.ID)
	}
	assert.Equal(t, model.PointsFromInt(10), total)
}

func TestRedeemReward_AtomicOnFailure(t *testing.T) {
	for _, failOn := range []string{"AdjustBalance", "AddLedgerEntry"} {
		t.Run(failOn, func(t *testing.T) {
			svc, repo, _ := newTestService(t, DefaultPolicy())
			ctx := context.Background()
			u := newUser(t, svc, 1001, 0)

			_, err := svc.CreateReward(ctx, model.NewReward{Code: "WELCOME10", Points: model.PointsFromInt(10)})
			require.NoError(t, err)

			svc.store = &faultyStore{MemoryRepository: repo, failOn: failOn}

			ok, _, err := svc.RedeemReward(ctx, "WELCOME10", u.ID)
			assert.False(t, ok)
			assert.True(t, errors.Is(err, model.ErrStorage))
			assert.False(t, errors.Is(err, model.ErrRedemption))

			assert.Equal(t, model.Points(0), balanceOf(t, svc, u.ID))
			active, err := svc.ListActiveRewards(ctx)
			require.NoError(t, err)
			require.Len(t, active, 1)
			assert.False(t, active[0].IsUsed)
			assert.Nil(t, active[0].UserID)

			svc.store = repo
			ok, balance, err := svc.RedeemReward(ctx, "WELCOME10", u.ID)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, model.PointsFromInt(10), balance)
		})
	}
}

func TestCreateReward(t *testing.T) {
	svc, _, clock := newTestService(t, DefaultPolicy())
	ctx := context.Background()

	reason := "launch promo"
	created, err := svc.CreateReward(ctx, model.NewReward{Code: "launch", Points: model.PointsFromInt(3), Reason: &reason})
	require.NoError(t, err)
	assert.Equal(t, "LAUNCH", created.Code)
	assert.False(t, created.IsUsed)
	assert.NotZero(t, created.ID)

	_, err = svc.CreateReward(ctx, model.NewReward{Code: "LAUNCH", Points: model.PointsFromInt(1)})
	assert.True(t, errors.Is(err, model.ErrConflict))

	svc.newCode = func() string { return "0f8e7d6c-5b4a-4392-8170-aabbccddeeff" }
	generated, err := svc.CreateReward(ctx, model.NewReward{Points: model.PointsFromInt(1)})
	require.NoError(t, err)
	assert.Equal(t, "0F8E7D6C5B4A", generated.Code)

	_, err = svc.CreateReward(ctx, model.NewReward{Code: "ZERO", Points: 0})
	assert.True(t, errors.Is(err, model.ErrValidation))

	_, err = svc.CreateReward(ctx, model.NewReward{Code: "bad code!", Points: model.PointsFromInt(1)})
	assert.True(t, errors.Is(err, model.ErrValidation))

	past := clock.Now().Add(-time.Minute)
	_, err = svc.CreateReward(ctx, model.NewReward{Code: "STALE", Points: model.PointsFromInt(1), ExpiresAt: &past})
	assert.True(t, errors.Is(err, model.ErrValidation))
}
