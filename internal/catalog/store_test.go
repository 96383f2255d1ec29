package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *redis.Client {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client
}

func TestStoreRoundTrip(t *testing.T) {
	store := NewStore(setupTestRedis(t))
	ctx := context.Background()

	minForce := int64(20000)
	require.NoError(t, store.SaveTreatment(ctx, Treatment{
		ID: "botox", Name: "Botox", DurationMinutes: 15, PriceAmount: 30000,
		MinForcePaymentAmount: &minForce, CancellationFee: 5000,
	}))
	require.NoError(t, store.SaveBranch(ctx, Branch{ID: "downtown", Name: "Downtown"}))

	tr, err := store.Treatment(ctx, "botox")
	require.NoError(t, err)
	assert.Equal(t, 15, tr.DurationMinutes)
	assert.True(t, tr.RequiresPayment())

	br, err := store.Branch(ctx, "downtown")
	require.NoError(t, err)
	_, open := br.HoursOn(time.Monday)
	assert.True(t, open, "default hours applied")
	_, open = br.HoursOn(time.Sunday)
	assert.False(t, open)
}

func TestStoreNotFound(t *testing.T) {
	store := NewStore(setupTestRedis(t))
	_, err := store.Treatment(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Branch(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreValidation(t *testing.T) {
	store := NewStore(setupTestRedis(t))
	ctx := context.Background()
	assert.ErrorIs(t, store.SaveTreatment(ctx, Treatment{ID: "", DurationMinutes: 10}), ErrInvalid)
	assert.ErrorIs(t, store.SaveTreatment(ctx, Treatment{ID: "x", DurationMinutes: 0}), ErrInvalid)
	assert.ErrorIs(t, store.SaveBranch(ctx, Branch{}), ErrInvalid)
}

func TestRequiresPayment(t *testing.T) {
	threshold := int64(10000)
	assert.False(t, Treatment{PriceAmount: 5000}.RequiresPayment())
	assert.True(t, Treatment{PaymentRequired: true}.RequiresPayment())
	assert.False(t, Treatment{PriceAmount: 9999, MinForcePaymentAmount: &threshold}.RequiresPayment())
	assert.True(t, Treatment{PriceAmount: 10000, MinForcePaymentAmount: &threshold}.RequiresPayment())
}

func TestBranchLocation(t *testing.T) {
	assert.Equal(t, time.UTC, Branch{}.Location())
	assert.Equal(t, time.UTC, Branch{Timezone: "Not/AZone"}.Location())
	assert.Equal(t, "America/New_York", Branch{Timezone: "America/New_York"}.Location().String())
}
