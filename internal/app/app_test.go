package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/billing"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/inventory"
	"github.com/hackgods/clinic-scheduling/internal/treatment"
)

func TestOpen_MemoryStore(t *testing.T) {
	ctx := context.Background()
	a, err := Open(ctx, config.Config{Store: config.StoreMemory, DefaultCapacity: 1, Location: time.UTC})
	require.NoError(t, err)
	defer a.Close()

	assert.Empty(t, a.Dependencies)

	item := uuid.New()
	require.NoError(t, a.Stock.Upsert(ctx, inventory.Item{ID: item, Name: "composite", Stock: 3}))

	appt, err := a.Appointments.Book(ctx, appointment.BookRequest{
		PatientID:   uuid.New(),
		ServiceType: "filling",
		Date:        "2024-05-06",
		Time:        "10:00",
	})
	require.NoError(t, err)

	_, err = a.Appointments.Book(ctx, appointment.BookRequest{
		PatientID:   uuid.New(),
		ServiceType: "filling",
		Date:        "2024-05-06",
		Time:        "10:00",
	})
	assert.ErrorIs(t, err, appointment.ErrSlotFull)

	res, err := a.Treatments.Complete(ctx, appt.ID, treatment.Payload{
		Procedures:    []appointment.Procedure{{Name: "Filling", Price: decimal.RequireFromString("150.00")}},
		InventoryUsed: []appointment.InventoryUse{{ItemID: item, Quantity: 1}},
	})
	require.NoError(t, err)
	assert.True(t, res.Billing.RemainingBalance.Equal(decimal.RequireFromString("150.00")))
	assert.Equal(t, billing.RecordUnpaid, res.Billing.Status)
}

func TestDependencies_AllCritical(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()

	deps := dependencies(nil, rdb)
	require.Len(t, deps, 2)
	for _, d := range deps {
		assert.True(t, d.Critical, d.Name)
	}
}
