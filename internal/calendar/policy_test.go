package calendar

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
)

func TestPolicy_IsOpen(t *testing.T) {
	p := DefaultPolicy(2)
	p.OffDays["2024-12-25"] = "Christmas"
	p.OffDays["2024-05-02"] = ""

	tests := []struct {
		name   string
		date   string
		open   bool
		reason string
	}{
		{name: "weekday open", date: "2024-05-01", open: true},
		{name: "sunday closed without reason", date: "2024-05-05", open: false},
		{name: "holiday with reason", date: "2024-12-25", open: false, reason: "Christmas"},
		{name: "off-day without reason", date: "2024-05-02", open: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.IsOpen(tt.date, "10:00")
			require.NoError(t, err)
			assert.Equal(t, tt.open, got.Open)
			assert.Equal(t, tt.reason, got.Reason)
		})
	}
}

func TestPolicy_ClosedWeekdayWinsOverOffDay(t *testing.T) {
	p := DefaultPolicy(1)
	p.OffDays["2024-05-05"] = "Founders day"

	got, err := p.IsOpen("2024-05-05", "")
	require.NoError(t, err)
	assert.False(t, got.Open)
	assert.Empty(t, got.Reason)
}

func TestPolicy_IsOpenRejectsMalformedInput(t *testing.T) {
	p := DefaultPolicy(1)

	_, err := p.IsOpen("2024-13-01", "09:00")
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidInput))

	_, err = p.IsOpen("2024-05-01", "9am")
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidInput))
}

func TestPolicy_InHours(t *testing.T) {
	p := DefaultPolicy(1)

	in, err := p.InHours("2024-05-01", "09:00")
	require.NoError(t, err)
	assert.True(t, in)

	in, err = p.InHours("2024-05-01", "17:00")
	require.NoError(t, err)
	assert.False(t, in, "close time is exclusive")

	in, err = p.InHours("2024-05-04", "12:30")
	require.NoError(t, err)
	assert.False(t, in)

	in, err = p.InHours("2024-05-05", "10:00")
	require.NoError(t, err)
	assert.False(t, in)
}

func TestDayHours_Validate(t *testing.T) {
	assert.NoError(t, DayHours{Open: true, OpenTime: "08:00", CloseTime: "12:00"}.Validate())
	assert.Error(t, DayHours{Open: true, OpenTime: "12:00", CloseTime: "12:00"}.Validate())
	assert.NoError(t, DayHours{Open: false, OpenTime: "12:00", CloseTime: "08:00"}.Validate())
}

func TestNormalizeClock(t *testing.T) {
	got, err := NormalizeClock("9:05")
	require.NoError(t, err)
	assert.Equal(t, "09:05", got)
}

type memStore struct {
	p Policy
}

func (m *memStore) GetPolicy(context.Context) (Policy, error) { return m.p.Clone(), nil }
func (m *memStore) SaveHours(_ context.Context, d time.Weekday, h DayHours) error {
	m.p.Hours[d] = h
	return nil
}
func (m *memStore) SetCapacity(_ context.Context, c int) error { m.p.Capacity = c; return nil }
func (m *memStore) AddOffDay(_ context.Context, o OffDay) error {
	m.p.OffDays[o.Date] = o.Reason
	return nil
}
func (m *memStore) RemoveOffDay(_ context.Context, d string) error {
	delete(m.p.OffDays, d)
	return nil
}

func TestService_ValidatesAdminChanges(t *testing.T) {
	store := &memStore{p: DefaultPolicy(2)}
	svc := NewService(store)
	ctx := context.Background()

	err := svc.UpdateHours(ctx, time.Monday, DayHours{Open: true, OpenTime: "18:00", CloseTime: "08:00"})
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidInput))
	assert.Equal(t, "09:00", store.p.Hours[time.Monday].OpenTime)

	require.NoError(t, svc.UpdateHours(ctx, time.Sunday, DayHours{Open: true, OpenTime: "8:00", CloseTime: "11:00"}))
	assert.Equal(t, "08:00", store.p.Hours[time.Sunday].OpenTime)

	assert.Error(t, svc.SetCapacity(ctx, 0))
	require.NoError(t, svc.SetCapacity(ctx, 4))

	require.NoError(t, svc.AddOffDay(ctx, OffDay{Date: "2024-05-01", Reason: "Labour day"}))
	open, err := svc.IsOpen(ctx, "2024-05-01", "10:00")
	require.NoError(t, err)
	assert.False(t, open.Open)
	assert.Equal(t, "Labour day", open.Reason)

	p, err := svc.Policy(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, p.Capacity)
}

func TestService_AdminChangesLogThroughContext(t *testing.T) {
	var buf bytes.Buffer
	ctx := zerolog.New(&buf).With().Str("request_id", "req-7").Logger().WithContext(context.Background())
	svc := NewService(&memStore{p: DefaultPolicy(2)})

	require.NoError(t, svc.UpdateHours(ctx, time.Monday, DayHours{Open: true, OpenTime: "08:00", CloseTime: "16:00"}))
	require.NoError(t, svc.SetCapacity(ctx, 3))
	require.NoError(t, svc.AddOffDay(ctx, OffDay{Date: "2024-12-25", Reason: "Christmas"}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	for _, l := range lines {
		assert.Contains(t, l, `"request_id":"req-7"`)
	}
}
