package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/hackgods/clinic-scheduling/internal/logging"
)

var serviceTypes = []string{"checkup", "cleaning", "filling", "consultation"}

type SimConfig struct {
	APIBaseURL     string
	Duration       time.Duration
	Workers        int
	Date           string // target date, must be an open clinic day
	RaceTime       string // slot hammered by the booking race
	RaceRequests   int
	PaymentRace    int
	PaymentAmount  decimal.Decimal
	TreatmentPrice decimal.Decimal
	BookingRatio   float64
	ConfirmRatio   float64
	ReadRatio      float64
	Patients       int
}

type DataPool struct {
	Patients     []uuid.UUID
	Times        []string
	mu           sync.RWMutex
	appointments []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int, err error) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case err == nil && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case err == nil && (status == http.StatusConflict || status == http.StatusUnprocessableEntity):
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	i := n * p / 100
	if i >= n {
		i = n - 1
	}
	return i
}

type Metrics struct {
	Booking     OperationMetrics
	Confirm     OperationMetrics
	ReadByID    OperationMetrics
	ListByDate  OperationMetrics
	RaceBooking OperationMetrics
	RacePayment OperationMetrics
}

// Checks collects invariant violations observed over HTTP.
type Checks struct {
	mu       sync.Mutex
	failures []string
}

func (c *Checks) Failf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, fmt.Sprintf(format, args...))
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	checks  Checks
}

func main() {
	logging.Init("simulate", getEnv("APP_ENV", "dev"))

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	log.Info().Str("api", cfg.APIBaseURL).Dur("duration", cfg.Duration).Int("workers", cfg.Workers).
		Str("date", cfg.Date).Msg("simulator starting")

	sim := &Simulator{
		config: cfg,
		pool:   newDataPool(cfg),
		client: &http.Client{Timeout: 10 * time.Second},
	}

	ctx := context.Background()
	sim.RunBookingRace(ctx)
	sim.RunPaymentRace(ctx)
	sim.Run(ctx)
	sim.PrintReport()

	if len(sim.checks.failures) > 0 {
		os.Exit(1)
	}
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:     getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:       getDuration("SIM_DURATION", 30*time.Second),
		Workers:        getInt("SIM_WORKERS", 10),
		Date:           getEnv("SIM_DATE", nextWeekday(time.Now()).Format("2006-01-02")),
		RaceTime:       getEnv("SIM_RACE_TIME", "09:00"),
		RaceRequests:   getInt("SIM_RACE_REQUESTS", 50),
		PaymentRace:    getInt("SIM_PAYMENT_REQUESTS", 50),
		PaymentAmount:  getDecimal("SIM_PAYMENT_AMOUNT", decimal.RequireFromString("37.50")),
		TreatmentPrice: getDecimal("SIM_TREATMENT_PRICE", decimal.RequireFromString("1000.00")),
		BookingRatio:   getFloat("SIM_BOOKING_RATIO", 0.5),
		ConfirmRatio:   getFloat("SIM_CONFIRM_RATIO", 0.2),
		ReadRatio:      getFloat("SIM_READ_RATIO", 0.3),
		Patients:       getInt("SIM_PATIENTS", 500),
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.ConfirmRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.ConfirmRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if _, err := time.Parse("2006-01-02", cfg.Date); err != nil {
		return fmt.Errorf("SIM_DATE must be YYYY-MM-DD: %w", err)
	}
	if cfg.PaymentAmount.Sign() <= 0 {
		return fmt.Errorf("SIM_PAYMENT_AMOUNT must be > 0")
	}
	return nil
}

func newDataPool(cfg SimConfig) *DataPool {
	dp := &DataPool{}
	for i := 0; i < cfg.Patients; i++ {
		dp.Patients = append(dp.Patients, uuid.New())
	}
	// 09:30 to 16:30 half-hour slots, leaving the race slot alone
	for m := 9*60 + 30; m < 17*60; m += 30 {
		clock := fmt.Sprintf("%02d:%02d", m/60, m%60)
		if clock != cfg.RaceTime {
			dp.Times = append(dp.Times, clock)
		}
	}
	return dp
}

// RunBookingRace fires concurrent bookings at one slot and checks the number
// accepted never exceeds the remaining capacity.
func (s *Simulator) RunBookingRace(ctx context.Context) {
	capacity, err := s.capacity(ctx)
	if err != nil {
		s.checks.Failf("booking race: load policy: %v", err)
		return
	}
	before, err := s.activeInSlot(ctx, s.config.Date, s.config.RaceTime)
	if err != nil {
		s.checks.Failf("booking race: list appointments: %v", err)
		return
	}

	log.Info().Int("requests", s.config.RaceRequests).Int("capacity", capacity).Int("already_booked", before).
		Str("slot", s.config.Date+" "+s.config.RaceTime).Msg("starting booking race")

	var created int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < s.config.RaceRequests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			id, ok := s.book(ctx, &s.metrics.RaceBooking, s.pool.Patients[i%len(s.pool.Patients)], s.config.Date, s.config.RaceTime)
			if ok {
				atomic.AddInt64(&created, 1)
				s.pool.AddAppointment(id)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	after, err := s.activeInSlot(ctx, s.config.Date, s.config.RaceTime)
	if err != nil {
		s.checks.Failf("booking race: list appointments: %v", err)
		return
	}

	want := max(capacity-before, 0)
	if int(created) != want {
		s.checks.Failf("booking race: %d bookings accepted, expected %d", created, want)
	}
	if after > capacity {
		s.checks.Failf("booking race: slot holds %d active appointments, capacity %d", after, capacity)
	}
}

// RunPaymentRace completes one appointment and pays it concurrently until
// the balance is exhausted, then checks the ledger balances.
func (s *Simulator) RunPaymentRace(ctx context.Context) {
	apptID, ok := s.book(ctx, &s.metrics.Booking, uuid.New(), s.config.Date, s.pool.Times[len(s.pool.Times)-1])
	if !ok {
		s.checks.Failf("payment race: could not book an appointment")
		return
	}

	var done struct {
		Billing struct {
			ID uuid.UUID `json:"id"`
		} `json:"billing"`
	}
	status, err := s.call(ctx, http.MethodPost, "/appointments/"+apptID.String()+"/complete", map[string]any{
		"procedures": []map[string]any{{"name": gofakeit.HipsterWord() + " treatment", "price": s.config.TreatmentPrice}},
		"notes":      gofakeit.Sentence(5),
	}, &done)
	if err != nil || status != http.StatusOK {
		s.checks.Failf("payment race: complete appointment: status=%d err=%v", status, err)
		return
	}
	billingID := done.Billing.ID.String()

	log.Info().Str("billing_id", billingID).Int("requests", s.config.PaymentRace).
		Str("amount", s.config.PaymentAmount.StringFixed(2)).Msg("starting payment race")

	var mu sync.Mutex
	accepted := decimal.Zero
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < s.config.PaymentRace; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			begin := time.Now()
			status, err := s.call(ctx, http.MethodPost, "/billing/"+billingID+"/payments", map[string]any{
				"amount": s.config.PaymentAmount,
				"method": "card",
				"mode":   "procedure",
			}, nil)
			s.metrics.RacePayment.Record(time.Since(begin), status, err)
			if err == nil && status == http.StatusCreated {
				mu.Lock()
				accepted = accepted.Add(s.config.PaymentAmount)
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	var rec struct {
		TotalAmount      decimal.Decimal `json:"total_amount"`
		RemainingBalance decimal.Decimal `json:"remaining_balance"`
		Transactions     []struct {
			Amount decimal.Decimal `json:"amount"`
		} `json:"transactions"`
	}
	status, err = s.call(ctx, http.MethodGet, "/billing/"+billingID, nil, &rec)
	if err != nil || status != http.StatusOK {
		s.checks.Failf("payment race: load billing: status=%d err=%v", status, err)
		return
	}

	paid := decimal.Zero
	for _, t := range rec.Transactions {
		paid = paid.Add(t.Amount)
	}
	if !rec.TotalAmount.Sub(paid).Equal(rec.RemainingBalance) {
		s.checks.Failf("payment race: total %s - paid %s != remaining %s", rec.TotalAmount, paid, rec.RemainingBalance)
	}
	if !paid.Equal(accepted) {
		s.checks.Failf("payment race: ledger holds %s, clients saw %s accepted", paid, accepted)
	}
	if rec.RemainingBalance.Sign() < 0 {
		s.checks.Failf("payment race: negative balance %s", rec.RemainingBalance)
	}
}

func (s *Simulator) Run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Duration)
	defer cancel()

	log.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting mixed load")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
			clock := s.pool.Times[rng.Intn(len(s.pool.Times))]
			if id, ok := s.book(ctx, &s.metrics.Booking, patient, s.config.Date, clock); ok {
				s.pool.AddAppointment(id)
			}
		case r < s.config.BookingRatio+s.config.ConfirmRatio:
			if id, ok := s.pool.GetRandomAppointment(rng); ok {
				s.timed(ctx, &s.metrics.Confirm, http.MethodPost, "/appointments/"+id.String()+"/confirm")
			}
		case rng.Intn(2) == 0:
			if id, ok := s.pool.GetRandomAppointment(rng); ok {
				s.timed(ctx, &s.metrics.ReadByID, http.MethodGet, "/appointments/"+id.String())
			}
		default:
			s.timed(ctx, &s.metrics.ListByDate, http.MethodGet, "/appointments?date="+s.config.Date)
		}
	}
}

func (s *Simulator) book(ctx context.Context, om *OperationMetrics, patient uuid.UUID, date, clock string) (uuid.UUID, bool) {
	var resp struct {
		ID uuid.UUID `json:"id"`
	}
	start := time.Now()
	status, err := s.call(ctx, http.MethodPost, "/appointments", map[string]string{
		"patient_id":   patient.String(),
		"service_type": gofakeit.RandomString(serviceTypes),
		"date":         date,
		"time":         clock,
	}, &resp)
	om.Record(time.Since(start), status, err)
	return resp.ID, err == nil && status == http.StatusCreated && resp.ID != uuid.Nil
}

func (s *Simulator) timed(ctx context.Context, om *OperationMetrics, method, path string) {
	start := time.Now()
	status, err := s.call(ctx, method, path, nil, nil)
	om.Record(time.Since(start), status, err)
}

// call sends body as JSON and decodes a 2xx response into out when non-nil.
func (s *Simulator) call(ctx context.Context, method, path string, body, out any) (int, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, r)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func (s *Simulator) capacity(ctx context.Context) (int, error) {
	var p struct {
		Capacity int `json:"capacity"`
	}
	status, err := s.call(ctx, http.MethodGet, "/policy", nil, &p)
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, fmt.Errorf("GET /policy returned %d", status)
	}
	return p.Capacity, nil
}

func (s *Simulator) activeInSlot(ctx context.Context, date, clock string) (int, error) {
	var appts []struct {
		Time   string `json:"time"`
		Status string `json:"status"`
	}
	status, err := s.call(ctx, http.MethodGet, "/appointments?date="+date, nil, &appts)
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, fmt.Errorf("GET /appointments returned %d", status)
	}
	n := 0
	for _, a := range appts {
		if a.Time == clock && (a.Status == "pending" || a.Status == "confirmed") {
			n++
		}
	}
	return n, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking race", &s.metrics.RaceBooking)
	printOperationReport("Payment race", &s.metrics.RacePayment)
	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Confirm", &s.metrics.Confirm)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List by date", &s.metrics.ListByDate)

	if len(s.checks.failures) == 0 {
		fmt.Println("Invariant checks: all passed")
		return
	}
	fmt.Printf("Invariant checks: %d FAILED\n", len(s.checks.failures))
	for _, f := range s.checks.failures {
		fmt.Printf("  - %s\n", f)
	}
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Rejected: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// nextWeekday returns the next Monday to Friday after t.
func nextWeekday(t time.Time) time.Time {
	d := t.AddDate(0, 0, 1)
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// Helper functions

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getDecimal(key string, def decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return def
}
