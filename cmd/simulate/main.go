package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/auth"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/logger"
	"github.com/hackgods/clinic-booking/internal/schedule"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	PatientLimit int
	SlotLimit    int
	Plan         string
	PostgresDSN  string
	JWTSecret    string
}

type target struct {
	ID   uuid.UUID
	Mode schedule.Mode
	Date schedule.Date
}

type DataPool struct {
	Patients []string // bearer tokens, one per patient
	Slots    []target
}

type outcome int

const (
	outcomeOK outcome = iota
	outcomeConflict
	outcomeError
)

// opStats tallies one kind of request. Latencies are kept whole so the
// report can compute exact percentiles.
type opStats struct {
	mu        sync.Mutex
	counts    [3]int
	latencies []time.Duration
}

func (o *opStats) observe(latency time.Duration, res outcome) {
	o.mu.Lock()
	o.counts[res]++
	o.latencies = append(o.latencies, latency)
	o.mu.Unlock()
}

type summary struct {
	total, ok, conflict, failed int
	mean, p50, p95, p99, worst  time.Duration
}

func (o *opStats) summarize() summary {
	o.mu.Lock()
	defer o.mu.Unlock()

	sum := summary{
		ok:       o.counts[outcomeOK],
		conflict: o.counts[outcomeConflict],
		failed:   o.counts[outcomeError],
	}
	sum.total = sum.ok + sum.conflict + sum.failed
	n := len(o.latencies)
	if n == 0 {
		return sum
	}

	sorted := append([]time.Duration(nil), o.latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	var total time.Duration
	for _, l := range sorted {
		total += l
	}
	at := func(q float64) time.Duration {
		i := int(q * float64(n))
		if i >= n {
			i = n - 1
		}
		return sorted[i]
	}
	sum.mean = total / time.Duration(n)
	sum.p50, sum.p95, sum.p99 = at(0.50), at(0.95), at(0.99)
	sum.worst = sorted[n-1]
	return sum
}

type Metrics struct {
	Booking   opStats
	Available opStats
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     zerolog.Logger
}

func main() {
	log := logger.New(os.Getenv("APP_ENV")).With().Str("service", "simulate").Logger()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	log.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking_ratio", cfg.BookingRatio).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.WithApplicationName("clinic-simulate"), db.WithMaxConns(int32(cfg.Workers)+4))
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("load data pool")
	}
	log.Info().Int("patients", len(dataPool.Patients)).Int("slots", len(dataPool.Slots)).Msg("data loaded")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}

	sim.Run()
	sim.Report()

	if err := checkInvariants(context.Background(), pgPool); err != nil {
		log.Fatal().Err(err).Msg("booking invariant violated")
	}
	log.Info().Msg("no slot has more than one active appointment")
}

func loadConfig() (SimConfig, error) {
	base, err := config.Load()
	if err != nil {
		return SimConfig{}, err
	}

	cfg := SimConfig{
		APIBaseURL:   strings.TrimSuffix(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.6),
		PatientLimit: getInt("SIM_PATIENT_LIMIT", 200),
		SlotLimit:    getInt("SIM_SLOT_LIMIT", 20),
		Plan:         getEnv("SIM_PLAN", "single-consultation"),
		PostgresDSN:  base.PostgresDSN,
		JWTSecret:    base.JWTSecret,
	}

	switch {
	case cfg.JWTSecret == "":
		return cfg, fmt.Errorf("JWT_SECRET is required to mint patient tokens")
	case cfg.Workers <= 0:
		return cfg, fmt.Errorf("SIM_WORKERS must be > 0")
	case cfg.Duration <= 0:
		return cfg, fmt.Errorf("SIM_DURATION must be > 0")
	case cfg.BookingRatio < 0 || cfg.BookingRatio > 1:
		return cfg, fmt.Errorf("SIM_BOOKING_RATIO must be within [0, 1]")
	}
	return cfg, nil
}

// loadDataPool keeps the slot set small so that workers collide on the
// same slots.
func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	zone, err := schedule.ParseOffset(getEnv("PRACTICE_UTC_OFFSET", "+05:30"))
	if err != nil {
		return nil, err
	}

	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `SELECT id FROM patients LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		tok, err := auth.Issue(cfg.JWTSecret, id, auth.RolePatient, cfg.Duration+time.Minute)
		if err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Patients = append(dataPool.Patients, "Bearer "+tok)
	}
	rows.Close()

	rows, err = pool.Query(ctx, `
		SELECT id, mode, start_at
		FROM slots
		WHERE NOT is_booked
		  AND start_at > now()
		ORDER BY start_at
		LIMIT $1
	`, cfg.SlotLimit)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			t       target
			startAt time.Time
		)
		if err := rows.Scan(&t.ID, &t.Mode, &startAt); err != nil {
			return nil, err
		}
		t.Date = zone.DateOf(startAt)
		dataPool.Slots = append(dataPool.Slots, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded, run cmd/seed first")
	}
	if len(dataPool.Slots) == 0 {
		return nil, fmt.Errorf("no open future slots, run clinicctl slots generate first")
	}
	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		if rng.Float64() < s.config.BookingRatio {
			s.doBooking(ctx, rng)
		} else {
			s.doAvailable(ctx, rng)
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	sl := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	bearer := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	body, _ := json.Marshal(map[string]string{
		"slot_id": sl.ID.String(),
		"mode":    string(sl.Mode),
		"plan":    s.config.Plan,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/appointments", bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", bearer)

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if ctx.Err() != nil {
		return
	}

	res := outcomeError
	if err == nil {
		resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusCreated:
			res = outcomeOK
		case http.StatusConflict:
			res = outcomeConflict
		}
	}
	s.metrics.Booking.observe(latency, res)
}

func (s *Simulator) doAvailable(ctx context.Context, rng *rand.Rand) {
	sl := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	url := fmt.Sprintf("%s/slots/available?date=%s&mode=%s", s.config.APIBaseURL, sl.Date, sl.Mode)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if ctx.Err() != nil {
		return
	}

	res := outcomeError
	if err == nil {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			res = outcomeOK
		}
	}
	s.metrics.Available.observe(latency, res)
}

// checkInvariants looks for double bookings and occupancy flags that
// disagree with the active appointments.
func checkInvariants(ctx context.Context, pool *pgxpool.Pool) error {
	var doubles, drift int
	err := pool.QueryRow(ctx, `
		SELECT count(*) FROM (
			SELECT slot_id
			FROM appointments
			WHERE status IN ('PENDING', 'CONFIRMED') AND slot_id IS NOT NULL
			GROUP BY slot_id
			HAVING count(*) > 1
		) d
	`).Scan(&doubles)
	if err != nil {
		return err
	}

	err = pool.QueryRow(ctx, `
		SELECT count(*)
		FROM slots s
		WHERE s.is_booked <> EXISTS (
			SELECT 1 FROM appointments a
			WHERE a.slot_id = s.id AND a.status IN ('PENDING', 'CONFIRMED')
		)
		AND s.start_at > now()
	`).Scan(&drift)
	if err != nil {
		return err
	}

	if doubles > 0 || drift > 0 {
		return fmt.Errorf("%d double-booked slot(s), %d slot(s) with stale occupancy", doubles, drift)
	}
	return nil
}

func (s *Simulator) Report() {
	s.log.Info().
		Dur("duration", s.config.Duration).
		Int("workers", s.config.Workers).
		Int("contended_slots", len(s.pool.Slots)).
		Msg("simulation report")
	s.reportOp("book", &s.metrics.Booking)
	s.reportOp("list_available", &s.metrics.Available)
}

func (s *Simulator) reportOp(name string, o *opStats) {
	sum := o.summarize()
	if sum.total == 0 {
		return
	}
	s.log.Info().
		Str("op", name).
		Int("total", sum.total).
		Int("ok", sum.ok).
		Int("conflict", sum.conflict).
		Int("error", sum.failed).
		Str("ok_pct", strconv.FormatFloat(100*float64(sum.ok)/float64(sum.total), 'f', 1, 64)).
		Dur("mean", sum.mean.Round(time.Millisecond)).
		Dur("p50", sum.p50.Round(time.Millisecond)).
		Dur("p95", sum.p95.Round(time.Millisecond)).
		Dur("p99", sum.p99.Round(time.Millisecond)).
		Dur("max", sum.worst.Round(time.Millisecond)).
		Msg("operation stats")
}

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
