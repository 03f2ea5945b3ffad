// README: Bench checks against the afyaride API: environment, migrations, trip/fare/location endpoints and load.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
	StatusSkip = "SKIP"

	benchUserID = "bench-member-1"
)

// Nairobi CBD to Westlands; straight-line distance is about 1.1 km.
var (
	cbd       = map[string]any{"lat": -1.2921, "lng": 36.8219}
	westlands = map[string]any{"lat": -1.2833, "lng": 36.8167}
	tripBody  = map[string]any{"from": cbd, "to": westlands, "ride_type": "boda"}
	createdRe = regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 15 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	return results
}

func (r *Runner) cases() []TestCase {
	base := r.cfg.BaseURL
	return []TestCase{
		{
			Name: "Env: Postgres connect",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: StatusSkip, Note: "db not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.db.Ping(ctx); err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				return Result{Status: StatusPass}
			},
		},
		{
			Name: "Env: Redis connect",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: StatusSkip, Note: "redis not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				return Result{Status: StatusPass}
			},
		},
		{
			Name: "Migration: apply (optional)",
			Run: func(ctx context.Context, r *Runner) Result {
				if !r.cfg.ApplyMigration {
					return Result{Status: StatusSkip, Note: "apply-migration=false"}
				}
				if r.db == nil {
					return Result{Status: StatusFail, Note: "db not configured"}
				}
				sql, err := os.ReadFile(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				for _, s := range splitSQL(string(sql)) {
					if _, err := r.db.Exec(ctx, s); err != nil {
						return Result{Status: StatusFail, Note: err.Error()}
					}
				}
				return Result{Status: StatusPass}
			},
		},
		{
			Name: "Migration: tables exist",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: StatusSkip, Note: "db not configured"}
				}
				tables, err := extractTables(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				for _, t := range tables {
					var exists bool
					err := r.db.QueryRow(ctx,
						"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
						t,
					).Scan(&exists)
					if err != nil {
						return Result{Status: StatusFail, Note: err.Error()}
					}
					if !exists {
						return Result{Status: StatusFail, Note: "missing table: " + t}
					}
				}
				return Result{Status: StatusPass}
			},
		},

		httpCaseMethod("API: health", http.MethodGet, base+"/health", nil, []int{200}),
		httpCaseMethod("API: metrics exposed", http.MethodGet, base+"/metrics", nil, []int{200}),

		// Trips and fares
		{
			Name: "Trip: CBD to Westlands within 0.9-1.3 km",
			Run: func(ctx context.Context, r *Runner) Result {
				var body struct {
					DistanceKm float64 `json:"distance_km"`
					EtaMinutes int     `json:"eta_minutes"`
				}
				res := r.postJSON(ctx, base+"/api/trips/estimate", tripBody, &body)
				if res.Status != StatusPass {
					return res
				}
				if body.DistanceKm < 0.9 || body.DistanceKm > 1.3 {
					return Result{Status: StatusFail, Latency: res.Latency, Note: fmt.Sprintf("distance_km=%.2f", body.DistanceKm)}
				}
				res.Note = fmt.Sprintf("distance_km=%.2f eta=%dmin", body.DistanceKm, body.EtaMinutes)
				return res
			},
		},
		httpCase("Trip: same point -> 200", base+"/api/trips/estimate", map[string]any{"from": cbd, "to": cbd}, []int{200}),
		httpCase("Trip: invalid coords -> 400", base+"/api/trips/estimate", map[string]any{
			"from": map[string]any{"lat": 123.0, "lng": 456.0},
			"to":   westlands,
		}, []int{400}),
		httpCase("Fare: 5 km boda", base+"/api/fares/estimate", map[string]any{"distance_km": 5, "ride_type": "boda"}, []int{200}),
		httpCase("Fare: unknown ride type falls back to default", base+"/api/fares/estimate", map[string]any{"distance_km": 2, "ride_type": "tuktuk"}, []int{200}),
		httpCase("Fare: negative distance -> 400", base+"/api/fares/estimate", map[string]any{"distance_km": -1}, []int{400}),
		httpCase("Geocode: Nairobi CBD", base+"/api/location/geocode", cbd, []int{200, 502}),

		// Recorded locations
		httpCaseMethod("Location: update member", http.MethodPut, base+"/api/users/"+benchUserID+"/location", map[string]any{
			"user_type":   "member",
			"lat":         -1.2921,
			"lng":         36.8219,
			"accuracy":    20,
			"captured_at": time.Now().UTC(),
		}, []int{200}),
		httpCaseMethod("Location: invalid coords -> 400", http.MethodPut, base+"/api/users/"+benchUserID+"/location", map[string]any{
			"user_type": "member",
			"lat":       123.0,
			"lng":       456.0,
		}, []int{400}),
		httpCaseMethod("Location: last known", http.MethodGet, base+"/api/users/"+benchUserID+"/location/last", nil, []int{200}),
		httpCaseMethod("Location: history", http.MethodGet, base+"/api/users/"+benchUserID+"/location/history?limit=5", nil, []int{200}),
		httpCaseMethod("Location: nearby members", http.MethodGet, base+"/api/users/nearby?user_type=member&lat=-1.29&lng=36.82&radius_km=2", nil, []int{200}),
		{
			Name: "Location: GEO membership in Redis",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: StatusSkip, Note: "redis not configured"}
				}
				pos, err := r.redis.GeoPos(ctx, "geo:members", benchUserID).Result()
				if err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				if len(pos) == 0 || pos[0] == nil {
					return Result{Status: StatusFail, Note: "member not in geo:members"}
				}
				return Result{Status: StatusPass, Note: fmt.Sprintf("%.4f,%.4f", pos[0].Latitude, pos[0].Longitude)}
			},
		},
		{
			Name: "Location: snapshot persisted",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: StatusSkip, Note: "db not configured"}
				}
				var n int
				if err := r.db.QueryRow(ctx, "SELECT count(*) FROM location_snapshots WHERE user_id=$1", benchUserID).Scan(&n); err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				if n == 0 {
					return Result{Status: StatusFail, Note: "no snapshots"}
				}
				return Result{Status: StatusPass, Note: fmt.Sprintf("rows=%d", n)}
			},
		},

		// Devices
		{
			Name: "Device: one-shot fix",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.cfg.DeviceID == "" {
					return Result{Status: StatusSkip, Note: "no device configured"}
				}
				// Denied, timed out and unavailable are valid contract answers.
				return httpCaseMethod("", http.MethodGet, base+"/api/devices/"+r.cfg.DeviceID+"/location", nil,
					[]int{200, 403, 503, 504}).Run(ctx, r)
			},
		},

		// Load
		{
			Name: "Perf: location update throughput",
			Run: func(ctx context.Context, r *Runner) Result {
				var seq atomic.Int64
				return perfLoad(ctx, r, http.MethodPut, base+"/api/users/bench-rider-load/location", func() any {
					return map[string]any{
						"user_type":   "rider",
						"lat":         -1.2921,
						"lng":         36.8219,
						"captured_at": time.Now().UTC().Add(time.Duration(seq.Add(1)) * time.Millisecond),
					}
				})
			},
		},
		{
			Name: "Perf: trip estimate throughput",
			Run: func(ctx context.Context, r *Runner) Result {
				return perfLoad(ctx, r, http.MethodPost, base+"/api/trips/estimate", func() any { return tripBody })
			},
		},
	}
}

func (r *Runner) postJSON(ctx context.Context, url string, body, out any) Result {
	b, _ := json.Marshal(body)
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(b)))
	req.Header.Set("Content-Type", "application/json")
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	defer resp.Body.Close()
	latency := time.Since(start)
	if resp.StatusCode != http.StatusOK {
		return Result{Status: StatusFail, Latency: latency, Note: fmt.Sprintf("status=%d", resp.StatusCode)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return Result{Status: StatusFail, Latency: latency, Note: err.Error()}
	}
	return Result{Status: StatusPass, Latency: latency}
}

func httpCase(name, url string, body any, okStatuses []int) TestCase {
	return httpCaseMethod(name, http.MethodPost, url, body, okStatuses)
}

func httpCaseMethod(name, method, url string, body any, okStatuses []int) TestCase {
	return TestCase{
		Name: name,
		Run: func(ctx context.Context, r *Runner) Result {
			var reader io.Reader
			if body != nil {
				b, _ := json.Marshal(body)
				reader = strings.NewReader(string(b))
			}
			req, _ := http.NewRequestWithContext(ctx, method, url, reader)
			req.Header.Set("Content-Type", "application/json")
			start := time.Now()
			resp, err := r.httpc.Do(req)
			if err != nil {
				return Result{Status: StatusFail, Note: err.Error()}
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			latency := time.Since(start)

			if contains(okStatuses, resp.StatusCode) {
				return Result{Status: StatusPass, Latency: latency, Note: fmt.Sprintf("status=%d", resp.StatusCode)}
			}
			return Result{Status: StatusFail, Latency: latency, Note: fmt.Sprintf("status=%d", resp.StatusCode)}
		},
	}
}

func perfLoad(ctx context.Context, r *Runner, method, url string, payload func() any) Result {
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount, non2xx atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				b, _ := json.Marshal(payload())
				req, _ := http.NewRequestWithContext(ctx, method, url, strings.NewReader(string(b)))
				req.Header.Set("Content-Type", "application/json")
				resp, err := r.httpc.Do(req)
				if err != nil {
					errCount.Add(1)
					continue
				}
				_, _ = io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				if resp.StatusCode >= 300 {
					non2xx.Add(1)
				}
				count.Add(1)
			}
		}()
	}
	wg.Wait()

	if count.Load() == 0 {
		return Result{Status: StatusFail, Note: "no requests completed"}
	}
	rps := float64(count.Load()) / r.cfg.Duration.Seconds()
	note := fmt.Sprintf("rps=%.1f errors=%d non2xx=%d", rps, errCount.Load(), non2xx.Load())
	if non2xx.Load() > 0 {
		return Result{Status: StatusFail, Note: note}
	}
	return Result{Status: StatusPass, Note: note}
}

func contains(list []int, v int) bool {
	for _, i := range list {
		if i == v {
			return true
		}
	}
	return false
}

func extractTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	matches := createdRe.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}

func splitSQL(sql string) []string {
	lines := strings.Split(sql, "\n")
	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		l := strings.TrimSpace(line)
		if strings.HasPrefix(l, "--") || l == "" {
			continue
		}
		filtered = append(filtered, line)
	}
	parts := strings.Split(strings.Join(filtered, "\n"), ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
