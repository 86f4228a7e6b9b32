// Package simulate drives realistic traffic against a running service so its
// dashboards have something to show.
package simulate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PauseFunc waits a random duration in [lo, hi] or until ctx ends.
type PauseFunc func(ctx context.Context, lo, hi time.Duration) error

// Options configures a simulation run.
type Options struct {
	BaseURL string
	Client  *http.Client
	Logger  *zap.Logger

	// Pause paces the requests. Defaults to RandomPause.
	Pause PauseFunc

	Workers           int
	RequestsPerWorker int
}

func (o Options) withDefaults() Options {
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	if o.Client == nil {
		o.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Pause == nil {
		o.Pause = RandomPause
	}
	if o.Workers <= 0 {
		o.Workers = 5
	}
	if o.RequestsPerWorker <= 0 {
		o.RequestsPerWorker = 10
	}
	return o
}

// Report summarizes a run.
type Report struct {
	mu sync.Mutex

	Requests   int         `json:"requests"`
	Failures   int         `json:"failures"`
	ByStatus   map[int]int `json:"by_status"`
	CreatedIDs []int       `json:"created_ids"`
}

func newReport() *Report {
	return &Report{ByStatus: make(map[int]int)}
}

func (r *Report) record(status int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Requests++
	if err != nil {
		r.Failures++
		return
	}
	r.ByStatus[status]++
}

func (r *Report) created(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CreatedIDs = append(r.CreatedIDs, id)
}

func (r *Report) randomID() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.CreatedIDs) == 0 {
		return 0, false
	}
	return r.CreatedIDs[rand.IntN(len(r.CreatedIDs))], true
}

// Summary renders the report for a terminal.
func (r *Report) Summary() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	statuses := make([]int, 0, len(r.ByStatus))
	for status := range r.ByStatus {
		statuses = append(statuses, status)
	}
	sort.Ints(statuses)

	var b strings.Builder
	fmt.Fprintf(&b, "Requests: %d (transport failures: %d)\n", r.Requests, r.Failures)
	for _, status := range statuses {
		fmt.Fprintf(&b, "  %d: %d\n", status, r.ByStatus[status])
	}
	fmt.Fprintf(&b, "Created %d users during simulation\n", len(r.CreatedIDs))
	return b.String()
}

type newUser struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Age   int    `json:"age"`
}

var sampleUsers = []newUser{
	{Name: "Alice Johnson", Email: "alice@example.com", Age: 28},
	{Name: "Bob Smith", Email: "bob@example.com", Age: 35},
	{Name: "Charlie Brown", Email: "charlie@example.com", Age: 22},
	{Name: "Diana Wilson", Email: "diana@example.com", Age: 31},
	{Name: "Edward Davis", Email: "edward@example.com", Age: 29},
	{Name: "Fiona Miller", Email: "fiona@example.com", Age: 26},
	{Name: "George Taylor", Email: "george@example.com", Age: 33},
	{Name: "Hannah White", Email: "hannah@example.com", Age: 27},
}

type simulator struct {
	opts   Options
	report *Report
}

// Run drives the five traffic phases against opts.BaseURL: initial users,
// normal traffic, error scenarios, concurrent load and slow calls.
func Run(ctx context.Context, opts Options) (*Report, error) {
	s := &simulator{opts: opts.withDefaults(), report: newReport()}

	phases := []struct {
		name string
		run  func(context.Context) error
	}{
		{"Creating initial users", s.initialUsers},
		{"Normal traffic simulation", s.normalTraffic},
		{"Error scenarios", s.errorScenarios},
		{"Load testing", s.loadTest},
		{"Testing slow endpoints", s.slowEndpoints},
	}

	for i, phase := range phases {
		s.opts.Logger.Info("Starting simulation phase",
			zap.Int("phase", i+1),
			zap.String("name", phase.name),
		)
		if err := phase.run(ctx); err != nil {
			return s.report, fmt.Errorf("phase %d (%s): %w", i+1, phase.name, err)
		}
	}

	s.opts.Logger.Info("Traffic simulation completed",
		zap.Int("requests", s.report.Requests),
		zap.Int("created_users", len(s.report.CreatedIDs)),
	)
	return s.report, nil
}

func (s *simulator) initialUsers(ctx context.Context) error {
	for i := 0; i < 3; i++ {
		s.createUser(ctx)
		if err := s.opts.Pause(ctx, time.Second, time.Second); err != nil {
			return err
		}
	}
	return nil
}

func (s *simulator) normalTraffic(ctx context.Context) error {
	for i := 0; i < 20; i++ {
		if rand.Float64() < 0.3 {
			s.createUser(ctx)
		} else {
			endpoints := []string{"/", "/health", "/users", "/metrics-info"}
			if id, ok := s.report.randomID(); ok {
				endpoints = append(endpoints, fmt.Sprintf("/users/%d", id))
			}
			s.get(ctx, endpoints[rand.IntN(len(endpoints))])
		}
		if err := s.opts.Pause(ctx, 500*time.Millisecond, 2*time.Second); err != nil {
			return err
		}
	}
	return nil
}

func (s *simulator) errorScenarios(ctx context.Context) error {
	for i := 0; i < 5; i++ {
		s.get(ctx, "/error")
		if err := s.opts.Pause(ctx, time.Second, time.Second); err != nil {
			return err
		}
		s.get(ctx, fmt.Sprintf("/users/999%d", i))
		if err := s.opts.Pause(ctx, time.Second, time.Second); err != nil {
			return err
		}
	}
	return nil
}

func (s *simulator) loadTest(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	endpoints := []string{"/", "/health", "/users"}

	for w := 0; w < s.opts.Workers; w++ {
		g.Go(func() error {
			for i := 0; i < s.opts.RequestsPerWorker; i++ {
				s.get(ctx, endpoints[rand.IntN(len(endpoints))])
				if err := s.opts.Pause(ctx, 100*time.Millisecond, 500*time.Millisecond); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *simulator) slowEndpoints(ctx context.Context) error {
	for i := 0; i < 3; i++ {
		s.get(ctx, "/slow")
		if err := s.opts.Pause(ctx, 2*time.Second, 2*time.Second); err != nil {
			return err
		}
	}
	return nil
}

func (s *simulator) createUser(ctx context.Context) {
	body, err := json.Marshal(sampleUsers[rand.IntN(len(sampleUsers))])
	if err != nil {
		return
	}

	status, payload, err := s.do(ctx, http.MethodPost, "/users", body)
	if err != nil || status != http.StatusOK {
		return
	}

	var created struct {
		ID int `json:"id"`
	}
	if err := json.Unmarshal(payload, &created); err == nil {
		s.report.created(created.ID)
	}
}

func (s *simulator) get(ctx context.Context, path string) {
	_, _, _ = s.do(ctx, http.MethodGet, path, nil)
}

func (s *simulator) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.opts.BaseURL+path, reader)
	if err != nil {
		s.report.record(0, err)
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.opts.Client.Do(req)
	if err != nil {
		s.report.record(0, err)
		s.opts.Logger.Warn("Simulated request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return 0, nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	s.report.record(resp.StatusCode, nil)
	s.opts.Logger.Info("Simulated request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
	)
	return resp.StatusCode, payload, err
}

// RandomPause sleeps a uniformly random duration in [lo, hi].
func RandomPause(ctx context.Context, lo, hi time.Duration) error {
	d := lo
	if hi > lo {
		d += rand.N(hi - lo + 1)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NoPause returns immediately.
func NoPause(ctx context.Context, _, _ time.Duration) error {
	return ctx.Err()
}
