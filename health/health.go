package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status represents the health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

func (s Status) severity() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// CheckResult represents the result of a health check
type CheckResult struct {
	Name      string                 `json:"name"`
	Status    Status                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Duration  time.Duration          `json:"duration"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Error     string                 `json:"error,omitempty"`
}

// Checker defines the interface for health checks
type Checker interface {
	Check(ctx context.Context) CheckResult
	Name() string
}

// CheckerFunc is a function adapter for Checker
type CheckerFunc struct {
	name string
	fn   func(ctx context.Context) CheckResult
}

// NewCheckerFunc creates a named checker from fn
func NewCheckerFunc(name string, fn func(ctx context.Context) CheckResult) *CheckerFunc {
	return &CheckerFunc{name: name, fn: fn}
}

func (c *CheckerFunc) Check(ctx context.Context) CheckResult {
	return c.fn(ctx)
}

func (c *CheckerFunc) Name() string {
	return c.name
}

// Info identifies the gateway in every report
type Info struct {
	Service  string `json:"service"`
	Version  string `json:"version,omitempty"`
	Exchange string `json:"exchange,omitempty"`
	Routes   int    `json:"routes"`
}

// Report is the body of the health endpoint. Checks are sorted by name.
type Report struct {
	Info
	Status    Status        `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
	Checks    []CheckResult `json:"checks"`
}

// Check returns the result of the named check
func (r Report) Check(name string) (CheckResult, bool) {
	for _, result := range r.Checks {
		if result.Name == name {
			return result, true
		}
	}
	return CheckResult{}, false
}

// Registry holds the checks that make up the gateway report
type Registry struct {
	info Info

	mu       sync.RWMutex
	checkers []Checker
}

// NewRegistry creates a registry reporting info
func NewRegistry(info Info) *Registry {
	return &Registry{info: info}
}

// Register adds a checker, replacing one with the same name
func (r *Registry) Register(checker Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.checkers {
		if existing.Name() == checker.Name() {
			r.checkers[i] = checker
			return
		}
	}
	r.checkers = append(r.checkers, checker)
}

// Names returns the registered checker names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.checkers))
	for i, checker := range r.checkers {
		names[i] = checker.Name()
	}
	sort.Strings(names)
	return names
}

type indexedResult struct {
	index  int
	result CheckResult
}

// Check runs every check concurrently and folds them into one report
// whose status is the worst of its checks. A check that has not answered
// when ctx is done is reported unhealthy.
func (r *Registry) Check(ctx context.Context) Report {
	start := time.Now()

	r.mu.RLock()
	checkers := append([]Checker(nil), r.checkers...)
	r.mu.RUnlock()

	results := make([]CheckResult, len(checkers))
	answered := make([]bool, len(checkers))
	resultCh := make(chan indexedResult, len(checkers))

	for i, checker := range checkers {
		go func(i int, checker Checker) {
			resultCh <- indexedResult{index: i, result: checker.Check(ctx)}
		}(i, checker)
	}

collect:
	for pending := len(checkers); pending > 0; pending-- {
		select {
		case res := <-resultCh:
			results[res.index] = res.result
			answered[res.index] = true
		case <-ctx.Done():
			break collect
		}
	}

	report := Report{
		Info:   r.info,
		Status: StatusHealthy,
		Checks: results,
	}
	for i, checker := range checkers {
		if !answered[i] {
			results[i] = CheckResult{
				Name:      checker.Name(),
				Status:    StatusUnhealthy,
				Message:   "Check timed out",
				Duration:  time.Since(start),
				Timestamp: time.Now(),
				Error:     ctx.Err().Error(),
			}
		}
		if results[i].Status.severity() > report.Status.severity() {
			report.Status = results[i].Status
		}
	}

	sort.Slice(report.Checks, func(i, j int) bool {
		return report.Checks[i].Name < report.Checks[j].Name
	})
	report.Timestamp = time.Now()
	report.Duration = time.Since(start)
	return report
}

// Handler serves the registry report. Degraded still answers 200; only
// unhealthy answers 503 so a single missing queue does not take the
// gateway out of rotation.
type Handler struct {
	registry *Registry
	timeout  time.Duration
}

// NewHandler creates a new health check HTTP handler
func NewHandler(registry *Registry, timeout time.Duration) *Handler {
	return &Handler{registry: registry, timeout: timeout}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	report := h.registry.Check(ctx)

	status := http.StatusOK
	if report.Status == StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(report)
}
