package health

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

type Checker interface {
	Check(ctx context.Context) error
	Name() string
}

type Health struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

type CheckResult struct {
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type CheckerRegistry struct {
	checkers []Checker
}

func NewCheckerRegistry() *CheckerRegistry {
	return &CheckerRegistry{
		checkers: make([]Checker, 0),
	}
}

func (r *CheckerRegistry) Register(checker Checker) {
	r.checkers = append(r.checkers, checker)
}

func (r *CheckerRegistry) Check(ctx context.Context) Health {
	results := make(map[string]CheckResult)
	allHealthy := true

	for _, checker := range r.checkers {
		err := checker.Check(ctx)
		result := CheckResult{
			Timestamp: time.Now(),
		}

		if err != nil {
			result.Status = StatusUnhealthy
			result.Message = err.Error()
			allHealthy = false
		} else {
			result.Status = StatusHealthy
		}

		results[checker.Name()] = result
	}

	overallStatus := StatusHealthy
	if !allHealthy {
		overallStatus = StatusUnhealthy
	}

	return Health{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Checks:    results,
	}
}

// DiskSpaceChecker fails when the free space under the output path drops below
// the configured minimum.
type DiskSpaceChecker struct {
	path     string
	minBytes uint64
}

func NewDiskSpaceChecker(path string, minBytes uint64) *DiskSpaceChecker {
	return &DiskSpaceChecker{path: path, minBytes: minBytes}
}

func (c *DiskSpaceChecker) Name() string {
	return "disk_space"
}

func (c *DiskSpaceChecker) Check(ctx context.Context) error {
	var st unix.Statfs_t
	if err := unix.Statfs(c.path, &st); err != nil {
		return fmt.Errorf("statfs %s failed: %w", c.path, err)
	}

	free := st.Bavail * uint64(st.Bsize)
	if free < c.minBytes {
		return fmt.Errorf("only %d bytes free on %s, need %d", free, c.path, c.minBytes)
	}
	return nil
}

// WriterChecker fails when the container writer has been disabled, which
// happens after a disk-full event.
type WriterChecker struct {
	enabled func() bool
}

func NewWriterChecker(enabled func() bool) *WriterChecker {
	return &WriterChecker{enabled: enabled}
}

func (c *WriterChecker) Name() string {
	return "writer"
}

func (c *WriterChecker) Check(ctx context.Context) error {
	if !c.enabled() {
		return fmt.Errorf("container writer is disabled")
	}
	return nil
}
