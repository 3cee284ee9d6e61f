package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	alertdomain "github.com/smallbiznis/debtor/internal/alert/domain"
	"github.com/smallbiznis/debtor/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeAlertService struct {
	scans  int
	report alertdomain.ScanReport
	err    error
}

func (f *fakeAlertService) ScanOverdue(ctx context.Context) (alertdomain.ScanReport, error) {
	f.scans++
	return f.report, f.err
}

func (f *fakeAlertService) ListOpen(ctx context.Context) ([]alertdomain.DebtAlert, error) {
	return nil, nil
}

func newTestScheduler(t *testing.T, alertSvc alertdomain.Service) *Scheduler {
	t.Helper()
	sched, err := New(Params{
		Log:      zaptest.NewLogger(t),
		AlertSvc: alertSvc,
		Clock:    clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
	})
	require.NoError(t, err)
	return sched
}

func TestRunOnceRunsOverdueScan(t *testing.T) {
	fake := &fakeAlertService{report: alertdomain.ScanReport{Scanned: 2, Opened: 1}}
	sched := newTestScheduler(t, fake)

	require.NoError(t, sched.RunOnce(context.Background()))
	assert.Equal(t, 1, fake.scans)
}

func TestRunOnceWrapsJobError(t *testing.T) {
	fake := &fakeAlertService{err: errors.New("boom")}
	sched := newTestScheduler(t, fake)

	err := sched.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overdue_scan")
}

func TestRunJobTimeoutIsSoft(t *testing.T) {
	sched := newTestScheduler(t, &fakeAlertService{})

	err := sched.runJob(context.Background(), "slow_job", 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.NoError(t, err)
}

func TestRunJobMeasuresDurationOnClock(t *testing.T) {
	fakeClock := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	sched, err := New(Params{
		Log:      zaptest.NewLogger(t),
		AlertSvc: &fakeAlertService{},
		Clock:    fakeClock,
	})
	require.NoError(t, err)

	before := jobDurationSum(t, "timed_job")
	err = sched.runJob(context.Background(), "timed_job", time.Minute, func(ctx context.Context) error {
		fakeClock.Advance(90 * time.Second)
		return nil
	})
	require.NoError(t, err)
	assert.InDelta(t, 90.0, jobDurationSum(t, "timed_job")-before, 0.001)
}

func jobDurationSum(t *testing.T, job string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "debtor_scheduler_job_duration_seconds" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "job" && label.GetValue() == job {
					return m.GetHistogram().GetSampleSum()
				}
			}
		}
	}
	return 0
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Params{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, time.Minute, cfg.RunInterval)
	assert.Equal(t, 2*time.Minute, cfg.JobTimeout)
	assert.Equal(t, 100, cfg.BatchSize)
}
