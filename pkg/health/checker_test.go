package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend scripts readiness and probe responses. Readiness values are
// consumed one per call with the last repeating; probe statuses likewise,
// with 0 meaning a transport error.
type fakeBackend struct {
	mu        sync.Mutex
	readiness []int32
	desired   int32
	probes    []int

	readinessCalls int
	probeCalls     int
}

func (f *fakeBackend) PodReadiness(ctx context.Context, namespace, service string) (int32, int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readinessCalls++
	if len(f.readiness) == 0 {
		return f.desired, f.desired, nil
	}
	ready := f.readiness[0]
	if len(f.readiness) > 1 {
		f.readiness = f.readiness[1:]
	}
	return ready, f.desired, nil
}

func (f *fakeBackend) ExecProbe(ctx context.Context, namespace, service, path string) (int, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probeCalls++
	status := 200
	if len(f.probes) > 0 {
		status = f.probes[0]
		if len(f.probes) > 1 {
			f.probes = f.probes[1:]
		}
	}
	if status == 0 {
		return 0, "", fmt.Errorf("exec failed: connection reset")
	}
	return status, "body", nil
}

func fastConfig(attempts int) Config {
	return Config{
		ReadinessInterval: time.Millisecond,
		ProbeAttempts:     attempts,
		ProbeInterval:     time.Millisecond,
	}
}

func TestWaitHealthyImmediate(t *testing.T) {
	backend := &fakeBackend{desired: 2}
	checker := NewChecker(backend, fastConfig(3))

	err := checker.WaitHealthy(context.Background(), "staging", "api", "/healthz", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, backend.probeCalls)
}

func TestWaitHealthyWaitsForReadiness(t *testing.T) {
	backend := &fakeBackend{desired: 3, readiness: []int32{0, 1, 3}}
	checker := NewChecker(backend, fastConfig(3))

	err := checker.WaitHealthy(context.Background(), "staging", "api", "/healthz", time.Second)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, backend.readinessCalls, 3)
}

func TestWaitHealthyReadinessTimeout(t *testing.T) {
	backend := &fakeBackend{desired: 2, readiness: []int32{1}}
	checker := NewChecker(backend, fastConfig(3))

	err := checker.WaitHealthy(context.Background(), "staging", "api", "/healthz", 15*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotReady))
	assert.Equal(t, 0, backend.probeCalls)
}

func TestWaitHealthyProbeRetriesThenSucceeds(t *testing.T) {
	backend := &fakeBackend{desired: 1, probes: []int{503, 503, 200}}
	checker := NewChecker(backend, fastConfig(5))

	err := checker.WaitHealthy(context.Background(), "staging", "api", "/healthz", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, backend.probeCalls)
}

func TestWaitHealthyProbeExhausted(t *testing.T) {
	backend := &fakeBackend{desired: 1, probes: []int{500}}
	checker := NewChecker(backend, fastConfig(3))

	err := checker.WaitHealthy(context.Background(), "staging", "api", "/healthz", time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProbeFailed))
	assert.Equal(t, 3, backend.probeCalls)
}

func TestWaitHealthyProbeErrorRetried(t *testing.T) {
	backend := &fakeBackend{desired: 1, probes: []int{0, 200}}
	checker := NewChecker(backend, fastConfig(3))

	err := checker.WaitHealthy(context.Background(), "staging", "api", "/healthz", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, backend.probeCalls)
}

func TestWaitHealthyZeroDesiredSkipsProbes(t *testing.T) {
	backend := &fakeBackend{desired: 0}
	checker := NewChecker(backend, fastConfig(3))

	err := checker.WaitHealthy(context.Background(), "staging", "api", "/healthz", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, backend.probeCalls)
}

func TestWaitHealthyNonTwoHundredIsUnhealthy(t *testing.T) {
	// 3xx is not healthy; only 2xx counts
	backend := &fakeBackend{desired: 1, probes: []int{301, 204}}
	checker := NewChecker(backend, fastConfig(3))

	err := checker.WaitHealthy(context.Background(), "staging", "api", "/healthz", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, backend.probeCalls)
}
