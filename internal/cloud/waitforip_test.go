package cloud

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/chiquitav2/ddcloud/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastWait() WaitOptions {
	return WaitOptions{
		Timeout:            time.Second,
		Interval:           time.Millisecond,
		IntervalMultiplier: 1,
		MaxFailures:        3,
	}
}

func TestWaitForIPReturnsResult(t *testing.T) {
	calls := 0
	res, err := WaitForIP(context.Background(), func(ctx context.Context, attempt int) (*[]string, error) {
		calls++
		if attempt < 3 {
			return nil, nil
		}
		ips := []string{"10.0.0.5"}
		return &ips, nil
	}, fastWait())

	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.5"}, *res.Value)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, calls)
}

func TestWaitForIPFailureBudget(t *testing.T) {
	calls := 0
	res, err := WaitForIP(context.Background(), func(ctx context.Context, attempt int) (*string, error) {
		calls++
		return nil, errors.New("show instance failed")
	}, fastWait())

	require.Error(t, err)
	assert.True(t, apperrors.IsExecutionFailure(err))
	assert.Equal(t, 3, calls)

	require.NotNil(t, res)
	assert.Nil(t, res.Value)
	assert.Equal(t, 3, res.Attempts)
}

func TestWaitForIPFailuresThenSuccess(t *testing.T) {
	res, err := WaitForIP(context.Background(), func(ctx context.Context, attempt int) (*string, error) {
		if attempt <= 2 {
			return nil, errors.New("transient")
		}
		ip := "203.0.113.10"
		return &ip, nil
	}, fastWait())

	require.NoError(t, err)
	assert.Equal(t, "203.0.113.10", *res.Value)
}

func TestWaitForIPTimeout(t *testing.T) {
	opts := fastWait()
	opts.Timeout = 20 * time.Millisecond
	opts.Interval = 5 * time.Millisecond

	start := time.Now()
	res, err := WaitForIP(context.Background(), func(ctx context.Context, attempt int) (*string, error) {
		return nil, nil
	}, opts)

	require.Error(t, err)
	assert.True(t, apperrors.IsExecutionTimeout(err))
	assert.Less(t, time.Since(start), time.Second)

	require.NotNil(t, res)
	assert.Nil(t, res.Value)
	assert.GreaterOrEqual(t, res.Attempts, 2)
	assert.GreaterOrEqual(t, res.Elapsed, 20*time.Millisecond)
}

func TestWaitForIPIntervalMultiplier(t *testing.T) {
	opts := WaitOptions{
		Timeout:            time.Second,
		Interval:           2 * time.Millisecond,
		IntervalMultiplier: 2,
		MaxFailures:        1,
	}

	var stamps []time.Time
	_, err := WaitForIP(context.Background(), func(ctx context.Context, attempt int) (*string, error) {
		stamps = append(stamps, time.Now())
		if attempt == 5 {
			s := "done"
			return &s, nil
		}
		return nil, nil
	}, opts)
	require.NoError(t, err)
	require.Len(t, stamps, 5)

	// 2+4+8+16 ms of sleeps at minimum
	assert.GreaterOrEqual(t, stamps[4].Sub(stamps[0]), 30*time.Millisecond)
}

func TestWaitForIPContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	opts := fastWait()
	opts.Interval = time.Hour
	opts.Timeout = 2 * time.Hour

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := WaitForIP(ctx, func(ctx context.Context, attempt int) (*string, error) {
		return nil, nil
	}, opts)
	require.Error(t, err)
	assert.True(t, apperrors.IsExecutionTimeout(err))
}

func TestDefaultWaitOptions(t *testing.T) {
	opts := DefaultWaitOptions()
	assert.Equal(t, 25*time.Minute, opts.Timeout)
	assert.Equal(t, 30*time.Second, opts.Interval)
	assert.Equal(t, 60, opts.MaxFailures)
}
