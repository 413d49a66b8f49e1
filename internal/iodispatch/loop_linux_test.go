//go:build linux

package iodispatch

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/maximewewer/gpsd-refclock/internal/lfp"
)

type received struct {
	data  string
	rtime lfp.Timestamp
}

func newPipe(t *testing.T) (r, w int) {
	t.Helper()
	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	t.Cleanup(func() {
		_ = unix.Close(p[0])
		_ = unix.Close(p[1])
	})
	return p[0], p[1]
}

func startLoop(t *testing.T, l *Loop) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("loop did not stop")
		}
		_ = l.Close()
	})
	return cancel
}

func TestLoop_RegisterValidation(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	r := ReceiverFunc(func([]byte, lfp.Timestamp) {})
	assert.ErrorIs(t, l.Register(-1, r), ErrInvalidDescriptor)

	rfd, _ := newPipe(t)
	require.NoError(t, l.Register(rfd, r))
	assert.True(t, l.Registered(rfd))
	assert.ErrorIs(t, l.Register(rfd, r), ErrAlreadyRegistered)

	l.Deregister(rfd)
	assert.False(t, l.Registered(rfd))
}

func TestLoop_DeliversDataWithReceiveTime(t *testing.T) {
	stamp := time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)
	l, err := New(WithClock(func() time.Time { return stamp }))
	require.NoError(t, err)

	rfd, wfd := newPipe(t)
	got := make(chan received, 4)
	require.NoError(t, l.Register(rfd, ReceiverFunc(func(data []byte, rtime lfp.Timestamp) {
		got <- received{data: string(data), rtime: rtime}
	})))
	startLoop(t, l)

	_, err = unix.Write(wfd, []byte("{\"class\":\"VERSION\"}\n"))
	require.NoError(t, err)

	select {
	case r := <-got:
		assert.Equal(t, "{\"class\":\"VERSION\"}\n", r.data)
		assert.Equal(t, lfp.FromTime(stamp), r.rtime)
	case <-time.After(2 * time.Second):
		t.Fatal("no data delivered")
	}
}

func TestLoop_EOFDropsRegistration(t *testing.T) {
	l, err := New()
	require.NoError(t, err)

	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	defer unix.Close(p[0])

	require.NoError(t, l.Register(p[0], ReceiverFunc(func([]byte, lfp.Timestamp) {})))
	startLoop(t, l)

	require.NoError(t, unix.Close(p[1]))

	assert.Eventually(t, func() bool {
		var registered bool
		err := l.Do(context.Background(), func() { registered = l.Registered(p[0]) })
		return err == nil && !registered
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLoop_Ticks(t *testing.T) {
	l, err := New(WithTickInterval(10 * time.Millisecond))
	require.NoError(t, err)

	var ticks atomic.Int32
	l.OnTick(func() { ticks.Add(1) })
	startLoop(t, l)

	assert.Eventually(t, func() bool { return ticks.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestLoop_DoRunsOnLoop(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	startLoop(t, l)

	var ran bool
	require.NoError(t, l.Do(context.Background(), func() { ran = true }))
	assert.True(t, ran)
}

func TestLoop_DoAfterClose(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	require.NoError(t, l.Close())

	assert.ErrorIs(t, l.Do(context.Background(), func() {}), ErrClosed)
	assert.NoError(t, l.Close())
}
