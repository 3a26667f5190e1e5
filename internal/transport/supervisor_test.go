package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"devicesync/internal/config"
	"devicesync/internal/models"
	"devicesync/internal/remote"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconnectDelay(t *testing.T) {
	base, maxDelay := 1000*time.Millisecond, 30000*time.Millisecond
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{12, 30 * time.Second},
		{-1, 1 * time.Second},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ReconnectDelay(tc.attempt, base, maxDelay), "attempt %d", tc.attempt)
	}
}

func TestRegistry_ReferenceCounting(t *testing.T) {
	var first, last []string
	r := NewRegistry(
		func(id string) { first = append(first, id) },
		func(id string) { last = append(last, id) },
	)

	cancelA := r.Subscribe("lamp", func(Update) {})
	cancelB := r.Subscribe("lamp", func(Update) {})
	cancelC := r.Subscribe("fan", func(Update) {})
	assert.Equal(t, []string{"lamp", "fan"}, first)
	assert.Equal(t, 2, r.Count("lamp"))
	assert.Equal(t, []string{"fan", "lamp"}, r.Devices())

	cancelA()
	cancelA()
	assert.Empty(t, last, "one lamp subscriber remains")
	assert.Equal(t, 1, r.Count("lamp"))

	cancelB()
	assert.Equal(t, []string{"lamp"}, last)
	cancelC()
	assert.Equal(t, []string{"lamp", "fan"}, last)
	assert.Empty(t, r.Devices())

	r.Subscribe("lamp", func(Update) {})
	assert.Equal(t, []string{"lamp", "fan", "lamp"}, first, "resubscribe re-creates the watch")
}

func TestRegistry_PublishOnlyToDevice(t *testing.T) {
	r := NewRegistry(nil, nil)
	var lamp, fan []Update
	r.Subscribe("lamp", func(u Update) { lamp = append(lamp, u) })
	r.Subscribe("fan", func(u Update) { fan = append(fan, u) })

	r.Publish(Update{DeviceID: "lamp", Value: 7, Applied: true, Origin: OriginPush})
	require.Len(t, lamp, 1)
	assert.Equal(t, 7.0, lamp[0].Value)
	assert.Empty(t, fan)
}

func TestSupervisor_ConnectPushDeliversThroughSink(t *testing.T) {
	b := &fakeBackend{}
	rec := newSinkRecorder(true)
	s := newTestSupervisor(Config{Mode: config.TransportPush}, b, rec.sink)
	defer s.Close()

	got := make(chan Update, 4)
	cancel := s.Subscribe("lamp", func(u Update) { offer(got, u) })
	defer cancel()

	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, StateConnected, s.Current())
	assert.Equal(t, models.ModeConnectedPush, s.State().Mode)

	stream := b.lastStream()
	require.NotNil(t, stream)
	assert.True(t, stream.isWatched("light.lamp"), "existing subscribers are watched on connect")

	stream.updates <- models.RemoteState{EntityID: "light.lamp", Value: 200}
	select {
	case u := <-got:
		assert.Equal(t, "lamp", u.DeviceID)
		assert.Equal(t, 100.0, u.Value, "from_remote formula applied")
		assert.True(t, u.Applied)
		assert.Equal(t, OriginPush, u.Origin)
	case <-time.After(time.Second):
		t.Fatal("update not delivered")
	}
	assert.Equal(t, []float64{100}, rec.got("lamp"))

	assert.ErrorIs(t, s.Connect(context.Background()), ErrAlreadyConnected)
}

func TestSupervisor_WatchFollowsRegistry(t *testing.T) {
	b := &fakeBackend{}
	s := newTestSupervisor(Config{Mode: config.TransportPush}, b, newSinkRecorder(true).sink)
	defer s.Close()
	require.NoError(t, s.Connect(context.Background()))
	stream := b.lastStream()

	c1 := s.Subscribe("fan", func(Update) {})
	c2 := s.Subscribe("fan", func(Update) {})
	assert.True(t, stream.isWatched("fan.ceiling"))
	assert.Equal(t, 2, s.Subscribers("fan"))

	c1()
	assert.True(t, stream.isWatched("fan.ceiling"))
	c2()
	assert.False(t, stream.isWatched("fan.ceiling"))
}

func TestSupervisor_InitialConnectFailureIsNotRetried(t *testing.T) {
	b := &fakeBackend{subscribe: func(int) (remote.Stream, error) { return nil, errDial }}
	s := newTestSupervisor(Config{Mode: config.TransportPush}, b, newSinkRecorder(true).sink)
	defer s.Close()

	err := s.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errDial)
	assert.Equal(t, StateDisconnected, s.Current())
	assert.Equal(t, models.ModeDisconnected, s.State().Mode)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, b.calls())
}

func TestSupervisor_ReconnectBackoffAndExhaustion(t *testing.T) {
	b := &fakeBackend{subscribe: func(n int) (remote.Stream, error) {
		if n == 1 {
			return newFakeStream(), nil
		}
		return nil, errDial
	}}
	s := newTestSupervisor(Config{
		Mode:                 config.TransportPush,
		ReconnectBaseDelay:   time.Millisecond,
		ReconnectMaxDelay:    10 * time.Millisecond,
		MaxReconnectAttempts: 5,
	}, b, newSinkRecorder(true).sink)
	defer s.Close()

	var mu sync.Mutex
	var attempts []int
	var delays []time.Duration
	s.OnReconnecting(func(attempt int, delay time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		attempts = append(attempts, attempt)
		delays = append(delays, delay)
	})
	terminal := make(chan error, 1)
	s.OnError(func(err error) { terminal <- err })

	require.NoError(t, s.Connect(context.Background()))
	b.lastStream().drop()

	select {
	case err := <-terminal:
		assert.ErrorIs(t, err, ErrReconnectExhausted)
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect never gave up")
	}

	mu.Lock()
	assert.Equal(t, []int{1, 2, 3, 4, 5}, attempts)
	assert.Equal(t, []time.Duration{
		1 * time.Millisecond,
		2 * time.Millisecond,
		4 * time.Millisecond,
		8 * time.Millisecond,
		10 * time.Millisecond,
	}, delays)
	mu.Unlock()

	assert.Equal(t, StateDisconnected, s.Current())
	st := s.State()
	assert.Equal(t, models.ModeDisconnected, st.Mode)
	assert.Equal(t, 5, st.ReconnectAttempt)
	assert.NotEmpty(t, st.LastError)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 6, b.calls(), "no attempt after the fifth failure")
}

func TestSupervisor_ReconnectSuccessResetsAttempt(t *testing.T) {
	b := &fakeBackend{subscribe: func(n int) (remote.Stream, error) {
		if n == 2 {
			return nil, errDial
		}
		return newFakeStream(), nil
	}}
	s := newTestSupervisor(Config{Mode: config.TransportPush}, b, newSinkRecorder(true).sink)
	defer s.Close()

	transitions := make(chan State, 8)
	s.OnStateChange(func(_, newState State) { transitions <- newState })
	cancel := s.Subscribe("lamp", func(Update) {})
	defer cancel()

	require.NoError(t, s.Connect(context.Background()))
	first := b.lastStream()
	first.drop()

	deadline := time.After(2 * time.Second)
	var seen []State
	for len(seen) < 4 {
		select {
		case st := <-transitions:
			seen = append(seen, st)
		case <-deadline:
			t.Fatalf("transitions so far: %v", seen)
		}
	}
	assert.Equal(t, []State{StateConnecting, StateConnected, StateReconnecting, StateConnected}, seen)

	assert.Equal(t, 3, b.calls())
	st := s.State()
	assert.Equal(t, models.ModeConnectedPush, st.Mode)
	assert.Equal(t, 0, st.ReconnectAttempt)
	assert.Empty(t, st.LastError)

	second := b.lastStream()
	assert.NotSame(t, first, second)
	assert.True(t, second.isWatched("light.lamp"), "watches are restored on the new stream")
}

func TestSupervisor_AutoFallsBackToPolling(t *testing.T) {
	b := &fakeBackend{
		subscribe: func(int) (remote.Stream, error) { return nil, remote.ErrPushUnsupported },
		values:    map[string]float64{"fan.ceiling": 42},
	}
	rec := newSinkRecorder(false)
	s := newTestSupervisor(Config{Mode: config.TransportAuto}, b, rec.sink)
	defer s.Close()

	got := make(chan Update, 16)
	cancel := s.Subscribe("fan", func(u Update) { offer(got, u) })
	defer cancel()

	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, models.ModeConnectedPoll, s.State().Mode)

	select {
	case u := <-got:
		assert.Equal(t, "fan", u.DeviceID)
		assert.Equal(t, 42.0, u.Value)
		assert.False(t, u.Applied, "sink verdict is forwarded")
		assert.Equal(t, OriginPoll, u.Origin)
	case <-time.After(time.Second):
		t.Fatal("no poll result")
	}

	s.Disconnect()
	assert.False(t, s.poller.Running())
}

func TestSupervisor_PushModeDoesNotFallBack(t *testing.T) {
	b := &fakeBackend{subscribe: func(int) (remote.Stream, error) { return nil, remote.ErrPushUnsupported }}
	s := newTestSupervisor(Config{Mode: config.TransportPush}, b, newSinkRecorder(true).sink)
	defer s.Close()

	err := s.Connect(context.Background())
	assert.ErrorIs(t, err, remote.ErrPushUnsupported)
	assert.Equal(t, StateDisconnected, s.Current())
}

func TestSupervisor_AutoPollsWhileReconnecting(t *testing.T) {
	b := &fakeBackend{
		values: map[string]float64{"fan.ceiling": 3},
		subscribe: func(n int) (remote.Stream, error) {
			if n == 1 {
				return newFakeStream(), nil
			}
			return nil, errDial
		},
	}
	s := newTestSupervisor(Config{
		Mode:                 config.TransportAuto,
		ReconnectBaseDelay:   time.Hour,
		ReconnectMaxDelay:    time.Hour,
		MaxReconnectAttempts: 5,
	}, b, newSinkRecorder(true).sink)
	defer s.Close()

	got := make(chan Update, 16)
	cancel := s.Subscribe("fan", func(u Update) { offer(got, u) })
	defer cancel()

	require.NoError(t, s.Connect(context.Background()))
	assert.False(t, s.poller.Running(), "push active, poller idle")

	b.lastStream().drop()
	select {
	case u := <-got:
		assert.Equal(t, OriginPoll, u.Origin)
	case <-time.After(time.Second):
		t.Fatal("poller not started during reconnect")
	}
	assert.Equal(t, StateReconnecting, s.Current())
	assert.Equal(t, models.ModeConnectedPoll, s.State().Mode)
}

func TestSupervisor_DisconnectTearsDown(t *testing.T) {
	b := &fakeBackend{}
	s := newTestSupervisor(Config{Mode: config.TransportPush}, b, newSinkRecorder(true).sink)
	defer s.Close()

	require.NoError(t, s.Connect(context.Background()))
	stream := b.lastStream()
	s.Disconnect()

	assert.True(t, stream.isClosed())
	assert.Equal(t, StateDisconnected, s.Current())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, b.calls(), "a local close must not trigger reconnect")

	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, StateConnected, s.Current())
}

func TestSupervisor_BufferedUpdatesDeliveredBeforeDrop(t *testing.T) {
	for i := 0; i < 20; i++ {
		b := &fakeBackend{subscribe: func(n int) (remote.Stream, error) {
			st := newFakeStream()
			if n == 1 {
				for _, v := range []float64{10, 20, 30} {
					st.updates <- models.RemoteState{EntityID: "light.lamp", Value: v}
				}
				st.drop()
			}
			return st, nil
		}}
		rec := newSinkRecorder(true)
		s := newTestSupervisor(Config{Mode: config.TransportPush}, b, rec.sink)

		require.NoError(t, s.Connect(context.Background()))
		require.Eventually(t, func() bool { return b.calls() >= 2 }, time.Second, time.Millisecond)
		assert.Equal(t, []float64{5, 10, 15}, rec.got("lamp"), "run %d", i)
		s.Close()
	}
}

func TestSupervisor_SubscribeChurnDuringReconnects(t *testing.T) {
	b := &fakeBackend{values: map[string]float64{"light.lamp": 10, "fan.ceiling": 3}}
	s := newTestSupervisor(Config{Mode: config.TransportAuto, PollingInterval: time.Millisecond}, b, newSinkRecorder(true).sink)
	require.NoError(t, s.Connect(context.Background()))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for _, id := range []string{"lamp", "fan"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				cancel := s.Subscribe(id, func(Update) {})
				cancel()
			}
		}(id)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			case <-time.After(time.Millisecond):
			}
			if st := b.lastStream(); st != nil {
				st.drop()
			}
		}
	}()

	time.Sleep(300 * time.Millisecond)
	close(stop)

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		s.Close()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor stuck: subscribe, poll and reconnect are waiting on each other")
	}
	assert.Equal(t, StateDisconnected, s.Current())
	assert.Greater(t, b.calls(), 1, "streams were dropped and re-established")
}

func TestPoller_SkipsDeviceWithReadInFlight(t *testing.T) {
	gate := make(chan struct{})
	var mu sync.Mutex
	reads := 0
	delivered := make(chan float64, 4)
	p := NewPoller(5*time.Millisecond,
		func() []string { return []string{"lamp"} },
		func(ctx context.Context, id string) (float64, error) {
			mu.Lock()
			reads++
			mu.Unlock()
			<-gate
			return 9, nil
		},
		func(id string, v float64) { offer(delivered, v) },
		nil,
	)
	p.Start(context.Background())
	time.Sleep(40 * time.Millisecond)

	mu.Lock()
	assert.Equal(t, 1, reads, "ticks during an in-flight read are skipped")
	mu.Unlock()

	close(gate)
	select {
	case v := <-delivered:
		assert.Equal(t, 9.0, v)
	case <-time.After(time.Second):
		t.Fatal("read result not delivered")
	}
	p.Stop()
	assert.False(t, p.Running())
}

func offer[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}
