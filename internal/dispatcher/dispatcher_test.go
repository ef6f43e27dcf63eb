package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/sim-coordinator/internal/model"
	"github.com/rickgao/sim-coordinator/internal/registry"
	"github.com/rickgao/sim-coordinator/internal/transport"
	"github.com/rickgao/sim-coordinator/internal/transport/memory"
)

type fixture struct {
	tr  *memory.Transport
	reg *registry.Registry
	d   *Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tr := memory.New(memory.DefaultConfig(), nil)
	t.Cleanup(func() { tr.Close() })
	reg := registry.New(tr, nil)
	cfg := Config{ReceiveTimeout: 20 * time.Millisecond, ErrorBackoff: time.Millisecond}
	return &fixture{tr: tr, reg: reg, d: New(cfg, tr, reg, nil)}
}

func encode(t *testing.T, mt model.MessageType, sender model.WorkerID) model.Envelope {
	t.Helper()
	env, err := model.Encode(model.Message{Type: mt, SenderID: sender, Payload: []byte(`{"k":1}`)})
	require.NoError(t, err)
	return env
}

func TestSubscribe_RejectsUnsupportedTypes(t *testing.T) {
	f := newFixture(t)
	noop := HandlerFunc(func(context.Context, model.Message) error { return nil })

	for _, mt := range []model.MessageType{
		model.MessageTypeAddAgent,
		model.MessageTypeClear,
		model.MessageTypeStart,
		model.MessageTypeTick,
		model.MessageTypeAddContainer,
	} {
		assert.ErrorIs(t, f.d.Subscribe(mt, noop), ErrUnsupportedType, mt.String())
	}
	assert.Error(t, f.d.Subscribe(model.MessageTypeGoTo, nil))
	assert.NoError(t, f.d.Subscribe(model.MessageTypeGoTo, noop))
}

func TestDispatch_RegistrationUpdatesRegistryBeforeReaction(t *testing.T) {
	f := newFixture(t)
	id := model.NewWorkerID()

	var seenCount int
	var seenLookup bool
	require.NoError(t, f.d.SubscribeFunc(model.MessageTypeRegistration, func(ctx context.Context, msg model.Message) error {
		seenCount = f.reg.Count()
		_, seenLookup = f.reg.Lookup(msg.SenderID)
		assert.NoError(t, RegistrationErr(ctx))
		return nil
	}))

	f.d.Dispatch(context.Background(), encode(t, model.MessageTypeRegistration, id))

	assert.Equal(t, 1, seenCount)
	assert.True(t, seenLookup)
	assert.Equal(t, int64(1), f.d.Stats().Registrations)
	assert.NotNil(t, f.tr.Outbox(id), "registration should create the worker's channel")
}

func TestDispatch_RegistrationWithoutSubscriber(t *testing.T) {
	f := newFixture(t)

	f.d.Dispatch(context.Background(), encode(t, model.MessageTypeRegistration, model.NewWorkerID()))

	assert.Equal(t, 1, f.reg.Count())
	assert.Equal(t, int64(1), f.d.Stats().Ignored)
}

func TestDispatch_DuplicateRegistration(t *testing.T) {
	f := newFixture(t)
	id := model.NewWorkerID()

	var errs []error
	require.NoError(t, f.d.SubscribeFunc(model.MessageTypeRegistration, func(ctx context.Context, _ model.Message) error {
		errs = append(errs, RegistrationErr(ctx))
		return nil
	}))

	f.d.Dispatch(context.Background(), encode(t, model.MessageTypeRegistration, id))
	f.d.Dispatch(context.Background(), encode(t, model.MessageTypeRegistration, id))

	require.Len(t, errs, 2)
	assert.NoError(t, errs[0])
	assert.ErrorIs(t, errs[1], registry.ErrDuplicateWorker)
	assert.Equal(t, 1, f.reg.Count())

	stats := f.d.Stats()
	assert.Equal(t, int64(1), stats.Registrations)
	assert.Equal(t, int64(1), stats.DuplicateRegistrations)
}

func TestDispatch_RegistrationFailureSkipsReaction(t *testing.T) {
	f := newFixture(t)
	f.tr.FailCreate(errors.New("namespace unavailable"))

	called := false
	require.NoError(t, f.d.SubscribeFunc(model.MessageTypeRegistration, func(context.Context, model.Message) error {
		called = true
		return nil
	}))

	f.d.Dispatch(context.Background(), encode(t, model.MessageTypeRegistration, model.NewWorkerID()))

	assert.False(t, called)
	assert.Equal(t, 0, f.reg.Count())
	assert.Equal(t, int64(1), f.d.Stats().RegistrationFailures)
}

func TestDispatch_ReactionTypes(t *testing.T) {
	for _, mt := range []model.MessageType{
		model.MessageTypeGoTo,
		model.MessageTypeInfect,
		model.MessageTypeResults,
		model.MessageTypeTickEnd,
	} {
		t.Run(mt.String(), func(t *testing.T) {
			f := newFixture(t)
			sender := model.NewWorkerID()

			var got []model.Message
			for _, other := range []model.MessageType{
				model.MessageTypeGoTo,
				model.MessageTypeInfect,
				model.MessageTypeResults,
				model.MessageTypeTickEnd,
			} {
				other := other
				require.NoError(t, f.d.SubscribeFunc(other, func(_ context.Context, msg model.Message) error {
					assert.Equal(t, other, msg.Type, "handler for %s received %s", other, msg.Type)
					got = append(got, msg)
					return nil
				}))
			}

			f.d.Dispatch(context.Background(), encode(t, mt, sender))

			require.Len(t, got, 1)
			assert.Equal(t, sender, got[0].SenderID)
			assert.JSONEq(t, `{"k":1}`, string(got[0].Payload))
			assert.Equal(t, 0, f.reg.Count(), "only Registration mutates the registry")
		})
	}
}

func TestDispatch_NoSubscriberIsSilentNoop(t *testing.T) {
	f := newFixture(t)

	f.d.Dispatch(context.Background(), encode(t, model.MessageTypeResults, model.NewWorkerID()))

	stats := f.d.Stats()
	assert.Equal(t, int64(1), stats.Ignored)
	assert.Zero(t, stats.HandlerErrors)
	assert.Zero(t, stats.Dispatched)
}

func TestDispatch_MultipleSubscribersInOrder(t *testing.T) {
	f := newFixture(t)

	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		require.NoError(t, f.d.SubscribeFunc(model.MessageTypeTickEnd, func(context.Context, model.Message) error {
			order = append(order, i)
			return nil
		}))
	}

	f.d.Dispatch(context.Background(), encode(t, model.MessageTypeTickEnd, model.NewWorkerID()))
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestDispatch_UnsupportedTypesLeaveStateUnchanged(t *testing.T) {
	f := newFixture(t)
	known := model.NewWorkerID()
	f.d.Dispatch(context.Background(), encode(t, model.MessageTypeRegistration, known))
	before := f.reg.Enumerate()

	for _, mt := range []model.MessageType{
		model.MessageTypeAddAgent,
		model.MessageTypeClear,
		model.MessageTypeStart,
		model.MessageTypeTick,
		model.MessageTypeAddContainer,
	} {
		f.d.Dispatch(context.Background(), encode(t, mt, model.NewWorkerID()))
	}

	assert.Equal(t, before, f.reg.Enumerate())
	assert.Equal(t, int64(5), f.d.Stats().Unsupported)

	// Subsequent dispatch behaves as before.
	var reacted bool
	require.NoError(t, f.d.SubscribeFunc(model.MessageTypeResults, func(context.Context, model.Message) error {
		reacted = true
		return nil
	}))
	f.d.Dispatch(context.Background(), encode(t, model.MessageTypeResults, known))
	assert.True(t, reacted)
}

func TestDispatch_DecodeFailure(t *testing.T) {
	f := newFixture(t)

	f.d.Dispatch(context.Background(), model.Envelope{ContentType: model.ContentTypeMessage, Body: []byte("garbage")})
	f.d.Dispatch(context.Background(), model.Envelope{ContentType: "Mystery", Body: []byte(`{}`)})

	stats := f.d.Stats()
	assert.Equal(t, int64(2), stats.Received)
	assert.Equal(t, int64(2), stats.DecodeErrors)
	assert.Equal(t, 0, f.reg.Count())
}

func TestRun_HandlerFailuresDoNotStopPump(t *testing.T) {
	f := newFixture(t)

	var mu sync.Mutex
	var seen int
	require.NoError(t, f.d.SubscribeFunc(model.MessageTypeResults, func(context.Context, model.Message) error {
		mu.Lock()
		defer mu.Unlock()
		seen++
		switch seen {
		case 1:
			return errors.New("handler failed")
		case 2:
			panic("handler exploded")
		}
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.d.Start(ctx))

	sender := model.NewWorkerID()
	f.tr.Deliver(encode(t, model.MessageTypeResults, sender))
	f.tr.Deliver(model.Envelope{ContentType: model.ContentTypeMessage, Body: []byte("{")})
	f.tr.Deliver(encode(t, model.MessageTypeResults, sender))
	f.tr.Deliver(encode(t, model.MessageTypeResults, sender))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen == 3
	}, time.Second, 5*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, f.d.Stop(stopCtx))

	stats := f.d.Stats()
	assert.Equal(t, int64(4), stats.Received)
	assert.Equal(t, int64(2), stats.HandlerErrors)
	assert.Equal(t, int64(1), stats.DecodeErrors)
}

func TestRun_SerialisesHandlers(t *testing.T) {
	f := newFixture(t)

	var inFlight, maxInFlight, handled int
	var mu sync.Mutex
	require.NoError(t, f.d.SubscribeFunc(model.MessageTypeTickEnd, func(context.Context, model.Message) error {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		time.Sleep(time.Millisecond)

		mu.Lock()
		inFlight--
		handled++
		mu.Unlock()
		return nil
	}))

	for i := 0; i < 20; i++ {
		f.tr.Deliver(encode(t, model.MessageTypeTickEnd, model.NewWorkerID()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.d.Start(ctx))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return handled == 20
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, f.d.Stop(context.Background()))

	assert.Equal(t, 1, maxInFlight)
}

func TestRun_StopsOnCancellation(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.d.Run(ctx) }()

	require.Eventually(t, f.d.Running, time.Second, time.Millisecond)
	assert.ErrorIs(t, f.d.Run(ctx), ErrAlreadyRunning)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.False(t, f.d.Running())
}

func TestRun_InFlightHandlerCompletesOnStop(t *testing.T) {
	f := newFixture(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	var handlerCtxErr error
	require.NoError(t, f.d.SubscribeFunc(model.MessageTypeResults, func(ctx context.Context, _ model.Message) error {
		close(entered)
		<-release
		handlerCtxErr = ctx.Err()
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.d.Run(ctx) }()

	f.tr.Deliver(encode(t, model.MessageTypeResults, model.NewWorkerID()))
	<-entered
	cancel()
	close(release)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	assert.NoError(t, handlerCtxErr, "handler context must not be cancelled mid-handler")
	assert.Equal(t, int64(1), f.d.Stats().Dispatched)
}

func TestRun_ReturnsWhenTransportCloses(t *testing.T) {
	f := newFixture(t)

	done := make(chan error, 1)
	go func() { done <- f.d.Run(context.Background()) }()

	require.Eventually(t, f.d.Running, time.Second, time.Millisecond)
	require.NoError(t, f.tr.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, transport.ErrTransportClosed)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after transport closed")
	}
}

type flakyReceiver struct {
	mu    sync.Mutex
	calls int
	env   model.Envelope
}

func (r *flakyReceiver) Receive(ctx context.Context) (model.Envelope, error) {
	r.mu.Lock()
	r.calls++
	n := r.calls
	r.mu.Unlock()

	switch {
	case n <= 2:
		return model.Envelope{}, errors.New("connection reset")
	case n == 3:
		return r.env, nil
	}
	<-ctx.Done()
	return model.Envelope{}, ctx.Err()
}

func TestRun_ReceiveErrorsBackOffAndContinue(t *testing.T) {
	tr := memory.New(memory.DefaultConfig(), nil)
	defer tr.Close()
	reg := registry.New(tr, nil)

	src := &flakyReceiver{env: encode(t, model.MessageTypeRegistration, model.NewWorkerID())}
	d := New(Config{ReceiveTimeout: 10 * time.Millisecond, ErrorBackoff: time.Millisecond}, src, reg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, d.Start(ctx))

	require.Eventually(t, func() bool { return reg.Count() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, d.Stop(context.Background()))

	assert.Equal(t, int64(2), d.Stats().ReceiveErrors)
}

func TestStart_ConcurrentCallsStartOnePump(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		started int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.d.Start(ctx)
			if err == nil {
				mu.Lock()
				started++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrAlreadyRunning)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, started)
	assert.True(t, f.d.Running())
	assert.ErrorIs(t, f.d.Run(ctx), ErrAlreadyRunning)

	require.NoError(t, f.d.Stop(context.Background()))
	assert.False(t, f.d.Running())
}
