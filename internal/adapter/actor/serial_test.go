package actor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/berfenger/vcmon2mqtt/internal/core/domain"
	"github.com/berfenger/vcmon2mqtt/internal/util/actorutil"
	"github.com/berfenger/vcmon2mqtt/pkg/vcmon"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func spawnSerial(t *testing.T, transport vcmon.Transport, es *eventstream.EventStream) (*actor.ActorSystem, *actor.PID) {
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	props := actor.PropsFromProducer(func() actor.Actor {
		return NewSerialActor(transport, 300*time.Millisecond, es, logger)
	})
	pid := as.Root.Spawn(props)
	time.Sleep(100 * time.Millisecond)
	return as, pid
}

func TestSerialActorExchange(t *testing.T) {

	assert := assert.New(t)

	sim := vcmon.NewSimulatedTransport(vcmon.DefaultSimulatedDevice(), "sim0")
	es := &eventstream.EventStream{}

	var mu sync.Mutex
	var states []vcmon.ConnectionState
	es.Subscribe(func(evt any) {
		if ev, ok := evt.(domain.ConnectionStateChanged); ok {
			mu.Lock()
			states = append(states, ev.State)
			mu.Unlock()
		}
	})

	as, pid := spawnSerial(t, sim, es)
	context := as.Root

	result, err := context.RequestFuture(pid, domain.OpenPortRequest{Port: "sim0"}, 2*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	openResp := result.(domain.OpenPortResponse)
	assert.False(openResp.HasResponseError())
	assert.Equal(vcmon.Connected, openResp.State)

	result, err = context.RequestFuture(pid, domain.ExchangeRequest{Command: vcmon.CmdTotalVoltage}, 2*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	resp := result.(domain.ExchangeResponse)
	assert.False(resp.HasResponseError())
	total, err := vcmon.DecodeTotalVoltage(resp.Lines)
	assert.NoError(err)
	assert.InDelta(sim.Device().TotalVoltage(), total, 0.001)

	// relay commands do not wait for an answer
	result, err = context.RequestFuture(pid, domain.ExchangeRequest{Command: vcmon.CmdHalogenOn}, 2*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	assert.Empty(result.(domain.ExchangeResponse).Lines)

	result, err = context.RequestFuture(pid, domain.ClosePortRequest{}, 2*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	assert.Equal(vcmon.Disconnected, result.(domain.ClosePortResponse).State)

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	assert.Equal([]vcmon.ConnectionState{vcmon.Connecting, vcmon.Connected, vcmon.Disconnected}, states)
	mu.Unlock()

	context.Stop(pid)
	as.Shutdown()
}

func TestSerialActorSerializesExchanges(t *testing.T) {

	assert := assert.New(t)

	sim := vcmon.NewSimulatedTransport(vcmon.DefaultSimulatedDevice())
	assert.NoError(sim.Open("sim0"))

	as, pid := spawnSerial(t, sim, nil)
	context := as.Root

	futures := []*actor.Future{
		context.RequestFuture(pid, domain.ExchangeRequest{Command: vcmon.CmdVCMonData}, 3*time.Second),
		context.RequestFuture(pid, domain.ExchangeRequest{Command: vcmon.CmdAllVoltages}, 3*time.Second),
		context.RequestFuture(pid, domain.ExchangeRequest{Command: vcmon.CmdSystemStatus}, 3*time.Second),
	}

	result, err := futures[0].Result()
	assert.NoError(err)
	_, err = vcmon.DecodeSolar(result.(domain.ExchangeResponse).Lines)
	assert.NoError(err)

	result, err = futures[1].Result()
	assert.NoError(err)
	_, err = vcmon.DecodeCellVoltages(result.(domain.ExchangeResponse).Lines)
	assert.NoError(err)

	result, err = futures[2].Result()
	assert.NoError(err)
	_, ok := vcmon.DecodeSystemStatus(result.(domain.ExchangeResponse).Lines)
	assert.True(ok)

	context.Stop(pid)
	as.Shutdown()
}

func TestSerialActorNotConnected(t *testing.T) {

	sim := vcmon.NewSimulatedTransport(vcmon.DefaultSimulatedDevice())
	as, pid := spawnSerial(t, sim, nil)
	context := as.Root

	result, err := context.RequestFuture(pid, domain.ExchangeRequest{Command: vcmon.CmdTotalVoltage}, 2*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	resp := result.(domain.ExchangeResponse)
	assert.ErrorIs(t, resp.GetResponseError(), vcmon.ErrNotConnected)

	result, err = context.RequestFuture(pid, domain.ActorHealthRequest{}, 2*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	health := result.(domain.ActorHealthResponse)
	assert.True(t, health.Healthy)
	assert.Equal(t, "disconnected", health.State)

	context.Stop(pid)
	as.Shutdown()
}

func TestSerialActorCloseAbortsPendingRead(t *testing.T) {

	sim := vcmon.NewSimulatedTransport(vcmon.DefaultSimulatedDevice())
	assert.NoError(t, sim.Open("sim0"))
	sim.SetSilent(true)

	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root
	pid := context.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewSerialActor(sim, 5*time.Second, nil, logger)
	}))
	time.Sleep(100 * time.Millisecond)

	pending := context.RequestFuture(pid, domain.ExchangeRequest{Command: vcmon.CmdTotalVoltage}, 10*time.Second)
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	_, err := context.RequestFuture(pid, domain.ClosePortRequest{}, 2*time.Second).Result()
	assert.NoError(t, err)

	result, err := pending.Result()
	if err != nil {
		t.Error(err)
		return
	}
	assert.ErrorIs(t, result.(domain.ExchangeResponse).GetResponseError(), vcmon.ErrNotConnected)
	assert.Less(t, time.Since(start), 2*time.Second)

	context.Stop(pid)
	as.Shutdown()
}

// stallingTransport blocks every write until the port is closed, like a USB
// adapter with a full output buffer, and records overlapping calls.
type stallingTransport struct {
	*vcmon.SimulatedTransport
	closed    chan struct{}
	closeOnce sync.Once
	active    atomic.Int32
	maxActive atomic.Int32
}

func newStallingTransport() *stallingTransport {
	return &stallingTransport{
		SimulatedTransport: vcmon.NewSimulatedTransport(vcmon.DefaultSimulatedDevice()),
		closed:             make(chan struct{}),
	}
}

func (s *stallingTransport) enter() func() {
	n := s.active.Add(1)
	for {
		m := s.maxActive.Load()
		if n <= m || s.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	return func() { s.active.Add(-1) }
}

func (s *stallingTransport) ResetInputBuffer() error {
	defer s.enter()()
	return s.SimulatedTransport.ResetInputBuffer()
}

func (s *stallingTransport) Send(data []byte) error {
	defer s.enter()()
	<-s.closed
	// the driver takes a while to give up the write
	time.Sleep(200 * time.Millisecond)
	return vcmon.ErrNotConnected
}

func (s *stallingTransport) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return s.SimulatedTransport.Close()
}

func TestSerialActorStalledWriteBlocksNextExchange(t *testing.T) {

	assert := assert.New(t)

	transport := newStallingTransport()
	assert.NoError(transport.Open("sim0"))

	as, pid := spawnSerial(t, transport, nil)
	context := as.Root

	first := context.RequestFuture(pid, domain.ExchangeRequest{Command: vcmon.CmdTotalVoltage}, 5*time.Second)
	second := context.RequestFuture(pid, domain.ExchangeRequest{Command: vcmon.CmdVCMonData}, 5*time.Second)

	result, err := first.Result()
	if err != nil {
		t.Error(err)
		return
	}
	// the timed out exchange reports an error and the port is closed
	assert.True(result.(domain.ExchangeResponse).HasResponseError())

	result, err = second.Result()
	if err != nil {
		t.Error(err)
		return
	}
	assert.ErrorIs(result.(domain.ExchangeResponse).GetResponseError(), vcmon.ErrNotConnected)
	assert.Equal(vcmon.Disconnected, transport.State())
	assert.Equal(int32(1), transport.maxActive.Load())

	context.Stop(pid)
	as.Shutdown()
}
