package link

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/prismmesh/core"
	"github.com/hupe1980/prismmesh/pulse"
)

func fastPair(t *testing.T, optFns ...func(o *Options)) (*Link, *Link) {
	t.Helper()
	fns := append([]func(o *Options){func(o *Options) { o.PollInterval = 10 * time.Millisecond }}, optFns...)
	a, b := NewPair(fns...)
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

func recvOne(t *testing.T, l *Link) pulse.Pulse {
	t.Helper()
	p, ok, err := l.ReceiveWithin(time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	return p
}

func TestPair_SendAndReceive(t *testing.T) {
	caller, unit := fastPair(t)

	require.NoError(t, caller.SendWavefront("a", "echo", map[string]string{"msg": "hi"}))

	p := recvOne(t, unit)
	wf, ok := p.(pulse.Wavefront)
	require.True(t, ok)
	assert.Equal(t, "a", wf.ID)
	assert.Equal(t, "echo", wf.Frequency)
	assert.JSONEq(t, `{"msg":"hi"}`, string(wf.Input))
}

func TestReceive_NothingWithinPollIsNotAnError(t *testing.T) {
	_, unit := fastPair(t)

	p, ok, err := unit.Receive()
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, p)
}

func TestClose_PeerDrainsThenSeesClosed(t *testing.T) {
	caller, unit := fastPair(t)

	require.NoError(t, unit.EmitPhoton("a", 1))
	require.NoError(t, unit.EmitTrap("a", nil))
	require.NoError(t, unit.Close())

	assert.Equal(t, pulse.KindPhoton, recvOne(t, caller).Kind())
	assert.Equal(t, pulse.KindTrap, recvOne(t, caller).Kind())

	_, ok, err := caller.Receive()
	assert.False(t, ok)
	assert.ErrorIs(t, err, core.ErrConnectionClosed)

	assert.ErrorIs(t, caller.SendExtinguish(), core.ErrConnectionClosed)
	assert.ErrorIs(t, unit.EmitPhoton("a", 2), core.ErrConnectionClosed)
}

func TestPair_BoundedBackpressure(t *testing.T) {
	caller, unit := fastPair(t, func(o *Options) { o.Buffer = 1 })

	require.NoError(t, unit.EmitPhoton("a", 1))

	sent := make(chan error, 1)
	go func() { sent <- unit.EmitPhoton("a", 2) }()

	select {
	case <-sent:
		t.Fatal("second send should block while the buffer is full")
	case <-time.After(50 * time.Millisecond):
	}

	recvOne(t, caller)

	select {
	case err := <-sent:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("send did not resume after the receiver caught up")
	}
}

func TestSender_ConcurrentProducers(t *testing.T) {
	caller, unit := fastPair(t)

	const producers = 4
	done := make(chan struct{})
	for i := 0; i < producers; i++ {
		s := unit.Sender
		go func(n int) {
			_ = s.EmitPhoton("a", n)
			done <- struct{}{}
		}(i)
	}

	seen := 0
	for seen < producers {
		recvOne(t, caller)
		seen++
	}
	for i := 0; i < producers; i++ {
		<-done
	}
}

func TestAccept_RefusesPulsesAfterTrap(t *testing.T) {
	_, unit := fastPair(t)

	unit.Accept("a")
	require.NoError(t, unit.EmitPhoton("a", "x"))
	assert.False(t, unit.Settled("a"))
	require.NoError(t, unit.EmitTrap("a", nil))
	assert.True(t, unit.Settled("a"))

	assert.ErrorIs(t, unit.EmitPhoton("a", "late"), core.ErrProtocol)
	assert.ErrorIs(t, unit.EmitTrap("a", nil), core.ErrProtocol)

	unit.Release("a")
	assert.True(t, unit.Settled("a"))
	assert.ErrorIs(t, unit.EmitPhoton("a", "after release"), core.ErrProtocol)

	unit.Accept("open")
	unit.Release("open")
	assert.False(t, unit.Settled("open"))
}

func TestSendWavefront_RejectsInvalidRawJSON(t *testing.T) {
	caller, _ := fastPair(t)
	assert.Error(t, caller.SendWavefront("a", "echo", json.RawMessage(`{nope`)))
}

func TestAwaitClosed(t *testing.T) {
	caller, unit := fastPair(t)

	assert.False(t, caller.AwaitClosed(30*time.Millisecond))

	go func() {
		_ = unit.EmitPhoton("x", 1)
		time.Sleep(20 * time.Millisecond)
		_ = unit.Close()
	}()
	assert.True(t, caller.AwaitClosed(time.Second))
}

func TestAbsorb_SinglePhoton(t *testing.T) {
	caller, unit := fastPair(t)

	require.NoError(t, unit.EmitPhoton("a", map[string]string{"msg": "hi"}))
	require.NoError(t, unit.EmitTrap("a", nil))

	got, err := Absorb[map[string]string](context.Background(), caller, "a")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"msg": "hi"}, got)
}

func TestAbsorb_ManyPhotonsBecomeOrderedSequence(t *testing.T) {
	caller, unit := fastPair(t)

	for _, n := range []int{3, 1, 2} {
		require.NoError(t, unit.EmitPhoton("a", n))
	}
	require.NoError(t, unit.EmitTrap("a", nil))

	got, err := Absorb[[]int](context.Background(), caller, "a")
	require.NoError(t, err)
	assert.Equal(t, []int{3, 1, 2}, got)
}

func TestAbsorb_ZeroPhotonsFails(t *testing.T) {
	caller, unit := fastPair(t)

	require.NoError(t, unit.EmitTrap("a", nil))

	_, err := Absorb[json.RawMessage](context.Background(), caller, "a")
	assert.ErrorIs(t, err, ErrNoData)
}

func TestAbsorb_TrapErrorWins(t *testing.T) {
	caller, unit := fastPair(t)

	require.NoError(t, unit.EmitPhoton("a", "partial"))
	require.NoError(t, unit.EmitTrap("a", core.Errorf(core.KindValidation, "bad input")))

	_, err := Absorb[string](context.Background(), caller, "a")
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestDrain_KeepsPartialResultsOnFailure(t *testing.T) {
	caller, unit := fastPair(t)

	require.NoError(t, unit.EmitPhoton("a", "one"))
	require.NoError(t, unit.EmitPhoton("other", "skip me"))
	require.NoError(t, unit.EmitTrap("a", errors.New("boom")))

	photons, err := Drain(context.Background(), caller, "a")
	require.Error(t, err)
	assert.Equal(t, "boom", err.Error())
	require.Len(t, photons, 1)
	assert.JSONEq(t, `"one"`, string(photons[0]))
}

func TestAbsorb_OutstandingRequestsInReverseOrder(t *testing.T) {
	caller, unit := fastPair(t)

	require.NoError(t, caller.SendWavefront("a", "upper", "x"))
	require.NoError(t, caller.SendWavefront("b", "upper", "y"))

	require.NoError(t, unit.EmitPhoton("a", "X"))
	require.NoError(t, unit.EmitTrap("a", nil))
	require.NoError(t, unit.EmitPhoton("b", "Y"))
	require.NoError(t, unit.EmitTrap("b", nil))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	second, err := Absorb[string](ctx, caller, "b")
	require.NoError(t, err)
	assert.Equal(t, "Y", second)

	first, err := Absorb[string](ctx, caller, "a")
	require.NoError(t, err)
	assert.Equal(t, "X", first)
}

func TestAbsorb_ConcurrentReadersOnOneLink(t *testing.T) {
	caller, unit := fastPair(t)

	ids := []string{"a", "b", "c"}
	for _, id := range ids {
		require.NoError(t, caller.SendWavefront(id, "upper", id))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	results := make(chan string, len(ids))
	errs := make(chan error, len(ids))
	for _, id := range ids {
		go func(id string) {
			v, err := Absorb[string](ctx, caller, id)
			if err != nil {
				errs <- err
				return
			}
			results <- id + "=" + v
		}(id)
	}

	for i := len(ids) - 1; i >= 0; i-- {
		require.NoError(t, Emit(unit, ids[i], ids[i]+"!"))
	}

	var got []string
	for range ids {
		select {
		case r := <-results:
			got = append(got, r)
		case err := <-errs:
			t.Fatalf("absorb failed: %v", err)
		}
	}
	assert.ElementsMatch(t, []string{"a=a!", "b=b!", "c=c!"}, got)
}

func TestDrain_AbandonedRequestIsNotKept(t *testing.T) {
	caller, unit := fastPair(t)

	require.NoError(t, caller.SendWavefront("a", "slow", nil))
	require.NoError(t, caller.SendWavefront("b", "fast", nil))

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := Drain(short, caller, "a")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, Emit(unit, "a", "late"))
	require.NoError(t, Emit(unit, "b", "fast"))

	got, err := Absorb[string](context.Background(), caller, "b")
	require.NoError(t, err)
	assert.Equal(t, "fast", got)

	_, held := caller.awaiting.take("a")
	assert.False(t, held)
}

func TestAbsorb_SentinelTrapReportsSetupFailure(t *testing.T) {
	caller, unit := fastPair(t)

	require.NoError(t, unit.EmitTrap(core.SentinelID, core.Errorf(core.KindSpectrumParse, "broken")))

	_, err := Absorb[string](context.Background(), caller, "a")
	assert.ErrorIs(t, err, core.ErrSpectrumParse)
}

func TestAbsorb_ContextDeadline(t *testing.T) {
	caller, _ := fastPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := Absorb[string](ctx, caller, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCollect_ZeroPhotonsIsEmpty(t *testing.T) {
	caller, unit := fastPair(t)

	require.NoError(t, unit.EmitTrap("a", nil))

	got, err := Collect[string](context.Background(), caller, "a")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReflect_SequenceEmitsOnePhotonPerElement(t *testing.T) {
	caller, unit := fastPair(t)

	require.NoError(t, Reflect(unit, "a", []string{"x", "y", "z"}))

	var kinds []pulse.Kind
	for i := 0; i < 4; i++ {
		kinds = append(kinds, recvOne(t, caller).Kind())
	}
	assert.Equal(t, []pulse.Kind{pulse.KindPhoton, pulse.KindPhoton, pulse.KindPhoton, pulse.KindTrap}, kinds)
}

func TestReflect_ValueEmitsOnePhoton(t *testing.T) {
	caller, unit := fastPair(t)

	require.NoError(t, Reflect(unit, "a", map[string]int{"n": 1}))

	p := recvOne(t, caller)
	require.Equal(t, pulse.KindPhoton, p.Kind())
	assert.JSONEq(t, `{"n":1}`, string(p.(pulse.Photon).Data))

	trap, ok := recvOne(t, caller).(pulse.Trap)
	require.True(t, ok)
	assert.False(t, trap.Failed())
}

func TestEmit_KeepsArrayWhole(t *testing.T) {
	caller, unit := fastPair(t)

	require.NoError(t, Emit(unit.Sender, "a", []int{1, 2}))

	got, err := Absorb[[]int](context.Background(), caller, "a")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, got)
}

func TestCall_RoundTrip(t *testing.T) {
	caller, unit := fastPair(t)

	go func() {
		p, err := unit.ReceiveContext(context.Background())
		if err != nil {
			return
		}
		wf := p.(pulse.Wavefront)
		_ = Reflect(unit, wf.ID, wf.Input)
	}()

	got, err := Call[map[string]string](context.Background(), caller, "echo", map[string]string{"msg": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", got["msg"])
}

func TestStream_DeliversInOrder(t *testing.T) {
	caller, unit := fastPair(t)

	go func() { _ = Reflect(unit, "a", []int{1, 2, 3}) }()

	dataCh, errCh := Stream(context.Background(), caller, "a")
	var got []string
	for d := range dataCh {
		got = append(got, string(d))
	}
	assert.Equal(t, []string{"1", "2", "3"}, got)
	assert.NoError(t, <-errCh)
}
