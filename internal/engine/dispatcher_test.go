package engine

import (
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/runengine/internal/document"
	"github.com/roach88/runengine/internal/testutil"
)

func newTestDispatcher() *Dispatcher {
	return NewDispatcher(16, time.Millisecond, 5*time.Millisecond)
}

func subscribeAll(d *Dispatcher, cb Callback) {
	for _, k := range document.Kinds {
		d.Subscribe(k, cb)
	}
}

func TestDispatcher_DrainPreservesEmissionOrder(t *testing.T) {
	d := newTestDispatcher()
	rec := &testutil.Recorder{}
	subscribeAll(d, rec.Record)

	docs := []document.Document{
		document.RunStart{UID: "s"},
		document.EventDescriptor{UID: "d1"},
		document.Event{UID: "e1"},
		document.Event{UID: "e2"},
		document.EventDescriptor{UID: "d2"},
		document.Event{UID: "e3"},
		document.RunStop{UID: "x"},
	}
	for _, doc := range docs {
		require.NoError(t, d.Emit(doc))
	}

	assert.Equal(t, len(docs), d.Drain())
	assert.Equal(t, docs, rec.Docs())
	assert.Equal(t, 0, d.Drain())
}

func TestDispatcher_ProcessAllQueuesPreservesEmissionOrder(t *testing.T) {
	d := newTestDispatcher()
	rec := &testutil.Recorder{}
	subscribeAll(d, rec.Record)

	require.NoError(t, d.Emit(document.Event{UID: "e1"}))
	require.NoError(t, d.Emit(document.RunStop{UID: "x"}))

	assert.Equal(t, 2, d.ProcessAllQueues())
	assert.Equal(t, []string{"e1", "x"}, uids(rec.Docs()))
}

func TestDispatcher_ProcessAllQueuesWaitsForDocument(t *testing.T) {
	d := NewDispatcher(16, 200*time.Millisecond, time.Second)
	rec := &testutil.Recorder{}
	subscribeAll(d, rec.Record)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = d.Emit(document.Event{UID: "late"})
	}()

	assert.Equal(t, 1, d.ProcessAllQueues())
	assert.Equal(t, []string{"late"}, uids(rec.Docs()))
}

func TestDispatcher_ProcessAllQueuesAfterWaitKeepsDelivering(t *testing.T) {
	d := NewDispatcher(16, 200*time.Millisecond, time.Second)
	rec := &testutil.Recorder{}
	subscribeAll(d, rec.Record)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = d.Emit(document.EventDescriptor{UID: "d1"})
	}()
	assert.Equal(t, 1, d.ProcessAllQueues())

	require.NoError(t, d.Emit(document.Event{UID: "e1"}))
	require.NoError(t, d.Emit(document.RunStop{UID: "x"}))
	assert.Equal(t, 2, d.ProcessAllQueues())
	assert.Equal(t, 0, d.Drain())
	assert.Equal(t, []string{"d1", "e1", "x"}, uids(rec.Docs()))
}

func TestDispatcher_ConcurrentProducerEmissionOrder(t *testing.T) {
	const pairs = 2000
	d := NewDispatcher(64, time.Millisecond, time.Second)
	var got []string
	subscribeAll(d, func(doc document.Document) error {
		got = append(got, doc.DocUID())
		return nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range pairs {
			_ = d.Emit(document.EventDescriptor{UID: fmt.Sprintf("%05d", 2*i)})
			_ = d.Emit(document.Event{UID: fmt.Sprintf("%05d", 2*i+1)})
		}
	}()

	for {
		select {
		case <-done:
			d.Drain()
			require.Len(t, got, 2*pairs)
			assert.True(t, slices.IsSorted(got), "documents delivered out of emission order")
			return
		default:
			d.ProcessAllQueues()
		}
	}
}

func TestDispatcher_ProcessAllQueuesTimesOut(t *testing.T) {
	d := newTestDispatcher()
	assert.Equal(t, 0, d.ProcessAllQueues())
}

func TestDispatcher_ProcessQueueSingleKind(t *testing.T) {
	d := newTestDispatcher()
	rec := &testutil.Recorder{}
	subscribeAll(d, rec.Record)

	require.NoError(t, d.Emit(document.Event{UID: "e1"}))
	require.NoError(t, d.Emit(document.RunStop{UID: "x"}))
	require.NoError(t, d.Emit(document.Event{UID: "e2"}))

	assert.True(t, d.ProcessQueue(document.KindEvent))
	assert.True(t, d.ProcessQueue(document.KindEvent))
	assert.False(t, d.ProcessQueue(document.KindEvent), "empty queue times out")
	assert.Equal(t, []string{"e1", "e2"}, uids(rec.Docs()))
	assert.Equal(t, 1, d.Pending(document.KindStop))
	assert.False(t, d.ProcessQueue("bogus"))
}

func TestDispatcher_SubscribersInRegistrationOrder(t *testing.T) {
	d := newTestDispatcher()
	var calls []string
	d.Subscribe(document.KindEvent, func(document.Document) error {
		calls = append(calls, "first")
		return nil
	})
	d.Subscribe(document.KindEvent, func(document.Document) error {
		calls = append(calls, "second")
		return nil
	})
	d.Subscribe(document.KindStop, func(document.Document) error {
		calls = append(calls, "stop-only")
		return nil
	})

	require.NoError(t, d.Emit(document.Event{UID: "e"}))
	d.Drain()
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestDispatcher_CallbackFailuresIsolated(t *testing.T) {
	d := newTestDispatcher()
	rec := &testutil.Recorder{}
	d.Subscribe(document.KindEvent, func(document.Document) error { return errBoom })
	d.Subscribe(document.KindEvent, func(document.Document) error { panic("bad subscriber") })
	d.Subscribe(document.KindEvent, rec.Record)

	require.NoError(t, d.Emit(document.Event{UID: "e"}))
	assert.NotPanics(t, func() { d.Drain() })
	assert.Len(t, rec.Docs(), 1)
}

func TestDispatcher_Unsubscribe(t *testing.T) {
	d := newTestDispatcher()
	rec := &testutil.Recorder{}
	id := d.Subscribe(document.KindEvent, rec.Record)

	require.NoError(t, d.Emit(document.Event{UID: "e1"}))
	d.Drain()
	assert.True(t, d.Unsubscribe(id))
	assert.False(t, d.Unsubscribe(id), "already removed")

	require.NoError(t, d.Emit(document.Event{UID: "e2"}))
	d.Drain()
	assert.Equal(t, []string{"e1"}, uids(rec.Docs()))
}

func TestDispatcher_UnsubscribeFromCallback(t *testing.T) {
	d := newTestDispatcher()
	count := 0
	var id SubscriptionID
	id = d.Subscribe(document.KindEvent, func(document.Document) error {
		count++
		d.Unsubscribe(id)
		return nil
	})

	require.NoError(t, d.Emit(document.Event{UID: "e1"}))
	require.NoError(t, d.Emit(document.Event{UID: "e2"}))
	d.Drain()
	assert.Equal(t, 1, count)
}

func TestDispatcher_EmitQueueFull(t *testing.T) {
	d := NewDispatcher(1, time.Millisecond, 5*time.Millisecond)

	require.NoError(t, d.Emit(document.Event{UID: "e1"}))
	begin := time.Now()
	err := d.Emit(document.Event{UID: "e2"})

	assert.True(t, HasCode(err, ErrCodeQueueFull), "got %v", err)
	assert.GreaterOrEqual(t, time.Since(begin), 5*time.Millisecond)
	assert.Equal(t, 1, d.Pending(document.KindEvent))

	// Other kinds have their own capacity.
	assert.NoError(t, d.Emit(document.RunStop{UID: "x"}))
}

func TestDispatcher_EmitWaitsForRoom(t *testing.T) {
	d := NewDispatcher(1, time.Millisecond, time.Second)
	require.NoError(t, d.Emit(document.Event{UID: "e1"}))

	go func() {
		time.Sleep(5 * time.Millisecond)
		d.ProcessQueue(document.KindEvent)
	}()
	assert.NoError(t, d.Emit(document.Event{UID: "e2"}))
}

func TestDispatcher_Defaults(t *testing.T) {
	d := NewDispatcher(0, 0, 0)
	assert.Equal(t, DefaultQueueSize, cap(d.queues[document.KindEvent]))
	assert.Equal(t, DefaultPollInterval, d.pollInterval)
	assert.Equal(t, DefaultEmitTimeout, d.emitTimeout)
}

func uids(docs []document.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.DocUID()
	}
	return out
}
