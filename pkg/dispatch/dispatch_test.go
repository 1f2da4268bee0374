package dispatch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chatflow/chatflow/pkg/model"
)

func envelope(t *testing.T, kind model.EventKind) model.Envelope {
	t.Helper()
	env, err := model.NewEnvelope(kind, nil)
	require.NoError(t, err)
	return env
}

func TestDispatchRunsHandlersInRegistrationOrder(t *testing.T) {
	d := New()
	var got []string
	d.On(model.EventMessageNew, func(model.Envelope) { got = append(got, "first") })
	d.On(model.EventMessageNew, func(model.Envelope) { got = append(got, "second") })
	d.On(model.EventMessageNew, func(model.Envelope) { got = append(got, "third") })

	d.Dispatch(envelope(t, model.EventMessageNew))
	require.Equal(t, []string{"first", "second", "third"}, got)
}

func TestDispatchOnlyMatchingKind(t *testing.T) {
	d := New()
	calls := 0
	d.On(model.EventTypingStart, func(model.Envelope) { calls++ })

	d.Dispatch(envelope(t, model.EventMessageNew))
	require.Zero(t, calls)

	d.Dispatch(envelope(t, model.EventTypingStart))
	require.Equal(t, 1, calls)
}

func TestUnregisterStopsDelivery(t *testing.T) {
	d := New()
	calls := 0
	off := d.On(model.EventMessageNew, func(model.Envelope) { calls++ })

	d.Dispatch(envelope(t, model.EventMessageNew))
	off()
	d.Dispatch(envelope(t, model.EventMessageNew))
	require.Equal(t, 1, calls)

	// Unregistering twice is harmless.
	off()
}

func TestUnregisterDuringDispatchKeepsInFlightEvent(t *testing.T) {
	d := New()
	var got []string
	var offSecond func()
	d.On(model.EventMessageNew, func(model.Envelope) {
		got = append(got, "first")
		offSecond()
	})
	offSecond = d.On(model.EventMessageNew, func(model.Envelope) {
		got = append(got, "second")
	})

	// The handler snapshot is taken at dispatch time, so the second
	// handler still sees the event that was in flight when it was
	// removed, and nothing after that.
	d.Dispatch(envelope(t, model.EventMessageNew))
	require.Equal(t, []string{"first", "second"}, got)

	d.Dispatch(envelope(t, model.EventMessageNew))
	require.Equal(t, []string{"first", "second", "first"}, got)
}

func TestDispatchNoHandlers(t *testing.T) {
	d := New()
	require.NotPanics(t, func() {
		d.Dispatch(envelope(t, model.EventNotification))
	})
}
