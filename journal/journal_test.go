package journal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDisabledEvents(t *testing.T) {
	evts, err := ParseDisabledEvents(" publisher:stage_progress, reconciler:pass ")
	require.NoError(t, err)
	require.Equal(t, DisabledEvents{
		{System: "publisher", Event: "stage_progress"},
		{System: "reconciler", Event: "pass"},
	}, evts)

	evts, err = ParseDisabledEvents("")
	require.NoError(t, err)
	require.Empty(t, evts)

	_, err = ParseDisabledEvents("publisher")
	require.Error(t, err)
}

func TestRegistry(t *testing.T) {
	r := NewEventTypeRegistry(DisabledEvents{{System: "publisher", Event: "stage_progress"}})

	on := r.RegisterEventType("publisher", "state_change")
	require.True(t, on.Enabled())
	require.Equal(t, on, r.RegisterEventType("publisher", "state_change"))

	off := r.RegisterEventType("publisher", "stage_progress")
	require.False(t, off.Enabled())

	// not obtained from a registry
	require.False(t, EventType{System: "x", Event: "y"}.Enabled())
}

func TestMaybeAddEntryNil(t *testing.T) {
	called := false
	MaybeAddEntry(NilJournal(), EventType{}, func() interface{} {
		called = true
		return nil
	})
	require.False(t, called)
}

func TestEnvDisabledEvents(t *testing.T) {
	t.Setenv(EnvDisabledEventsVar, "publisher:state_change, reconciler:pass")
	require.Equal(t, DisabledEvents{
		{System: "publisher", Event: "state_change"},
		{System: "reconciler", Event: "pass"},
	}, EnvDisabledEvents())

	t.Setenv(EnvDisabledEventsVar, "no-colon")
	require.Equal(t, DefaultDisabledEvents, EnvDisabledEvents())
}
