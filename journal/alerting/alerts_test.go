package alerting

import (
	"encoding/json"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"

	"github.com/bazaarnet/bazaar/journal"
	"github.com/bazaarnet/bazaar/journal/mockjournal"
)

func TestAlerting(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()
	j := mockjournal.NewMockJournal(mockCtrl)

	a := NewAlertingSystem(j)

	j.EXPECT().RegisterEventType("publisher", "MetadataUploadFailed").Return(journal.EventType{System: "publisher", Event: "MetadataUploadFailed"})
	al1 := a.AddAlertType("publisher", "MetadataUploadFailed")

	j.EXPECT().RegisterEventType("publisher", "NoIdentityAvailable").Return(journal.EventType{System: "publisher", Event: "NoIdentityAvailable"})
	al2 := a.AddAlertType("publisher", "NoIdentityAvailable")

	// registering again does not touch the journal
	require.Equal(t, al1, a.AddAlertType("publisher", "MetadataUploadFailed"))

	l := a.GetAlerts()
	require.Len(t, l, 2)
	require.Equal(t, al1, l[0].Type)
	require.Equal(t, al2, l[1].Type)

	for _, alert := range l {
		require.False(t, alert.Active)
		require.Nil(t, alert.LastActive)
		require.Nil(t, alert.LastResolved)
	}

	// resolving an inactive alert is a no-op
	a.Resolve(al1, "nothing to do")

	j.EXPECT().RecordEvent(a.alerts[al1].journalType, gomock.Any())
	a.Raise(al1, "test")

	for _, alert := range l { // check for no magic mutations
		require.False(t, alert.Active)
		require.Nil(t, alert.LastActive)
		require.Nil(t, alert.LastResolved)
	}

	l = a.GetAlerts()
	require.Len(t, l, 2)
	require.Equal(t, al1, l[0].Type)
	require.Equal(t, al2, l[1].Type)

	require.True(t, l[0].Active)
	require.NotNil(t, l[0].LastActive)
	require.Equal(t, "raised", l[0].LastActive.Type)
	require.Equal(t, json.RawMessage(`"test"`), l[0].LastActive.Message)
	require.Nil(t, l[0].LastResolved)

	require.False(t, l[1].Active)
	require.Nil(t, l[1].LastActive)
	require.Nil(t, l[1].LastResolved)

	j.EXPECT().RecordEvent(a.alerts[al1].journalType, gomock.Any())
	a.Resolve(al1, "recovered")
	require.False(t, a.IsRaised(al1))

	l = a.GetAlerts()
	require.NotNil(t, l[0].LastResolved)
	require.Equal(t, "resolved", l[0].LastResolved.Type)
}
