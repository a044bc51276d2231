package node

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMonitorShutdownRunsHandlersInOrder(t *testing.T) {
	trigger := make(chan struct{})

	var (
		lk    sync.Mutex
		order []string
	)
	handler := func(name string, err error) ShutdownHandler {
		return ShutdownHandler{
			Component: name,
			StopFunc: func(context.Context) error {
				lk.Lock()
				order = append(order, name)
				lk.Unlock()
				return err
			},
		}
	}

	done := MonitorShutdown(trigger,
		handler("http", nil),
		handler("node", errors.New("stuck")),
		handler("journal", nil),
	)

	select {
	case <-done:
		t.Fatal("shut down before being triggered")
	case <-time.After(10 * time.Millisecond):
	}

	close(trigger)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not finish")
	}

	// a failing handler does not stop the ones after it
	lk.Lock()
	defer lk.Unlock()
	require.Equal(t, []string{"http", "node", "journal"}, order)
}
