package node

import (
	"context"
	"net"
	"net/http"
	"time"

	"golang.org/x/xerrors"
)

// ServeHTTP starts serving h on addr and returns the bound address along
// with a function that shuts the server down.
func ServeHTTP(h http.Handler, addr string, timeout time.Duration) (net.Addr, StopFunc, error) {
	lst, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, xerrors.Errorf("could not listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 30 * time.Second,
	}
	if timeout > 0 {
		srv.Handler = http.TimeoutHandler(h, timeout, `{"error":"Timeout","message":"request timed out"}`)
	}

	go func() {
		err := srv.Serve(lst)
		if err != nil && err != http.ErrServerClosed {
			log.Warnf("http server stopped: %s", err)
		}
	}()

	return lst.Addr(), func(ctx context.Context) error {
		return srv.Shutdown(ctx)
	}, nil
}
