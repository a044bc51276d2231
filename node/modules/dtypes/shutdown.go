package dtypes

// ShutdownChan is a channel to which you send a value if you intend to shut
// down the daemon, including the node and HTTP server.
type ShutdownChan chan struct{}
