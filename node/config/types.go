package config

// BazaarNode is the configuration of the bazaar daemon.
type BazaarNode struct {
	Common

	Store        Store
	ContentStore ContentStore
	Ledger       Ledger
	Identities   Identities
	Publisher    Publisher
	Reconciler   Reconciler
	Journal      Journal
	Logging      Logging
}

// Common is configuration shared by every bazaar process.
type Common struct {
	API API
}

// API contains configs for the HTTP endpoint.
type API struct {
	// Binding address for the catalog, health and debug endpoints.
	ListenAddress string
	Timeout       Duration
}

type Store struct {
	// Listing store backend: "datastore" keeps listings in the node's
	// leveldb metadata datastore, "sqlite" in a separate sqlite database.
	Backend string
	// Path of the sqlite database, relative to the repo path unless
	// absolute. Only used by the sqlite backend.
	SqlitePath string
}

type ContentStore struct {
	// "local" stores metadata blocks in the node's datastore, "ipfs" uploads
	// them through an IPFS HTTP RPC endpoint.
	Backend string
	// IPFS HTTP RPC address, e.g. http://127.0.0.1:5001
	APIAddress string
	Timeout    Duration
	// Number of recently uploaded metadata CIDs remembered to skip repeated
	// uploads of identical content.
	CacheSize int
}

type Ledger struct {
	// "mem" runs an in-process ledger, "rpc" connects to a ledger JSON-RPC
	// endpoint (see `bazaar ledger serve`).
	Backend string
	// JSON-RPC endpoint of the rpc backend, e.g. ws://127.0.0.1:4321/rpc/v0
	Address string
	// Authorization header value sent to the rpc backend.
	Token string

	// The following only apply to the mem backend.
	Network         string
	ContractAddress string
	BlockTime       Duration
	Confidence      uint64
}

type Identities struct {
	// Signing addresses in the pool.
	Addresses []string
	// Sellers bound to a single signing address.
	Sellers map[string]string
	// How long a saga waits for a free identity before failing with
	// NoIdentityAvailable.
	AcquireTimeout Duration
}

type Publisher struct {
	UploadAttempts   int
	UploadBackoffMin Duration
	UploadBackoffMax Duration

	SubmitAttempts   int
	SubmitBackoffMin Duration
	SubmitBackoffMax Duration

	// How long a saga polls for confirmation before handing the listing to
	// the reconciler.
	ConfirmationTimeout Duration
	PollInterval        Duration
}

type Reconciler struct {
	Interval             Duration
	ConfirmationDeadline Duration
	RetryThreshold       Duration
}

type Journal struct {
	// Comma separated system:event pairs which are not journaled.
	DisabledEvents string
	// The journal file is rolled once it reaches MaxSize bytes, keeping at
	// most MaxBackups rolled files.
	MaxSize    int64
	MaxBackups int
}

type Logging struct {
	SubsystemLevels map[string]string
}
