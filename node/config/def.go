package config

import (
	"encoding"
	"time"

	"github.com/bazaarnet/bazaar/journal/fsjournal"
	"github.com/bazaarnet/bazaar/publisher"
)

const (
	StoreDatastore = "datastore"
	StoreSqlite    = "sqlite"

	ContentLocal = "local"
	ContentIPFS  = "ipfs"

	LedgerMem = "mem"
	LedgerRPC = "rpc"
)

func defCommon() Common {
	return Common{
		API: API{
			ListenAddress: "127.0.0.1:3000",
			Timeout:       Duration(30 * time.Second),
		},
	}
}

// DefaultNode returns the default daemon config
func DefaultNode() *BazaarNode {
	pub := publisher.DefaultConfig()
	rec := publisher.DefaultReconcilerConfig()

	return &BazaarNode{
		Common: defCommon(),

		Store: Store{
			Backend:    StoreDatastore,
			SqlitePath: "listings.db",
		},
		ContentStore: ContentStore{
			Backend:    ContentLocal,
			APIAddress: "http://127.0.0.1:5001",
			Timeout:    Duration(time.Minute),
			CacheSize:  4096,
		},
		Ledger: Ledger{
			Backend:         LedgerMem,
			Address:         "ws://127.0.0.1:4321/rpc/v0",
			Network:         "devnet",
			ContractAddress: "0x5fbdb2315678afecb367f032d93f642f64180aa3",
			BlockTime:       Duration(2 * time.Second),
			Confidence:      1,
		},
		Identities: Identities{
			Addresses: []string{
				"0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266",
				"0x70997970c51812dc3a010c7d01b50e0d17dc79c8",
				"0x3c44cdddb6a900fa2b585dd299e03d12fa4293bc",
			},
			Sellers:        map[string]string{},
			AcquireTimeout: Duration(30 * time.Second),
		},
		Publisher: Publisher{
			UploadAttempts:      pub.UploadAttempts,
			UploadBackoffMin:    Duration(pub.UploadBackoffMin),
			UploadBackoffMax:    Duration(pub.UploadBackoffMax),
			SubmitAttempts:      pub.SubmitAttempts,
			SubmitBackoffMin:    Duration(pub.SubmitBackoffMin),
			SubmitBackoffMax:    Duration(pub.SubmitBackoffMax),
			ConfirmationTimeout: Duration(pub.ConfirmationTimeout),
			PollInterval:        Duration(pub.PollInterval),
		},
		Reconciler: Reconciler{
			Interval:             Duration(rec.Interval),
			ConfirmationDeadline: Duration(rec.ConfirmationDeadline),
			RetryThreshold:       Duration(rec.RetryThreshold),
		},
		Journal: Journal{
			DisabledEvents: "",
			MaxSize:        fsjournal.DefaultMaxSize,
			MaxBackups:     fsjournal.DefaultMaxBackups,
		},
		Logging: Logging{
			SubsystemLevels: map[string]string{},
		},
	}
}

// PublisherConfig converts the Publisher section for publisher.New.
func (c Publisher) PublisherConfig() publisher.Config {
	return publisher.Config{
		UploadAttempts:      c.UploadAttempts,
		UploadBackoffMin:    time.Duration(c.UploadBackoffMin),
		UploadBackoffMax:    time.Duration(c.UploadBackoffMax),
		SubmitAttempts:      c.SubmitAttempts,
		SubmitBackoffMin:    time.Duration(c.SubmitBackoffMin),
		SubmitBackoffMax:    time.Duration(c.SubmitBackoffMax),
		ConfirmationTimeout: time.Duration(c.ConfirmationTimeout),
		PollInterval:        time.Duration(c.PollInterval),
	}
}

func (c Reconciler) ReconcilerConfig() publisher.ReconcilerConfig {
	return publisher.ReconcilerConfig{
		Interval:             time.Duration(c.Interval),
		ConfirmationDeadline: time.Duration(c.ConfirmationDeadline),
		RetryThreshold:       time.Duration(c.RetryThreshold),
	}
}

var _ encoding.TextMarshaler = (*Duration)(nil)
var _ encoding.TextUnmarshaler = (*Duration)(nil)

// Duration is a wrapper type for time.Duration
// for decoding and encoding from/to TOML
type Duration time.Duration

// UnmarshalText implements interface for TOML decoding
func (dur *Duration) UnmarshalText(text []byte) error {
	d, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*dur = Duration(d)
	return err
}

func (dur Duration) MarshalText() ([]byte, error) {
	d := time.Duration(dur)
	return []byte(d.String()), nil
}
