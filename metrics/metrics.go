package metrics

import (
	"context"
	"time"

	"contrib.go.opencensus.io/exporter/prometheus"
	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"

	rpcmetrics "github.com/filecoin-project/go-jsonrpc/metrics"

	"github.com/bazaarnet/bazaar/build"
)

// Distributions
var defaultMillisecondsDistribution = view.Distribution(
	1, 2, 5, 10, 20, 50, 100, 200, 500, // fast operations
	1000, 2000, 5000, 10_000, 20_000, 30_000, 60_000, // ledger round trips
	2*60_000, 5*60_000, 10*60_000, 30*60_000, 60*60_000, // stuck sagas
)

var attemptsDistribution = view.Distribution(1, 2, 3, 4, 5, 6, 8, 10, 15, 20)

// Tags
var (
	Version, _ = tag.NewKey("version")
	Commit, _  = tag.NewKey("commit")
	Network, _ = tag.NewKey("network")

	Reason, _  = tag.NewKey("reason")
	Stage, _   = tag.NewKey("stage")
	Outcome, _ = tag.NewKey("outcome")
	Backend, _ = tag.NewKey("backend")
)

// Measures
var (
	BazaarInfo         = stats.Int64("info", "Arbitrary counter to tag bazaar info to", stats.UnitDimensionless)
	APIRequestDuration = stats.Float64("api/request_duration_ms", "Duration of API requests", stats.UnitMilliseconds)

	PublishStarted      = stats.Int64("publish/started", "Counter of publish runs started", stats.UnitDimensionless)
	PublishPublished    = stats.Int64("publish/published", "Counter of listings published", stats.UnitDimensionless)
	PublishFailed       = stats.Int64("publish/failed", "Counter of publish runs ending in publish_failed", stats.UnitDimensionless)
	PublishDuration     = stats.Float64("publish/duration_ms", "Time from ledger submission to published", stats.UnitMilliseconds)
	StageDuration       = stats.Float64("publish/stage_duration_ms", "Duration of a single saga stage", stats.UnitMilliseconds)
	MetadataUploads     = stats.Int64("content/uploads", "Counter of metadata upload attempts", stats.UnitDimensionless)
	LedgerSubmitAttempt = stats.Int64("ledger/submit_attempts", "Ledger submissions per publish run", stats.UnitDimensionless)
	IdentityWait        = stats.Float64("identity/wait_ms", "Time spent waiting for a signing identity", stats.UnitMilliseconds)
	ReconcilerResolved  = stats.Int64("reconciler/resolved", "Listings resolved by the reconciler", stats.UnitDimensionless)
	ReconcilerPass      = stats.Float64("reconciler/pass_ms", "Duration of a reconciler pass", stats.UnitMilliseconds)
)

var (
	InfoView = &view.View{
		Name:        "info",
		Description: "Bazaar node information",
		Measure:     BazaarInfo,
		Aggregation: view.LastValue(),
		TagKeys:     []tag.Key{Version, Commit, Network},
	}
	APIRequestDurationView = &view.View{
		Measure:     APIRequestDuration,
		Aggregation: defaultMillisecondsDistribution,
		TagKeys:     []tag.Key{Outcome},
	}
	PublishStartedView = &view.View{
		Measure:     PublishStarted,
		Aggregation: view.Count(),
	}
	PublishPublishedView = &view.View{
		Measure:     PublishPublished,
		Aggregation: view.Count(),
	}
	PublishFailedView = &view.View{
		Measure:     PublishFailed,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Reason},
	}
	PublishDurationView = &view.View{
		Measure:     PublishDuration,
		Aggregation: defaultMillisecondsDistribution,
	}
	StageDurationView = &view.View{
		Measure:     StageDuration,
		Aggregation: defaultMillisecondsDistribution,
		TagKeys:     []tag.Key{Stage, Outcome},
	}
	MetadataUploadsView = &view.View{
		Measure:     MetadataUploads,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Backend, Outcome},
	}
	LedgerSubmitAttemptView = &view.View{
		Measure:     LedgerSubmitAttempt,
		Aggregation: attemptsDistribution,
		TagKeys:     []tag.Key{Outcome},
	}
	IdentityWaitView = &view.View{
		Measure:     IdentityWait,
		Aggregation: defaultMillisecondsDistribution,
		TagKeys:     []tag.Key{Outcome},
	}
	ReconcilerResolvedView = &view.View{
		Measure:     ReconcilerResolved,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Outcome},
	}
	ReconcilerPassView = &view.View{
		Measure:     ReconcilerPass,
		Aggregation: defaultMillisecondsDistribution,
	}
)

var views = []*view.View{
	InfoView,
	APIRequestDurationView,
	PublishStartedView,
	PublishPublishedView,
	PublishFailedView,
	PublishDurationView,
	StageDurationView,
	MetadataUploadsView,
	LedgerSubmitAttemptView,
	IdentityWaitView,
	ReconcilerResolvedView,
	ReconcilerPassView,
}

// DefaultViews is an array of OpenCensus views for metric gathering purposes
var DefaultViews = func() []*view.View {
	return views
}()

// RegisterViews adds views to the default list without modifying this file.
func RegisterViews(v ...*view.View) {
	views = append(views, v...)
}

func init() {
	RegisterViews(rpcmetrics.DefaultViews...)
}

// SinceInMilliseconds returns the duration of time since the provide time as a float64.
func SinceInMilliseconds(startTime time.Time) float64 {
	return float64(build.Clock.Since(startTime).Milliseconds())
}

// Timer is a function stopwatch, calling it starts the timer,
// calling the returned function will record the duration.
func Timer(ctx context.Context, m *stats.Float64Measure) func() time.Duration {
	start := build.Clock.Now()
	return func() time.Duration {
		stats.Record(ctx, m.M(SinceInMilliseconds(start)))
		return build.Clock.Since(start)
	}
}

// Tagged returns ctx with the given tag upserted, ignoring invalid values.
func Tagged(ctx context.Context, k tag.Key, v string) context.Context {
	out, err := tag.New(ctx, tag.Upsert(k, v))
	if err != nil {
		return ctx
	}
	return out
}

// Exporter registers DefaultViews and returns a prometheus handler serving
// them, meant for /debug/metrics. A nil registry means the default one.
func Exporter(namespace string, registry *promclient.Registry) (*prometheus.Exporter, error) {
	if err := view.Register(DefaultViews...); err != nil {
		return nil, err
	}

	if registry == nil {
		registry = promclient.DefaultRegisterer.(*promclient.Registry)
	}
	return prometheus.NewExporter(prometheus.Options{
		Registry:  registry,
		Namespace: namespace,
	})
}
