package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	logging "github.com/ipfs/go-log/v2"
	"go.opencensus.io/stats"
	"golang.org/x/xerrors"

	"github.com/bazaarnet/bazaar/build"
	"github.com/bazaarnet/bazaar/identity"
	"github.com/bazaarnet/bazaar/journal/alerting"
	"github.com/bazaarnet/bazaar/listing"
	"github.com/bazaarnet/bazaar/metrics"
	"github.com/bazaarnet/bazaar/publisher"
)

var log = logging.Logger("httpapi")

const maxBodySize = 1 << 20

type Params struct {
	Store     listing.Store
	Publisher *publisher.Publisher
	Alerts    *alerting.Alerting
	Pool      *identity.Pool

	// Metrics is mounted at /debug/metrics when set.
	Metrics http.Handler
}

type api struct {
	store  listing.Store
	pub    *publisher.Publisher
	alerts *alerting.Alerting
	pool   *identity.Pool
}

// Handler returns the catalog, health and debug endpoints of the daemon.
func Handler(p Params) http.Handler {
	a := &api{
		store:  p.Store,
		pub:    p.Publisher,
		alerts: p.Alerts,
		pool:   p.Pool,
	}

	m := mux.NewRouter()
	m.Use(measure)

	m.HandleFunc("/listings", a.listListings).Methods(http.MethodGet)
	m.HandleFunc("/listings", a.createListing).Methods(http.MethodPost)
	m.HandleFunc("/listings/{id}", a.getListing).Methods(http.MethodGet)
	m.HandleFunc("/listings/{id}", a.updateListing).Methods(http.MethodPut)
	m.HandleFunc("/listings/{id}", a.deleteListing).Methods(http.MethodDelete)
	m.HandleFunc("/listings/{id}/publish", a.publish).Methods(http.MethodPost)
	m.HandleFunc("/listings/{id}/cancel", a.cancel).Methods(http.MethodPost)
	m.HandleFunc("/listings/{id}/archive", a.archive).Methods(http.MethodPost)

	m.HandleFunc("/health/livez", a.livez).Methods(http.MethodGet)
	m.HandleFunc("/debug/alerts", a.debugAlerts).Methods(http.MethodGet)
	if a.pool != nil {
		m.HandleFunc("/debug/identities", a.debugIdentities).Methods(http.MethodGet)
	}
	if p.Metrics != nil {
		m.Handle("/debug/metrics", p.Metrics)
	}

	m.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NotFound", "no route for "+r.Method+" "+r.URL.Path)
	})
	return m
}

type errorBody struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnw("writing response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{
		Error:     code,
		Message:   msg,
		Timestamp: build.Clock.Now().UTC(),
	})
}

var errBadRequest = errors.New("bad request")

// fail maps an error to its status and code. Order matters: ErrContentChanged
// also matches ErrInvalidState.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, "InternalServerError"

	switch {
	case errors.Is(err, errBadRequest):
		status, code = http.StatusBadRequest, "BadRequest"
	case errors.Is(err, listing.ErrInvalidUpdate):
		status, code = http.StatusBadRequest, "InvalidUpdate"
	case errors.Is(err, listing.ErrNotFound):
		status, code = http.StatusNotFound, "NotFound"
	case errors.Is(err, publisher.ErrContentChanged):
		status, code = http.StatusConflict, "ContentChanged"
	case errors.Is(err, publisher.ErrConcurrentPublish):
		status, code = http.StatusConflict, "ConcurrentPublish"
	case errors.Is(err, publisher.ErrTooLateToCancel):
		status, code = http.StatusConflict, "TooLateToCancel"
	case errors.Is(err, publisher.ErrInvalidState):
		status, code = http.StatusConflict, "InvalidState"
	case errors.Is(err, listing.ErrVersionConflict):
		status, code = http.StatusConflict, "VersionConflict"
	case errors.Is(err, listing.ErrAlreadyExists):
		status, code = http.StatusConflict, "AlreadyExists"
	}

	if status == http.StatusInternalServerError {
		log.Errorw("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, status, code, err.Error())
}

func decodeDraft(w http.ResponseWriter, r *http.Request) (listing.Draft, error) {
	var d listing.Draft
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&d); err != nil {
		return d, xerrors.Errorf("decoding listing: %s: %w", err, errBadRequest)
	}
	if err := validateDraft(d); err != nil {
		return d, err
	}
	return d, nil
}

func validateDraft(d listing.Draft) error {
	switch {
	case strings.TrimSpace(d.SellerID) == "":
		return xerrors.Errorf("sellerId is required: %w", errBadRequest)
	case strings.TrimSpace(d.Name) == "":
		return xerrors.Errorf("name is required: %w", errBadRequest)
	case d.PriceMinorUnits < 0:
		return xerrors.Errorf("priceMinorUnits must not be negative: %w", errBadRequest)
	case d.Stock < 0:
		return xerrors.Errorf("stock must not be negative: %w", errBadRequest)
	}
	return nil
}

func (a *api) listListings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f := listing.Filter{
		SellerID: q.Get("seller"),
		Stage:    listing.Stage(q.Get("stage")),
	}
	for _, s := range q["status"] {
		for _, st := range strings.Split(s, ",") {
			if !listing.Status(st).Valid() {
				fail(w, r, xerrors.Errorf("unknown status %q: %w", st, errBadRequest))
				return
			}
			f.Statuses = append(f.Statuses, listing.Status(st))
		}
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			fail(w, r, xerrors.Errorf("invalid limit %q: %w", l, errBadRequest))
			return
		}
		f.Limit = n
	}

	ls, err := a.store.List(r.Context(), f)
	if err != nil {
		fail(w, r, err)
		return
	}
	if ls == nil {
		ls = []*listing.Listing{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"listings": ls})
}

func (a *api) getListing(w http.ResponseWriter, r *http.Request) {
	l, err := a.store.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		fail(w, r, err)
		return
	}
	w.Header().Set("ETag", strconv.FormatUint(l.Version, 10))
	writeJSON(w, http.StatusOK, l)
}

func (a *api) createListing(w http.ResponseWriter, r *http.Request) {
	d, err := decodeDraft(w, r)
	if err != nil {
		fail(w, r, err)
		return
	}

	l := listing.New(d, build.Clock.Now())
	if err := a.store.Create(r.Context(), l); err != nil {
		fail(w, r, err)
		return
	}

	log.Infow("listing created", "listing", l.ID, "seller", l.SellerID)
	w.Header().Set("ETag", strconv.FormatUint(l.Version, 10))
	writeJSON(w, http.StatusCreated, l)
}

// ifMatch returns the version from an If-Match header, or 0 when absent.
func ifMatch(r *http.Request) (uint64, error) {
	h := strings.Trim(r.Header.Get("If-Match"), `"`)
	if h == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(h, 10, 64)
	if err != nil {
		return 0, xerrors.Errorf("invalid If-Match %q: %w", h, errBadRequest)
	}
	return v, nil
}

func (a *api) updateListing(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	want, err := ifMatch(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	d, err := decodeDraft(w, r)
	if err != nil {
		fail(w, r, err)
		return
	}

	l, err := listing.Mutate(r.Context(), a.store, id, func(l *listing.Listing) error {
		if want != 0 && l.Version != want {
			return xerrors.Errorf("listing %s is at version %d: %w", id, l.Version, listing.ErrVersionConflict)
		}
		if l.Status != listing.StatusDraft {
			return xerrors.Errorf("listing %s in status %s is not editable: %w", id, l.Status, publisher.ErrInvalidState)
		}
		if d.SellerID != l.SellerID {
			return xerrors.Errorf("sellerId is immutable: %w", errBadRequest)
		}
		l.ApplyDraft(d)
		return nil
	})
	if err != nil {
		fail(w, r, err)
		return
	}

	w.Header().Set("ETag", strconv.FormatUint(l.Version, 10))
	writeJSON(w, http.StatusOK, l)
}

func (a *api) deleteListing(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	want, err := ifMatch(r)
	if err != nil {
		fail(w, r, err)
		return
	}

	l, err := a.store.Get(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	if l.Status != listing.StatusDraft {
		fail(w, r, xerrors.Errorf("listing %s in status %s cannot be deleted: %w", id, l.Status, publisher.ErrInvalidState))
		return
	}
	if want == 0 {
		want = l.Version
	}

	if err := a.store.Delete(r.Context(), id, want); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Listing deleted successfully"})
}

func (a *api) publish(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := a.pub.Publish(r.Context(), id); err != nil {
		fail(w, r, err)
		return
	}
	a.respondCurrent(w, r, id, http.StatusAccepted)
}

func (a *api) cancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := a.pub.Cancel(r.Context(), id); err != nil {
		fail(w, r, err)
		return
	}
	a.respondCurrent(w, r, id, http.StatusOK)
}

func (a *api) archive(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := a.pub.Archive(r.Context(), id); err != nil {
		fail(w, r, err)
		return
	}
	a.respondCurrent(w, r, id, http.StatusOK)
}

func (a *api) respondCurrent(w http.ResponseWriter, r *http.Request, id string, status int) {
	l, err := a.store.Get(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, status, l)
}

func (a *api) livez(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "healthy",
		"version":    build.UserVersion(),
		"apiVersion": build.NodeAPIVersion.String(),
		"timestamp":  build.Clock.Now().UTC(),
	})
}

func (a *api) debugAlerts(w http.ResponseWriter, r *http.Request) {
	if a.alerts == nil {
		writeJSON(w, http.StatusOK, []alerting.Alert{})
		return
	}
	writeJSON(w, http.StatusOK, a.alerts.GetAlerts())
}

func (a *api) debugIdentities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.pool.Identities())
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := build.Clock.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		ctx := metrics.Tagged(r.Context(), metrics.Outcome, strconv.Itoa(sw.status))
		stats.Record(ctx, metrics.APIRequestDuration.M(metrics.SinceInMilliseconds(start)))
	})
}
