package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ds "github.com/ipfs/go-datastore"
	ds_sync "github.com/ipfs/go-datastore/sync"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/bazaarnet/bazaar/contentstore/localstore"
	"github.com/bazaarnet/bazaar/identity"
	"github.com/bazaarnet/bazaar/journal"
	"github.com/bazaarnet/bazaar/journal/alerting"
	"github.com/bazaarnet/bazaar/ledger"
	"github.com/bazaarnet/bazaar/ledger/memledger"
	"github.com/bazaarnet/bazaar/listing"
	"github.com/bazaarnet/bazaar/listing/dsstore"
	"github.com/bazaarnet/bazaar/metrics"
	"github.com/bazaarnet/bazaar/publisher"
)

var testInfo = ledger.Info{Network: "devnet", ContractAddress: "0x5fbdb2315678afecb367f032d93f642f64180aa3"}

type testServer struct {
	t     *testing.T
	srv   *httptest.Server
	store listing.Store
	pub   *publisher.Publisher
}

func newTestServer(t *testing.T) *testServer {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	d := ds_sync.MutexWrap(ds.NewMapDatastore())
	store := dsstore.New(d)
	led := memledger.New(testInfo, 1)
	go led.Run(ctx, 5*time.Millisecond)

	pool, err := identity.NewPool(ctx, d, []string{"0xaaa"}, nil, time.Second)
	require.NoError(t, err)

	j := journal.NilJournal()
	alerts := alerting.NewAlertingSystem(j)

	cfg := publisher.DefaultConfig()
	cfg.PollInterval = 5 * time.Millisecond
	pub := publisher.New(cfg, store, localstore.New(d), led, testInfo, pool, j, alerts)
	t.Cleanup(func() {
		require.NoError(t, pub.Stop(context.Background()))
	})

	exp, err := metrics.Exporter("bazaar_httpapi_test", promclient.NewRegistry())
	require.NoError(t, err)

	srv := httptest.NewServer(Handler(Params{
		Store:     store,
		Publisher: pub,
		Alerts:    alerts,
		Pool:      pool,
		Metrics:   exp,
	}))
	t.Cleanup(srv.Close)

	return &testServer{t: t, srv: srv, store: store, pub: pub}
}

func (ts *testServer) do(method, path string, body interface{}, hdr ...string) (*http.Response, []byte) {
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		enc, err := json.Marshal(b)
		require.NoError(ts.t, err)
		rd = bytes.NewReader(enc)
	}

	req, err := http.NewRequest(method, ts.srv.URL+path, rd)
	require.NoError(ts.t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(ts.t, err)
	defer resp.Body.Close() //nolint:errcheck

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(ts.t, err)
	return resp, buf.Bytes()
}

func (ts *testServer) create(name string) *listing.Listing {
	resp, body := ts.do(http.MethodPost, "/listings", listing.Draft{
		SellerID:        "seller-1",
		Name:            name,
		PriceMinorUnits: 1999,
		Stock:           3,
	})
	require.Equal(ts.t, http.StatusCreated, resp.StatusCode, string(body))

	var l listing.Listing
	require.NoError(ts.t, json.Unmarshal(body, &l))
	return &l
}

func decodeError(t *testing.T, body []byte) errorBody {
	var eb errorBody
	require.NoError(t, json.Unmarshal(body, &eb))
	require.NotEmpty(t, eb.Message)
	require.False(t, eb.Timestamp.IsZero())
	return eb
}

func TestCreateAndGet(t *testing.T) {
	ts := newTestServer(t)

	l := ts.create("Lamp")
	require.Equal(t, listing.StatusDraft, l.Status)
	require.Equal(t, uint64(1), l.Version)
	require.Equal(t, listing.DefaultCurrency, l.Currency)

	resp, body := ts.do(http.MethodGet, "/listings/"+l.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "1", resp.Header.Get("ETag"))

	var got listing.Listing
	require.NoError(t, json.Unmarshal(body, &got))
	require.Equal(t, "Lamp", got.Name)
	require.Equal(t, int64(1999), got.PriceMinorUnits)

	resp, body = ts.do(http.MethodGet, "/listings/lst_missing", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "NotFound", decodeError(t, body).Error)
}

func TestCreateValidation(t *testing.T) {
	ts := newTestServer(t)

	cases := map[string]interface{}{
		"no seller":      listing.Draft{Name: "x"},
		"no name":        listing.Draft{SellerID: "s"},
		"negative price": listing.Draft{SellerID: "s", Name: "x", PriceMinorUnits: -1},
		"negative stock": listing.Draft{SellerID: "s", Name: "x", Stock: -1},
		"bad json":       "{",
		"unknown field":  `{"sellerId":"s","name":"x","status":"published"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			resp, b := ts.do(http.MethodPost, "/listings", body)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			require.Equal(t, "BadRequest", decodeError(t, b).Error)
		})
	}
}

func TestList(t *testing.T) {
	ts := newTestServer(t)

	ts.create("A")
	ts.create("B")
	ts.create("C")

	var out struct {
		Listings []*listing.Listing `json:"listings"`
	}

	resp, body := ts.do(http.MethodGet, "/listings?status=draft&seller=seller-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out.Listings, 3)

	resp, body = ts.do(http.MethodGet, "/listings?limit=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out.Listings, 2)

	resp, body = ts.do(http.MethodGet, "/listings?status=published", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `"listings":[]`)

	resp, _ = ts.do(http.MethodGet, "/listings?status=sold", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(http.MethodGet, "/listings?limit=-1", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdate(t *testing.T) {
	ts := newTestServer(t)
	l := ts.create("Chair")

	d := listing.Draft{SellerID: "seller-1", Name: "Armchair", PriceMinorUnits: 2500, Stock: 1}

	resp, body := ts.do(http.MethodPut, "/listings/"+l.ID, d, "If-Match", `"1"`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.Equal(t, "2", resp.Header.Get("ETag"))

	// stale version
	resp, body = ts.do(http.MethodPut, "/listings/"+l.ID, d, "If-Match", "1")
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "VersionConflict", decodeError(t, body).Error)

	d.SellerID = "seller-2"
	resp, _ = ts.do(http.MethodPut, "/listings/"+l.ID, d)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	got, err := ts.store.Get(context.Background(), l.ID)
	require.NoError(t, err)
	require.Equal(t, "Armchair", got.Name)
	require.Equal(t, "seller-1", got.SellerID)
}

func TestPublishFlow(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	l := ts.create("Desk")

	resp, body := ts.do(http.MethodPost, "/listings/"+l.ID+"/publish", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	done, err := ts.pub.Wait(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, listing.StatusPublished, done.Status)

	// published listings are neither editable nor deletable
	resp, body = ts.do(http.MethodPut, "/listings/"+l.ID, listing.Draft{SellerID: "seller-1", Name: "x"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "InvalidState", decodeError(t, body).Error)

	resp, _ = ts.do(http.MethodDelete, "/listings/"+l.ID, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = ts.do(http.MethodPost, "/listings/"+l.ID+"/publish", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "InvalidState", decodeError(t, body).Error)

	resp, _ = ts.do(http.MethodPost, "/listings/"+l.ID+"/cancel", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = ts.do(http.MethodPost, "/listings/"+l.ID+"/archive", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var archived listing.Listing
	require.NoError(t, json.Unmarshal(body, &archived))
	require.Equal(t, listing.StatusArchived, archived.Status)
	require.NotNil(t, archived.LedgerRecord)
}

func TestDelete(t *testing.T) {
	ts := newTestServer(t)
	l := ts.create("Rug")

	resp, _ := ts.do(http.MethodDelete, "/listings/"+l.ID, nil, "If-Match", "7")
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body := ts.do(http.MethodDelete, "/listings/"+l.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "Listing deleted successfully")

	resp, _ = ts.do(http.MethodGet, "/listings/"+l.ID, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndDebug(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(http.MethodGet, "/health/livez", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `"status":"healthy"`)

	resp, body = ts.do(http.MethodGet, "/debug/identities", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "0xaaa")

	resp, _ = ts.do(http.MethodGet, "/debug/alerts", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// request durations are recorded after the response is written
	require.Eventually(t, func() bool {
		resp, body := ts.do(http.MethodGet, "/debug/metrics", nil)
		return resp.StatusCode == http.StatusOK && strings.Contains(string(body), "bazaar_httpapi_test_api_request_duration_ms")
	}, 5*time.Second, 50*time.Millisecond)

	resp, body = ts.do(http.MethodGet, "/nope", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "NotFound", decodeError(t, body).Error)
}

func TestClient(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	c := NewClient(ts.srv.URL)

	l, err := c.Create(ctx, listing.Draft{SellerID: "seller-9", Name: "Vase", PriceMinorUnits: 100})
	require.NoError(t, err)
	require.Equal(t, listing.StatusDraft, l.Status)

	_, err = c.Create(ctx, listing.Draft{Name: "no seller"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusBadRequest, apiErr.Status)
	require.Equal(t, "BadRequest", apiErr.Code)

	require.NoError(t, c.Publish(ctx, l.ID))

	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	done, err := c.WaitSettled(wctx, l.ID, 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, listing.StatusPublished, done.Status)
	require.True(t, done.MetadataCID.Defined())

	_, err = c.Get(ctx, "lst_missing")
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "NotFound", apiErr.Code)
}
