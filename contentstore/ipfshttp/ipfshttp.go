// Package ipfshttp stores metadata blocks on an IPFS node through its HTTP
// RPC API.
package ipfshttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"

	"github.com/bazaarnet/bazaar/contentstore"
)

var log = logging.Logger("ipfshttp")

type Client struct {
	api  string
	http *http.Client
}

var _ contentstore.Client = (*Client)(nil)

// New returns a client for the RPC API at apiAddr, e.g. http://127.0.0.1:5001.
func New(apiAddr string, timeout time.Duration) *Client {
	return &Client{
		api:  strings.TrimRight(apiAddr, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

type blockPutResponse struct {
	Key  string
	Size int
}

func (c *Client) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	want, err := contentstore.ComputeCID(data)
	if err != nil {
		return cid.Undef, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "metadata")
	if err != nil {
		return cid.Undef, err
	}
	if _, err := fw.Write(data); err != nil {
		return cid.Undef, err
	}
	if err := mw.Close(); err != nil {
		return cid.Undef, err
	}

	q := url.Values{}
	q.Set("cid-codec", "dag-cbor")
	q.Set("mhtype", "sha2-256")
	q.Set("pin", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.api+"/api/v0/block/put?"+q.Encode(), &body)
	if err != nil {
		return cid.Undef, xerrors.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return cid.Undef, &contentstore.UploadError{Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	rb, err := io.ReadAll(resp.Body)
	if err != nil {
		return cid.Undef, &contentstore.UploadError{Err: err}
	}

	switch {
	case resp.StatusCode >= 500:
		return cid.Undef, &contentstore.UploadError{Err: fmt.Errorf("status %d: %s", resp.StatusCode, rb)}
	case resp.StatusCode != http.StatusOK:
		return cid.Undef, xerrors.Errorf("block/put: status %d: %s", resp.StatusCode, rb)
	}

	var out blockPutResponse
	if err := json.Unmarshal(rb, &out); err != nil {
		return cid.Undef, xerrors.Errorf("decoding block/put response: %w", err)
	}
	got, err := cid.Decode(out.Key)
	if err != nil {
		return cid.Undef, xerrors.Errorf("parsing returned cid %q: %w", out.Key, err)
	}
	if !got.Equals(want) {
		return cid.Undef, xerrors.Errorf("ipfs node returned %s, expected %s", got, want)
	}

	log.Debugw("uploaded metadata block", "cid", got, "size", out.Size)
	return got, nil
}
