package locate

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/rotisserie/eris"

	"github.com/jalad-shrimali/cdr-trace/cdr"
)

// DefaultBaseURL is the public cell-tower lookup endpoint.
const DefaultBaseURL = "http://vip.cellocation.com/cell/effgdsil.php"

// CountryCode is the fixed mobile country code sent with every lookup.
const CountryCode = 460

// Lookuper resolves one key. Implementations must be safe for concurrent use.
type Lookuper interface {
	Lookup(ctx context.Context, key cdr.Key) (cdr.Resolution, error)
}

// Client talks to the HTTP lookup service.
type Client struct {
	BaseURL string
	MNC     int
	HTTP    *http.Client
}

func NewClient(baseURL string, mnc int, hc *http.Client) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{BaseURL: baseURL, MNC: mnc, HTTP: hc}
}

func (c *Client) endpoint(key cdr.Key) (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("mcc", strconv.Itoa(CountryCode))
	q.Set("mnc", strconv.Itoa(c.MNC))
	q.Set("lac", key.LAC)
	q.Set("ci", key.CI)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// number accepts a JSON number, a numeric string, an empty string or null.
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*n = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*n = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*n = number(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*n = number(f)
	return nil
}

type response struct {
	ErrCode number `json:"errcode"`
	Lat     number `json:"lat"`
	Lon     number `json:"lon"`
	Radius  number `json:"radius"`
	Address string `json:"address"`
}

// Lookup issues one GET. Throttling, 5xx and transport errors are
// retryable; other failures are wrapped as permanent.
func (c *Client) Lookup(ctx context.Context, key cdr.Key) (cdr.Resolution, error) {
	endpoint, err := c.endpoint(key)
	if err != nil {
		return cdr.Resolution{}, backoff.Permanent(eris.Wrap(err, "lookup url"))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return cdr.Resolution{}, backoff.Permanent(eris.Wrap(err, "lookup request"))
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return cdr.Resolution{}, eris.Wrap(err, "lookup")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		err := eris.Errorf("lookup status %d", resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return cdr.Resolution{}, err
		}
		return cdr.Resolution{}, backoff.Permanent(err)
	}

	var data response
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return cdr.Resolution{}, backoff.Permanent(eris.Wrap(err, "decode lookup response"))
	}
	return cdr.Resolution{
		Code:    int(data.ErrCode),
		Lat:     float64(data.Lat),
		Lon:     float64(data.Lon),
		Radius:  float64(data.Radius),
		Address: data.Address,
	}, nil
}
