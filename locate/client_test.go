package locate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cenkalti/backoff/v4"

	"github.com/jalad-shrimali/cdr-trace/cdr"
)

func TestClientQueryAndDecode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("mcc") != "460" || q.Get("mnc") != "1" || q.Get("lac") != "4301" || q.Get("ci") != "20986" {
			http.Error(w, "bad query "+r.URL.RawQuery, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"errcode":"10001","lat":"","lon":null,"radius":"0","address":""}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 1, srv.Client())
	res, err := c.Lookup(context.Background(), cdr.Key{LAC: "4301", CI: "20986"})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if res.Code != cdr.CodeNoResult || res.Lat != 0 || res.Lon != 0 || res.Address != "" {
		t.Fatalf("unexpected resolution %+v", res)
	}
}

func TestClientErrorClassification(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		permanent bool
	}{
		{"throttled", http.StatusTooManyRequests, "", false},
		{"server", http.StatusBadGateway, "", false},
		{"client", http.StatusForbidden, "", true},
		{"garbage", http.StatusOK, "<html>", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, 0, srv.Client()).Lookup(context.Background(), cdr.Key{LAC: "1", CI: "2"})
			if err == nil {
				t.Fatalf("expected an error")
			}
			var perm *backoff.PermanentError
			if got := errors.As(err, &perm); got != tc.permanent {
				t.Fatalf("permanent = %v, want %v (%v)", got, tc.permanent, err)
			}
		})
	}
}

func TestNewClientDefaults(t *testing.T) {
	c := NewClient("  ", 0, nil)
	if c.BaseURL != DefaultBaseURL || c.HTTP == nil {
		t.Fatalf("defaults not applied: %+v", c)
	}
}
