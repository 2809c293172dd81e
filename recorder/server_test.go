package recorder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededServer(t *testing.T) (*httptest.Server, time.Time) {
	t.Helper()
	store := openTestStore(t)
	at := time.Now().Add(-time.Hour).Truncate(time.Second)
	for i, session := range []string{"a", "a", "b"} {
		_, err := store.Insert(context.Background(), Reading{
			Session:   session,
			Lux:       float64(100 * (i + 1)),
			Proximity: uint16(i),
			CreatedAt: at.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
	srv := httptest.NewServer(NewRouter(store))
	t.Cleanup(srv.Close)
	return srv, at
}

func getJSON(t *testing.T, u string, v any) int {
	t.Helper()
	res, err := http.Get(u)
	require.NoError(t, err)
	defer res.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(res.Body).Decode(v))
	}
	return res.StatusCode
}

func TestRouter_Latest(t *testing.T) {
	srv, _ := seededServer(t)
	var r Reading
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/v1/readings/latest", &r))
	assert.Equal(t, int64(3), r.ID)
	assert.Equal(t, "b", r.Session)
	assert.Equal(t, 300.0, r.Lux)
}

func TestRouter_LatestEmpty(t *testing.T) {
	srv := httptest.NewServer(NewRouter(openTestStore(t)))
	defer srv.Close()
	var msg map[string]string
	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/api/v1/readings/latest", &msg))
	assert.Equal(t, ErrNoReadings.Error(), msg["message"])
}

func TestRouter_Readings(t *testing.T) {
	srv, at := seededServer(t)

	var readings []Reading
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/v1/readings", &readings))
	assert.Len(t, readings, 3)

	readings = nil
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/v1/readings?session=a", &readings))
	assert.Len(t, readings, 2)

	q := url.Values{}
	q.Set("from", at.Add(time.Minute).Format(time.RFC3339))
	q.Set("to", at.Add(2*time.Minute).Format(time.RFC3339))
	readings = nil
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/v1/readings?"+q.Encode(), &readings))
	require.Len(t, readings, 2)
	assert.Equal(t, 200.0, readings[0].Lux)

	q.Set("from", at.Add(time.Hour).Format(time.RFC3339))
	readings = nil
	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/api/v1/readings?"+q.Encode(), nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/api/v1/readings?from=yesterday", nil))
}

func TestRouter_EmptyRangeIsArray(t *testing.T) {
	srv := httptest.NewServer(NewRouter(openTestStore(t)))
	defer srv.Close()
	res, err := http.Get(srv.URL + "/api/v1/readings")
	require.NoError(t, err)
	defer res.Body.Close()
	var raw json.RawMessage
	require.NoError(t, json.NewDecoder(res.Body).Decode(&raw))
	assert.JSONEq(t, "[]", string(raw))
}

func TestRouter_Graph(t *testing.T) {
	srv, _ := seededServer(t)
	res, err := http.Get(srv.URL + "/graph")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "text/html", res.Header.Get("Content-Type"))

	var id map[string]string
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/id", &id))
	assert.Equal(t, "lightprox recorder", id["service_name"])
}
