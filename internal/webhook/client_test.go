package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reserva/internal/model"
	"reserva/internal/panel"
)

func TestLoadAvailabilityWithCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/availability-config", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		_, _ = w.Write([]byte(`{"defaultTimeSlots":["18:00"],"blockedDates":["2025-12-25"],"blockedWeekdays":[0],"exceptions":[{"date":"2025-12-24","timeSlots":[],"message":"closed"}]}`))
	}))
	defer srv.Close()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	c := NewClient(srv.URL, "secret", Endpoints{}, time.Second)
	c.UseRedisCache(rdb, time.Minute)

	ctx := context.Background()
	cfg, err := c.LoadAvailability(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"18:00"}, cfg.DefaultTimeSlots)
	assert.Equal(t, model.MustDate(2025, 12, 25), cfg.BlockedDates[0])
	assert.Equal(t, "closed", cfg.Exceptions[0].Message)

	again, err := c.LoadAvailability(ctx)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
	assert.Equal(t, int32(1), hits.Load())

	require.NoError(t, c.InvalidateCache(ctx))
	_, err = c.LoadAvailability(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestCheckCapacity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "2025-06-14", q.Get("date"))
		assert.Equal(t, "12", q.Get("partySize"))
		assert.Equal(t, "near_stage", q.Get("location"))
		_, _ = w.Write([]byte(`{"available":true,"slotsUsed":1}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", Endpoints{}, time.Second)
	res, err := c.CheckCapacity(context.Background(), panel.Query{
		Date: model.MustDate(2025, 6, 14), PartySize: 12, Location: model.LocationNearStage,
	})
	require.NoError(t, err)
	assert.Equal(t, panel.Result{Available: true, SlotsUsed: 1}, res)
}

func TestSubmit(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", Endpoints{Submit: "/api/forms"}, time.Second)
	rec := model.SubmissionRecord{FormID: "abc", Timestamp: "2025-06-10T09:00:00.000Z"}
	require.NoError(t, c.Submit(context.Background(), rec))

	assert.Equal(t, "abc", got["formId"])
	assert.Contains(t, got, "personalData")
	assert.Contains(t, got, "reservationType")
	assert.Contains(t, got, "reservationDetails")
}

func TestSubmitRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"message":"duplicate"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", Endpoints{}, time.Second)
	err := c.Submit(context.Background(), model.SubmissionRecord{FormID: "x"})
	assert.EqualError(t, err, "duplicate")
}

func TestNon2xxIsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", Endpoints{}, time.Second)
	err := c.HealthCheck(context.Background())

	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.Status)
	assert.Equal(t, "maintenance", httpErr.Body)

	_, err = c.CheckCapacity(context.Background(), panel.Query{})
	assert.True(t, errors.As(err, &httpErr))
}
