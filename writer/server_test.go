package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"wuyrush.io/wave/common/identity"
	"wuyrush.io/wave/common/metrics"
	mw "wuyrush.io/wave/common/middleware"
	cst "wuyrush.io/wave/constants"
	se "wuyrush.io/wave/errors"
	md "wuyrush.io/wave/models"
	st "wuyrush.io/wave/stores"
)

var (
	t0     = time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	secret = []byte("0123456789abcdef0123456789abcdef")
)

type fixture struct {
	wrt *writer
	dao *st.RedisWaveDAO
	mr  *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	mr.SetTime(t0)
	db := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { db.Close() })
	dao := st.NewRedisWaveDAO(db, st.NewAllyCache(db, 16, time.Minute))
	wrt := &writer{
		DAO: dao,
		ID:  identity.New(secret),
		M:   metrics.New(serviceName),
		Now: func() time.Time { return t0 },
	}
	wrt.SetupRoutes(mw.RateLimiter(100, 100), 1<<14)
	// bob sees alice's waves
	_, _ = mr.SAdd("allies:bob", "alice")
	return &fixture{wrt: wrt, dao: dao, mr: mr}
}

func (f *fixture) do(t *testing.T, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var b []byte
	if body != nil {
		var err error
		b, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	if userID != "" {
		cookie, err := f.wrt.ID.Encode(userID)
		require.Nil(t, err)
		req.AddCookie(&http.Cookie{Name: cst.SessionName, Value: cookie})
	}
	wrec := httptest.NewRecorder()
	f.wrt.ServeHTTP(wrec, req)
	return wrec
}

func errCode(t *testing.T, wrec *httptest.ResponseRecorder) se.ErrCode {
	t.Helper()
	var b se.Body
	require.NoError(t, json.NewDecoder(wrec.Body).Decode(&b))
	return b.Code
}

func TestHandleCreateWave(t *testing.T) {
	tcs := []struct {
		name      string
		userID    string
		body      interface{}
		expStatus int
		expCode   se.ErrCode
	}{
		{
			name:      "HappyCase",
			userID:    "alice",
			body:      md.Draft{Kind: md.KindText, TextContent: "hello"},
			expStatus: http.StatusCreated,
		},
		{
			name:      "NotSignedIn",
			body:      md.Draft{Kind: md.KindText, TextContent: "hello"},
			expStatus: http.StatusUnauthorized,
			expCode:   se.ErrCodeUnauthorized,
		},
		{
			name:      "InvalidDraft",
			userID:    "alice",
			body:      md.Draft{Kind: md.KindPhoto},
			expStatus: http.StatusBadRequest,
			expCode:   se.ErrCodeBadRequest,
		},
		{
			name:      "MalformedBody",
			userID:    "alice",
			body:      "not a draft",
			expStatus: http.StatusBadRequest,
			expCode:   se.ErrCodeBadRequest,
		},
	}
	for _, c := range tcs {
		t.Run(c.name, func(t *testing.T) {
			f := newFixture(t)
			wrec := f.do(t, http.MethodPost, "/waves", c.userID, c.body)
			require.Equal(t, c.expStatus, wrec.Code)
			if c.expCode != "" {
				assert.Equal(t, c.expCode, errCode(t, wrec))
				return
			}
			var w md.Wave
			require.NoError(t, json.NewDecoder(wrec.Body).Decode(&w))
			assert.Equal(t, "alice", w.AuthorID)
			assert.True(t, t0.Add(md.TTL).Equal(w.ExpiresAt))
			_, err := f.dao.Get(w.ID, t0)
			assert.Nil(t, err)
		})
	}
}

func TestHandleRecordViewAndReact(t *testing.T) {
	f := newFixture(t)
	w, err := f.dao.Create("alice", &md.Draft{Kind: md.KindText, TextContent: "hi"}, t0)
	require.Nil(t, err)

	wrec := f.do(t, http.MethodPost, "/waves/"+w.ID+"/views", "bob", nil)
	assert.Equal(t, http.StatusNoContent, wrec.Code)
	wrec = f.do(t, http.MethodPost, "/waves/"+w.ID+"/views", "bob", nil)
	assert.Equal(t, http.StatusNoContent, wrec.Code)
	wrec = f.do(t, http.MethodPost, "/waves/"+w.ID+"/reactions", "bob", nil)
	assert.Equal(t, http.StatusNoContent, wrec.Code)

	got, err := f.dao.Get(w.ID, t0)
	require.Nil(t, err)
	assert.Equal(t, uint64(1), got.ViewCount)
	assert.True(t, got.ReactedBy("bob"))

	// carol is no ally of alice
	wrec = f.do(t, http.MethodPost, "/waves/"+w.ID+"/views", "carol", nil)
	assert.Equal(t, http.StatusForbidden, wrec.Code)
	assert.Equal(t, se.ErrCodeForbidden, errCode(t, wrec))

	wrec = f.do(t, http.MethodPost, "/waves/not-a-ksuid/views", "bob", nil)
	assert.Equal(t, http.StatusBadRequest, wrec.Code)
}

func TestHandleDeleteWave(t *testing.T) {
	f := newFixture(t)
	w, err := f.dao.Create("alice", &md.Draft{Kind: md.KindText, TextContent: "hi"}, t0)
	require.Nil(t, err)

	wrec := f.do(t, http.MethodDelete, "/waves/"+w.ID, "bob", nil)
	assert.Equal(t, http.StatusForbidden, wrec.Code)
	wrec = f.do(t, http.MethodDelete, "/waves/"+w.ID, "alice", nil)
	assert.Equal(t, http.StatusNoContent, wrec.Code)
	wrec = f.do(t, http.MethodDelete, "/waves/"+w.ID, "alice", nil)
	assert.Equal(t, http.StatusNotFound, wrec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/waves", "alice", md.Draft{Kind: md.KindText, TextContent: "hello"})
	wrec := f.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, wrec.Code)
	assert.Contains(t, wrec.Body.String(), `wave_operations_total{op="create",outcome="ok"} 1`)
}
