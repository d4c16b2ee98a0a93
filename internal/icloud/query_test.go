package icloud

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/apperror"
)

func newTestQuery(t *testing.T, handler http.HandlerFunc) *Query {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	session := NewSession("user@example.com", "hunter2", "")
	client := NewClient(server.Client(), session, nil, nil)
	client.sleepFunc = func(context.Context, time.Duration) error { return nil }

	return NewQuery(client, server.URL)
}

func TestQuery_QueryOnce_StopsWhenMarkerEmpty(t *testing.T) {
	calls := 0

	q := newTestQuery(t, func(w http.ResponseWriter, r *http.Request) {
		calls++

		resp := queryResponseBody{Records: []cplRecord{{RecordName: "rec-1"}}}

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})

	recs, err := q.queryOnce(context.Background(), "CPLAsset", nil, nil)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
	assert.Equal(t, 1, calls)
}

func TestQuery_QueryOnce_FollowsMarkerAcrossPages(t *testing.T) {
	calls := 0

	q := newTestQuery(t, func(w http.ResponseWriter, r *http.Request) {
		var req queryRequestBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		calls++

		resp := queryResponseBody{Records: []cplRecord{{RecordName: req.ContinuationMarker + "-or-first"}}}
		if calls == 1 {
			resp.ContinuationMarker = "marker-2"
		}

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})

	recs, err := q.queryOnce(context.Background(), "CPLAsset", nil, nil)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 2, calls)
}

func TestQuery_QueryOnce_ApproachingCeilingReturnsShardSignal(t *testing.T) {
	bigPage := make([]cplRecord, pageSize)
	for i := range bigPage {
		bigPage[i] = cplRecord{RecordName: "rec"}
	}

	q := newTestQuery(t, func(w http.ResponseWriter, r *http.Request) {
		resp := queryResponseBody{Records: bigPage, ContinuationMarker: "keep-going"}

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})

	_, err := q.queryOnce(context.Background(), "CPLAsset", nil, nil)
	require.Error(t, err)

	var approaching errApproachingCeiling
	assert.ErrorAs(t, err, &approaching)
}

func TestQuery_WarmUp_SucceedsOnEmptyResult(t *testing.T) {
	q := newTestQuery(t, func(w http.ResponseWriter, r *http.Request) {
		resp := queryResponseBody{}

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})

	assert.NoError(t, q.WarmUp(context.Background()))
}

func TestQuery_WarmUp_ToleratesApproachingCeiling(t *testing.T) {
	bigPage := make([]cplRecord, pageSize)
	for i := range bigPage {
		bigPage[i] = cplRecord{RecordName: "rec"}
	}

	q := newTestQuery(t, func(w http.ResponseWriter, r *http.Request) {
		resp := queryResponseBody{Records: bigPage, ContinuationMarker: "keep-going"}

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})

	assert.NoError(t, q.WarmUp(context.Background()))
}

func TestQuery_WarmUp_WrapsHardFailureAsAuthError(t *testing.T) {
	q := newTestQuery(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	err := q.WarmUp(context.Background())
	require.Error(t, err)

	var appErr *apperror.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperror.KindAuthError, appErr.Kind())
}
