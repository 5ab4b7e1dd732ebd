package dfadmin

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamfactorysoftware/df-admin-data/apierror"
	"github.com/dreamfactorysoftware/df-admin-data/cache"
	"github.com/dreamfactorysoftware/df-admin-data/internal/testserver"
	"github.com/dreamfactorysoftware/df-admin-data/resource"
)

func newTestSession(t *testing.T, seedServices int) (*Session, *testserver.Server) {
	t.Helper()

	mock := testserver.New()
	recs := make([]map[string]any, 0, seedServices)
	for i := 1; i <= seedServices; i++ {
		recs = append(recs, map[string]any{
			"name":  fmt.Sprintf("service_%d", i),
			"label": fmt.Sprintf("Service %d", i),
			"type":  "mysql",
		})
	}
	mock.Seed("system/service", recs)

	ts := httptest.NewServer(mock)
	t.Cleanup(ts.Close)

	sess, err := NewSession(Config{
		BaseURL:         ts.URL + "/api/v2",
		FreshFor:        time.Minute,
		ExpireAfter:     5 * time.Minute,
		MaxCacheEntries: 64,
		MaxRetries:      2,
		RetryBaseDelay:  time.Millisecond,
		RetryMaxDelay:   5 * time.Millisecond,
		SearchDebounce:  20 * time.Millisecond,
		RequestTimeout:  5 * time.Second,
	})
	require.NoError(t, err)
	return sess, mock
}

func TestUseListCachesRepeatedQueries(t *testing.T) {
	sess, mock := newTestSession(t, 3)
	params := cache.Params{Limit: 25}

	h, err := sess.UseList(context.Background(), "system/service", params)
	require.NoError(t, err)
	<-h.Ready()

	require.NoError(t, h.Err())
	assert.Equal(t, 3, h.Data().Total)
	assert.Len(t, h.Data().Records, 3)
	assert.Equal(t, 1, mock.Requests())

	again, err := sess.UseList(context.Background(), "system/service", params)
	require.NoError(t, err)
	<-again.Ready()

	assert.Equal(t, 1, mock.Requests(), "fresh entry must be served from cache")
}

func TestUseListUnknownResource(t *testing.T) {
	sess, _ := newTestSession(t, 0)
	_, err := sess.UseList(context.Background(), "system/bogus", cache.Params{})
	assert.ErrorContains(t, err, "unknown resource")
}

func TestUseRecord(t *testing.T) {
	sess, _ := newTestSession(t, 3)

	h, err := sess.UseRecord(context.Background(), "system/service", 2)
	require.NoError(t, err)
	<-h.Ready()

	rec := h.Data()
	require.NotNil(t, rec)
	assert.Equal(t, 2, rec.RecordID())
	assert.Equal(t, "service_2", rec.(*resource.Service).Name)
}

func TestCreateRecordCommitsAndKeepsPageVisible(t *testing.T) {
	sess, mock := newTestSession(t, 3)
	h, err := sess.UseList(context.Background(), "system/service", cache.Params{Limit: 25})
	require.NoError(t, err)
	<-h.Ready()

	m, err := sess.UseMutate("system/service")
	require.NoError(t, err)
	id, err := m.CreateRecord(context.Background(), &resource.Service{Name: "newsvc", Type: "mysql"})
	require.NoError(t, err)

	assert.Equal(t, 4, id)
	assert.Len(t, mock.Records("system/service"), 4)

	page := h.Data()
	require.Len(t, page.Records, 4, "the reconciled page stays visible after commit")
	assert.Equal(t, 4, page.Total)
	ids := make([]int, 0, len(page.Records))
	for _, rec := range page.Records {
		assert.Positive(t, rec.RecordID(), "no placeholder id survives reconciliation")
		ids = append(ids, rec.RecordID())
	}
	assert.Contains(t, ids, 4, "the server-assigned id lands in the cached page")

	e, ok := sess.store.Get(h.Key())
	require.True(t, ok)
	assert.Equal(t, cache.StatusStale, e.Status(time.Now()),
		"commit demotes the page so the next read revalidates")
}

func TestCreateValidationFailsBeforeTheWire(t *testing.T) {
	sess, mock := newTestSession(t, 0)
	m, err := sess.UseMutate("system/service")
	require.NoError(t, err)

	_, err = m.CreateRecord(context.Background(), &resource.Service{Name: "bad name"})

	var verr *apierror.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 0, mock.Requests())
}

func TestDeleteRollsBackOnServerError(t *testing.T) {
	sess, mock := newTestSession(t, 3)
	h, err := sess.UseList(context.Background(), "system/service", cache.Params{Limit: 25})
	require.NoError(t, err)
	<-h.Ready()

	mock.FailNext(1, http.StatusInternalServerError)
	m, err := sess.UseMutate("system/service")
	require.NoError(t, err)
	err = m.DeleteRecord(context.Background(), 2)

	var herr *apierror.HTTPError
	require.ErrorAs(t, err, &herr)
	page := h.Data()
	assert.Equal(t, 3, page.Total, "rollback must restore the cached page")
	assert.Len(t, page.Records, 3)
	assert.Len(t, mock.Records("system/service"), 3)
}

func TestUpdateFieldsPatchesServer(t *testing.T) {
	sess, mock := newTestSession(t, 3)
	m, err := sess.UseMutate("system/service")
	require.NoError(t, err)

	err = m.UpdateFields(context.Background(), 1, func(r resource.Record) {
		r.(*resource.Service).Label = "Renamed"
	})

	require.NoError(t, err)
	assert.Equal(t, "Renamed", mock.Records("system/service")[0]["label"])
}

func TestTableSearchFiltersServerSide(t *testing.T) {
	sess, _ := newTestSession(t, 5)
	tbl, err := sess.Table("system/service")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return tbl.Snapshot().Pagination.Total == 5
	}, time.Second, 5*time.Millisecond)

	tbl.SetSearch("_3")

	require.Eventually(t, func() bool {
		snap := tbl.Snapshot()
		return len(snap.Data.Records) == 1 &&
			snap.Data.Records[0].(*resource.Service).Name == "service_3"
	}, time.Second, 5*time.Millisecond)
}

func TestResourcesListsRegistry(t *testing.T) {
	names := Resources()
	assert.Contains(t, names, "system/service")
	assert.Contains(t, names, "system/role")
	assert.True(t, sort.StringsAreSorted(names))
}
