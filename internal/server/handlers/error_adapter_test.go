package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/3leaps/runwatch/internal/errors"
	"github.com/3leaps/runwatch/pkg/checkstore"
)

type fakeHistory struct {
	records []checkstore.Record
	err     error
}

func (f fakeHistory) List() ([]checkstore.Record, error) {
	return f.records, f.err
}

func (f fakeHistory) Get(id string) (*checkstore.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	for i := range f.records {
		if f.records[i].CheckID == id {
			return &f.records[i], nil
		}
	}
	return nil, fmt.Errorf("check %s: %w", id, checkstore.ErrNotFound)
}

func checkRouter(src HistorySource) http.Handler {
	r := chi.NewRouter()
	r.Get("/v1/checks", ChecksHandler(src))
	r.Get("/v1/checks/{id}", CheckHandler(src))
	return r
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apperrors.HTTPError {
	t.Helper()
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestCheckHandler_NotFoundEnvelope(t *testing.T) {
	src := fakeHistory{records: []checkstore.Record{{CheckID: "c-1", State: checkstore.StateSuccess}}}

	req := httptest.NewRequest(http.MethodGet, "/v1/checks/missing", nil)
	req = req.WithContext(apperrors.WithRequestID(req.Context(), "req-42"))
	rec := httptest.NewRecorder()
	checkRouter(src).ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	herr := decodeError(t, rec)
	assert.Equal(t, apperrors.CodeNotFound, herr.Code)
	assert.Equal(t, "check missing not found", herr.Message)
	assert.Equal(t, "req-42", herr.RequestID)
}

func TestCheckHandler_StoreFailureIsInternal(t *testing.T) {
	src := fakeHistory{err: errors.New("disk unreadable")}

	rec := httptest.NewRecorder()
	checkRouter(src).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/checks/c-1", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, apperrors.CodeInternal, decodeError(t, rec).Code)
}

func TestChecksHandler_BadLimit(t *testing.T) {
	for _, limit := range []string{"abc", "-1"} {
		t.Run(limit, func(t *testing.T) {
			rec := httptest.NewRecorder()
			checkRouter(fakeHistory{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/checks?limit="+limit, nil))

			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, apperrors.CodeInvalidArgument, decodeError(t, rec).Code)
		})
	}
}

func TestDurationsHandler_BeforeFirstCheck(t *testing.T) {
	rec := httptest.NewRecorder()
	DurationsHandler(&LatestReport{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/durations", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "no check has completed yet", decodeError(t, rec).Message)
}

func TestSetHTTPErrorResponder(t *testing.T) {
	t.Cleanup(ResetHTTPErrorResponder)

	var captured error
	SetHTTPErrorResponder(func(w http.ResponseWriter, r *http.Request, err error) {
		captured = err
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	checkRouter(fakeHistory{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/checks/c-9", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	var appErr *apperrors.AppError
	require.ErrorAs(t, captured, &appErr)
	assert.Equal(t, http.StatusNotFound, appErr.Status)

	SetHTTPErrorResponder(nil)
	rec = httptest.NewRecorder()
	checkRouter(fakeHistory{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/checks/c-9", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code, "nil restores the JSON responder")
}
