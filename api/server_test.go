package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"trustedcircle/circle"
	"trustedcircle/crypto"
	"trustedcircle/proposal"
	"trustedcircle/storage"
	"trustedcircle/validator"
)

func testAddress(t *testing.T, b byte) string {
	t.Helper()
	raw := make([]byte, 20)
	raw[19] = b
	addr, err := crypto.NewAddress(crypto.CirclePrefix, raw)
	require.NoError(t, err)
	return addr.String()
}

func newTestServer(t *testing.T, admin string) *Server {
	t.Helper()
	db := storage.NewMemDB()
	cfg := circle.Config{
		Name:         "founders",
		Admin:        mustDecode(t, admin),
		EscrowAmount: uint256.NewInt(100),
		Rules: proposal.Rules{
			VotingPeriodDays: 7,
			QuorumBps:        5000,
			ThresholdBps:     6000,
		},
	}
	vcfg := validator.Config{EpochLength: time.Hour, MinWeight: 1, MaxValidators: 10, Scaling: 1, AutoUnjail: true}
	c := circle.New(db, cfg, vcfg, 7*24*time.Hour)
	return New(Config{Circle: c})
}

func mustDecode(t *testing.T, s string) []byte {
	t.Helper()
	addr, err := crypto.DecodeAddress(s)
	require.NoError(t, err)
	return addr.Bytes()
}

func doRequest(t *testing.T, s *Server, method, path, sender string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if sender != "" {
		req.Header.Set("X-Circle-Sender", sender)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestGetAdminReportsConfiguredAdmin(t *testing.T) {
	admin := testAddress(t, 1)
	s := newTestServer(t, admin)

	rec := doRequest(t, s, http.MethodGet, "/v1/admin", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body["admin"])
}

func TestPostUpdateMembersRequiresSenderHeader(t *testing.T) {
	admin := testAddress(t, 1)
	s := newTestServer(t, admin)

	rec := doRequest(t, s, http.MethodPost, "/v1/members", "", map[string]interface{}{
		"add": []map[string]interface{}{{"address": testAddress(t, 2), "weight": 5}},
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPostUpdateMembersByAdminSucceedsAndIsQueryable(t *testing.T) {
	admin := testAddress(t, 1)
	member := testAddress(t, 2)
	s := newTestServer(t, admin)

	rec := doRequest(t, s, http.MethodPost, "/v1/members", admin, map[string]interface{}{
		"add": []map[string]interface{}{{"address": member, "weight": 5}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/v1/member/"+member, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, true, body["present"])
	require.EqualValues(t, 5, body["weight"])
}

func TestPostUpdateMembersRejectsNonAdminWithoutPreauth(t *testing.T) {
	admin := testAddress(t, 1)
	stranger := testAddress(t, 3)
	s := newTestServer(t, admin)

	rec := doRequest(t, s, http.MethodPost, "/v1/members", stranger, map[string]interface{}{
		"add": []map[string]interface{}{{"address": testAddress(t, 2), "weight": 5}},
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListEventsRecordsMemberChangedEvent(t *testing.T) {
	admin := testAddress(t, 1)
	member := testAddress(t, 2)
	s := newTestServer(t, admin)

	rec := doRequest(t, s, http.MethodPost, "/v1/members", admin, map[string]interface{}{
		"add": []map[string]interface{}{{"address": member, "weight": 5}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/v1/events", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var events []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.NotEmpty(t, events)
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	admin := testAddress(t, 1)
	s := newTestServer(t, admin)

	doRequest(t, s, http.MethodGet, "/v1/admin", "", nil)

	rec := doRequest(t, s, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "trustedcircle_api_requests_total")
}
