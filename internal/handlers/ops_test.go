package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/mocks"
	"chat-sync/internal/telemetry"
)

func newTestRouter(emitter *telemetry.AuditEmitter, debug bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	RegisterOpsRoutes(router, nil, emitter, debug)
	return router
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(nil, false)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestDebugRoutesDisabledByDefault(t *testing.T) {
	router := newTestRouter(nil, false)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/state", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDebugStateWithoutSession(t *testing.T) {
	router := newTestRouter(nil, true)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/state", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAuditTestPublishesEnvelope(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	publisher.On("Publish", mock.Anything, "audit.test", mock.MatchedBy(func(event any) bool {
		envelope, ok := event.(telemetry.AuditEnvelope)
		return ok && envelope.SessionID == "sess-1" && envelope.Payload.Level == "INFO"
	})).Return(nil).Once()

	emitter := telemetry.NewAuditEmitter(publisher, "audit.test", "chat-sync", "test")
	router := newTestRouter(emitter, true)

	req := httptest.NewRequest(http.MethodGet, "/debug/audit-test", nil)
	req.Header.Set("X-Session-ID", "sess-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	publisher.AssertExpectations(t)
}

func TestAuditTestGeneratesSessionID(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	publisher.On("Publish", mock.Anything, "audit.test", mock.MatchedBy(func(event any) bool {
		envelope, ok := event.(telemetry.AuditEnvelope)
		return ok && envelope.SessionID != ""
	})).Return(nil).Once()

	emitter := telemetry.NewAuditEmitter(publisher, "audit.test", "chat-sync", "test")
	router := newTestRouter(emitter, true)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/audit-test", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	publisher.AssertExpectations(t)
}
