package helpers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/farellandr/orderpay/internal/apperrors"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81/webhook"
)

func TestWebhookSignatureGenerator_AcceptedByStripe(t *testing.T) {
	payload := []byte(`{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_1"}}}`)
	generator := NewWebhookSignatureGenerator("whsec_test")

	headers := generator.GetHeaders(payload)
	assert.Equal(t, "application/json", headers["Content-Type"])

	event, err := webhook.ConstructEventWithOptions(payload, headers[WebhookSignatureHeader], "whsec_test", webhook.ConstructEventOptions{
		Tolerance:                webhook.DefaultTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)

	_, err = webhook.ConstructEventWithOptions(payload, headers[WebhookSignatureHeader], "whsec_other", webhook.ConstructEventOptions{
		Tolerance:                webhook.DefaultTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	assert.Error(t, err)
}

func TestWebhookSignatureGenerator_FixedClock(t *testing.T) {
	generator := NewWebhookSignatureGenerator("secret")
	generator.Now = func() time.Time { return time.Unix(1700000000, 0) }

	header := generator.GenerateHeader([]byte("{}"))
	assert.Equal(t, "t=1700000000,v1="+generator.GenerateSignature(1700000000, []byte("{}")), header)
}

func TestStatusForKind(t *testing.T) {
	tests := []struct {
		kind apperrors.Kind
		want int
	}{
		{apperrors.KindValidation, http.StatusBadRequest},
		{apperrors.KindSignatureInvalid, http.StatusBadRequest},
		{apperrors.KindNotFound, http.StatusNotFound},
		{apperrors.KindConflict, http.StatusConflict},
		{apperrors.KindInsufficientPoints, http.StatusConflict},
		{apperrors.KindAccountInactive, http.StatusForbidden},
		{apperrors.KindProviderTransient, http.StatusBadGateway},
		{apperrors.KindProviderPermanent, http.StatusBadGateway},
		{apperrors.KindInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusForKind(tt.kind), tt.kind.String())
	}
}

func TestRespondWithAppError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantMessage string
	}{
		{"validation", apperrors.Validation("points must be positive"), http.StatusBadRequest, "points must be positive"},
		{"internal", errors.New("dial tcp: connection refused"), http.StatusInternalServerError, "Something went wrong. Please try again later."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			RespondWithAppError(c, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, http.StatusText(tt.wantStatus), body.Error)
			assert.Equal(t, tt.wantMessage, body.Message)
		})
	}
}
