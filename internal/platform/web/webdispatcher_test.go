package web_test

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-notification-bridge/internal/platform/web"
	"github.com/tinywideclouds/go-notification-bridge/pkg/dispatch"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// newSubscription creates a subscription with real browser-side keys so the
// payload encryption succeeds.
func newSubscription(t *testing.T, endpoint string) notification.WebPushSubscription {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)

	return notification.WebPushSubscription{
		Endpoint: endpoint,
		Keys: struct {
			P256dh []byte `json:"p256dh"`
			Auth   []byte `json:"auth"`
		}{P256dh: key.PublicKey().Bytes(), Auth: auth},
	}
}

func TestDispatch_Lifecycle(t *testing.T) {
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("Authorization"))
		assert.Equal(t, "7", r.Header.Get("Topic"))

		switch r.URL.Path {
		case "/success":
			w.WriteHeader(http.StatusCreated)
		case "/expired":
			w.WriteHeader(http.StatusGone)
		case "/error":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer mockServer.Close()

	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)

	dispatcher := web.NewDispatcher(web.Config{
		PrivateKey:      privateKey,
		PublicKey:       publicKey,
		SubscriberEmail: "test-runner@tinywideclouds.com",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)), web.WithHTTPClient(mockServer.Client()))

	ctx := context.Background()
	content := notification.NotificationContent{Title: "Test", Body: "Body"}
	data := map[string]string{
		dispatch.DataKeyNotificationID: "7",
		dispatch.DataKeyExperienceID:   "@tester/app",
	}

	validSub := newSubscription(t, mockServer.URL+"/success")
	expiredSub := newSubscription(t, mockServer.URL+"/expired")
	brokenSub := newSubscription(t, mockServer.URL+"/error")

	receipt, invalid, err := dispatcher.Dispatch(ctx, []notification.WebPushSubscription{validSub, expiredSub, brokenSub}, content, data)

	// Rejections are reported, not returned as errors.
	require.NoError(t, err)
	assert.Contains(t, receipt, "success:1")
	assert.Contains(t, receipt, "invalid:1")
	assert.Contains(t, receipt, "total_fail:2")

	require.Len(t, invalid, 1)
	assert.Equal(t, expiredSub.Endpoint, invalid[0].Endpoint)
}
