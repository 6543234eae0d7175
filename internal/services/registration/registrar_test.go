package registration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/provisioner/internal/model"
	"github.com/mcoot/provisioner/internal/remote"
)

func TestDriverRegister(t *testing.T) {
	var got registrationRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/registrations", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDriver(remote.Config{BaseURL: srv.URL})
	id := model.Identity{Email: "a@example.com", Password: "pw"}
	err := d.Register(context.Background(), model.SessionHandle{RemoteEndpoint: "ws://x"}, id)

	require.NoError(t, err)
	assert.Equal(t, "ws://x", got.Endpoint)
	assert.Equal(t, "a@example.com", got.Identity.Email)
}

func TestDriverRegisterFailureIsRegistrationKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":{"code":"CAPTCHA","message":"challenge not completed"}}`))
	}))
	defer srv.Close()

	err := NewDriver(remote.Config{BaseURL: srv.URL}).
		Register(context.Background(), model.SessionHandle{}, model.Identity{Email: "b@example.com"})

	require.Error(t, err)
	assert.Equal(t, model.KindRegistration, model.KindOf(err))
	assert.False(t, model.IsRetryable(err))
	assert.Contains(t, err.Error(), "b@example.com")
}

func TestDriverRegisterTransientFailuresAreRetryable(t *testing.T) {
	for _, status := range []int{http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusTooManyRequests} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		err := NewDriver(remote.Config{BaseURL: srv.URL}).
			Register(context.Background(), model.SessionHandle{}, model.Identity{Email: "d@example.com"})
		srv.Close()

		require.Error(t, err, "status %d", status)
		assert.Equal(t, model.KindNetwork, model.KindOf(err), "status %d", status)
		assert.True(t, model.IsRetryable(err), "status %d", status)
	}
}

func TestDriverRegisterUnreachableIsNetworkKind(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewDriver(remote.Config{BaseURL: url}).
		Register(context.Background(), model.SessionHandle{}, model.Identity{Email: "e@example.com"})

	require.Error(t, err)
	assert.Equal(t, model.KindNetwork, model.KindOf(err))
	assert.True(t, model.IsRetryable(err))
	assert.Contains(t, err.Error(), "e@example.com")
}

func TestDriverRegisterCancelledIsCancelledKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewDriver(remote.Config{BaseURL: srv.URL}).
		Register(ctx, model.SessionHandle{}, model.Identity{Email: "f@example.com"})

	require.Error(t, err)
	assert.Equal(t, model.KindCancelled, model.KindOf(err))
}

func TestDriverApproveDevice(t *testing.T) {
	var got approvalRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/approvals", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	err := NewDriver(remote.Config{BaseURL: srv.URL}).ApproveDevice(context.Background(),
		model.SessionHandle{RemoteEndpoint: "ws://y"},
		model.Identity{Email: "c@example.com", Password: "pw"},
		model.DeviceCodeSession{UserCode: "ABCD-EFGH", VerificationURI: "https://microsoft.com/devicelogin"})

	require.NoError(t, err)
	assert.Equal(t, approvalRequest{
		Endpoint:        "ws://y",
		Email:           "c@example.com",
		Password:        "pw",
		UserCode:        "ABCD-EFGH",
		VerificationURI: "https://microsoft.com/devicelogin",
	}, got)
}

func TestRegistrarFunc(t *testing.T) {
	called := false
	var r Registrar = RegistrarFunc(func(ctx context.Context, s model.SessionHandle, id model.Identity) error {
		called = true
		return nil
	})
	require.NoError(t, r.Register(context.Background(), model.SessionHandle{}, model.Identity{}))
	assert.True(t, called)
}
