package notify

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatekey-io/gatekey/internal/db"
	"github.com/gatekey-io/gatekey/internal/repositories"
)

type fakeSettingsRepo struct {
	values map[string]string
}

func (r *fakeSettingsRepo) Get(_ context.Context, key string) (*db.Setting, error) {
	v, ok := r.values[key]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &db.Setting{Key: key, Value: db.EncryptedString(v)}, nil
}

func (r *fakeSettingsRepo) Set(_ context.Context, key string, value db.EncryptedString) error {
	r.values[key] = string(value)
	return nil
}

func (r *fakeSettingsRepo) GetMany(_ context.Context, prefix string) ([]db.Setting, error) {
	var out []db.Setting
	for k, v := range r.values {
		if strings.HasPrefix(k, prefix) {
			out = append(out, db.Setting{Key: k, Value: db.EncryptedString(v)})
		}
	}
	return out, nil
}

func (r *fakeSettingsRepo) Delete(_ context.Context, key string) error {
	delete(r.values, key)
	return nil
}

func (r *fakeSettingsRepo) SetIfAbsent(_ context.Context, key string, value db.EncryptedString) (db.EncryptedString, error) {
	if v, ok := r.values[key]; ok {
		return db.EncryptedString(v), nil
	}
	r.values[key] = string(value)
	return value, nil
}

func newSender(repo *fakeSettingsRepo) *webhookSender {
	return newWebhookSender(func(ctx context.Context) (*webhookConfig, error) {
		return loadWebhookConfig(ctx, repo)
	})
}

func TestWebhookSendDeliversSignedPayload(t *testing.T) {
	var (
		gotBody      []byte
		gotSignature string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSignature = r.Header.Get("X-Gatekey-Signature")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	repo := &fakeSettingsRepo{values: map[string]string{
		KeyWebhookURL:     srv.URL,
		KeyWebhookSecret:  "s3cret",
		KeyWebhookEnabled: "true",
	}}

	err := newSender(repo).Send(context.Background(), "login", "Login: jsmith", "Login: jsmith",
		map[string]any{"username": "jsmith"})
	require.NoError(t, err)

	var payload webhookPayload
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	assert.Equal(t, "login", payload.Type)
	assert.Equal(t, "jsmith", payload.Payload["username"])

	require.True(t, strings.HasPrefix(gotSignature, "sha256="))
	want := "sha256=" + hmacSHA256(gotBody, "s3cret")
	assert.True(t, hmac.Equal([]byte(want), []byte(gotSignature)))
}

func TestWebhookSendSkipsWhenNotConfigured(t *testing.T) {
	repo := &fakeSettingsRepo{values: map[string]string{}}

	err := newSender(repo).Send(context.Background(), "login", "t", "b", nil)
	require.NoError(t, err)
}

func TestWebhookSendSkipsWhenDisabled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("disabled webhook must not be called")
	}))
	defer srv.Close()

	repo := &fakeSettingsRepo{values: map[string]string{
		KeyWebhookURL: srv.URL,
		// enabled flag absent → disabled
	}}

	err := newSender(repo).Send(context.Background(), "login", "t", "b", nil)
	require.NoError(t, err)
}

func TestWebhookSendReportsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	repo := &fakeSettingsRepo{values: map[string]string{
		KeyWebhookURL:     srv.URL,
		KeyWebhookEnabled: "true",
	}}

	err := newSender(repo).Send(context.Background(), "login", "t", "b", nil)
	require.ErrorIs(t, err, ErrSendFailed)
}
