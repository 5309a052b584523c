// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/toolhive-core/env/mocks"

	"github.com/stacklok/oauth-broker/pkg/networking"
	"github.com/stacklok/oauth-broker/pkg/owners"
	"github.com/stacklok/oauth-broker/pkg/providers"
	"github.com/stacklok/oauth-broker/pkg/storage"
	"github.com/stacklok/oauth-broker/pkg/vault"
)

const (
	testService      = "demo"
	testClientID     = "abc"
	testClientSecret = "s3cret"
	testRedirectURI  = "https://broker.example.com/callback"
	testOrigin       = "https://broker.example.com"
)

var testNow = time.Date(2026, time.January, 15, 12, 0, 0, 0, time.UTC)

// recordedRequest is what the fake provider saw.
type recordedRequest struct {
	header http.Header
	body   string
}

// fakeProvider is an OAuth provider with token and user-info endpoints.
type fakeProvider struct {
	*httptest.Server

	mu              sync.Mutex
	tokenRequests   []recordedRequest
	tokenCalls      atomic.Int32
	userInfoCalls   atomic.Int32
	tokenHandler    http.HandlerFunc
	userInfoHandler http.HandlerFunc
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		p.tokenCalls.Add(1)
		body, _ := io.ReadAll(r.Body)
		p.mu.Lock()
		p.tokenRequests = append(p.tokenRequests, recordedRequest{header: r.Header.Clone(), body: string(body)})
		handler := p.tokenHandler
		p.mu.Unlock()

		if handler == nil {
			writeJSON(w, http.StatusOK, map[string]any{"access_token": "at-1", "refresh_token": "rt-1", "expires_in": 3600})
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		handler(w, r)
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		p.userInfoCalls.Add(1)
		p.mu.Lock()
		handler := p.userInfoHandler
		p.mu.Unlock()

		if handler == nil {
			writeJSON(w, http.StatusOK, map[string]any{"id": "u-1", "email": "user@example.com"})
			return
		}
		handler(w, r)
	})

	p.Server = httptest.NewServer(mux)
	t.Cleanup(p.Close)
	return p
}

func (p *fakeProvider) setTokenHandler(h http.HandlerFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenHandler = h
}

func (p *fakeProvider) setUserInfoHandler(h http.HandlerFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.userInfoHandler = h
}

func (p *fakeProvider) lastTokenRequest(t *testing.T) recordedRequest {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.tokenRequests, "provider saw no token request")
	return p.tokenRequests[len(p.tokenRequests)-1]
}

func (p *fakeProvider) serviceConfig() providers.ServiceConfig {
	return providers.ServiceConfig{
		Name:                       testService,
		AuthURL:                    p.URL + "/authorize",
		TokenURL:                   p.URL + "/token",
		UserInfoURL:                p.URL + "/userinfo",
		Scopes:                     map[string]string{"read": "read"},
		AuthTokenRequestURLEncoded: true,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// testEnv describes the environment the broker and key ring read.
type testEnv map[string]string

func newTestKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, vault.KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(key)
}

type testHarness struct {
	broker *Broker
	mem    *storage.MemoryStore
	store  *storage.EncryptedStore
	owners *owners.Manager
}

func newHarness(t *testing.T, client networking.HTTPClient, env testEnv, cfgs ...providers.ServiceConfig) *testHarness {
	t.Helper()
	ctrl := gomock.NewController(t)

	if env == nil {
		env = testEnv{}
	}
	if _, ok := env[vault.KeyEnvVar(testService)]; !ok {
		env[vault.KeyEnvVar(testService)] = newTestKey(t)
	}

	envReader := mocks.NewMockReader(ctrl)
	for k, v := range env {
		envReader.EXPECT().Getenv(k).Return(v).AnyTimes()
	}
	envReader.EXPECT().Getenv(gomock.Any()).Return("").AnyTimes()

	registry, err := providers.NewRegistry(cfgs...)
	require.NoError(t, err)

	mem := storage.NewMemoryStore()
	store := storage.NewEncryptedStore(mem, vault.NewKeyRing(vault.WithEnvReader(envReader)))
	ownerManager := owners.NewManager(mem)

	b := New(registry, store, ownerManager,
		WithHTTPClient(client),
		WithEnvReader(envReader),
		WithUserInfoRetry(3, time.Millisecond),
	)
	b.now = func() time.Time { return testNow }

	return &testHarness{broker: b, mem: mem, store: store, owners: ownerManager}
}

func defaultRequest(owner owners.Owner) RegisterRequest {
	return RegisterRequest{
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
		RedirectURI:  testRedirectURI,
		Scopes:       []string{"read"},
		Service:      testService,
		Origin:       testOrigin,
		Owner:        owner,
	}
}

// register configures the default app for a fresh session user.
func (h *testHarness) register(t *testing.T) (string, owners.Owner) {
	t.Helper()
	owner := owners.User(owners.NewSessionUserID())
	appHash, err := h.broker.ConfigureApp(t.Context(), defaultRequest(owner))
	require.NoError(t, err)
	return appHash, owner
}

func (h *testHarness) seedToken(t *testing.T, appHash string, token Token) {
	t.Helper()
	require.NoError(t, h.store.SetJSON(t.Context(), TokenKey(appHash), testService, token))
}

func millis(at time.Time) *int64 {
	v := at.UnixMilli()
	return &v
}
