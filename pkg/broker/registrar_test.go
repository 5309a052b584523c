// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	brokererrors "github.com/stacklok/oauth-broker/pkg/errors"
	"github.com/stacklok/oauth-broker/pkg/owners"
	"github.com/stacklok/oauth-broker/pkg/providers"
)

func TestPKCEChallengeKnownAnswer(t *testing.T) {
	t.Parallel()

	// RFC 7636 appendix B.
	const verifier = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	const challenge = "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"

	assert.Equal(t, challenge, oauth2.S256ChallengeFromVerifier(verifier))

	cfg := &providers.ServiceConfig{Name: testService, AuthURL: "https://provider.example.com/authorize"}
	authURL, err := buildAuthURL(cfg, &App{
		ClientID:     testClientID,
		RedirectURI:  testRedirectURI,
		Service:      testService,
		CodeVerifier: verifier,
	}, "hash")
	require.NoError(t, err)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal(t, challenge, u.Query().Get("code_challenge"))
	assert.Equal(t, "S256", u.Query().Get("code_challenge_method"))
}

func TestAppHash(t *testing.T) {
	t.Parallel()

	base := AppHash("abc", "secret", "org:acme", []string{"read"})
	assert.Len(t, base, 64)
	assert.Equal(t, base, AppHash("abc", "secret", "org:acme", []string{"read"}))

	for name, other := range map[string]string{
		"client id": AppHash("abd", "secret", "org:acme", []string{"read"}),
		"secret":    AppHash("abc", "secret2", "org:acme", []string{"read"}),
		"owner":     AppHash("abc", "secret", "org:other", []string{"read"}),
		"scope":     AppHash("abc", "secret", "org:acme", []string{"read", "write"}),
	} {
		assert.NotEqual(t, base, other, name)
	}
}

func TestConfigureApp_Idempotent(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	p := newFakeProvider(t)
	h := newHarness(t, p.Client(), nil, p.serviceConfig())

	owner := owners.User("u-1")
	first, err := h.broker.ConfigureApp(ctx, defaultRequest(owner))
	require.NoError(t, err)

	storedBefore, err := h.mem.Get(ctx, AppKey(first, testService))
	require.NoError(t, err)

	second, err := h.broker.ConfigureApp(ctx, defaultRequest(owner))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Sealing uses a fresh nonce, so any rewrite would change the stored bytes.
	storedAfter, err := h.mem.Get(ctx, AppKey(first, testService))
	require.NoError(t, err)
	assert.Equal(t, storedBefore, storedAfter)

	apps, err := h.owners.Apps(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, []string{AppKey(first, testService)}, apps)

	// Scope order and duplicates do not create a second app.
	req := defaultRequest(owner)
	req.Scopes = []string{" read ", "read", ""}
	third, err := h.broker.ConfigureApp(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first, third)
}

func TestConfigureApp_StoresApp(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	p := newFakeProvider(t)
	cfg := p.serviceConfig()
	cfg.UserInfoScope = "profile"
	cfg.AdditionalHeaders = map[string]string{"X-Api-Version": "2"}
	cfg.RefreshTokenAuthHeader = true
	cfg.AdditionalRequiredAuthURLParams = map[string]string{"access_type": "online", "prompt": "consent"}
	h := newHarness(t, p.Client(), nil, cfg)

	owner := owners.User("u-1")
	appHash, err := h.broker.ConfigureApp(ctx, defaultRequest(owner))
	require.NoError(t, err)
	assert.Equal(t, AppHash(testClientID, testClientSecret, "u-1", []string{"read"}), appHash)

	// The stored value is sealed.
	raw, err := h.mem.Get(ctx, AppKey(appHash, testService))
	require.NoError(t, err)
	assert.NotContains(t, raw, testClientSecret)

	app, err := h.broker.GetApp(ctx, appHash, testService)
	require.NoError(t, err)
	assert.Equal(t, testClientID, app.ClientID)
	assert.Equal(t, testClientSecret, app.ClientSecret)
	assert.Equal(t, []string{"read"}, app.UserSelectedScope)
	assert.Equal(t, cfg.TokenURL, app.TokenURL)
	assert.Nil(t, app.TokenID)
	assert.Equal(t, testOrigin+"/auth-url/demo/"+appHash, app.CustAuthURL)
	assert.NotEmpty(t, app.CodeVerifier)
	assert.Equal(t, cfg.UserInfoURL, app.UserInfoURL)
	assert.Equal(t, cfg.AdditionalHeaders, app.AdditionalHeaders)
	assert.True(t, app.RefreshTokenAuthHeader)
	assert.Equal(t, providers.RefreshTokenKeepPrior, app.RefreshTokenPolicy)
	assert.Equal(t, CurrentAppSchemaVersion, app.SchemaVersion)

	u, err := url.Parse(app.AppAuthURL)
	require.NoError(t, err)
	assert.Equal(t, p.URL+"/authorize", u.Scheme+"://"+u.Host+u.Path)

	q := u.Query()
	assert.Equal(t, testClientID, q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, testRedirectURI, q.Get("redirect_uri"))
	assert.Equal(t, appHash+":demo", q.Get("state"))
	assert.Equal(t, "read profile", q.Get("scope"))
	assert.Equal(t, oauth2.S256ChallengeFromVerifier(app.CodeVerifier), q.Get("code_challenge"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	// Configured parameters override the defaults rather than append.
	assert.Equal(t, []string{"online"}, q["access_type"])
	assert.Equal(t, "consent", q.Get("prompt"))
}

func TestConfigureApp_EmptyScopeOmitted(t *testing.T) {
	t.Parallel()
	p := newFakeProvider(t)
	h := newHarness(t, p.Client(), nil, p.serviceConfig())

	req := defaultRequest(owners.User("u-1"))
	req.Scopes = nil
	appHash, err := h.broker.ConfigureApp(t.Context(), req)
	require.NoError(t, err)

	app, err := h.broker.GetApp(t.Context(), appHash, testService)
	require.NoError(t, err)

	u, err := url.Parse(app.AppAuthURL)
	require.NoError(t, err)
	_, hasScope := u.Query()["scope"]
	assert.False(t, hasScope)
}

func TestConfigureApp_OrgOwner(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	p := newFakeProvider(t)
	h := newHarness(t, p.Client(), nil, p.serviceConfig())

	_, err := h.broker.ConfigureApp(ctx, defaultRequest(owners.Org("acme")))
	require.True(t, brokererrors.IsOwnerNotFound(err), "orgs must exist before apps are linked")

	orphan := AppHash(testClientID, testClientSecret, "org:acme", []string{"read"})
	_, err = h.broker.GetApp(ctx, orphan, testService)
	require.True(t, brokererrors.IsAppNotFound(err), "a rejected registration must not persist the app")

	_, err = h.owners.EnsureOrg(ctx, owners.GitHubUser{ID: 7, Login: "acme"})
	require.NoError(t, err)

	appHash, err := h.broker.ConfigureApp(ctx, defaultRequest(owners.Org("acme")))
	require.NoError(t, err)
	assert.Equal(t, AppHash(testClientID, testClientSecret, "org:acme", []string{"read"}), appHash)

	org, err := h.owners.GetOrg(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, []string{AppKey(appHash, testService)}, org.Apps)
}

func TestConfigureApp_RelinksExistingApp(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	p := newFakeProvider(t)
	h := newHarness(t, p.Client(), nil, p.serviceConfig())

	owner := owners.User("u-1")
	appHash, err := h.broker.ConfigureApp(ctx, defaultRequest(owner))
	require.NoError(t, err)

	// An app stored without its owner link, as left by an interrupted registration.
	require.NoError(t, h.mem.Set(ctx, owner.Key(), `{"rateLimitTier":"free","apps":[]}`))

	again, err := h.broker.ConfigureApp(ctx, defaultRequest(owner))
	require.NoError(t, err)
	assert.Equal(t, appHash, again)

	apps, err := h.owners.Apps(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, []string{AppKey(appHash, testService)}, apps)

	_, err = h.broker.ConfigureApp(ctx, defaultRequest(owner))
	require.NoError(t, err)
	apps, err = h.owners.Apps(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, apps, 1)
}

func TestScopeParam(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		selected      []string
		userInfoScope string
		want          string
	}{
		{name: "nothing", want: ""},
		{name: "selected only", selected: []string{"read", "write"}, want: "read write"},
		{name: "user info only", userInfoScope: "email", want: "email"},
		{name: "user info appended", selected: []string{"read"}, userInfoScope: "email", want: "read email"},
		{name: "user info already selected", selected: []string{"read", "email"}, userInfoScope: "email", want: "read email"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, scopeParam(tt.selected, tt.userInfoScope))
		})
	}
}

func TestGetApp_UnknownService(t *testing.T) {
	t.Parallel()
	p := newFakeProvider(t)
	h := newHarness(t, p.Client(), nil, p.serviceConfig())

	_, err := h.broker.GetApp(t.Context(), "some-hash", "unconfigured")
	assert.True(t, brokererrors.IsUnknownService(err), "unexpected error: %v", err)
}

func TestConfigureApp_PlatformCredentials(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	p := newFakeProvider(t)
	h := newHarness(t, p.Client(), testEnv{
		"PLATFORM_DEMO_CLIENT_ID":     "platform-id",
		"PLATFORM_DEMO_CLIENT_SECRET": "platform-secret",
	}, p.serviceConfig())

	req := defaultRequest(owners.User("u-1"))
	req.ClientID = ""
	req.ClientSecret = ""
	req.UsePlatformCredentials = true

	appHash, err := h.broker.ConfigureApp(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, AppHash("platform-id", "platform-secret", "u-1", []string{"read"}), appHash)

	app, err := h.broker.GetApp(ctx, appHash, testService)
	require.NoError(t, err)
	assert.Equal(t, "platform-id", app.ClientID)
	assert.Equal(t, "platform-secret", app.ClientSecret)
}

func TestConfigureApp_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*RegisterRequest)
		check  func(error) bool
	}{
		{
			name:   "unknown service",
			mutate: func(r *RegisterRequest) { r.Service = "nope" },
			check:  brokererrors.IsUnknownService,
		},
		{
			name:   "missing client id",
			mutate: func(r *RegisterRequest) { r.ClientID = "" },
			check:  brokererrors.IsValidation,
		},
		{
			name:   "missing client secret",
			mutate: func(r *RegisterRequest) { r.ClientSecret = "" },
			check:  brokererrors.IsValidation,
		},
		{
			name:   "missing redirect uri",
			mutate: func(r *RegisterRequest) { r.RedirectURI = "" },
			check:  brokererrors.IsValidation,
		},
		{
			name:   "missing owner",
			mutate: func(r *RegisterRequest) { r.Owner = owners.Owner{} },
			check:  brokererrors.IsValidation,
		},
		{
			name:   "platform credentials not configured",
			mutate: func(r *RegisterRequest) { r.UsePlatformCredentials = true },
			check:  brokererrors.IsPlatformCredentialsMissing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := t.Context()
			p := newFakeProvider(t)
			h := newHarness(t, p.Client(), nil, p.serviceConfig())

			req := defaultRequest(owners.User("u-1"))
			tt.mutate(&req)

			_, err := h.broker.ConfigureApp(ctx, req)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error: %v", err)

			// Nothing was persisted, not even the owner record.
			_, err = h.owners.Apps(ctx, owners.User("u-1"))
			assert.True(t, brokererrors.IsOwnerNotFound(err))
		})
	}
}

func TestResolveAuthURL(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	p := newFakeProvider(t)
	h := newHarness(t, p.Client(), nil, p.serviceConfig())

	appHash, _ := h.register(t)
	app, err := h.broker.GetApp(ctx, appHash, testService)
	require.NoError(t, err)

	resolved, err := h.broker.ResolveAuthURL(ctx, testService, appHash)
	require.NoError(t, err)
	assert.Equal(t, app.AppAuthURL, resolved)

	_, err = h.broker.ResolveAuthURL(ctx, testService, "missing")
	assert.True(t, brokererrors.IsAppNotFound(err))

	_, err = h.broker.ResolveAuthURL(ctx, "nope", appHash)
	assert.True(t, brokererrors.IsUnknownService(err))
}

func TestParseState(t *testing.T) {
	t.Parallel()

	appHash, service, err := ParseState(FormatState("h1", "google-drive"))
	require.NoError(t, err)
	assert.Equal(t, "h1", appHash)
	assert.Equal(t, "google-drive", service)

	for _, bad := range []string{"", "h1", ":demo", "h1:"} {
		_, _, err := ParseState(bad)
		assert.True(t, brokererrors.IsValidation(err), bad)
	}

	appHash, service, err = ParseAppKey(AppKey("h2", "demo"))
	require.NoError(t, err)
	assert.Equal(t, "h2", appHash)
	assert.Equal(t, "demo", service)

	_, _, err = ParseAppKey("token:h2")
	assert.True(t, brokererrors.IsValidation(err))
}

func TestGetApp_MigratesLegacyRecord(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	p := newFakeProvider(t)
	h := newHarness(t, p.Client(), nil, p.serviceConfig())

	legacy := map[string]any{
		"clientId":                          testClientID,
		"clientSecret":                      testClientSecret,
		"redirectUri":                       testRedirectURI,
		"userSelectedScope":                 "read write",
		"appAuthUrl":                        p.URL + "/authorize?client_id=abc",
		"tokenUrl":                          p.URL + "/token",
		"service":                           testService,
		"tokenId":                           nil,
		"custAuthUrl":                       testOrigin + "/auth-url/demo/legacy",
		"codeVerifier":                      "verifier",
		"authTokenRequestUrlencoded":        true,
		"authTokenRequestParamsWithoutCSEC": true,
		"refreshTokenAuthHeader":            false,
	}
	require.NoError(t, h.store.SetJSON(ctx, AppKey("legacy", testService), testService, legacy))

	app, err := h.broker.GetApp(ctx, "legacy", testService)
	require.NoError(t, err)
	assert.Equal(t, []string{"read write"}, app.UserSelectedScope)
	assert.True(t, app.AuthTokenRequestParamsWithoutClientSecret)
	assert.Equal(t, CurrentAppSchemaVersion, app.SchemaVersion)

	payload, err := h.store.GetPayload(ctx, AppKey("legacy", testService), testService)
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"userSelectedScope":["read write"]`)
	assert.NotContains(t, string(payload), "WithoutCSEC")

	// Once upgraded the record is not rewritten again.
	before, err := h.mem.Get(ctx, AppKey("legacy", testService))
	require.NoError(t, err)
	_, err = h.broker.GetApp(ctx, "legacy", testService)
	require.NoError(t, err)
	after, err := h.mem.Get(ctx, AppKey("legacy", testService))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestDecodeApp_EmptyLegacyScope(t *testing.T) {
	t.Parallel()

	app, migrated, err := decodeApp([]byte(`{"clientId":"abc","userSelectedScope":""}`))
	require.NoError(t, err)
	assert.True(t, migrated)
	assert.Empty(t, app.UserSelectedScope)

	_, _, err = decodeApp([]byte(`not json`))
	assert.Error(t, err)
}
