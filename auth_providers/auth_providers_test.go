package auth_providers

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"golang.org/x/crypto/bcrypt"

	"github.com/saiset-co/sai-dispatch/config"
	"github.com/saiset-co/sai-dispatch/logger"
	"github.com/saiset-co/sai-dispatch/types"
)

func request(headers map[string]string) *types.RequestCtx {
	var fctx fasthttp.RequestCtx
	fctx.Request.SetRequestURI("/private")
	for key, value := range headers {
		fctx.Request.Header.Set(key, value)
	}
	return types.NewRequestCtx(context.Background(), &fctx, nil, nil)
}

func basicHeader(user, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+password))
}

// TestTokenAuthProvider verifies scheme prefixes and rejection of unknown tokens.
func TestTokenAuthProvider(t *testing.T) {
	t.Parallel()

	p := NewTokenAuthProvider("", "s3cret", "other")

	assert.NoError(t, p.ApplyToIncomingRequest(request(map[string]string{"Authorization": "Bearer s3cret"})))
	assert.NoError(t, p.ApplyToIncomingRequest(request(map[string]string{"Authorization": "token other"})))
	assert.NoError(t, p.ApplyToIncomingRequest(request(map[string]string{"Authorization": "s3cret"})))

	err := p.ApplyToIncomingRequest(request(map[string]string{"Authorization": "Bearer nope"}))
	assert.ErrorIs(t, err, types.ErrAuthTokenInvalid)

	err = p.ApplyToIncomingRequest(request(nil))
	authErr, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, fasthttp.StatusUnauthorized, authErr.Status)
	assert.Equal(t, "Bearer", authErr.Headers["WWW-Authenticate"])

	custom := NewTokenAuthProvider("X-API-Key", "k1")
	assert.NoError(t, custom.ApplyToIncomingRequest(request(map[string]string{"X-API-Key": "k1"})))
}

// TestBasicAuthProvider verifies bcrypt credentials and the challenge realm.
func TestBasicAuthProvider(t *testing.T) {
	t.Parallel()

	hash, err := bcrypt.GenerateFromPassword([]byte("pa55"), bcrypt.MinCost)
	require.NoError(t, err)

	p := NewBasicAuthProvider("ops", map[string]string{"alice": string(hash)})

	ctx := request(map[string]string{"Authorization": basicHeader("alice", "pa55")})
	require.NoError(t, p.ApplyToIncomingRequest(ctx))
	assert.Equal(t, "alice", ctx.State()["authenticated_user"])

	err = p.ApplyToIncomingRequest(request(map[string]string{"Authorization": basicHeader("alice", "wrong")}))
	authErr, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, `Basic realm="ops"`, authErr.Headers["WWW-Authenticate"])

	assert.Error(t, p.ApplyToIncomingRequest(request(map[string]string{"Authorization": "Basic !!!"})))
	assert.Error(t, p.ApplyToIncomingRequest(request(map[string]string{"Authorization": basicHeader("bob", "pa55")})))
}

// TestManagerGuard verifies any accepting provider admits the request.
func TestManagerGuard(t *testing.T) {
	t.Parallel()

	m, err := NewAuthProviderManager(nil, logger.NewNop())
	require.NoError(t, err)

	hash, err := bcrypt.GenerateFromPassword([]byte("pa55"), bcrypt.MinCost)
	require.NoError(t, err)

	require.NoError(t, m.Register("token", NewTokenAuthProvider("", "t1")))
	require.NoError(t, m.Register("basic", NewBasicAuthProvider("", map[string]string{"alice": string(hash)})))
	assert.ErrorIs(t, m.Register("token", NewTokenAuthProvider("", "t2")), types.ErrAuthProviderExists)

	guard, err := m.Guard("token", "basic")
	require.NoError(t, err)
	assert.Equal(t, "auth:token,basic", guard.Name())

	assert.NoError(t, guard.Authorize(request(map[string]string{"Authorization": "Bearer t1"}), nil))
	assert.NoError(t, guard.Authorize(request(map[string]string{"Authorization": basicHeader("alice", "pa55")}), nil))

	err = guard.Authorize(request(nil), nil)
	authErr, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "Bearer", authErr.Headers["WWW-Authenticate"])

	_, err = m.Guard("oauth")
	assert.ErrorIs(t, err, types.ErrAuthProviderNotFound)

	require.NoError(t, m.Start())
	assert.ErrorIs(t, m.Register("late", NewTokenAuthProvider("", "x")), types.ErrServerAlreadyRunning)
	require.NoError(t, m.Stop())
}

// TestManagerFromConfig verifies enabled providers are registered from configuration.
func TestManagerFromConfig(t *testing.T) {
	t.Parallel()

	cm, err := config.NewFromBytes([]byte(`
name: svc
version: 1.0.0
auth_providers:
  token:
    enabled: true
    header: X-API-Key
    tokens: [k1]
`))
	require.NoError(t, err)

	m, err := NewAuthProviderManager(cm, logger.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{"token"}, m.Names())

	guard, err := m.Guard("token")
	require.NoError(t, err)
	assert.NoError(t, guard.Authorize(request(map[string]string{"X-API-Key": "k1"}), nil))
}
