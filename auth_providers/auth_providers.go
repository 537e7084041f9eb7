package auth_providers

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/saiset-co/sai-dispatch/types"
)

// TokenAuthProvider accepts any of a fixed set of tokens from a header,
// optionally behind a Bearer or Token scheme.
type TokenAuthProvider struct {
	tokens [][]byte
	header string
}

func NewTokenAuthProvider(header string, tokens ...string) *TokenAuthProvider {
	if header == "" {
		header = "Authorization"
	}

	p := &TokenAuthProvider{header: header}
	for _, token := range tokens {
		if token != "" {
			p.tokens = append(p.tokens, []byte(token))
		}
	}
	return p
}

func (p *TokenAuthProvider) Type() string {
	return "token"
}

func (p *TokenAuthProvider) Challenge() string {
	return "Bearer"
}

func (p *TokenAuthProvider) ApplyToIncomingRequest(ctx *types.RequestCtx) error {
	token := p.extractToken(ctx)
	if token == "" {
		return types.NewUnauthorizedError("token required", p.Challenge())
	}

	for _, known := range p.tokens {
		if subtle.ConstantTimeCompare(known, []byte(token)) == 1 {
			ctx.State()["auth_type"] = p.Type()
			return nil
		}
	}

	err := types.NewUnauthorizedError("invalid token", p.Challenge())
	err.Err = types.ErrAuthTokenInvalid
	return err
}

func (p *TokenAuthProvider) extractToken(ctx *types.RequestCtx) string {
	value := strings.TrimSpace(string(ctx.Request.Header.Peek(p.header)))

	for _, scheme := range []string{"Bearer ", "Token "} {
		if len(value) > len(scheme) && strings.EqualFold(value[:len(scheme)], scheme) {
			return strings.TrimSpace(value[len(scheme):])
		}
	}

	return value
}

// BasicAuthProvider checks HTTP Basic credentials against bcrypt hashes.
type BasicAuthProvider struct {
	users map[string][]byte
	realm string
}

func NewBasicAuthProvider(realm string, users map[string]string) *BasicAuthProvider {
	if realm == "" {
		realm = "Restricted"
	}

	p := &BasicAuthProvider{
		users: make(map[string][]byte, len(users)),
		realm: realm,
	}
	for name, hash := range users {
		p.users[name] = []byte(hash)
	}
	return p
}

func (p *BasicAuthProvider) Type() string {
	return "basic"
}

func (p *BasicAuthProvider) Challenge() string {
	return fmt.Sprintf(`Basic realm=%q`, p.realm)
}

func (p *BasicAuthProvider) ApplyToIncomingRequest(ctx *types.RequestCtx) error {
	username, password, ok := parseBasicAuth(string(ctx.Request.Header.Peek("Authorization")))
	if !ok {
		return types.NewUnauthorizedError("basic authentication required", p.Challenge())
	}

	hash, exists := p.users[username]
	if !exists || bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil {
		return types.NewUnauthorizedError("invalid username or password", p.Challenge())
	}

	ctx.State()["authenticated_user"] = username
	ctx.State()["auth_type"] = p.Type()
	return nil
}

func parseBasicAuth(header string) (username, password string, ok bool) {
	const prefix = "Basic "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", "", false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header[len(prefix):]))
	if err != nil {
		return "", "", false
	}

	return strings.Cut(string(decoded), ":")
}
