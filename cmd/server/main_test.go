package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenggwsx/BridgeRelay/internal/auth"
	"github.com/fenggwsx/BridgeRelay/internal/config"
)

func TestIssueToken(t *testing.T) {
	cfg := config.AdminConfig{Secret: "s3cret", Issuer: "bridge-relay", Expiration: time.Hour}
	var out bytes.Buffer

	require.NoError(t, issueToken(&out, cfg, "ops"))

	claims, err := auth.ParseToken(cfg, strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, auth.ScopeControl, claims.Scope)
}

func TestIssueTokenWithoutSecret(t *testing.T) {
	var out bytes.Buffer

	err := issueToken(&out, config.AdminConfig{}, "ops")

	assert.ErrorIs(t, err, auth.ErrDisabled)
	assert.Empty(t, out.String())
}
