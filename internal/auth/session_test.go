package auth

import (
	"crypto/ed25519"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExpiry(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "", want: 0},
		{in: "0", want: 0},
		{in: "never", want: 0},
		{in: "1h30m", want: 90 * time.Minute},
		{in: "soon", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseExpiry(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestJWTRoundTrip(t *testing.T) {
	issuer, err := NewIssuer(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 3600, issuer.MaxAge())

	token, err := issuer.CreateJWT(42)
	require.NoError(t, err)

	id, err := issuer.AuthenticateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestJWTRejectsForeignAndExpiredTokens(t *testing.T) {
	issuer, err := NewIssuer(0)
	require.NoError(t, err)
	other, err := NewIssuer(0)
	require.NoError(t, err)

	foreign, err := other.CreateJWT(1)
	require.NoError(t, err)
	_, err = issuer.AuthenticateJWT(foreign)
	assert.Error(t, err)

	expired := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.MapClaims{
		"sub": "1",
		"exp": time.Now().Add(-time.Minute).Unix(),
	})
	signed, err := expired.SignedString(issuer.privateKey)
	require.NoError(t, err)
	_, err = issuer.AuthenticateJWT(signed)
	assert.Error(t, err)

	hmac := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "1"})
	signed, err = hmac.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = issuer.AuthenticateJWT(signed)
	assert.Error(t, err)

	_, err = issuer.AuthenticateJWT("not-a-token")
	assert.Error(t, err)
}

func TestNewIssuerFromPath(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	dir := t.TempDir()
	privPath := filepath.Join(dir, "jwt.key")
	pubPath := filepath.Join(dir, "jwt.pub")
	require.NoError(t, os.WriteFile(privPath, priv, 0o600))
	require.NoError(t, os.WriteFile(pubPath, pub, 0o644))

	issuer, err := NewIssuerFromPath(privPath, pubPath, 0)
	require.NoError(t, err)
	token, err := issuer.CreateJWT(7)
	require.NoError(t, err)
	id, err := issuer.AuthenticateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)

	require.NoError(t, os.WriteFile(pubPath, []byte("short"), 0o644))
	_, err = NewIssuerFromPath(privPath, pubPath, 0)
	assert.Error(t, err)
}
