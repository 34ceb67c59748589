package retrytoken

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testAddr() net.Addr {
	return &net.UDPAddr{IP: net.ParseIP("203.0.113.7"), Port: 4433}
}

func TestGenerateVerifyRoundTrip(t *testing.T) {
	sealer, err := GenerateSealer(time.Minute)
	require.NoError(t, err)

	odcid := []byte{0xde, 0xad, 0xbe, 0xef}
	now := time.Unix(1_700_000_000, 0)
	token, err := sealer.Generate(testAddr(), odcid, now)
	require.NoError(t, err)

	got, err := sealer.Verify(token, testAddr(), now.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, odcid, got)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	sealer, err := GenerateSealer(time.Second)
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	token, err := sealer.Generate(testAddr(), []byte{1, 2, 3}, now)
	require.NoError(t, err)

	_, err = sealer.Verify(token, testAddr(), now.Add(time.Hour))
	require.ErrorIs(t, err, ErrExpired)
}

func TestVerifyRejectsAddressMismatch(t *testing.T) {
	sealer, err := GenerateSealer(time.Minute)
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	token, err := sealer.Generate(testAddr(), []byte{1, 2, 3}, now)
	require.NoError(t, err)

	other := &net.UDPAddr{IP: net.ParseIP("198.51.100.1"), Port: 1}
	_, err = sealer.Verify(token, other, now)
	require.ErrorIs(t, err, ErrBadTag)
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	sealer, err := GenerateSealer(time.Minute)
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	token, err := sealer.Generate(testAddr(), []byte{1, 2, 3}, now)
	require.NoError(t, err)

	tampered := append([]byte(nil), token...)
	tampered[len(tampered)-1] ^= 0xff
	_, err = sealer.Verify(tampered, testAddr(), now)
	require.ErrorIs(t, err, ErrBadTag)
}

func TestVerifyRejectsMalformedToken(t *testing.T) {
	sealer, err := GenerateSealer(time.Minute)
	require.NoError(t, err)

	_, err = sealer.Verify([]byte{1, 2, 3}, testAddr(), time.Now())
	require.ErrorIs(t, err, ErrMalformed)
}

func TestNewSealerRejectsWrongSecretLength(t *testing.T) {
	_, err := NewSealer([]byte{1, 2, 3}, time.Minute)
	require.Error(t, err)
}

func TestGenerateUsesFreshNonceEachCall(t *testing.T) {
	sealer, err := GenerateSealer(time.Minute)
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	a, err := sealer.Generate(testAddr(), []byte{9}, now)
	require.NoError(t, err)
	b, err := sealer.Generate(testAddr(), []byte{9}, now)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}
