package crypto

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestDeriveInitialSecretsRFC9001Vectors checks the Initial secret
// derivation against the worked example in RFC 9001 Appendix A.1,
// using the version-1 Initial salt.
func TestDeriveInitialSecretsRFC9001Vectors(t *testing.T) {
	odcid, err := hex.DecodeString("8394c8f03e515708")
	require.NoError(t, err)

	clientSecret, serverSecret, err := DeriveInitialSecrets(odcid)
	require.NoError(t, err)

	wantClient, err := hex.DecodeString("c00cf151ca5be075ed0ebfb5c80323c42d6b7db67881289af4008f1f6c357aea")
	require.NoError(t, err)
	require.Equal(t, wantClient, clientSecret)
	require.Len(t, serverSecret, 32)
	require.NotEqual(t, clientSecret, serverSecret)
}

func TestDeriveEpochProducesUsableAEAD(t *testing.T) {
	odcid := []byte{0x83, 0x94, 0xc8, 0xf0, 0x3e, 0x51, 0x57, 0x08}
	clientSecret, _, err := DeriveInitialSecrets(odcid)
	require.NoError(t, err)

	keys, err := DeriveEpoch(SuiteAES128GCM, clientSecret, 16)
	require.NoError(t, err)
	require.Len(t, keys.Key, 16)
	require.Len(t, keys.IV, 12)
	require.Len(t, keys.HPKey, 16)

	plaintext := []byte("a quic initial packet payload")
	aad := []byte("header bytes")
	sealed, err := keys.Encrypt(nil, plaintext, 2, aad)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, sealed[:len(plaintext)])

	opened, err := keys.Decrypt(nil, sealed, 2, aad)
	require.NoError(t, err)
	require.Equal(t, plaintext, opened)
}

func TestDecryptFailsOnWrongPacketNumber(t *testing.T) {
	odcid := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	clientSecret, _, err := DeriveInitialSecrets(odcid)
	require.NoError(t, err)
	keys, err := DeriveEpoch(SuiteAES128GCM, clientSecret, 16)
	require.NoError(t, err)

	sealed, err := keys.Encrypt(nil, []byte("payload"), 5, []byte("aad"))
	require.NoError(t, err)

	_, err = keys.Decrypt(nil, sealed, 6, []byte("aad"))
	require.ErrorIs(t, err, ErrAEADFailure)
}

func TestHPMaskAESIsDeterministicAndSampleSensitive(t *testing.T) {
	odcid := []byte{9, 9, 9, 9, 9, 9, 9, 9}
	clientSecret, _, err := DeriveInitialSecrets(odcid)
	require.NoError(t, err)
	keys, err := DeriveEpoch(SuiteAES128GCM, clientSecret, 16)
	require.NoError(t, err)

	sample := bytes.Repeat([]byte{0x42}, 16)
	mask1, err := keys.HPMask(sample)
	require.NoError(t, err)
	mask2, err := keys.HPMask(sample)
	require.NoError(t, err)
	require.Equal(t, mask1, mask2)

	sample2 := bytes.Repeat([]byte{0x43}, 16)
	mask3, err := keys.HPMask(sample2)
	require.NoError(t, err)
	require.NotEqual(t, mask1, mask3)
}

func TestHPMaskChaCha20(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, 32)
	k := &Keys{Suite: SuiteChaCha20Poly1305, Key: key, IV: bytes.Repeat([]byte{0x22}, 12), HPKey: key}
	require.NoError(t, k.prepare())

	sample := bytes.Repeat([]byte{0x05}, 16)
	mask, err := k.HPMask(sample)
	require.NoError(t, err)
	require.NotEqual(t, [5]byte{}, mask)
}

func TestUpdateAppKeysRatchetsAndCountsUp(t *testing.T) {
	secret := bytes.Repeat([]byte{0x77}, 32)
	rx, err := DeriveEpoch(SuiteAES128GCM, secret, 16)
	require.NoError(t, err)
	tx, err := DeriveEpoch(SuiteAES128GCM, secret, 16)
	require.NoError(t, err)

	ctx := &Context{AppRX: rx, AppTX: tx}
	oldKey := append([]byte(nil), ctx.AppRX.Key...)

	require.NoError(t, ctx.UpdateAppKeys(16))
	require.Equal(t, uint64(1), ctx.KeyUpdateCount())
	require.NotEqual(t, oldKey, ctx.AppRX.Key)

	require.NoError(t, ctx.UpdateAppKeys(16))
	require.Equal(t, uint64(2), ctx.KeyUpdateCount())
}

func TestUpdateAppKeysRequiresExistingKeys(t *testing.T) {
	var ctx Context
	require.Error(t, ctx.UpdateAppKeys(16))
}

// TestUpdateAppKeysMatchesRFC9001Label checks the key update against the
// two-step derivation RFC 9001 §6 actually specifies: next_secret =
// HKDF-Expand-Label(secret, "quic ku", "", Hash.length), then quic
// key/quic iv are derived from next_secret exactly as for any other
// epoch. The header protection key must not change.
func TestUpdateAppKeysMatchesRFC9001Label(t *testing.T) {
	secret := bytes.Repeat([]byte{0x99}, 32)
	rx, err := DeriveEpoch(SuiteAES128GCM, secret, 16)
	require.NoError(t, err)

	ctx := &Context{AppRX: rx, AppTX: rx}
	require.NoError(t, ctx.UpdateAppKeys(16))

	wantSecret, err := hkdfExpandLabel(secret, "quic ku", len(secret))
	require.NoError(t, err)
	wantKey, err := hkdfExpandLabel(wantSecret, "quic key", 16)
	require.NoError(t, err)
	wantIV, err := hkdfExpandLabel(wantSecret, "quic iv", 12)
	require.NoError(t, err)

	require.Equal(t, wantSecret, ctx.AppRX.Secret)
	require.Equal(t, wantKey, ctx.AppRX.Key)
	require.Equal(t, wantIV, ctx.AppRX.IV)
	require.Equal(t, rx.HPKey, ctx.AppRX.HPKey)
}

func TestSetupInitialAssignsComplementaryDirections(t *testing.T) {
	odcid := []byte{0xaa, 0xbb, 0xcc, 0xdd}

	var server Context
	require.NoError(t, server.SetupInitial(odcid, true))
	var client Context
	require.NoError(t, client.SetupInitial(odcid, false))

	// What the server transmits with, the client must receive with.
	require.Equal(t, server.InitialTX.Key, client.InitialRX.Key)
	require.Equal(t, server.InitialRX.Key, client.InitialTX.Key)
}

func TestSetTLSAlertRoundTrips(t *testing.T) {
	var c Context
	_, ok := c.LastAlert()
	require.False(t, ok)

	c.SetTLSAlert(42)
	alert, ok := c.LastAlert()
	require.True(t, ok)
	require.Equal(t, uint8(42), alert)
}
