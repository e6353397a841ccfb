package mnet_test

import (
	"testing"

	"github.com/mosaic-bft/mosaic/mnet"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	t.Parallel()

	e := mnet.Envelope{
		Version:     mnet.ProtocolVersion,
		ValidatorID: 0xDEADBEEF00112233,
		Payload:     []byte("inner message"),
	}

	got, err := mnet.ParseEnvelope(e.Marshal())
	require.NoError(t, err)
	require.Equal(t, e.Version, got.Version)
	require.Equal(t, e.ValidatorID, got.ValidatorID)
	require.Equal(t, e.Payload, got.Payload)
}

func TestEnvelope_EmptyPayload(t *testing.T) {
	t.Parallel()

	e := mnet.Envelope{Version: mnet.ProtocolVersion, ValidatorID: 7}

	got, err := mnet.ParseEnvelope(e.Marshal())
	require.NoError(t, err)
	require.Equal(t, uint64(7), got.ValidatorID)
	require.Empty(t, got.Payload)
}

func TestParseEnvelope_TooShort(t *testing.T) {
	t.Parallel()

	_, err := mnet.ParseEnvelope(make([]byte, 9))
	require.ErrorIs(t, err, mnet.ErrShortEnvelope)

	_, err = mnet.ParseEnvelope(nil)
	require.ErrorIs(t, err, mnet.ErrShortEnvelope)
}
