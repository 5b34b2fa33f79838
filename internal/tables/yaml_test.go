package tables

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeYAML(t *testing.T) {
	snap, err := DecodeYAML([]byte(sampleYAML))
	require.NoError(t, err)
	require.Len(t, snap.Countries, 2)
	require.Len(t, snap.TaxRates, 2)
	require.Equal(t, "7.25", snap.TaxRates[1].Rate.String())
	require.Len(t, snap.ShippingZones, 2)
	require.True(t, snap.ShippingZones[1].Methods[0].Unbounded())
	require.Len(t, snap.EnabledPaymentMethods(), 1)
}

func TestDecodeYAMLRejectsUnknownFields(t *testing.T) {
	_, err := DecodeYAML([]byte("countries: []\nsurprise: 1\n"))
	require.Error(t, err)
}

func TestEncodeDecodeKeepsBands(t *testing.T) {
	snap, err := DecodeYAML([]byte(sampleYAML))
	require.NoError(t, err)
	raw, err := EncodeYAML(snap)
	require.NoError(t, err)
	again, err := DecodeYAML(raw)
	require.NoError(t, err)
	require.Equal(t, len(snap.ShippingZones), len(again.ShippingZones))
	require.True(t, again.ShippingZones[0].Methods[0].Cost.Equal(snap.ShippingZones[0].Methods[0].Cost))
	require.True(t, again.ShippingZones[1].Methods[0].Unbounded())
}

func TestFileSourceFetch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tables.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	snap, err := FileSource{Path: path}.Fetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, "yaml", snap.Source)

	_, err = FileSource{Path: filepath.Join(t.TempDir(), "missing.yaml")}.Fetch(context.Background())
	require.Error(t, err)
}
