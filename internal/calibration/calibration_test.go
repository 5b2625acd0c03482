package calibration

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNullTransformIsIdentity(t *testing.T) {
	n := NullTransform{}
	require.Equal(t, 0.73, n.Transform(0.73))
	require.Equal(t, 0.0, n.Transform(0.0))
	require.Equal(t, 1.0, n.Transform(1.0))
}

func TestPlattTransformBounded(t *testing.T) {
	p := Platt{A: 2, B: -1}
	out := p.Transform(0.5)
	require.Greater(t, out, 0.0)
	require.Less(t, out, 1.0)
}

func TestTemperatureAboveOneSoftens(t *testing.T) {
	raw := 0.9
	sharp := Temperature{T: 1}.Transform(raw)
	soft := Temperature{T: 4}.Transform(raw)
	require.Less(t, soft, sharp, "higher temperature should pull extreme scores toward 0.5")
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, tr := range []Transform{NullTransform{}, Platt{A: 1.5, B: -0.3}, Temperature{T: 2.0}} {
		encoded, err := Encode(tr)
		require.NoError(t, err)
		decoded := Decode(encoded)
		require.Equal(t, tr.Transform(0.6), decoded.Transform(0.6))
	}
}

func TestDecodeEmptyYieldsNullTransform(t *testing.T) {
	d := Decode("")
	require.Equal(t, 0.42, d.Transform(0.42))
}

func TestDecodeGarbageYieldsNullTransform(t *testing.T) {
	d := Decode("{not json")
	require.Equal(t, 0.42, d.Transform(0.42))
}
