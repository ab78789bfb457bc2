package reading

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSamplePoint_Sentinel(t *testing.T) {
	for _, v := range []float64{math.MaxFloat32, math.MaxFloat64, float64(float32(math.MaxFloat32))} {
		p := NewSamplePoint(v)
		assert.Equal(t, LostSignal, p.Kind, "value %g", v)
		assert.Zero(t, p.Distance, "value %g", v)
		assert.False(t, p.Valid())
	}
}

func TestNewSamplePoint_NonFinite(t *testing.T) {
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		p := NewSamplePoint(v)
		assert.Equal(t, Lost(), p)
	}
}

func TestNewSamplePoint_Distance(t *testing.T) {
	p := NewSamplePoint(12.5)
	assert.Equal(t, SamplePoint{Kind: Distance, Distance: 12.5}, p)
	assert.True(t, p.Valid())

	// negative values are passed through as distances
	p = NewSamplePoint(-1)
	assert.Equal(t, SamplePoint{Kind: Distance, Distance: -1}, p)
}

func TestParseDistance(t *testing.T) {
	tests := []struct {
		token  string
		want   SamplePoint
		wantOK bool
	}{
		{"12.5", SamplePoint{Kind: Distance, Distance: 12.5}, true},
		{"-1", SamplePoint{Kind: Distance, Distance: -1}, true},
		{"0.00", SamplePoint{Kind: Distance}, true},
		{".5", SamplePoint{Kind: Distance, Distance: 0.5}, true},
		{" 4.56 ", SamplePoint{Kind: Distance, Distance: 4.56}, true},
		{"3.4028235e38", Lost(), true},
		{"340282346638528859811704183484516925440", Lost(), true},
		{"", Lost(), false},
		{"-", Lost(), false},
		{".", Lost(), false},
		{"1.2.3", Lost(), false},
		{"--1", Lost(), false},
		{"abc", Lost(), false},
		{"0x1p3", Lost(), false},
		{"1e999", Lost(), false},
		{"1.5e2", SamplePoint{Kind: Distance, Distance: 150}, true},
		{"+2", SamplePoint{Kind: Distance, Distance: 2}, true},
		{"1,234", Lost(), false},
		{"1_000", Lost(), false},
		{"inf", Lost(), false},
		{"NaN", Lost(), false},
		{"12.5m", Lost(), false},
	}
	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			got, ok := ParseDistance(tt.token)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKind_Text(t *testing.T) {
	b, err := Distance.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "distance", string(b))

	var k Kind
	require.NoError(t, k.UnmarshalText([]byte("lost_signal")))
	assert.Equal(t, LostSignal, k)
	assert.Error(t, k.UnmarshalText([]byte("bogus")))
	assert.Equal(t, "Kind(7)", Kind(7).String())
}

func TestMultiBeamReading_AlwaysThreeBeams(t *testing.T) {
	r := NewMultiBeamReading()
	require.Len(t, r.Points(), BeamCount)
	for _, p := range r.Points() {
		assert.Equal(t, Lost(), p)
	}

	// the zero value is also three lost beams
	var zero MultiBeamReading
	assert.Equal(t, r, zero)
}

func TestReading_JSON(t *testing.T) {
	single := SingleBeamReading{NewSamplePoint(1.25)}
	b, err := json.Marshal(single)
	require.NoError(t, err)
	assert.JSONEq(t, `{"source":"single_beam","kind":"distance","distance":1.25}`, string(b))

	multi := NewMultiBeamReading()
	multi.Beams[1] = NewSamplePoint(2)
	b, err = json.Marshal(multi)
	require.NoError(t, err)
	assert.JSONEq(t, `{"source":"multi_beam","beams":[
		{"kind":"lost_signal","distance":0},
		{"kind":"distance","distance":2},
		{"kind":"lost_signal","distance":0}]}`, string(b))

	readings := []Reading{single, multi}
	assert.Equal(t, SourceSingleBeam, readings[0].Source())
	assert.Equal(t, SourceMultiBeam, readings[1].Source())
}
