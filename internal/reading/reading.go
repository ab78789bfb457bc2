// Package reading holds the data model shared by the rangefinder protocol
// parsers: one sample point per beam, and the readings built from them.
package reading

import (
	"encoding/json"
	"fmt"
	"math"
)

// Kind classifies a SamplePoint.
type Kind int

const (
	// LostSignal is the zero value so that an unset beam reads as lost.
	LostSignal Kind = iota
	Distance
)

func (k Kind) String() string {
	switch k {
	case Distance:
		return "distance"
	case LostSignal:
		return "lost_signal"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// MarshalText encodes the kind by name for JSON payloads.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText is the inverse of MarshalText.
func (k *Kind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "distance":
		*k = Distance
	case "lost_signal":
		*k = LostSignal
	default:
		return fmt.Errorf("unknown reading kind %q", b)
	}
	return nil
}

// SamplePoint is one measurement from one beam. Distance is in meters and is
// zero unless Kind is Distance.
type SamplePoint struct {
	Kind     Kind    `json:"kind"`
	Distance float64 `json:"distance"`
}

// Lost returns a lost-signal sample point.
func Lost() SamplePoint {
	return SamplePoint{Kind: LostSignal}
}

// NewSamplePoint builds a Distance sample point from d. The sensor reports
// the maximum float as a no-return marker, so that value (and anything that
// is not a finite number) maps to LostSignal with a zero distance.
func NewSamplePoint(d float64) SamplePoint {
	if IsSentinel(d) || math.IsNaN(d) || math.IsInf(d, 0) {
		return Lost()
	}
	return SamplePoint{Kind: Distance, Distance: d}
}

// IsSentinel reports whether d is the maximum representable float. The
// firmware works in single precision, so a value that rounds to
// math.MaxFloat32 counts, as does math.MaxFloat64.
func IsSentinel(d float64) bool {
	return d == math.MaxFloat64 || float32(d) == math.MaxFloat32
}

// Valid reports whether the point carries a usable distance.
func (p SamplePoint) Valid() bool {
	return p.Kind == Distance
}

func (p SamplePoint) String() string {
	if p.Kind == Distance {
		return fmt.Sprintf("%.2fm", p.Distance)
	}
	return p.Kind.String()
}

// Reading is a decoded reading from either protocol.
type Reading interface {
	// Source names the protocol that produced the reading.
	Source() string
	// Points returns the sample points in beam order.
	Points() []SamplePoint

	isReading()
}

const (
	SourceSingleBeam = "single_beam"
	SourceMultiBeam  = "multi_beam"
)

// BeamCount is the number of beams in a MultiBeamReading.
const BeamCount = 3

// SingleBeamReading is a sample point decoded from the single-beam protocol.
type SingleBeamReading struct {
	SamplePoint
}

func (SingleBeamReading) Source() string { return SourceSingleBeam }

func (r SingleBeamReading) Points() []SamplePoint { return []SamplePoint{r.SamplePoint} }

func (SingleBeamReading) isReading() {}

func (r SingleBeamReading) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Source   string  `json:"source"`
		Kind     Kind    `json:"kind"`
		Distance float64 `json:"distance"`
	}{r.Source(), r.Kind, r.Distance})
}

// MultiBeamReading holds one sample point per beam, indexed by the field
// order of the three-beam protocol. The array type keeps the count fixed at
// BeamCount whatever the beams report.
type MultiBeamReading struct {
	Beams [BeamCount]SamplePoint
}

// NewMultiBeamReading returns a reading with every beam lost.
func NewMultiBeamReading() MultiBeamReading {
	var r MultiBeamReading
	for i := range r.Beams {
		r.Beams[i] = Lost()
	}
	return r
}

func (MultiBeamReading) Source() string { return SourceMultiBeam }

func (r MultiBeamReading) Points() []SamplePoint { return r.Beams[:] }

func (MultiBeamReading) isReading() {}

func (r MultiBeamReading) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Source string                 `json:"source"`
		Beams  [BeamCount]SamplePoint `json:"beams"`
	}{r.Source(), r.Beams})
}
