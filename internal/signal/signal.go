// Package signal provides the pure computations shared by the proctoring
// monitors: vector similarity for identity checks, frequency-band energy for
// voice detection, percentile estimation for audio calibration, and head-pose
// angle extraction from facial landmarks.
//
// Everything in this package is stateless and safe for concurrent use.
package signal

import (
	"math"
	"sort"
)

// Landmark is a single facial landmark in normalized image coordinates
// (x and y in [0,1], z is relative depth when the detector provides it).
type Landmark struct {
	X float64
	Y float64
	Z float64
}

// Landmark layout expected by HeadPose and Embedding. Detectors must emit at
// least these six points, in this order.
const (
	LandmarkLeftEye = iota
	LandmarkRightEye
	LandmarkNoseTip
	LandmarkMouthLeft
	LandmarkMouthRight
	LandmarkChin

	// MinLandmarks is the minimum landmark count for pose and embedding.
	MinLandmarks = 6
)

// noseDropRatio is the nominal vertical distance from the eye line to the
// nose tip, as a fraction of interocular distance, for a face looking
// straight at the camera. Deviations from it read as pitch.
const noseDropRatio = 0.55

// CosineSimilarity returns the cosine of the angle between a and b.
// It returns 0 when either vector is empty, zero-length, or the lengths
// differ, so a malformed embedding reads as a total mismatch rather than a
// spurious pass.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// BandEnergy returns the mean magnitude of the spectrum bins that fall inside
// [lowHz, highHz]. The spectrum is assumed to span DC to the Nyquist
// frequency (sampleRate/2) in evenly spaced bins, the layout produced by a
// real FFT. Returns 0 for an empty spectrum or an empty band.
func BandEnergy(spectrum []float64, sampleRate int, lowHz, highHz float64) float64 {
	if len(spectrum) == 0 || sampleRate <= 0 || highHz <= lowHz {
		return 0
	}

	nyquist := float64(sampleRate) / 2
	binWidth := nyquist / float64(len(spectrum))

	lo := int(lowHz / binWidth)
	hi := int(highHz / binWidth)
	if lo < 0 {
		lo = 0
	}
	if hi >= len(spectrum) {
		hi = len(spectrum) - 1
	}
	if hi < lo {
		return 0
	}

	var sum float64
	for i := lo; i <= hi; i++ {
		sum += spectrum[i]
	}
	return sum / float64(hi-lo+1)
}

// Percentile returns the p-th percentile (p in [0,1]) of values using linear
// interpolation between closest ranks. The input slice is not modified.
// Returns 0 for an empty input.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	rank := p * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}

	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// HeadPose derives yaw and pitch in degrees from the six-point landmark
// layout. Yaw is the horizontal displacement of the nose tip from the
// midpoint between the eyes; pitch is its vertical displacement relative to
// the neutral nose drop. Both are scaled by interocular distance so the
// angles are independent of face size in the frame.
//
// Returns (0, 0) when the landmarks are insufficient or degenerate; the face
// monitor treats that as a forward gaze rather than a deviation.
func HeadPose(landmarks []Landmark) (yaw, pitch float64) {
	if len(landmarks) < MinLandmarks {
		return 0, 0
	}

	le := landmarks[LandmarkLeftEye]
	re := landmarks[LandmarkRightEye]
	nose := landmarks[LandmarkNoseTip]

	dx := re.X - le.X
	dy := re.Y - le.Y
	interocular := math.Hypot(dx, dy)
	if interocular == 0 {
		return 0, 0
	}

	midX := (le.X + re.X) / 2
	midY := (le.Y + re.Y) / 2

	yaw = degrees(math.Atan2(nose.X-midX, interocular))
	pitch = degrees(math.Atan2((nose.Y-midY)-noseDropRatio*interocular, interocular))
	return yaw, pitch
}

// Embedding computes a fixed-length identity vector from facial landmarks:
// the pairwise distances between all landmark points, scaled by interocular
// distance and L2-normalized. The geometry ratios it encodes are stable
// across lighting and moderate pose changes, which is what the cosine
// comparison against the enrollment reference needs.
//
// Returns nil when the landmarks are insufficient or degenerate.
func Embedding(landmarks []Landmark) []float64 {
	if len(landmarks) < MinLandmarks {
		return nil
	}

	le := landmarks[LandmarkLeftEye]
	re := landmarks[LandmarkRightEye]
	interocular := math.Hypot(re.X-le.X, re.Y-le.Y)
	if interocular == 0 {
		return nil
	}

	n := len(landmarks)
	emb := make([]float64, 0, n*(n-1)/2)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := math.Hypot(landmarks[j].X-landmarks[i].X, landmarks[j].Y-landmarks[i].Y)
			emb = append(emb, d/interocular)
		}
	}

	var norm float64
	for _, v := range emb {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return nil
	}
	for i := range emb {
		emb[i] /= norm
	}

	return emb
}

func degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}
