package backend

import (
	"slices"

	"miovo-bridge/pkg/api"
)

type floatRange struct {
	min, max float64
}

var (
	speedScaleRange      = floatRange{0.5, 2.0}
	pitchScaleRange      = floatRange{-0.15, 0.15}
	intonationScaleRange = floatRange{0.0, 2.0}
	volumeScaleRange     = floatRange{0.0, 2.0}
	phonemeLengthRange   = floatRange{0.0, 1.5}

	supportedSamplingRates = []int{8000, 11025, 16000, 22050, 24000, 32000, 44100, 48000}
)

func checkRange(name string, value *float64, r floatRange) error {
	if value == nil {
		return nil
	}
	if *value < r.min || *value > r.max {
		return InvalidRequestf("%s must be between %g and %g, got %g", name, r.min, r.max, *value)
	}
	return nil
}

func ValidateSynthesisParams(p *api.SynthesisParams) error {
	if p == nil {
		return nil
	}

	checks := []struct {
		name  string
		value *float64
		r     floatRange
	}{
		{"speedScale", p.SpeedScale, speedScaleRange},
		{"pitchScale", p.PitchScale, pitchScaleRange},
		{"intonationScale", p.IntonationScale, intonationScaleRange},
		{"volumeScale", p.VolumeScale, volumeScaleRange},
		{"prePhonemeLength", p.PrePhonemeLength, phonemeLengthRange},
		{"postPhonemeLength", p.PostPhonemeLength, phonemeLengthRange},
	}
	for _, c := range checks {
		if err := checkRange(c.name, c.value, c.r); err != nil {
			return err
		}
	}

	if p.OutputSamplingRate != nil && !slices.Contains(supportedSamplingRates, *p.OutputSamplingRate) {
		return InvalidRequestf("outputSamplingRate %d is not supported", *p.OutputSamplingRate)
	}

	return nil
}

// ApplySynthesisParams writes each set override into the backend's audio
// query. Fields of the query that have no override are left as the backend
// produced them.
func ApplySynthesisParams(query map[string]any, p *api.SynthesisParams) {
	if p == nil {
		return
	}

	setFloat := func(key string, v *float64) {
		if v != nil {
			query[key] = *v
		}
	}

	setFloat("speedScale", p.SpeedScale)
	setFloat("pitchScale", p.PitchScale)
	setFloat("intonationScale", p.IntonationScale)
	setFloat("volumeScale", p.VolumeScale)
	setFloat("prePhonemeLength", p.PrePhonemeLength)
	setFloat("postPhonemeLength", p.PostPhonemeLength)

	if p.OutputSamplingRate != nil {
		query["outputSamplingRate"] = *p.OutputSamplingRate
	}
	if p.OutputStereo != nil {
		query["outputStereo"] = *p.OutputStereo
	}
}
