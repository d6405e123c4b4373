package trust

// FuzzyLocationConfig is the coarse-location substitute handed to apps
// in the normal score band instead of their real GPS fix. Grounded on
// original_source's FuzzyDataConfig — the default coordinates are the
// original's hardcoded values.
type FuzzyLocationConfig struct {
	Enabled   bool
	Latitude  float64
	Longitude float64
}

// DefaultFuzzyLocationConfig matches original_source's FAKE_LATITUDE /
// FAKE_LONGITUDE constants.
func DefaultFuzzyLocationConfig() FuzzyLocationConfig {
	return FuzzyLocationConfig{
		Enabled:   true,
		Latitude:  37.3349,
		Longitude: -122.0090,
	}
}
