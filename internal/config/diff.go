package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VocabularyChanged is true when the postprocess vocabulary list differs.
	// Correction pipelines can be rebuilt without restarting sessions.
	VocabularyChanged bool

	// ThresholdsChanged is true when a postprocess matching threshold or the
	// review temperature differs.
	ThresholdsChanged bool

	// PromotionChanged is true when the held-word promotion settings differ.
	// Applies to sessions started after the reload.
	PromotionChanged bool
}

// Any reports whether the diff contains at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.VocabularyChanged || d.ThresholdsChanged || d.PromotionChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !slices.Equal(old.Postprocess.Vocabulary, new.Postprocess.Vocabulary) {
		d.VocabularyChanged = true
	}

	if old.Postprocess.PhoneticThreshold != new.Postprocess.PhoneticThreshold ||
		old.Postprocess.FuzzyThreshold != new.Postprocess.FuzzyThreshold ||
		old.Postprocess.Temperature != new.Postprocess.Temperature {
		d.ThresholdsChanged = true
	}

	if old.Session.PromoteAfterSeen != new.Session.PromoteAfterSeen ||
		old.Session.PromoteInterval != new.Session.PromoteInterval {
		d.PromotionChanged = true
	}

	return d
}
