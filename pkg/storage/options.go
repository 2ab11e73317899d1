package storage

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/strata/pkg/errs"
)

// Options configures a Database's durability, segmentation, and limits.
// Zero-value Options is valid and resolves to sensible defaults via
// WithDefaults.
type Options struct {
	Durability       string `yaml:"durability"` // "in_memory" | "buffered" | "strict"
	SegmentSizeBytes int64  `yaml:"segment_size_bytes"`
	MaxKeyLength     int    `yaml:"max_key_length"`
	RetryMaxAttempts int    `yaml:"retry_max_attempts"`
}

// WithDefaults returns a copy of o with zero-valued fields filled in.
func (o Options) WithDefaults() Options {
	if o.Durability == "" {
		o.Durability = "buffered"
	}
	if o.SegmentSizeBytes == 0 {
		o.SegmentSizeBytes = DefaultSegmentSize
	}
	if o.MaxKeyLength == 0 {
		o.MaxKeyLength = DefaultMaxKeyLength
	}
	if o.RetryMaxAttempts == 0 {
		o.RetryMaxAttempts = 3
	}
	return o
}

// DurabilityMode resolves the configured string into a Durability value.
func (o Options) DurabilityMode() (Durability, error) {
	switch o.Durability {
	case "", "buffered":
		return DurabilityBuffered, nil
	case "in_memory":
		return DurabilityInMemory, nil
	case "strict":
		return DurabilityStrict, nil
	default:
		return 0, errs.New(errs.InvalidInput, "storage.Options.DurabilityMode", "unknown durability mode: "+o.Durability)
	}
}

// LoadOptionsFile reads and parses a YAML options file (e.g. strata.yaml).
func LoadOptionsFile(path string) (Options, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Options{}, errs.Wrap(errs.IO, "storage.LoadOptionsFile", "reading options file", err)
	}
	var o Options
	if err := yaml.Unmarshal(raw, &o); err != nil {
		return Options{}, errs.Wrap(errs.Serialization, "storage.LoadOptionsFile", "parsing options file", err)
	}
	return o.WithDefaults(), nil
}
