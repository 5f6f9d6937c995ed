package sketchy

import "errors"

var (
	// ErrInvalidConfig is returned when a sketch is constructed with
	// parameters outside their valid range. Values are never clamped.
	ErrInvalidConfig = errors.New("sketchy: invalid configuration")

	// ErrConfigMismatch is returned when merging sketches whose
	// configuration (precision, hash family, seeds, tier layout) differs.
	ErrConfigMismatch = errors.New("sketchy: incompatible sketch configuration")

	// ErrInvalidData is returned when serialized data is invalid or corrupted.
	ErrInvalidData = errors.New("sketchy: invalid serialized data")

	// ErrUnsupportedVersion is returned when the serialization version is not supported.
	ErrUnsupportedVersion = errors.New("sketchy: unsupported serialization version")
)
