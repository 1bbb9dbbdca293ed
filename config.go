package snsgw

import (
	"fmt"
	"slices"
)

// GatewayOption contains the backend connection configuration.
//
// Platform and region are deliberate allow-lists: the gateway claims support
// for exactly one platform ("http") and one region today, and rejects
// everything else at construction time, before any client is built.
type GatewayOption struct {
	Platform        string `help:"backend platform" default:"http" env:"SNSGW_PLATFORM"`
	Region          string `help:"backend region" default:"us-east-1" env:"SNSGW_REGION"`
	AccessKeyID     string `help:"backend access key id" env:"SNSGW_ACCESS_KEY_ID"`
	SecretAccessKey string `help:"backend secret access key" env:"SNSGW_SECRET_ACCESS_KEY"`
	APIVersion      string `help:"backend api version" default:"2010-03-31" env:"SNSGW_API_VERSION"`
}

// DefaultAPIVersion is used when GatewayOption.APIVersion is left empty.
const DefaultAPIVersion = "2010-03-31"

var (
	// SupportedPlatforms is the platform allow-list.
	SupportedPlatforms = []string{"http"}
	// SupportedRegions is the region allow-list.
	SupportedRegions = []string{"us-east-1"}
)

// ConfigErrorKind classifies configuration validation failures.
type ConfigErrorKind int

const (
	// UnsupportedPlatform indicates a platform outside [SupportedPlatforms].
	UnsupportedPlatform ConfigErrorKind = iota + 1
	// UnsupportedRegion indicates a region outside [SupportedRegions].
	UnsupportedRegion
	// InvalidCredential indicates a missing or empty credential value.
	InvalidCredential
)

func (k ConfigErrorKind) String() string {
	switch k {
	case UnsupportedPlatform:
		return "UnsupportedPlatform"
	case UnsupportedRegion:
		return "UnsupportedRegion"
	case InvalidCredential:
		return "InvalidCredential"
	default:
		return fmt.Sprintf("ConfigErrorKind(%d)", int(k))
	}
}

// ConfigError is returned by [GatewayOption.Restrict] when the configuration
// is rejected. The gateway is never partially constructed on failure.
type ConfigError struct {
	Kind  ConfigErrorKind
	Field string
	Value string
}

func (err *ConfigError) Error() string {
	switch err.Kind {
	case InvalidCredential:
		return fmt.Sprintf("%s: %s must be a non-empty string", err.Kind, err.Field)
	default:
		return fmt.Sprintf("%s: %s `%s` is not supported", err.Kind, err.Field, err.Value)
	}
}

// Restrict restricts a configuration. It fills the API version default and
// returns a *ConfigError describing the first violation found.
func (opt *GatewayOption) Restrict() error {
	if !slices.Contains(SupportedPlatforms, opt.Platform) {
		return &ConfigError{Kind: UnsupportedPlatform, Field: "platform", Value: opt.Platform}
	}
	if !slices.Contains(SupportedRegions, opt.Region) {
		return &ConfigError{Kind: UnsupportedRegion, Field: "region", Value: opt.Region}
	}
	if opt.AccessKeyID == "" {
		return &ConfigError{Kind: InvalidCredential, Field: "access_key_id"}
	}
	if opt.SecretAccessKey == "" {
		return &ConfigError{Kind: InvalidCredential, Field: "secret_access_key"}
	}
	if opt.APIVersion == "" {
		opt.APIVersion = DefaultAPIVersion
	}
	return nil
}
