package plugins

import "fmt"

// Version identifies a plugin or API version as a semver triple.
type Version struct {
	Major int32
	Minor int32
	Patch int32
}

// UnknownVersion is reported when a plugin does not expose its API version.
var UnknownVersion = Version{Major: -1, Minor: -1, Patch: -1}

// CurrentAPIVersion is the plugin API version this host implements.
var CurrentAPIVersion = Version{Major: 1, Minor: 0, Patch: 0}

// MinimumAPIVersion is the oldest plugin API version the host accepts.
var MinimumAPIVersion = Version{Major: 1, Minor: 0, Patch: 0}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1, 0 or 1 depending on whether v is older than,
// equal to or newer than other. Patch differences are significant for
// ordering but never for API compatibility.
func (v Version) Compare(other Version) int {
	if v.Major != other.Major {
		if v.Major < other.Major {
			return -1
		}
		return 1
	}
	if v.Minor != other.Minor {
		if v.Minor < other.Minor {
			return -1
		}
		return 1
	}
	if v.Patch != other.Patch {
		if v.Patch < other.Patch {
			return -1
		}
		return 1
	}
	return 0
}

// Feature is a bitset of capabilities a plugin advertises.
type Feature uint32

const (
	// FeatureNone advertises no special capability.
	FeatureNone Feature = 0
	// FeaturePositional marks a plugin that provides positional data from a game.
	FeaturePositional Feature = 1 << 0
	// FeatureAudio marks a plugin that modifies input/output audio itself.
	FeatureAudio Feature = 1 << 1
)

// Has reports whether all bits of f2 are set in f.
func (f Feature) Has(f2 Feature) bool {
	return f&f2 == f2
}

// TalkingState describes the voice activity of a user.
type TalkingState int32

const (
	TalkingStateInvalid    TalkingState = -1
	TalkingStatePassive    TalkingState = 0
	TalkingStateTalking    TalkingState = 1
	TalkingStateWhispering TalkingState = 2
	TalkingStateShouting   TalkingState = 3
)

// TransmissionMode describes how the local user's microphone is activated.
type TransmissionMode int32

const (
	TransmissionModeContinuous TransmissionMode = iota
	TransmissionModeVoiceActivation
	TransmissionModePushToTalk
)

// ErrorCode is the fixed result enumeration shared with plugins. Every
// host API function returns one; out-parameters are only valid on OK.
type ErrorCode int32

const (
	ErrorCodeOK ErrorCode = iota
	ErrorCodeGenericError
	ErrorCodePointerNotFound
	ErrorCodeNoActiveConnection
	ErrorCodeUserNotFound
	ErrorCodeChannelNotFound
	ErrorCodeConnectionNotFound
	ErrorCodeUnknownTransmissionMode
	ErrorCodeLoggerNotAvailable
	ErrorCodeAudioNotAvailable
	ErrorCodeInvalidSample
)

func (e ErrorCode) String() string {
	switch e {
	case ErrorCodeOK:
		return "ok"
	case ErrorCodeGenericError:
		return "generic error"
	case ErrorCodePointerNotFound:
		return "pointer not found"
	case ErrorCodeNoActiveConnection:
		return "no active connection"
	case ErrorCodeUserNotFound:
		return "user not found"
	case ErrorCodeChannelNotFound:
		return "channel not found"
	case ErrorCodeConnectionNotFound:
		return "connection not found"
	case ErrorCodeUnknownTransmissionMode:
		return "unknown transmission mode"
	case ErrorCodeLoggerNotAvailable:
		return "logger not available"
	case ErrorCodeAudioNotAvailable:
		return "audio not available"
	case ErrorCodeInvalidSample:
		return "invalid sample"
	default:
		return fmt.Sprintf("error code %d", int32(e))
	}
}

// PositionalResult is the outcome of a plugin's positional-data
// initialization attempt.
type PositionalResult uint8

const (
	// PositionalOK means positional data has been initialized properly.
	PositionalOK PositionalResult = iota
	// PositionalTempError means positional data is temporarily
	// unavailable (e.g. the corresponding game isn't running) but might
	// become available later. The plugin will be retried.
	PositionalTempError
	// PositionalPermError means positional data is permanently
	// unavailable (e.g. outdated memory offsets). The plugin is not
	// retried until a user explicitly re-enables it.
	PositionalPermError
)

func (r PositionalResult) String() string {
	switch r {
	case PositionalOK:
		return "ok"
	case PositionalTempError:
		return "temporary error"
	case PositionalPermError:
		return "permanent error"
	default:
		return fmt.Sprintf("positional result %d", uint8(r))
	}
}

// ConnectionID identifies a server connection. Negative values are invalid.
type ConnectionID int32

// UserID identifies a user within one server connection.
type UserID uint32

// ChannelID identifies a channel within one server connection.
type ChannelID int32
