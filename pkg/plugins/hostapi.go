package plugins

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/timbrevoice/timbre/pkg/observability"
)

// Sentinel errors a ServerState implementation returns to signal the
// corresponding host API error codes.
var (
	ErrNoActiveConnection      = errors.New("no active connection")
	ErrConnectionNotFound      = errors.New("connection not found")
	ErrUserNotFound            = errors.New("user not found")
	ErrChannelNotFound         = errors.New("channel not found")
	ErrUnknownTransmissionMode = errors.New("unknown transmission mode")
	ErrAudioNotAvailable       = errors.New("audio output not available")
	ErrInvalidSample           = errors.New("invalid sample file")
)

// ServerState is the client session surface the host API is built on.
// Implementations live in the connection/session layer of the client;
// tests use fakes.
type ServerState interface {
	// ActiveConnection returns the connection the user's audio output
	// is currently directed at.
	ActiveConnection() (ConnectionID, error)
	LocalUser(connection ConnectionID) (UserID, error)
	UserName(connection ConnectionID, user UserID) (string, error)
	ChannelName(connection ConnectionID, channel ChannelID) (string, error)
	Users(connection ConnectionID) ([]UserID, error)
	Channels(connection ConnectionID) ([]ChannelID, error)
	ChannelOfUser(connection ConnectionID, user UserID) (ChannelID, error)
	UsersInChannel(connection ConnectionID, channel ChannelID) ([]UserID, error)
	TransmissionMode() (TransmissionMode, error)
	RequestTransmissionMode(mode TransmissionMode) error
	// RequestUserMove asks the server to move user into channel.
	// password may be empty for channels without one.
	RequestUserMove(connection ConnectionID, user UserID, channel ChannelID, password string) error
	FindUser(connection ConnectionID, name string) (UserID, error)
	FindChannel(connection ConnectionID, name string) (ChannelID, error)
	// SendData transmits a plugin data blob to the given users. It can
	// only be received by plugins active on those clients.
	SendData(connection ConnectionID, users []UserID, data []byte, dataID string) error
	PlaySample(path string) error
}

// errorCodeFor maps a ServerState error to the plugin-facing code.
func errorCodeFor(err error) ErrorCode {
	switch {
	case err == nil:
		return ErrorCodeOK
	case errors.Is(err, ErrNoActiveConnection):
		return ErrorCodeNoActiveConnection
	case errors.Is(err, ErrConnectionNotFound):
		return ErrorCodeConnectionNotFound
	case errors.Is(err, ErrUserNotFound):
		return ErrorCodeUserNotFound
	case errors.Is(err, ErrChannelNotFound):
		return ErrorCodeChannelNotFound
	case errors.Is(err, ErrUnknownTransmissionMode):
		return ErrorCodeUnknownTransmissionMode
	case errors.Is(err, ErrAudioNotAvailable):
		return ErrorCodeAudioNotAvailable
	case errors.Is(err, ErrInvalidSample):
		return ErrorCodeInvalidSample
	default:
		return ErrorCodeGenericError
	}
}

// AllocatedString is a host-allocated string result. The plugin must
// release Token through FreeMemory when done.
type AllocatedString struct {
	Token AllocationToken
	Value string
}

// AllocatedUserList is a host-allocated user-ID list result.
type AllocatedUserList struct {
	Token AllocationToken
	Users []UserID
}

// AllocatedChannelList is a host-allocated channel-ID list result.
type AllocatedChannelList struct {
	Token    AllocationToken
	Channels []ChannelID
}

// PluginData holds non-permanent state set by plugins. Non-permanent
// means it is not stored between restarts. Owned by the Manager; the
// audio input path reads OverwriteMicrophoneActivation every frame.
type PluginData struct {
	// OverwriteMicrophoneActivation mirrors continuous-transmission
	// behaviour while any plugin keeps it set.
	OverwriteMicrophoneActivation atomic.Bool
}

// HostAPI is the fixed set of callbacks handed to every plugin through
// its RegisterAPIFunctions entry point. Every function returns an
// ErrorCode; out-values must not be used unless OK was returned.
type HostAPI struct {
	// FreeMemory releases a host allocation previously handed out via
	// an Allocated* result.
	FreeMemory func(token AllocationToken) ErrorCode

	GetActiveServerConnection    func() (ConnectionID, ErrorCode)
	GetLocalUserID               func(connection ConnectionID) (UserID, ErrorCode)
	GetUserName                  func(connection ConnectionID, user UserID) (AllocatedString, ErrorCode)
	GetChannelName               func(connection ConnectionID, channel ChannelID) (AllocatedString, ErrorCode)
	GetAllUsers                  func(connection ConnectionID) (AllocatedUserList, ErrorCode)
	GetAllChannels               func(connection ConnectionID) (AllocatedChannelList, ErrorCode)
	GetChannelOfUser             func(connection ConnectionID, user UserID) (ChannelID, ErrorCode)
	GetUsersInChannel            func(connection ConnectionID, channel ChannelID) (AllocatedUserList, ErrorCode)
	GetLocalUserTransmissionMode func() (TransmissionMode, ErrorCode)

	RequestLocalUserTransmissionMode     func(mode TransmissionMode) ErrorCode
	RequestUserMove                      func(connection ConnectionID, user UserID, channel ChannelID, password string) ErrorCode
	RequestMicrophoneActivationOverwrite func(activate bool) ErrorCode

	FindUserByName    func(connection ConnectionID, name string) (UserID, ErrorCode)
	FindChannelByName func(connection ConnectionID, name string) (ChannelID, ErrorCode)

	SendData func(connection ConnectionID, users []UserID, data []byte, dataID string) ErrorCode
	Log      func(prefix, message string) ErrorCode

	PlaySample func(path string) ErrorCode
}

// BuildHostAPI assembles the host API function set for the requested
// plugin API version. Only v1.0.x exists; requesting any other version
// is an error. As patch versions must not involve API changes they are
// not considered. metrics may be nil.
func BuildHostAPI(apiVersion Version, state ServerState, data *PluginData, curator *AllocationCurator, log *logrus.Logger, metrics *observability.Metrics) (*HostAPI, error) {
	if apiVersion.Major != 1 || apiVersion.Minor != 0 {
		return nil, fmt.Errorf("no host API functions for API version v%d.%d.x", apiVersion.Major, apiVersion.Minor)
	}
	if log == nil {
		log = logrus.New()
	}

	count := func(function string, code ErrorCode) ErrorCode {
		if metrics != nil {
			metrics.HostAPICallsTotal.WithLabelValues(function, code.String()).Inc()
		}
		return code
	}
	alloc := func(deleter func()) AllocationToken {
		token := curator.Register(deleter)
		if metrics != nil {
			metrics.OutstandingAllocations.Set(float64(curator.Outstanding()))
		}
		return token
	}

	api := &HostAPI{
		FreeMemory: func(token AllocationToken) ErrorCode {
			code := curator.Release(token)
			if metrics != nil {
				metrics.OutstandingAllocations.Set(float64(curator.Outstanding()))
			}
			return count("FreeMemory", code)
		},

		GetActiveServerConnection: func() (ConnectionID, ErrorCode) {
			connection, err := state.ActiveConnection()
			return connection, count("GetActiveServerConnection", errorCodeFor(err))
		},

		GetLocalUserID: func(connection ConnectionID) (UserID, ErrorCode) {
			user, err := state.LocalUser(connection)
			return user, count("GetLocalUserID", errorCodeFor(err))
		},

		GetUserName: func(connection ConnectionID, user UserID) (AllocatedString, ErrorCode) {
			name, err := state.UserName(connection, user)
			if err != nil {
				return AllocatedString{}, count("GetUserName", errorCodeFor(err))
			}
			return AllocatedString{Token: alloc(nil), Value: name}, count("GetUserName", ErrorCodeOK)
		},

		GetChannelName: func(connection ConnectionID, channel ChannelID) (AllocatedString, ErrorCode) {
			name, err := state.ChannelName(connection, channel)
			if err != nil {
				return AllocatedString{}, count("GetChannelName", errorCodeFor(err))
			}
			return AllocatedString{Token: alloc(nil), Value: name}, count("GetChannelName", ErrorCodeOK)
		},

		GetAllUsers: func(connection ConnectionID) (AllocatedUserList, ErrorCode) {
			users, err := state.Users(connection)
			if err != nil {
				return AllocatedUserList{}, count("GetAllUsers", errorCodeFor(err))
			}
			return AllocatedUserList{Token: alloc(nil), Users: users}, count("GetAllUsers", ErrorCodeOK)
		},

		GetAllChannels: func(connection ConnectionID) (AllocatedChannelList, ErrorCode) {
			channels, err := state.Channels(connection)
			if err != nil {
				return AllocatedChannelList{}, count("GetAllChannels", errorCodeFor(err))
			}
			return AllocatedChannelList{Token: alloc(nil), Channels: channels}, count("GetAllChannels", ErrorCodeOK)
		},

		GetChannelOfUser: func(connection ConnectionID, user UserID) (ChannelID, ErrorCode) {
			channel, err := state.ChannelOfUser(connection, user)
			return channel, count("GetChannelOfUser", errorCodeFor(err))
		},

		GetUsersInChannel: func(connection ConnectionID, channel ChannelID) (AllocatedUserList, ErrorCode) {
			users, err := state.UsersInChannel(connection, channel)
			if err != nil {
				return AllocatedUserList{}, count("GetUsersInChannel", errorCodeFor(err))
			}
			return AllocatedUserList{Token: alloc(nil), Users: users}, count("GetUsersInChannel", ErrorCodeOK)
		},

		GetLocalUserTransmissionMode: func() (TransmissionMode, ErrorCode) {
			mode, err := state.TransmissionMode()
			return mode, count("GetLocalUserTransmissionMode", errorCodeFor(err))
		},

		RequestLocalUserTransmissionMode: func(mode TransmissionMode) ErrorCode {
			switch mode {
			case TransmissionModeContinuous, TransmissionModeVoiceActivation, TransmissionModePushToTalk:
			default:
				return count("RequestLocalUserTransmissionMode", ErrorCodeUnknownTransmissionMode)
			}
			return count("RequestLocalUserTransmissionMode", errorCodeFor(state.RequestTransmissionMode(mode)))
		},

		RequestUserMove: func(connection ConnectionID, user UserID, channel ChannelID, password string) ErrorCode {
			return count("RequestUserMove", errorCodeFor(state.RequestUserMove(connection, user, channel, password)))
		},

		RequestMicrophoneActivationOverwrite: func(activate bool) ErrorCode {
			data.OverwriteMicrophoneActivation.Store(activate)
			return count("RequestMicrophoneActivationOverwrite", ErrorCodeOK)
		},

		FindUserByName: func(connection ConnectionID, name string) (UserID, ErrorCode) {
			user, err := state.FindUser(connection, name)
			return user, count("FindUserByName", errorCodeFor(err))
		},

		FindChannelByName: func(connection ConnectionID, name string) (ChannelID, ErrorCode) {
			channel, err := state.FindChannel(connection, name)
			return channel, count("FindChannelByName", errorCodeFor(err))
		},

		SendData: func(connection ConnectionID, users []UserID, data []byte, dataID string) ErrorCode {
			return count("SendData", errorCodeFor(state.SendData(connection, users, data, dataID)))
		},

		Log: func(prefix, message string) ErrorCode {
			log.WithField("plugin", prefix).Info(message)
			return count("Log", ErrorCodeOK)
		},

		PlaySample: func(path string) ErrorCode {
			return count("PlaySample", errorCodeFor(state.PlaySample(path)))
		},
	}

	return api, nil
}
