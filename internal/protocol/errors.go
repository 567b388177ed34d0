package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest  = "E_PROTO_BAD_REQUEST"
	ErrProtoUnknownType = "E_PROTO_UNKNOWN_TYPE"
	ErrProtoVersion     = "E_PROTO_VERSION"

	// Engine/command layer.
	ErrBadRequest    = "E_BAD_REQUEST"
	ErrNoPermission  = "E_NO_PERMISSION"
	ErrInvalidTarget = "E_INVALID_TARGET"
	ErrRateLimit     = "E_RATE_LIMIT"
	ErrConflict      = "E_CONFLICT"
	ErrBusy          = "E_BUSY"
	ErrStale         = "E_STALE"
	ErrInternal      = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:  {},
	ErrProtoUnknownType: {},
	ErrProtoVersion:     {},
	ErrBadRequest:       {},
	ErrNoPermission:     {},
	ErrInvalidTarget:    {},
	ErrRateLimit:        {},
	ErrConflict:         {},
	ErrBusy:             {},
	ErrStale:            {},
	ErrInternal:         {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
