package protocol

import "encoding/json"

const Version = "1.0"

// Server -> observer message types.
const (
	TypeWorldState      = "WORLD_STATE"
	TypeBuildStarted    = "BUILD_STARTED"
	TypeBuildCompleted  = "BUILD_COMPLETED"
	TypeNarrativeLogged = "NARRATIVE_LOGGED"
	TypeTimeUpdate      = "TIME_UPDATE"
	TypeSchedulerStatus = "SCHEDULER_STATUS"
	TypeSpeedChanged    = "SPEED_CHANGED"
	TypeError           = "ERROR"
)

// Observer -> server message types.
const (
	TypeSubscribe       = "SUBSCRIBE"
	TypeActionComplete  = "ACTION_COMPLETE"
	TypeSetSpeed        = "SET_SPEED"
	TypeRequestDecision = "REQUEST_DECISION"
	TypeReset           = "RESET"
	TypeRequestState    = "REQUEST_STATE"
	TypeSyncState       = "SYNC_STATE"
	TypeAdminBuild      = "ADMIN_BUILD"
	TypeAdminRemove     = "ADMIN_REMOVE"
)

// ACTION_COMPLETE kinds reported by the external mover.
const (
	ActionArrived       = "ARRIVED"
	ActionBuildComplete = "BUILD_COMPLETE"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
