package protocol

// SUBSCRIBE (observer -> server). First message on the connection.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name,omitempty"`
	// Mover sessions are allowed to send ACTION_COMPLETE.
	Role string `json:"role,omitempty"`
}

const (
	RoleViewer = "viewer"
	RoleMover  = "mover"
	RoleAdmin  = "admin"
)

type ActionCompleteMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	Kind            string  `json:"kind"`
	BuildID         string  `json:"build_id,omitempty"`
	Position        *[2]int `json:"position,omitempty"`
}

type SetSpeedMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	Speed           float64 `json:"speed"`
}

type RequestDecisionMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
}

type ResetMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
}

type RequestStateMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
}

// SYNC_STATE replaces the structure list wholesale (bulk external sync).
type SyncStateMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Structures      []Structure `json:"structures"`
}

type AdminBuildMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Category        string `json:"category"`
	ModelKey        string `json:"model_key,omitempty"`
	Position        [2]int `json:"position"`
	Orientation     int    `json:"orientation,omitempty"`
}

type AdminRemoveMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	StructureID     string `json:"structure_id"`
}
