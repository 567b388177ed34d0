package protocol

// Structure is the wire form of a placed structure.
type Structure struct {
	ID          string   `json:"id"`
	Category    string   `json:"category"`
	ModelKey    string   `json:"model_key"`
	Position    [2]int   `json:"position"`
	Orientation int      `json:"orientation"`
	Footprint   [2]int   `json:"footprint"`
	Metadata    Metadata `json:"metadata"`
}

type Metadata struct {
	Name       string `json:"name"`
	Purpose    string `json:"purpose"`
	Population int    `json:"population"`
	Capacity   string `json:"capacity"`
	Category   string `json:"category"`
	BuiltAt    string `json:"built_at"`
}

type ResourceTotal struct {
	Produced int `json:"produced"`
	Consumed int `json:"consumed"`
	Net      int `json:"net"`
}

type ResourceTotals struct {
	Power      ResourceTotal `json:"power"`
	Water      ResourceTotal `json:"water"`
	Food       ResourceTotal `json:"food"`
	Population int           `json:"population"`
}

type AvatarState struct {
	Position [2]int  `json:"position"`
	Target   *[2]int `json:"target,omitempty"`
	Moving   bool    `json:"moving"`
	Mood     int     `json:"mood"`
	Energy   int     `json:"energy"`
}

// WORLD_STATE (server -> observer). Sent on connect, on REQUEST_STATE and after RESET/SYNC_STATE.
// The spatial index and build queue are never sent; clients rebuild occupancy from Structures.
type WorldStateMsg struct {
	Type                string         `json:"type"`
	ProtocolVersion     string         `json:"protocol_version"`
	Structures          []Structure    `json:"structures"`
	Day                 int            `json:"day"`
	TimeOfDay           float64        `json:"time_of_day"`
	Resources           ResourceTotals `json:"resources"`
	TotalStructureCount int            `json:"total_structure_count"`
	Morale              int            `json:"morale"`
	Speed               float64        `json:"speed"`
	Avatar              AvatarState    `json:"avatar"`
}

// BUILD_STARTED (server -> observer). The mover walks to Position and echoes BuildID on completion.
type BuildStartedMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	BuildID         string `json:"build_id"`
	Category        string `json:"category"`
	ModelKey        string `json:"model_key"`
	Position        [2]int `json:"position"`
	Orientation     int    `json:"orientation"`
	Footprint       [2]int `json:"footprint"`
	Priority        int    `json:"priority"`
	Reason          string `json:"reason,omitempty"`
	DurationMS      int64  `json:"duration_ms"`
}

// BUILD_COMPLETED (server -> observer).
type BuildCompletedMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	BuildID         string         `json:"build_id"`
	ID              string         `json:"id"`
	Category        string         `json:"category"`
	ModelKey        string         `json:"model_key"`
	Position        [2]int         `json:"position"`
	Orientation     int            `json:"orientation"`
	Footprint       [2]int         `json:"footprint"`
	Metadata        Metadata       `json:"metadata"`
	Resources       ResourceTotals `json:"resources"`
}

type DayContext struct {
	Day       int     `json:"day"`
	TimeOfDay float64 `json:"time_of_day"`
}

// NARRATIVE_LOGGED (server -> observer).
type NarrativeLoggedMsg struct {
	Type               string     `json:"type"`
	ProtocolVersion    string     `json:"protocol_version"`
	Thought            string     `json:"thought"`
	Mood               string     `json:"mood"`
	DayContext         DayContext `json:"day_context"`
	RecentBuildSummary []string   `json:"recent_build_summary"`
	Source             string     `json:"source"`
}

// TIME_UPDATE (server -> observer).
type TimeUpdateMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	Day             int     `json:"day"`
	TimeOfDay       float64 `json:"time_of_day"`
	NewDay          bool    `json:"new_day,omitempty"`
	Morale          int     `json:"morale"`
}

// Scheduler status values.
const (
	StatusOK        = "OK"
	StatusStalled   = "STALLED"
	StatusRecovered = "RECOVERED"
)

// SCHEDULER_STATUS (server -> observer). Surfaces refill starvation.
type SchedulerStatusMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Status          string `json:"status"`
	QueueDepth      int    `json:"queue_depth"`
	Refills         int    `json:"refills"`
	Message         string `json:"message,omitempty"`
}

// SPEED_CHANGED (server -> observer).
type SpeedChangedMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	Speed           float64 `json:"speed"`
	TickPeriodMS    int64   `json:"tick_period_ms"`
}

// ERROR (server -> one observer).
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
	RefType         string `json:"ref_type,omitempty"`
}

func NewError(code, message, refType string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: message, RefType: refType}
}
