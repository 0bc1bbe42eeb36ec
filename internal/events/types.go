// Package events defines event types and the asynchronous publish-subscribe
// bus that distributes them between AirCast components. The bus is the
// internal fan-out only: the caller-facing device event stream has its own
// ordered delivery path inside internal/device.
package events

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Device lifecycle events
	EventDeviceConnected    EventType = "device_connected"
	EventDeviceDisconnected EventType = "device_disconnected"
	EventDeviceDiscovered   EventType = "device_discovered"

	// Playback events (pushed by the receiver over reverse HTTP)
	EventPlaybackState    EventType = "playback_state"
	EventPlaybackStarted  EventType = "playback_started"
	EventPlaybackStopped  EventType = "playback_stopped"
	EventPlaybackProgress EventType = "playback_progress"

	// Serving events
	EventServeStarted EventType = "serve_started"
	EventServeStopped EventType = "serve_stopped"

	// System events
	EventShutdown EventType = "shutdown"
)

// PlaybackState enumerates the states a receiver reports for a video session.
type PlaybackState int

const (
	PlaybackStateUnknown PlaybackState = iota
	PlaybackStateLoading
	PlaybackStatePlaying
	PlaybackStatePaused
	PlaybackStateStopped
)

var playbackStateStrings = map[PlaybackState]string{
	PlaybackStateUnknown: "unknown",
	PlaybackStateLoading: "loading",
	PlaybackStatePlaying: "playing",
	PlaybackStatePaused:  "paused",
	PlaybackStateStopped: "stopped",
}

// String returns the string representation of PlaybackState.
func (s PlaybackState) String() string {
	if str, ok := playbackStateStrings[s]; ok {
		return str
	}
	return "unknown"
}

// ParsePlaybackState maps a receiver-reported state string to a PlaybackState.
func ParsePlaybackState(s string) PlaybackState {
	for state, str := range playbackStateStrings {
		if str == s {
			return state
		}
	}
	return PlaybackStateUnknown
}

// MarshalJSON serializes PlaybackState as a JSON string (e.g. "playing").
func (s PlaybackState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Event is a single message on the EventBus.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// PlaybackStatePayload carries a state change pushed by the receiver.
type PlaybackStatePayload struct {
	Device   string            `json:"device"`
	State    PlaybackState     `json:"state"`
	Duration float64           `json:"duration,omitempty"`
	Position float64           `json:"position,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
}

// PlaybackSessionPayload describes a play/stop command issued by this client.
type PlaybackSessionPayload struct {
	Device   string  `json:"device"`
	URL      string  `json:"url"`
	Position float64 `json:"position,omitempty"`
}

// ServePayload describes a file-serving session.
type ServePayload struct {
	Device string   `json:"device"`
	URLs   []string `json:"urls"`
}
