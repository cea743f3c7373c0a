// Package protocol defines the newline-delimited JSON wire format spoken
// between the greenhouse server and its control-panel clients. Every message
// is a single JSON object terminated by '\n'; the top-level "type" field
// selects the message, and an optional "id" correlates replies to requests.
package protocol

// Server identity advertised in the welcome message.
const (
	ServerName      = "GreenhouseServer"
	ProtocolVersion = "1.0"
)

// Error codes carried in the "code" field of error messages.
const (
	CodeInvalidArg    = "INVALID_ARG"
	CodeNotFound      = "NOT_FOUND"
	CodeAlreadyExists = "ALREADY_EXISTS" // reserved, currently unused
	CodeUnsupported   = "UNSUPPORTED"
	CodeForbidden     = "FORBIDDEN"
	CodeInternal      = "INTERNAL"
)

// Window levels accepted by the "window" actuator.
const (
	WindowClosed = "CLOSED"
	WindowHalf   = "HALF"
	WindowOpen   = "OPEN"
)

// Node is the declarative configuration of one greenhouse compartment.
// The id is server-assigned ("node-<n>") and immutable; Sensors and
// Actuators are ordered lists of component names without duplicates.
type Node struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Location  string   `json:"location"`
	IP        string   `json:"ip"`
	Sensors   []string `json:"sensors"`
	Actuators []string `json:"actuators"`
}

// SensorData is one node snapshot as it appears on the wire. The struct
// field order fixes the JSON key order: sensors first, then actuators.
type SensorData struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Light       int     `json:"light"`
	PH          float64 `json:"ph"`
	Fan         string  `json:"fan"`
	WaterPump   string  `json:"water_pump"`
	CO2         string  `json:"co2"`
	Window      string  `json:"window"`
}

// Request is any client→server message. One struct covers the whole
// catalogue; fields not used by a given type stay at their zero value, and
// unknown fields in the incoming JSON are ignored for forward compatibility.
type Request struct {
	Type     string `json:"type"`
	ID       string `json:"id,omitempty"`
	ClientID string `json:"clientId,omitempty"`

	// Node operations.
	NodeID     string         `json:"nodeId,omitempty"`
	Node       *Node          `json:"node,omitempty"`
	Patch      map[string]any `json:"patch,omitempty"`
	IntervalMs int            `json:"intervalMs,omitempty"`

	// Component helpers (add_component / remove_component).
	Component string `json:"component,omitempty"`
	Kind      string `json:"kind,omitempty"` // "sensor" or "actuator"

	// Subscriptions.
	Events []string `json:"events,omitempty"`
	Nodes  []string `json:"nodes,omitempty"`

	// Actuator commands.
	Target string         `json:"target,omitempty"`
	Action string         `json:"action,omitempty"`
	Params map[string]any `json:"params,omitempty"`

	// User operations.
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Role     string `json:"role,omitempty"`
	UserID   int    `json:"userId,omitempty"`
}

// Welcome is sent unsolicited on every new connection.
type Welcome struct {
	Type    string `json:"type"`
	Server  string `json:"server"`
	Version string `json:"version"`
}

// NewWelcome builds the greeting for this server build.
func NewWelcome() Welcome {
	return Welcome{Type: "welcome", Server: ServerName, Version: ProtocolVersion}
}

// Pong answers a ping, echoing its correlation id.
type Pong struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

// Ack is the generic success reply.
type Ack struct {
	Type   string `json:"type"`
	ID     string `json:"id,omitempty"`
	Status string `json:"status"`
	NodeID string `json:"nodeId,omitempty"`
}

// NewAck builds an ok ack echoing the request id.
func NewAck(id string) Ack {
	return Ack{Type: "ack", ID: id, Status: "ok"}
}

// Error is the generic failure reply.
type Error struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// NewError builds an error reply.
func NewError(id, code, message string) Error {
	return Error{Type: "error", ID: id, Code: code, Message: message}
}

// Topology is the reply to get_topology.
type Topology struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	Nodes []Node `json:"nodes"`
}

// SensorUpdate is the periodic (or command-triggered) per-node event.
type SensorUpdate struct {
	Type      string     `json:"type"`
	NodeID    string     `json:"nodeId"`
	Timestamp int64      `json:"timestamp"` // epoch milliseconds
	Data      SensorData `json:"data"`
}

// NodeChange announces a topology mutation. Op is "added", "updated" or
// "removed"; Node is present for added/updated.
type NodeChange struct {
	Type   string `json:"type"`
	Op     string `json:"op"`
	NodeID string `json:"nodeId"`
	Node   *Node  `json:"node,omitempty"`
}

// AuthResponse answers an auth request.
type AuthResponse struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Success bool   `json:"success"`
	UserID  int    `json:"userId,omitempty"`
	Role    string `json:"role,omitempty"`
	Message string `json:"message,omitempty"`
}

// RegisterResponse answers a register request.
type RegisterResponse struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Success bool   `json:"success"`
	UserID  int    `json:"userId,omitempty"`
	Message string `json:"message,omitempty"`
}

// UserInfo is one user store entry as exposed to clients (no password).
type UserInfo struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// UsersList answers a get_users request.
type UsersList struct {
	Type    string     `json:"type"`
	ID      string     `json:"id,omitempty"`
	Success bool       `json:"success"`
	Users   []UserInfo `json:"users"`
}
