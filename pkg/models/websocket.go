package models

// WebSocket message types
const (
	MessageAnalysis     = "analysis"
	MessageSubscribe    = "subscribe"
	MessageUnsubscribe  = "unsubscribe"
	MessageSubscribed   = "subscribed"
	MessageUnsubscribed = "unsubscribed"
	MessagePing         = "ping"
	MessagePong         = "pong"
	MessageError        = "error"
)

// WebSocketMessage is the envelope of every message sent to stream clients
type WebSocketMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// ControlMessage is sent by stream clients; an empty symbol list means all symbols
type ControlMessage struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols,omitempty"`
}

// ErrorResponse represents error message structure
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// HealthStatus represents system health information
type HealthStatus struct {
	Status      string                   `json:"status"`
	Timestamp   string                   `json:"timestamp"`
	Services    map[string]ServiceHealth `json:"services"`
	Connections int                      `json:"connections"`
	Version     string                   `json:"version"`
}

// ServiceHealth represents individual service health
type ServiceHealth struct {
	Status  string `json:"status"`
	Latency int64  `json:"latency_ms,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CalculateRequest is the body of a stateless calculation request
type CalculateRequest struct {
	Bars       []Bar      `json:"bars"`
	Lookback   *int       `json:"lookback,omitempty"`
	Offset     *int       `json:"offset,omitempty"`
	Levels     []Level    `json:"levels,omitempty"`
	GoldenZone *ZoneRatio `json:"golden_zone,omitempty"`
}

// ZoneRatio bounds the golden zone by retracement ratio
type ZoneRatio struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// CalculateResponse pairs a stateless result with its signal
type CalculateResponse struct {
	Signal Signal             `json:"signal"`
	Result *CalculationResult `json:"result"`
}

// HistoryResponse lists journaled analyses of one symbol, newest first
type HistoryResponse struct {
	Symbol   string      `json:"symbol"`
	Analyses []*Analysis `json:"analyses"`
	Count    int         `json:"count"`
}
