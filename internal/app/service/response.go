package service

import (
	"time"

	"github.com/coachpo/feedlink/internal/connection"
)

// ConnectionResponse is the caller-facing view of a connection snapshot.
type ConnectionResponse struct {
	Exchange           string            `json:"exchange"`
	Status             connection.Status `json:"status"`
	Message            string            `json:"message"`
	Timestamp          time.Time         `json:"timestamp"`
	ConnectionID       string            `json:"connectionId,omitempty"`
	Metadata           map[string]any    `json:"metadata,omitempty"`
	IsConnected        bool              `json:"isConnected"`
	IsSuccess          bool              `json:"isSuccess"`
	IsInProgress       bool              `json:"isInProgress"`
	IsFailed           bool              `json:"isFailed"`
	ConnectionDuration int64             `json:"connectionDuration"` // milliseconds
}

// NewConnectionResponse renders a snapshot as of now.
func NewConnectionResponse(result connection.Result, now time.Time) ConnectionResponse {
	meta := result.Metadata()
	if len(meta) == 0 {
		meta = nil
	}
	return ConnectionResponse{
		Exchange:           result.Exchange,
		Status:             result.Status,
		Message:            result.Message,
		Timestamp:          result.Timestamp,
		ConnectionID:       result.ConnectionID,
		Metadata:           meta,
		IsConnected:        result.IsConnected(),
		IsSuccess:          result.IsSuccess(),
		IsInProgress:       result.IsInProgress(),
		IsFailed:           result.IsFailed(),
		ConnectionDuration: result.ConnectionDuration(now).Milliseconds(),
	}
}
