package handler

import (
	"log/slog"

	"github.com/opticrew/fieldsync/internal/agent/session"
)

// Dependencies holds all dependencies needed by agent handlers
type Dependencies struct {
	Logger  *slog.Logger
	Session *session.Session
}

// AgentHandler handles the device UI's HTTP requests against the core
type AgentHandler struct {
	logger  *slog.Logger
	session *session.Session
}

// NewAgentHandler creates a new AgentHandler instance
func NewAgentHandler(deps *Dependencies) *AgentHandler {
	return &AgentHandler{
		logger:  deps.Logger,
		session: deps.Session,
	}
}
