package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/parleyhq/parley/internal/observability"
	"github.com/parleyhq/parley/pkg/engine"
)

// registerBuiltinMethods registers all built-in RPC methods
func (s *Server) registerBuiltinMethods() {
	_ = s.RegisterMethod("session.create", s.handleSessionCreate)
	_ = s.RegisterMethod("session.send", s.handleSessionSend)
	_ = s.RegisterMethod("session.resume", s.handleSessionResume)
	_ = s.RegisterMethod("session.interrupt", s.handleSessionInterrupt)
	_ = s.RegisterMethod("session.state", s.handleSessionState)
	_ = s.RegisterMethod("session.history", s.handleSessionHistory)
	_ = s.RegisterMethod("session.rollback", s.handleSessionRollback)
	_ = s.RegisterMethod("session.delete", s.handleSessionDelete)
	_ = s.RegisterMethod("sessions.list", s.handleSessionsList)
	_ = s.RegisterMethod("tools.list", s.handleToolsList)
	_ = s.RegisterMethod("system.status", s.handleSystemStatus)
}

func stringParam(params map[string]interface{}, name string) (string, error) {
	value, ok := params[name].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("%s parameter is required and must be a string", name)
	}
	return value, nil
}

// deltaSink returns a callback forwarding assistant deltas to the requesting
// WebSocket client, or nil when streaming was not asked for or the caller
// came in over plain HTTP.
func (s *Server) deltaSink(ctx context.Context, params map[string]interface{}, sessionID string) func(string) {
	if wantStream, _ := params["stream"].(bool); !wantStream {
		return nil
	}
	clientID := clientIDFromContext(ctx)
	if clientID == "" {
		return nil
	}
	return func(delta string) {
		s.broadcaster.BroadcastToClient(clientID, EventMessage{
			Event:     "session.delta",
			Stream:    StreamTypeAssistant,
			SessionID: sessionID,
			Data:      map[string]interface{}{"delta": delta},
		})
	}
}

func (s *Server) handleSessionCreate(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	id, err := s.engine.CreateSession(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"sessionId": id}, nil
}

func (s *Server) handleSessionSend(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	sessionID, err := stringParam(params, "sessionId")
	if err != nil {
		return nil, err
	}
	content, err := stringParam(params, "message")
	if err != nil {
		return nil, err
	}

	var result *engine.TurnResult
	if onDelta := s.deltaSink(ctx, params, sessionID); onDelta != nil {
		result, err = s.engine.SendMessageStream(ctx, sessionID, content, onDelta)
	} else {
		result, err = s.engine.SendMessage(ctx, sessionID, content)
	}
	if err != nil {
		return nil, err
	}

	s.announceInterrupt(result)
	return turnResultMap(result), nil
}

func (s *Server) handleSessionResume(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	sessionID, err := stringParam(params, "sessionId")
	if err != nil {
		return nil, err
	}
	rawChoice, err := stringParam(params, "choice")
	if err != nil {
		return nil, err
	}
	choice, err := engine.ParseChoice(rawChoice)
	if err != nil {
		return nil, err
	}

	decision := engine.ResumeDecision{Choice: choice}
	if extra, ok := params["extraData"].(string); ok {
		decision.ExtraData = extra
	}

	var result *engine.TurnResult
	onDelta := s.deltaSink(ctx, params, sessionID)
	switch {
	case onDelta != nil:
		result, err = s.engine.ResumeStream(ctx, sessionID, decision, onDelta)
	default:
		requestID, _ := params["requestId"].(string)
		if requestID != "" {
			result, err = s.engine.ResumeIdempotent(ctx, sessionID, requestID, decision)
		} else {
			result, err = s.engine.Resume(ctx, sessionID, decision)
		}
	}
	if err != nil {
		return nil, err
	}

	s.announceInterrupt(result)
	return turnResultMap(result), nil
}

func (s *Server) handleSessionInterrupt(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	sessionID, err := stringParam(params, "sessionId")
	if err != nil {
		return nil, err
	}
	intr, err := s.engine.PendingInterrupt(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"interrupt": intr}, nil
}

func (s *Server) handleSessionState(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	sessionID, err := stringParam(params, "sessionId")
	if err != nil {
		return nil, err
	}
	log, err := s.engine.State(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	messages := make([]map[string]interface{}, 0, len(log))
	for _, m := range log {
		entry := map[string]interface{}{
			"id":        m.ID,
			"role":      string(m.Role),
			"content":   m.Content,
			"createdAt": m.CreatedAt,
		}
		if m.HasToolCalls() {
			entry["toolCalls"] = m.ToolCalls
		}
		if m.ToolCallID != "" {
			entry["toolCallId"] = m.ToolCallID
		}
		messages = append(messages, entry)
	}
	return map[string]interface{}{
		"sessionId": sessionID,
		"messages":  messages,
	}, nil
}

func (s *Server) handleSessionHistory(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	sessionID, err := stringParam(params, "sessionId")
	if err != nil {
		return nil, err
	}
	history, err := s.engine.History(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	checkpoints := make([]map[string]interface{}, 0, len(history))
	for _, cp := range history {
		checkpoints = append(checkpoints, map[string]interface{}{
			"seq":       cp.Seq,
			"nextStage": string(cp.NextStage),
			"messages":  len(cp.Log),
			"createdAt": cp.CreatedAt,
		})
	}
	return map[string]interface{}{
		"sessionId":   sessionID,
		"checkpoints": checkpoints,
	}, nil
}

func (s *Server) handleSessionRollback(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	sessionID, err := stringParam(params, "sessionId")
	if err != nil {
		return nil, err
	}
	seq, ok := params["seq"].(float64)
	if !ok {
		return nil, fmt.Errorf("seq parameter is required and must be a number")
	}
	content, err := stringParam(params, "message")
	if err != nil {
		return nil, err
	}

	result, err := s.engine.Rollback(ctx, sessionID, int64(seq), content)
	if err != nil {
		return nil, err
	}
	s.announceInterrupt(result)
	return turnResultMap(result), nil
}

func (s *Server) handleSessionDelete(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	sessionID, err := stringParam(params, "sessionId")
	if err != nil {
		return nil, err
	}
	if err := s.engine.DeleteSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return map[string]interface{}{"success": true}, nil
}

func (s *Server) handleSessionsList(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	sessions, err := s.engine.Sessions(ctx)
	if err != nil {
		return nil, err
	}
	observability.SetActiveSessions(len(sessions))
	return map[string]interface{}{"sessions": sessions}, nil
}

func (s *Server) handleToolsList(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	if s.registry == nil {
		return map[string]interface{}{"tools": []interface{}{}}, nil
	}

	names := s.registry.List()
	defs := make([]map[string]interface{}, 0, len(names))
	for _, name := range names {
		def, ok := s.registry.Get(name)
		if !ok {
			continue
		}
		defs = append(defs, map[string]interface{}{
			"name":        def.Name,
			"displayName": def.DisplayName,
			"description": def.Description,
			"kind":        string(def.Kind),
			"parameters":  def.Parameters,
		})
	}
	return map[string]interface{}{"tools": defs}, nil
}

func (s *Server) handleSystemStatus(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{
		"status":  "ok",
		"clients": s.clients.Count(),
		"methods": s.router.Methods(),
		"time":    time.Now().UnixMilli(),
	}, nil
}

// announceInterrupt tells every listening client a session is waiting on an
// approval decision.
func (s *Server) announceInterrupt(result *engine.TurnResult) {
	if result == nil || result.Interrupt == nil {
		return
	}
	s.broadcaster.BroadcastTyped(EventMessage{
		Event:     "session.interrupt",
		Stream:    StreamTypeInterrupt,
		SessionID: result.SessionID,
		Data:      result.Interrupt,
	})
}

func turnResultMap(result *engine.TurnResult) map[string]interface{} {
	out := map[string]interface{}{
		"sessionId": result.SessionID,
		"seq":       result.Seq,
		"reply":     result.Reply,
	}
	if result.Interrupt != nil {
		out["interrupt"] = result.Interrupt
	}
	return out
}
