package server

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lexgo-dev/lexgo/pkg/audit"
	"github.com/lexgo-dev/lexgo/pkg/observability"
	"github.com/lexgo-dev/lexgo/pkg/protocol"
)

// Handler dispatches protocol messages to the owning server's components.
// Every failure is returned as an Error response correlated to the request
// id; the Go error return is reserved for transport-level misuse.
type Handler struct {
	srv *Server
}

// NewHandler creates a handler bound to the server.
func NewHandler(srv *Server) *Handler {
	return &Handler{srv: srv}
}

// Handle processes one message and returns the response. Notifications
// return a nil response. The registries are never mutated for a message the
// handler rejects.
func (h *Handler) Handle(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	if msg == nil {
		return nil, protocol.Errorf(protocol.CodeInvalidRequest, "nil message")
	}

	if msg.Type == protocol.TypeNotification {
		if n, ok := msg.Payload.(protocol.NotificationParams); ok {
			log.Printf("notification: %s", n.Method)
		}
		return nil, nil
	}

	ctx, span := observability.StartSpan(ctx, "server.handle",
		trace.WithAttributes(attribute.String("message.type", string(msg.Type))),
	)
	defer span.End()

	start := time.Now()
	resp := h.dispatch(ctx, msg)

	status := "ok"
	if resp != nil && resp.Type == protocol.TypeError {
		status = "error"
	}
	observability.RecordRequest(string(msg.Type), status, time.Since(start))
	return resp, nil
}

func (h *Handler) dispatch(ctx context.Context, msg *protocol.Message) *protocol.Message {
	switch p := msg.Payload.(type) {
	case protocol.InitializeParams:
		return h.initialize(msg.ID, p)
	case protocol.ListResourcesParams:
		return h.listResources(msg.ID, p)
	case protocol.ReadResourceParams:
		return h.readResource(msg.ID, p)
	case protocol.CallToolParams:
		return h.callTool(ctx, msg.ID, p)
	case protocol.SpawnAgentParams:
		return h.spawnAgent(ctx, msg.ID, p)
	case protocol.SendMessageParams:
		return h.sendMessage(ctx, msg.ID, p)
	case protocol.StartWorkflowParams:
		return h.startWorkflow(ctx, msg.ID, p)
	default:
		return errorResponse(msg.ID, protocol.Errorf(
			protocol.CodeMethodNotFound, "unsupported message type: %s", msg.Type))
	}
}

// initialize gates on the protocol version and is idempotent: repeating the
// handshake returns the same result with no further side effects.
func (h *Handler) initialize(id string, p protocol.InitializeParams) *protocol.Message {
	if err := h.srv.ensureServing(); err != nil {
		return errorResponse(id, err)
	}
	if p.Version != protocol.Version {
		return errorResponse(id, protocol.Errorf(protocol.CodeInvalidParams,
			"unsupported protocol version %q, server speaks %q", p.Version, protocol.Version))
	}

	h.srv.markInitialized(p.ClientInfo.Name)
	sandbox := h.srv.sec.Policy().RequireSandbox
	return response(id, protocol.InitializeResult{
		Version:    protocol.Version,
		ServerInfo: protocol.ServerInfo{Name: h.srv.name, Version: h.srv.version},
		Capabilities: protocol.ServerCapabilities{
			Resources: protocol.ResourceCapabilities{Subscribe: false},
			Tools:     protocol.ToolCapabilities{List: true},
			Agents: protocol.AgentCapabilities{
				Spawn:       true,
				Communicate: true,
				Coordinate:  true,
				Sandbox:     sandbox,
			},
			Workflows: protocol.WorkflowCapabilities{
				Execute:    true,
				Monitor:    true,
				Coordinate: true,
			},
		},
	})
}

// listResources returns every registered resource as a single page. The
// cursor is accepted but never set.
func (h *Handler) listResources(id string, p protocol.ListResourcesParams) *protocol.Message {
	if err := h.srv.ensureServing(); err != nil {
		return errorResponse(id, err)
	}
	return response(id, protocol.ListResourcesResult{
		Resources: h.srv.resources.List(),
	})
}

func (h *Handler) readResource(id string, p protocol.ReadResourceParams) *protocol.Message {
	if err := h.srv.ensureServing(); err != nil {
		return errorResponse(id, err)
	}
	contents, err := h.srv.resources.Read(p.URI)
	if err != nil {
		return errorResponse(id, err)
	}
	return response(id, protocol.ReadResourceResult{
		Contents: []protocol.ResourceContents{contents},
	})
}

func (h *Handler) callTool(ctx context.Context, id string, p protocol.CallToolParams) *protocol.Message {
	if err := h.srv.ensureServing(); err != nil {
		return errorResponse(id, err)
	}
	if err := h.allow(); err != nil {
		return errorResponse(id, err)
	}

	result, err := h.srv.tools.Call(ctx, p.Name, p.Arguments)
	if err != nil {
		observability.RecordToolCall(p.Name, "not_found")
		return errorResponse(id, err)
	}

	status := "ok"
	if result.IsError {
		status = "error"
	}
	observability.RecordToolCall(p.Name, status)
	h.srv.auditor.Log(audit.NewEvent(audit.EventToolCalled, "tool", p.Name).
		WithMetadata("is_error", result.IsError))
	return response(id, *result)
}

func (h *Handler) spawnAgent(ctx context.Context, id string, p protocol.SpawnAgentParams) *protocol.Message {
	if err := h.srv.ensureRunning(); err != nil {
		return errorResponse(id, err)
	}
	if err := h.allow(); err != nil {
		return errorResponse(id, err)
	}
	agentID, err := h.srv.manager.Spawn(ctx, p.Kind, p.Config)
	if err != nil {
		return errorResponse(id, err)
	}
	return response(id, protocol.AgentSpawned{AgentID: agentID, Status: "spawned"})
}

func (h *Handler) sendMessage(ctx context.Context, id string, p protocol.SendMessageParams) *protocol.Message {
	if err := h.srv.ensureRunning(); err != nil {
		return errorResponse(id, err)
	}
	if err := h.allow(); err != nil {
		return errorResponse(id, err)
	}
	accepted, err := h.srv.manager.Route(ctx, p.From, p.To, p.Message)
	if err != nil {
		return errorResponse(id, err)
	}
	return response(id, protocol.MessageReceived{Acknowledged: accepted})
}

func (h *Handler) startWorkflow(ctx context.Context, id string, p protocol.StartWorkflowParams) *protocol.Message {
	if err := h.srv.ensureRunning(); err != nil {
		return errorResponse(id, err)
	}
	if err := h.allow(); err != nil {
		return errorResponse(id, err)
	}
	wf, err := h.srv.coord.Start(ctx, p.Kind, p.Config)
	if err != nil {
		return errorResponse(id, err)
	}
	return response(id, protocol.WorkflowStarted{
		WorkflowID: wf.ID,
		Status:     "started",
	})
}

// allow gates mutating requests on the rate limiter, keyed by the client
// identity captured at Initialize. Read-only requests are not limited.
func (h *Handler) allow() error {
	if h.srv.limiter != nil && !h.srv.limiter.Allow(h.srv.clientID()) {
		return protocol.Errorf(protocol.CodeInvalidRequest, "rate limit exceeded")
	}
	return nil
}

func response(id string, payload protocol.Payload) *protocol.Message {
	return protocol.NewRequest(id, payload)
}

func errorResponse(id string, err error) *protocol.Message {
	perr := protocol.AsError(err)
	return protocol.NewError(id, perr.Code, perr.Message, perr.Data)
}
