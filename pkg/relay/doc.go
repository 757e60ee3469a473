// Package relay bridges a client websocket and a live agent run.
//
// Ownership model:
//   - A SessionRegistry creates one Session per client id and owns its agent run.
//   - A Coordinator owns one connection: it starts an OutboundPump (agent events to the
//     socket) and an InboundPump (socket frames to the agent input queue), and tears both
//     down as soon as either ends.
//   - The agent itself is an AgentPort supplied by the application.
//
// Recommended setup:
//   - Build a MemoryRegistry around an AgentPort.
//   - Build a Coordinator around the registry.
//   - Mount NewWSHTTPHandler at /ws/{session_id}.
package relay
