// Package acp implements Agent Client Protocol (ACP) support, letting
// editors such as Zed drive a conductor session over JSON-RPC on stdio.
//
// Supported methods:
//   - initialize: returns the protocol version and capabilities
//   - session/new: creates a session and returns its id
//   - session/load: restores a stored session and replays its transcript
//   - session/prompt: runs a turn and answers with its stop reason
//   - session/cancel: stops the running turn of a session
//
// Turns are streamed with session/update notifications carrying
// agent_message_chunk, agent_thought_chunk, tool_call, tool_result and
// plan updates. Bash and WebSearch calls are put to the client with
// session/request_permission; a turn whose request goes unanswered is
// cancelled.
package acp
