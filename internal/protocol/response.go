package protocol

// Response is the wire-level reply envelope. Success responses carry a
// "data" key (possibly null), error responses a "message" key whose value is
// a source-prefixed string, or an arbitrary JSON value for structured game
// errors.
type Response map[string]any

// OK builds a success response. data may be nil, which serializes as null.
func OK(data any) Response {
	return Response{"status": "ok", "data": data}
}

// ServerError builds an error response originating in the transport layer.
func ServerError(msg string) Response {
	return errorResponse("server: " + msg)
}

// FrameworkError builds an error response originating in the framework.
func FrameworkError(msg string) Response {
	return errorResponse("framework: " + msg)
}

// GameError builds an error response originating in a game implementation.
// String payloads get the "game: " source prefix; any other JSON value is
// passed through verbatim so games can report structured errors.
func GameError(payload any) Response {
	if s, ok := payload.(string); ok {
		return errorResponse("game: " + s)
	}
	return Response{"status": "error", "message": payload}
}

// IsError reports whether r is an error response.
func (r Response) IsError() bool {
	return r["status"] == "error"
}

func errorResponse(msg string) Response {
	return Response{"status": "error", "message": msg}
}
