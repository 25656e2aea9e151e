package services

import "context"

// Response is the uniform result envelope returned to the host.
// Successful responses carry "success": true; failures carry "success": false and "error".
type Response map[string]any

// Handler implements one named service. Handlers return a Go error for every
// failure; the registry converts it into the error envelope.
type Handler func(ctx context.Context, req Request) (Response, error)

// OK returns a success envelope containing fields.
func OK(fields map[string]any) Response {
	resp := make(Response, len(fields)+1)
	for k, v := range fields {
		resp[k] = v
	}
	resp["success"] = true
	return resp
}

// Failure returns the error envelope for err.
func Failure(err error) Response {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Response{
		"success": false,
		"error":   msg,
	}
}

// Success reports whether the envelope denotes success.
func (r Response) Success() bool {
	ok, _ := r["success"].(bool)
	return ok
}

// ErrorMessage returns the error message of a failure envelope.
func (r Response) ErrorMessage() string {
	msg, _ := r["error"].(string)
	return msg
}
