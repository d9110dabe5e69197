package model

// Response is the envelope every HTTP endpoint writes.
type Response struct {
	Data    any     `json:"data,omitempty"`
	Error   *string `json:"error,omitempty"`
	Message string  `json:"message"`
}

// ErrorResponseBody builds an error envelope with the given detail.
func ErrorResponseBody(detail string) Response {
	return Response{Error: &detail, Message: "Error"}
}
