package httpresp

const (
	ErrUnauthorized         = "unauthorized"
	ErrMissingBearerToken   = "bearer token is required"
	ErrInvalidToken         = "invalid token"
	ErrForbidden            = "forbidden"
	ErrUnknownCall          = "unknown call"
	ErrMediaNotConfigured   = "media credentials are not configured"
	ErrConversationNotFound = "conversation not found"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

type IDResponse struct {
	ID string `json:"id"`
}

func NewErrorResponse(message string) ErrorResponse {
	return ErrorResponse{Error: message}
}

func NewOKResponse() OKResponse {
	return OKResponse{OK: true}
}

func NewIDResponse(id string) IDResponse {
	return IDResponse{ID: id}
}
