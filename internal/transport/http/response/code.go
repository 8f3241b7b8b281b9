package response

// Business codes track HTTP semantics directly.
const (
	CodeOK           = 0
	CodeBadRequest   = 400
	CodeUnauthorized = 401
	CodeNotFound     = 404
	CodeConflict     = 409
	CodeServerError  = 500
)

var CodeMsgMap = map[int]string{
	CodeOK:           "OK",
	CodeBadRequest:   "Bad Request",
	CodeUnauthorized: "Unauthorized",
	CodeNotFound:     "Not Found",
	CodeConflict:     "Conflict",
	CodeServerError:  "Internal Server Error",
}

// HTTPStatus maps a business code onto the wire status. Unknown codes in
// the 4xx/5xx range pass through; anything else is a 200.
func HTTPStatus(code int) int {
	if code >= 400 && code < 600 {
		return code
	}
	return 200
}
