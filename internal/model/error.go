package model

// AppError is the error payload carried by every typed error in this service.
// Only Message is guaranteed to be shown to clients; Hint may carry detail
// for operators and is dropped for internal errors.
type AppError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"error"`
	Stage   string `json:"stage,omitempty"`

	Hint string `json:"hint,omitempty"`
}

// ErrorResponse is the JSON body of every non-2xx response:
//
//	{"ok":false,"error":"拉取 Clash 配置失败: 404 Not Found","code":"FETCH_FAILED","stage":"fetch"}
type ErrorResponse struct {
	OK bool `json:"ok"`
	AppError
}

func NewErrorResponse(e AppError) ErrorResponse {
	return ErrorResponse{OK: false, AppError: e}
}
