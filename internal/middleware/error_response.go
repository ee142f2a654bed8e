package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hitoshi/hubgate/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// statusCodes はエラーコードからHTTPステータスへの対応表。
var statusCodes = map[string]int{
	model.ErrCodeInvalidArgument:    http.StatusBadRequest,
	model.ErrCodeSessionNotFound:    http.StatusNotFound,
	model.ErrCodeSessionExpired:     http.StatusGone,
	model.ErrCodeSessionConflict:    http.StatusConflict,
	model.ErrCodeUnauthenticated:    http.StatusUnauthorized,
	model.ErrCodeForbidden:          http.StatusForbidden,
	model.ErrCodeStoreUnavailable:   http.StatusServiceUnavailable,
	model.ErrCodeSigningUnavailable: http.StatusInternalServerError,
}

// StatusCodeFor はAPIErrorに対応するHTTPステータスコードを返す。
// 未知のコードは500にフォールバックする。
func StatusCodeFor(apiErr *model.APIError) int {
	if code, ok := statusCodes[apiErr.Code]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteAPIError はエラーを分類し、対応するステータスコードで書き込む。
// APIErrorに分類できないエラーは内部エラーとして扱う。
func WriteAPIError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		WriteErrorResponse(w, StatusCodeFor(apiErr), apiErr)
		return
	}
	WriteInternalServerError(w)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}
