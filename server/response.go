package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/rushteam/movierec/core"
)

var validate = newValidator()

// newValidator 使用 json tag 作为错误消息中的字段名。
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

type messageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, messageResponse{Message: msg})
}

// statusFor 把领域错误映射为 HTTP 状态码。
func statusFor(err error) int {
	switch {
	case core.IsInvalidInput(err):
		return http.StatusBadRequest
	case core.IsUnknownID(err):
		return http.StatusNotFound
	case core.IsConflict(err):
		return http.StatusConflict
	case core.IsUnauthorized(err):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// writeError 输出领域错误的消息；内部错误只记录日志，不把细节返回给客户端。
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if de := core.GetDomainError(err); de != nil {
		msg = de.Message
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed",
			"path", r.URL.Path,
			"request_id", GetRequestID(r.Context()),
			"err", err,
		)
		msg = "internal error"
	}
	writeMessage(w, status, msg)
}

// decode 解析 JSON 请求体并按 validate tag 校验。
func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return core.NewDomainError("server", core.ErrorCodeInvalidInput, "invalid JSON body")
	}
	if err := validate.Struct(dst); err != nil {
		return core.NewDomainError("server", core.ErrorCodeInvalidInput, formatValidationError(err))
	}
	return nil
}

func formatValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		field := e.Field()
		switch e.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", field))
		}
	}
	return strings.Join(msgs, "; ")
}
