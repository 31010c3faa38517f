package api

import (
	"encoding/json"
	"net/http"

	xerrors "SwarmQuarry/internal/errors"
	"SwarmQuarry/internal/swarm"
)

// response 是所有接口共用的外层结构，字段按需出现。
type response struct {
	Success   any          `json:"success,omitempty"`
	Error     any          `json:"error,omitempty"`
	Code      xerrors.Code `json:"code,omitempty"`
	Detail    string       `json:"detail,omitempty"`
	Shafts    *int         `json:"shafts,omitempty"`
	Remaining *int         `json:"remaining,omitempty"`
}

// infoError 保持旧版 swarm 信息接口的错误结构。
type infoError struct {
	Message string `json:"message"`
}

const (
	msgInvalidParameters = "missing parameters"
	msgUnrecognized      = "unrecognized command"
	msgNoRemaining       = "no remaining shafts"
	msgTravelIDNotExist  = "travel id not exist"
	msgInvalidSwarm      = "Invalid swarm"
	msgInternal          = "internal error"
)

// ClientCodeUnrecognizedCommand 表示未知的 swarm 命令。
const ClientCodeUnrecognizedCommand xerrors.Code = "UNRECOGNIZED_COMMAND"

func writeJSON(w http.ResponseWriter, payload response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(payload)
}

// errorResponse 把业务错误转换为旧客户端能识别的错误文案。
func errorResponse(err error) response {
	e, ok := xerrors.From(err)
	if !ok {
		return response{Error: msgInternal, Code: xerrors.CodeUnknown}
	}
	switch e.Code() {
	case xerrors.CodeInvalidParameters:
		out := response{Error: msgInvalidParameters, Code: e.Code()}
		if e.Message() != msgInvalidParameters {
			out.Detail = e.Message()
		}
		return out
	case xerrors.CodeUnknown, xerrors.CodePersistenceFailure:
		return response{Error: msgInternal, Code: e.Code()}
	default:
		return response{Error: e.Message(), Code: e.Code()}
	}
}

func intPtr(v int) *int { return &v }

// isInternal 判断错误是否需要以 error 级别记录。
func isInternal(err error) bool {
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidParameters, xerrors.CodeAlreadyExists, xerrors.CodeNotFound,
		xerrors.CodeConflict, xerrors.CodeUnauthorized, xerrors.CodeForbidden, swarm.CodeShaftNotFound:
		return false
	default:
		return true
	}
}
