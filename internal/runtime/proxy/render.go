package proxy

import (
	"math"
	"net/http"
	"strconv"

	errspkg "github.com/hrmesh/hrmesh/internal/runtime/errors"
	"github.com/hrmesh/hrmesh/internal/runtime/jsoncodec"
)

// responseBody is the uniform gateway response shape. Successful calls set
// Data, rejections set Errors with Data null.
type responseBody struct {
	Data   any           `json:"data"`
	Errors []errorObject `json:"errors,omitempty"`
}

type errorObject struct {
	Code       string  `json:"code"`
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retryAfter,omitempty"` // seconds
	LoadFactor float64 `json:"loadFactor,omitempty"`
}

func respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = jsoncodec.Encode(w, responseBody{Data: data})
}

func writeError(w http.ResponseWriter, e *errspkg.Error) {
	obj := errorObject{
		Code:       string(e.Code),
		Message:    e.Message,
		LoadFactor: e.LoadFactor,
	}
	if e.RetryAfter > 0 {
		obj.RetryAfter = e.RetryAfter.Seconds()
		seconds := int(math.Ceil(e.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(errspkg.HTTPStatus(e.Code))
	_ = jsoncodec.Encode(w, responseBody{Data: nil, Errors: []errorObject{obj}})
}
