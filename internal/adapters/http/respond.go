package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	"go.uber.org/zap"

	"carrierwave/internal/domain"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// badRequest is a transport-level validation failure such as a malformed path
// parameter or body.
type badRequest struct{ msg string }

func (e *badRequest) Error() string { return e.msg }

func badRequestf(format string, args ...any) error {
	return &badRequest{msg: fmt.Sprintf(format, args...)}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindAuthorization:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindState:
		return http.StatusConflict
	case domain.KindTransfer:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var br *badRequest
	if errors.As(err, &br) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: br.msg, Code: "BadRequest"})
		return
	}
	var de *domain.Error
	if errors.As(err, &de) {
		writeJSON(w, statusFor(de.Kind), errorBody{Error: de.Error(), Code: de.Code})
		return
	}
	s.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: "Internal"})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequestf("invalid request body: %v", err)
	}
	return nil
}

// caller reads the identity header. A missing header is an authorization
// failure; a malformed one is a validation failure.
func caller(r *http.Request) (domain.Address, error) {
	v := r.Header.Get(CallerHeader)
	if v == "" {
		return domain.Address{}, domain.ErrUnauthorized
	}
	return parseAddress(v)
}

func parseAddress(v string) (domain.Address, error) {
	if !common.IsHexAddress(v) {
		return domain.Address{}, domain.ErrInvalidAddress
	}
	return common.HexToAddress(v), nil
}

// pathParam binds a simple-style path parameter the way generated chi
// wrappers do.
func pathParam[T any](r *http.Request, name string) (T, error) {
	var v T
	raw := chi.URLParam(r, name)
	err := runtime.BindStyledParameterWithOptions("simple", name, raw, &v, runtime.BindStyledParameterOptions{
		ParamLocation: runtime.ParamLocationPath,
		Required:      true,
	})
	if err != nil {
		return v, badRequestf("invalid %s %q", name, raw)
	}
	return v, nil
}

// queryParam binds an optional form-style query parameter; def is returned when
// the parameter is absent.
func queryParam[T any](r *http.Request, name string, def T) (T, error) {
	v := def
	if err := runtime.BindQueryParameter("form", true, false, name, r.URL.Query(), &v); err != nil {
		return def, badRequestf("invalid %s %q", name, r.URL.Query().Get(name))
	}
	return v, nil
}

// Amount decodes from either a JSON number or a decimal string, so clients
// limited to float64 numbers can still send the full uint64 range.
type Amount uint64

func (a *Amount) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("amount %s: %w", string(b), err)
	}
	*a = Amount(v)
	return nil
}
