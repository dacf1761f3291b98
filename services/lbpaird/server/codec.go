package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"liquiditybook/native/lb/fixed"
	"liquiditybook/native/lb/lberr"
	"liquiditybook/services/lbpaird/history"
	"liquiditybook/services/lbpaird/manager"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, manager.ErrPairNotFound), errors.Is(err, history.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, lberr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, lberr.ErrSlippageExceeded), errors.Is(err, lberr.ErrDeadlineExpired):
		return http.StatusConflict
	case errors.Is(err, lberr.ErrInsufficientLiquidity):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := errorResponse{Error: err.Error()}
	if status != http.StatusNotFound {
		body.Kind = lberr.Kind(err)
	}
	writeJSON(w, status, body)
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", lberr.ErrValidation, fmt.Sprintf(format, args...))
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return badRequest("decode request body: %v", err)
	}
	return nil
}

func pairParam(r *http.Request) string {
	return chi.URLParam(r, "pair")
}

func parseAddress(field, value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, badRequest("%s %q is not a hex address", field, value)
	}
	return common.HexToAddress(value), nil
}

// parseOptionalAddress returns the zero address for an empty value.
func parseOptionalAddress(field, value string) (common.Address, error) {
	if strings.TrimSpace(value) == "" {
		return common.Address{}, nil
	}
	return parseAddress(field, value)
}

func parseAmount(field, value string) (*uint256.Int, error) {
	return fixed.ParseAmount(field, value)
}

// parseOptionalAmount returns nil for an empty value so the bound is unset.
func parseOptionalAmount(field, value string) (*uint256.Int, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	return fixed.ParseAmount(field, value)
}

func parseAmounts(field string, values []string) ([]*uint256.Int, error) {
	out := make([]*uint256.Int, len(values))
	for i, v := range values {
		amount, err := fixed.ParseAmount(fmt.Sprintf("%s[%d]", field, i), v)
		if err != nil {
			return nil, err
		}
		out[i] = amount
	}
	return out, nil
}

func parseShares(field string, values []string) ([]*uint256.Int, error) {
	out := make([]*uint256.Int, len(values))
	for i, v := range values {
		shares, err := fixed.ParseShares(fmt.Sprintf("%s[%d]", field, i), v)
		if err != nil {
			return nil, err
		}
		out[i] = shares
	}
	return out, nil
}

func parseBool(field, value string) (bool, error) {
	if value == "" {
		return false, badRequest("%s is required", field)
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, badRequest("%s %q is not a boolean", field, value)
	}
	return b, nil
}

func parseUint(field, value string, bits int) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(value), 10, bits)
	if err != nil {
		return 0, badRequest("%s %q is not an unsigned integer", field, value)
	}
	return v, nil
}
