package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/06Faisal/EcoPulse/internal/api"
	"github.com/06Faisal/EcoPulse/internal/ratelimit"
)

const maxBodyBytes = 1 << 20

type statusResponse struct {
	Status string `json:"status"`
}

type userRequest struct {
	UserID string `json:"user_id"`
}

type predictRequest struct {
	UserID      string `json:"user_id"`
	HorizonDays *int   `json:"horizon_days,omitempty"`
}

type evaluateRequest struct {
	Retrain bool `json:"retrain"`
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (h *Handler) addTrip(w http.ResponseWriter, r *http.Request) {
	var in api.TripInput
	if err := decodeJSON(r, &in, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := h.svc.RecordTrip(r.Context(), in); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (h *Handler) addBill(w http.ResponseWriter, r *http.Request) {
	var in api.BillInput
	if err := decodeJSON(r, &in, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := h.svc.RecordBill(r.Context(), in); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (h *Handler) train(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	userID, err := requireUser(req.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.svc.Train(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) predict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	userID, err := requireUser(req.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	horizon := api.DefaultHorizonDays
	if req.HorizonDays != nil {
		horizon = *req.HorizonDays
	}

	res, err := h.svc.Forecast(r.Context(), userID, horizon)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) cluster(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Cluster(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) evaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := decodeJSON(r, &req, true); err != nil {
		h.writeError(w, r, err)
		return
	}

	report, err := h.svc.Evaluate(r.Context(), req.Retrain)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func requireUser(raw string) (string, error) {
	userID := strings.TrimSpace(raw)
	if userID == "" {
		return "", fmt.Errorf("%w: user_id is required", api.ErrInvalidInput)
	}
	return userID, nil
}

// decodeJSON reads a bounded JSON body into dst. With allowEmpty an empty
// body leaves dst untouched.
func decodeJSON(r *http.Request, dst any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		return fmt.Errorf("%w: malformed JSON body: %v", api.ErrInvalidInput, err)
	}
	return nil
}

// StatusFor maps an operation error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ratelimit.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, api.ErrModelNotFound):
		return http.StatusNotFound
	case errors.Is(err, api.ErrInsufficientData),
		errors.Is(err, api.ErrInsufficientHistory),
		errors.Is(err, api.ErrInsufficientPopulation):
		return http.StatusBadRequest
	case errors.Is(err, api.ErrInvalidInput),
		errors.Is(err, api.ErrInvalidHorizon),
		errors.Is(err, api.ErrInvalidTestRatio):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "path", r.URL.Path, "error", err, "request_id", RequestID(r.Context()))
		writeDetail(w, status, "internal server error")
		return
	}
	writeDetail(w, status, err.Error())
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
