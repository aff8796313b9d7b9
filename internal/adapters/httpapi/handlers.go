package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"keystore/go-backend/internal/contracts"
	"keystore/go-backend/internal/relay"
	"keystore/go-backend/pkg/models"
)

const componentName = "httpapi"

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Health())
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := s.service.Balance(r.Context())
	if err != nil {
		s.writeError(w, r, "balance", http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, "stats", http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	if !s.ipLimiter.Allow(clientKey(r), s.now()) {
		s.writeError(w, r, "relay", http.StatusTooManyRequests, errors.New("too many requests"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	var req models.RelayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, "relay", http.StatusRequestEntityTooLarge, errors.New("request body too large"))
			return
		}
		s.writeError(w, r, "relay", http.StatusBadRequest, errors.New("invalid JSON body"))
		return
	}
	req, ok := req.Normalize()
	if !ok {
		s.writeError(w, r, "relay", http.StatusBadRequest, errors.New("missing transaction or identity"))
		return
	}
	raw, err := base64.StdEncoding.DecodeString(req.Transaction)
	if err != nil {
		s.writeError(w, r, "relay", statusFor(contracts.ErrValidation), contracts.Validationf("transaction is not valid base64"))
		return
	}

	res, err := s.service.Relay(r.Context(), relay.Request{Transaction: raw, Identity: req.Identity})
	if err != nil {
		body := models.ErrorResponse{Error: err.Error()}
		if !res.Signature.IsZero() {
			body.Signature = res.Signature.String()
			if res.Confirmation != nil {
				body.Confirmation = res.Confirmation.Outcome.String()
			}
		}
		s.writeErrorBody(w, r, "relay", statusFor(err), err, body)
		return
	}
	out := models.RelayResponse{
		Signature: res.Signature.String(),
		Status:    models.RelayStatusSuccess,
	}
	if res.Confirmation != nil {
		out.Confirmation = res.Confirmation.Outcome.String()
	}
	writeJSON(w, http.StatusOK, out)
}

// statusFor maps relay errors onto the HTTP contract: rate limiting is 429,
// every other failure is reported as 500 with its message.
func statusFor(err error) int {
	if contracts.ErrorCategory(err) == contracts.ErrorCategoryRateLimit {
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, operation string, status int, err error) {
	s.writeErrorBody(w, r, operation, status, err, models.ErrorResponse{Error: err.Error()})
}

func (s *Server) writeErrorBody(w http.ResponseWriter, r *http.Request, operation string, status int, err error, body models.ErrorResponse) {
	level := s.logger.Warn
	if status >= http.StatusInternalServerError {
		level = s.logger.Error
	}
	attrs := []any{
		"component", componentName,
		"operation", operation,
		"status", status,
		"client_ip", clientKey(r),
		"error", err.Error(),
	}
	if body.Signature != "" {
		attrs = append(attrs, "signature", body.Signature)
	}
	level("request failed", attrs...)
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func clientKey(r *http.Request) string {
	remote := strings.TrimSpace(r.RemoteAddr)
	if remote == "" {
		return "ip:unknown"
	}
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return "ip:" + remote
	}
	if strings.TrimSpace(host) == "" {
		return "ip:unknown"
	}
	return "ip:" + host
}
