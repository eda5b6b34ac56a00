package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"vigil/internal/georisk"
	"vigil/internal/twofactor"
	dErrors "vigil/pkg/domain-errors"
)

// adminRoutes exposes the two-factor lifecycle and the geo classifier on a
// small JSON surface. It is meant to sit behind the deployment's own
// authentication proxy, not to be internet-facing.
func adminRoutes(r chi.Router, twoFactor *twofactor.Service, classifier *georisk.Classifier) {
	r.Route("/v1/2fa", func(r chi.Router) {
		r.Post("/setup", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				UserID string `json:"user_id"`
				Label  string `json:"label"`
			}
			if !decode(w, req, &body) {
				return
			}
			result, err := twoFactor.Setup(req.Context(), body.UserID, body.Label)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, result)
		})

		r.Post("/enable", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				UserID string `json:"user_id"`
				Code   string `json:"code"`
			}
			if !decode(w, req, &body) {
				return
			}
			ok, err := twoFactor.Enable(req.Context(), body.UserID, body.Code)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]bool{"enabled": ok})
		})

		r.Post("/verify", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				UserID string `json:"user_id"`
				Code   string `json:"code"`
			}
			if !decode(w, req, &body) {
				return
			}
			ok, err := twoFactor.Verify(req.Context(), body.UserID, body.Code)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]bool{"verified": ok})
		})

		r.Post("/disable", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				UserID   string `json:"user_id"`
				ReauthOK bool   `json:"reauth_ok"`
			}
			if !decode(w, req, &body) {
				return
			}
			ok, err := twoFactor.Disable(req.Context(), body.UserID, body.ReauthOK)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]bool{"disabled": ok})
		})

		r.Post("/backup-codes", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				UserID string `json:"user_id"`
			}
			if !decode(w, req, &body) {
				return
			}
			codes, err := twoFactor.RegenerateBackupCodes(req.Context(), body.UserID)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string][]string{"backup_codes": codes})
		})
	})

	if classifier != nil {
		r.Get("/v1/geo/{ip}", func(w http.ResponseWriter, req *http.Request) {
			decision, err := classifier.Classify(req.Context(), chi.URLParam(req, "ip"))
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, decision)
		})
	}
}

func decode(w http.ResponseWriter, req *http.Request, v any) bool {
	if err := json.NewDecoder(req.Body).Decode(v); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var dErr *dErrors.Error
	status := http.StatusInternalServerError
	if errors.As(err, &dErr) {
		switch dErr.Code {
		case dErrors.CodeInvalidInput, dErrors.CodeValidation, dErrors.CodeBadRequest:
			status = http.StatusBadRequest
		case dErrors.CodeNotFound:
			status = http.StatusNotFound
		case dErrors.CodeConflict, dErrors.CodeInvariantViolation:
			status = http.StatusConflict
		case dErrors.CodeUnauthorized:
			status = http.StatusUnauthorized
		case dErrors.CodeForbidden:
			status = http.StatusForbidden
		case dErrors.CodeTimeout:
			status = http.StatusGatewayTimeout
		}
	}
	http.Error(w, err.Error(), status)
}
