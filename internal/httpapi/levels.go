package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"tisp.org/internal/trust"
)

type createLevelRequest struct {
	Name                      string `json:"name"`
	Level                     string `json:"level"`
	NumericalValue            int    `json:"numerical_value"`
	Description               string `json:"description"`
	DefaultAccessLevel        string `json:"default_access_level"`
	DefaultAnonymizationLevel string `json:"default_anonymization_level"`
}

func (a *API) listLevels(w http.ResponseWriter, r *http.Request) {
	levels, err := a.trust.Levels().ActiveLevelsOrdered(r.Context())
	if err != nil {
		a.writeTrustError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"levels": orEmpty(levels)})
}

func (a *API) createLevel(w http.ResponseWriter, r *http.Request) {
	var req createLevelRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	access := trust.AccessRead
	if strings.TrimSpace(req.DefaultAccessLevel) != "" {
		parsed, err := trust.ParseAccessLevel(req.DefaultAccessLevel)
		if err != nil {
			a.writeTrustError(w, r, err)
			return
		}
		access = parsed
	}
	level, err := a.trust.CreateLevel(r.Context(), actor(r), trust.TrustLevel{
		Name:                      req.Name,
		Level:                     req.Level,
		NumericalValue:            req.NumericalValue,
		Description:               req.Description,
		DefaultAccessLevel:        access,
		DefaultAnonymizationLevel: trust.AnonymizationLevel(strings.ToLower(strings.TrimSpace(req.DefaultAnonymizationLevel))),
	})
	if err != nil {
		a.writeTrustError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, level)
}

func (a *API) deactivateLevel(w http.ResponseWriter, r *http.Request) {
	level, err := a.trust.DeactivateLevel(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		a.writeTrustError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, level)
}
