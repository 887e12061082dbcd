package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/remote-jobs-crawler/internal/crawler"
	"github.com/JakeFAU/remote-jobs-crawler/internal/proxy/apollo"
)

const (
	internalError   = "Internal server error"
	missingTerm     = "Please provide a search term"
	invalidJSON     = "Invalid JSON"
	invalidSalary   = "min_salary must be an integer"
	missingCompany  = "Company name and API key are required"
	companyNotFound = "Company domain not found"
)

// search handles GET /search?term=&location=&min_salary=&benefits=&company=.
func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	term := strings.TrimSpace(q.Get("term"))
	if term == "" {
		writeError(w, http.StatusBadRequest, missingTerm)
		return
	}
	filters := crawler.Filters{
		Location: strings.TrimSpace(q.Get("location")),
		Company:  strings.TrimSpace(q.Get("company")),
		Benefits: strings.TrimSpace(q.Get("benefits")),
	}
	if raw := strings.TrimSpace(q.Get("min_salary")); raw != "" {
		salary, err := strconv.Atoi(raw)
		if err != nil || salary < 0 {
			writeError(w, http.StatusBadRequest, invalidSalary)
			return
		}
		filters.MinSalary = salary
	}

	result, err := s.searcher.Search(r.Context(), crawler.SearchQuery{Term: term, Filters: filters})
	if err != nil {
		if errors.Is(err, crawler.ErrInvalidQuery) {
			writeError(w, http.StatusBadRequest, missingTerm)
			return
		}
		s.logger.Error("search failed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("term", term),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, internalError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type companyDomainRequest struct {
	CompanyName string `json:"companyName"`
	APIKey      string `json:"apiKey"`
}

// companyDomain handles POST /get-company-domain.
func (s *Server) companyDomain(w http.ResponseWriter, r *http.Request) {
	var req companyDomainRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, invalidJSON)
		return
	}
	if strings.TrimSpace(req.CompanyName) == "" || strings.TrimSpace(req.APIKey) == "" {
		writeError(w, http.StatusBadRequest, missingCompany)
		return
	}
	orgs, err := s.recruiting.SearchCompanies(r.Context(), req.APIKey, req.CompanyName)
	if err != nil {
		s.logger.Error("company domain lookup failed", zap.String("company", req.CompanyName), zap.Error(err))
		writeError(w, http.StatusInternalServerError, internalError)
		return
	}
	if len(orgs) == 0 {
		writeError(w, http.StatusNotFound, companyNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": orgs})
}

// fetchEmployees handles POST /fetch-employees.
func (s *Server) fetchEmployees(w http.ResponseWriter, r *http.Request) {
	var req apollo.PeopleSearch
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, invalidJSON)
		return
	}
	resp, err := s.recruiting.SearchPeople(r.Context(), req)
	s.relay(w, "fetch employees", resp, err)
}

// fetchEmployeeEmails handles POST /fetch-employees-emails.
func (s *Server) fetchEmployeeEmails(w http.ResponseWriter, r *http.Request) {
	var req apollo.PersonMatch
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, invalidJSON)
		return
	}
	resp, err := s.recruiting.MatchPerson(r.Context(), req)
	s.relay(w, "fetch employee emails", resp, err)
}

// relay writes the upstream reply unchanged, or a normalized 500.
func (s *Server) relay(w http.ResponseWriter, op string, resp apollo.Response, err error) {
	if err != nil {
		s.logger.Error(op+" failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, internalError)
		return
	}
	contentType := resp.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(resp.Body); err != nil {
		s.logger.Warn("relay write failed", zap.Error(err))
	}
}

// listCache handles GET /cache.
func (s *Server) listCache(w http.ResponseWriter, r *http.Request) {
	entries, err := s.cache.List(r.Context())
	if err != nil {
		s.logger.Error("list cache failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, internalError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "stats": s.cache.Stats()})
}

// deleteCache handles DELETE /cache/{term}.
func (s *Server) deleteCache(w http.ResponseWriter, r *http.Request) {
	term := chi.URLParam(r, "term")
	if err := s.cache.Delete(r.Context(), term); err != nil {
		s.logger.Error("delete cache entry failed", zap.String("term", term), zap.Error(err))
		writeError(w, http.StatusInternalServerError, internalError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
