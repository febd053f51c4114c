package web

import (
	"net/http"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/JonMunkholm/mailmerge/internal/core"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := s.service.Template()
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, t)
}

func (s *Server) handleSetTemplate(w http.ResponseWriter, r *http.Request) {
	var t core.Template
	if err := decodeJSON(w, r, &t); err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.service.SetTemplate(t); err != nil {
		s.respondError(w, r, err)
		return
	}
	stored, _ := s.service.Template()
	writeJSON(w, stored)
}

func (s *Server) handleGetFilters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, nonNil(s.service.Filters()))
}

func (s *Server) handleSetFilters(w http.ResponseWriter, r *http.Request) {
	var filters []core.Filter
	if err := decodeJSON(w, r, &filters); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, nonNil(s.service.SetFilters(filters)))
}

func (s *Server) handleGetSorts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, nonNil(s.service.Sorts()))
}

func (s *Server) handleSetSorts(w http.ResponseWriter, r *http.Request) {
	var keys []core.SortKey
	if err := decodeJSON(w, r, &keys); err != nil {
		s.respondError(w, r, err)
		return
	}
	for _, k := range keys {
		if k.Field == "" {
			s.respondError(w, r, &requestError{msg: "sort key without field"})
			return
		}
		if k.Direction != "" && k.Direction != core.SortAsc && k.Direction != core.SortDesc {
			s.respondError(w, r, &requestError{msg: "sort direction must be asc or desc"})
			return
		}
	}
	s.service.SetSorts(keys)
	writeJSON(w, nonNil(s.service.Sorts()))
}

func (s *Server) handleGetRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, nonNil(s.service.Rules()))
}

func (s *Server) handleSetRules(w http.ResponseWriter, r *http.Request) {
	var rules []core.ConditionalRule
	if err := decodeJSON(w, r, &rules); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, nonNil(s.service.SetRules(rules)))
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
