package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sprite-ai/crev/internal/diff"
	"github.com/sprite-ai/crev/internal/model"
	"github.com/sprite-ai/crev/internal/review"
	"github.com/sprite-ai/crev/internal/store"
)

// --- Health ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Analyze ---

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req review.Request
	if err := readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	run, err := s.analyze(r, req)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

// --- Parse ---

type parseRequest struct {
	Diff string `json:"diff"`
}

type parseResponse struct {
	Files []model.ChangeRecord `json:"files"`
	Stats diffStatsJSON        `json:"stats"`
}

type diffStatsJSON struct {
	Files   int `json:"files"`
	Added   int `json:"added"`
	Deleted int `json:"deleted"`
}

func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	var req parseRequest
	if err := readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	if req.Diff == "" {
		s.writeError(w, http.StatusBadRequest, "diff is required")
		return
	}

	files, err := diff.ParsePatch(strings.NewReader(req.Diff))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, parseResponse{Files: files, Stats: stats(files)})
}

func stats(files []model.ChangeRecord) diffStatsJSON {
	st := diffStatsJSON{Files: len(files)}
	for _, f := range files {
		st.Added += f.LinesAdded
		st.Deleted += f.LinesRemoved
	}
	return st
}

// --- Runs ---

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	f, err := runFilter(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runs, err := s.svc.History.List(r.Context(), f)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if runs == nil {
		runs = []model.AnalysisRun{}
	}
	s.writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	run, err := s.svc.History.Run(r.Context(), id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleFindings(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if _, err := s.svc.History.Run(r.Context(), id); err != nil {
		s.writeErr(w, err)
		return
	}

	var (
		findings []model.ClassifiedFinding
		err      error
	)
	if name := r.URL.Query().Get("severity"); name != "" {
		sev, perr := model.ParseSeverity(name)
		if perr != nil {
			s.writeError(w, http.StatusBadRequest, perr.Error())
			return
		}
		findings, err = s.svc.History.FindingsBySeverity(r.Context(), id, sev)
	} else {
		findings, err = s.svc.History.Findings(r.Context(), id)
	}
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if findings == nil {
		findings = []model.ClassifiedFinding{}
	}
	s.writeJSON(w, http.StatusOK, findings)
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if _, err := s.svc.History.Run(r.Context(), id); err != nil {
		s.writeErr(w, err)
		return
	}
	changes, err := s.svc.History.Changes(r.Context(), id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if changes == nil {
		changes = []model.ChangeRecord{}
	}
	s.writeJSON(w, http.StatusOK, changes)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	f, err := runFilter(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sum, err := s.svc.History.Metrics(r.Context(), f)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sum)
}

// --- Repositories ---

func (s *Server) handleRepositories(w http.ResponseWriter, r *http.Request) {
	repos, err := s.svc.Repositories.Repositories(r.Context())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if repos == nil {
		repos = []model.RepositoryRef{}
	}
	s.writeJSON(w, http.StatusOK, repos)
}

func (s *Server) handleBranches(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	branches, err := s.svc.Orchestrator.Branches(r.Context(), id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if branches == nil {
		branches = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"branches": branches})
}

// --- Policies ---

type createPolicyRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Rules       string `json:"rules"`
	CreatedBy   int64  `json:"created_by"`
}

type policyVersionRequest struct {
	Rules string `json:"rules"`
}

func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	docs, err := s.svc.Policies.List(r.Context())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if docs == nil {
		docs = []model.PolicyDocument{}
	}
	s.writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req createPolicyRequest
	if err := readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	doc, err := s.svc.Policies.Create(workerContext(r.Context()), req.Name, req.Description, req.Rules, req.CreatedBy)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleNewPolicyVersion(w http.ResponseWriter, r *http.Request) {
	var req policyVersionRequest
	if err := readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	doc, err := s.svc.Policies.NewVersion(workerContext(r.Context()), r.PathValue("name"), req.Rules)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleActivatePolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	doc, err := s.svc.Policies.Activate(workerContext(r.Context()), id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, doc)
}

// --- Helpers ---

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid id: "+r.PathValue("id"))
		return 0, false
	}
	return id, true
}

// runFilter reads user, repository, status, from, to and limit query
// parameters. Times are RFC 3339.
func runFilter(r *http.Request) (store.RunFilter, error) {
	q := r.URL.Query()
	var f store.RunFilter
	var err error
	if v := q.Get("user"); v != "" {
		if f.UserID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return f, badParam("user", v)
		}
	}
	if v := q.Get("repository"); v != "" {
		if f.RepositoryID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return f, badParam("repository", v)
		}
	}
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil || f.Limit < 0 {
			return f, badParam("limit", v)
		}
	}
	if v := q.Get("from"); v != "" {
		if f.From, err = time.Parse(time.RFC3339, v); err != nil {
			return f, badParam("from", v)
		}
	}
	if v := q.Get("to"); v != "" {
		if f.To, err = time.Parse(time.RFC3339, v); err != nil {
			return f, badParam("to", v)
		}
	}
	if v := q.Get("status"); v != "" {
		f.Status = model.RunStatus(strings.ToUpper(v))
	}
	return f, nil
}

type paramError struct{ name, value string }

func (e *paramError) Error() string { return "invalid " + e.name + ": " + e.value }

func badParam(name, value string) error { return &paramError{name, value} }
