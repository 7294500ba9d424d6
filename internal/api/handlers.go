package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"maintd/internal/eventbus"
	"maintd/internal/storage"
	"maintd/internal/task"
	"maintd/internal/task/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sched.Status())
}

type schedulerToggle struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleSetScheduler(w http.ResponseWriter, r *http.Request) {
	var body schedulerToggle
	if err := decodeBody(w, r, &body); err != nil {
		writeErr(w, err)
		return
	}
	if body.Enabled == nil {
		writeError(w, http.StatusBadRequest, "required", "enabled")
		return
	}
	st, err := s.sched.SetEnabled(*body.Enabled)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.List())
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleCreateTask accepts a draft body, or ?template=<name> with an optional
// body overriding the template's name, description and enabled flag.
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var d task.Draft
	if name := strings.TrimSpace(r.URL.Query().Get("template")); name != "" {
		var err error
		if d, err = task.FromTemplate(name); err != nil {
			writeErr(w, err)
			return
		}
		if r.ContentLength > 0 {
			var over struct {
				Name        string `json:"name,omitempty"`
				Description string `json:"description,omitempty"`
				Enabled     *bool  `json:"enabled,omitempty"`
			}
			if err := decodeBody(w, r, &over); err != nil {
				writeErr(w, err)
				return
			}
			if strings.TrimSpace(over.Name) != "" {
				d.Name = over.Name
			}
			if strings.TrimSpace(over.Description) != "" {
				d.Description = over.Description
			}
			if over.Enabled != nil {
				d.Enabled = over.Enabled
			}
		}
	} else if err := decodeBody(w, r, &d); err != nil {
		writeErr(w, err)
		return
	}

	t, err := s.store.Create(d)
	if err != nil {
		writeErr(w, err)
		return
	}
	s.publish(eventbus.TaskChanged, t)
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var p task.Patch
	if err := decodeBody(w, r, &p); err != nil {
		writeErr(w, err)
		return
	}
	if p.IsEmpty() {
		writeError(w, http.StatusBadRequest, "no fields to update", "body")
		return
	}
	t, err := s.store.Update(chi.URLParam(r, "id"), p)
	if err != nil {
		writeErr(w, err)
		return
	}
	s.publish(eventbus.TaskChanged, t)
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.Delete(id); err != nil {
		writeErr(w, err)
		return
	}
	s.publish(eventbus.TaskDeleted, map[string]string{"id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetTaskEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := s.store.SetEnabled(chi.URLParam(r, "id"), enabled)
		if err != nil {
			writeErr(w, err)
			return
		}
		s.publish(eventbus.TaskChanged, t)
		writeJSON(w, http.StatusOK, t)
	}
}

func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	out, err := s.sched.RunNow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, task.Templates())
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Settings())
}

// SettingsPatch changes only the launch settings it names.
type SettingsPatch struct {
	SchedulerEnabled    *bool `json:"scheduler_enabled,omitempty"`
	AutoStartScheduler  *bool `json:"auto_start_scheduler,omitempty"`
	StartMinimized      *bool `json:"start_minimized,omitempty"`
	StartupDelaySeconds *int  `json:"startup_delay_seconds,omitempty"`
}

func (p SettingsPatch) apply(st *store.Settings) {
	if p.AutoStartScheduler != nil {
		st.AutoStartScheduler = *p.AutoStartScheduler
	}
	if p.StartMinimized != nil {
		st.StartMinimized = *p.StartMinimized
	}
	if p.StartupDelaySeconds != nil {
		st.StartupDelaySeconds = *p.StartupDelaySeconds
	}
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var p SettingsPatch
	if err := decodeBody(w, r, &p); err != nil {
		writeErr(w, err)
		return
	}
	st, err := s.store.UpdateSettings(p.apply)
	if err != nil {
		writeErr(w, err)
		return
	}
	// The global switch goes through the scheduler so status and events follow.
	if p.SchedulerEnabled != nil && *p.SchedulerEnabled != st.SchedulerEnabled {
		if st, err = s.sched.SetEnabled(*p.SchedulerEnabled); err != nil {
			writeErr(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeErr(w, storage.ErrDisabled)
		return
	}
	q := storage.Query{TaskID: strings.TrimSpace(r.URL.Query().Get("task"))}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "must be a positive integer", "limit")
			return
		}
		q.Limit = n
	}
	runs, err := s.runs.RecentRuns(r.Context(), q)
	if err != nil {
		writeErr(w, err)
		return
	}
	if runs == nil {
		runs = []storage.RunEntry{}
	}
	writeJSON(w, http.StatusOK, runs)
}
