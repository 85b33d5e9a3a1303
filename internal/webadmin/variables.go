// ABOUTME: Admin handlers for the variable list and variable mutations
// ABOUTME: Supports group filtering, name search, pagination, and add/edit/delete/move forms

package webadmin

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/2389/valueapi/internal/vars"
)

func (a *Admin) handleVariablesPage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	filter := vars.Filter{
		GroupID:    q.Get("group"),
		NamePrefix: q.Get("q"),
	}
	all := a.vars.ListVariables(ctx, filter)
	groups := a.vars.ListGroups(ctx)

	names := make(map[string]string, len(groups))
	for _, g := range groups {
		names[g.ID] = g.Name
	}

	pageSize := a.tokens.Settings(ctx).PageSize
	totalPages := (len(all) + pageSize - 1) / pageSize
	if totalPages == 0 {
		totalPages = 1
	}
	page, err := strconv.Atoi(q.Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}
	start := (page - 1) * pageSize
	end := min(start+pageSize, len(all))

	data := variablesPageData{
		layout:     a.pageLayout(w, r, "Variables", "variables"),
		Variables:  all[start:end],
		Groups:     groups,
		GroupNames: names,
		Group:      filter.GroupID,
		Query:      filter.NamePrefix,
		Total:      len(all),
		Page:       page,
		TotalPages: totalPages,
	}
	if page > 1 {
		data.PrevURL = pageURL(q, page-1)
	}
	if page < totalPages {
		data.NextURL = pageURL(q, page+1)
	}

	a.render(w, http.StatusOK, "variables.html", data)
}

func pageURL(q url.Values, page int) string {
	next := url.Values{}
	for k, v := range q {
		if k == "msg" || k == "error" {
			continue
		}
		next[k] = v
	}
	next.Set("page", strconv.Itoa(page))
	return "/admin?" + next.Encode()
}

func (a *Admin) handleVariableAdd(w http.ResponseWriter, r *http.Request) {
	name := r.FormValue("name")
	v, err := a.vars.CreateVariable(r.Context(), name, r.FormValue("value"), r.FormValue("group"))
	if err != nil {
		redirectBack(w, r, "/admin", "error", userMessage(err))
		return
	}
	redirectBack(w, r, "/admin", "msg", "Added "+v.Name)
}

// handleVariableEdit changes only the value. Group changes go through
// handleVariableMove.
func (a *Admin) handleVariableEdit(w http.ResponseWriter, r *http.Request) {
	name := r.FormValue("name")
	if _, err := a.vars.UpdateVariable(r.Context(), name, r.FormValue("value")); err != nil {
		redirectBack(w, r, "/admin", "error", userMessage(err))
		return
	}
	redirectBack(w, r, "/admin", "msg", "Saved "+name)
}

func (a *Admin) handleVariableDelete(w http.ResponseWriter, r *http.Request) {
	name := r.FormValue("name")
	if err := a.vars.DeleteVariable(r.Context(), name); err != nil {
		redirectBack(w, r, "/admin", "error", userMessage(err))
		return
	}
	redirectBack(w, r, "/admin", "msg", "Deleted "+name)
}

func (a *Admin) handleVariableMove(w http.ResponseWriter, r *http.Request) {
	name := r.FormValue("name")
	v, err := a.vars.MoveVariable(r.Context(), name, r.FormValue("group"))
	if err != nil {
		redirectBack(w, r, "/admin", "error", userMessage(err))
		return
	}
	redirectBack(w, r, "/admin", "msg", "Moved "+v.Name)
}
