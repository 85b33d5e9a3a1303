// ABOUTME: Admin handlers for variable groups
// ABOUTME: Lists groups with member counts and handles add, rename and delete forms

package webadmin

import (
	"net/http"

	"github.com/2389/valueapi/internal/store"
	"github.com/2389/valueapi/internal/vars"
)

func (a *Admin) handleGroupsPage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	counts := make(map[string]int)
	for _, v := range a.vars.ListVariables(ctx, vars.Filter{}) {
		counts[v.GroupID]++
	}

	groups := a.vars.ListGroups(ctx)
	rows := make([]groupRow, 0, len(groups))
	for _, g := range groups {
		rows = append(rows, groupRow{
			Group:     g,
			Count:     counts[g.ID],
			IsDefault: g.ID == store.DefaultGroupID,
		})
	}

	a.render(w, http.StatusOK, "groups.html", groupsPageData{
		layout: a.pageLayout(w, r, "Groups", "groups"),
		Groups: rows,
	})
}

func (a *Admin) handleGroupAdd(w http.ResponseWriter, r *http.Request) {
	g, err := a.vars.CreateGroup(r.Context(), r.FormValue("name"))
	if err != nil {
		redirectBack(w, r, "/admin/groups", "error", userMessage(err))
		return
	}
	redirectBack(w, r, "/admin/groups", "msg", "Created group "+g.Name)
}

func (a *Admin) handleGroupRename(w http.ResponseWriter, r *http.Request) {
	g, err := a.vars.RenameGroup(r.Context(), r.FormValue("id"), r.FormValue("name"))
	if err != nil {
		redirectBack(w, r, "/admin/groups", "error", userMessage(err))
		return
	}
	redirectBack(w, r, "/admin/groups", "msg", "Renamed group to "+g.Name)
}

func (a *Admin) handleGroupDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.vars.DeleteGroup(r.Context(), r.FormValue("id")); err != nil {
		redirectBack(w, r, "/admin/groups", "error", userMessage(err))
		return
	}
	redirectBack(w, r, "/admin/groups", "msg", "Group deleted, its variables moved to the default group")
}
