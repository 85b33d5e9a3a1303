// ABOUTME: Admin handlers for API tokens, settings and the history ledger
// ABOUTME: Token secrets are shown to the admin; the Default token cannot be deleted

package webadmin

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/2389/valueapi/internal/store"
	"github.com/2389/valueapi/internal/tokens"
)

func (a *Admin) handleTokensPage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a.render(w, http.StatusOK, "tokens.html", tokensPageData{
		layout:        a.pageLayout(w, r, "Tokens", "tokens"),
		Tokens:        a.tokens.List(ctx),
		AllowNewToken: a.tokens.Settings(ctx).AllowNewToken,
	})
}

func (a *Admin) handleTokenAdd(w http.ResponseWriter, r *http.Request) {
	t, err := a.tokens.Add(r.Context(), r.FormValue("name"), r.FormValue("remark"))
	if err != nil {
		redirectBack(w, r, "/admin/tokens", "error", userMessage(err))
		return
	}
	a.logger.Info("token added from admin", "name", t.Name, "ip", a.clientAddr(r))
	redirectBack(w, r, "/admin/tokens", "msg", "Created token "+t.Name)
}

func (a *Admin) handleTokenEdit(w http.ResponseWriter, r *http.Request) {
	name := r.FormValue("name")
	remark := r.FormValue("remark")
	edit := tokens.Edit{
		Remark:     &remark,
		Regenerate: r.FormValue("regenerate") != "",
	}
	if secret := r.FormValue("token"); secret != "" && !edit.Regenerate {
		edit.Secret = &secret
	}

	if _, err := a.tokens.Edit(r.Context(), name, edit); err != nil {
		redirectBack(w, r, "/admin/tokens", "error", userMessage(err))
		return
	}
	a.logger.Info("token edited from admin", "name", name, "ip", a.clientAddr(r))
	redirectBack(w, r, "/admin/tokens", "msg", "Saved token "+name)
}

func (a *Admin) handleTokenDelete(w http.ResponseWriter, r *http.Request) {
	name := r.FormValue("name")
	if err := a.tokens.Remove(r.Context(), name); err != nil {
		msg := userMessage(err)
		if errors.Is(err, store.ErrProtected) {
			msg = "The Default token cannot be deleted"
		}
		redirectBack(w, r, "/admin/tokens", "error", msg)
		return
	}
	a.logger.Info("token deleted from admin", "name", name, "ip", a.clientAddr(r))
	redirectBack(w, r, "/admin/tokens", "msg", "Deleted token "+name)
}

func (a *Admin) handleSettingsPage(w http.ResponseWriter, r *http.Request) {
	a.render(w, http.StatusOK, "settings.html", settingsPageData{
		layout:   a.pageLayout(w, r, "Settings", "settings"),
		Settings: a.tokens.Settings(r.Context()),
	})
}

func (a *Admin) handleSettingsSave(w http.ResponseWriter, r *http.Request) {
	historyLimit, err1 := strconv.Atoi(r.FormValue("history_limit"))
	pageSize, err2 := strconv.Atoi(r.FormValue("page_size"))
	if err1 != nil || err2 != nil {
		redirectBack(w, r, "/admin/settings", "error", "History limit and page size must be numbers")
		return
	}

	s := tokens.Settings{
		HistoryLimit:  historyLimit,
		PageSize:      pageSize,
		AllowNewToken: r.FormValue("allow_new_token") != "",
	}
	if _, err := a.tokens.UpdateSettings(r.Context(), s); err != nil {
		redirectBack(w, r, "/admin/settings", "error", userMessage(err))
		return
	}
	redirectBack(w, r, "/admin/settings", "msg", "Settings saved")
}

func (a *Admin) handleHistoryPage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.URL.Query().Get("name")

	entries := a.vars.History(ctx)
	if name != "" {
		entries = a.vars.VariableHistory(ctx, name)
	}

	title := "History"
	if name != "" {
		title = "History of " + name
	}
	a.render(w, http.StatusOK, "history.html", historyPageData{
		layout:  a.pageLayout(w, r, title, "history"),
		Name:    name,
		Entries: entries,
		Limit:   a.tokens.Settings(ctx).HistoryLimit,
	})
}
