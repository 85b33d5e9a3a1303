// ABOUTME: Page data types and rendering for the admin UI
// ABOUTME: Pages are base.html plus one page template, all embedded in the binary

package webadmin

import (
	"embed"
	"html/template"
	"net/http"
	"time"

	"github.com/2389/valueapi/internal/history"
	"github.com/2389/valueapi/internal/store"
	"github.com/2389/valueapi/internal/tokens"
)

//go:embed templates/*.html
var templateFS embed.FS

var templateFuncs = template.FuncMap{
	"formatMillis": func(ms int64) string {
		if ms == 0 {
			return ""
		}
		return time.UnixMilli(ms).Local().Format("2006-01-02 15:04:05")
	},
	"deref": func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	},
}

// layout carries the fields base.html reads on every page
type layout struct {
	Title     string
	Nav       string
	CSRFToken string
	Msg       string
	Error     string
	ReturnTo  string
}

// Template data types
type loginData struct {
	Title     string
	Error     string
	CSRFToken string
}

type variablesPageData struct {
	layout
	Variables  []store.Variable
	Groups     []store.Group
	GroupNames map[string]string
	Group      string
	Query      string
	Total      int
	Page       int
	TotalPages int
	PrevURL    string
	NextURL    string
}

type groupRow struct {
	store.Group
	Count     int
	IsDefault bool
}

type groupsPageData struct {
	layout
	Groups []groupRow
}

type tokensPageData struct {
	layout
	Tokens        []tokens.Token
	AllowNewToken bool
}

type settingsPageData struct {
	layout
	Settings tokens.Settings
}

type historyPageData struct {
	layout
	Name    string
	Entries []history.Entry
	Limit   int
}

func (a *Admin) render(w http.ResponseWriter, status int, page string, data any) {
	tmpl := template.Must(template.New("base.html").Funcs(templateFuncs).ParseFS(templateFS, "templates/base.html", "templates/"+page))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := tmpl.Execute(w, data); err != nil {
		a.logger.Error("failed to render page", "page", page, "error", err)
	}
}

// renderLoginPage renders the login page
func (a *Admin) renderLoginPage(w http.ResponseWriter, status int, errorMsg, csrfToken string) {
	tmpl := template.Must(template.ParseFS(templateFS, "templates/login.html"))

	data := loginData{
		Title:     "Login",
		Error:     errorMsg,
		CSRFToken: csrfToken,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := tmpl.Execute(w, data); err != nil {
		a.logger.Error("failed to render login page", "error", err)
	}
}

// pageLayout fills the common fields for an authenticated page
func (a *Admin) pageLayout(w http.ResponseWriter, r *http.Request, title, nav string) layout {
	_, csrfToken := a.ensureCSRFToken(w, r)
	msg, errMsg := flash(r)

	// Flash parameters are dropped so a form posted from this page does not
	// bring back an old message
	q := r.URL.Query()
	q.Del("msg")
	q.Del("error")
	returnTo := r.URL.Path
	if enc := q.Encode(); enc != "" {
		returnTo += "?" + enc
	}

	return layout{
		Title:     title,
		Nav:       nav,
		CSRFToken: csrfToken,
		Msg:       msg,
		Error:     errMsg,
		ReturnTo:  returnTo,
	}
}
