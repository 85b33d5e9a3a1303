// Package webadmin provides the browser-based administration interface.
//
// # Overview
//
// The admin UI is mounted under /admin and covers:
//
//   - Variables: list, filter by group or name prefix, paginate, add, edit, move, delete
//   - Groups: create, rename, delete (members move to the default group)
//   - Tokens: create, edit remark or secret, regenerate, delete
//   - Settings: history limit, page size, whether new tokens may be created
//   - History: the change ledger, for all variables or one
//
// # Authentication
//
// Login is by a single admin password, compared against a bcrypt hash. A
// successful login creates a random session ID held in memory by
// session.Manager; sessions do not survive a restart. Failed logins are
// counted per client address by loginguard.Guard, and an address over the
// limit gets 429 until its window passes.
//
// # CSRF Protection
//
// Every form carries the double-submit token:
//
//	<input type="hidden" name="csrf_token" value="{{.CSRFToken}}">
//
// POST handlers compare it with the CSRF cookie; the X-CSRF-Token header is
// accepted in place of the form field.
//
// # Templates
//
// Pages use html/template from the embedded templates directory. Each page
// template defines "content", which base.html wraps in the navigation and
// flash message layout. Mutations redirect back to the originating page with
// a msg or error query parameter.
package webadmin
