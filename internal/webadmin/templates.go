// ABOUTME: Template rendering functions for the console UI
// ABOUTME: Loads templates from embedded filesystem and renders them

package webadmin

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/yuin/goldmark"
)

// Template data types
type loginData struct {
	Title     string
	Error     string
	CSRFToken string
}

type moderationPageData struct {
	Title       string
	Operator    string
	InstanceURL string
	WindowName  string
	BotUserID   string
	RecoveryKey string
	Guidance    template.HTML
	RelayPath   string
	CSRFToken   string
}

// renderLoginPage renders the login page
func (a *Admin) renderLoginPage(w http.ResponseWriter, errorMsg, csrfToken string) {
	tmpl := template.Must(template.ParseFS(templateFS, "templates/base.html", "templates/login.html"))

	data := loginData{
		Title:     "Login",
		Error:     errorMsg,
		CSRFToken: csrfToken,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		a.logger.Error("failed to render login page", "error", err)
	}
}

// renderModerationPage renders the moderation sign-in page
func (a *Admin) renderModerationPage(w http.ResponseWriter, data moderationPageData) {
	tmpl := template.Must(template.ParseFS(templateFS, "templates/base.html", "templates/moderation.html"))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := tmpl.Execute(w, data); err != nil {
		a.logger.Error("failed to render moderation page", "error", err)
	}
}

// renderGuidance converts the embedded moderation help text to HTML
func renderGuidance() (template.HTML, error) {
	md, err := guidanceFS.ReadFile("guidance/moderation.md")
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := goldmark.Convert(md, &buf); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}
