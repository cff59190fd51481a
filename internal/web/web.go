package web

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/local/docextract/internal/config"
)

// Web serves the operator dashboard: login, document upload, extraction
// progress. API calls are proxied to the local extraction endpoints so the
// dashboard never needs credentials for them.
type Web struct {
	tpl          *template.Template
	username     string
	password     string
	passwordHash string
	port         string
}

func New(cfg config.Config) *Web {
	tpl := template.Must(template.ParseGlob(filepath.Join("web", "templates", "*.html")))
	return &Web{
		tpl:          tpl,
		username:     cfg.Web.Username,
		password:     cfg.Web.Password,
		passwordHash: cfg.Web.PasswordHash,
		port:         cfg.Server.Port,
	}
}

func (w *Web) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/web/login", w.handleLogin)
	mux.HandleFunc("/web/logout", w.handleLogout)
	mux.HandleFunc("/web/", w.requireAuth(w.handleDashboard))
	mux.HandleFunc("/web/dashboard", w.requireAuth(w.handleDashboard))
	mux.HandleFunc("/web/upload", w.requireAuth(w.handleUpload))
	mux.HandleFunc("/web/progress/", w.requireAuth(w.handleProgress))
	mux.HandleFunc("/web/cancel", w.requireAuth(w.handleCancel))
}

func (w *Web) render(wr http.ResponseWriter, name string, data any) {
	_ = w.tpl.ExecuteTemplate(wr, name, data)
}

// checkCredentials verifies the submitted pair. A configured bcrypt hash
// takes precedence over the plaintext password.
func (w *Web) checkCredentials(username, password string) bool {
	if subtle.ConstantTimeCompare([]byte(username), []byte(w.username)) != 1 {
		return false
	}
	if w.passwordHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(w.passwordHash), []byte(password)) == nil
	}
	return w.password != "" && subtle.ConstantTimeCompare([]byte(password), []byte(w.password)) == 1
}

func (w *Web) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(wr http.ResponseWriter, r *http.Request) {
		if w.username == "" || (w.password == "" && w.passwordHash == "") {
			http.Error(wr, "dashboard credentials not configured", http.StatusForbidden)
			return
		}
		c, err := r.Cookie("auth")
		if err != nil || c.Value != "1" {
			http.Redirect(wr, r, "/web/login", http.StatusSeeOther)
			return
		}
		next(wr, r)
	}
}

func (w *Web) handleLogin(wr http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		w.render(wr, "login.html", map[string]any{"Error": r.URL.Query().Get("error")})
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			http.Redirect(wr, r, "/web/login?error=invalid+form", http.StatusSeeOther)
			return
		}
		if w.checkCredentials(r.Form.Get("username"), r.Form.Get("password")) {
			http.SetCookie(wr, &http.Cookie{Name: "auth", Value: "1", Path: "/", HttpOnly: true})
			http.Redirect(wr, r, "/web/dashboard", http.StatusSeeOther)
			return
		}
		http.Redirect(wr, r, "/web/login?error=invalid+credentials", http.StatusSeeOther)
	default:
		wr.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (w *Web) handleLogout(wr http.ResponseWriter, r *http.Request) {
	http.SetCookie(wr, &http.Cookie{Name: "auth", Value: "", Path: "/", MaxAge: -1})
	http.Redirect(wr, r, "/web/login", http.StatusSeeOther)
}

func (w *Web) handleDashboard(wr http.ResponseWriter, r *http.Request) {
	w.render(wr, "dashboard.html", map[string]any{
		"Username": w.username,
	})
}

// handleUpload proxies a multipart upload from the dashboard to the API.
func (w *Web) handleUpload(wr http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		wr.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		http.Error(wr, "invalid multipart form", 400)
		return
	}

	var b bytes.Buffer
	mw := multipart.NewWriter(&b)
	file, hdr, err := r.FormFile("file")
	if err != nil {
		http.Error(wr, "missing file", 400)
		return
	}
	defer file.Close()
	fw, err := mw.CreateFormFile("file", hdr.Filename)
	if err != nil {
		http.Error(wr, "upload error", 500)
		return
	}
	if _, err := io.Copy(fw, file); err != nil {
		http.Error(wr, "upload error", 500)
		return
	}
	_ = mw.Close()

	url := fmt.Sprintf("http://127.0.0.1:%s/api/documents", w.port)
	req, _ := http.NewRequest(http.MethodPost, url, &b)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		http.Error(wr, "request failed", 500)
		return
	}
	defer resp.Body.Close()
	wr.Header().Set("Content-Type", "application/json")
	wr.WriteHeader(resp.StatusCode)
	io.Copy(wr, resp.Body)
}

// handleProgress proxies session status polling for the dashboard.
func (w *Web) handleProgress(wr http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimPrefix(r.URL.Path, "/web/progress/")
	url := fmt.Sprintf("http://127.0.0.1:%s/api/sessions/%s", w.port, sessionID)
	resp, err := http.Get(url)
	if err != nil {
		http.Error(wr, "progress failed", 500)
		return
	}
	defer resp.Body.Close()
	wr.Header().Set("Content-Type", "application/json")
	io.Copy(wr, resp.Body)
}

// handleCancel proxies a cancel request for the session named in the form.
func (w *Web) handleCancel(wr http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		wr.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(wr, "invalid form", 400)
		return
	}
	sessionID := r.Form.Get("session_id")
	if sessionID == "" {
		http.Error(wr, "missing session_id", 400)
		return
	}
	body, _ := json.Marshal(map[string]string{"session_id": sessionID, "reason": "dashboard"})
	url := fmt.Sprintf("http://127.0.0.1:%s/webhook/cancel_session", w.port)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		http.Error(wr, "cancel failed", 500)
		return
	}
	defer resp.Body.Close()
	wr.Header().Set("Content-Type", "application/json")
	io.Copy(wr, resp.Body)
}
