package webapp

import (
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v6/osfs"

	"github.com/ardsquest/cxr-annotator/internal/domain"
	"github.com/ardsquest/cxr-annotator/internal/metadata"
	"github.com/ardsquest/cxr-annotator/internal/schema"
	"github.com/ardsquest/cxr-annotator/internal/session"
	"github.com/ardsquest/cxr-annotator/internal/store"
)

// AnnotatorApp wires the metadata index, the record store and per-user
// sessions behind an HTTP surface.
type AnnotatorApp struct {
	Config   *Config
	Provider *metadata.Provider
	Logger   *slog.Logger

	store    *store.Store
	mu       sync.Mutex
	sessions map[string]*session.Session
}

func NewAnnotatorApp(config *Config, provider *metadata.Provider, logger *slog.Logger) *AnnotatorApp {
	if logger == nil {
		logger = slog.Default()
	}
	var opts []store.Option
	if config.Session.SaveAttempts > 0 && config.SaveBackoff() > 0 {
		opts = append(opts, store.WithRetryPolicy(config.Session.SaveAttempts, config.SaveBackoff()))
	}
	return &AnnotatorApp{
		Config:   config,
		Provider: provider,
		Logger:   logger,
		store:    store.New(osfs.New(config.Data.AnnotationsDir), logger, opts...),
		sessions: make(map[string]*session.Session),
	}
}

func stringOr(str, or string) string {
	if str != "" {
		return str
	} else {
		return or
	}
}

// sessionFor returns the caller's session, building it from the user's
// worklist on first sight. Callers must hold a.mu.
func (a *AnnotatorApp) sessionFor(r *http.Request, username string) (*session.Session, error) {
	if sess, ok := a.sessions[username]; ok {
		return sess, nil
	}
	role := a.Config.RoleOf(username)
	refs, err := a.Provider.ImagesForUser(r.Context(), username, role)
	if err != nil {
		return nil, fmt.Errorf("while loading worklist for %s: %w", username, err)
	}
	var opts []session.Option
	if a.Config.NavInterval() > 0 {
		opts = append(opts, session.WithNavInterval(a.Config.NavInterval()))
	}
	sess, err := session.New(username, role, refs, a.store, a.Logger, opts...)
	if err != nil {
		return nil, err
	}
	a.sessions[username] = sess
	return sess, nil
}

func parseCategory(s string) (session.Category, error) {
	switch s {
	case "study":
		return session.CategoryStudy, nil
	case "view":
		return session.CategoryView, nil
	case "image":
		return session.CategoryDSImage, nil
	}
	return 0, fmt.Errorf("unknown navigation category %q", s)
}

func parseDirection(s string) (session.Direction, error) {
	switch s {
	case "prev":
		return session.Prev, nil
	case "next":
		return session.Next, nil
	}
	return 0, fmt.Errorf("unknown navigation direction %q", s)
}

func (a *AnnotatorApp) GetHTTPHandler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/help", func(w http.ResponseWriter, r *http.Request) {
		username, _, _ := r.BasicAuth()
		role := a.Config.RoleOf(username)
		var markdownBuilder strings.Builder
		fmt.Fprintf(&markdownBuilder, "# [<](/) Annotation help\n")
		fmt.Fprintf(&markdownBuilder, "## Description\n")
		fmt.Fprintf(&markdownBuilder, "> %s\n\n", strings.ReplaceAll(stringOr(a.Config.Meta.Description, "(No description provided)"), "\n", "\n>"))
		fmt.Fprintf(&markdownBuilder, "## Your form (%s)\n\n", role.Display())
		fmt.Fprintf(&markdownBuilder, "Every question below must be answered before moving on.\n\n")
		for _, field := range schema.Fields(role) {
			fmt.Fprintf(&markdownBuilder, "### %s\n", field.Label)
			for _, option := range field.Options {
				fmt.Fprintf(&markdownBuilder, "- %s\n", option)
			}
			fmt.Fprintf(&markdownBuilder, "\n")
		}
		if err := RenderPage(w, "help.html", map[string]any{
			"Title":   "Help",
			"Content": markdownBuilder.String(),
		}); err != nil {
			log.Printf("error: http: while rendering help page: %s", err)
		}
	})

	mux.HandleFunc("/annotate", func(w http.ResponseWriter, r *http.Request) {
		username, _, _ := r.BasicAuth()
		a.mu.Lock()
		defer a.mu.Unlock()
		sess, err := a.sessionFor(r, username)
		if err != nil {
			if errors.Is(err, session.ErrEmptyWorklist) {
				w.WriteHeader(http.StatusOK)
				fmt.Fprintf(w, "no images assigned to %s yet", username)
				return
			}
			w.WriteHeader(http.StatusInternalServerError)
			log.Printf("error: http: while opening session for %s: %s", username, err)
			return
		}
		a.renderAnnotatePage(w, r, sess)
	})

	mux.HandleFunc("/annotate/field", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		username, _, _ := r.BasicAuth()
		a.mu.Lock()
		defer a.mu.Unlock()
		sess, err := a.sessionFor(r, username)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			log.Printf("error: http: while opening session for %s: %s", username, err)
			return
		}
		key := r.FormValue("key")
		value := r.FormValue("value")
		err = sess.SetField(r.Context(), key, value)
		if errors.Is(err, session.ErrUnknownField) || errors.Is(err, session.ErrInvalidOption) {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, "%s", err)
			return
		}
		if err != nil {
			log.Printf("error: http: while saving field %s for %s: %s", key, username, err)
		}
		http.Redirect(w, r, "/annotate", http.StatusSeeOther)
	})

	mux.HandleFunc("/annotate/move", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		username, _, _ := r.BasicAuth()
		a.mu.Lock()
		defer a.mu.Unlock()
		sess, err := a.sessionFor(r, username)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			log.Printf("error: http: while opening session for %s: %s", username, err)
			return
		}
		category, err := parseCategory(r.FormValue("category"))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, "%s", err)
			return
		}
		direction, err := parseDirection(r.FormValue("dir"))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, "%s", err)
			return
		}
		err = sess.Move(r.Context(), category, direction)
		switch {
		case err == nil:
		case errors.Is(err, session.ErrIncompleteForm),
			errors.Is(err, session.ErrTooSoon),
			errors.Is(err, session.ErrSaveInFlight):
			// The page banner explains these; the cursor did not move.
		case errors.Is(err, session.ErrWrongCategory):
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, "%s", err)
			return
		default:
			log.Printf("error: http: while moving %s for %s: %s", r.FormValue("category"), username, err)
		}
		http.Redirect(w, r, "/annotate", http.StatusSeeOther)
	})

	mux.HandleFunc("/asset/current", func(w http.ResponseWriter, r *http.Request) {
		username, _, _ := r.BasicAuth()
		a.mu.Lock()
		sess, err := a.sessionFor(r, username)
		if err != nil {
			a.mu.Unlock()
			w.WriteHeader(http.StatusInternalServerError)
			log.Printf("error: http: while opening session for %s: %s", username, err)
			return
		}
		imagePath := sess.CurrentImage().ImagePath
		a.mu.Unlock()

		log.Printf("http: fetching asset %s", imagePath)
		fullPath := imagePath
		if a.Config.Data.ImagesDir != "" {
			fullPath = path.Join(a.Config.Data.ImagesDir, imagePath)
		}
		f, err := os.Open(fullPath)
		if errors.Is(err, os.ErrNotExist) {
			http.NotFoundHandler().ServeHTTP(w, r)
			return
		}
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			log.Printf("error: http: while serving image asset: %s", err)
			return
		}
		defer f.Close()
		io.Copy(w, f)
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFoundHandler().ServeHTTP(w, r)
			return
		}
		username, _, _ := r.BasicAuth()
		role := a.Config.RoleOf(username)
		var markdownBuilder strings.Builder
		fmt.Fprintf(&markdownBuilder, "# Welcome, %s\n", username)
		fmt.Fprintf(&markdownBuilder, "> %s\n\n", strings.ReplaceAll(stringOr(a.Config.Meta.Description, "Chest X-ray annotation"), "\n", "\n>"))
		fmt.Fprintf(&markdownBuilder, "You are annotating as **%s**.\n\n", role.Display())
		fmt.Fprintf(&markdownBuilder, "[Annotation instructions](/help) ")
		fmt.Fprintf(&markdownBuilder, "[Continue annotating](/annotate)")

		if err := RenderPage(w, "welcome.html", map[string]any{
			"Title":   "Welcome",
			"Content": markdownBuilder.String(),
		}); err != nil {
			log.Printf("error: http: while rendering welcome page: %s", err)
		}
	})

	log.Printf("annotations dir: %s", a.Config.Data.AnnotationsDir)

	var handler http.Handler = mux
	handler = BasicAuth(a.Config, handler)
	handler = HTTPLogger(handler)
	return handler
}

type fieldView struct {
	Key        string
	Label      string
	Options    []string
	Selected   string
	Horizontal bool
}

func (a *AnnotatorApp) renderAnnotatePage(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	current := sess.CurrentImage()
	values := sess.Form().Values()

	meta, err := a.Provider.Lookup(r.Context(), current.ImagePath)
	if err != nil {
		log.Printf("error: http: while looking up metadata for %s: %s", current.ImagePath, err)
	}

	var fields []fieldView
	for _, field := range schema.Fields(sess.Role) {
		fields = append(fields, fieldView{
			Key:        field.Key,
			Label:      field.Label,
			Options:    field.Options,
			Selected:   values[field.Key],
			Horizontal: field.Horizontal,
		})
	}

	studyIdx, studyCount := sess.Position(session.CategoryStudy)
	data := map[string]any{
		"Title":      "Annotate",
		"Username":   sess.Username,
		"Role":       sess.Role.Display(),
		"StudyKey":   current.StudyKey,
		"ImageID":    current.ImageID,
		"Fields":     fields,
		"Complete":   sess.Complete(),
		"Warning":    sess.ConsumeWarning(),
		"Saved":      sess.ConsumeSaved(),
		"StudyIndex": studyIdx + 1,
		"StudyCount": studyCount,
	}
	if meta != nil {
		data["SubjectKey"] = meta.SubjectKey
		if meta.WindowCenter != nil && meta.WindowWidth != nil {
			data["Window"] = fmt.Sprintf("C%.0f / W%.0f", *meta.WindowCenter, *meta.WindowWidth)
		}
	}
	if sess.Role == domain.RoleClinician {
		viewIdx, viewCount := sess.Position(session.CategoryView)
		data["ViewIndex"] = viewIdx + 1
		data["ViewCount"] = viewCount
		data["Categories"] = []string{"view", "study"}
	} else {
		imageIdx, imageCount := sess.Position(session.CategoryDSImage)
		data["ImageIndex"] = imageIdx + 1
		data["ImageCount"] = imageCount
		data["Categories"] = []string{"image"}
	}

	if err := RenderPage(w, "annotate.html", data); err != nil {
		log.Printf("error: http: while rendering annotate page: %s", err)
	}
}
