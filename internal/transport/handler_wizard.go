package transport

import (
	"context"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mosaicfin/onboard/internal/wizard"
	"github.com/mosaicfin/onboard/model"
)

// maxMultipartMemory bounds how much of a multipart submission is held in
// memory before spilling to temp files.
const maxMultipartMemory = 32 << 20

// WizardEngine is the slice of the wizard engine the transport needs.
// *wizard.Engine satisfies it.
type WizardEngine interface {
	Resolve(ctx context.Context, rctx *model.RequestContext, sess *model.Session, urlStep string) (*model.WizardDescriptor, error)
	Submit(ctx context.Context, rctx *model.RequestContext, sess *model.Session, stepID int, in wizard.Input) (*model.SubmissionResult, error)
	History(ctx context.Context, rctx *model.RequestContext) ([]model.SubmissionEvent, error)
}

// handleWizardGet resolves the client's URL step against the session and
// returns the descriptor to render.
func handleWizardGet(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())
		sess := SessionFrom(r.Context())

		desc, err := deps.Engine.Resolve(r.Context(), rctx, sess, r.URL.Query().Get("step"))
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, desc)
	}
}

// handleStepSubmit runs the submission pipeline for one step. The body is
// multipart form data when the step carries file fields, plain form data
// otherwise.
func handleStepSubmit(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())
		sess := SessionFrom(r.Context())

		stepID, err := strconv.Atoi(chi.URLParam(r, "stepId"))
		if err != nil {
			WriteError(w, r, model.NewBadRequestError("step id must be numeric"))
			return
		}

		in, cleanup, err := parseSubmission(r)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		defer cleanup()

		res, err := deps.Engine.Submit(r.Context(), rctx, sess, stepID, in)
		if err != nil {
			WriteError(w, r, err)
			return
		}

		if res.Completed && deps.Metrics != nil {
			deps.Metrics.RecordWizardCompletion(sess.WizardID)
		}
		WriteJSON(w, http.StatusOK, res)
	}
}

// handleWizardHistory returns the session's submission audit trail.
func handleWizardHistory(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())

		events, err := deps.Engine.History(r.Context(), rctx)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		if events == nil {
			events = []model.SubmissionEvent{}
		}
		WriteJSON(w, http.StatusOK, map[string]any{"events": events})
	}
}

// parseSubmission reads form values and file parts from the request. The
// returned cleanup closes opened file parts and must always be called.
func parseSubmission(r *http.Request) (wizard.Input, func(), error) {
	noop := func() {}
	in := wizard.Input{
		Values: make(map[string]string),
		Files:  make(map[string]wizard.FilePart),
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if !strings.HasPrefix(mediaType, "multipart/") {
		if err := r.ParseForm(); err != nil {
			return in, noop, model.NewBadRequestError("malformed form body")
		}
		for name, vals := range r.PostForm {
			if len(vals) > 0 {
				in.Values[name] = vals[0]
			}
		}
		return in, noop, nil
	}

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return in, noop, model.NewBadRequestError("malformed multipart body")
	}
	form := r.MultipartForm

	for name, vals := range form.Value {
		if len(vals) > 0 {
			in.Values[name] = vals[0]
		}
	}

	var opened []interface{ Close() error }
	cleanup := func() {
		for _, f := range opened {
			_ = f.Close()
		}
		_ = form.RemoveAll()
	}

	for name, headers := range form.File {
		if len(headers) == 0 {
			continue
		}
		hdr := headers[0]
		f, err := hdr.Open()
		if err != nil {
			cleanup()
			return in, noop, model.NewBadRequestError("unreadable file part " + name)
		}
		opened = append(opened, f)
		in.Files[name] = wizard.FilePart{
			Filename:    hdr.Filename,
			ContentType: hdr.Header.Get("Content-Type"),
			Size:        hdr.Size,
			Content:     f,
		}
	}

	return in, cleanup, nil
}
