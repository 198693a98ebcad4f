// Package wizard sequences multi-step onboarding and orchestrates step
// submissions against the remote API. Navigation is reconciled against
// the session's persisted position; a submission never advances the
// session unless every remote call in its pipeline succeeded.
package wizard

import (
	"bytes"
	"context"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mosaicfin/onboard/internal/definition"
	"github.com/mosaicfin/onboard/internal/gateway"
	"github.com/mosaicfin/onboard/internal/history"
	"github.com/mosaicfin/onboard/internal/observability"
	"github.com/mosaicfin/onboard/internal/schema"
	"github.com/mosaicfin/onboard/internal/session"
	"github.com/mosaicfin/onboard/model"
)

// Remote is the slice of the gateway client the engine needs.
// *gateway.Client satisfies it.
type Remote interface {
	CreateResource(ctx context.Context, rctx *model.RequestContext, path string, body map[string]any) gateway.Result
	PatchResource(ctx context.Context, rctx *model.RequestContext, pathTemplate, id string, body map[string]any) gateway.Result
	UploadFile(ctx context.Context, rctx *model.RequestContext, file gateway.UploadInput) gateway.Result
}

// Metrics records submission outcomes. Implemented by the metrics layer;
// may be nil.
type Metrics interface {
	ObserveSubmission(wizardID string, stepID int, outcome string)
	ObserveUploadBytes(wizardID string, bytes int64)
}

// FilePart is one uploaded file from a multipart submission.
type FilePart struct {
	Filename    string
	ContentType string
	Size        int64
	Content     io.Reader
}

// Input is a step submission: form values plus uploaded files, keyed by
// field name.
type Input struct {
	Values map[string]string
	Files  map[string]FilePart
}

// Engine sequences wizard steps and runs submission pipelines.
type Engine struct {
	registry    *definition.Registry
	sessions    session.Store
	trail       history.Store
	remote      Remote
	postbackURL string
	log         *zap.Logger
	metrics     Metrics
	now         func() time.Time
}

// NewEngine creates a wizard engine. metrics may be nil.
func NewEngine(registry *definition.Registry, sessions session.Store, trail history.Store, remote Remote, postbackURL string, log *zap.Logger, metrics Metrics) *Engine {
	return &Engine{
		registry:    registry,
		sessions:    sessions,
		trail:       trail,
		remote:      remote,
		postbackURL: postbackURL,
		log:         log,
		metrics:     metrics,
		now:         time.Now,
	}
}

// Resolve reconciles the URL step value with the session's persisted
// position and returns the descriptor to render. A non-numeric or
// out-of-range step resolves to MinStep; a step whose requirements the
// session does not satisfy resolves to the earliest step producing the
// missing fact. Both set Redirect so the client rewrites its URL.
// Resolving onto a mount-triggered step runs its orchestrator and the
// descriptor carries the resulting redirect URL.
func (e *Engine) Resolve(ctx context.Context, rctx *model.RequestContext, sess *model.Session, urlStep string) (*model.WizardDescriptor, error) {
	def, ok := e.registry.GetWizard(sess.WizardID)
	if !ok {
		return nil, model.NewWizardNotFoundError(sess.WizardID)
	}

	target, redirect := resolveStep(&def, urlStep)

	if !sess.Completed {
		if missing, producer, ok := unmetRequirement(&def, def.Step(target), sess); ok {
			e.log.Debug("step precondition unmet, redirecting",
				zap.Int("requested_step", target),
				zap.Int("redirect_step", producer),
				zap.String("missing", missing),
			)
			target = producer
			redirect = true
		}
	}

	step := def.Step(target)
	desc := &model.WizardDescriptor{
		WizardID:     def.ID,
		Name:         def.Name,
		MinStep:      model.MinStep,
		MaxStep:      def.MaxStep(),
		Completed:    sess.Completed,
		Redirect:     redirect,
		RedirectStep: 0,
		Step:         stepDescriptor(&def, step),
		Steps:        stepSummaries(&def, sess),
	}
	if redirect {
		desc.RedirectStep = target
	}

	// Mount-triggered steps run as soon as the client lands on them.
	if !sess.Completed && step.Trigger == model.TriggerMount {
		res, err := e.Submit(ctx, rctx, sess, step.ID, Input{})
		if err != nil {
			return nil, err
		}
		desc.Step.ESignURL = res.ESignURL
		desc.Completed = sess.Completed
		desc.Steps = stepSummaries(&def, sess)
	}

	return desc, nil
}

// History returns the session's submission trail.
func (e *Engine) History(ctx context.Context, rctx *model.RequestContext) ([]model.SubmissionEvent, error) {
	events, err := e.trail.List(ctx, rctx.Tenant, rctx.SessionID)
	if err != nil {
		e.log.Error("history read failed", zap.Error(err), zap.String("session_id", rctx.SessionID))
		return nil, model.NewInternalError()
	}
	return events, nil
}

// Submit runs the submission pipeline for one step: precondition check,
// schema validation, sequential file uploads, then the step's remote
// operation. Any failure leaves the session untouched; only a fully
// successful pipeline advances it.
func (e *Engine) Submit(ctx context.Context, rctx *model.RequestContext, sess *model.Session, stepID int, in Input) (*model.SubmissionResult, error) {
	def, ok := e.registry.GetWizard(sess.WizardID)
	if !ok {
		return nil, model.NewWizardNotFoundError(sess.WizardID)
	}

	// A terminal session never re-enters the pipeline.
	if sess.Completed {
		return nil, model.NewWizardCompletedError()
	}

	step := def.Step(stepID)
	if step == nil {
		return nil, model.NewStepOutOfRangeError(currentOrMin(sess))
	}

	if missing, producer, unmet := unmetRequirement(&def, step, sess); unmet {
		return nil, model.NewStepPreconditionError(producer, missing)
	}

	e.appendEvent(ctx, rctx, stepID, model.EventStepSubmitted, "")

	if step.Operation == model.OperationESign {
		return e.submitESign(ctx, rctx, sess, &def, step)
	}

	if details := schema.Validate(step, in.Values, sniffFiles(in.Files)); len(details) > 0 {
		e.recordFailure(ctx, rctx, &def, stepID, "validation failed")
		return nil, model.NewValidationError(details)
	}

	payload := collectValues(step, in.Values)

	// Uploads run strictly in field order; the first failure aborts the
	// whole submission and no patch call is made.
	for i := range step.Fields {
		f := &step.Fields[i]
		if f.Type != model.FieldTypeFile {
			continue
		}
		part, ok := in.Files[f.Name]
		if !ok {
			continue
		}
		res := e.remote.UploadFile(ctx, rctx, gateway.UploadInput{
			Filename:    part.Filename,
			ContentType: part.ContentType,
			Content:     part.Content,
			Purpose:     uploadPurpose(f),
		})
		if !res.OK() {
			e.recordFailure(ctx, rctx, &def, stepID, "upload "+f.Name+" failed")
			return nil, remoteError(res)
		}
		if e.metrics != nil {
			e.metrics.ObserveUploadBytes(def.ID, part.Size)
		}
		payload[f.PayloadKey()] = res.ID()
	}

	if ce := e.log.Check(zap.DebugLevel, "dispatching step payload"); ce != nil {
		ce.Write(
			zap.String("wizard_id", def.ID),
			zap.Int("step_id", stepID),
			zap.Any("payload", observability.RedactBody(payload, nil)),
		)
	}

	var res gateway.Result
	switch step.Operation {
	case model.OperationCreate:
		res = e.remote.CreateResource(ctx, rctx, def.Resource, payload)
	case model.OperationPatch:
		id, _ := sess.Fact(model.FactKYCRequestID)
		body := payload
		if step.Section != "" {
			body = map[string]any{step.Section: payload}
		}
		res = e.remote.PatchResource(ctx, rctx, def.Resource+"/{id}", id, body)
	default:
		return nil, model.NewInternalError()
	}

	if !res.OK() {
		e.recordFailure(ctx, rctx, &def, stepID, res.JoinedMessages())
		return nil, remoteError(res)
	}
	if appErrs := res.ApplicationErrors(); len(appErrs) > 0 {
		msg := strings.Join(appErrs, ", ")
		e.recordFailure(ctx, rctx, &def, stepID, msg)
		return nil, model.NewRemoteRejectedError(msg)
	}

	for _, fact := range step.Produces {
		if v := res.Field(fact); v != "" {
			sess.SetFact(fact, v)
		} else if id := res.ID(); id != "" {
			sess.SetFact(fact, id)
		}
	}

	return e.advance(ctx, rctx, sess, &def, stepID, res.ID())
}

// submitESign asks the remote API for an e-sign redirect and closes the
// wizard. E-sign steps carry no fields; the signed document comes back
// through the provider's postback, outside this flow.
func (e *Engine) submitESign(ctx context.Context, rctx *model.RequestContext, sess *model.Session, def *model.WizardDefinition, step *model.StepDefinition) (*model.SubmissionResult, error) {
	kycID, _ := sess.Fact(model.FactKYCRequestID)
	res := e.remote.CreateResource(ctx, rctx, "/esigns", map[string]any{
		"kyc_request":  kycID,
		"postback_url": e.postbackURL,
	})
	if !res.OK() {
		e.recordFailure(ctx, rctx, def, step.ID, res.JoinedMessages())
		return nil, remoteError(res)
	}
	if appErrs := res.ApplicationErrors(); len(appErrs) > 0 {
		msg := strings.Join(appErrs, ", ")
		e.recordFailure(ctx, rctx, def, step.ID, msg)
		return nil, model.NewRemoteRejectedError(msg)
	}

	out, err := e.advance(ctx, rctx, sess, def, step.ID, res.ID())
	if err != nil {
		return nil, err
	}
	out.ESignURL = res.Field("redirect_url")
	return out, nil
}

// advance persists the post-success session position. Completing the
// final step clears CurrentStepID and marks the wizard terminal.
func (e *Engine) advance(ctx context.Context, rctx *model.RequestContext, sess *model.Session, def *model.WizardDefinition, stepID int, serverID string) (*model.SubmissionResult, error) {
	next := stepID + 1
	completed := next > def.MaxStep()
	if completed {
		sess.CurrentStepID = 0
		sess.Completed = true
	} else if next > sess.CurrentStepID {
		sess.CurrentStepID = next
	}
	sess.UpdatedAt = e.now()

	if err := e.sessions.Put(ctx, sess); err != nil {
		e.log.Error("session persist failed", zap.Error(err), zap.String("session_id", sess.ID))
		return nil, model.NewInternalError()
	}

	e.appendEvent(ctx, rctx, stepID, model.EventStepCompleted, "")
	if completed {
		e.appendEvent(ctx, rctx, stepID, model.EventWizardCompleted, "")
	}
	if e.metrics != nil {
		e.metrics.ObserveSubmission(def.ID, stepID, "success")
	}

	out := &model.SubmissionResult{OK: true, ServerID: serverID, Completed: completed}
	if !completed {
		out.NextStepID = sess.CurrentStepID
	}
	return out, nil
}

func (e *Engine) recordFailure(ctx context.Context, rctx *model.RequestContext, def *model.WizardDefinition, stepID int, detail string) {
	e.appendEvent(ctx, rctx, stepID, model.EventStepFailed, detail)
	if e.metrics != nil {
		e.metrics.ObserveSubmission(def.ID, stepID, "failure")
	}
}

// appendEvent writes to the audit trail. Best-effort: failures are
// logged and never fail the submission.
func (e *Engine) appendEvent(ctx context.Context, rctx *model.RequestContext, stepID int, event, detail string) {
	err := e.trail.Append(ctx, model.SubmissionEvent{
		ID:        uuid.New().String(),
		SessionID: rctx.SessionID,
		Tenant:    rctx.Tenant,
		StepID:    stepID,
		Event:     event,
		Detail:    detail,
		Timestamp: e.now(),
	})
	if err != nil {
		e.log.Warn("audit append failed",
			zap.Error(err),
			zap.String("session_id", rctx.SessionID),
			zap.String("event", event),
		)
	}
}

// resolveStep parses and clamps the URL step value.
func resolveStep(def *model.WizardDefinition, urlStep string) (step int, redirect bool) {
	n, err := strconv.Atoi(strings.TrimSpace(urlStep))
	if err != nil || n < model.MinStep || n > def.MaxStep() {
		return model.MinStep, true
	}
	return n, false
}

// unmetRequirement reports the first required fact the session does not
// hold, together with the earliest step that produces it.
func unmetRequirement(def *model.WizardDefinition, step *model.StepDefinition, sess *model.Session) (missing string, producer int, unmet bool) {
	if step == nil {
		return "", 0, false
	}
	for _, fact := range step.Requires {
		if _, ok := sess.Fact(fact); ok {
			continue
		}
		return fact, producerStep(def, fact), true
	}
	return "", 0, false
}

// producerStep returns the earliest step producing the fact, falling
// back to MinStep. The definition validator guarantees a producer exists.
func producerStep(def *model.WizardDefinition, fact string) int {
	for i := range def.Steps {
		for _, p := range def.Steps[i].Produces {
			if p == fact {
				return def.Steps[i].ID
			}
		}
	}
	return model.MinStep
}

func stepDescriptor(def *model.WizardDefinition, step *model.StepDefinition) model.StepDescriptor {
	return model.StepDescriptor{
		ID:       step.ID,
		Slug:     step.Slug,
		Title:    step.Title,
		Section:  step.Section,
		Terminal: step.ID == def.MaxStep(),
		Fields:   step.Fields,
	}
}

func stepSummaries(def *model.WizardDefinition, sess *model.Session) []model.StepSummary {
	out := make([]model.StepSummary, 0, len(def.Steps))
	for i := range def.Steps {
		s := &def.Steps[i]
		out = append(out, model.StepSummary{
			ID:     s.ID,
			Slug:   s.Slug,
			Title:  s.Title,
			Status: stepStatus(sess, s.ID),
		})
	}
	return out
}

func stepStatus(sess *model.Session, stepID int) string {
	if sess.Completed {
		return model.StepStatusCompleted
	}
	current := currentOrMin(sess)
	if stepID < current {
		return model.StepStatusCompleted
	}
	if stepID == current {
		return model.StepStatusInProgress
	}
	return model.StepStatusFuture
}

// collectValues keeps only declared non-file fields, trimmed. Unknown
// form keys never reach the remote API.
func collectValues(step *model.StepDefinition, values map[string]string) map[string]any {
	out := make(map[string]any, len(step.Fields))
	for i := range step.Fields {
		f := &step.Fields[i]
		if f.Type == model.FieldTypeFile {
			continue
		}
		v := strings.TrimSpace(values[f.Name])
		if v == "" && f.Default != "" {
			v = f.Default
		}
		if v != "" {
			out[f.PayloadKey()] = v
		}
	}
	return out
}

// sniffFiles reads the first bytes of each upload for content-type
// detection and stitches them back onto the reader, so the later upload
// still streams the full file.
func sniffFiles(files map[string]FilePart) map[string]schema.FileInput {
	out := make(map[string]schema.FileInput, len(files))
	for name, p := range files {
		in := schema.FileInput{Filename: p.Filename, Size: p.Size, ContentType: p.ContentType}
		if p.Content != nil {
			head := make([]byte, 512)
			n, _ := io.ReadFull(p.Content, head)
			in.Head = head[:n]
			p.Content = io.MultiReader(bytes.NewReader(head[:n]), p.Content)
			files[name] = p
		}
		out[name] = in
	}
	return out
}

func uploadPurpose(f *model.FieldDefinition) string {
	if f.File != nil && f.File.Purpose != "" {
		return f.File.Purpose
	}
	return f.Name
}

// remoteError maps a failed gateway result onto the error taxonomy.
func remoteError(res gateway.Result) *model.ErrorEnvelope {
	if res.Kind == gateway.KindNetworkError {
		if res.Timeout {
			return model.NewBackendTimeoutError()
		}
		return model.NewBackendUnavailableError()
	}
	return model.NewRemoteRejectedError(res.JoinedMessages())
}

func currentOrMin(sess *model.Session) int {
	if sess.CurrentStepID >= model.MinStep {
		return sess.CurrentStepID
	}
	return model.MinStep
}
