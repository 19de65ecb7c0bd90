// ABOUTME: Per-request orchestration across conversation, vision, and speech
// ABOUTME: Sequences history, model call, assistant turn, synthesis, and the usage row

package gateway

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/2389/glimpse-gateway/internal/audio"
	"github.com/2389/glimpse-gateway/internal/conversation"
	"github.com/2389/glimpse-gateway/internal/fault"
	"github.com/2389/glimpse-gateway/internal/speech"
	"github.com/2389/glimpse-gateway/internal/store"
	"github.com/2389/glimpse-gateway/internal/vision"
	vfactory "github.com/2389/glimpse-gateway/internal/vision/factory"
)

// defaultPrompt steers the model when the caller supplies no system prompt.
const defaultPrompt = "Describe this image in natural, conversational language. " +
	"Cover the main subjects, the setting, and anything unusual or noteworthy."

// userTurnContent is what history records for the caller's side of an
// exchange. The caller contributes an image rather than text, and images
// are not retained, so replayed history carries this marker instead.
const userTurnContent = "Image uploaded"

// ChatRequest is one normalized describe-image request, already decoded
// and authenticated by the API layer.
type ChatRequest struct {
	Provider       string
	Custom         *vfactory.CustomConfig
	Image          vision.Image
	Prompt         string
	ConversationID string
	TTSEnabled     bool
	TTSVoice       string
	TTSSpeed       float64
	RequestID      string
}

// ChatResult is the assembled outcome of a completed request. AudioURL is
// empty when speech was not requested, is disabled, or failed.
type ChatResult struct {
	Text           string
	AudioURL       string
	ConversationID string
	Provider       string
	Model          string
	LatencyMS      int64
}

// OrchestratorConfig wires the orchestrator's collaborators.
type OrchestratorConfig struct {
	Providers     *vfactory.Factory
	Synthesizer   *speech.Synthesizer // nil disables speech
	Conversations conversation.Store
	Audio         *audio.Manager
	Usage         store.Store
	Events        *Events
	ModelTimeout  time.Duration
	SpeechTimeout time.Duration
	Logger        *slog.Logger
}

// Orchestrator runs the chat state machine: resolve the provider, load and
// extend history, call the model, append the assistant turn, optionally
// synthesize speech, and record usage. It is the only component that knows
// about all the others.
type Orchestrator struct {
	providers     *vfactory.Factory
	synthesizer   *speech.Synthesizer
	conversations conversation.Store
	audio         *audio.Manager
	usage         store.Store
	events        *Events
	modelTimeout  time.Duration
	speechTimeout time.Duration
	logger        *slog.Logger
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	events := cfg.Events
	if events == nil {
		events = NewEvents(logger)
	}
	usage := cfg.Usage
	if usage == nil {
		usage = store.NopStore{}
	}
	return &Orchestrator{
		providers:     cfg.Providers,
		synthesizer:   cfg.Synthesizer,
		conversations: cfg.Conversations,
		audio:         cfg.Audio,
		usage:         usage,
		events:        events,
		modelTimeout:  cfg.ModelTimeout,
		speechTimeout: cfg.SpeechTimeout,
		logger:        logger.With("component", "orchestrator"),
	}
}

// preparedRequest is the state accumulated before the upstream call.
type preparedRequest struct {
	provider       vision.Provider
	request        vision.Request
	conversationID string
}

// prepare resolves the provider, establishes the conversation, and records
// the user turn. Any error here happens before the upstream call, so a
// rejected request has made no vendor traffic. The user turn is appended
// before the call and is not rolled back if the call later fails or is
// cancelled.
func (o *Orchestrator) prepare(ctx context.Context, req ChatRequest) (*preparedRequest, error) {
	provider, err := o.providers.Provider(req.Provider, req.Custom)
	if err != nil {
		return nil, err
	}

	prompt := req.Prompt
	if prompt == "" {
		prompt = defaultPrompt
	}

	convID := req.ConversationID
	if convID == "" {
		convID, err = o.conversations.Create(ctx)
		if err != nil {
			return nil, err
		}
	}

	// History is loaded before the user turn is appended so the current
	// exchange never replays into its own prompt.
	history, err := o.conversations.History(ctx, convID)
	if err != nil {
		return nil, err
	}
	if err := o.conversations.Append(ctx, convID, conversation.RoleUser, userTurnContent); err != nil {
		return nil, err
	}

	turns := make([]vision.Turn, len(history))
	for i, t := range history {
		turns[i] = vision.Turn{Role: vision.Role(t.Role), Content: t.Content}
	}

	return &preparedRequest{
		provider:       provider,
		conversationID: convID,
		request: vision.Request{
			Prompt:  prompt,
			Image:   req.Image,
			History: turns,
		},
	}, nil
}

// Describe runs one non-streaming request end to end.
func (o *Orchestrator) Describe(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	started := time.Now()

	prep, err := o.prepare(ctx, req)
	if err != nil {
		o.recordFailure(ctx, req, req.ConversationID, "", started, err)
		return nil, err
	}

	o.events.UpstreamCallStarted(req.RequestID, req.Provider)

	callCtx, cancel := context.WithTimeout(ctx, o.modelTimeout)
	defer cancel()

	result, err := prep.provider.ProcessImage(callCtx, prep.request)
	if err != nil {
		o.events.UpstreamCallCompleted(req.RequestID, req.Provider, "", time.Since(started), err)
		o.recordFailure(ctx, req, prep.conversationID, "", started, err)
		return nil, err
	}
	o.events.UpstreamCallCompleted(req.RequestID, req.Provider, result.Model, time.Since(started), nil)

	return o.assemble(ctx, req, prep.conversationID, result.Text, result.Model, started), nil
}

// DescribeStream starts one streaming request. The caller drains fragments
// with Recv and must call Finish once Recv reports the end; Finish settles
// the conversation, speech, and usage exactly as the non-streaming path
// does.
func (o *Orchestrator) DescribeStream(ctx context.Context, req ChatRequest) (*ChatStream, error) {
	started := time.Now()

	prep, err := o.prepare(ctx, req)
	if err != nil {
		o.recordFailure(ctx, req, req.ConversationID, "", started, err)
		return nil, err
	}

	o.events.UpstreamCallStarted(req.RequestID, req.Provider)

	callCtx, cancel := context.WithTimeout(ctx, o.modelTimeout)
	stream, err := prep.provider.StreamImage(callCtx, prep.request)
	if err != nil {
		cancel()
		o.events.UpstreamCallCompleted(req.RequestID, req.Provider, "", time.Since(started), err)
		o.recordFailure(ctx, req, prep.conversationID, "", started, err)
		return nil, err
	}

	return &ChatStream{
		orch:    o,
		req:     req,
		convID:  prep.conversationID,
		stream:  stream,
		cancel:  cancel,
		started: started,
	}, nil
}

// assemble finishes a request whose model call succeeded: record the
// assistant turn, synthesize speech when asked, and write the usage row.
// Failures past this point degrade the response rather than fail it.
func (o *Orchestrator) assemble(ctx context.Context, req ChatRequest, convID, text, model string, started time.Time) *ChatResult {
	if err := o.conversations.Append(ctx, convID, conversation.RoleAssistant, text); err != nil {
		o.logger.Warn("assistant turn not recorded",
			"request_id", req.RequestID, "conversation_id", convID, "error", err)
	}

	var audioURL string
	var audioBytes int64
	if req.TTSEnabled {
		audioURL, audioBytes = o.speak(ctx, req, text)
	}

	result := &ChatResult{
		Text:           text,
		AudioURL:       audioURL,
		ConversationID: convID,
		Provider:       req.Provider,
		Model:          model,
		LatencyMS:      time.Since(started).Milliseconds(),
	}
	o.recordUsage(ctx, req, convID, model, store.StatusOK,
		result.LatencyMS, int64(utf8.RuneCountInString(text)), audioBytes)
	return result
}

// speak synthesizes text and stores the audio, returning the asset locator
// and payload size. Every failure path returns empty values; the text
// response stands on its own.
func (o *Orchestrator) speak(ctx context.Context, req ChatRequest, text string) (string, int64) {
	if o.synthesizer == nil {
		o.logger.Debug("speech requested but not configured", "request_id", req.RequestID)
		return "", 0
	}

	speakCtx, cancel := context.WithTimeout(ctx, o.speechTimeout)
	defer cancel()

	res, err := o.synthesizer.Synthesize(speakCtx, text, speech.Options{
		Voice: req.TTSVoice,
		Speed: req.TTSSpeed,
	})
	if err != nil {
		o.logger.Warn("speech synthesis failed, returning text only",
			"request_id", req.RequestID, "error", err)
		return "", 0
	}

	asset, err := o.audio.Store(speakCtx, res.Audio, res.Format, audio.Metadata{
		Voice:            res.Voice,
		Speed:            res.Speed,
		DurationSeconds:  res.DurationSeconds,
		SourceTextLength: utf8.RuneCountInString(text),
	})
	if err != nil {
		o.logger.Warn("audio asset not stored, returning text only",
			"request_id", req.RequestID, "error", err)
		return "", 0
	}
	return asset.URL, int64(asset.SizeBytes)
}

// recordUsage writes one ledger row off the request path. The write runs
// on a detached context so a cancelled caller or a slow ledger never holds
// up the response; a failed insert is logged and dropped.
func (o *Orchestrator) recordUsage(ctx context.Context, req ChatRequest, convID, model, status string, latencyMS, textChars, audioBytes int64) {
	row := &store.Usage{
		RequestID:      req.RequestID,
		Provider:       req.Provider,
		Model:          model,
		ConversationID: convID,
		Status:         status,
		LatencyMS:      latencyMS,
		TextChars:      textChars,
		AudioBytes:     audioBytes,
		CreatedAt:      time.Now().UTC(),
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	go func() {
		defer cancel()
		if err := o.usage.SaveUsage(writeCtx, row); err != nil {
			o.logger.Warn("usage row not recorded", "request_id", req.RequestID, "error", err)
		}
	}()
}

func (o *Orchestrator) recordFailure(ctx context.Context, req ChatRequest, convID string, model string, started time.Time, cause error) {
	status := string(fault.KindOf(cause))
	if status == "" {
		status = "error"
	}
	o.recordUsage(ctx, req, convID, model, status, time.Since(started).Milliseconds(), 0, 0)
}

// ChatStream is one in-flight streaming request. It is not safe for
// concurrent use; a single consumer calls Recv until it reports the end,
// then Finish exactly once.
type ChatStream struct {
	orch    *Orchestrator
	req     ChatRequest
	convID  string
	stream  *vision.Stream
	cancel  context.CancelFunc
	started time.Time

	full   strings.Builder
	done   bool
	result *ChatResult
	err    error
}

// ConversationID reports the conversation this stream belongs to, valid
// from the moment DescribeStream returns.
func (s *ChatStream) ConversationID() string { return s.convID }

// Recv returns the next text fragment. ok is false once the upstream
// response has ended, after which the caller settles with Finish. Receiving
// directly off the adapter's channel keeps the producer at most one
// fragment ahead of the consumer.
func (s *ChatStream) Recv() (text string, ok bool) {
	f, open := <-s.stream.Fragments()
	if !open {
		return "", false
	}
	s.full.WriteString(f.Text)
	return f.Text, true
}

// Finish completes the request once the fragment sequence has ended. On
// upstream success it appends the assistant turn, synthesizes speech when
// requested, and records usage; on upstream failure it reports the error.
// Calling Finish again returns the settled outcome.
func (s *ChatStream) Finish(ctx context.Context) (*ChatResult, error) {
	if s.done {
		return s.result, s.err
	}
	s.done = true
	defer s.cancel()

	meta := s.stream.Meta()
	if err := s.stream.Err(); err != nil {
		s.orch.events.UpstreamCallCompleted(s.req.RequestID, s.req.Provider, meta.Model, time.Since(s.started), err)
		s.orch.recordFailure(ctx, s.req, s.convID, meta.Model, s.started, err)
		s.err = err
		return nil, err
	}

	s.orch.events.UpstreamCallCompleted(s.req.RequestID, s.req.Provider, meta.Model, time.Since(s.started), nil)
	s.result = s.orch.assemble(ctx, s.req, s.convID, s.full.String(), meta.Model, s.started)
	return s.result, nil
}
