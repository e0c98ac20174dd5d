package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/warshanks/responses-bridge/internal/chat"
	"github.com/warshanks/responses-bridge/internal/emit"
	"github.com/warshanks/responses-bridge/internal/history"
	"github.com/warshanks/responses-bridge/internal/llm"
	"github.com/warshanks/responses-bridge/internal/marker"
	"github.com/warshanks/responses-bridge/internal/status"
	"github.com/warshanks/responses-bridge/internal/usage"
)

// run is the state of one Engine.Run call.
type run struct {
	e       *Engine
	turn    Turn
	model   string
	logger  *slog.Logger
	emitter emit.Emitter
	tools   *llm.ToolRegistry
	emitCtx context.Context

	status *status.Renderer
	usage  usage.Accumulator

	// mu guards the message text. Lock order: status renderer, then mu.
	mu          sync.Mutex
	body        strings.Builder
	statusBlock string

	citations   map[string]int
	responseIDs []string
	turns       int
}

func newRun(ctx context.Context, e *Engine, turn Turn, model string, logger *slog.Logger, emitter emit.Emitter, tools *llm.ToolRegistry) *run {
	r := &run{
		e:         e,
		turn:      turn,
		model:     model,
		logger:    logger,
		emitter:   emitter,
		tools:     tools,
		emitCtx:   context.WithoutCancel(ctx),
		citations: map[string]int{},
	}
	r.status = status.New(r.onStatusChange)
	return r
}

// onStatusChange runs under the renderer lock, so concurrent tool starts
// deliver their status and message events in mutation order.
func (r *run) onStatusChange(u status.Update) {
	r.emit(emit.Status(u.Last.Title, u.Finished))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statusBlock = u.Rendered
	r.emitMessageLocked()
}

func (r *run) contentLocked() string {
	return status.Replace(r.body.String(), r.statusBlock)
}

func (r *run) emitMessageLocked() {
	r.emit(emit.Message(r.contentLocked()))
}

func (r *run) emit(ev emit.Event) {
	if err := r.emitter.Emit(r.emitCtx, ev); err != nil {
		r.logger.Debug("emit failed", "kind", ev.Kind, "error", err)
	}
}

func (r *run) addStatus(title string, content ...string) {
	if err := r.status.Add(title, content...); err != nil {
		r.logger.Debug("status update ignored", "title", title, "error", err)
	}
}

// appendText adds visible text and emits the full message.
func (r *run) appendText(s string) {
	if s == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.body.WriteString(s)
	r.emitMessageLocked()
}

func (r *run) bodyLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.body.Len()
}

// splice inserts marker texts at body offsets, largest offset first so
// earlier offsets stay valid.
func (r *run) splice(inserts []insertion) {
	if len(inserts) == 0 {
		return
	}
	sort.SliceStable(inserts, func(i, j int) bool { return inserts[i].offset > inserts[j].offset })
	r.mu.Lock()
	defer r.mu.Unlock()
	text := r.body.String()
	for _, ins := range inserts {
		offset := min(ins.offset, len(text))
		text = text[:offset] + ins.text + text[offset:]
	}
	r.body.Reset()
	r.body.WriteString(text)
	r.emitMessageLocked()
}

type insertion struct {
	offset int
	text   string
}

// turnState is reset for every upstream call.
type turnState struct {
	index      int
	final      bool
	responseID string
	completed  bool

	sawTextDelta      bool
	sawReasoningDelta bool
	thinkOpen         bool
	thinkUsed         bool

	calls   []llm.ToolCall
	output  []llm.Item // every finished output item, in order
	persist []pendingItem
}

type pendingItem struct {
	offset int
	item   llm.Item
}

func (r *run) loop(ctx context.Context) error {
	cfg := r.e.cfg
	chain, err := r.e.chats.GetChain(ctx, r.turn.ChatID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	// The in-flight assistant node is what this run produces.
	filtered := chain[:0:0]
	for _, node := range chain {
		if node.ID != r.turn.MessageID {
			filtered = append(filtered, node)
		}
	}
	input, err := history.Reconstruct(ctx, r.turn.ChatID, filtered, r.e.items, history.Options{
		ModelID:     r.model,
		StrictModel: cfg.StrictModel,
		Logger:      r.logger,
	})
	if err != nil {
		return err
	}
	instructions := joinNonEmpty("\n\n", input.Instructions, cfg.Instructions)

	next := input.Items
	accumulated := input.Items
	previousID := ""

	for k := 1; k <= cfg.MaxTurns; k++ {
		ts := &turnState{index: k, final: k == cfg.MaxTurns}
		r.turns = k
		req := r.buildRequest(ts, instructions, next, previousID)
		r.logger.Debug("starting turn", "turn", k, "final", ts.final, "input_items", len(req.Input))

		if err := r.stream(ctx, req, ts); err != nil {
			r.closeThink(ts)
			return err
		}
		r.closeThink(ts)
		r.persistTurnItems(ctx, ts)

		if len(ts.calls) == 0 {
			return nil
		}
		if ts.final {
			r.logger.Warn("tool calls requested on final turn were not executed", "turn", k, "calls", len(ts.calls))
			return nil
		}

		outputs := llm.ExecuteToolCalls(ctx, r.tools, ts.calls, llm.ExecOptions{
			MaxParallel: cfg.MaxParallelTools,
			Timeout:     cfg.ToolTimeout,
			OnStart: func(call llm.ToolCall, preview string) {
				r.addStatus(runningTitle(call.Name), preview)
			},
			OnEnd: func(call llm.ToolCall, output string, err error) {
				r.logger.Debug("tool finished", "tool", call.Name, "call_id", call.CallID, "output_len", len(output), "error", err)
			},
		})
		if err := ctx.Err(); err != nil {
			return err
		}
		r.appendMarkers(ctx, outputs)

		if cfg.Store && ts.responseID != "" {
			next = outputs
			previousID = ts.responseID
		} else {
			accumulated = append(append(append([]llm.Item(nil), accumulated...), ts.output...), outputs...)
			next = accumulated
			previousID = ""
		}
	}
	return nil
}

func (r *run) buildRequest(ts *turnState, instructions string, input []llm.Item, previousID string) llm.Request {
	cfg := r.e.cfg
	req := llm.Request{
		Model:              r.model,
		Input:              input,
		Instructions:       instructions,
		Reasoning:          cfg.Reasoning,
		Store:              cfg.Store,
		MaxOutputTokens:    cfg.MaxOutputTokens,
		Temperature:        cfg.Temperature,
		TopP:               cfg.TopP,
		PreviousResponseID: previousID,
	}
	if cfg.Reasoning != nil {
		req.Include = []string{"reasoning.encrypted_content"}
	}
	if r.tools.Len() > 0 {
		req.Tools = r.tools.Definitions()
		req.ParallelToolCalls = cfg.ParallelToolCalls
		if ts.final {
			req.ToolChoice = "none"
		} else {
			req.ToolChoice = "auto"
		}
	}
	if ts.final {
		req.Instructions = joinNonEmpty("\n\n", instructions, finalTurnHint)
	}
	return req
}

func (r *run) stream(ctx context.Context, req llm.Request, ts *turnState) error {
	var stream llm.Stream
	if r.e.cfg.Stream {
		s, err := r.e.client.Stream(ctx, req)
		if err != nil {
			return err
		}
		stream = s
	} else {
		resp, err := r.e.client.Create(ctx, req)
		if err != nil {
			return err
		}
		stream = llm.NewSliceStream(llm.SynthesizeEvents(resp))
	}
	defer stream.Close()

	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if err := r.handle(ts, ev); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if !ts.completed {
		r.logger.Warn("stream ended without a completed event", "turn", ts.index)
	}
	return nil
}

func (r *run) handle(ts *turnState, ev llm.ResponseEvent) error {
	switch ev.Kind {
	case llm.KindCreated:
		r.trackResponse(ts, ev.Response)

	case llm.KindTextDelta:
		r.closeThink(ts)
		ts.sawTextDelta = true
		r.appendText(ev.Delta)

	case llm.KindTextDone:
		if !ts.sawTextDelta {
			r.closeThink(ts)
			r.appendText(ev.Text)
		}

	case llm.KindReasoningDelta:
		ts.sawReasoningDelta = true
		r.appendReasoning(ts, ev.Delta)

	case llm.KindReasoningDone:
		if !ts.sawReasoningDelta {
			r.appendReasoning(ts, ev.Text)
		}

	case llm.KindItemAdded:
		if ev.Item == nil {
			return nil
		}
		if title := itemStatusTitle(*ev.Item); title != "" {
			r.addStatus(title)
		}

	case llm.KindItemDone:
		if ev.Item != nil {
			r.itemDone(ts, *ev.Item)
		}

	case llm.KindAnnotationAdded:
		if ev.Annotation != nil {
			r.annotate(*ev.Annotation)
		}

	case llm.KindCompleted:
		ts.completed = true
		r.trackResponse(ts, ev.Response)
		if ev.Response != nil {
			r.usage.Add(ev.Response.Usage)
			if ev.Response.IncompleteDetails != nil {
				r.logger.Warn("response incomplete", "reason", ev.Response.IncompleteDetails.Reason)
			}
		}

	case llm.KindFailed:
		r.trackResponse(ts, ev.Response)
		return ev.Err()
	}
	return nil
}

func (r *run) trackResponse(ts *turnState, resp *llm.Response) {
	if resp == nil || resp.ID == "" || resp.ID == ts.responseID {
		return
	}
	ts.responseID = resp.ID
	r.responseIDs = append(r.responseIDs, resp.ID)
}

func (r *run) appendReasoning(ts *turnState, text string) {
	if text == "" {
		return
	}
	if !ts.thinkUsed {
		ts.thinkUsed = true
		ts.thinkOpen = true
		r.appendText(history.ThinkOpen)
	}
	if ts.thinkOpen {
		r.appendText(text)
	}
}

func (r *run) closeThink(ts *turnState) {
	if ts.thinkOpen {
		ts.thinkOpen = false
		r.appendText(history.ThinkClose)
	}
}

func (r *run) itemDone(ts *turnState, item llm.Item) {
	ts.output = append(ts.output, item)
	if item.IsVisible() {
		return
	}
	r.closeThink(ts)

	switch item.Type {
	case llm.ItemFunctionCall:
		ts.calls = append(ts.calls, llm.ToolCallFromItem(item))
	case llm.ItemWebSearchCall:
		if query := searchQuery(item.Action); query != "" {
			r.addStatus(itemStatusTitle(item), query)
		}
	case llm.ItemReasoning:
		if !r.e.cfg.PersistReasoning || (item.EncryptedContent == "" && len(item.Summary) == 0) {
			return
		}
	}
	ts.persist = append(ts.persist, pendingItem{offset: r.bodyLen(), item: item})
}

// persistTurnItems stores the turn's non-visible items and splices their
// markers into the text where each item finished.
func (r *run) persistTurnItems(ctx context.Context, ts *turnState) {
	if len(ts.persist) == 0 {
		return
	}
	its := make([]llm.Item, len(ts.persist))
	for i, p := range ts.persist {
		its[i] = p.item
	}
	markers, err := r.e.items.Save(context.WithoutCancel(ctx), r.turn.ChatID, r.turn.MessageID, r.model, its)
	if err != nil {
		r.logger.Warn("failed to persist turn items", "turn", ts.index, "error", err)
		return
	}
	inserts := make([]insertion, len(markers))
	for i, m := range markers {
		inserts[i] = insertion{offset: ts.persist[i].offset, text: marker.Embed(m)}
	}
	r.splice(inserts)
}

// appendMarkers persists items and appends their markers to the text.
func (r *run) appendMarkers(ctx context.Context, its []llm.Item) {
	text, err := r.e.items.Persist(context.WithoutCancel(ctx), r.turn.ChatID, r.turn.MessageID, r.model, its)
	if err != nil {
		r.logger.Warn("failed to persist tool outputs", "error", err)
		return
	}
	r.appendText(text)
}

func (r *run) annotate(ann llm.Annotation) {
	var key string
	c := emit.Citation{Title: ann.Title}
	switch {
	case ann.URL != "":
		c.URL = normalizeURL(ann.URL)
		key = c.URL
		c.Source = ann.Title
		if c.Source == "" {
			if u, err := url.Parse(c.URL); err == nil && u.Host != "" {
				c.Source = u.Host
			} else {
				c.Source = c.URL
			}
		}
	case ann.FileID != "" || ann.Filename != "":
		key = "file:" + ann.FileID + ":" + ann.Filename
		c.Source = ann.Filename
		if c.Source == "" {
			c.Source = ann.FileID
		}
	default:
		return
	}
	if _, seen := r.citations[key]; seen {
		return
	}
	c.Ordinal = len(r.citations) + 1
	r.citations[key] = c.Ordinal
	r.emit(emit.Cite(c))
}

// cleanup runs on every exit path with a context detached from the
// caller's cancellation.
func (r *run) cleanup(ctx context.Context, runErr error) *Result {
	ctx = context.WithoutCancel(ctx)
	cancelled := runErr != nil && (errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded))

	title := ""
	switch {
	case cancelled:
		title = "Stopped"
	case runErr != nil:
		title = "Failed"
		r.appendText("\n\n> **Error:** " + oneLine(runErr.Error()))
		r.emit(emit.Cite(emit.Citation{Source: "error", Document: runErr.Error()}))
	}
	if err := r.status.Finish(title); err != nil {
		r.logger.Debug("status already finished", "error", err)
	}

	r.mu.Lock()
	content := r.contentLocked()
	r.mu.Unlock()
	r.emit(emit.Message(content))

	totals := r.usage.Totals()
	fields := chat.MessageFields{Role: chat.RoleAssistant, Content: content, Model: r.model, Done: true}
	if totals != nil {
		fields.Usage = map[string]any(totals)
	}
	if err := r.e.chats.UpsertMessage(ctx, r.turn.ChatID, r.turn.MessageID, fields); err != nil {
		r.logger.Warn("failed to store assistant message", "error", err)
	}
	r.emit(emit.Completion(totals, true))

	r.release(ctx)

	if runErr != nil && !cancelled {
		r.logger.Error("run failed", "turns", r.turns, "error", runErr)
	} else {
		r.logger.Info("run finished", "turns", r.turns, "cancelled", cancelled, "loops", totals.Int(usage.LoopsKey))
	}
	return &Result{
		Content:     content,
		Usage:       totals,
		Turns:       r.turns,
		ResponseIDs: append([]string(nil), r.responseIDs...),
		Err:         runErr,
	}
}

// release deletes server-side stored responses; failures are logged.
func (r *run) release(ctx context.Context) {
	if !r.e.cfg.Store {
		return
	}
	for _, id := range r.responseIDs {
		releaseCtx, cancel := context.WithTimeout(ctx, r.e.cfg.ReleaseTimeout)
		if err := r.e.client.Delete(releaseCtx, id); err != nil {
			r.logger.Warn("failed to release stored response", "response_id", id, "error", err)
		}
		cancel()
	}
}

func itemStatusTitle(item llm.Item) string {
	switch item.Type {
	case llm.ItemFunctionCall:
		return runningTitle(item.Name)
	case llm.ItemWebSearchCall:
		return "Searching the web…"
	case llm.ItemFileSearchCall:
		return "Searching files…"
	case llm.ItemCodeInterpreterCall:
		return "Running code…"
	case llm.ItemImageGenerationCall:
		return "Generating image…"
	}
	return ""
}

func runningTitle(name string) string {
	return "Running " + name + "…"
}

func searchQuery(action json.RawMessage) string {
	if len(action) == 0 {
		return ""
	}
	var a struct {
		Query   string   `json:"query"`
		Queries []string `json:"queries"`
		URL     string   `json:"url"`
	}
	if err := json.Unmarshal(action, &a); err != nil {
		return ""
	}
	switch {
	case a.Query != "":
		return a.Query
	case len(a.Queries) > 0:
		return strings.Join(a.Queries, ", ")
	}
	return a.URL
}

// normalizeURL drops the utm_source tracking parameter providers append.
func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if !q.Has("utm_source") {
		return raw
	}
	q.Del("utm_source")
	u.RawQuery = q.Encode()
	return u.String()
}

func joinNonEmpty(sep string, parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
