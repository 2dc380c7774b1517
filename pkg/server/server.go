package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/bastiangx/codeserve/internal/logger"
	"github.com/bastiangx/codeserve/internal/utils"
	"github.com/bastiangx/codeserve/pkg/completion"
	"github.com/bastiangx/codeserve/pkg/corpus"
	"github.com/bastiangx/codeserve/pkg/match"
	"github.com/bastiangx/codeserve/pkg/trigger"
)

// Store is what the server needs from the corpus store.
type Store interface {
	completion.Store
	Languages() []string
	Stats() corpus.Stats
}

// Matcher is a match.Matcher that also reports pass diagnostics.
type Matcher interface {
	match.Matcher
	MatchDetailed(prefix string, c *corpus.Corpus, maxResults int) match.Result
}

// Options configures a Server.
type Options struct {
	// Session is the template for every session controller. SessionID and
	// OnChange are set per session.
	Session completion.Options
	// MaxSessions bounds concurrently open sessions.
	MaxSessions int
}

// DefaultOptions returns the controller defaults and 256 sessions.
func DefaultOptions() Options {
	return Options{
		Session:     completion.DefaultOptions(),
		MaxSessions: 256,
	}
}

// Server handles msgpack IPC for completion sessions.
type Server struct {
	store   Store
	matcher Matcher
	opts    Options
	log     *log.Logger

	reader io.Reader

	writeMu sync.Mutex
	enc     *msgpack.Encoder

	mu       sync.Mutex
	sessions map[string]*session
}

// session is one open editor view.
type session struct {
	ctrl *completion.Controller
	// language is the fallback when input carries no language.
	language string
}

// NewServer creates a server reading requests from r and writing to w.
func NewServer(store Store, matcher Matcher, opts Options, r io.Reader, w io.Writer) *Server {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultOptions().MaxSessions
	}
	return &Server{
		store:    store,
		matcher:  matcher,
		opts:     opts,
		log:      logger.New("ipc"),
		reader:   r,
		enc:      msgpack.NewEncoder(w),
		sessions: make(map[string]*session),
	}
}

// Start serves requests until the input ends or ctx is cancelled. All
// sessions are destroyed on return. A clean end of input or a cancelled ctx
// returns nil.
func (s *Server) Start(ctx context.Context) error {
	defer s.closeAll()

	s.log.Debug("Starting server")
	s.send(Response{Status: statusReady})

	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	msgs := make(chan inbound)
	go s.readLoop(readCtx, msgs)

	for {
		var in inbound
		if ctx.Err() == nil {
			select {
			case <-ctx.Done():
			case in = <-msgs:
			}
		}
		if ctx.Err() != nil {
			s.log.Debug("Stopping server")
			if c, ok := s.reader.(io.Closer); ok {
				c.Close()
			}
			return nil
		}

		if in.err != nil {
			if errors.Is(in.err, io.EOF) || errors.Is(in.err, io.ErrUnexpectedEOF) {
				s.log.Debug("Input closed")
				return nil
			}
			return fmt.Errorf("reading request: %w", in.err)
		}

		var req Request
		if err := msgpack.Unmarshal(in.raw, &req); err != nil {
			s.log.Warnf("Invalid request: %v", err)
			s.send(errorResponse("", "invalid request"))
			continue
		}
		s.send(s.handle(ctx, req))
	}
}

// inbound is one raw message or the read error that ended the input.
type inbound struct {
	raw msgpack.RawMessage
	err error
}

// readLoop decodes messages off the reader until it fails or ctx is done.
// A blocked read outlives ctx only until the reader is closed.
func (s *Server) readLoop(ctx context.Context, out chan<- inbound) {
	dec := msgpack.NewDecoder(bufio.NewReader(s.reader))
	for {
		// Decode the raw message first so a request of the wrong shape is
		// answered with an error instead of desynchronising the stream.
		var raw msgpack.RawMessage
		err := dec.Decode(&raw)
		select {
		case out <- inbound{raw: raw, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// handle runs one request and returns its response.
func (s *Server) handle(ctx context.Context, req Request) Response {
	s.log.Debug("Request", "id", req.ID, "op", req.Op, "session", req.Session)

	switch req.Op {
	case "open":
		return s.handleOpen(req)
	case "input":
		return s.handleInput(req)
	case "navigate":
		return s.handleNavigate(req)
	case "accept":
		return s.handleAccept(req)
	case "state":
		return s.withSession(req, func(sess *session) Response {
			c := sess.ctrl
			st := toStateMessage(c.State())
			return Response{ID: req.ID, Status: statusOK, Session: c.ID(), State: &st}
		})
	case "close":
		return s.handleClose(req)
	case "complete":
		return s.handleComplete(ctx, req)
	case "languages":
		return Response{ID: req.ID, Status: statusOK, Languages: s.store.Languages()}
	case "memory":
		return s.handleMemory(req)
	case "health":
		return Response{ID: req.ID, Status: statusOK}
	case "":
		return errorResponse(req.ID, "missing op")
	}
	return errorResponse(req.ID, fmt.Sprintf("unknown op: %s", req.Op))
}

func (s *Server) handleOpen(req Request) Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.Session != "" {
		if _, exists := s.sessions[req.Session]; exists {
			return errorResponse(req.ID, "session already open")
		}
	}
	if len(s.sessions) >= s.opts.MaxSessions {
		return errorResponse(req.ID, "too many sessions")
	}

	id := req.Session
	if id == "" {
		id = uuid.NewString()
	}
	opts := s.opts.Session
	opts.SessionID = id
	opts.OnChange = func(st completion.State) {
		s.push(id, st)
	}
	s.sessions[id] = &session{ctrl: completion.New(s.store, s.matcher, opts), language: req.Language}
	s.log.Debugf("Opened session %s (%d open)", id, len(s.sessions))
	return Response{ID: req.ID, Status: statusOK, Session: id}
}

func (s *Server) handleInput(req Request) Response {
	if req.Event == nil {
		return errorResponse(req.ID, "missing event")
	}
	ev, err := toEvent(*req.Event)
	if err != nil {
		return errorResponse(req.ID, err.Error())
	}
	var ctx trigger.Context
	if req.Context != nil {
		ctx = toContext(*req.Context)
	}
	if ctx.Language == "" {
		ctx.Language = req.Language
	}

	return s.withSession(req, func(sess *session) Response {
		c := sess.ctrl
		if ctx.Language == "" {
			ctx.Language = sess.language
		}
		res := c.HandleInput(ev, ctx)
		st := toStateMessage(c.State())
		resp := Response{
			ID:         req.ID,
			Status:     statusOK,
			Session:    c.ID(),
			Action:     res.Decision.Action.String(),
			Reposition: res.Decision.Reposition,
			Consumed:   res.Consumed,
			State:      &st,
		}
		if res.Decision.Action == trigger.Navigate {
			resp.Direction = res.Decision.Direction.String()
		}
		if res.Insertion != nil {
			resp.Insertion = toInsertionMessage(*res.Insertion)
		}
		return resp
	})
}

func (s *Server) handleNavigate(req Request) Response {
	dir, ok := trigger.ParseDirection(req.Direction)
	if !ok {
		return errorResponse(req.ID, fmt.Sprintf("invalid direction: %q", req.Direction))
	}
	return s.withSession(req, func(sess *session) Response {
		c := sess.ctrl
		c.Navigate(dir)
		st := toStateMessage(c.State())
		return Response{ID: req.ID, Status: statusOK, Session: c.ID(), State: &st}
	})
}

func (s *Server) handleAccept(req Request) Response {
	return s.withSession(req, func(sess *session) Response {
		c := sess.ctrl
		index := c.State().ActiveIndex
		if req.Index != nil {
			index = *req.Index
		}
		ins, ok := c.Accept(index)
		if !ok {
			return errorResponse(req.ID, "nothing to accept")
		}
		st := toStateMessage(c.State())
		return Response{
			ID:        req.ID,
			Status:    statusOK,
			Session:   c.ID(),
			Insertion: toInsertionMessage(ins),
			State:     &st,
		}
	})
}

func (s *Server) handleClose(req Request) Response {
	s.mu.Lock()
	sess, ok := s.sessions[req.Session]
	delete(s.sessions, req.Session)
	s.mu.Unlock()

	if !ok {
		return errorResponse(req.ID, "unknown session")
	}
	sess.ctrl.Destroy()
	return Response{ID: req.ID, Status: statusOK, Session: req.Session}
}

// handleComplete matches a prefix without a session, the way a host asks for
// completions on demand (e.g. ctrl+space).
func (s *Server) handleComplete(ctx context.Context, req Request) Response {
	if !utils.IsValidPrefix(req.Prefix) {
		return errorResponse(req.ID, fmt.Sprintf("invalid prefix: %q", req.Prefix))
	}
	if !s.store.Supports(req.Language) {
		return errorResponse(req.ID, fmt.Sprintf("unsupported language: %q", req.Language))
	}

	c := s.store.LoadCorpus(ctx, req.Language)
	res := s.matcher.MatchDetailed(req.Prefix, c, req.Limit)
	suggestions := toSuggestionMessages(res.Suggestions)
	return Response{
		ID:          req.ID,
		Status:      statusOK,
		Suggestions: suggestions,
		Count:       len(suggestions),
		TimeTaken:   res.Elapsed.Microseconds(),
		Partial:     res.Partial,
	}
}

func (s *Server) handleMemory(req Request) Response {
	stats := s.store.Stats()
	return Response{
		ID:     req.ID,
		Status: statusOK,
		Memory: &MemoryMessage{
			Bytes:  stats.MemoryBytes,
			Budget: stats.MemoryBudget,
			Cached: stats.Cached,
			Active: stats.Active,
			Failed: stats.Failed,
		},
	}
}

func (s *Server) withSession(req Request, fn func(*session) Response) Response {
	if req.Session == "" {
		return errorResponse(req.ID, "missing session")
	}
	s.mu.Lock()
	sess, ok := s.sessions[req.Session]
	s.mu.Unlock()
	if !ok {
		return errorResponse(req.ID, "unknown session")
	}
	return fn(sess)
}

// Sessions returns the ids of open sessions, sorted.
func (s *Server) Sessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Server) closeAll() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*session)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.ctrl.Destroy()
	}
	if len(sessions) > 0 {
		s.log.Debugf("Closed %d sessions", len(sessions))
	}
}

func (s *Server) push(session string, st completion.State) {
	s.send(Push{Op: "state", Session: session, State: toStateMessage(st)})
}

// send writes one message. Responses and pushes come from different
// goroutines, so writes are serialized.
func (s *Server) send(v any) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.enc.Encode(v); err != nil {
		s.log.Errorf("Writing message: %v", err)
	}
}

func errorResponse(id, msg string) Response {
	return Response{ID: id, Status: statusError, Error: msg}
}

func toEvent(m EventMessage) (trigger.Event, error) {
	ev := trigger.Event{Key: m.Key, Ctrl: m.Ctrl, Meta: m.Meta, Alt: m.Alt}
	switch m.Type {
	case "", "key":
		ev.Type = trigger.EventKey
		if m.Key == "" {
			return ev, errors.New("key event without key")
		}
	case "blur":
		ev.Type = trigger.EventBlur
	case "scroll":
		ev.Type = trigger.EventScroll
	default:
		return ev, fmt.Errorf("unknown event type: %q", m.Type)
	}
	return ev, nil
}

func toContext(m ContextMessage) trigger.Context {
	ctx := trigger.Context{
		Prefix:       m.Prefix,
		Language:     m.Language,
		LineText:     m.Line,
		CharBefore:   m.Before,
		CharAfter:    m.After,
		CursorOffset: m.Cursor,
	}
	if m.Line == "" {
		return ctx
	}
	if ctx.Prefix == "" {
		ctx.Prefix, _ = utils.IdentPrefix(m.Line, m.Cursor)
	}
	// the typed character sits just before the cursor
	if ctx.CharBefore == "" {
		ctx.CharBefore = utils.RuneAt(m.Line, m.Cursor-2)
	}
	if ctx.CharAfter == "" {
		ctx.CharAfter = utils.RuneAt(m.Line, m.Cursor)
	}
	return ctx
}

func toSuggestionMessages(in []match.Suggestion) []SuggestionMessage {
	ranks := utils.CreateRankList(len(in))
	out := make([]SuggestionMessage, len(in))
	for i, sg := range in {
		out[i] = SuggestionMessage{
			Word:  sg.Text,
			Kind:  sg.Kind.String(),
			Score: sg.Score,
			Rank:  ranks[i],
		}
	}
	return out
}

func toStateMessage(st completion.State) StateMessage {
	return StateMessage{
		Visible:     st.Visible,
		Suggestions: toSuggestionMessages(st.Suggestions),
		Active:      st.ActiveIndex,
		Prefix:      st.Prefix,
		Language:    st.Language,
	}
}

func toInsertionMessage(ins completion.Insertion) *InsertionMessage {
	return &InsertionMessage{
		Text:   ins.Text,
		Start:  ins.Replace.Start,
		End:    ins.Replace.End,
		Cursor: ins.NewCursorOffset,
	}
}
