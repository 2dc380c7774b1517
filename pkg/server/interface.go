/*
Package server implements msgpack IPC for code completion sessions.

Hosts (editor plugins) talk to the server over stdin/stdout. Every message is
a single msgpack map; requests carry an id and an op, and every response
echoes the id with a status.

# IPC

A host opens one session per editor view and forwards its key events:

	{"id": "1", "op": "open", "lang": "cpp"}
	{"id": "1", "status": "ok", "session": "3f1c..."}

	{"id": "2", "op": "input", "session": "3f1c...",
	 "event": {"type": "key", "key": "v"},
	 "ctx": {"lang": "cpp", "line": "std::v", "cursor": 6}}
	{"id": "2", "status": "ok", "action": "show", "consumed": false, "state": {...}}

Match passes are debounced, so the popup contents usually arrive later as an
unsolicited push without an id:

	{"op": "state", "session": "3f1c...", "state": {"v": true, "s": [{"w": "vector", "k": "type", "r": 1}], "a": 0}}

When the response to an input reports consumed, the host must not apply the
key itself. A Tab that accepts a suggestion returns the edit to apply:

	{"id": "3", "status": "ok", "action": "accept", "consumed": true,
	 "insert": {"text": "vector", "start": 5, "end": 6, "cursor": 11}}

Offsets are rune offsets into the line.

The ctx "before" field is the character before the key just typed, not the
character before the cursor: for "std::" with the cursor after the second
colon it is ":", and for "a:" it is "a". Two-character triggers such as "::"
and "->" are recognised from it. Hosts that send "line" may leave it out and
the server derives it from "line" and "cursor".

# Operations

	open       create a session, optionally with a fixed id
	input      feed one editor event to a session
	navigate   move the selection ("up" or "down")
	accept     accept the suggestion at index, or the selected one
	state      read the popup state
	close      destroy a session
	complete   one-shot match of a prefix, no session needed
	languages  list the languages corpora exist for
	memory     corpus cache usage and load failures
	health     liveness check

Errors never close the stream. A response with status "error" carries the
reason in the error field.
*/
package server

// Request is the envelope of every host message.
type Request struct {
	ID        string          `msgpack:"id"`
	Op        string          `msgpack:"op"`
	Session   string          `msgpack:"session,omitempty"`
	Event     *EventMessage   `msgpack:"event,omitempty"`
	Context   *ContextMessage `msgpack:"ctx,omitempty"`
	Direction string          `msgpack:"dir,omitempty"`
	Index     *int            `msgpack:"index,omitempty"`
	Language  string          `msgpack:"lang,omitempty"`
	Prefix    string          `msgpack:"p,omitempty"`
	Limit     int             `msgpack:"l,omitempty"`
}

// EventMessage is a raw editor event. Type is "key" (default), "blur" or "scroll".
type EventMessage struct {
	Type string `msgpack:"type,omitempty"`
	Key  string `msgpack:"key,omitempty"`
	Ctrl bool   `msgpack:"ctrl,omitempty"`
	Meta bool   `msgpack:"meta,omitempty"`
	Alt  bool   `msgpack:"alt,omitempty"`
}

// ContextMessage is the editor state after the event. Prefix, Before and
// After are derived from Line and Cursor when the host leaves them out.
// Before is the character preceding the typed key, at Cursor-2.
type ContextMessage struct {
	Prefix   string `msgpack:"p,omitempty"`
	Language string `msgpack:"lang,omitempty"`
	Line     string `msgpack:"line,omitempty"`
	Before   string `msgpack:"before,omitempty"`
	After    string `msgpack:"after,omitempty"`
	Cursor   int    `msgpack:"cursor"`
}

// SuggestionMessage is one ranked suggestion.
type SuggestionMessage struct {
	Word  string `msgpack:"w"`
	Kind  string `msgpack:"k"`
	Score int    `msgpack:"sc"`
	Rank  uint16 `msgpack:"r"`
}

// StateMessage is a popup snapshot.
type StateMessage struct {
	Visible     bool                `msgpack:"v"`
	Suggestions []SuggestionMessage `msgpack:"s"`
	Active      int                 `msgpack:"a"`
	Prefix      string              `msgpack:"p,omitempty"`
	Language    string              `msgpack:"lang,omitempty"`
}

// InsertionMessage is the edit produced by accepting a suggestion.
type InsertionMessage struct {
	Text   string `msgpack:"text"`
	Start  int    `msgpack:"start"`
	End    int    `msgpack:"end"`
	Cursor int    `msgpack:"cursor"`
}

// MemoryMessage reports the corpus cache.
type MemoryMessage struct {
	Bytes  int64             `msgpack:"bytes"`
	Budget int64             `msgpack:"budget"`
	Cached []string          `msgpack:"cached"`
	Active string            `msgpack:"active,omitempty"`
	Failed map[string]string `msgpack:"failed,omitempty"`
}

// Response answers one request.
type Response struct {
	ID      string `msgpack:"id"`
	Status  string `msgpack:"status"`
	Error   string `msgpack:"error,omitempty"`
	Session string `msgpack:"session,omitempty"`

	// input
	Action     string            `msgpack:"action,omitempty"`
	Direction  string            `msgpack:"dir,omitempty"`
	Reposition bool              `msgpack:"reposition,omitempty"`
	Consumed   bool              `msgpack:"consumed,omitempty"`
	Insertion  *InsertionMessage `msgpack:"insert,omitempty"`
	State      *StateMessage     `msgpack:"state,omitempty"`

	// complete
	Suggestions []SuggestionMessage `msgpack:"s,omitempty"`
	Count       int                 `msgpack:"c,omitempty"`
	TimeTaken   int64               `msgpack:"t,omitempty"`
	Partial     bool                `msgpack:"partial,omitempty"`

	Memory    *MemoryMessage `msgpack:"memory,omitempty"`
	Languages []string       `msgpack:"languages,omitempty"`
}

// Push is an unsolicited state update for a session.
type Push struct {
	Op      string       `msgpack:"op"`
	Session string       `msgpack:"session"`
	State   StateMessage `msgpack:"state"`
}

const (
	statusOK    = "ok"
	statusError = "error"
	statusReady = "ready"
)
