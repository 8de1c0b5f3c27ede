package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrMalformedIntent = errors.New("malformed intent")
	ErrUnknownIntent   = errors.New("unknown intent")
)

// Role is the part a connection plays in a live session.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleTeacher || r == RoleStudent
}

// Intent is one decoded client request. The set of implementations is closed.
type Intent interface {
	Kind() string
	Valid() bool
	intent()
}

// Auth presents a bearer token for the connection.
type Auth struct {
	Token string `json:"token"`
}

// Ping is a keepalive frame.
type Ping struct{}

// JoinSession joins a live session as teacher or student.
type JoinSession struct {
	SessionID SessionID `json:"session_id"`
	Role      Role      `json:"user_type"`
	Password  string    `json:"password,omitempty"`
}

// LeaveSession leaves a live session.
type LeaveSession struct {
	SessionID SessionID `json:"session_id"`
	Role      Role      `json:"user_type"`
}

// ViewerOffer carries a student's offer to the broadcaster.
type ViewerOffer struct {
	TeacherSID string          `json:"teacher_sid"`
	SDP        json.RawMessage `json:"sdp"`
}

// ViewerAnswer carries the broadcaster's answer to one student.
type ViewerAnswer struct {
	ToSID string          `json:"to_sid"`
	SDP   json.RawMessage `json:"sdp"`
}

// ICECandidate carries a connectivity candidate to any peer.
type ICECandidate struct {
	To        string          `json:"to"`
	Candidate json.RawMessage `json:"candidate"`
}

// SendMessage posts a chat message to a session.
type SendMessage struct {
	SessionID SessionID       `json:"session_id"`
	Message   json.RawMessage `json:"message"`
	UserType  json.RawMessage `json:"user_type"`
}

// Disconnect is raised by the transport when a connection goes away.
type Disconnect struct{}

func (Auth) Kind() string         { return MsgTypeAuth }
func (Ping) Kind() string         { return MsgTypePing }
func (JoinSession) Kind() string  { return MsgTypeJoinLiveSession }
func (LeaveSession) Kind() string { return MsgTypeLeaveLiveSession }
func (ViewerOffer) Kind() string  { return MsgTypeViewerOffer }
func (ViewerAnswer) Kind() string { return MsgTypeViewerAnswer }
func (ICECandidate) Kind() string { return MsgTypeICECandidate }
func (SendMessage) Kind() string  { return MsgTypeSendMessage }
func (Disconnect) Kind() string   { return "disconnect" }

func (a Auth) Valid() bool         { return a.Token != "" }
func (Ping) Valid() bool           { return true }
func (j JoinSession) Valid() bool  { return j.SessionID != "" && j.Role.Valid() }
func (l LeaveSession) Valid() bool { return l.SessionID != "" && l.Role.Valid() }
func (o ViewerOffer) Valid() bool  { return o.TeacherSID != "" && present(o.SDP) }
func (a ViewerAnswer) Valid() bool { return a.ToSID != "" && present(a.SDP) }
func (c ICECandidate) Valid() bool { return c.To != "" && present(c.Candidate) }
func (m SendMessage) Valid() bool  { return m.SessionID != "" }
func (Disconnect) Valid() bool     { return true }

func (Auth) intent()         {}
func (Ping) intent()         {}
func (JoinSession) intent()  {}
func (LeaveSession) intent() {}
func (ViewerOffer) intent()  {}
func (ViewerAnswer) intent() {}
func (ICECandidate) intent() {}
func (SendMessage) intent()  {}
func (Disconnect) intent()   {}

// Decode parses one inbound frame into an Intent.
// It returns ErrUnknownIntent for an unrecognised type and ErrMalformedIntent
// when a required field is missing or has the wrong shape.
func Decode(data []byte) (Intent, error) {
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedIntent, err)
	}

	var in Intent
	var err error
	switch base.Type {
	case MsgTypeAuth:
		in, err = decodeAs[Auth](data)
	case MsgTypePing:
		in = Ping{}
	case MsgTypeJoinLiveSession:
		in, err = decodeAs[JoinSession](data)
	case MsgTypeLeaveLiveSession:
		in, err = decodeAs[LeaveSession](data)
	case MsgTypeViewerOffer:
		in, err = decodeAs[ViewerOffer](data)
	case MsgTypeViewerAnswer:
		in, err = decodeAs[ViewerAnswer](data)
	case MsgTypeICECandidate:
		in, err = decodeAs[ICECandidate](data)
	case MsgTypeSendMessage:
		in, err = decodeAs[SendMessage](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownIntent, base.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedIntent, base.Type, err)
	}
	if !in.Valid() {
		return nil, fmt.Errorf("%w: %s: missing required field", ErrMalformedIntent, base.Type)
	}
	return in, nil
}

func decodeAs[T Intent](data []byte) (Intent, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// present reports whether a pass-through payload carries a value.
// Missing, null, false, zero, empty strings, objects and arrays count as
// absent however they are spelled ("{ }", "0.0", "[\n]").
func present(raw json.RawMessage) bool {
	if len(bytes.TrimSpace(raw)) == 0 {
		return false
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return v != ""
	case map[string]interface{}:
		return len(v) > 0
	case []interface{}:
		return len(v) > 0
	}
	return true
}

// SessionID identifies a live session. On the wire it may be a string or a
// number; catalog ids are integers.
type SessionID string

// UnmarshalJSON accepts a JSON string or number. null decodes to "".
func (s *SessionID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = SessionID(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("session_id must be a string or number: %w", err)
	}
	if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		*s = SessionID(strconv.FormatInt(i, 10))
		return nil
	}
	*s = SessionID(n.String())
	return nil
}

func (s SessionID) String() string { return string(s) }
