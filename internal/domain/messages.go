package domain

import "encoding/json"

// WebSocket message types from client.
const (
	MsgTypeAuth             = "auth"
	MsgTypePing             = "ping"
	MsgTypeJoinLiveSession  = "join_live_session"
	MsgTypeLeaveLiveSession = "leave_live_session"
	MsgTypeViewerOffer      = "viewer_offer"
	MsgTypeViewerAnswer     = "viewer_answer"
	MsgTypeICECandidate     = "ice_candidate"
	MsgTypeSendMessage      = "send_message"
)

// WebSocket message types to client.
const (
	MsgTypeAuthResult      = "auth_result"
	MsgTypePong            = "pong"
	MsgTypeTeacherLive     = "teacher_live"
	MsgTypeNoTeacher       = "no_teacher"
	MsgTypeTeacherJoined   = "teacher_joined"
	MsgTypeTeacherLeft     = "teacher_left"
	MsgTypeTeacherReplaced = "teacher_replaced"
	MsgTypePeerLeft        = "peer_left"
	MsgTypeNewMessage      = "new_message"
)

// TeacherLiveStatus is the status text sent with teacher_live.
const TeacherLiveStatus = "Teacher is live"

// BaseMessage is the base structure for all WebSocket messages.
type BaseMessage struct {
	Type string `json:"type"`
}

// Server -> Client messages

// AuthResultMessage is sent to client after authentication.
type AuthResultMessage struct {
	Type     string `json:"type"`
	Success  bool   `json:"success"`
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
	Message  string `json:"message,omitempty"`
}

// PongMessage answers a ping frame.
type PongMessage struct {
	Type string `json:"type"`
}

// TeacherLiveMessage tells the room a broadcaster went live.
type TeacherLiveMessage struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

// NoTeacherMessage is sent to a student joining a session with no broadcaster.
type NoTeacherMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// TeacherJoinedMessage hands the broadcaster handle to a joining student.
type TeacherJoinedMessage struct {
	Type       string `json:"type"`
	TeacherSID string `json:"teacher_sid"`
}

// TeacherLeftMessage tells the room the broadcaster is gone.
type TeacherLeftMessage struct {
	Type string `json:"type"`
}

// TeacherReplacedMessage is sent to a broadcaster displaced by another teacher join.
type TeacherReplacedMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// PeerLeftMessage tells the broadcaster which student departed.
type PeerLeftMessage struct {
	Type       string `json:"type"`
	StudentSID string `json:"student_sid"`
}

// ViewerOfferMessage forwards a student's session description to the broadcaster.
type ViewerOfferMessage struct {
	Type    string          `json:"type"`
	FromSID string          `json:"from_sid"`
	SDP     json.RawMessage `json:"sdp"`
}

// ViewerAnswerMessage forwards the broadcaster's answer to a student.
type ViewerAnswerMessage struct {
	Type string          `json:"type"`
	SDP  json.RawMessage `json:"sdp"`
}

// ICECandidateMessage forwards a connectivity candidate to a peer.
type ICECandidateMessage struct {
	Type      string          `json:"type"`
	Candidate json.RawMessage `json:"candidate"`
	From      string          `json:"from"`
}

// NewMessage is a chat message fanned out to a room.
// Message and UserType are passed through untouched; absent values encode as null.
type NewMessage struct {
	Type      string          `json:"type"`
	User      string          `json:"user"`
	Message   json.RawMessage `json:"message"`
	UserType  json.RawMessage `json:"user_type"`
	Timestamp string          `json:"timestamp"`
}

// TimestampLayout formats chat timestamps: UTC, microsecond precision, no offset.
const TimestampLayout = "2006-01-02T15:04:05.000000"
