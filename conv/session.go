package conv

import "sync"

// Field keys collected during the dialogue.
const (
	FieldRole          = "role"
	FieldName          = "name"
	FieldPosition      = "position"
	FieldTone          = "tone"
	FieldTopic         = "topic"
	FieldRecipientName = "recipient_name"
	FieldRecipient     = "recipient"
	// FieldSubject is read by the draft request builder but never written
	// by the dialogue; it defaults to "auto".
	FieldSubject = "subject"
)

// Attachment is one collected file, owned by its session.
type Attachment struct {
	Filename string
	Content  []byte
	MIME     string
}

// Draft is the generated subject/body pair, produced at most once per session.
type Draft struct {
	Subject string
	Body    string
}

// Session holds the mutable state of one in-progress conversation.
// Fields is a map so an answered-but-empty field stays distinct from a
// field that was never asked.
type Session struct {
	State       State
	Fields      map[string]string
	Attachments []Attachment
	Draft       *Draft
}

func newSession() *Session {
	return &Session{State: StateIdle, Fields: map[string]string{}}
}

// Store keeps sessions keyed by chat id. Sessions live in memory for the
// duration of one dialogue; there is no persistence across restarts.
type Store struct {
	mu       sync.Mutex
	sessions map[int64]*Session
}

func NewStore() *Store {
	return &Store{sessions: map[int64]*Session{}}
}

// Get returns the session for chatID, if one exists.
func (st *Store) Get(chatID int64) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[chatID]
	return s, ok
}

// GetOrCreate returns the session for chatID, creating an idle one if needed.
func (st *Store) GetOrCreate(chatID int64) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[chatID]
	if !ok {
		s = newSession()
		st.sessions[chatID] = s
	}
	return s
}

// Clear discards the session for chatID, if any.
func (st *Store) Clear(chatID int64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, chatID)
}
