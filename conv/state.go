package conv

// State identifies the current position in the email dialogue.
type State int

const (
	// StateIdle means no dialogue is in progress; only /start opens one.
	StateIdle State = iota
	StateRole
	StateName
	StatePosition
	StateTone
	StateTopic
	StateRecipientName
	StateRecipientEmail
	StateAttachOrSend
	StateWaitAttachments
	// StateSubject would ask for a subject override, but no transition
	// currently leads here; the subject field stays "auto".
	StateSubject
	StateConfirm
)

var stateNames = map[State]string{
	StateIdle:            "idle",
	StateRole:            "role",
	StateName:            "name",
	StatePosition:        "position",
	StateTone:            "tone",
	StateTopic:           "topic",
	StateRecipientName:   "recipient_name",
	StateRecipientEmail:  "recipient_email",
	StateAttachOrSend:    "attach_or_send",
	StateWaitAttachments: "wait_attachments",
	StateSubject:         "subject",
	StateConfirm:         "confirm",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}
