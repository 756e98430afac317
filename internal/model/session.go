package model

import (
	"slices"
	"time"
)

type Step int

const (
	StepIdle Step = iota
	StepTitle
	StepDescription
	StepAttachments
	StepConfirm
	StepLink
)

func (s Step) String() string {
	switch s {
	case StepTitle:
		return "title"
	case StepDescription:
		return "description"
	case StepAttachments:
		return "attachments"
	case StepConfirm:
		return "confirm"
	case StepLink:
		return "link"
	default:
		return "idle"
	}
}

// Session состояние диалога одного пользователя.
type Session struct {
	UserID      int64        `json:"user_id" msgpack:"user_id"`
	ChatID      int64        `json:"chat_id" msgpack:"chat_id"`
	Username    string       `json:"username,omitempty" msgpack:"username"`
	TicketID    string       `json:"ticket_id,omitempty" msgpack:"ticket_id"`
	Step        Step         `json:"step" msgpack:"step"`
	Title       string       `json:"title,omitempty" msgpack:"title"`
	Description string       `json:"description,omitempty" msgpack:"description"`
	Files       []RemoteFile `json:"files,omitempty" msgpack:"files"`
	CreatedAt   time.Time    `json:"created_at,omitzero" msgpack:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at,omitzero" msgpack:"updated_at"`
	ExpiresAt   time.Time    `json:"expires_at,omitzero" msgpack:"expires_at"`
}

func (s Session) Clone() Session {
	s.Files = slices.Clone(s.Files)
	return s
}
