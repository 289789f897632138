package dto

import "clinix/internal/infra/mail"

type MailMessage struct {
	ID      string `json:"id"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Date    string `json:"date,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

type MailMessageList struct {
	Items []MailMessage `json:"items"`
}

type MailAccount struct {
	Email   string `json:"email"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
}

func NewMailMessage(m mail.MessageSummary) MailMessage {
	return MailMessage{
		ID:      m.ID,
		To:      m.To,
		Subject: m.Subject,
		Date:    m.Date,
		Snippet: m.Snippet,
	}
}
