package request

import (
	"fmt"
	"net/mail"
	"strings"
)

const (
	maxTitleLength = 200
	maxBodyLength  = 64 * 1024
	maxFileSize    = 50 * 1024 * 1024
)

type EmailLinkRequest struct {
	Email string `json:"email" form:"email"`
}

func (r *EmailLinkRequest) GetEmail() string { return r.Email }

func (r *EmailLinkRequest) Validate() error {
	return validateEmail(r.Email)
}

type CreatePostRequest struct {
	Title string   `json:"title"`
	Body  string   `json:"body"`
	Tags  []string `json:"tags,omitempty"`
}

func (r *CreatePostRequest) Validate() error {
	if err := validateTitle(r.Title); err != nil {
		return err
	}
	return validateBody(r.Body)
}

type CreateDiaryEntryRequest struct {
	Title   string `json:"title"`
	Body    string `json:"body"`
	Private bool   `json:"private"`
}

func (r *CreateDiaryEntryRequest) Validate() error {
	if err := validateTitle(r.Title); err != nil {
		return err
	}
	return validateBody(r.Body)
}

// CreateTicketRequest may come from a signed-out visitor, so the reply
// address is always part of the ticket.
type CreateTicketRequest struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Email   string `json:"email"`
}

func (r *CreateTicketRequest) GetEmail() string { return r.Email }

func (r *CreateTicketRequest) Validate() error {
	if strings.TrimSpace(r.Subject) == "" {
		return fmt.Errorf("subject is required")
	}
	if err := validateEmail(r.Email); err != nil {
		return err
	}
	return validateBody(r.Body)
}

type FriendRequest struct {
	Message string `json:"message,omitempty"`
}

func (r *FriendRequest) Validate() error {
	if len(r.Message) > maxTitleLength {
		return fmt.Errorf("message must be at most %d characters", maxTitleLength)
	}
	return nil
}

type UploadFileRequest struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

func (r *UploadFileRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.ContainsAny(r.Name, `/\`) {
		return fmt.Errorf("name must not contain path separators")
	}
	if r.Size <= 0 || r.Size > maxFileSize {
		return fmt.Errorf("size must be between 1 and %d bytes", maxFileSize)
	}
	return nil
}

func validateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("email is invalid")
	}
	return nil
}

func validateTitle(title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("title is required")
	}
	if len(title) > maxTitleLength {
		return fmt.Errorf("title must be at most %d characters", maxTitleLength)
	}
	return nil
}

func validateBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("body is required")
	}
	if len(body) > maxBodyLength {
		return fmt.Errorf("body must be at most %d bytes", maxBodyLength)
	}
	return nil
}
