package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Kind names a push job. The values double as asynq task types.
type Kind string

const (
	KindMessage  Kind = "push:message"
	KindPresence Kind = "push:presence"
)

// Job is a unit of offline delivery work. Users are referenced by id and
// resolved when the job runs.
type Job struct {
	Kind Kind `json:"kind"`

	// message jobs
	RecipientID    string `json:"recipientId,omitempty"`
	SenderID       string `json:"senderId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	Snippet        string `json:"snippet,omitempty"`
	HasAttachment  bool   `json:"hasAttachment,omitempty"`

	// presence jobs
	SubjectID string `json:"subjectId,omitempty"`
	IsOnline  bool   `json:"isOnline,omitempty"`
}

// MessageJob builds the job for a message the recipient could not see live.
func MessageJob(recipientID, senderID, conversationID, snippet string) Job {
	return Job{
		Kind:           KindMessage,
		RecipientID:    recipientID,
		SenderID:       senderID,
		ConversationID: conversationID,
		Snippet:        snippet,
	}
}

// PresenceJob builds the job announcing subjectID's transition to its contacts.
func PresenceJob(subjectID string, isOnline bool) Job {
	return Job{Kind: KindPresence, SubjectID: subjectID, IsOnline: isOnline}
}

// Validate checks the fields required by the job's kind.
func (j Job) Validate() error {
	switch j.Kind {
	case KindMessage:
		if j.RecipientID == "" || j.ConversationID == "" {
			return errors.New("push: message job needs recipient and conversation")
		}
	case KindPresence:
		if j.SubjectID == "" {
			return errors.New("push: presence job needs a subject")
		}
	default:
		return fmt.Errorf("push: unknown job kind %q", j.Kind)
	}
	return nil
}

func encodeJob(j Job) ([]byte, error) {
	if err := j.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(j)
}

func decodeJob(kind string, payload []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(payload, &j); err != nil {
		return Job{}, fmt.Errorf("push: decode job: %w", err)
	}
	if j.Kind == "" {
		j.Kind = Kind(kind)
	}
	if string(j.Kind) != kind {
		return Job{}, fmt.Errorf("push: job kind %q does not match task type %q", j.Kind, kind)
	}
	return j, j.Validate()
}

// Handler processes a job.
type Handler func(ctx context.Context, job Job) error

// Queue accepts jobs for asynchronous processing. Submit must not block on
// delivery.
type Queue interface {
	Submit(ctx context.Context, job Job) error
	Close() error
}
