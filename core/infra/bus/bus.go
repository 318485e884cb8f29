package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Subjects carried on the gridstore bus. Client-bound notices are addressed
// per agent via ClientSubject.
const (
	SubjectClientConnect   = "gridstore.session.connect"
	SubjectClientClose     = "gridstore.session.close"
	SubjectUploadRequest   = "gridstore.upload.request"
	SubjectUploadChunk     = "gridstore.upload.chunk"
	SubjectItemCreate      = "gridstore.upload.item.create"
	SubjectItemUpdate      = "gridstore.upload.item.update"
	SubjectFixInventory    = "gridstore.admin.fix_inventory"
	SubjectCreateInventory = "gridstore.admin.create_inventory"

	clientSubjectPrefix = "gridstore.client."
)

var (
	errNilBus     = errors.New("bus not initialized")
	errEmptyTopic = errors.New("empty subject")
	errNilHandler = errors.New("nil handler")
)

// Message is one decoded delivery. Respond is only usable when the sender
// issued a request.
type Message struct {
	Subject string
	Data    []byte

	reply func([]byte) error
}

// Decode unmarshals the message body into v.
func (m *Message) Decode(v any) error {
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", m.Subject, err)
	}
	return nil
}

// Respond answers a request with a JSON encoded value.
func (m *Message) Respond(v any) error {
	if m.reply == nil {
		return fmt.Errorf("%s: no reply subject", m.Subject)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return m.reply(data)
}

// Handler processes one message. Returning an error built by RetryAfter asks
// a durable consumer to redeliver.
type Handler func(msg *Message) error

// Bus is the publish/subscribe surface used by the session and admin adapters.
type Bus interface {
	Publish(subject string, v any) error
	Subscribe(subject, queue string, handler Handler) error
	Request(ctx context.Context, subject string, v any, out any) error
}

// ClientSubject builds the subject a client's transport listens on.
func ClientSubject(agentID, kind string) string {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return ""
	}
	return clientSubjectPrefix + agentID + "." + kind
}
