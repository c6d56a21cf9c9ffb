package transport

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
)

// Callbacks is the set of typed handlers the push-channel listener
// goroutine (spec.md §5) delegates to once a raw message is
// discriminated by kind.
type Callbacks struct {
	OnTeamMessage    func(teamID string, payload []byte)
	OnMetadataUpdate func(sessionID string, payload []byte)
	OnTaskEvent      func(teamID string, payload []byte)
}

// Listener subscribes to the subjects a running Session Runtime cares
// about and fans raw NATS messages out to typed Callbacks, tracking
// its subscriptions so Close can tear all of them down at shutdown —
// squad's only cancellation signal (spec.md §5).
type Listener struct {
	client *Client
	log    *slog.Logger
	cb     Callbacks

	mu   sync.Mutex
	subs map[string]*nats.Subscription // key: subject
}

// NewListener returns a Listener bound to client, dispatching to cb.
func NewListener(client *Client, cb Callbacks, log *slog.Logger) *Listener {
	if log == nil {
		log = slog.Default()
	}
	return &Listener{client: client, log: log, cb: cb, subs: make(map[string]*nats.Subscription)}
}

// SubscribeTeam subscribes to teamID's messages and task-event
// subjects. Safe to call once per team; a repeat call is a no-op.
func (l *Listener) SubscribeTeam(teamID string) error {
	if err := l.subscribeOnce(TeamMessageSubject(teamID), func(m Message) {
		if l.cb.OnTeamMessage != nil {
			l.cb.OnTeamMessage(teamID, m.Data)
		}
	}); err != nil {
		return err
	}
	return l.subscribeOnce(TeamTaskEventSubject(teamID), func(m Message) {
		if l.cb.OnTaskEvent != nil {
			l.cb.OnTaskEvent(teamID, m.Data)
		}
	})
}

// SubscribeSessionMetadata subscribes to sessionID's metadata-update subject.
func (l *Listener) SubscribeSessionMetadata(sessionID string) error {
	return l.subscribeOnce(SessionMetadataSubject(sessionID), func(m Message) {
		if l.cb.OnMetadataUpdate != nil {
			l.cb.OnMetadataUpdate(sessionID, m.Data)
		}
	})
}

func (l *Listener) subscribeOnce(subject string, handler func(Message)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.subs[subject]; ok {
		return nil
	}
	sub, err := l.client.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("transport: listener subscribe: %w", err)
	}
	l.subs[subject] = sub
	return nil
}

// UnsubscribeTeam tears down teamID's subscriptions, e.g. when a
// session leaves a team.
func (l *Listener) UnsubscribeTeam(teamID string) {
	l.unsubscribe(TeamMessageSubject(teamID))
	l.unsubscribe(TeamTaskEventSubject(teamID))
}

// UnsubscribeSessionMetadata tears down sessionID's metadata subscription.
func (l *Listener) UnsubscribeSessionMetadata(sessionID string) {
	l.unsubscribe(SessionMetadataSubject(sessionID))
}

func (l *Listener) unsubscribe(subject string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if sub, ok := l.subs[subject]; ok {
		if err := sub.Unsubscribe(); err != nil {
			l.log.Warn("transport: unsubscribe failed", "subject", subject, "error", err)
		}
		delete(l.subs, subject)
	}
}

// Close tears down every active subscription.
func (l *Listener) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for subject, sub := range l.subs {
		if err := sub.Unsubscribe(); err != nil {
			l.log.Warn("transport: unsubscribe on close failed", "subject", subject, "error", err)
		}
	}
	l.subs = make(map[string]*nats.Subscription)
}

// Publisher publishes the three discriminated push-event kinds. A
// reference implementation used directly by tests; session.Runtime
// constructs one but publishes nothing through it.
type Publisher struct {
	client *Client
}

// NewPublisher returns a Publisher bound to client.
func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client}
}

// PublishTeamMessage publishes a team-message event for teamID.
func (p *Publisher) PublishTeamMessage(teamID string, payload []byte) error {
	return p.client.Publish(TeamMessageSubject(teamID), payload)
}

// PublishMetadataUpdate publishes a metadata-update event for sessionID.
func (p *Publisher) PublishMetadataUpdate(sessionID string, payload []byte) error {
	return p.client.Publish(SessionMetadataSubject(sessionID), payload)
}

// PublishTaskEvent publishes a task-event for teamID.
func (p *Publisher) PublishTaskEvent(teamID string, payload []byte) error {
	return p.client.Publish(TeamTaskEventSubject(teamID), payload)
}
