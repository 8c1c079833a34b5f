package chat

import (
	"errors"
	"sync"
	"time"
)

// ErrTurnInProgress is returned when a send arrives while a reply is pending.
var ErrTurnInProgress = errors.New("chat: a turn is already awaiting a response")

// pendingTurn is the thinking placeholder. It lives outside the final log,
// so a conversation holds at most one.
type pendingTurn struct {
	id        string
	timestamp time.Time
}

func (p *pendingTurn) message() Message {
	return Message{ID: p.id, Role: RoleAssistant, Timestamp: p.timestamp, IsThinking: true}
}

// Conversation is the ordered message log of one session. Final messages are
// append-only; audio fields are the only thing that changes after append.
type Conversation struct {
	mu        sync.Mutex
	notifyMu  sync.Mutex
	messages  []Message
	pending   *pendingTurn
	listeners []func([]Message)
	now       func() time.Time
}

// NewConversation starts a log seeded with the given messages.
func NewConversation(seed ...Message) *Conversation {
	msgs := make([]Message, 0, len(seed)+8)
	for _, m := range seed {
		m.IsThinking = false
		msgs = append(msgs, m)
	}
	return &Conversation{messages: msgs, now: time.Now}
}

// OnChange registers fn to receive a snapshot after every change. fn must
// not call back into the conversation.
func (c *Conversation) OnChange(fn func([]Message)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Snapshot renders the final messages followed by the placeholder, if any.
func (c *Conversation) Snapshot() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Conversation) snapshotLocked() []Message {
	out := make([]Message, len(c.messages), len(c.messages)+1)
	copy(out, c.messages)
	if c.pending != nil {
		out = append(out, c.pending.message())
	}
	return out
}

// Len counts final messages.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// Pending reports whether a placeholder is present.
func (c *Conversation) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil
}

// Finals returns a copy of the final messages.
func (c *Conversation) Finals() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Begin appends the user message and then the placeholder.
func (c *Conversation) Begin(user Message) error {
	c.mu.Lock()
	if c.pending != nil {
		c.mu.Unlock()
		return ErrTurnInProgress
	}
	if user.ID == "" {
		user.ID = NewID()
	}
	if user.Timestamp.IsZero() {
		user.Timestamp = c.now()
	}
	user.Role = RoleUser
	user.IsThinking = false
	c.messages = append(c.messages, user)
	c.pending = &pendingTurn{id: NewID(), timestamp: c.now()}
	c.notifyLocked()
	return nil
}

// Resolve replaces the placeholder with a final assistant message.
// Without a placeholder it appends nothing and returns false.
func (c *Conversation) Resolve(content string) (Message, bool) {
	c.mu.Lock()
	if c.pending == nil {
		c.mu.Unlock()
		return Message{}, false
	}
	msg := Message{ID: NewID(), Role: RoleAssistant, Content: content, Timestamp: c.now()}
	c.pending = nil
	c.messages = append(c.messages, msg)
	c.notifyLocked()
	return msg, true
}

// Get returns a final message by id.
func (c *Conversation) Get(id string) (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.indexLocked(id); i >= 0 {
		return c.messages[i], true
	}
	return Message{}, false
}

// SetAudioLoading flips the loading flag on a final message.
func (c *Conversation) SetAudioLoading(id string, loading bool) bool {
	c.mu.Lock()
	i := c.indexLocked(id)
	if i < 0 || c.messages[i].IsAudioLoading == loading {
		c.mu.Unlock()
		return i >= 0
	}
	c.messages[i].IsAudioLoading = loading
	c.notifyLocked()
	return true
}

// StoreAudio caches synthesized audio and clears the loading flag. Audio is
// stored at most once; later calls leave the first clip in place.
func (c *Conversation) StoreAudio(id, audioBase64 string) bool {
	c.mu.Lock()
	i := c.indexLocked(id)
	if i < 0 {
		c.mu.Unlock()
		return false
	}
	stored := false
	if c.messages[i].AudioBase64 == "" && audioBase64 != "" {
		c.messages[i].AudioBase64 = audioBase64
		stored = true
	}
	c.messages[i].IsAudioLoading = false
	c.notifyLocked()
	return stored
}

func (c *Conversation) indexLocked(id string) int {
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].ID == id {
			return i
		}
	}
	return -1
}

// notifyLocked releases mu before calling listeners. notifyMu keeps
// snapshots delivered in the order they were taken.
func (c *Conversation) notifyLocked() {
	snap := c.snapshotLocked()
	listeners := append([]func([]Message){}, c.listeners...)
	c.notifyMu.Lock()
	c.mu.Unlock()
	defer c.notifyMu.Unlock()
	for _, fn := range listeners {
		fn(snap)
	}
}
