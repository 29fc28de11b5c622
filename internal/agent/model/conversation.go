package model

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"time"

	"github.com/cloudwego/eino/schema"
)

// AgentKind names a dialogue agent.
type AgentKind string

const (
	AgentSales   AgentKind = "sales"
	AgentSupport AgentKind = "support"
)

// Valid reports whether k is a known agent.
func (k AgentKind) Valid() bool {
	return k == AgentSales || k == AgentSupport
}

// Urgency of an escalation.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// Tool-result status values stored in Message.Extra[ExtraStatus].
const (
	ExtraStatus    = "status"
	ExtraErrorKind = "error_kind"
	ExtraAgent     = "agent"
	ExtraTurn      = "turn_status"

	StatusSuccess = "success"
	StatusFailure = "failure"
)

// SupervisorPrefix marks entries recorded by a human supervisor.
const SupervisorPrefix = "[SUPERVISOR RESPONSE]"

// Escalation records one human-handoff request raised on a thread.
type Escalation struct {
	CallID     string     `json:"call_id"`
	Reason     string     `json:"reason"`
	Urgency    Urgency    `json:"urgency"`
	RaisedAt   time.Time  `json:"raised_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	Resolution string     `json:"resolution,omitempty"`
}

// Cart maps product id to quantity. Applied remembers the confirmation returned
// for every cart call id so a replayed call is answered without re-applying it.
type Cart struct {
	Items   map[int64]int     `json:"items"`
	Applied map[string]string `json:"applied,omitempty"`
}

// CartLine is one product line of a cart listing.
type CartLine struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

func (c *Cart) ensure() {
	if c.Items == nil {
		c.Items = map[int64]int{}
	}
	if c.Applied == nil {
		c.Applied = map[string]string{}
	}
}

// Quantity returns the quantity held for productID (0 when absent).
func (c *Cart) Quantity(productID int64) int {
	return c.Items[productID]
}

// Add increases the quantity of productID by qty and returns the new quantity.
func (c *Cart) Add(productID int64, qty int) int {
	c.ensure()
	c.Items[productID] += qty
	return c.Items[productID]
}

// Set overwrites the quantity of productID. Quantities below 1 remove the line.
func (c *Cart) Set(productID int64, qty int) {
	c.ensure()
	if qty < 1 {
		delete(c.Items, productID)
		return
	}
	c.Items[productID] = qty
}

// Remove takes qty units of productID out of the cart; qty <= 0 or qty >= held
// removes the whole line. It returns the remaining quantity.
func (c *Cart) Remove(productID int64, qty int) int {
	c.ensure()
	held := c.Items[productID]
	if qty <= 0 || qty >= held {
		delete(c.Items, productID)
		return 0
	}
	c.Items[productID] = held - qty
	return c.Items[productID]
}

// Lines returns the cart content ordered by product id.
func (c *Cart) Lines() []CartLine {
	lines := make([]CartLine, 0, len(c.Items))
	for id, q := range c.Items {
		lines = append(lines, CartLine{ProductID: id, Quantity: q})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return lines
}

// Replayed returns the confirmation recorded for callID, if any.
func (c *Cart) Replayed(callID string) (string, bool) {
	if callID == "" {
		return "", false
	}
	msg, ok := c.Applied[callID]
	return msg, ok
}

// Record stores the confirmation for callID.
func (c *Cart) Record(callID, confirmation string) {
	if callID == "" {
		return
	}
	c.ensure()
	c.Applied[callID] = confirmation
}

// Conversation is the state owned by one thread for its lifetime.
type Conversation struct {
	ThreadID          string            `json:"thread_id"`
	UserID            string            `json:"user_id,omitempty"`
	Messages          []*schema.Message `json:"messages"`
	ActiveAgent       AgentKind         `json:"active_agent"`
	Cart              Cart              `json:"cart"`
	PendingEscalation bool              `json:"pending_escalation"`
	Escalations       []Escalation      `json:"escalations,omitempty"`
	CallSeq           int               `json:"call_seq"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`

	// number of leading messages already written to a persistent store
	persisted int
}

// NewConversation creates the initial state of a thread.
func NewConversation(threadID, userID string) *Conversation {
	now := time.Now().UTC()
	return &Conversation{
		ThreadID:    threadID,
		UserID:      userID,
		Messages:    []*schema.Message{},
		ActiveAgent: AgentSales,
		Cart:        Cart{Items: map[int64]int{}, Applied: map[string]string{}},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Append adds entries to the transcript.
func (c *Conversation) Append(msgs ...*schema.Message) {
	c.Messages = append(c.Messages, msgs...)
	c.UpdatedAt = time.Now().UTC()
}

// NextCallID returns a thread-unique synthetic tool call id.
func (c *Conversation) NextCallID() string {
	c.CallSeq++
	return fmt.Sprintf("call_%d", c.CallSeq)
}

// OpenEscalation returns the escalation awaiting approval, if any.
func (c *Conversation) OpenEscalation() *Escalation {
	if !c.PendingEscalation {
		return nil
	}
	for i := len(c.Escalations) - 1; i >= 0; i-- {
		if c.Escalations[i].ResolvedAt == nil {
			return &c.Escalations[i]
		}
	}
	return nil
}

// LastReply returns the content of the latest agent entry without tool calls.
func (c *Conversation) LastReply() string {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		m := c.Messages[i]
		if m != nil && m.Role == schema.Assistant && len(m.ToolCalls) == 0 {
			return m.Content
		}
	}
	return ""
}

// Persisted returns how many leading messages a store has already written.
func (c *Conversation) Persisted() int { return c.persisted }

// MarkPersisted records that all current messages are stored.
func (c *Conversation) MarkPersisted() { c.persisted = len(c.Messages) }

// Validate checks that every tool-result entry answers a call id issued by the
// agent entry that opens its block, and that no call id is answered twice.
func (c *Conversation) Validate() error {
	var open map[string]bool
	for i, m := range c.Messages {
		if m == nil {
			return fmt.Errorf("message %d is nil", i)
		}
		switch m.Role {
		case schema.Assistant:
			open = nil
			if len(m.ToolCalls) > 0 {
				open = make(map[string]bool, len(m.ToolCalls))
				for _, tc := range m.ToolCalls {
					open[tc.ID] = true
				}
			}
		case schema.Tool:
			if !open[m.ToolCallID] {
				return fmt.Errorf("message %d: tool result %q has no pending call", i, m.ToolCallID)
			}
			delete(open, m.ToolCallID)
		default:
			open = nil
		}
	}
	return nil
}

// Clone returns a deep copy that shares no mutable state with c.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Messages = make([]*schema.Message, len(c.Messages))
	for i, m := range c.Messages {
		out.Messages[i] = cloneMessage(m)
	}
	out.Cart = Cart{Items: maps.Clone(c.Cart.Items), Applied: maps.Clone(c.Cart.Applied)}
	out.Cart.ensure()
	out.Escalations = append([]Escalation(nil), c.Escalations...)
	return &out
}

func cloneMessage(m *schema.Message) *schema.Message {
	if m == nil {
		return nil
	}
	cp := *m
	if m.ToolCalls != nil {
		cp.ToolCalls = append([]schema.ToolCall(nil), m.ToolCalls...)
	}
	if m.Extra != nil {
		cp.Extra = maps.Clone(m.Extra)
	}
	return &cp
}

// ConversationRepository stores conversations keyed by thread id.
type ConversationRepository interface {
	// Load returns the stored conversation, or found=false when the thread is unknown.
	Load(ctx context.Context, threadID string) (conv *Conversation, found bool, err error)

	// Save writes the conversation.
	Save(ctx context.Context, conv *Conversation) error

	// Delete removes a thread.
	Delete(ctx context.Context, threadID string) error

	// ListThreads returns the ids of stored threads.
	ListThreads(ctx context.Context) ([]string, error)
}

// UnlockFunc releases a lock acquired by a Locker.
type UnlockFunc func(ctx context.Context) error

// Locker serialises turns per thread.
type Locker interface {
	Lock(ctx context.Context, threadID string, ttl time.Duration) (UnlockFunc, error)
}
