package mcp

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bubu-agent/bubu/internal/biz/domain"
)

// Version is advertised to MCP clients
const Version = "v0.1.0"

const (
	defaultRecentDays = 7
	maxRecentDays     = 30
)

// Backend is what the tools call; *Client implements it
type Backend interface {
	GetPlan(ctx context.Context) (*Plan, error)
	Preview(ctx context.Context, slot string, opts PreviewOptions) (string, error)
	SendNow(ctx context.Context, slot, text string) (*SendResult, error)
	RecentMessages(ctx context.Context, days int) ([]Message, error)
}

// Handler implements the bubu MCP tools
type Handler struct {
	backend Backend
}

// NewHandler creates a new MCP handler
func NewHandler(backend Backend) *Handler {
	return &Handler{backend: backend}
}

// NewServer creates an MCP server with every bubu tool registered
func NewServer(backend Backend) *mcpsdk.Server {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "bubu",
		Version: Version,
	}, nil)
	NewHandler(backend).Register(server)
	return server
}

// Register adds the tools to server
func (h *Handler) Register(server *mcpsdk.Server) {
	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "bubu_get_plan",
		Description: "Get today's planned send time for each message slot (morning, flirty, night). A null time means the slot is suppressed today.",
	}, h.handleGetPlan)

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "bubu_preview_message",
		Description: "Preview the template message for a slot without sending anything.",
	}, h.handlePreview)

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "bubu_send_now",
		Description: "Send a slot's message right now. Sends at most once per slot per day. Optional text is sent verbatim instead of a composed message.",
	}, h.handleSendNow)

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "bubu_recent_messages",
		Description: "List messages sent in the last N days (1-30, default 7), newest first.",
	}, h.handleRecentMessages)
}

// GetPlanInput is empty
type GetPlanInput struct{}

// GetPlanOutput is today's plan
type GetPlanOutput struct {
	Date  string             `json:"date"`
	Slots map[string]*string `json:"slots"`
}

func (h *Handler) handleGetPlan(ctx context.Context, req *mcpsdk.CallToolRequest, input GetPlanInput) (*mcpsdk.CallToolResult, GetPlanOutput, error) {
	plan, err := h.backend.GetPlan(ctx)
	if err != nil {
		return nil, GetPlanOutput{}, err
	}
	return nil, GetPlanOutput{
		Date: plan.Date,
		Slots: map[string]*string{
			"morning": plan.Morning,
			"flirty":  plan.Flirty,
			"night":   plan.Night,
		},
	}, nil
}

// PreviewInput selects the slot and optional date
type PreviewInput struct {
	Slot string `json:"slot" jsonschema:"message slot: morning, flirty or night"`
	Date string `json:"date,omitempty" jsonschema:"date as YYYY-MM-DD, defaults to today"`
	Seed *int64 `json:"seed,omitempty" jsonschema:"pick template and closer from this seed instead of the date"`
}

// PreviewOutput is the rendered preview
type PreviewOutput struct {
	Slot    string `json:"slot"`
	Message string `json:"message"`
}

func (h *Handler) handlePreview(ctx context.Context, req *mcpsdk.CallToolRequest, input PreviewInput) (*mcpsdk.CallToolResult, PreviewOutput, error) {
	slot, err := parseSlot(input.Slot)
	if err != nil {
		return nil, PreviewOutput{}, err
	}
	msg, err := h.backend.Preview(ctx, slot, PreviewOptions{
		Date:      input.Date,
		Randomize: input.Seed != nil,
		Seed:      input.Seed,
	})
	if err != nil {
		return nil, PreviewOutput{}, err
	}
	return nil, PreviewOutput{Slot: slot, Message: msg}, nil
}

// SendNowInput selects the slot and optional verbatim text
type SendNowInput struct {
	Slot string `json:"slot" jsonschema:"message slot: morning, flirty or night"`
	Text string `json:"text,omitempty" jsonschema:"exact text to send instead of a composed message"`
}

func (h *Handler) handleSendNow(ctx context.Context, req *mcpsdk.CallToolRequest, input SendNowInput) (*mcpsdk.CallToolResult, SendResult, error) {
	slot, err := parseSlot(input.Slot)
	if err != nil {
		return nil, SendResult{}, err
	}
	res, err := h.backend.SendNow(ctx, slot, input.Text)
	if err != nil {
		return nil, SendResult{}, err
	}
	return nil, *res, nil
}

// RecentMessagesInput sets the history window
type RecentMessagesInput struct {
	Days int `json:"days,omitempty" jsonschema:"number of days to look back, 1-30"`
}

// RecentMessagesOutput is the send history
type RecentMessagesOutput struct {
	Days     int       `json:"days"`
	Messages []Message `json:"messages"`
}

func (h *Handler) handleRecentMessages(ctx context.Context, req *mcpsdk.CallToolRequest, input RecentMessagesInput) (*mcpsdk.CallToolResult, RecentMessagesOutput, error) {
	days := input.Days
	if days == 0 {
		days = defaultRecentDays
	}
	if days < 1 || days > maxRecentDays {
		return nil, RecentMessagesOutput{}, fmt.Errorf("days must be between 1 and %d", maxRecentDays)
	}
	messages, err := h.backend.RecentMessages(ctx, days)
	if err != nil {
		return nil, RecentMessagesOutput{}, err
	}
	if messages == nil {
		messages = []Message{}
	}
	return nil, RecentMessagesOutput{Days: days, Messages: messages}, nil
}

func parseSlot(s string) (string, error) {
	slot, err := domain.ParseSlot(s)
	if err != nil {
		return "", fmt.Errorf("%w, must be one of: morning, flirty, night", err)
	}
	return slot.String(), nil
}
