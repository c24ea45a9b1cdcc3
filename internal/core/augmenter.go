package core

import (
	"fmt"
	"strings"

	"solace.app/companion/internal/store"
)

const (
	roleUser  = "user"
	roleModel = "model"

	// maxHistoryTurns is how many trailing turns survive pruning, in
	// addition to the opening turn.
	maxHistoryTurns = 20

	chatTemperature          = 0.7
	firstMessageOutputTokens = 512
)

var companionSafetySettings = []SafetySetting{
	{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "BLOCK_ONLY_HIGH"},
	{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: "BLOCK_ONLY_HIGH"},
	{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Threshold: "BLOCK_ONLY_HIGH"},
	{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "BLOCK_ONLY_HIGH"},
}

// Augment builds the generation request for one user message. history is the
// stored transcript in turn order and may be empty. The journal excerpts, if
// any, go into one synthetic model turn placed right before the new message;
// that turn only ever exists in the request.
func Augment(history []store.Message, excerpts []Excerpt, newMessage string, firstMessage bool) *GenerationRequest {
	pruned := pruneHistory(history)

	contents := make([]Content, 0, len(pruned)+2)
	for _, msg := range pruned {
		contents = append(contents, textContent(msg.Sender, msg.Content))
	}
	if len(excerpts) > 0 {
		contents = append(contents, textContent(roleModel, excerptTurn(excerpts)))
	}
	contents = append(contents, textContent(roleUser, newMessage))

	system := textContent("", companionSystemInstruction)
	cfg := GenerationConfig{Temperature: chatTemperature}
	if firstMessage {
		cfg.MaxOutputTokens = firstMessageOutputTokens
	}

	return &GenerationRequest{
		SystemInstruction: &system,
		Contents:          contents,
		SafetySettings:    companionSafetySettings,
		GenerationConfig:  cfg,
	}
}

// pruneHistory keeps the opening turn, which usually states what the
// conversation is about, and the most recent maxHistoryTurns turns.
func pruneHistory(history []store.Message) []store.Message {
	if len(history) <= maxHistoryTurns {
		return history
	}
	pruned := make([]store.Message, 0, maxHistoryTurns+1)
	pruned = append(pruned, history[0])
	return append(pruned, history[len(history)-maxHistoryTurns:]...)
}

func excerptTurn(excerpts []Excerpt) string {
	var b strings.Builder
	b.WriteString(journalContextIntro)
	b.WriteString("\n\n")
	for _, ex := range excerpts {
		fmt.Fprintf(&b, "On %s:\n\"%s...\"\n\n", ex.CreatedAt.Format(excerptDateLayout), truncate(ex.Content, excerptMaxRunes))
	}
	b.WriteString(journalContextOutro)
	return b.String()
}
