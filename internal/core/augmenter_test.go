package core

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solace.app/companion/internal/store"
)

func transcript(n int) []store.Message {
	msgs := make([]store.Message, n)
	for i := range msgs {
		sender := store.SenderUser
		if i%2 == 1 {
			sender = store.SenderModel
		}
		msgs[i] = store.Message{TurnIndex: i, Sender: sender, Content: fmt.Sprintf("turn %d", i)}
	}
	return msgs
}

func TestPruneHistoryBoundary(t *testing.T) {
	assert.Len(t, pruneHistory(transcript(20)), 20)
	assert.Equal(t, transcript(20), pruneHistory(transcript(20)))

	pruned := pruneHistory(transcript(21))
	require.Len(t, pruned, 21)
	assert.Equal(t, transcript(21), pruned)

	pruned = pruneHistory(transcript(30))
	require.Len(t, pruned, 21)
	assert.Equal(t, "turn 0", pruned[0].Content)
	assert.Equal(t, "turn 10", pruned[1].Content)
	assert.Equal(t, "turn 29", pruned[20].Content)

	assert.Empty(t, pruneHistory(nil))
}

func TestAugmentPlacesExcerptTurnBeforeNewMessage(t *testing.T) {
	long := strings.Repeat("a", 200)
	excerpts := []Excerpt{
		{Content: long, CreatedAt: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)},
		{Content: "Short entry", CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
	}

	req := Augment(transcript(4), excerpts, "How do I cope?", false)

	require.Len(t, req.Contents, 6)
	for i := 0; i < 4; i++ {
		assert.Equal(t, fmt.Sprintf("turn %d", i), req.Contents[i].Parts[0].Text)
	}

	ctxTurn := req.Contents[4]
	assert.Equal(t, "model", ctxTurn.Role)
	text := ctxTurn.Parts[0].Text
	assert.True(t, strings.HasPrefix(text, journalContextIntro))
	assert.Contains(t, text, "On March 14, 2026:\n\""+strings.Repeat("a", 150)+"...\"")
	assert.NotContains(t, text, strings.Repeat("a", 151))
	assert.Contains(t, text, "On March 1, 2026:\n\"Short entry...\"")
	assert.Less(t, strings.Index(text, "March 14"), strings.Index(text, "March 1,"))
	assert.True(t, strings.HasSuffix(text, journalContextOutro))

	last := req.Contents[5]
	assert.Equal(t, "user", last.Role)
	assert.Equal(t, "How do I cope?", last.Parts[0].Text)
}

func TestAugmentWithoutExcerptsAddsNoContextTurn(t *testing.T) {
	req := Augment(transcript(2), nil, "hi", false)
	require.Len(t, req.Contents, 3)
	assert.Equal(t, "user", req.Contents[2].Role)
	assert.Equal(t, "hi", req.Contents[2].Parts[0].Text)
}

func TestAugmentPrunesBeforeAppending(t *testing.T) {
	excerpts := []Excerpt{{Content: "entry", CreatedAt: time.Now()}}
	req := Augment(transcript(25), excerpts, "latest", false)

	// opening turn + 20 recent + context turn + new message
	require.Len(t, req.Contents, 23)
	assert.Equal(t, "turn 0", req.Contents[0].Parts[0].Text)
	assert.Equal(t, "turn 5", req.Contents[1].Parts[0].Text)
	assert.Equal(t, "turn 24", req.Contents[20].Parts[0].Text)
	assert.Equal(t, "latest", req.Contents[22].Parts[0].Text)
}

func TestAugmentGenerationConfig(t *testing.T) {
	first := Augment(nil, nil, "hi", true)
	assert.Equal(t, int32(firstMessageOutputTokens), first.GenerationConfig.MaxOutputTokens)
	assert.InDelta(t, 0.7, first.GenerationConfig.Temperature, 1e-6)

	ongoing := Augment(transcript(2), nil, "hi", false)
	assert.Zero(t, ongoing.GenerationConfig.MaxOutputTokens)
	assert.InDelta(t, 0.7, ongoing.GenerationConfig.Temperature, 1e-6)

	require.Len(t, first.SafetySettings, 4)
	for _, s := range first.SafetySettings {
		assert.Equal(t, "BLOCK_ONLY_HIGH", s.Threshold)
	}
	require.NotNil(t, first.SystemInstruction)
	assert.Contains(t, first.SystemInstruction.Parts[0].Text, "exactly "+CrisisToken)
}

func TestAugmentDoesNotMutateHistory(t *testing.T) {
	history := transcript(22)
	before := append([]store.Message(nil), history...)
	Augment(history, []Excerpt{{Content: "x", CreatedAt: time.Now()}}, "new", false)
	assert.Equal(t, before, history)
}
