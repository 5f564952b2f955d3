package compose

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"church-assistant/internal/domain"
	"church-assistant/internal/integrations/openai"
)

type capturingLLM struct {
	reply    domain.ChatMessage
	err      error
	captured openai.Request
	calls    int
}

func (c *capturingLLM) Chat(_ context.Context, req openai.Request) (domain.ChatMessage, error) {
	c.calls++
	c.captured = req
	return c.reply, c.err
}

type appended struct {
	conversationID string
	role           domain.Role
	content        string
}

type fakeAppender struct {
	saved []appended
	err   error
}

func (f *fakeAppender) Append(_ context.Context, conversationID string, role domain.Role, content string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.saved = append(f.saved, appended{conversationID, role, content})
	return "msg-1", nil
}

func history() []domain.Message {
	return []domain.Message{
		{Role: domain.RoleUser, Content: "Bonjour"},
		{Role: domain.RoleAssistant, Content: "Que Dieu vous bénisse."},
		{Role: domain.RoleUser, Content: "Je me sens triste"},
	}
}

func consolation() []domain.ScoredEntry {
	return []domain.ScoredEntry{
		{Entry: domain.KnowledgeEntry{Title: "Psaume 34:18", Content: "L'Éternel est proche de ceux qui ont le cœur brisé."}, Score: 2},
		{Entry: domain.KnowledgeEntry{Title: "Matthieu 11:28", Content: "Venez à moi, vous tous qui êtes fatigués."}, Score: 1},
	}
}

func mustNew(t *testing.T, llm LLMClient, store Appender) *Composer {
	t.Helper()
	c, err := New(llm, store, Settings{Temperature: DefaultTemperature})
	require.NoError(t, err)
	return c
}

func TestNew_ValidatesDependencies(t *testing.T) {
	_, err := New(nil, &fakeAppender{}, Settings{})
	require.Error(t, err)
	_, err = New(&capturingLLM{}, nil, Settings{})
	require.Error(t, err)
}

func TestNew_AppliesDefaults(t *testing.T) {
	c, err := New(&capturingLLM{}, &fakeAppender{}, Settings{Temperature: -1})
	require.NoError(t, err)
	require.Equal(t, Settings{Model: DefaultModel, Temperature: DefaultTemperature, MaxTokens: DefaultMaxTokens}, c.settings)
}

func TestReply_BuildsPromptAndPersistsReply(t *testing.T) {
	llm := &capturingLLM{reply: domain.ChatMessage{Role: domain.RoleAssistant, Content: "Courage, Dieu est proche."}}
	store := &fakeAppender{}
	c := mustNew(t, llm, store)

	reply, err := c.Reply(context.Background(), "conv-1", history(), consolation())
	require.NoError(t, err)
	require.Equal(t, "Courage, Dieu est proche.", reply)

	req := llm.captured
	require.Equal(t, DefaultModel, req.Model)
	require.Equal(t, DefaultTemperature, req.Temperature)
	require.Equal(t, DefaultMaxTokens, req.MaxTokens)
	require.Len(t, req.Messages, 4)
	require.Equal(t, domain.RoleSystem, req.Messages[0].Role)
	require.Equal(t, "Je me sens triste", req.Messages[3].Content)
	require.Equal(t, domain.RoleAssistant, req.Messages[2].Role)

	require.Equal(t, []appended{{"conv-1", domain.RoleAssistant, "Courage, Dieu est proche."}}, store.saved)
}

func TestSystemPrompt_RendersContextBlock(t *testing.T) {
	prompt := systemPrompt(consolation())
	require.True(t, strings.HasPrefix(prompt, personaPrompt()))
	require.Contains(t, prompt, "\n\nContexte biblique pertinent:\nPsaume 34:18: L'Éternel est proche de ceux qui ont le cœur brisé.\n\nMatthieu 11:28: Venez à moi")
}

func TestSystemPrompt_OmitsContextWhenEmpty(t *testing.T) {
	prompt := systemPrompt(nil)
	require.Equal(t, personaPrompt(), prompt)
	require.NotContains(t, prompt, contextHeading)
}

func TestPersonaPrompt_Tone(t *testing.T) {
	p := personaPrompt()
	require.Contains(t, p, "compassion")
	require.Contains(t, p, "concis")
	require.Contains(t, p, "formel")
}

func TestReply_ProviderErrorPersistsNothing(t *testing.T) {
	providerErr := &openai.HTTPStatusError{StatusCode: 500}
	store := &fakeAppender{}
	c := mustNew(t, &capturingLLM{err: providerErr}, store)

	_, err := c.Reply(context.Background(), "conv-1", history(), nil)
	require.ErrorIs(t, err, providerErr)
	require.Empty(t, store.saved)
}

func TestReply_StoreErrorIsTyped(t *testing.T) {
	llm := &capturingLLM{reply: domain.ChatMessage{Role: domain.RoleAssistant, Content: "ok"}}
	c := mustNew(t, llm, &fakeAppender{err: errors.New("write failed")})

	_, err := c.Reply(context.Background(), "conv-1", history(), nil)
	var storeErr *ReplyStoreError
	require.ErrorAs(t, err, &storeErr)
	require.ErrorContains(t, err, "write failed")
}
