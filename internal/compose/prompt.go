package compose

import (
	"strings"

	"church-assistant/internal/domain"
)

const contextHeading = "Contexte biblique pertinent:"

func personaPrompt() string {
	return strings.Join([]string{
		"Tu es un assistant spirituel chrétien francophone pour IVOIRE ÉGLISE+.",
		"Tu réponds avec sagesse, compassion et références bibliques.",
		"Tu es concis (2-3 paragraphes maximum) et formel.",
		"Utilise le contexte biblique fourni pour enrichir tes réponses.",
	}, "\n")
}

// systemPrompt appends the retrieved context to the persona. With no entries
// the context section is omitted entirely.
func systemPrompt(entries []domain.ScoredEntry) string {
	prompt := personaPrompt()
	if len(entries) == 0 {
		return prompt
	}
	blocks := make([]string, 0, len(entries))
	for _, e := range entries {
		blocks = append(blocks, e.Entry.Title+": "+e.Entry.Content)
	}
	return prompt + "\n\n" + contextHeading + "\n" + strings.Join(blocks, "\n\n")
}

func buildMessages(history []domain.Message, entries []domain.ScoredEntry) []domain.ChatMessage {
	messages := make([]domain.ChatMessage, 0, len(history)+1)
	messages = append(messages, domain.ChatMessage{Role: domain.RoleSystem, Content: systemPrompt(entries)})
	for _, m := range history {
		messages = append(messages, domain.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return messages
}
