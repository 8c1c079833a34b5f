package chat

import "time"

const (
	// Apology replaces the placeholder when the model call fails.
	Apology = "Opa, deu um problema na conexão."

	// IdentifyPrompt is sent with the identify-species shortcut.
	IdentifyPrompt = "Por favor, identifique esta planta, informe se ela é tóxica e me dê detalhes sobre a espécie."

	greetingID   = "init-1"
	greetingText = "Olá! Sou o IAC Farm, seu assistente agronômico. Posso ajudar com diagnósticos de pragas, planejamento de safra ou dúvidas técnicas. Envie uma foto ou faça uma pergunta!"
)

// Greeting is the assistant message every conversation opens with.
func Greeting(now time.Time) Message {
	return Message{ID: greetingID, Role: RoleAssistant, Content: greetingText, Timestamp: now}
}
