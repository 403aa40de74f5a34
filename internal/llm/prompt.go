package llm

import (
	"fmt"
	"strings"
)

// PromptGenerator handles the generation of prompts for LLM interactions.
type PromptGenerator struct {
	persona *Persona
}

// NewPromptGenerator creates a new prompt generator for the persona. A nil
// persona uses the built-in one.
func NewPromptGenerator(persona *Persona) *PromptGenerator {
	if persona == nil {
		persona = DefaultPersona()
	}
	return &PromptGenerator{persona: persona}
}

// Persona returns the persona prompts are built for.
func (pg *PromptGenerator) Persona() *Persona {
	return pg.persona
}

// GenerateSystemPrompt creates the system prompt: who the assistant is, what
// it may talk about and the exact phrases it must fall back to.
func (pg *PromptGenerator) GenerateSystemPrompt() string {
	p := pg.persona
	var builder strings.Builder

	builder.WriteString(fmt.Sprintf("Eres el %s de la %s", p.Name, p.Organisation))
	if p.City != "" {
		builder.WriteString(fmt.Sprintf(" (%s)", p.City))
	}
	builder.WriteString(". Respondes preguntas de ciudadanos y empresarios usando únicamente la información del contexto que se te entrega.\n\n")

	if len(p.Topics) > 0 {
		builder.WriteString("Temas permitidos:\n")
		for _, topic := range p.Topics {
			builder.WriteString(fmt.Sprintf("- %s\n", topic))
		}
		builder.WriteString("\n")
	}

	if len(p.Style) > 0 {
		builder.WriteString("Tu estilo: ")
		builder.WriteString(strings.Join(p.Style, ", "))
		builder.WriteString(".\n\n")
	}

	builder.WriteString("Reglas:\n")
	builder.WriteString("1. No inventes datos, tarifas, fechas ni requisitos que no estén en el contexto.\n")
	builder.WriteString(fmt.Sprintf("2. Si la pregunta no trata sobre los temas permitidos, responde exactamente: \"%s\"\n", p.Replies.OutOfDomain))
	builder.WriteString(fmt.Sprintf("3. Si el contexto no permite responder con seguridad, responde exactamente: \"%s\"\n", p.Replies.NoInformation))
	builder.WriteString("4. No menciones que tienes un contexto ni que eres un modelo de lenguaje.\n")

	return builder.String()
}

// GenerateUserPrompt wraps the retrieved context and the verbatim question
// with the formatting instructions.
func (pg *PromptGenerator) GenerateUserPrompt(context, question string) string {
	var builder strings.Builder
	builder.WriteString("Contexto:\n")
	builder.WriteString(context)
	builder.WriteString("\n\n")
	builder.WriteString("Pregunta:\n")
	builder.WriteString(question)
	builder.WriteString("\n\n")
	builder.WriteString("Instrucciones: responde en 3 a 6 frases, en el mismo idioma de la pregunta. ")
	builder.WriteString("Usa las frases de respaldo literalmente cuando corresponda.")
	return builder.String()
}

// Messages returns the system and user messages for one question.
func (pg *PromptGenerator) Messages(context, question string) []Message {
	return []Message{
		{Role: RoleSystem, Content: pg.GenerateSystemPrompt()},
		{Role: RoleUser, Content: pg.GenerateUserPrompt(context, question)},
	}
}
