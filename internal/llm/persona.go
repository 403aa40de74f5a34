package llm

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ccp-pamplona/ccpbot/internal/logger"
)

// Persona is the assistant's identity and its pre-written replies.
type Persona struct {
	Name         string   `yaml:"name"`
	Organisation string   `yaml:"organisation"`
	City         string   `yaml:"city"`
	Topics       []string `yaml:"topics"`
	Style        []string `yaml:"style"`
	Replies      Replies  `yaml:"replies"`
}

// Replies are the fixed texts users see when no grounded answer can be given.
type Replies struct {
	// OutOfDomain is what the model must answer for questions outside the topics.
	OutOfDomain string `yaml:"out_of_domain"`
	// NoInformation is returned verbatim when retrieval finds nothing, and is
	// what the model must answer when the context is not enough.
	NoInformation string `yaml:"no_information"`
	// Unavailable is returned when embeddings or the vector store fail.
	Unavailable string `yaml:"unavailable"`
	// Greeting answers /start and /help on chat front-ends.
	Greeting string `yaml:"greeting"`
}

// DefaultPersona returns the built-in Spanish persona.
func DefaultPersona() *Persona {
	return &Persona{
		Name:         "Asistente virtual",
		Organisation: "Cámara de Comercio de Pamplona",
		City:         "Pamplona, Norte de Santander",
		Topics: []string{
			"registro mercantil y matrícula",
			"renovación de la matrícula mercantil",
			"certificados de existencia y representación legal",
			"registro único de proponentes (RUP)",
			"entidades sin ánimo de lucro (ESAL)",
			"registro nacional de turismo (RNT)",
			"conciliación, arbitraje y centro de conciliación",
			"formalización empresarial y emprendimiento",
			"capacitaciones, eventos y afiliados",
			"tarifas, horarios, sedes y canales de atención",
		},
		Style: []string{
			"cordial y profesional",
			"claro y directo",
			"en frases cortas fáciles de leer en WhatsApp",
		},
		Replies: Replies{
			OutOfDomain:   "Solo puedo ayudarte con trámites y servicios de la Cámara de Comercio de Pamplona.",
			NoInformation: "No tengo información exacta sobre eso. Te recomiendo verificar con un asesor de la Cámara de Comercio de Pamplona.",
			Unavailable:   "En este momento no puedo consultar la información. Por favor intenta más tarde o comunícate con un asesor de la Cámara de Comercio de Pamplona.",
			Greeting:      "¡Hola! Soy el asistente virtual de la Cámara de Comercio de Pamplona. Escríbeme tu pregunta sobre registros, renovaciones, certificados, conciliación o nuestros servicios.",
		},
	}
}

// LoadPersona reads a YAML persona from path. Fields missing from the file
// keep their built-in values. An empty path returns the default persona.
func LoadPersona(path string) (*Persona, error) {
	p := DefaultPersona()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read persona file: %w", err)
	}

	var override Persona
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("failed to parse persona file %s: %w", path, err)
	}
	p.merge(override)

	logger.Info("Loaded persona %q for %s from %s", p.Name, p.Organisation, path)
	return p, nil
}

func (p *Persona) merge(o Persona) {
	setIf(&p.Name, o.Name)
	setIf(&p.Organisation, o.Organisation)
	setIf(&p.City, o.City)
	if len(o.Topics) > 0 {
		p.Topics = o.Topics
	}
	if len(o.Style) > 0 {
		p.Style = o.Style
	}
	setIf(&p.Replies.OutOfDomain, o.Replies.OutOfDomain)
	setIf(&p.Replies.NoInformation, o.Replies.NoInformation)
	setIf(&p.Replies.Unavailable, o.Replies.Unavailable)
	setIf(&p.Replies.Greeting, o.Replies.Greeting)
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
