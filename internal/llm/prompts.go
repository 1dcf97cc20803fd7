package llm

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Prompt is a system+user template pair for one documentation section. The
// user template must contain the {srs} placeholder, which Render substitutes
// with the source text.
type Prompt struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

// Render substitutes the SRS text into the user template.
func (p Prompt) Render(srs string) string {
	return strings.ReplaceAll(p.User, "{srs}", srs)
}

// Pack maps section keys to prompt templates.
type Pack map[string]Prompt

// For returns the prompt for a section key.
func (p Pack) For(key string) (Prompt, bool) {
	prompt, ok := p[key]
	return prompt, ok
}

const (
	requirementsSystem = "You are a senior requirements analyst. You turn raw software requirements specifications into clear, structured technical requirements documentation."

	requirementsUser = `Analyze the software requirements specification below and produce the technical requirements documentation for it.

**CRITICAL: Do NOT include the section title "Technical Requirements" in your output. Start directly with the subsections.**

Structure your output as markdown subsections (## headings) covering:
- Functional requirements, grouped by feature area
- Non-functional requirements (performance, security, reliability)
- Constraints and assumptions
- Acceptance criteria for the major features

**IMPORTANT**: Adapt the subsections to what the SRS actually describes. Only document requirements that are stated or clearly implied; don't fabricate features that are not there.

SRS:
{srs}`

	architectureSystem = "You are a system architect. You design high-level system architectures from software requirements specifications."

	architectureUser = `Design the system architecture for the software requirements specification below.

**CRITICAL: Do NOT include the section title "System Design" in your output. Start directly with the subsections.**

Structure your output as markdown subsections (## headings) covering:
- System context and goals
- Major components and their responsibilities
- Data flow between components
- Deployment topology
- Technology choices and the rationale behind them

**IMPORTANT**: Adapt the architecture to the scale and constraints the SRS actually states. Prefer the simplest design that satisfies the requirements; don't invent infrastructure the SRS gives no reason for.

SRS:
{srs}`

	softwareArchitectureSystem = "You are a software architect. You translate system designs into concrete software structure: modules, interfaces and patterns."

	softwareArchitectureUser = `Describe the software architecture for the software requirements specification below.

**CRITICAL: Do NOT include the section title "Software Architecture" in your output. Start directly with the subsections.**

Structure your output as markdown subsections (## headings) covering:
- Module breakdown and responsibilities
- Interfaces and contracts between modules
- Key design patterns and where they apply
- Error handling strategy
- Cross-cutting concerns (logging, configuration, authentication)

**IMPORTANT**: Ground every module in functionality the SRS actually describes; don't fabricate layers the system has no use for.

SRS:
{srs}`

	databaseDesignSystem = "You are a database designer. You derive data models from software requirements specifications."

	databaseDesignUser = `Design the database for the software requirements specification below.

**CRITICAL: Do NOT include the section title "Database Design" in your output. Start directly with the subsections.**

Structure your output as markdown subsections (## headings) covering:
- Entities and their attributes
- Relationships between entities
- An entity-relationship diagram in a mermaid code block (use valid mermaid erDiagram syntax: singular UPPER_CASE entity names, attributes as "type name" lines, relationships with cardinality markers such as ||--o{)
- Indexing and data-access considerations

If the SRS describes no persistent data at all, say so explicitly and propose the minimal data model the system would still need.

**IMPORTANT**: Model only data the SRS actually mentions or clearly implies.

SRS:
{srs}`
)

// DefaultPack returns the built-in prompt templates for the four sections.
func DefaultPack() Pack {
	return Pack{
		"requirements":          {System: requirementsSystem, User: requirementsUser},
		"architecture":          {System: architectureSystem, User: architectureUser},
		"software_architecture": {System: softwareArchitectureSystem, User: softwareArchitectureUser},
		"database_design":       {System: databaseDesignSystem, User: databaseDesignUser},
	}
}

// LoadPack reads prompt overrides from a YAML file and merges them over the
// defaults. An empty or missing path yields the default pack; unknown section
// keys and templates without the {srs} placeholder are rejected.
func LoadPack(path string) (Pack, error) {
	pack := DefaultPack()
	if strings.TrimSpace(path) == "" {
		return pack, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Printf("prompts: %s not found, using built-in templates", path)
			return pack, nil
		}
		return nil, fmt.Errorf("read prompt pack: %w", err)
	}

	var overrides map[string]Prompt
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parse prompt pack: %w", err)
	}

	for key, override := range overrides {
		base, ok := pack[key]
		if !ok {
			return nil, fmt.Errorf("prompt pack: unknown section key %q", key)
		}
		if s := strings.TrimSpace(override.System); s != "" {
			base.System = override.System
		}
		if u := strings.TrimSpace(override.User); u != "" {
			if !strings.Contains(override.User, "{srs}") {
				return nil, fmt.Errorf("prompt pack: section %q user template is missing the {srs} placeholder", key)
			}
			base.User = override.User
		}
		pack[key] = base
	}
	return pack, nil
}
