package generate

import (
	"errors"
	"fmt"
	"strings"
)

// Role identifies one of the four fixed documentation sections. The set is
// closed: every Role value outside the four constants is invalid.
type Role int

const (
	RoleRequirements Role = iota
	RoleArchitecture
	RoleSoftwareArchitecture
	RoleDatabaseDesign

	// NumRoles is the size of the closed role set.
	NumRoles = 4
)

var roleKeys = [NumRoles]string{
	"requirements",
	"architecture",
	"software_architecture",
	"database_design",
}

var roleLabels = [NumRoles]string{
	"Requirements Analyst",
	"System Architect",
	"Software Architect",
	"Database Designer",
}

var roleHeadings = [NumRoles]string{
	"# Technical Requirements",
	"# System Design",
	"# Software Architecture",
	"# Database Design",
}

// Roles returns the four roles in section order.
func Roles() [NumRoles]Role {
	return [NumRoles]Role{RoleRequirements, RoleArchitecture, RoleSoftwareArchitecture, RoleDatabaseDesign}
}

// Valid reports whether r is one of the four roles.
func (r Role) Valid() bool {
	return r >= RoleRequirements && r < NumRoles
}

// Key returns the stable identifier used for prompts, events and persistence.
func (r Role) Key() string {
	if !r.Valid() {
		return "unknown"
	}
	return roleKeys[r]
}

// Label returns the human-readable worker name.
func (r Role) Label() string {
	if !r.Valid() {
		return "Unknown"
	}
	return roleLabels[r]
}

// Heading returns the markdown section heading.
func (r Role) Heading() string {
	if !r.Valid() {
		return "# Unknown"
	}
	return roleHeadings[r]
}

// Placeholder returns the fixed text that replaces a failed section.
func (r Role) Placeholder() string {
	return fmt.Sprintf("*%s failed to produce this section. Retry the run to regenerate it.*", r.Label())
}

func (r Role) String() string {
	return r.Key()
}

// ParseRole maps a section key back to its Role.
func ParseRole(raw string) (Role, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	for _, role := range Roles() {
		if role.Key() == key {
			return role, nil
		}
	}
	return 0, errors.New("unknown section role")
}
