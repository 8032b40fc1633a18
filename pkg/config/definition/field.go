package definition

import "reflect"

// FieldDef defines a configuration field with its metadata
type FieldDef struct {
	Path      string       // Config path like "ingest.batch_size"
	Default   any          // Default value
	CLIFlag   string       // CLI flag name like "batch-size"
	Shorthand string       // Single character shorthand like "b"
	EnvVar    string       // Environment variable name like "INGEST_BATCH_SIZE"
	Type      reflect.Type // Field type for flag registration
	Help      string       // Help text for CLI
}

// Registry holds all configuration field definitions
type Registry struct {
	fields map[string]FieldDef
	order  []string
}

func NewRegistry() *Registry {
	return &Registry{fields: make(map[string]FieldDef)}
}

// Register adds a field definition to the registry
func (r *Registry) Register(field *FieldDef) {
	if _, exists := r.fields[field.Path]; !exists {
		r.order = append(r.order, field.Path)
	}
	r.fields[field.Path] = *field
}

func (r *Registry) GetField(path string) (FieldDef, bool) {
	field, exists := r.fields[path]
	return field, exists
}

// GetDefault returns the default value for a field path
func (r *Registry) GetDefault(path string) any {
	if field, exists := r.fields[path]; exists {
		return field.Default
	}
	return nil
}

// Fields returns every field in registration order.
func (r *Registry) Fields() []FieldDef {
	out := make([]FieldDef, 0, len(r.order))
	for _, path := range r.order {
		out = append(out, r.fields[path])
	}
	return out
}

// GetCLIFlagMapping returns a map of CLI flag names to config paths
func (r *Registry) GetCLIFlagMapping() map[string]string {
	mapping := make(map[string]string)
	for path, field := range r.fields {
		if field.CLIFlag != "" {
			mapping[field.CLIFlag] = path
		}
	}
	return mapping
}
