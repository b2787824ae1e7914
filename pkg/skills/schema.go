package skills

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
)

// MetadataSchema returns the JSON schema of the SKILL.md frontmatter
func MetadataSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
		DoNotReference:            true,
	}
	schema := reflector.Reflect(&Metadata{})
	schema.Title = "SKILL.md frontmatter"
	return schema
}

// MetadataSchemaJSON renders MetadataSchema as indented JSON
func MetadataSchemaJSON() ([]byte, error) {
	out, err := json.MarshalIndent(MetadataSchema(), "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal frontmatter schema")
	}
	return out, nil
}
