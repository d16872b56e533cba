// Package schema generates JSON Schemas for the relay's YAML inputs: the
// main configuration file and dev-mode provider profiles.
package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/dzerik/oauth-relay/internal/config"
	"github.com/dzerik/oauth-relay/internal/service/idp"
)

// SchemaType selects the document a schema describes.
type SchemaType string

const (
	SchemaTypeConfig  SchemaType = "config"
	SchemaTypeProfile SchemaType = "profile"
)

const schemaBaseURL = "https://github.com/dzerik/oauth-relay/schemas/"

// Generator generates JSON schemas from the Go types, keyed by their yaml tags.
type Generator struct {
	reflector *jsonschema.Reflector
}

// NewGenerator creates a new schema generator.
func NewGenerator() *Generator {
	r := &jsonschema.Reflector{
		FieldNameTag:               "yaml",
		RequiredFromJSONSchemaTags: true,
		Namer: func(t reflect.Type) string {
			return toSnakeCase(t.Name())
		},
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t == reflect.TypeOf(time.Duration(0)) {
				return &jsonschema.Schema{
					Type:        "string",
					Pattern:     `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`,
					Description: "Duration string (e.g., '30s', '5m', '1h')",
					Examples:    []interface{}{"10s", "5m", "1h"},
				}
			}
			return nil
		},
	}

	return &Generator{reflector: r}
}

// Generate generates the configuration file schema.
func (g *Generator) Generate() ([]byte, error) {
	return g.GenerateType(SchemaTypeConfig)
}

// GenerateType generates the schema for one document type.
func (g *Generator) GenerateType(t SchemaType) ([]byte, error) {
	var s *jsonschema.Schema

	switch t {
	case SchemaTypeConfig:
		s = g.reflector.Reflect(&config.Config{})
		s.Title = "OAuth Relay Configuration"
		s.Description = "Configuration for oauth-relay, the Whop login relay for native game clients. " +
			"Every key can also be set through OAUTH_RELAY_<SECTION>_<KEY>."
		s.Examples = []interface{}{configExample()}

	case SchemaTypeProfile:
		s = g.reflector.Reflect(&idp.Profile{})
		s.Title = "OAuth Relay Dev Profile"
		s.Description = "A mock provider user and the experiences it can access, loaded from dev_mode.profiles_dir."
		s.Examples = []interface{}{profileExample()}

	default:
		return nil, fmt.Errorf("unknown schema type: %s", t)
	}

	s.ID = jsonschema.ID(schemaBaseURL + string(t) + ".schema.json")
	return json.MarshalIndent(s, "", "  ")
}

func configExample() map[string]interface{} {
	return map[string]interface{}{
		"server": map[string]interface{}{
			"http_port": 8080,
			"base_path": "/api",
		},
		"provider": map[string]interface{}{
			"app_id":       "${WHOP_APP_ID}",
			"api_key":      "${WHOP_API_KEY}",
			"redirect_url": "https://relay.example.com/api/oauth/callback",
		},
		"session": map[string]interface{}{
			"algorithm":   "HS256",
			"signing_key": "${SESSION_JWT_SECRET}",
		},
		"flow": map[string]interface{}{
			"store":         "cookie",
			"cookie_secure": true,
		},
		"cors": map[string]interface{}{
			"origins": []string{"https://game.example.com"},
		},
	}
}

func profileExample() map[string]interface{} {
	return map[string]interface{}{
		"user": map[string]interface{}{
			"id":       "user_dev",
			"name":     "Dev Player",
			"username": "devplayer",
		},
		"access": map[string]interface{}{
			"exp_main": "customer",
			"exp_beta": "no_access",
		},
	}
}

// toSnakeCase converts a Go type name to a definition name, keeping
// initialisms together: "HTTPRateLimitConfig" becomes "http_rate_limit_config".
func toSnakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder

	for i, r := range runes {
		upper := r >= 'A' && r <= 'Z'
		if upper && i > 0 {
			prev := runes[i-1]
			prevLower := prev >= 'a' && prev <= 'z' || prev >= '0' && prev <= '9'
			nextLower := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'
			prevUpper := prev >= 'A' && prev <= 'Z'
			if prevLower || (prevUpper && nextLower) {
				b.WriteByte('_')
			}
		}
		if upper {
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}

	return b.String()
}

// GetAvailableSchemas returns list of available schema types.
func GetAvailableSchemas() []SchemaType {
	return []SchemaType{SchemaTypeConfig, SchemaTypeProfile}
}

// ParseSchemaType parses a string to SchemaType.
func ParseSchemaType(s string) (SchemaType, bool) {
	switch SchemaType(strings.ToLower(s)) {
	case SchemaTypeConfig:
		return SchemaTypeConfig, true
	case SchemaTypeProfile:
		return SchemaTypeProfile, true
	default:
		return "", false
	}
}
