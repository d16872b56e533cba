package schema

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generate(t *testing.T, st SchemaType) (string, map[string]interface{}) {
	t.Helper()

	data, err := NewGenerator().GenerateType(st)
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))
	return string(data), doc
}

func TestGenerator_Generate(t *testing.T) {
	data, err := NewGenerator().Generate()
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))

	assert.NotNil(t, doc["$schema"])
	assert.Equal(t, "OAuth Relay Configuration", doc["title"])
	assert.Equal(t, "https://github.com/dzerik/oauth-relay/schemas/config.schema.json", doc["$id"])

	examples, ok := doc["examples"].([]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, examples)
}

func TestGenerator_Generate_YAMLFieldNames(t *testing.T) {
	jsonStr, _ := generate(t, SchemaTypeConfig)

	for _, prop := range []string{
		`"http_port"`,
		`"base_path"`,
		`"dev_mode"`,
		`"client_id"`,
		`"api_key"`,
		`"redirect_url"`,
		`"signing_key"`,
		`"cookie_prefix"`,
		`"failure_threshold"`,
	} {
		assert.Contains(t, jsonStr, prop)
	}

	for _, prop := range []string{`"HTTPPort"`, `"DevMode"`, `"ClientID"`, `"SigningKey"`} {
		assert.NotContains(t, jsonStr, prop)
	}
}

func TestGenerator_Generate_Definitions(t *testing.T) {
	_, doc := generate(t, SchemaTypeConfig)

	defs, ok := doc["$defs"].(map[string]interface{})
	require.True(t, ok)

	for _, name := range []string{"config", "provider_config", "http_rate_limit_config", "redis_tls_config"} {
		assert.Contains(t, defs, name)
	}
	for name := range defs {
		assert.Equal(t, strings.ToLower(name), name, "definition %q should be snake_case", name)
	}
}

func TestGenerator_Generate_DurationPattern(t *testing.T) {
	_, doc := generate(t, SchemaTypeConfig)

	defs := doc["$defs"].(map[string]interface{})
	flow := defs["flow_config"].(map[string]interface{})
	ttl := flow["properties"].(map[string]interface{})["ttl"].(map[string]interface{})

	assert.Equal(t, "string", ttl["type"])
	assert.Contains(t, ttl["pattern"], "ms|s|m|h")
}

func TestGenerator_GenerateProfile(t *testing.T) {
	jsonStr, doc := generate(t, SchemaTypeProfile)

	assert.Equal(t, "OAuth Relay Dev Profile", doc["title"])
	assert.Equal(t, "https://github.com/dzerik/oauth-relay/schemas/profile.schema.json", doc["$id"])
	assert.Contains(t, jsonStr, `"username"`)
	assert.Contains(t, jsonStr, `"access"`)
}

func TestGenerator_GenerateUnknown(t *testing.T) {
	_, err := NewGenerator().GenerateType("service")
	assert.Error(t, err)
}

func TestToSnakeCase(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Config", "config"},
		{"ProviderConfig", "provider_config"},
		{"TLSConfig", "tls_config"},
		{"RedisTLSConfig", "redis_tls_config"},
		{"HTTPRateLimitConfig", "http_rate_limit_config"},
		{"HTTPRateLimitHeadersConfig", "http_rate_limit_headers_config"},
		{"OAuth2Provider", "o_auth2_provider"},
		{"ABc", "a_bc"},
		{"ABC", "abc"},
		{"aB", "a_b"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, toSnakeCase(tt.input))
		})
	}
}

func TestParseSchemaType(t *testing.T) {
	tests := []struct {
		input    string
		expected SchemaType
		ok       bool
	}{
		{"config", SchemaTypeConfig, true},
		{"CONFIG", SchemaTypeConfig, true},
		{"Profile", SchemaTypeProfile, true},
		{"profiles", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result, ok := ParseSchemaType(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestGetAvailableSchemas(t *testing.T) {
	assert.Equal(t, []SchemaType{SchemaTypeConfig, SchemaTypeProfile}, GetAvailableSchemas())
}
