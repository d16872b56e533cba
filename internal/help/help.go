// Package help renders the relay's --version and --help text.
package help

import (
	"fmt"
	"strings"
)

// AppInfo contains application metadata.
type AppInfo struct {
	Name        string
	Description string
	Version     string
	BuildTime   string
	DocsURL     string
}

// EnvVar documents one explicitly bound environment variable.
type EnvVar struct {
	Name        string
	Description string
}

// EnvGroup is a titled list of environment variables.
type EnvGroup struct {
	Title string
	Vars  []EnvVar
}

// RelayEnvVars lists the variables the config loader binds by name, in
// addition to the <PREFIX>_<SECTION>_<KEY> pattern.
var RelayEnvVars = []EnvGroup{
	{
		Title: "Provider",
		Vars: []EnvVar{
			{"WHOP_APP_ID", "Whop app id (NEXT_PUBLIC_WHOP_APP_ID also accepted)"},
			{"WHOP_API_KEY", "Whop server API key"},
			{"WHOP_CLIENT_ID", "OAuth client id, defaults to the app id"},
			{"WHOP_CLIENT_SECRET", "OAuth client secret, defaults to the API key"},
			{"OAUTH_REDIRECT_URI", "Public URL of /oauth/callback"},
		},
	},
	{
		Title: "Session",
		Vars: []EnvVar{
			{"SESSION_JWT_SECRET", "HS256 secret for session credentials"},
			{"SESSION_JWT_PRIVATE_KEY", "RS256 private key, PEM or file path"},
			{"SESSION_JWT_PUBLIC_KEY", "RS256 public key, PEM or file path"},
		},
	},
	{
		Title: "Clients",
		Vars: []EnvVar{
			{"CORS_ORIGINS", "Comma separated origins allowed to call the API"},
		},
	},
	{
		Title: "Flow store",
		Vars: []EnvVar{
			{"REDIS_PASSWORD", "Password of the Redis flow store"},
		},
	},
	{
		Title: "Server",
		Vars: []EnvVar{
			{"HTTP_PORT", "HTTP listen port (PORT also accepted)"},
			{"LOG_LEVEL", "Log level (debug, info, warn, error)"},
			{"DEV_MODE", "Use the mock provider and development logging"},
		},
	},
}

// Generator generates help text for the application.
type Generator struct {
	appInfo      AppInfo
	envVarPrefix string
	envGroups    []EnvGroup
}

// NewGenerator creates a new help generator.
func NewGenerator(appInfo AppInfo, envVarPrefix string) *Generator {
	return &Generator{
		appInfo:      appInfo,
		envVarPrefix: envVarPrefix,
		envGroups:    RelayEnvVars,
	}
}

// PrintVersion prints version information.
func (g *Generator) PrintVersion() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s\n", g.appInfo.Name, g.appInfo.Version)
	fmt.Fprintf(&sb, "  Build time: %s\n", g.appInfo.BuildTime)
	return sb.String()
}

// PrintUsage prints basic usage information.
func (g *Generator) PrintUsage() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Usage: %s [OPTIONS]\n\n", g.appInfo.Name)
	fmt.Fprintf(&sb, "%s\n\n", g.appInfo.Description)
	sb.WriteString("Use --help for detailed configuration documentation\n")
	return sb.String()
}

// PrintExtendedHelp prints detailed help with all configuration options.
func (g *Generator) PrintExtendedHelp() string {
	var sb strings.Builder

	sb.WriteString(g.header())
	sb.WriteString("\n")

	sb.WriteString("DESCRIPTION\n")
	fmt.Fprintf(&sb, "    %s\n\n", g.appInfo.Description)

	sb.WriteString("USAGE\n")
	fmt.Fprintf(&sb, "    %s [OPTIONS]\n\n", g.appInfo.Name)

	sb.WriteString("OPTIONS\n")
	sb.WriteString(g.optionsSection())
	sb.WriteString("\n")
	sb.WriteString(g.separator())

	sb.WriteString("CONFIGURATION\n\n")
	sb.WriteString(g.configSection())
	sb.WriteString("\n")
	sb.WriteString(g.separator())

	sb.WriteString("ENVIRONMENT VARIABLES\n\n")
	sb.WriteString(g.envVarsSection())
	sb.WriteString("\n")
	sb.WriteString(g.separator())

	sb.WriteString("LOGIN FLOW\n\n")
	sb.WriteString(g.flowSection())
	sb.WriteString("\n")
	sb.WriteString(g.separator())

	sb.WriteString("EXAMPLES\n\n")
	sb.WriteString(g.examplesSection())
	sb.WriteString("\n")
	sb.WriteString(g.separator())

	sb.WriteString("ENDPOINTS\n\n")
	sb.WriteString("    GET  /oauth/init          Start a login (mode, port)\n")
	sb.WriteString("    GET  /oauth/callback      Provider redirect target\n")
	sb.WriteString("    GET  /session             Check a session credential\n")
	sb.WriteString("    GET  /me                  User behind a session credential\n")
	sb.WriteString("    GET  /access/check        Experience access (also POST)\n")
	sb.WriteString("    GET  /health              Liveness probe\n")
	sb.WriteString("    GET  /ready               Readiness probe\n")
	sb.WriteString("    GET  /metrics             Prometheus metrics\n\n")
	sb.WriteString("    All paths are prefixed with server.base_path.\n\n")
	sb.WriteString(g.separator())

	sb.WriteString("VERSION\n")
	fmt.Fprintf(&sb, "    %s\n", g.appInfo.Version)
	fmt.Fprintf(&sb, "    Built: %s\n\n", g.appInfo.BuildTime)

	if g.appInfo.DocsURL != "" {
		sb.WriteString("DOCUMENTATION\n")
		fmt.Fprintf(&sb, "    %s\n\n", g.appInfo.DocsURL)
	}

	return sb.String()
}

// header generates the header box.
func (g *Generator) header() string {
	width := 80
	title := strings.ToUpper(g.appInfo.Name)
	subtitle := g.appInfo.Description

	if len(subtitle) > width-4 {
		subtitle = subtitle[:width-7] + "..."
	}

	var sb strings.Builder
	sb.WriteString("\n")
	sb.WriteString("+" + strings.Repeat("-", width-2) + "+\n")

	titlePadding := (width - 2 - len(title)) / 2
	sb.WriteString("|" + strings.Repeat(" ", titlePadding) + title + strings.Repeat(" ", width-2-titlePadding-len(title)) + "|\n")

	subtitlePadding := (width - 2 - len(subtitle)) / 2
	sb.WriteString("|" + strings.Repeat(" ", subtitlePadding) + subtitle + strings.Repeat(" ", width-2-subtitlePadding-len(subtitle)) + "|\n")

	sb.WriteString("+" + strings.Repeat("-", width-2) + "+\n")
	return sb.String()
}

func (g *Generator) separator() string {
	return strings.Repeat("-", 80) + "\n\n"
}

func (g *Generator) optionsSection() string {
	return fmt.Sprintf(`    --config <path>        Path to configuration YAML file (optional)
                           Env: %s_CONFIG

    --dev                  Use the mock provider with local profiles
    --version              Show version information
    --help                 Show this help message
    --schema               Generate JSON Schema and exit
    --schema-output <file> Output file for schema (default: stdout)
`, g.envVarPrefix)
}

func (g *Generator) configSection() string {
	return fmt.Sprintf(`    Configuration is read from an optional YAML file and the environment.

    CONFIGURATION FILE STRUCTURE
    ----------------------------
    server:               HTTP server settings (port, base path, TLS)
    provider:             Whop app, OAuth endpoints and API paths
    session:              Session credential signing (HS256 | RS256)
    flow:                 Login flow cookies and store (cookie | memory | redis)
    cors:                 Origins allowed to call the client API
    dev_mode:             Mock provider profiles
    observability:        Metrics, tracing, health checks
    resilience:           Rate limiting, circuit breaker
    log:                  Logging configuration

    CONFIGURATION SOURCES (in order of priority):

    1. ENVIRONMENT VARIABLES
       Pattern: %s_<SECTION>_<KEY>, plus the names listed below.

    2. CONFIGURATION FILE (YAML)

    3. BUILT-IN DEFAULTS
`, g.envVarPrefix)
}

func (g *Generator) envVarsSection() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "    Pattern: %s_<SECTION>_<KEY>\n\n", g.envVarPrefix)
	sb.WriteString("    Duration values: 10s, 5m, 1h, 100ms\n\n")

	for _, group := range g.envGroups {
		fmt.Fprintf(&sb, "    [%s]\n", group.Title)
		for _, v := range group.Vars {
			fmt.Fprintf(&sb, "      %-26s %s\n", v.Name, v.Description)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func (g *Generator) flowSection() string {
	return `    1. The game opens a browser at /oauth/init?mode=loopback&port=<port>
       (or mode=direct) and the relay redirects to Whop.

    2. Whop redirects back to /oauth/callback. The relay checks the CSRF
       state, exchanges the code, looks the user up and signs a session
       credential.

    3. loopback: the confirmation page POSTs the session to
       http://127.0.0.1:<port>/session.
       direct:   the callback answers with JSON {session_token, user}.

    4. The game sends "Authorization: Bearer <session_token>" to /session,
       /me and /access/check.
`
}

func (g *Generator) examplesSection() string {
	name := g.appInfo.Name
	return fmt.Sprintf(`    # Environment only
    WHOP_APP_ID=app_xxx WHOP_API_KEY=key_xxx \
    SESSION_JWT_SECRET=$(openssl rand -hex 32) \
    OAUTH_REDIRECT_URI=https://relay.example.com/api/oauth/callback \
    %s

    # With a config file
    %s --config /etc/oauth-relay/config.yaml

    # Mock provider for local development
    %s --dev

    # Generate JSON schema
    %s --schema > config.schema.json
`, name, name, name, name)
}
