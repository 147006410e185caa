package relaycontract

// CLI flag names understood by the assistant CLI.
const (
	FlagModel   = "--model"
	FlagResume  = "--resume"
	FlagSession = "--session-id"
	FlagAddDir  = "--add-dir"
	FlagJSON    = "--json"
	FlagLogLvl  = "--log-level"
	FlagHost    = "--hostname"
	LogLvlError = "error"
)

// DefaultBinary is the CLI looked up on PATH when nothing else is configured.
const DefaultBinary = "copilot"

// EnvCLIPath overrides the CLI location.
const EnvCLIPath = "COPILOT_CLI_PATH"

// Token environment variables, checked in order.
const (
	EnvGitHubToken = "GITHUB_TOKEN"
	EnvGHToken     = "GH_TOKEN"
)

// DefaultHost is the host the token is resolved for.
const DefaultHost = "github.com"

// DefaultChatArgs starts the CLI in structured (JSON line) chat mode.
func DefaultChatArgs() []string {
	return []string{"chat", FlagJSON}
}

// DefaultModelsArgs lists models as a JSON array.
func DefaultModelsArgs() []string {
	return []string{"models", FlagJSON}
}

// GHTokenArgs asks the gh CLI for the logged-in token.
func GHTokenArgs() []string {
	return []string{"auth", "token", FlagHost, DefaultHost}
}

// CommonBinDirs are appended to PATH and probed for the CLI binary.
func CommonBinDirs() []string {
	return []string{"/opt/homebrew/bin", "/usr/local/bin", "/usr/bin", "/bin", "/usr/sbin", "/sbin"}
}
