package agentcli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/randalmurphal/threadrelay/fault"
	"github.com/randalmurphal/threadrelay/relaycontract"
)

// ExtendPath appends the common binary directories missing from path.
func ExtendPath(path string) string {
	var merged []string
	seen := make(map[string]bool)
	for _, dir := range filepath.SplitList(path) {
		if dir != "" && !seen[dir] {
			seen[dir] = true
			merged = append(merged, dir)
		}
	}
	for _, dir := range relaycontract.CommonBinDirs() {
		if !seen[dir] {
			seen[dir] = true
			merged = append(merged, dir)
		}
	}
	return strings.Join(merged, string(os.PathListSeparator))
}

// ResolveBinary locates the CLI: the explicit path, then the environment
// override, then the well-known install locations, then PATH (extended
// with the common binary directories).
func ResolveBinary(explicit string) (string, error) {
	candidates := []string{explicit, os.Getenv(relaycontract.EnvCLIPath)}
	for _, dir := range []string{"/opt/homebrew/bin", "/usr/local/bin", "/usr/bin"} {
		candidates = append(candidates, filepath.Join(dir, relaycontract.DefaultBinary))
	}
	for _, c := range candidates {
		if c != "" && isExecutable(c) {
			return c, nil
		}
	}

	name := relaycontract.DefaultBinary
	if explicit != "" && !strings.ContainsRune(explicit, os.PathSeparator) {
		name = explicit
	}
	for _, dir := range filepath.SplitList(ExtendPath(os.Getenv("PATH"))) {
		p := filepath.Join(dir, name)
		if isExecutable(p) {
			return p, nil
		}
	}

	return "", fault.Fatal("resolve cli", fmt.Errorf(
		"%w: install the %s CLI, put it on PATH or set %s",
		fault.ErrCLINotFound, relaycontract.DefaultBinary, relaycontract.EnvCLIPath))
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Mode()&0o111 != 0
}

// Token sources.
const (
	TokenSourceEnv = "env"
	TokenSourceGH  = "gh"
)

// ResolveToken returns a token from GITHUB_TOKEN or GH_TOKEN, or from the
// gh CLI when neither is set. An empty token means none could be found.
func ResolveToken(ctx context.Context, path string) (token, source string) {
	for _, key := range []string{relaycontract.EnvGitHubToken, relaycontract.EnvGHToken} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v, TokenSourceEnv
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	gh := "gh"
	for _, dir := range filepath.SplitList(path) {
		if p := filepath.Join(dir, "gh"); isExecutable(p) {
			gh = p
			break
		}
	}

	cmd := exec.CommandContext(ctx, gh, relaycontract.GHTokenArgs()...)
	cmd.Env = append(os.Environ(), "PATH="+path)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return "", ""
	}
	if t := strings.TrimSpace(stdout.String()); t != "" {
		return t, TokenSourceGH
	}
	return "", ""
}

// isAuthText reports whether CLI output says authentication is missing.
func isAuthText(s string) bool {
	s = strings.ToLower(s)
	for _, marker := range []string{"not authenticated", "authentication required", "not logged in"} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}
