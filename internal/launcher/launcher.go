// Package launcher builds the *exec.Cmd for a tool provider: a direct
// stdio child process, or an HTTP_PROXY_BIN adapter invocation for
// providers that speak http/sse/streamablehttp instead of stdio.
package launcher

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/calobozan/mcpbridge/internal/providerconfig"
)

// Build constructs the command to run for the given provider name and
// entry. httpProxyBin is the configured adapter binary (spec §4.2/§6);
// it is only required for non-stdio providers.
func Build(name string, entry providerconfig.Entry, httpProxyBin string) (*exec.Cmd, error) {
	if entry.Disabled {
		return nil, fmt.Errorf("provider %q is disabled", name)
	}

	kind, err := entry.Kind()
	if err != nil {
		return nil, err
	}

	switch kind {
	case providerconfig.KindStdio:
		return buildStdio(name, entry)
	default:
		return buildHTTP(name, entry, kind, httpProxyBin)
	}
}

func buildStdio(name string, entry providerconfig.Entry) (*exec.Cmd, error) {
	if entry.Command == "" {
		return nil, fmt.Errorf("provider %q is missing command", name)
	}

	cmd := exec.Command(entry.Command, entry.Args...)
	cmd.Env = mergeEnv(entry.Env)
	return cmd, nil
}

func buildHTTP(name string, entry providerconfig.Entry, kind providerconfig.Kind, httpProxyBin string) (*exec.Cmd, error) {
	if entry.URL == "" {
		return nil, fmt.Errorf("provider %q (type %s) is missing url", name, kind)
	}
	if httpProxyBin == "" {
		return nil, fmt.Errorf("provider %q (type %s) requires HTTP_PROXY_BIN to be configured", name, kind)
	}

	args := []string{}
	if kind == providerconfig.KindHTTP || kind == providerconfig.KindStreamableHTTP {
		args = append(args, "--transport", "streamablehttp")
	}
	for hk, hv := range entry.Headers {
		args = append(args, "-H", hk, hv)
	}
	args = append(args, entry.URL)

	cmd := exec.Command(httpProxyBin, args...)
	cmd.Env = mergeEnv(entry.Env)
	return cmd, nil
}

// mergeEnv overlays the provider's env map onto the current process
// environment, matching _build_from_config's child_env = os.environ.copy().
func mergeEnv(overlay map[string]string) []string {
	env := os.Environ()
	for k, v := range overlay {
		env = append(env, k+"="+v)
	}
	return env
}
