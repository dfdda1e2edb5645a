// Command adminkey generates an admin key and the hash to put in
// ADMIN_KEY_HASH. The plaintext is shown once and never stored.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/stayawake/stayawake/internal/auth"
)

type output struct {
	Key       string `json:"key"`
	KeyPrefix string `json:"key_prefix"`
	Hash      string `json:"hash"`
	EnvLine   string `json:"env_line"`
}

func main() {
	var (
		env    = flag.String("env", auth.EnvLive, "Key environment: live or test")
		format = flag.String("format", "plain", "Output format: plain, env or json")
	)
	flag.Parse()

	if err := run(os.Stdout, *env, *format); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func run(w io.Writer, env, format string) error {
	if env != auth.EnvLive && env != auth.EnvTest {
		return fmt.Errorf("invalid env %q; use live or test", env)
	}

	generated, err := auth.GenerateAdminKey(env)
	if err != nil {
		return fmt.Errorf("generate admin key: %w", err)
	}

	out := output{
		Key:       generated.Plaintext,
		KeyPrefix: generated.Prefix,
		Hash:      generated.Hash,
		EnvLine:   "ADMIN_KEY_HASH='" + generated.Hash + "'",
	}

	switch strings.ToLower(format) {
	case "plain":
		fmt.Fprintf(w, "key:  %s\nhash: %s\n", out.Key, out.Hash)
	case "env":
		fmt.Fprintln(w, out.EnvLine)
		fmt.Fprintf(w, "# key: %s\n", out.Key)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	default:
		return fmt.Errorf("invalid format %q; use plain, env or json", format)
	}
	return nil
}
