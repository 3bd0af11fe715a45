package rules

import (
	"fmt"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// HostAPIImport is the import path rulesets use to reach the host API.
const HostAPIImport = "skillsense/hostapi"

// allowedPackages is the allowlist of stdlib packages available to
// rulesets: pure computation only.
var allowedPackages = map[string]bool{
	"fmt":           true,
	"strings":       true,
	"strconv":       true,
	"math":          true,
	"sort":          true,
	"regexp":        true,
	"unicode":       true,
	"unicode/utf8":  true,
	"encoding/json": true,
}

// blockedPackages enumerates capabilities that must be absent from the
// runtime: I/O, process control, introspection, dynamic loading. The
// sandbox check walks this set.
var blockedPackages = []string{
	"os",
	"os/exec",
	"os/signal",
	"io",
	"io/fs",
	"io/ioutil",
	"net",
	"net/http",
	"syscall",
	"unsafe",
	"reflect",
	"runtime",
	"runtime/debug",
	"plugin",
	"path/filepath",
	"time",
}

// safeStdlibSymbols filters yaegi's stdlib symbol table down to the
// allowlist. Everything else never enters the interpreter.
func safeStdlibSymbols() interp.Exports {
	safe := make(interp.Exports)
	for key, symbols := range stdlib.Symbols {
		// Keys look like "path/filepath/filepath": import path plus
		// package name.
		idx := strings.LastIndex(key, "/")
		if idx < 0 {
			continue
		}
		if allowedPackages[key[:idx]] {
			safe[key] = symbols
		}
	}
	return safe
}

// validateImports rejects ruleset source importing anything outside the
// allowlist and the host API.
func validateImports(source string) error {
	var forbidden []string

	inBlock := false
	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "import (") {
			inBlock = true
			continue
		}
		if inBlock {
			if strings.HasPrefix(trimmed, ")") {
				inBlock = false
				continue
			}
		} else if !strings.HasPrefix(trimmed, "import ") {
			continue
		}

		pkg := strings.TrimPrefix(trimmed, "import ")
		pkg = strings.TrimSpace(pkg)
		// Strip an import alias if present.
		if i := strings.IndexByte(pkg, '"'); i > 0 {
			pkg = pkg[i:]
		}
		pkg = strings.Trim(pkg, `"`)
		if pkg == "" {
			continue
		}
		if pkg == HostAPIImport || allowedPackages[pkg] {
			continue
		}
		forbidden = append(forbidden, pkg)
	}

	if len(forbidden) > 0 {
		return fmt.Errorf("forbidden imports: %v (allowed: %s plus pure stdlib)", forbidden, HostAPIImport)
	}
	return nil
}
