package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"reflect"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/spf13/afero"

	"github.com/aretw0/trail/pkg/core"
)

// sourceFS is where function source files are read from.
var sourceFS = afero.NewOsFs()

// FunctionOf derives the static identity of fn from the runtime symbol table.
// The version is the version of the module that defines fn, when the binary
// carries build info for it.
func FunctionOf(fn any) (core.Function, error) {
	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func || rv.IsNil() {
		return core.Function{}, fmt.Errorf("not a function: %T", fn)
	}
	rf := runtime.FuncForPC(rv.Pointer())
	if rf == nil {
		return core.Function{}, fmt.Errorf("no symbol for %T", fn)
	}

	module, name := SplitSymbol(rf.Name())
	file, line := rf.FileLine(rf.Entry())

	return core.Function{
		Name:       name,
		Module:     module,
		Version:    moduleVersion(module),
		SourceHash: sourceHash(sourceFS, rf.Name(), file, line),
	}, nil
}

// sourceHash hashes the symbol together with the file that defines it. When
// the file cannot be read, as for binaries run away from their sources, the
// location stands in for the content.
func sourceHash(fsys afero.Fs, symbol, file string, line int) string {
	h := sha256.New()
	h.Write([]byte(symbol))
	h.Write([]byte{0})
	if data, err := afero.ReadFile(fsys, file); err == nil {
		h.Write([]byte("source\x00"))
		h.Write(data)
	} else {
		fmt.Fprintf(h, "location\x00%s:%d", file, line)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SplitSymbol splits a runtime symbol such as "example.com/pkg.(*T).Method"
// into package path and name.
func SplitSymbol(symbol string) (string, string) {
	slash := strings.LastIndex(symbol, "/")
	dot := strings.Index(symbol[slash+1:], ".")
	if dot < 0 {
		return "", symbol
	}
	cut := slash + 1 + dot
	name := symbol[cut+1:]
	name = strings.TrimSuffix(name, "-fm")
	return symbol[:cut], name
}

func moduleVersion(pkgPath string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok || pkgPath == "" {
		return ""
	}
	if within(pkgPath, info.Main.Path) {
		return info.Main.Version
	}
	for _, dep := range info.Deps {
		if within(pkgPath, dep.Path) {
			return dep.Version
		}
	}
	return ""
}

func within(pkgPath, modPath string) bool {
	return modPath != "" && (pkgPath == modPath || strings.HasPrefix(pkgPath, modPath+"/"))
}
