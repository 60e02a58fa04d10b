package env

import (
	"os"
	"sort"
	"strings"
)

type Var map[string]string

// Env composes the environment handed to the managed runtime.
// Layers are applied in order: preserved base, custom vars, derived vars.
type Env struct {
	base    Var
	custom  Var
	derived Var
}

func New() *Env {
	return &Env{base: make(Var), custom: make(Var), derived: make(Var)}
}

// Preserve copies variables from environ into the base layer. When all is
// true every variable is kept; otherwise only the listed names are.
func (e *Env) Preserve(environ []string, all bool, names []string) {
	keep := make(map[string]struct{}, len(names))
	for _, n := range names {
		keep[n] = struct{}{}
	}
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		if _, wanted := keep[k]; all || wanted {
			e.base[k] = v
		}
	}
}

// PreserveOS is Preserve over os.Environ.
func (e *Env) PreserveOS(all bool, names []string) {
	e.Preserve(os.Environ(), all, names)
}

// Set adds a caller-supplied variable (custom layer).
func (e *Env) Set(k, v string) {
	if k == "" {
		return
	}
	e.custom[k] = v
}

// Derive adds a variable computed by the supervisor; it wins over every
// other layer.
func (e *Env) Derive(k, v string) {
	if k == "" {
		return
	}
	e.derived[k] = v
}

// Lookup returns the composed value of k.
func (e *Env) Lookup(k string) (string, bool) {
	m := e.compose()
	v, ok := m[k]
	return v, ok
}

// List returns the composed environment as sorted KEY=VALUE entries with
// ${VAR} references expanded against the composed map (single pass).
func (e *Env) List() []string {
	m := e.compose()
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	sort.Strings(out)
	return out
}

func (e *Env) compose() Var {
	m := make(Var, len(e.base)+len(e.custom)+len(e.derived))
	for _, layer := range []Var{e.base, e.custom, e.derived} {
		for k, v := range layer {
			m[k] = v
		}
	}
	return m
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, func(k string) string {
		if v, ok := m[k]; ok {
			return v
		}
		return "${" + k + "}"
	})
}
