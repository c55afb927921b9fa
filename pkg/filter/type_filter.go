// Package filter decides which resolved types are left out of an archive.
// Generated types (lambda forms, dynamic proxies, bytecode-enhanced
// subclasses) are named per process and cannot be matched on restore.
package filter

import (
	"strings"
	"sync"

	"github.com/classreg/pkg/model"
)

// Reason describes why a type is excluded.
type Reason int

const (
	// ReasonNone means the type is archived.
	ReasonNone Reason = iota
	// ReasonName means a rule matched the type's own name.
	ReasonName
	// ReasonSuper means a super class or interface is excluded.
	ReasonSuper
	// ReasonHidden means the type is hidden and has no name to share.
	ReasonHidden
)

// String returns the string representation of the reason.
func (r Reason) String() string {
	switch r {
	case ReasonName:
		return "name"
	case ReasonSuper:
		return "super"
	case ReasonHidden:
		return "hidden"
	default:
		return "none"
	}
}

// Rules lists the name patterns of excluded types, in internal form.
type Rules struct {
	Names    []string
	Prefixes []string
	Suffixes []string
	Contains []string
}

// DefaultRules matches the types the runtime and common libraries
// generate at run time.
func DefaultRules() Rules {
	return Rules{
		Prefixes: []string{
			"jdk/proxy",
			"com/sun/proxy/$Proxy",
			"jdk/internal/reflect/Generated",
			"java/lang/invoke/LambdaForm$",
		},
		Contains: []string{
			"$$Lambda",
			"$$EnhancerByCGLIB$$",
			"$$FastClassByCGLIB$$",
			"$$SpringCGLIB$$",
			"$HibernateProxy$",
			"$ByteBuddy$",
			"$MockitoMock$",
		},
	}
}

// TypeFilter matches type names against exclusion rules. It is safe for
// concurrent use.
type TypeFilter struct {
	mu    sync.RWMutex
	names map[string]bool
	rules Rules

	// Cache for names already matched
	cache     map[string]bool
	cacheSize int
}

// New creates a filter with DefaultRules.
func New() *TypeFilter {
	return NewWithRules(DefaultRules())
}

// NewWithRules creates a filter with exactly rules.
func NewWithRules(rules Rules) *TypeFilter {
	f := &TypeFilter{
		names:     make(map[string]bool),
		cache:     make(map[string]bool),
		cacheSize: 10000,
	}
	f.Add(rules)
	return f
}

// Add appends rules. Dotted names are converted to internal form.
func (f *TypeFilter) Add(rules Rules) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, n := range rules.Names {
		f.names[internal(n)] = true
	}
	f.rules.Prefixes = appendUnique(f.rules.Prefixes, rules.Prefixes)
	f.rules.Suffixes = appendUnique(f.rules.Suffixes, rules.Suffixes)
	f.rules.Contains = appendUnique(f.rules.Contains, rules.Contains)

	// Clear cache since matches may change
	f.cache = make(map[string]bool)
}

// AddPrefixes excludes every type whose name starts with one of prefixes.
func (f *TypeFilter) AddPrefixes(prefixes []string) {
	f.Add(Rules{Prefixes: prefixes})
}

// Prefixes returns the current prefix rules.
func (f *TypeFilter) Prefixes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	result := make([]string, len(f.rules.Prefixes))
	copy(result, f.rules.Prefixes)
	return result
}

// Excludes reports whether name matches a rule.
func (f *TypeFilter) Excludes(name string) bool {
	f.mu.RLock()
	if hit, ok := f.cache[name]; ok {
		f.mu.RUnlock()
		return hit
	}
	hit := f.match(name)
	f.mu.RUnlock()

	f.mu.Lock()
	if len(f.cache) < f.cacheSize {
		f.cache[name] = hit
	}
	f.mu.Unlock()
	return hit
}

// match requires f.mu held.
func (f *TypeFilter) match(name string) bool {
	if f.names[name] {
		return true
	}
	for _, p := range f.rules.Prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	for _, s := range f.rules.Suffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	for _, c := range f.rules.Contains {
		if strings.Contains(name, c) {
			return true
		}
	}
	return false
}

// Check reports whether td is excluded. A type whose super class or an
// interface is excluded is excluded too; culprit names the matching type.
func (f *TypeFilter) Check(td *model.TypeDescriptor) (reason Reason, culprit string) {
	if td.Hidden {
		return ReasonHidden, td.Name
	}
	seen := make(map[*model.TypeDescriptor]bool)
	var walk func(t *model.TypeDescriptor) string
	walk = func(t *model.TypeDescriptor) string {
		if t == nil || seen[t] {
			return ""
		}
		seen[t] = true
		if f.Excludes(t.Name) {
			return t.Name
		}
		if c := walk(t.Super); c != "" {
			return c
		}
		for _, itf := range t.InterfaceTypes {
			if c := walk(itf); c != "" {
				return c
			}
		}
		return ""
	}

	culprit = walk(td)
	switch {
	case culprit == "":
		return ReasonNone, ""
	case culprit == td.Name:
		return ReasonName, culprit
	default:
		return ReasonSuper, culprit
	}
}

func internal(name string) string {
	return strings.ReplaceAll(name, ".", "/")
}

func appendUnique(dst, src []string) []string {
	for _, s := range src {
		s = internal(s)
		dup := false
		for _, d := range dst {
			if d == s {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, s)
		}
	}
	return dst
}
