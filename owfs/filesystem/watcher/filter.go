package watcher

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/ZanzyTHEbar/overwatch-fs/owfs/filesystem/common"
	"github.com/ZanzyTHEbar/overwatch-fs/owfs/filesystem/glob"
)

// rule decides whether an event path is selected. root is the subscription's
// current path, used by rules that match relative paths.
type rule interface {
	matches(path, root string) bool
	String() string
}

type literalRule struct {
	path  string
	paths *common.PathUtils
}

func (r literalRule) matches(path, _ string) bool { return r.paths.Equal(path, r.path) }
func (r literalRule) String() string               { return r.path }

type globRule struct {
	pattern *glob.Pattern
	paths   *common.PathUtils
}

func (r globRule) matches(path, _ string) bool { return r.pattern.MatchString(r.paths.ToSlash(path)) }
func (r globRule) String() string               { return r.pattern.String() }

type regexpRule struct {
	re *regexp.Regexp
}

func (r regexpRule) matches(path, _ string) bool { return r.re.MatchString(path) }
func (r regexpRule) String() string               { return r.re.String() }

type ignoreRule struct {
	source string
	gi     *ignore.GitIgnore
	paths  *common.PathUtils
}

func (r ignoreRule) matches(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return r.gi.MatchesPath(r.paths.ToSlash(rel))
}

func (r ignoreRule) String() string { return "ignorefile:" + r.source }

// compileRule turns a literal path or glob into a rule
func compileRule(raw string, paths *common.PathUtils) (rule, error) {
	if glob.IsGlobLike(raw) {
		p, err := glob.Compile(paths.ToSlash(raw), glob.Options{})
		if err != nil {
			return nil, err
		}
		return globRule{pattern: p, paths: paths}, nil
	}
	return literalRule{path: paths.NormalizePath(raw), paths: paths}, nil
}

func loadIgnoreFile(path string, paths *common.PathUtils) (rule, error) {
	gi, err := ignore.CompileIgnoreFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading ignore file %s: %w", path, err)
	}
	return ignoreRule{source: path, gi: gi, paths: paths}, nil
}

// filters holds the compiled include and exclude rules of a subscription
type filters struct {
	include []rule
	exclude []rule
}

func newFilters(opts *WatchOptions, paths *common.PathUtils) (filters, error) {
	var f filters
	if opts == nil {
		return f, nil
	}

	for _, raw := range opts.Include {
		r, err := compileRule(raw, paths)
		if err != nil {
			return filters{}, fmt.Errorf("invalid include rule %q: %w", raw, err)
		}
		f.include = append(f.include, r)
	}
	for _, raw := range opts.Exclude {
		r, err := compileRule(raw, paths)
		if err != nil {
			return filters{}, fmt.Errorf("invalid exclude rule %q: %w", raw, err)
		}
		f.exclude = append(f.exclude, r)
	}
	for _, re := range opts.IncludeRegexp {
		f.include = append(f.include, regexpRule{re: re})
	}
	for _, re := range opts.ExcludeRegexp {
		f.exclude = append(f.exclude, regexpRule{re: re})
	}
	if opts.IgnoreFile != "" {
		r, err := loadIgnoreFile(paths.NormalizePath(opts.IgnoreFile), paths)
		if err != nil {
			return filters{}, err
		}
		f.exclude = append(f.exclude, r)
	}
	return f, nil
}

func anyMatch(rules []rule, path, root string) bool {
	for _, r := range rules {
		if r.matches(path, root) {
			return true
		}
	}
	return false
}

// allows applies the delivery policy: an excluded path is delivered only when
// it is also included, and a non-empty include list admits only included paths.
func (f filters) allows(path, root string) bool {
	included := anyMatch(f.include, path, root)
	if anyMatch(f.exclude, path, root) {
		return included
	}
	if len(f.include) > 0 {
		return included
	}
	return true
}

func ruleStrings(rules []rule) []string {
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.String()
	}
	return out
}
