// Copyright The ikstorage Contributors
// SPDX-License-Identifier: Apache-2.0

package files

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// MaxPostProcessPasses bounds the substitution passes over files
// with circular references.
const MaxPostProcessPasses = 5

var ErrMaxPassesExceeded = errors.New("max post-process passes exceeded")

// referencePattern finds one kind of file reference. The first
// submatch is the referenced URL, which is written back using
// template.
type referencePattern struct {
	re       *regexp.Regexp
	template string
}

var referencePatterns = map[string][]referencePattern{
	".css": {
		{regexp.MustCompile(`(?i)url\(['"]{0,1}\s*(.*?)["']{0,1}\)`), `url("%s")`},
		{regexp.MustCompile(`(?i)@import\s*["']\s*(.*?)["']`), `@import url("%s")`},
		{regexp.MustCompile(`(?im)^/\*#[ \t]sourceMappingURL=(.*?)[ \t]*\*/$`), `/*# sourceMappingURL=%s */`},
	},
	".js": {
		{regexp.MustCompile(`(?im)^//# sourceMappingURL=(.*)$`), `//# sourceMappingURL=%s`},
	},
}

func adjustable(name string) bool {
	_, ok := referencePatterns[strings.ToLower(path.Ext(name))]
	return ok
}

// PostProcessOptions control PostProcess.
type PostProcessOptions struct {
	DryRun  bool
	Workers int
}

// Processed describes the outcome of post-processing one file.
type Processed struct {
	Name       string
	HashedName string
	Processed  bool
}

type hashedFile struct {
	name    string
	content []byte
}

// PostProcess stores hashed copies of the given static files and
// records them in the manifest. References in CSS and JavaScript
// files are rewritten to the hashed names of their targets; referenced
// files are processed before the files that reference them, and
// circular references are resolved with repeated passes.
func (s *HashedStaticStorage) PostProcess(ctx context.Context, names []string, opts PostProcessOptions) ([]Processed, error) {
	if opts.DryRun || len(names) == 0 {
		return nil, nil
	}

	s.skipExists.Store(true)
	defer s.skipExists.Store(false)

	names = append([]string(nil), names...)
	sort.Strings(names)

	contents := make(map[string][]byte, len(names))
	for _, name := range names {
		content, err := s.readSource(name)
		if err != nil {
			return nil, err
		}
		contents[name] = content
	}

	hashedFiles := make(map[string]string, len(names))
	final := make(map[string]hashedFile, len(names))

	process := func(name string) (bool, error) {
		content := contents[name]
		if adjustable(name) {
			var err error
			if content, err = s.substitute(name, content, hashedFiles); err != nil {
				return false, err
			}
		}

		h, err := s.HashedName(name, content)
		if err != nil {
			return false, err
		}

		key := CleanName(name)
		h = CleanName(h)
		changed := hashedFiles[key] != h
		hashedFiles[key] = h
		final[name] = hashedFile{name: h, content: content}

		return changed, nil
	}

	order, err := s.processingOrder(names, contents)
	switch {
	case err == nil:
		for _, name := range order {
			if _, err := process(name); err != nil {
				return nil, err
			}
		}

	case errors.As(err, new(topo.Unorderable)):
		log.WithError(err).Debug("circular references between static files, processing in passes")
		if err := s.processInPasses(names, process); err != nil {
			return nil, err
		}

	default:
		return nil, err
	}

	if err := s.uploadHashed(ctx, final, opts.Workers); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.hashed = hashedFiles
	s.loaded = true
	s.mu.Unlock()

	if err := s.SaveManifest(ctx); err != nil {
		return nil, fmt.Errorf("failed to save manifest: %w", err)
	}

	results := make([]Processed, 0, len(names))
	for _, name := range names {
		results = append(results, Processed{Name: name, HashedName: final[name].name, Processed: true})
	}

	return results, nil
}

func (s *HashedStaticStorage) readSource(name string) ([]byte, error) {
	r, err := s.sources.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer r.Close()

	return io.ReadAll(r)
}

// processInPasses hashes all files once and then repeats the
// adjustable files until their hashed names are stable.
func (s *HashedStaticStorage) processInPasses(names []string, process func(string) (bool, error)) error {
	for _, name := range names {
		if _, err := process(name); err != nil {
			return err
		}
	}

	for i := 0; i < MaxPostProcessPasses; i++ {
		changed := false
		for _, name := range names {
			if !adjustable(name) {
				continue
			}

			c, err := process(name)
			if err != nil {
				return err
			}
			changed = changed || c
		}

		if !changed {
			return nil
		}
	}

	return ErrMaxPassesExceeded
}

// processingOrder sorts names so that referenced files come before
// the files referencing them. It returns topo.Unorderable if the
// references are circular.
func (s *HashedStaticStorage) processingOrder(names []string, contents map[string][]byte) ([]string, error) {
	ids := make(map[string]int64, len(names))
	g := simple.NewDirectedGraph()
	for i, name := range names {
		ids[CleanName(name)] = int64(i)
		g.AddNode(simple.Node(i))
	}

	for i, name := range names {
		if !adjustable(name) {
			continue
		}

		for _, ref := range s.references(name, contents[name]) {
			p, _, _ := splitName(ref)
			target, ok := ids[CleanName(path.Clean(p))]
			if !ok || target == int64(i) || g.HasEdgeFromTo(target, int64(i)) {
				continue
			}
			g.SetEdge(g.NewEdge(simple.Node(target), simple.Node(i)))
		}
	}

	sorted, err := topo.SortStabilized(g, func(nodes []graph.Node) {
		sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID() < nodes[j].ID() })
	})
	if err != nil {
		return nil, err
	}

	order := make([]string, len(sorted))
	for i, n := range sorted {
		order[i] = names[n.ID()]
	}

	return order, nil
}

// references returns the static names referenced from name.
func (s *HashedStaticStorage) references(name string, content []byte) []string {
	var refs []string
	for _, p := range referencePatterns[strings.ToLower(path.Ext(name))] {
		for _, m := range p.re.FindAllSubmatch(content, -1) {
			if target, ok := s.referenceTarget(name, string(m[1])); ok {
				refs = append(refs, target)
			}
		}
	}
	return refs
}

// referenceTarget resolves a URL found in name to the static name it
// points to. External URLs, anchors and absolute paths outside the
// static URL are not resolved.
func (s *HashedStaticStorage) referenceTarget(name, ref string) (string, bool) {
	if hasScheme(ref) || strings.HasPrefix(ref, "//") || strings.HasPrefix(ref, "#") {
		return "", false
	}

	if strings.HasPrefix(ref, "/") && !strings.HasPrefix(ref, s.staticURL) {
		return "", false
	}

	urlPath, _, _ := strings.Cut(ref, "#")
	if urlPath == "" {
		return "", false
	}

	var target string
	if strings.HasPrefix(urlPath, "/") {
		target = strings.TrimPrefix(urlPath, s.staticURL)
	} else {
		p, query, hasQuery := strings.Cut(urlPath, "?")
		target = path.Join(path.Dir(CleanName(name)), p)
		if hasQuery {
			target += "?" + query
		}
	}

	if u, err := url.PathUnescape(target); err == nil {
		target = u
	}

	return target, true
}

// substitute rewrites the references in content to the hashed names
// of their targets.
func (s *HashedStaticStorage) substitute(name string, content []byte, hashedFiles map[string]string) ([]byte, error) {
	for _, p := range referencePatterns[strings.ToLower(path.Ext(name))] {
		var (
			out  bytes.Buffer
			last int
		)

		for _, m := range p.re.FindAllSubmatchIndex(content, -1) {
			matched := content[m[0]:m[1]]
			ref := string(content[m[2]:m[3]])

			replacement, err := s.convert(name, ref, p.template, hashedFiles)
			if err != nil {
				return nil, fmt.Errorf("%w (while processing '%s' in '%s')", err, ref, name)
			}

			out.Write(content[last:m[0]])
			if replacement == "" {
				out.Write(matched)
			} else {
				out.WriteString(replacement)
			}
			last = m[1]
		}

		out.Write(content[last:])
		content = out.Bytes()
	}

	return content, nil
}

// convert returns the rewritten form of one reference, or the empty
// string if the reference is kept as it is.
func (s *HashedStaticStorage) convert(name, ref, template string, hashedFiles map[string]string) (string, error) {
	target, ok := s.referenceTarget(name, ref)
	if !ok {
		return "", nil
	}

	hashed, err := s.hashedReference(target, hashedFiles)
	if err != nil {
		return "", err
	}

	urlPath, fragment, hasFragment := strings.Cut(ref, "#")
	segments := strings.Split(urlPath, "/")
	segments[len(segments)-1] = path.Base(hashed)
	transformed := strings.Join(segments, "/")

	if hasFragment && fragment != "" {
		if strings.Contains(ref, "?#") && !strings.Contains(transformed, "?") {
			transformed += "?"
		}
		transformed += "#" + fragment
	}

	return fmt.Sprintf(template, transformed), nil
}

// hashedReference returns the hashed name of a referenced file. Files
// that have not been processed yet are hashed from their local copy.
func (s *HashedStaticStorage) hashedReference(target string, hashedFiles map[string]string) (string, error) {
	p, query, fragment := splitName(target)
	clean := CleanName(path.Clean(strings.TrimSpace(p)))

	hashed, ok := hashedFiles[clean]
	if !ok {
		h, err := s.HashedName(clean, nil)
		if err != nil {
			return "", err
		}
		hashed = CleanName(h)
	}

	return joinName(hashed, query, fragment, strings.Contains(target, "?#")), nil
}

// uploadHashed saves the hashed copies with up to workers uploads in
// flight.
func (s *HashedStaticStorage) uploadHashed(ctx context.Context, files map[string]hashedFile, workers int) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))

	for name, f := range files {
		g.Go(func() error {
			if _, err := s.Save(ctx, f.name, bytes.NewReader(f.content)); err != nil {
				return fmt.Errorf("failed to store %s as %s: %w", name, f.name, err)
			}
			return nil
		})
	}

	return g.Wait()
}
