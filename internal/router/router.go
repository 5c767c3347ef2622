// Package router places stage outputs into the final result tree. Routes are
// registered at assembly time as (stage, port) -> category; at run time the
// router joins the category, the run context's path tags, and the produced
// file name under the output root, applies the ordered sink rules to the
// resulting path, and copies the file into place.
package router

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mckenziephagen/mindboggle/internal/ctxlog"
)

// SinkRule rewrites one substring of a candidate output path. Rules apply in
// declared order; every rule that matches is applied, each on the result of
// the previous one.
type SinkRule struct {
	Match   string
	Replace string
}

// RoutingError reports two distinct producers routed to the same final path
// within one run, which means the route table is misconfigured.
type RoutingError struct {
	Path     string
	Producer string
	Existing string
}

// Error implements the error interface.
func (e *RoutingError) Error() string {
	return fmt.Sprintf("duplicate route to %s: %s collides with %s", e.Path, e.Producer, e.Existing)
}

type routeKey struct {
	Stage string
	Port  string
}

// Router owns the output root, the sink rule list, and the per-run claim map
// used to detect duplicate routes.
type Router struct {
	root  string
	rules []SinkRule

	mu         sync.Mutex
	categories map[routeKey]string
	claimed    map[string]routeKey
}

// New creates a router writing under root with the given ordered rules.
func New(root string, rules []SinkRule) *Router {
	return &Router{
		root:       root,
		rules:      append([]SinkRule(nil), rules...),
		categories: make(map[routeKey]string),
		claimed:    make(map[string]routeKey),
	}
}

// Root returns the configured output root.
func (r *Router) Root() string { return r.root }

// Register declares that a stage's output port belongs to a result category
// (for example "labels" or "tables"). Only registered ports are routed.
func (r *Router) Register(stage, port, category string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.categories[routeKey{Stage: stage, Port: port}] = category
}

// Category returns the registered category for a stage's output port.
func (r *Router) Category(stage, port string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.categories[routeKey{Stage: stage, Port: port}]
	return c, ok
}

// ApplyRules runs the ordered sink rule list over a path string.
func (r *Router) ApplyRules(path string) string {
	for _, rule := range r.rules {
		path = strings.ReplaceAll(path, rule.Match, rule.Replace)
	}
	return path
}

// Route copies a produced file to its final location and returns that path.
// The final path is root/category/<context tags>/<file name> after sink rule
// substitution. Distinct producers claiming the same final path fail with
// RoutingError; the same producer re-routing (a rerun) overwrites silently.
func (r *Router) Route(ctx context.Context, stage, port string, contextTags []string, producedFile string) (string, error) {
	logger := ctxlog.FromContext(ctx)
	key := routeKey{Stage: stage, Port: port}

	r.mu.Lock()
	category, ok := r.categories[key]
	r.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("no route registered for %s.%s", stage, port)
	}

	segments := append([]string{category}, contextTags...)
	segments = append(segments, filepath.Base(producedFile))
	rel := r.ApplyRules(filepath.Join(segments...))
	final := filepath.Join(r.root, rel)

	r.mu.Lock()
	if existing, taken := r.claimed[final]; taken && existing != key {
		r.mu.Unlock()
		return "", &RoutingError{
			Path:     final,
			Producer: stage + "." + port,
			Existing: existing.Stage + "." + existing.Port,
		}
	}
	r.claimed[final] = key
	r.mu.Unlock()

	if err := copyFile(producedFile, final); err != nil {
		return "", fmt.Errorf("failed to place output for %s.%s: %w", stage, port, err)
	}

	logger.Debug("Routed stage output.", "stage", stage, "port", port, "path", final)
	return final, nil
}

// copyFile copies src to dst, creating parent directories and overwriting
// any existing file.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
