package funnel

import (
	"fmt"
	"strings"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"

	"advisor/schemas"
)

type route struct {
	when    string
	video   string
	program *exprvm.Program
}

// Router resolves which video a step plays.
type Router struct {
	cfg    *schemas.FunnelConfig
	routes []route
}

// NewRouter compiles every route rule up front so a bad expression fails at
// startup rather than mid-funnel.
func NewRouter(cfg *schemas.FunnelConfig) (*Router, error) {
	r := &Router{cfg: cfg}
	for i, rule := range cfg.Routes {
		when := strings.TrimSpace(rule.When)
		if when == "" {
			return nil, fmt.Errorf("route %d: empty condition", i)
		}
		program, err := exprlang.Compile(when, exprlang.Env(routeEnv(schemas.Lead{})), exprlang.AsBool())
		if err != nil {
			return nil, fmt.Errorf("route %d %q: %w", i, when, err)
		}
		r.routes = append(r.routes, route{when: when, video: rule.Video, program: program})
	}
	return r, nil
}

func routeEnv(lead schemas.Lead) map[string]any {
	return map[string]any{
		"path":       lead.Path,
		"advisor":    lead.AdvisorName,
		"email":      lead.Email,
		"phone":      lead.Phone,
		"first_name": lead.FirstName,
		"last_name":  lead.LastName,
	}
}

func (r *Router) IntroVideo() string {
	return strings.TrimSpace(r.cfg.Videos[schemas.VideoRoleIntro])
}

// PathVideo returns the reference played after the visitor chose lead.Path:
// the path's own video, else the first matching route, else the video
// registered under the path tag.
func (r *Router) PathVideo(lead schemas.Lead) (string, error) {
	if opt, ok := r.cfg.Path(lead.Path); ok && strings.TrimSpace(opt.Video) != "" {
		return r.resolve(opt.Video), nil
	}

	env := routeEnv(lead)
	for _, rt := range r.routes {
		out, err := exprlang.Run(rt.program, env)
		if err != nil {
			return "", fmt.Errorf("route %q: %w", rt.when, err)
		}
		if matched, _ := out.(bool); matched {
			return r.resolve(rt.video), nil
		}
	}

	if ref := strings.TrimSpace(r.cfg.Videos[lead.Path]); ref != "" {
		return ref, nil
	}
	return "", fmt.Errorf("no video for path %q", lead.Path)
}

// resolve accepts either a role registered under videos or a literal
// reference.
func (r *Router) resolve(ref string) string {
	ref = strings.TrimSpace(ref)
	if v, ok := r.cfg.Videos[ref]; ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return ref
}

// Validate reports paths that cannot be resolved to any video for a lead
// carrying only the path tag.
func (r *Router) Validate() error {
	for _, opt := range r.cfg.Paths {
		if _, err := r.PathVideo(schemas.Lead{Path: opt.Tag}); err != nil {
			return err
		}
	}
	return nil
}
