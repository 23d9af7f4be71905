// Package policy decides what an actor may do to a resource. Each
// (action, subject) pair maps to a CEL expression evaluated over two
// variables: actor and resource. Rules are compiled once when the Enforcer
// is built; evaluation is read-only and safe for concurrent use.
package policy

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"gopkg.in/yaml.v3"

	"github.com/asascience/matos/internal/apperror"
)

// Action is a verb an actor performs.
type Action string

const (
	Read    Action = "read"
	Create  Action = "create"
	Update  Action = "update"
	Destroy Action = "destroy"
	Manage  Action = "manage"
)

// Subject is the kind of resource an action targets.
type Subject string

const (
	Report     Subject = "Report"
	Study      Subject = "Study"
	Deployment Subject = "Deployment"
	Submission Subject = "Submission"
	User       Subject = "User"
)

// Role levels. Higher levels include every lower one.
const (
	LevelGuest        = 0
	LevelGeneral      = 1
	LevelResearcher   = 2
	LevelInvestigator = 3
	LevelAdmin        = 4
)

// Actor is the user attempting an action. The zero value is an anonymous
// guest.
type Actor struct {
	ID    string
	Level int
}

// IsAdmin reports whether the actor holds the admin role.
func (a Actor) IsAdmin() bool { return a.Level >= LevelAdmin }

// Resource describes ownership of the target. Scoped is false for
// collection-level checks ("may this actor manage reports at all").
type Resource struct {
	Scoped      bool
	OwnerID     string
	Managers    []string
	Readers     []string
	SubmitterID string
}

// Global is the unscoped resource used for collection-level checks.
var Global = Resource{}

// Key renders the rule key for an action/subject pair.
func Key(action Action, subject Subject) string {
	return string(action) + ":" + string(subject)
}

// Shared fragments of the default rules.
const (
	isAdmin   = `actor.level >= 4`
	isOwner   = `(actor.id != "" && resource.scoped && resource.owner_id == actor.id)`
	isManager = `(actor.id != "" && resource.scoped && actor.id in resource.managers)`
	isReader  = `(actor.id != "" && resource.scoped && actor.id in resource.readers)`
)

// DefaultRules returns the built-in ability rules.
func DefaultRules() map[string]string {
	manages := isAdmin + ` || ` + isOwner + ` || ` + isManager
	reads := manages + ` || ` + isReader

	return map[string]string{
		Key(Manage, Report):  isAdmin,
		Key(Read, Report):    isAdmin + ` || ` + isOwner + ` || ` + isManager,
		Key(Create, Report):  `true`,
		Key(Update, Report):  manages,
		Key(Destroy, Report): manages,

		Key(Create, Study): `actor.level >= 2`,
		Key(Read, Study):   reads,
		Key(Manage, Study): manages,

		Key(Read, Deployment):    reads,
		Key(Create, Deployment):  `actor.level >= 2 && (` + manages + `)`,
		Key(Manage, Deployment):  manages,
		Key(Destroy, Deployment): manages,

		Key(Read, Submission):    reads,
		Key(Create, Submission):  `actor.level >= 3 && (` + manages + `)`,
		Key(Update, Submission):  `actor.level >= 3 && (` + manages + `)`,
		Key(Destroy, Submission): manages + ` || (actor.id != "" && resource.submitter_id == actor.id)`,

		Key(Manage, User): isAdmin,
	}
}

// Enforcer evaluates compiled ability rules.
type Enforcer struct {
	mu       sync.RWMutex
	programs map[string]cel.Program
	env      *cel.Env
}

// NewEnforcer compiles every rule. A rule that fails to compile aborts
// construction so misconfigured policies never reach a request.
func NewEnforcer(rules map[string]string) (*Enforcer, error) {
	env, err := cel.NewEnv(
		cel.Variable("actor", cel.DynType),
		cel.Variable("resource", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("creating CEL env: %w", err)
	}

	e := &Enforcer{programs: make(map[string]cel.Program, len(rules)), env: env}
	keys := make([]string, 0, len(rules))
	for k := range rules {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if err := e.compile(key, rules[key]); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// NewDefaultEnforcer builds an Enforcer from DefaultRules, overlaid with
// the rules in path when path is non-empty.
func NewDefaultEnforcer(path string) (*Enforcer, error) {
	rules := DefaultRules()
	if path != "" {
		overrides, err := LoadRules(path)
		if err != nil {
			return nil, err
		}
		for k, v := range overrides {
			rules[k] = v
		}
		slog.Info("policy overrides loaded",
			slog.String("path", path),
			slog.Int("rules", len(overrides)),
		)
	}
	return NewEnforcer(rules)
}

// LoadRules reads a YAML mapping of "action:Subject" keys to CEL expressions.
func LoadRules(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}

	var rules map[string]string
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parsing policy file: %w", err)
	}
	return rules, nil
}

func (e *Enforcer) compile(key, expr string) error {
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("compiling rule %s: %w", key, issues.Err())
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return fmt.Errorf("building rule %s: %w", key, err)
	}

	e.mu.Lock()
	e.programs[key] = prg
	e.mu.Unlock()
	return nil
}

// Can reports whether actor may perform action on subject. Unknown rules
// deny.
func (e *Enforcer) Can(action Action, subject Subject, actor Actor, res Resource) (bool, error) {
	key := Key(action, subject)

	e.mu.RLock()
	prg, ok := e.programs[key]
	e.mu.RUnlock()
	if !ok {
		return false, nil
	}

	out, _, err := prg.Eval(map[string]any{
		"actor":    actorVars(actor),
		"resource": resourceVars(res),
	})
	if err != nil {
		return false, fmt.Errorf("evaluating rule %s: %w", key, err)
	}

	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule %s returned %T, want bool", key, out.Value())
	}
	return allowed, nil
}

// Authorize is Can mapped onto apperror: denial is 403 and an evaluation
// failure is 500.
func (e *Enforcer) Authorize(action Action, subject Subject, actor Actor, res Resource) error {
	allowed, err := e.Can(action, subject, actor, res)
	if err != nil {
		return apperror.NewInternal(err)
	}
	if !allowed {
		return apperror.NewForbidden("you are not authorized to perform this action")
	}
	return nil
}

func actorVars(a Actor) map[string]any {
	return map[string]any{
		"id":    a.ID,
		"level": int64(a.Level),
	}
}

func resourceVars(r Resource) map[string]any {
	return map[string]any{
		"scoped":       r.Scoped,
		"owner_id":     r.OwnerID,
		"managers":     nonNil(r.Managers),
		"readers":      nonNil(r.Readers),
		"submitter_id": r.SubmitterID,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
