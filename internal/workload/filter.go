package workload

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rs/zerolog/log"
)

// Platform is the environment visible to `when` expressions as os and arch.
type Platform struct {
	OS   string
	Arch string
}

// CurrentPlatform describes the running process.
func CurrentPlatform() Platform {
	return Platform{OS: runtime.GOOS, Arch: runtime.GOARCH}
}

func (p Platform) env() map[string]any {
	return map[string]any{
		"os":   p.OS,
		"arch": p.Arch,
	}
}

// Filter drops components whose `when` expression is false on p. Workloads
// left with no components are kept so their controllers still exist.
func Filter(workloads []Workload, p Platform) ([]Workload, error) {
	programs := make(map[string]*vm.Program)
	env := p.env()

	out := make([]Workload, 0, len(workloads))
	for _, w := range workloads {
		kept := w
		kept.Components = make([]Component, 0, len(w.Components))
		for _, c := range w.Components {
			when := strings.TrimSpace(c.When)
			if when == "" {
				kept.Components = append(kept.Components, c)
				continue
			}

			prog, ok := programs[when]
			if !ok {
				var err error
				prog, err = expr.Compile(when, expr.Env(env), expr.AsBool())
				if err != nil {
					return nil, fmt.Errorf("%w: %s/%s: bad when expression: %v", ErrInvalidWorkload, w.Name, c.ID, err)
				}
				programs[when] = prog
			}

			res, err := expr.Run(prog, env)
			if err != nil {
				return nil, fmt.Errorf("%s/%s: evaluate when expression: %w", w.Name, c.ID, err)
			}
			if match, _ := res.(bool); match {
				kept.Components = append(kept.Components, c)
				continue
			}
			log.Debug().Str("workload", w.Name).Str("component", c.ID).Str("when", when).Str("os", p.OS).Msg("Component excluded on this platform")
		}
		out = append(out, kept)
	}
	return out, nil
}
