// internal/service/notification/infrastructure/rule/cel_engine.go
package rule

import (
	"sort"

	"fooddelivery/internal/service/notification/domain"
	orderdomain "fooddelivery/internal/service/order/domain"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"
)

// CELRuleEngine 是 domain.RuleEngine 的 CEL 实现，每个受众一条布尔表达式。
// 表达式可以使用 status、previous_status、role、payment_status 四个字符串变量。
type CELRuleEngine struct {
	programs map[domain.Audience]cel.Program
	order    []domain.Audience
}

// NewCELRuleEngine 在启动时编译所有规则，任何一条编译失败都返回错误。
func NewCELRuleEngine(rules map[string]string) (*CELRuleEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("status", cel.StringType),
		cel.Variable("previous_status", cel.StringType),
		cel.Variable("role", cel.StringType),
		cel.Variable("payment_status", cel.StringType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create cel environment")
	}

	e := &CELRuleEngine{programs: make(map[domain.Audience]cel.Program, len(rules))}
	for name, expr := range rules {
		ast, iss := env.Compile(expr)
		if iss.Err() != nil {
			return nil, errors.Wrapf(iss.Err(), "compile routing rule for %s", name)
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, errors.Errorf("routing rule for %s must return bool, got %s", name, ast.OutputType())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, errors.Wrapf(err, "build routing program for %s", name)
		}
		audience := domain.Audience(name)
		e.programs[audience] = prg
		e.order = append(e.order, audience)
	}
	// 固定顺序，保证同一事件的发送顺序稳定
	sort.Slice(e.order, func(i, j int) bool { return e.order[i] < e.order[j] })
	return e, nil
}

// Audiences 依次评估每个受众的规则，返回结果为 true 的受众
func (e *CELRuleEngine) Audiences(event *orderdomain.NotificationEvent) ([]domain.Audience, error) {
	vars := map[string]any{
		"status":          string(event.Status),
		"previous_status": string(event.PreviousStatus),
		"role":            string(event.ActorRole),
		"payment_status":  string(event.PaymentStatus),
	}

	var out []domain.Audience
	for _, audience := range e.order {
		val, _, err := e.programs[audience].Eval(vars)
		if err != nil {
			return nil, errors.Wrapf(err, "evaluate routing rule for %s", audience)
		}
		if matched, ok := val.Value().(bool); ok && matched {
			out = append(out, audience)
		}
	}
	return out, nil
}
