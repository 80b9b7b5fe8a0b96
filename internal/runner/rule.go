package runner

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/bakkerme/marketwatch/internal/core"
)

// ruleEnv is what an item rule can see. price is -1 when the listing price
// cannot be read as a number; "Free" is 0.
type ruleEnv struct {
	Title       string  `expr:"title"`
	Price       float64 `expr:"price"`
	PriceText   string  `expr:"price_text"`
	Location    string  `expr:"location"`
	Description string  `expr:"description"`
	URL         string  `expr:"url"`
	Term        string  `expr:"term"`
	HasImage    bool    `expr:"has_image"`
}

// ItemRule is a compiled boolean expression over a listing. Listings for
// which it is false are suppressed.
//
//	price <= 300 && not (lower(title) contains "broken")
type ItemRule struct {
	source  string
	program *vm.Program
}

func NewItemRule(source string) (*ItemRule, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, nil
	}
	program, err := expr.Compile(source, expr.Env(ruleEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile item rule: %w", err)
	}
	return &ItemRule{source: source, program: program}, nil
}

func (r *ItemRule) String() string {
	if r == nil {
		return ""
	}
	return r.source
}

// Allow reports whether item passes. A nil rule allows everything.
func (r *ItemRule) Allow(item core.Item) (bool, error) {
	if r == nil {
		return true, nil
	}
	out, err := expr.Run(r.program, newRuleEnv(item))
	if err != nil {
		return true, fmt.Errorf("evaluate item rule: %w", err)
	}
	allowed, _ := out.(bool)
	return allowed, nil
}

func newRuleEnv(item core.Item) ruleEnv {
	return ruleEnv{
		Title:       item.Title,
		Price:       parsePrice(item.Price),
		PriceText:   item.Price,
		Location:    item.Location,
		Description: item.Description,
		URL:         item.URL,
		Term:        item.Term,
		HasImage:    item.ImageURL != "",
	}
}

func parsePrice(text string) float64 {
	t := strings.TrimSpace(text)
	if strings.EqualFold(t, "free") {
		return 0
	}
	var b strings.Builder
	for _, r := range t {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		} else if b.Len() > 0 && r != ',' {
			break
		}
	}
	v, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return -1
	}
	return v
}
