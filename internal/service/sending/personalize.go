package sending

import (
	"fmt"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"github.com/ignite/audience-crm/internal/domain"
	"github.com/ignite/audience-crm/internal/pkg/logger"
)

// Personalizer renders campaign messages for individual customers using
// Liquid templates: "Hi {{ first_name | default: 'there' }}". Messages
// without template markup come back unchanged.
type Personalizer struct {
	engine *liquid.Engine

	mu    sync.Mutex
	cache map[string]*liquid.Template
}

// maxCachedTemplates bounds the parsed-template cache. A campaign renders
// one message for its whole audience, so a handful of entries is plenty;
// when the cache fills it is emptied.
const maxCachedTemplates = 32

// NewPersonalizer creates a Personalizer with the CRM's filters registered.
func NewPersonalizer() *Personalizer {
	engine := liquid.NewEngine()

	// {{ first_name | default: "Friend" }}
	engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		if s := fmt.Sprintf("%v", value); s == "" || s == "<nil>" {
			return defaultVal
		}
		return value
	})

	// {{ total_spent | currency }}
	engine.RegisterFilter("currency", func(value interface{}) string {
		switch v := value.(type) {
		case float64:
			return fmt.Sprintf("$%.2f", v)
		case int:
			return fmt.Sprintf("$%d.00", v)
		}
		return fmt.Sprintf("%v", value)
	})

	return &Personalizer{engine: engine, cache: make(map[string]*liquid.Template)}
}

// Bindings exposes customer fields to templates.
func Bindings(c *domain.Customer) map[string]interface{} {
	b := map[string]interface{}{
		"first_name":         c.FirstName,
		"last_name":          c.LastName,
		"name":               c.FullName(),
		"email":              c.Email,
		"phone":              c.Phone,
		"total_spent":        c.TotalSpent,
		"orders_count":       len(c.Orders),
		"preferred_category": c.PreferredCategory,
		"preferred_day":      c.PreferredDay,
		"preferred_channel":  c.PreferredChannel,
	}
	if c.LastOrder != nil {
		b["last_order"] = c.LastOrder.Format("2006-01-02")
	}
	return b
}

// Render personalises message for c. On a parse or render error the raw
// message is returned together with the error.
func (p *Personalizer) Render(message string, c *domain.Customer) (string, error) {
	if !strings.Contains(message, "{{") && !strings.Contains(message, "{%") {
		return message, nil
	}

	tpl, err := p.template(message)
	if err != nil {
		logger.Warn("personalize: parse error", "error", err)
		return message, err
	}

	out, err := tpl.RenderString(Bindings(c))
	if err != nil {
		logger.Warn("personalize: render error", "customer_id", c.ID, "error", err)
		return message, err
	}
	return out, nil
}

func (p *Personalizer) template(message string) (*liquid.Template, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if tpl, ok := p.cache[message]; ok {
		return tpl, nil
	}
	tpl, err := p.engine.ParseString(message)
	if err != nil {
		return nil, err
	}
	if len(p.cache) >= maxCachedTemplates {
		clear(p.cache)
	}
	p.cache[message] = tpl
	return tpl, nil
}
