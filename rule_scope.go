package syncstate

import (
	"sort"
	"strings"
	"time"
)

// Names bound by every evaluator. An entry sharing one of them is still
// reachable as entries.<name>.
const (
	bindingNow      = "now"
	bindingArgs     = "args"
	bindingMetadata = "metadata"
	bindingState    = "state"
	bindingEntries  = "entries"
	bindingCall     = "call"
)

var reservedBindings = map[string]bool{
	bindingNow:      true,
	bindingArgs:     true,
	bindingMetadata: true,
	bindingState:    true,
	bindingEntries:  true,
	bindingCall:     true,
}

// ruleScope is the variable set an expression runs against.
type ruleScope struct {
	now      time.Time
	args     map[string]any
	metadata map[string]any
	state    map[string]string
	entries  map[string]any
}

func newRuleScope(ctx RuleContext) ruleScope {
	ctx = ctx.withDefaults()
	entries, _ := ctx.Snapshot.(map[string]any)
	if entries == nil {
		entries = map[string]any{}
	}
	state := map[string]string{}
	for key, value := range ctx.stateBinding() {
		if text, ok := value.(string); ok {
			state[key] = text
		}
	}
	return ruleScope{
		now:      ctx.timestamp(),
		args:     ctx.Args,
		metadata: ctx.Metadata,
		state:    state,
		entries:  entries,
	}
}

// entryNames lists the entries bound as top-level variables, sorted.
func (s ruleScope) entryNames() []string {
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		if !reservedBindings[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// vars flattens the scope, converting entry values with convert when set.
func (s ruleScope) vars(convert func(any) any) map[string]any {
	vars := make(map[string]any, len(s.entries)+len(reservedBindings))
	for _, name := range s.entryNames() {
		value := s.entries[name]
		if convert != nil {
			value = convert(value)
		}
		vars[name] = value
	}
	vars[bindingNow] = s.now
	vars[bindingArgs] = s.args
	vars[bindingMetadata] = s.metadata
	vars[bindingState] = s.state
	vars[bindingEntries] = s.entries
	return vars
}

// programKey namespaces cached programs per engine and per function
// registry so evaluators can share one ProgramCache.
func programKey(engine, functions, expression string, names ...string) string {
	key := engine + "\x00" + functions + "\x00" + expression
	if len(names) > 0 {
		key += "\x00" + strings.Join(names, ",")
	}
	return key
}
