// Package scenario defines the declarative saga DSL and its loader.
//
// A scenario document enumerates the domains of a saga (each with its input
// queue), the event types with their payload schemas, and the listeners that
// react to events by mutating per-correlation state and emitting new events.
// Documents are parsed from JSON or YAML, normalized (defaults applied,
// unknown keys rejected) and validated as a whole; every issue is reported
// with a dotted path in one aggregated error.
//
// A Scenario is immutable after load. The runtime indexes it once at startup
// and treats dispatch as pure table lookup.
package scenario

import "fmt"

// Scenario is the root of the saga DSL.
type Scenario struct {
	// Name is the human label of the scenario.
	Name string

	// Version of the document. Defaults to 1 on ingestion.
	Version int

	// Domains are the logical actors, each with a dedicated input queue.
	Domains []Domain

	// Events declares every event type with its payload schema.
	Events []EventDef

	// Listeners are the declarative rules reacting to events.
	Listeners []Listener
}

// Domain is a logical actor (order, inventory, payments, ...) bound to an
// input queue.
type Domain struct {
	ID    string
	Queue string
}

// EventDef declares an event type and the shape of its data field.
type EventDef struct {
	Name          string
	PayloadSchema PayloadSchema
}

// Listener reacts to one event name with an ordered list of actions.
type Listener struct {
	ID string

	// On is the event name the listener reacts to.
	On string

	// DelayMs suspends the listener for the given milliseconds before its
	// actions run. Suspension is cooperative: other workers continue.
	DelayMs int

	// Actions run in declaration order.
	Actions []Action
}

// ActionType discriminates listener actions.
type ActionType string

// Listener action types.
const (
	ActionSetState ActionType = "set-state"
	ActionEmit     ActionType = "emit"
)

// Action is either a state mutation or an event emission.
type Action struct {
	Type ActionType

	// set-state fields.
	Domain string // declared domain id
	Status string // free-form status string

	// emit fields.
	Event    string      // declared event name
	ToDomain string      // declared domain id whose queue receives the event
	Mapping  EmitMapping // optional payload projection
	DelayMs  int         // optional suspension before publishing
}

// Validate checks referential integrity: unique domain ids and queues,
// unique event names, and listener references that resolve to declared
// names. Structural checks (types, unknown keys) happen in Normalize; this
// method guards scenarios assembled in code as well.
func (s *Scenario) Validate() error {
	var issues []Issue

	domainIDs := make(map[string]bool, len(s.Domains))
	queues := make(map[string]bool, len(s.Domains))
	for i, d := range s.Domains {
		path := fmt.Sprintf("domains[%d]", i)
		if d.ID == "" {
			issues = append(issues, Issue{Path: path + ".id", Message: "is required"})
		} else if domainIDs[d.ID] {
			issues = append(issues, Issue{Path: path + ".id", Message: fmt.Sprintf("duplicate domain id %q", d.ID)})
		}
		domainIDs[d.ID] = true

		if d.Queue == "" {
			issues = append(issues, Issue{Path: path + ".queue", Message: "is required"})
		} else if queues[d.Queue] {
			issues = append(issues, Issue{Path: path + ".queue", Message: fmt.Sprintf("duplicate queue %q", d.Queue)})
		}
		queues[d.Queue] = true
	}

	eventNames := make(map[string]bool, len(s.Events))
	for i, e := range s.Events {
		path := fmt.Sprintf("events[%d]", i)
		if e.Name == "" {
			issues = append(issues, Issue{Path: path + ".name", Message: "is required"})
		} else if eventNames[e.Name] {
			issues = append(issues, Issue{Path: path + ".name", Message: fmt.Sprintf("duplicate event name %q", e.Name)})
		}
		eventNames[e.Name] = true
	}

	if len(s.Listeners) == 0 {
		issues = append(issues, Issue{Path: "listeners", Message: "at least one listener is required"})
	}
	for i, l := range s.Listeners {
		path := fmt.Sprintf("listeners[%d]", i)
		if l.On == "" {
			issues = append(issues, Issue{Path: path + ".on.event", Message: "is required"})
		} else if !eventNames[l.On] {
			issues = append(issues, Issue{Path: path + ".on.event", Message: fmt.Sprintf("unknown event %q", l.On)})
		}
		if l.DelayMs < 0 {
			issues = append(issues, Issue{Path: path + ".delayMs", Message: "must be non-negative"})
		}

		for j, a := range l.Actions {
			apath := fmt.Sprintf("%s.actions[%d]", path, j)
			switch a.Type {
			case ActionSetState:
				if !domainIDs[a.Domain] {
					issues = append(issues, Issue{Path: apath + ".domain", Message: fmt.Sprintf("unknown domain %q", a.Domain)})
				}
				if a.Status == "" {
					issues = append(issues, Issue{Path: apath + ".status", Message: "is required"})
				}
			case ActionEmit:
				if !eventNames[a.Event] {
					issues = append(issues, Issue{Path: apath + ".event", Message: fmt.Sprintf("unknown event %q", a.Event)})
				}
				if !domainIDs[a.ToDomain] {
					issues = append(issues, Issue{Path: apath + ".toDomain", Message: fmt.Sprintf("unknown domain %q", a.ToDomain)})
				}
				if a.DelayMs < 0 {
					issues = append(issues, Issue{Path: apath + ".delayMs", Message: "must be non-negative"})
				}
			default:
				issues = append(issues, Issue{Path: apath + ".type", Message: fmt.Sprintf("unknown action type %q", a.Type)})
			}
		}
	}

	if len(issues) > 0 {
		return &ValidationError{Scenario: s.Name, Issues: issues}
	}
	return nil
}

// DomainByID returns the declared domain with the given id.
func (s *Scenario) DomainByID(id string) (Domain, bool) {
	for _, d := range s.Domains {
		if d.ID == id {
			return d, true
		}
	}
	return Domain{}, false
}

// EventByName returns the declared event with the given name.
func (s *Scenario) EventByName(name string) (EventDef, bool) {
	for _, e := range s.Events {
		if e.Name == name {
			return e, true
		}
	}
	return EventDef{}, false
}
