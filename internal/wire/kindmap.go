package wire

// StoredKind is the closed, table-level-enforced enum stored in events.type.
type StoredKind string

const (
	KindConsole    StoredKind = "console"
	KindError      StoredKind = "error"
	KindNetwork    StoredKind = "network"
	KindNav        StoredKind = "nav"
	KindUI         StoredKind = "ui"
	KindElementRef StoredKind = "element_ref"
)

// ValidKinds lists the closed set, used by the Store's insert check.
var ValidKinds = map[StoredKind]bool{
	KindConsole:    true,
	KindError:      true,
	KindNetwork:    true,
	KindNav:        true,
	KindUI:         true,
	KindElementRef: true,
}

// MapEventType projects an inbound eventType string onto the closed stored
// kind set. This is the "longer" canonical table from spec.md §9's open
// question: scroll/input/change/submit/focus/blur/keydown all fold into ui.
// Any value not recognized below also folds into ui, per §4.1.
func MapEventType(eventType string) StoredKind {
	switch eventType {
	case EventTypeNavigation:
		return KindNav
	case EventTypeConsole:
		return KindConsole
	case EventTypeError:
		return KindError
	case EventTypeNetwork:
		return KindNetwork
	case EventTypeClick, EventTypeScroll, EventTypeInput, EventTypeChange,
		EventTypeSubmit, EventTypeFocus, EventTypeBlur, EventTypeKeydown,
		EventTypeCustom:
		return KindUI
	case EventTypeUISnapshot:
		return KindUI
	case "element_ref":
		return KindElementRef
	default:
		return KindUI
	}
}
