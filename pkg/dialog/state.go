package dialog

import (
	"github.com/looplab/fsm"
)

// State состояние вызова. Состояния упорядочены, сравнения по порядку
// (например, < StateHangup) являются частью логики диалога.
type State int

// Состояния вызова
const (
	StateNew State = iota
	StateRequesting
	StateTrying
	StateRecovering
	StateRinging
	StateAnswering
	StateEarly
	StateActive
	StateHeld
	StateHangup
	StateDestroy
	StatePurge
)

var stateNames = [...]string{
	StateNew:        "new",
	StateRequesting: "requesting",
	StateTrying:     "trying",
	StateRecovering: "recovering",
	StateRinging:    "ringing",
	StateAnswering:  "answering",
	StateEarly:      "early",
	StateActive:     "active",
	StateHeld:       "held",
	StateHangup:     "hangup",
	StateDestroy:    "destroy",
	StatePurge:      "purge",
}

// String возвращает строковое представление состояния
func (s State) String() string {
	if s < StateNew || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

func stateFromName(name string) State {
	for i, n := range stateNames {
		if n == name {
			return State(i)
		}
	}
	return StateNew
}

// followUps автоматические переходы, выполняемые сразу после входа в состояние
var followUps = map[State]State{
	StateHangup: StateDestroy,
}

// FollowUp возвращает автоматический переход из состояния s
func FollowUp(s State) (State, bool) {
	next, ok := followUps[s]
	return next, ok
}

// eventName имя события fsm для перехода в состояние
func eventName(s State) string {
	return "to_" + s.String()
}

// newStateMachine создает автомат: в любое состояние можно перейти из любого,
// кроме destroy. Из destroy переходов нет.
func newStateMachine(callbacks fsm.Callbacks) *fsm.FSM {
	var src []string
	for s := StateNew; s <= StatePurge; s++ {
		if s != StateDestroy {
			src = append(src, s.String())
		}
	}

	events := make(fsm.Events, 0, len(stateNames))
	for s := StateNew; s <= StatePurge; s++ {
		events = append(events, fsm.EventDesc{Name: eventName(s), Src: src, Dst: s.String()})
	}

	return fsm.NewFSM(StateNew.String(), events, callbacks)
}

// Direction направление вызова
type Direction int

// Направления вызова
const (
	Inbound Direction = iota
	Outbound
)

// String возвращает строковое представление направления
func (d Direction) String() string {
	if d == Outbound {
		return "outbound"
	}
	return "inbound"
}

// MessageKind тип сообщения, передаваемого приложению
type MessageKind int

// Типы сообщений
const (
	MessageDisplay MessageKind = iota
	MessageInfo
	MessagePvtEvent
	MessageClientReady
)

// String возвращает строковое представление типа сообщения
func (k MessageKind) String() string {
	switch k {
	case MessageDisplay:
		return "display"
	case MessageInfo:
		return "info"
	case MessagePvtEvent:
		return "pvtEvent"
	case MessageClientReady:
		return "clientReady"
	default:
		return "unknown"
	}
}
