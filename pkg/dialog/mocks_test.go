package dialog

import (
	"sync"

	"github.com/arzzra/verto_phone/pkg/rpc"
	"github.com/arzzra/verto_phone/pkg/rtc"
)

type sentRequest struct {
	method  string
	params  rpc.Params
	handler *rpc.ResponseHandler
}

type receivedMessage struct {
	kind   MessageKind
	params rpc.Params
}

// recordingOwner записывает все обращения диалога к владельцу
type recordingOwner struct {
	mu       sync.Mutex
	sent     []sentRequest
	states   []State
	deleted  []string
	messages []receivedMessage
	nextID   uint64

	onState func(d *Dialog)
}

func (o *recordingOwner) Go(method string, params rpc.Params, handler *rpc.ResponseHandler) *rpc.Call {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nextID++
	o.sent = append(o.sent, sentRequest{method: method, params: params, handler: handler})
	return &rpc.Call{ID: o.nextID, Method: method, Params: params, Done: make(chan *rpc.Call, 1)}
}

func (o *recordingOwner) DeleteDialog(callID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deleted = append(o.deleted, callID)
}

func (o *recordingOwner) OnDialogState(d *Dialog) {
	o.mu.Lock()
	o.states = append(o.states, d.State())
	hook := o.onState
	o.mu.Unlock()
	if hook != nil {
		hook(d)
	}
}

func (o *recordingOwner) OnDialogMessage(d *Dialog, kind MessageKind, params rpc.Params) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, receivedMessage{kind: kind, params: params})
}

func (o *recordingOwner) methods() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.sent))
	for _, r := range o.sent {
		out = append(out, r.method)
	}
	return out
}

func (o *recordingOwner) last() sentRequest {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sent[len(o.sent)-1]
}

func (o *recordingOwner) stateLog() []State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]State(nil), o.states...)
}

// fakeEngine медиа движок с управляемыми ошибками
type fakeEngine struct {
	opts rtc.Options

	startErr  error
	offerErr  error
	answerErr error
	acceptErr error

	started  int
	stopped  int
	peerStop int
	remote   []string
	accepted []string
}

func (e *fakeEngine) Start() error {
	e.started++
	return e.startErr
}

func (e *fakeEngine) Stop()     { e.stopped++ }
func (e *fakeEngine) StopPeer() { e.peerStop++ }

func (e *fakeEngine) CreateOffer() (string, error) {
	if e.offerErr != nil {
		return "", e.offerErr
	}
	return "local-offer", nil
}

func (e *fakeEngine) CreateAnswer(remote string) (string, error) {
	e.remote = append(e.remote, remote)
	if e.answerErr != nil {
		return "", e.answerErr
	}
	return "local-answer", nil
}

func (e *fakeEngine) AcceptAnswer(sdp string) error {
	if e.acceptErr != nil {
		return e.acceptErr
	}
	e.accepted = append(e.accepted, sdp)
	return nil
}

// newTestDialog создает диалог с recordingOwner и fakeEngine
func newTestDialog(dir Direction, params rpc.Params) (*Dialog, *recordingOwner, *fakeEngine) {
	owner := &recordingOwner{}
	engine := &fakeEngine{}
	d := New(owner, Config{
		Direction: dir,
		Params:    params,
		Login:     "1008@pbx.local",
		Engine: func(opts rtc.Options) rtc.Engine {
			engine.opts = opts
			return engine
		},
		IDGenerator: func() string { return "generated-id" },
	})
	return d, owner, engine
}
