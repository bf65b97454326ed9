package verto

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/verto_phone/pkg/dialog"
	"github.com/arzzra/verto_phone/pkg/rpc"
)

const testVideoSDP = testSDP +
	"m=video 4002 RTP/AVP 96\r\n" +
	"c=IN IP4 10.0.0.1\r\n" +
	"a=rtpmap:96 VP8/90000\r\n"

func invite(callID string) *rpc.Message {
	return msg(dialog.MethodInvite, rpc.Params{
		"callID":           callID,
		"sdp":              testSDP,
		"caller_id_name":   "Alice",
		"caller_id_number": "1009",
		"callee_id_name":   "Bob",
		"callee_id_number": "1008",
	})
}

func TestDispatch_MissingMethod(t *testing.T) {
	h := newHarness(testOptions())

	reply := h.session.Dispatch(&rpc.Message{JSONRPC: rpc.Version, Params: rpc.Params{"callID": "c1"}})

	assert.Nil(t, reply)
	errs := h.recorder.errorLog()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrMissingMethod)
	assert.Empty(t, h.session.Dialogs())
}

func TestDispatch_UnmatchedResponseIsSilent(t *testing.T) {
	h := newHarness(testOptions())

	reply := h.session.Dispatch(&rpc.Message{
		JSONRPC: rpc.Version,
		ID:      json.RawMessage(`5`),
		Result:  json.RawMessage(`{}`),
	})

	assert.Nil(t, reply)
	assert.Empty(t, h.recorder.errorLog())
	assert.Empty(t, h.recorder.messageLog())
}

func TestDispatch_InviteCreatesRingingDialog(t *testing.T) {
	h := newHarness(testOptions())

	reply := h.session.Dispatch(invite("c1"))

	assert.Equal(t, rpc.Params{"method": dialog.MethodInvite}, reply)

	d, ok := h.session.Dialog("c1")
	require.True(t, ok)
	assert.Equal(t, dialog.Inbound, d.Direction())
	assert.Equal(t, dialog.StateRinging, d.State())
	assert.Equal(t, []string{"c1:ringing"}, h.recorder.stateLog())

	name, number := d.RemoteCallerID()
	assert.Equal(t, "Bob", name)
	assert.Equal(t, "1008", number)
}

func TestDispatch_InviteWithVideo(t *testing.T) {
	h := newHarness(testOptions())

	h.session.Dispatch(msg(dialog.MethodInvite, rpc.Params{"callID": "c1", "sdp": testVideoSDP}))

	d, ok := h.session.Dialog("c1")
	require.True(t, ok)
	assert.Equal(t, true, d.Params()["wantVideo"])
	assert.True(t, d.Media().UseVideo)
	assert.False(t, d.Attach())
}

func TestDispatch_ExistingDialogIgnoresInvite(t *testing.T) {
	h := newHarness(testOptions())

	h.session.Dispatch(invite("c1"))
	reply := h.session.Dispatch(invite("c1"))

	assert.Equal(t, rpc.Params{"method": dialog.MethodInvite}, reply)
	assert.Len(t, h.session.Dialogs(), 1)
	assert.Len(t, h.engines.list, 1)
	assert.Equal(t, []string{"c1:ringing"}, h.recorder.stateLog())
}

func TestDispatch_ByeDestroysDialog(t *testing.T) {
	h := newHarness(testOptions())
	h.session.Dispatch(invite("c1"))

	reply := h.session.Dispatch(msg(dialog.MethodBye, rpc.Params{"callID": "c1", "cause": "NORMAL_CLEARING"}))

	assert.Equal(t, rpc.Params{"method": dialog.MethodBye}, reply)
	_, ok := h.session.Dialog("c1")
	assert.False(t, ok)
	assert.Equal(t, []string{"c1:ringing", "c1:hangup", "c1:destroy"}, h.recorder.stateLog())
	assert.Equal(t, 1, h.engines.get(0).stopCount())
}

func TestDispatch_UnknownCallAcknowledged(t *testing.T) {
	h := newHarness(testOptions())

	reply := h.session.Dispatch(msg(dialog.MethodBye, rpc.Params{"callID": "missing"}))

	assert.Equal(t, rpc.Params{"method": dialog.MethodBye}, reply)
	assert.Empty(t, h.session.Dialogs())
	assert.Empty(t, h.recorder.stateLog())
}

func TestDispatch_AttachReplacesExistingDialog(t *testing.T) {
	h := newHarness(testOptions())
	h.session.Dispatch(invite("c1"))
	old, _ := h.session.Dialog("c1")

	reply := h.session.Dispatch(msg(dialog.MethodAttach, rpc.Params{"callID": "c1", "sdp": testVideoSDP}))

	assert.Equal(t, rpc.Params{"method": dialog.MethodAttach}, reply)
	assert.Equal(t, 1, h.engines.get(0).stopCount())
	assert.Equal(t, dialog.StateRinging, old.State(), "старый диалог удаляется без переходов")

	d, ok := h.session.Dialog("c1")
	require.True(t, ok)
	assert.NotSame(t, old, d)
	assert.True(t, d.Attach())
	assert.True(t, d.Answered())
	assert.True(t, d.Media().UseVideo)
	assert.Equal(t, dialog.StateAnswering, d.State())
	assert.Equal(t, []string{"c1:ringing", "c1:recovering", "c1:answering"}, h.recorder.stateLog())
}

func TestDispatch_DisplayUpdatesCallerID(t *testing.T) {
	h := newHarness(testOptions())
	h.session.Dispatch(invite("c1"))

	h.session.Dispatch(msg(dialog.MethodDisplay, rpc.Params{
		"callID":         "c1",
		"display_name":   "Carol",
		"display_number": "1010",
	}))

	d, _ := h.session.Dialog("c1")
	name, number := d.RemoteCallerID()
	assert.Equal(t, "Carol", name)
	assert.Equal(t, "1010", number)

	msgs := h.recorder.messageLog()
	require.Len(t, msgs, 1)
	assert.Equal(t, dialog.MessageDisplay, msgs[0].kind)
	assert.Same(t, d, msgs[0].dialog)
}

func TestDispatch_SessionInfo(t *testing.T) {
	h := newHarness(testOptions())

	reply := h.session.Dispatch(msg(dialog.MethodInfo, rpc.Params{
		"msg": map[string]interface{}{"from": "1009", "body": "привет"},
	}))

	assert.Nil(t, reply)
	msgs := h.recorder.messageLog()
	require.Len(t, msgs, 1)
	assert.Nil(t, msgs[0].dialog)
	assert.Equal(t, dialog.MessageInfo, msgs[0].kind)
	assert.Equal(t, "привет", msgs[0].params["body"])
}

func TestDispatch_ClientReady(t *testing.T) {
	h := newHarness(testOptions())

	h.session.Dispatch(msg(MethodClientReady, rpc.Params{"reattached_sessions": []interface{}{}}))

	msgs := h.recorder.messageLog()
	require.Len(t, msgs, 1)
	assert.Nil(t, msgs[0].dialog)
	assert.Equal(t, dialog.MessageClientReady, msgs[0].kind)
}

func TestDispatch_UnknownMethodDropped(t *testing.T) {
	h := newHarness(testOptions())

	reply := h.session.Dispatch(msg("verto.modbus", rpc.Params{}))

	assert.Nil(t, reply)
	assert.Empty(t, h.recorder.messageLog())
	assert.Empty(t, h.recorder.errorLog())
}

func TestHandleEvent_SessionPrivateEvent(t *testing.T) {
	h := newHarness(testOptions())

	h.session.Dispatch(msg(MethodEvent, rpc.Params{
		"eventChannel": "sess-1",
		"data":         map[string]interface{}{"action": "reload"},
	}))

	msgs := h.recorder.messageLog()
	require.Len(t, msgs, 1)
	assert.Nil(t, msgs[0].dialog)
	assert.Equal(t, dialog.MessagePvtEvent, msgs[0].kind)
	assert.Equal(t, "sess-1", msgs[0].params["eventChannel"])
	assert.Empty(t, h.recorder.eventLog())
}

func TestHandleEvent_DialogPrivateEvent(t *testing.T) {
	h := newHarness(testOptions())
	h.session.Dispatch(invite("c1"))

	h.session.Dispatch(msg(MethodEvent, rpc.Params{"eventChannel": "c1"}))

	msgs := h.recorder.messageLog()
	require.Len(t, msgs, 1)
	require.NotNil(t, msgs[0].dialog)
	assert.Equal(t, "c1", msgs[0].dialog.CallID())
	assert.Equal(t, dialog.MessagePvtEvent, msgs[0].kind)
}

func TestHandleEvent_UnknownChannelDropped(t *testing.T) {
	h := newHarness(testOptions())

	h.session.Dispatch(msg(MethodEvent, rpc.Params{"eventChannel": "conference.9"}))
	h.session.Dispatch(msg(MethodEvent, rpc.Params{}))

	assert.Empty(t, h.recorder.messageLog())
	assert.Empty(t, h.recorder.eventLog())
}

func TestHandleEvent_Subscribers(t *testing.T) {
	h := newHarness(testOptions())
	s := h.session

	var own []rpc.Params
	s.Subscribe("conference.3000", SubscribeParams{UserData: "room"})
	s.Subscribe("presence", SubscribeParams{
		Handler: func(_ *Session, params rpc.Params, userData interface{}) {
			assert.Equal(t, 7, userData)
			own = append(own, params)
		},
		UserData: 7,
	})

	// до подтверждения события не доставляются
	s.Dispatch(msg(MethodEvent, rpc.Params{"eventChannel": "conference.3000"}))
	assert.Empty(t, h.recorder.eventLog())

	s.handleSubscribeResult([]string{"conference.3000"},
		json.RawMessage(`{"subscribedChannels":["conference.3000"]}`))
	s.handleSubscribeResult([]string{"presence"}, json.RawMessage(`{}`))

	s.Dispatch(msg(MethodEvent, rpc.Params{"eventChannel": "conference.3000", "data": "x"}))
	events := h.recorder.eventLog()
	require.Len(t, events, 1)
	assert.Equal(t, "room", events[0].userData)
	assert.Equal(t, "x", events[0].params["data"])

	// доставка по префиксу канала
	s.Dispatch(msg(MethodEvent, rpc.Params{"eventChannel": "presence.1008"}))
	require.Len(t, own, 1)
	assert.Equal(t, "presence.1008", own[0]["eventChannel"])
	assert.Len(t, h.recorder.eventLog(), 1)
}

func TestHandleEvent_ExactChannelWinsOverPrefix(t *testing.T) {
	h := newHarness(testOptions())
	s := h.session

	s.Subscribe("presence", SubscribeParams{UserData: "prefix"})
	s.Subscribe("presence.1008", SubscribeParams{UserData: "exact"})
	s.handleSubscribeResult([]string{"presence", "presence.1008"}, json.RawMessage(`{}`))

	s.Dispatch(msg(MethodEvent, rpc.Params{"eventChannel": "presence.1008"}))

	events := h.recorder.eventLog()
	require.Len(t, events, 1)
	assert.Equal(t, "exact", events[0].userData)
}
