package verto

import (
	"sync"

	"github.com/arzzra/verto_phone/pkg/dialog"
)

// dialogsMap реестр диалогов по callID. sync.Map допускает удаление
// во время Range, что нужно при purge.
type dialogsMap struct {
	dialogs *sync.Map
}

func newDialogsMap() *dialogsMap {
	return &dialogsMap{dialogs: new(sync.Map)}
}

func (dm *dialogsMap) Get(callID string) (*dialog.Dialog, bool) {
	if val, is := dm.dialogs.Load(callID); is {
		return val.(*dialog.Dialog), true
	}
	return nil, false
}

func (dm *dialogsMap) Put(d *dialog.Dialog) {
	dm.dialogs.Store(d.CallID(), d)
}

func (dm *dialogsMap) Delete(callID string) (*dialog.Dialog, bool) {
	if val, is := dm.dialogs.LoadAndDelete(callID); is {
		return val.(*dialog.Dialog), true
	}
	return nil, false
}

func (dm *dialogsMap) Range(fn func(d *dialog.Dialog) bool) {
	dm.dialogs.Range(func(_, val interface{}) bool {
		return fn(val.(*dialog.Dialog))
	})
}

func (dm *dialogsMap) Snapshot() []*dialog.Dialog {
	var out []*dialog.Dialog
	dm.Range(func(d *dialog.Dialog) bool {
		out = append(out, d)
		return true
	})
	return out
}
