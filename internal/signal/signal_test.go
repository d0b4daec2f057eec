package signal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultActionTable(t *testing.T) {
	require.Equal(t, ActCore, DefaultAction(SIGSEGV))
	require.Equal(t, ActIgnore, DefaultAction(SIGCHLD))
	require.Equal(t, ActStop, DefaultAction(SIGSTOP))
	require.Equal(t, ActTerm, DefaultAction(Signal(40))) // unlisted -> term
}

func TestTableSetHandlerRoundTrips(t *testing.T) {
	tbl := NewTable()
	old := tbl.SetHandler(SIGUSR1, Handler{Disp: DispHandler, Entry: 0x4000})
	require.Equal(t, DispDefault, old.Disp)
	require.Equal(t, uintptr(0x4000), tbl.Handler(SIGUSR1).Entry)
}

func TestTableResetOnExecClearsCaughtOnly(t *testing.T) {
	tbl := NewTable()
	tbl.SetHandler(SIGUSR1, Handler{Disp: DispHandler, Entry: 0x4000})
	tbl.SetHandler(SIGUSR2, Handler{Disp: DispIgnore})
	tbl.ResetOnExec()
	require.Equal(t, DispDefault, tbl.Handler(SIGUSR1).Disp)
	require.Equal(t, DispIgnore, tbl.Handler(SIGUSR2).Disp) // ignore survives exec
}

func TestTableForkCopiesHandlers(t *testing.T) {
	tbl := NewTable()
	tbl.SetHandler(SIGHUP, Handler{Disp: DispHandler, Entry: 0x1234})
	child := tbl.Fork()
	require.Equal(t, uintptr(0x1234), child.Handler(SIGHUP).Entry)

	// Independent after fork: mutating the child doesn't affect the
	// parent's table.
	child.SetHandler(SIGHUP, Handler{Disp: DispIgnore})
	require.Equal(t, DispHandler, tbl.Handler(SIGHUP).Disp)
}

func TestMaskRaiseIsIdempotent(t *testing.T) {
	m := &Mask{}
	require.True(t, m.Raise(SIGTERM))
	require.False(t, m.Raise(SIGTERM))
	require.Equal(t, bit(SIGTERM), m.Pending())
}

func TestMaskBlockedSignalsNotDeliverable(t *testing.T) {
	m := &Mask{}
	m.Block(bit(SIGTERM))
	m.Raise(SIGTERM)
	_, ok := m.Deliverable()
	require.False(t, ok)

	m.Unblock(bit(SIGTERM))
	sig, ok := m.Deliverable()
	require.True(t, ok)
	require.Equal(t, SIGTERM, sig)
}

func TestMaskSetBlockedCannotBlockKillOrStop(t *testing.T) {
	m := &Mask{}
	m.SetBlocked(bit(SIGKILL) | bit(SIGSTOP) | bit(SIGTERM))
	m.Raise(SIGKILL)
	sig, ok := m.Deliverable()
	require.True(t, ok)
	require.Equal(t, SIGKILL, sig)
}

func TestMaskDeliverableReturnsLowestNumbered(t *testing.T) {
	m := &Mask{}
	m.Raise(SIGTERM) // 15
	m.Raise(SIGINT)  // 2
	sig, ok := m.Deliverable()
	require.True(t, ok)
	require.Equal(t, SIGINT, sig)
}

type fakeTask struct{ doomed bool }

func (f *fakeTask) MarkDoomed()    { f.doomed = true }
func (f *fakeTask) IsDoomed() bool { return f.doomed }

func TestDeliverFatalSigkillAlwaysDooms(t *testing.T) {
	tk := &fakeTask{}
	mask := &Mask{}
	disp := NewTable()
	disp.SetHandler(SIGKILL, Handler{Disp: DispIgnore}) // irrelevant, SIGKILL can't be caught
	DeliverFatal(tk, mask, disp, SIGKILL)
	require.True(t, tk.IsDoomed())
}

func TestDeliverFatalIgnoredSignalDoesNotDoom(t *testing.T) {
	tk := &fakeTask{}
	mask := &Mask{}
	disp := NewTable()
	disp.SetHandler(SIGTERM, Handler{Disp: DispIgnore})
	DeliverFatal(tk, mask, disp, SIGTERM)
	require.False(t, tk.IsDoomed())
}

func TestDeliverFatalDefaultTermDooms(t *testing.T) {
	tk := &fakeTask{}
	mask := &Mask{}
	disp := NewTable()
	DeliverFatal(tk, mask, disp, SIGTERM)
	require.True(t, tk.IsDoomed())
}

func TestDeliverFatalCaughtSignalDoesNotDoomDirectly(t *testing.T) {
	tk := &fakeTask{}
	mask := &Mask{}
	disp := NewTable()
	disp.SetHandler(SIGTERM, Handler{Disp: DispHandler, Entry: 0x9000})
	DeliverFatal(tk, mask, disp, SIGTERM)
	require.False(t, tk.IsDoomed())
	require.Equal(t, bit(SIGTERM), mask.Pending())
}
