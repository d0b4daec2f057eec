package wait

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFutexWakeUnblocksWaiter(t *testing.T) {
	ft := NewFutexTable(16)
	const addr = uintptr(0x4000)

	ch, ok := ft.Wait(addr)
	require.True(t, ok)

	select {
	case <-ch:
		t.Fatal("woke before Wake was called")
	default:
	}

	n := ft.Wake(addr, 1)
	require.Equal(t, 1, n)

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("waiter never woke")
	}
}

func TestFutexWakeRespectsCount(t *testing.T) {
	ft := NewFutexTable(16)
	const addr = uintptr(0x5000)

	ch1, _ := ft.Wait(addr)
	ch2, _ := ft.Wait(addr)
	ch3, _ := ft.Wait(addr)

	n := ft.Wake(addr, 2)
	require.Equal(t, 2, n)

	woken := 0
	for _, ch := range []<-chan struct{}{ch1, ch2, ch3} {
		select {
		case <-ch:
			woken++
		default:
		}
	}
	require.Equal(t, 2, woken)

	// The remaining waiter can still be woken later.
	require.Equal(t, 1, ft.Wake(addr, 5))
}

func TestFutexCancelWaitRemovesWaiter(t *testing.T) {
	ft := NewFutexTable(16)
	const addr = uintptr(0x6000)

	ch, _ := ft.Wait(addr)
	ft.CancelWait(addr, ch)

	// Nothing left to wake.
	require.Equal(t, 0, ft.Wake(addr, 10))
}

func TestFutexDistinctAddressesDontInterfere(t *testing.T) {
	ft := NewFutexTable(4)
	chA, _ := ft.Wait(0x1000)
	chB, _ := ft.Wait(0x2000)

	ft.Wake(0x1000, 1)
	select {
	case <-chA:
	default:
		t.Fatal("address A waiter should have woken")
	}
	select {
	case <-chB:
		t.Fatal("address B waiter should not have woken")
	default:
	}
}

func TestTimeoutHeapFiresInOrder(t *testing.T) {
	th := NewTimeoutHeap()
	defer th.Close()

	var order []int
	done := make(chan struct{})
	var fired int32

	record := func(n int) func() {
		return func() {
			order = append(order, n)
			if atomic.AddInt32(&fired, 1) == 3 {
				close(done)
			}
		}
	}

	th.After(30*time.Millisecond, record(3))
	th.After(10*time.Millisecond, record(1))
	th.After(20*time.Millisecond, record(2))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timers never fired")
	}
	require.Equal(t, []int{1, 2, 3}, order)
}

func TestTimeoutHeapCancel(t *testing.T) {
	th := NewTimeoutHeap()
	defer th.Close()

	fired := int32(0)
	tok := th.After(10*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	tok.Cancel()

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(0), atomic.LoadInt32(&fired))
}
