package handler

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fghso/camps-dct/internal/coordinator"
	"github.com/fghso/camps-dct/internal/filter"
	"github.com/fghso/camps-dct/internal/resource"
	"github.com/fghso/camps-dct/internal/store/memory"
	"github.com/fghso/camps-dct/internal/wire"
)

// startTestCoordinator boots a Coordinator against a loopback listener and
// runs its accept loop in the background, returning the address to dial
// and the coordinator (whose Close stops the accept loop).
func startTestCoordinator(t *testing.T, mem *memory.Store) (addr string, co *coordinator.Coordinator) {
	t.Helper()

	co = coordinator.New(coordinator.Config{
		Address: "127.0.0.1:0",
		Store:   mem,
		NewPipeline: func() (*filter.Pipeline, error) {
			return &filter.Pipeline{}, nil
		},
	})

	require.NoError(t, co.Listen())

	go func() {
		ctx := context.Background()
		for {
			conn, err := co.Accept()
			if err != nil {
				return
			}
			h := New(conn, co)
			go h.Serve(ctx)
		}
	}()

	return co.Addr().String(), co
}

func dialAndConnect(t *testing.T, addr, connType string, processID int) *wire.Codec {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	codec := wire.New(conn)
	require.NoError(t, codec.Send(map[string]any{"command": "CONNECT", "type": connType, "processid": processID}))

	var resp map[string]any
	require.NoError(t, codec.Receive(&resp))
	require.Equal(t, "ACCEPTED", resp["command"])
	return codec
}

func TestWorkerLeasesSingleAvailableResourceThenFinishes(t *testing.T) {
	mem := memory.New(memory.Config{})
	require.NoError(t, mem.Seed([]resource.Record{{ID: "r1", Status: resource.Available, Info: map[string]any{}}}))

	addr, co := startTestCoordinator(t, mem)
	defer co.Close()

	client := dialAndConnect(t, addr, "client", 1234)

	require.NoError(t, client.Send(map[string]any{"command": "GET_ID"}))
	var give map[string]any
	require.NoError(t, client.Receive(&give))
	require.Equal(t, "GIVE_ID", give["command"])
	require.Equal(t, "r1", give["resourceid"])

	require.NoError(t, client.Send(map[string]any{"command": "DONE_ID", "resourceinfo": map[string]any{}}))
	var done map[string]any
	require.NoError(t, client.Receive(&done))
	require.Equal(t, "DONE_RET", done["command"])

	require.NoError(t, client.Send(map[string]any{"command": "GET_ID"}))
	var finish map[string]any
	require.NoError(t, client.Receive(&finish))
	require.Equal(t, "FINISH", finish["command"])
}

func TestManagerGetStatusReturnsCountsAndClients(t *testing.T) {
	mem := memory.New(memory.Config{})
	require.NoError(t, mem.Seed([]resource.Record{{ID: "r1", Status: resource.Available, Info: map[string]any{}}}))

	addr, co := startTestCoordinator(t, mem)
	defer co.Close()

	mgr := dialAndConnect(t, addr, "manager", 0)
	require.NoError(t, mgr.Send(map[string]any{"command": "GET_STATUS"}))

	var resp map[string]any
	require.NoError(t, mgr.Receive(&resp))
	require.Equal(t, "GIVE_STATUS", resp["command"])
	require.Contains(t, resp, "server")
}

func TestResetRefusedWhileWorkersConnected(t *testing.T) {
	mem := memory.New(memory.Config{})
	require.NoError(t, mem.Seed([]resource.Record{{ID: "r1", Status: resource.Succeeded, Info: map[string]any{}}}))

	addr, co := startTestCoordinator(t, mem)
	defer co.Close()

	_ = dialAndConnect(t, addr, "client", 1)

	mgr := dialAndConnect(t, addr, "manager", 0)
	require.NoError(t, mgr.Send(map[string]any{"command": "RESET", "status": "SUCCEEDED"}))

	var resp map[string]any
	require.NoError(t, mgr.Receive(&resp))
	require.Equal(t, "RESET_RET", resp["command"])
	require.Equal(t, true, resp["fail"])
}
