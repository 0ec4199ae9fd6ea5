package client_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/memfabric/mmc/alloc"
	"github.com/memfabric/mmc/client"
	"github.com/memfabric/mmc/fabric"
	"github.com/memfabric/mmc/localsvc"
	"github.com/memfabric/mmc/metamgr"
	"github.com/memfabric/mmc/metasvc"
	"github.com/memfabric/mmc/rpc"
	"github.com/memfabric/mmc/wire"
)

// dialedServer starts an rpc.Server over a loopback listener and returns
// a connected rpc.Client, mirroring how cmd/metasvcd and cmd/localsvcd
// wire each daemon's Handler in production.
func dialedServer(t *testing.T, handler rpc.Handler, rankID uint32) *rpc.Client {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := rpc.NewServer(l, handler, 4, rankID, nil)
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	c := rpc.NewClient(conn, rankID, nil)
	t.Cleanup(func() { c.Close() })
	return c
}

func newEndToEndClient(t *testing.T) *client.Client {
	t.Helper()
	mgr := metamgr.New(metamgr.Config{WorldSize: 1, DefaultPriorityCeil: 10}, nil, nil, nil, nil)
	t.Cleanup(mgr.Close)

	world := fabric.NewWorld()
	driver := fabric.NewSimDriver(world, 0, 0)
	base, err := driver.GvaReserve(context.Background(), 1<<20, 0, 0)
	require.NoError(t, err)
	a := alloc.New(0, wire.MediaDRAM, base, 1<<20)
	a.Start()
	require.NoError(t, mgr.Mount(alloc.Location{Rank: 0, Media: wire.MediaDRAM}, a))

	metaSvc := metasvc.New(mgr, nil)
	metaConn := dialedServer(t, metaSvc.Handler, 0)

	localSvc := localsvc.New(0, driver, nil, nil)
	localSvc.MountSegment(wire.MediaDRAM, a)
	localConn := dialedServer(t, localSvc.Handler, 0)

	return client.New(client.Config{Rank: 0, DefaultTTL: time.Minute}, metaConn, localConn)
}

func TestClientPutGetRoundTrip(t *testing.T) {
	c := newEndToEndClient(t)

	payload := []byte("hello from the client library")
	require.NoError(t, c.Put("k1", payload, wire.MediaDRAM, 5))

	got, err := c.Get("k1")
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestClientIsExistAndQuery(t *testing.T) {
	c := newEndToEndClient(t)
	require.NoError(t, c.Put("k1", []byte("data"), wire.MediaDRAM, 0))

	exists, err := c.IsExist("k1")
	require.NoError(t, err)
	require.True(t, exists)

	res, err := c.Query("k1")
	require.NoError(t, err)
	require.True(t, res.Valid)
	require.EqualValues(t, 4, res.Size)
}

func TestClientGetMissingKeyFails(t *testing.T) {
	c := newEndToEndClient(t)
	_, err := c.Get("missing")
	require.Error(t, err)
}

func TestClientRemove(t *testing.T) {
	c := newEndToEndClient(t)
	require.NoError(t, c.Put("k1", []byte("data"), wire.MediaDRAM, 0))
	require.NoError(t, c.Remove("k1"))

	require.Eventually(t, func() bool {
		exists, err := c.IsExist("k1")
		return err == nil && !exists
	}, time.Second, 10*time.Millisecond)
}
