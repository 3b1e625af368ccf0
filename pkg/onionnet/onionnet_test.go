package onionnet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ElMoorish/ComLock/pkg/exchange"
	"github.com/ElMoorish/ComLock/pkg/sphinx"
)

func buildLoopbackPacket(t *testing.T) *sphinx.Packet {
	t.Helper()

	priv, err := exchange.NewECDH()
	require.NoError(t, err)

	hop := sphinx.Hop{NodePublicKey: priv.MarshalPublicKey(), NextAddr: [16]byte{}}
	pkt, err := sphinx.Build([]sphinx.Hop{hop}, []byte("onionnet round trip"))
	require.NoError(t, err)
	return pkt
}

func TestSendReceiveRoundTripsAFixedSizePacket(t *testing.T) {
	listener, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	addr := listener.listener.Addr().String()

	acceptCh := make(chan *Conn, 1)
	acceptErrCh := make(chan error, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			acceptErrCh <- err
			return
		}
		acceptCh <- conn
	}()

	client, err := Dial(addr)
	require.NoError(t, err)
	defer client.Close()

	var server *Conn
	select {
	case server = <-acceptCh:
	case err := <-acceptErrCh:
		t.Fatalf("accept failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for accept")
	}
	defer server.Close()

	pkt := buildLoopbackPacket(t)
	require.NoError(t, client.Send(pkt))

	received, err := server.Receive()
	require.NoError(t, err)
	require.Equal(t, pkt.Encode(), received.Encode())
}

func TestSendAfterCloseReturnsErrConnClosed(t *testing.T) {
	listener, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	client, err := Dial(listener.listener.Addr().String())
	require.NoError(t, err)
	require.NoError(t, client.Close())

	pkt := buildLoopbackPacket(t)
	err = client.Send(pkt)
	require.ErrorIs(t, err, ErrConnClosed)
}

func TestDoubleCloseReturnsErrConnClosed(t *testing.T) {
	listener, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	client, err := Dial(listener.listener.Addr().String())
	require.NoError(t, err)
	require.NoError(t, client.Close())
	require.ErrorIs(t, client.Close(), ErrConnClosed)
}
