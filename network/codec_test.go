package network

import (
	"io"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodePacket(t *testing.T) {
	raw, err := EncodePacket(MsgTypeGameAction, []byte(`{"action":"left"}`))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0xC9, 0x00, 0x11}, raw[:4])

	p, err := DecodePacket(append(raw, 0xFF))
	require.NoError(t, err)
	assert.Equal(t, uint16(MsgTypeGameAction), p.MsgID)
	assert.Equal(t, uint16(17), p.Length)
	assert.Equal(t, `{"action":"left"}`, string(p.Data))
}

func TestDecodePacketShort(t *testing.T) {
	_, err := DecodePacket([]byte{0, 1, 0})
	assert.ErrorIs(t, err, io.ErrShortBuffer)

	_, err = DecodePacket([]byte{0, 1, 0, 5, 'a'})
	assert.ErrorIs(t, err, io.ErrShortBuffer)
}

func TestEncodePacketTooLarge(t *testing.T) {
	_, err := EncodePacket(MsgTypeGameStateUpdate, make([]byte, math.MaxUint16+1))
	assert.ErrorIs(t, err, ErrPacketTooLarge)

	_, err = EncodePacket(MsgTypeGameStateUpdate, make([]byte, math.MaxUint16))
	assert.NoError(t, err)
}

func TestMsgName(t *testing.T) {
	assert.Equal(t, "game.stateUpdate", MsgName(MsgTypeGameStateUpdate))
	assert.Equal(t, "unknown", MsgName(9999))
}

func TestWSConnectionRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan *Packet, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := NewWSConnection(c)
		defer conn.Close()
		p, err := conn.ReadPacket()
		if err != nil {
			return
		}
		received <- p
		conn.Send(MsgTypePlayerRegistered, []byte(`{"id":"x"}`))
		conn.ReadPacket()
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	client := NewWSConnection(c)
	defer client.Close()

	require.NoError(t, client.Send(MsgTypeRegister, []byte(`{"name":"ann"}`)))

	select {
	case p := <-received:
		assert.Equal(t, uint16(MsgTypeRegister), p.MsgID)
		assert.Equal(t, `{"name":"ann"}`, string(p.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the packet")
	}

	reply, err := client.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, uint16(MsgTypePlayerRegistered), reply.MsgID)
	assert.IsType(t, &net.TCPAddr{}, client.RemoteAddr())

	assert.NoError(t, client.Close())
	assert.NoError(t, client.Close(), "close is idempotent")
}

func dialTestServer(t *testing.T, handler func(*websocket.Conn)) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		handler(c)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return c
}

func TestWSConnectionKeepsSendOrder(t *testing.T) {
	got := make(chan uint16, 100)
	c := dialTestServer(t, func(peer *websocket.Conn) {
		for i := 0; i < 100; i++ {
			_, data, err := peer.ReadMessage()
			if err != nil {
				return
			}
			p, err := DecodePacket(data)
			if err != nil {
				return
			}
			got <- p.MsgID
		}
	})
	conn := NewWSConnection(c)
	defer conn.Close()

	for i := 0; i < 100; i++ {
		require.NoError(t, conn.Send(uint16(i), nil))
	}
	for i := 0; i < 100; i++ {
		select {
		case id := <-got:
			require.Equal(t, uint16(i), id)
		case <-time.After(2 * time.Second):
			t.Fatalf("packet %d never arrived", i)
		}
	}
}

func TestWSConnectionClosesStalledPeer(t *testing.T) {
	stop := make(chan struct{})
	defer close(stop)
	c := dialTestServer(t, func(*websocket.Conn) { <-stop })
	conn := newWSConnection(c, 1)

	payload := make([]byte, math.MaxUint16)
	start := time.Now()
	var err error
	for i := 0; i < 100000 && err == nil; i++ {
		err = conn.Send(MsgTypeGameStateUpdate, payload)
	}
	assert.ErrorIs(t, err, ErrSendBufferFull)
	assert.Less(t, time.Since(start), writeWait, "sends never wait on the socket")
	assert.ErrorIs(t, conn.Send(MsgTypeGameStateUpdate, nil), ErrConnectionClosed)
}

func TestWSConnectionSendAfterClose(t *testing.T) {
	c := dialTestServer(t, func(peer *websocket.Conn) { peer.ReadMessage() })
	conn := NewWSConnection(c)
	require.NoError(t, conn.Close())
	assert.ErrorIs(t, conn.Send(MsgTypeHeartbeat, nil), ErrConnectionClosed)
}
