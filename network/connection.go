// network/connection.go
package network

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type Packet struct {
	MsgID  uint16
	Data   []byte
	Length uint16
}

type Connection interface {
	Send(msgID uint16, data []byte) error
	Close() error
	RemoteAddr() net.Addr
	SetHeartbeat(interval time.Duration)
	ReadPacket() (*Packet, error)
}

const (
	writeWait = 10 * time.Second
	// sendBuffer is how many frames may wait for the writer before the
	// connection is treated as stalled and closed.
	sendBuffer = 256
)

var (
	ErrConnectionClosed = errors.New("network: connection closed")
	ErrSendBufferFull   = errors.New("network: send buffer full")
)

// WSConnection frames packets over a websocket. Send only queues the frame;
// a writer goroutine owns all writes, so callers never wait on the socket.
type WSConnection struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	heartbeat time.Duration
	closeOnce sync.Once
	closeErr  error
}

func NewWSConnection(conn *websocket.Conn) *WSConnection {
	return newWSConnection(conn, sendBuffer)
}

func newWSConnection(conn *websocket.Conn, buffer int) *WSConnection {
	c := &WSConnection{
		conn: conn,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
	go c.writePump()
	return c
}

// Send queues one packet. A client too slow to drain its buffer is
// disconnected and ErrSendBufferFull returned.
func (c *WSConnection) Send(msgID uint16, data []byte) error {
	packet, err := EncodePacket(msgID, data)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.send <- packet:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		c.Close()
		return ErrSendBufferFull
	}
}

func (c *WSConnection) writePump() {
	for {
		select {
		case packet := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, packet); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *WSConnection) ReadPacket() (*Packet, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if c.heartbeat > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.heartbeat * 2))
	}
	return DecodePacket(data)
}

// SetHeartbeat arms a read deadline of twice interval, renewed on every packet.
func (c *WSConnection) SetHeartbeat(interval time.Duration) {
	c.heartbeat = interval
	c.conn.SetReadDeadline(time.Now().Add(interval * 2))
}

func (c *WSConnection) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *WSConnection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
