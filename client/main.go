package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"

	"github.com/wfunc/tetrisserver/network"
	"github.com/wfunc/tetrisserver/state"
	"github.com/wfunc/tetrisserver/tetris"
)

var keyActions = map[string]tetris.Action{
	"a": tetris.ActionLeft,
	"d": tetris.ActionRight,
	"s": tetris.ActionDown,
	"w": tetris.ActionRotate,
	"x": tetris.ActionDrop,
}

// send encodes v as JSON and writes one framed packet.
func send(c *websocket.Conn, msgID uint16, v any) error {
	var data []byte
	if v != nil {
		var err error
		if data, err = json.Marshal(v); err != nil {
			return err
		}
	}
	packet, err := network.EncodePacket(msgID, data)
	if err != nil {
		return err
	}
	return c.WriteMessage(websocket.BinaryMessage, packet)
}

// render prints the player's board with the active piece overlaid.
func render(snapshot state.PlayerSnapshot) {
	var b strings.Builder
	fmt.Fprintf(&b, "\n%s  score %d  level %d  lines %d  next %v\n",
		snapshot.Name, snapshot.State.Score, snapshot.State.Level, snapshot.State.LinesCleared, snapshot.State.Next)
	for _, row := range snapshot.DisplayGrid {
		b.WriteByte('|')
		for _, cell := range row {
			switch cell {
			case tetris.Empty:
				b.WriteString(" .")
			case tetris.PenaltyCode:
				b.WriteString(" #")
			default:
				fmt.Fprintf(&b, " %d", cell)
			}
		}
		b.WriteString(" |\n")
	}
	if !snapshot.State.Alive {
		b.WriteString("  eliminated\n")
	}
	fmt.Print(b.String())
}

func main() {
	addr := pflag.String("addr", "localhost:8080", "server host:port")
	name := pflag.String("name", "player", "display name")
	roomID := pflag.String("room", "", "room to join; empty creates a new room")
	pflag.Parse()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws"}
	log.Printf("Connecting to %s", u.String())

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	done := make(chan struct{})
	registered := make(chan string, 1)

	// Read loop
	go func() {
		defer close(done)
		var myID string
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				log.Println("Read error:", err)
				return
			}
			packet, err := network.DecodePacket(message)
			if err != nil {
				log.Printf("Received invalid packet of size %d", len(message))
				continue
			}

			switch packet.MsgID {
			case network.MsgTypePlayerRegistered:
				var p struct {
					ID string `json:"id"`
				}
				json.Unmarshal(packet.Data, &p)
				myID = p.ID
				select {
				case registered <- p.ID:
				default:
				}
				log.Printf("Registered as %s", p.ID)
			case network.MsgTypeGameStateUpdate:
				var snapshots []state.PlayerSnapshot
				if err := json.Unmarshal(packet.Data, &snapshots); err != nil {
					log.Printf("bad state update: %v", err)
					continue
				}
				for _, s := range snapshots {
					if s.PlayerID == myID {
						render(s)
					}
				}
			case network.MsgTypeOpponentGrid, network.MsgTypeOpponentPiece:
				// cosmetic relays are noisy
			default:
				log.Printf("<- %s: %s", network.MsgName(packet.MsgID), string(packet.Data))
			}
		}
	}()

	if err := send(c, network.MsgTypeRegister, map[string]string{"name": *name}); err != nil {
		log.Fatalf("Write error: %v", err)
	}
	select {
	case <-registered:
	case <-done:
		return
	case <-time.After(5 * time.Second):
		log.Fatal("Timed out waiting for registration")
	}

	if *roomID == "" {
		err = send(c, network.MsgTypeCreateRoom, map[string]string{"name": *name + "'s room"})
	} else {
		err = send(c, network.MsgTypeJoinRoom, map[string]string{"roomId": *roomID})
	}
	if err != nil {
		log.Fatalf("Write error: %v", err)
	}

	log.Println("Commands: a/d/s/w/x move, start, ready, unready, list, leave, over. Enter after each.")

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
	}()

	heartbeat := time.NewTicker(20 * time.Second)
	defer heartbeat.Stop()

	// Write loop
	for {
		var err error
		select {
		case <-done:
			return
		case <-interrupt:
			log.Println("Interrupt received, closing connection.")
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Println("Write close error:", err)
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		case <-heartbeat.C:
			err = send(c, network.MsgTypeHeartbeat, nil)
		case text := <-lines:
			if action, ok := keyActions[text]; ok {
				err = send(c, network.MsgTypeGameAction, map[string]tetris.Action{"action": action})
				break
			}
			switch text {
			case "start":
				err = send(c, network.MsgTypeGameStart, nil)
			case "ready", "unready":
				err = send(c, network.MsgTypePlayerReady, map[string]bool{"isReady": text == "ready"})
			case "list":
				err = send(c, network.MsgTypeRoomList, nil)
			case "leave":
				err = send(c, network.MsgTypeLeaveRoom, nil)
			case "over":
				err = send(c, network.MsgTypeGameOver, nil)
			case "":
			default:
				log.Printf("unknown command %q", text)
			}
		}
		if err != nil {
			log.Println("Write error:", err)
			return
		}
	}
}
