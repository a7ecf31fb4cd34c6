package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/e-zhydzetski/go-wsbase/pkg/wsbase"
)

const nickKey = "nick"

// chat is a single room: every message is relayed to everybody as "nick: text".
type chat struct {
	log *slog.Logger
}

func nick(s *wsbase.Server, id wsbase.ConnID) string {
	if n := s.GetValue(id, nickKey); n != "" {
		return n
	}
	return "guest" + id.String()
}

// notify sends text to everybody except id.
func notify(s *wsbase.Server, except wsbase.ConnID, text string) {
	for _, id := range s.Conns() {
		if id != except {
			_ = s.SendString(id, text)
		}
	}
}

func (c *chat) OnConnect(s *wsbase.Server, id wsbase.ConnID) error {
	c.log.Info("joined", "conn", id, "online", s.NumberOfConnections())
	notify(s, id, fmt.Sprintf("* %s joined", nick(s, id)))
	return s.SendString(id, fmt.Sprintf("* welcome %s, %d online, /nick <name> to rename", nick(s, id), s.NumberOfConnections()))
}

func (c *chat) OnMessage(s *wsbase.Server, id wsbase.ConnID, data []byte) error {
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil
	}
	if name, ok := strings.CutPrefix(text, "/nick "); ok {
		name = strings.TrimSpace(name)
		if name == "" || strings.ContainsAny(name, " :") {
			return s.SendString(id, "* invalid nick")
		}
		old := nick(s, id)
		if err := s.SetValue(id, nickKey, name); err != nil {
			return err
		}
		s.BroadcastString(fmt.Sprintf("* %s is now %s", old, name))
		return nil
	}
	s.BroadcastString(nick(s, id) + ": " + text)
	return nil
}

func (c *chat) OnDisconnect(s *wsbase.Server, id wsbase.ConnID) error {
	c.log.Info("left", "conn", id, "nick", nick(s, id))
	notify(s, id, fmt.Sprintf("* %s left", nick(s, id)))
	return nil
}

func (c *chat) OnError(_ *wsbase.Server, id wsbase.ConnID, msg string) error {
	c.log.Warn("connection error", "conn", id, "error", msg)
	return nil
}
