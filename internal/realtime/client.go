// Package realtime wraps the voice platform's control socket. A Client is an
// authenticated connection created from an access token; it can dial one or
// more outbound calls, each represented by a CallSession whose lifecycle
// events are routed from the client's read loop.
//
// The wire protocol is netstring-framed JSON: commands carry a correlation
// token and are answered by a response frame; events arrive unsolicited and
// carry the call ID they belong to.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrDestroyed is returned by operations on a client that has been torn down.
// A destroyed client is never resurrected; create a new one.
var ErrDestroyed = errors.New("realtime client destroyed")

// Config describes the platform control socket.
type Config struct {
	CtrlAddr       string        `env:"REALTIME_CTRL_ADDR" envDefault:"localhost:4444"`
	CommandTimeout time.Duration `env:"REALTIME_COMMAND_TIMEOUT" envDefault:"5s"`
}

// Client is an authenticated connection to the realtime platform.
type Client struct {
	cfg    *Config
	conn   net.Conn
	enc    *NetstringEncoder
	dec    *NetstringDecoder
	logger *logrus.Entry

	writeMu sync.Mutex

	tokenCounter atomic.Uint64
	pendingCmds  map[string]chan ctrlResponse
	pendingMu    sync.Mutex

	sessions  map[string]*CallSession
	sessionMu sync.Mutex

	destroyed atomic.Bool
	closedCh  chan struct{}
}

// NewClient connects to the control socket and authenticates with the given
// access token. The returned client owns the connection until Destroy.
func NewClient(cfg *Config, accessToken string, logger *logrus.Logger) (*Client, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("access token is required")
	}

	conn, err := net.Dial("tcp", cfg.CtrlAddr)
	if err != nil {
		return nil, fmt.Errorf("connecting to realtime ctrl at %s: %w", cfg.CtrlAddr, err)
	}

	c := &Client{
		cfg:         cfg,
		conn:        conn,
		enc:         NewNetstringEncoder(conn),
		dec:         NewNetstringDecoder(conn),
		logger:      logger.WithField("component", "realtime"),
		pendingCmds: make(map[string]chan ctrlResponse),
		sessions:    make(map[string]*CallSession),
		closedCh:    make(chan struct{}),
	}

	go c.readLoop()

	resp, err := c.sendCommand("auth", accessToken)
	if err != nil {
		c.Destroy()
		return nil, fmt.Errorf("authenticating realtime client: %w", err)
	}
	if !resp.OK {
		c.Destroy()
		return nil, fmt.Errorf("realtime auth rejected: %s", resp.Data)
	}

	c.logger.WithField("addr", cfg.CtrlAddr).Debug("client connected")
	return c, nil
}

// Dial requests an outbound call to the given destination and returns its
// session. The destination must already be normalized.
func (c *Client) Dial(destination string) (*CallSession, error) {
	if c.destroyed.Load() {
		return nil, ErrDestroyed
	}

	callID := uuid.NewString()
	session := newCallSession(c, callID, destination)

	c.sessionMu.Lock()
	c.sessions[callID] = session
	c.sessionMu.Unlock()

	resp, err := c.sendCommand("dial", callID+" "+destination)
	if err != nil {
		c.removeSession(callID)
		return nil, fmt.Errorf("dialing %s: %w", destination, err)
	}
	if !resp.OK {
		c.removeSession(callID)
		return nil, fmt.Errorf("dial rejected: %s", resp.Data)
	}

	c.logger.WithFields(logrus.Fields{
		"call_id":     callID,
		"destination": destination,
	}).Info("dial accepted")
	return session, nil
}

// Destroy closes the connection and fails any in-flight commands. The read
// loop exits on the closed connection and delivers EventDestroyed to any
// session still registered.
func (c *Client) Destroy() {
	if c.destroyed.Swap(true) {
		return
	}
	close(c.closedCh)
	if err := c.conn.Close(); err != nil {
		c.logger.WithError(err).Debug("closing ctrl connection")
	}
	c.logger.Debug("client destroyed")
}

// Destroyed reports whether Destroy has been called.
func (c *Client) Destroyed() bool {
	return c.destroyed.Load()
}

func (c *Client) removeSession(callID string) {
	c.sessionMu.Lock()
	delete(c.sessions, callID)
	c.sessionMu.Unlock()
}

func (c *Client) readLoop() {
	defer c.teardown()
	for {
		data, err := c.dec.Decode()
		if err != nil {
			if !c.destroyed.Load() {
				c.logger.WithError(err).Warn("ctrl read failed")
			}
			return
		}

		var probe map[string]json.RawMessage
		if err := json.Unmarshal(data, &probe); err != nil {
			c.logger.WithError(err).Warn("invalid ctrl frame")
			continue
		}

		if _, isEvent := probe["event"]; isEvent {
			var event ctrlEvent
			if err := json.Unmarshal(data, &event); err != nil {
				c.logger.WithError(err).Warn("invalid ctrl event")
				continue
			}
			c.dispatchEvent(event)
			continue
		}

		if _, isResponse := probe["response"]; isResponse {
			var resp ctrlResponse
			if err := json.Unmarshal(data, &resp); err != nil {
				c.logger.WithError(err).Warn("invalid ctrl response")
				continue
			}
			c.pendingMu.Lock()
			if ch, ok := c.pendingCmds[resp.Token]; ok {
				ch <- resp
				delete(c.pendingCmds, resp.Token)
			}
			c.pendingMu.Unlock()
		}
	}
}

func (c *Client) dispatchEvent(event ctrlEvent) {
	c.sessionMu.Lock()
	session := c.sessions[event.CallID]
	c.sessionMu.Unlock()

	if session == nil {
		// Unknown or already-released call. Incoming calls are out of scope.
		c.logger.WithFields(logrus.Fields{
			"call_id": event.CallID,
			"type":    event.Type,
		}).Debug("event for unknown call")
		return
	}

	c.logger.WithFields(logrus.Fields{
		"call_id": event.CallID,
		"type":    event.Type,
	}).Debug("event")
	session.deliver(event.Type)
}

// sendCommand sends one command and waits for its correlated response.
func (c *Client) sendCommand(cmd, params string) (*ctrlResponse, error) {
	if c.destroyed.Load() {
		return nil, ErrDestroyed
	}

	token := fmt.Sprintf("tok%d", c.tokenCounter.Add(1))
	data, err := json.Marshal(ctrlCommand{Command: cmd, Params: params, Token: token})
	if err != nil {
		return nil, fmt.Errorf("marshaling command: %w", err)
	}

	respChan := make(chan ctrlResponse, 1)
	c.pendingMu.Lock()
	c.pendingCmds[token] = respChan
	c.pendingMu.Unlock()

	c.writeMu.Lock()
	err = c.enc.Encode(data)
	c.writeMu.Unlock()
	if err != nil {
		c.dropPending(token)
		return nil, fmt.Errorf("sending command %s: %w", cmd, err)
	}

	select {
	case resp := <-respChan:
		return &resp, nil
	case <-c.closedCh:
		c.dropPending(token)
		return nil, ErrDestroyed
	case <-time.After(c.cfg.CommandTimeout):
		c.dropPending(token)
		return nil, fmt.Errorf("command timeout: %s", cmd)
	}
}

func (c *Client) dropPending(token string) {
	c.pendingMu.Lock()
	delete(c.pendingCmds, token)
	c.pendingMu.Unlock()
}

// teardown runs when the read loop exits, meaning the transport is gone.
// Destroying the client fails every in-flight command immediately, and any
// session still registered gets EventDestroyed so its owner observes the call
// ending instead of waiting on a dead socket.
func (c *Client) teardown() {
	c.Destroy()

	c.sessionMu.Lock()
	sessions := make([]*CallSession, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.sessionMu.Unlock()

	for _, s := range sessions {
		s.deliver(EventDestroyed)
	}
}
