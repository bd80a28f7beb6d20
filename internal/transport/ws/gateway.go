// Package ws is the realtime channel: it upgrades HTTP requests to
// websocket connections, admits them through the authentication verifier,
// and dispatches tagged events to the owning core component.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"msghub/internal/auth"
	"msghub/internal/call"
	"msghub/internal/domain"
	"msghub/internal/dto"
	"msghub/internal/observability/metrics"
	"msghub/internal/presence"
	"msghub/internal/registry"
	"msghub/internal/router"
	"msghub/internal/transfer"

	"github.com/gorilla/websocket"
)

const (
	authWait   = 10 * time.Second
	opTimeout  = 10 * time.Second
	maxMsgSize = 64 << 10
)

type Config struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	SendQueueSize     int
}

type Gateway struct {
	reg       *registry.Registry
	presence  *presence.Broadcaster
	router    *router.Router
	calls     *call.Machine
	transfers *transfer.Negotiator
	tokens    *auth.Tokens
	log       *slog.Logger
	cfg       Config
	upgrader  websocket.Upgrader
}

func NewGateway(
	reg *registry.Registry,
	pr *presence.Broadcaster,
	rt *router.Router,
	calls *call.Machine,
	transfers *transfer.Negotiator,
	tokens *auth.Tokens,
	log *slog.Logger,
	cfg Config,
) *Gateway {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 25 * time.Second
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 60 * time.Second
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = 64
	}
	return &Gateway{
		reg:       reg,
		presence:  pr,
		router:    rt,
		calls:     calls,
		transfers: transfers,
		tokens:    tokens,
		log:       log,
		cfg:       cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser origins are screened by the CORS layer in front of us.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleWS upgrades the request and runs the connection until it drops.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("ws upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c, err := g.admit(conn)
	if err != nil {
		_ = conn.WriteJSON(dto.MustEvent(dto.EventError, dto.Error{
			Op:      dto.EventAuthenticate,
			Message: domain.ErrUnauthenticated.Error(),
		}))
		_ = conn.Close()
		return
	}

	go g.writePump(c)

	first := g.reg.Register(c)
	metrics.ActiveConnections.Inc()
	g.log.Info("connection registered", "account_id", c.accountID, "connection_id", c.id)

	_ = c.Send(dto.MustEvent(dto.EventAuthenticated, dto.Authenticated{
		AccountID:    c.accountID,
		ConnectionID: c.id,
	}))
	if first {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		g.presence.AccountOnline(ctx, c.accountID)
		cancel()
	}

	g.readPump(c)
	g.disconnect(c)
}

// admit reads the first frame, which has to be an authenticate event, and
// converts the presented credential into an account id.
func (g *Gateway) admit(conn *websocket.Conn) (*client, error) {
	_ = conn.SetReadDeadline(time.Now().Add(authWait))
	conn.SetReadLimit(maxMsgSize)

	var evt dto.Event
	if err := conn.ReadJSON(&evt); err != nil {
		return nil, err
	}
	if evt.Type != dto.EventAuthenticate {
		return nil, domain.ErrUnauthenticated
	}
	var payload dto.Authenticate
	if err := json.Unmarshal(evt.Data, &payload); err != nil {
		return nil, domain.ErrUnauthenticated
	}
	accountID, err := g.tokens.Verify(payload.Token)
	if err != nil {
		return nil, domain.ErrUnauthenticated
	}
	return newClient(accountID, conn, g.cfg.SendQueueSize), nil
}

// readPump processes the connection's inbound events in arrival order.
func (g *Gateway) readPump(c *client) {
	c.conn.SetReadLimit(maxMsgSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(g.cfg.HeartbeatTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(g.cfg.HeartbeatTimeout))
	})

	for {
		var evt dto.Event
		if err := c.conn.ReadJSON(&evt); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.log.Debug("ws read failed", "connection_id", c.id, "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(g.cfg.HeartbeatTimeout))
		g.dispatch(c, evt)
	}
}

func (g *Gateway) writePump(c *client) {
	ticker := time.NewTicker(g.cfg.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case evt := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// disconnect tears the connection down. When the account's last connection
// goes away, in-flight calls and negotiations it participates in are
// cancelled and an offline transition is broadcast.
func (g *Gateway) disconnect(c *client) {
	c.close()
	_, last := g.reg.Unregister(c.id)
	metrics.ActiveConnections.Dec()
	g.log.Info("connection unregistered",
		"account_id", c.accountID,
		"connection_id", c.id,
		"last", last,
		"connected_for", time.Since(c.establishedAt).Round(time.Second),
	)

	if last {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		g.calls.DropAccount(ctx, c.accountID)
		g.transfers.DropAccount(ctx, c.accountID)
		g.presence.AccountOffline(ctx, c.accountID)
	}
}

// dispatch routes one inbound event to its owning component and reports
// failures back on the same connection.
func (g *Gateway) dispatch(c *client, evt dto.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	err := g.handle(ctx, c, evt)
	result := "ok"
	if err != nil {
		result = "error"
		_ = c.Send(dto.MustEvent(dto.EventError, dto.Error{Op: evt.Type, Message: err.Error()}))
		g.log.Debug("event failed", "type", evt.Type, "account_id", c.accountID, "error", err)
	}
	metrics.EventsTotal.WithLabelValues(metricEventType(evt.Type), result).Inc()
}

// metricEventType keeps the metric label set bounded: anything a client
// makes up collapses into a single "unknown" series.
func metricEventType(typ string) string {
	switch typ {
	case dto.EventAuthenticate, dto.EventSendMessage, dto.EventMarkRead,
		dto.EventCallInitiate, dto.EventCallRespond, dto.EventCallEnd, dto.EventCallSignal,
		dto.EventFileProposal, dto.EventFileSignal, dto.EventFileReport, dto.EventFileCancel,
		dto.EventOnlineSnapshot:
		return typ
	}
	return "unknown"
}

func (g *Gateway) handle(ctx context.Context, c *client, evt dto.Event) error {
	switch evt.Type {
	case dto.EventAuthenticate:
		// Already authenticated at admission; a repeat is harmless.
		return nil

	case dto.EventSendMessage:
		var p dto.SendMessage
		if err := json.Unmarshal(evt.Data, &p); err != nil {
			return domain.ErrInvalidRequest
		}
		_, err := g.router.Send(ctx, c.accountID, p.ReceiverID, p.Content, p.Kind, nil)
		return err

	case dto.EventMarkRead:
		var p dto.MarkRead
		if err := json.Unmarshal(evt.Data, &p); err != nil {
			return domain.ErrInvalidRequest
		}
		return g.router.MarkRead(ctx, p.MessageID, c.accountID)

	case dto.EventCallInitiate:
		var p dto.CallInitiate
		if err := json.Unmarshal(evt.Data, &p); err != nil {
			return domain.ErrInvalidRequest
		}
		_, err := g.calls.Initiate(ctx, c.accountID, p.ReceiverID, p.Type)
		return err

	case dto.EventCallRespond:
		var p dto.CallRespond
		if err := json.Unmarshal(evt.Data, &p); err != nil {
			return domain.ErrInvalidRequest
		}
		_, err := g.calls.Respond(ctx, p.CallID, c.accountID, p.Accept)
		return err

	case dto.EventCallEnd:
		var p dto.CallEnd
		if err := json.Unmarshal(evt.Data, &p); err != nil {
			return domain.ErrInvalidRequest
		}
		_, err := g.calls.End(ctx, p.CallID, c.accountID)
		return err

	case dto.EventCallSignal:
		var p dto.CallSignal
		if err := json.Unmarshal(evt.Data, &p); err != nil {
			return domain.ErrInvalidRequest
		}
		return g.calls.Relay(ctx, p.CallID, c.accountID, p.Payload)

	case dto.EventFileProposal:
		var p dto.FileProposal
		if err := json.Unmarshal(evt.Data, &p); err != nil {
			return domain.ErrInvalidRequest
		}
		_, err := g.transfers.Propose(ctx, c.accountID, p.ReceiverID, p.Metadata)
		return err

	case dto.EventFileSignal:
		var p dto.FileSignal
		if err := json.Unmarshal(evt.Data, &p); err != nil {
			return domain.ErrInvalidRequest
		}
		return g.transfers.Signal(ctx, p.TransferID, c.accountID, p.Payload)

	case dto.EventFileReport:
		var p dto.FileReport
		if err := json.Unmarshal(evt.Data, &p); err != nil {
			return domain.ErrInvalidRequest
		}
		_, err := g.transfers.Report(ctx, p.TransferID, c.accountID, p.State)
		return err

	case dto.EventFileCancel:
		var p dto.FileCancel
		if err := json.Unmarshal(evt.Data, &p); err != nil {
			return domain.ErrInvalidRequest
		}
		return g.transfers.Cancel(ctx, p.TransferID, c.accountID)

	case dto.EventOnlineSnapshot:
		online, err := g.presence.OnlineSnapshot(ctx, c.accountID)
		if err != nil {
			return err
		}
		return c.Send(dto.MustEvent(dto.EventOnlineAccounts, dto.OnlineAccounts{Accounts: online}))

	default:
		return domain.ErrInvalidRequest
	}
}
